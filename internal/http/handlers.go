// Package httpapi exposes the engine's operational and game-management
// endpoints: liveness, readiness, Prometheus text metrics, and the small
// REST surface used to create and discover joinable games.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/protocol"
	"paddlearena/engine/internal/session"
	"paddlearena/engine/internal/simulation"
)

// RateLimiter gates how frequently game creation may be invoked.
type RateLimiter interface {
	Allow() bool
}

// Options configures the HandlerSet.
type Options struct {
	Logger        *logging.Logger
	Registry      *session.Registry
	StartupError  func() error
	TickStats     func() simulation.TickStats
	CreateLimiter RateLimiter
	TimeSource    func() time.Time
	StartedAt     time.Time
}

// HandlerSet bundles the engine's HTTP handlers.
type HandlerSet struct {
	logger        *logging.Logger
	registry      *session.Registry
	startupError  func() error
	tickStats     func() simulation.TickStats
	createLimiter RateLimiter
	now           func() time.Time
	startedAt     time.Time
}

// NewHandlerSet constructs a HandlerSet using the provided options.
func NewHandlerSet(opts Options) *HandlerSet {
	logger := opts.Logger
	if logger == nil {
		logger = logging.L()
	}
	now := opts.TimeSource
	if now == nil {
		now = time.Now
	}
	startedAt := opts.StartedAt
	if startedAt.IsZero() {
		startedAt = now()
	}
	return &HandlerSet{
		logger:        logger,
		registry:      opts.Registry,
		startupError:  opts.StartupError,
		tickStats:     opts.TickStats,
		createLimiter: opts.CreateLimiter,
		now:           now,
		startedAt:     startedAt,
	}
}

// Register attaches all handlers to the provided mux.
func (h *HandlerSet) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/livez", h.LivenessHandler())
	mux.HandleFunc("/readyz", h.ReadinessHandler())
	mux.HandleFunc("/metrics", h.MetricsHandler())
	mux.HandleFunc("/games", h.GamesHandler())
}

// LivenessHandler reports that the HTTP server is reachable.
func (h *HandlerSet) LivenessHandler() http.HandlerFunc {
	type response struct {
		Status    string `json:"status"`
		Timestamp string `json:"timestamp"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, response{
			Status:    "alive",
			Timestamp: h.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// ReadinessHandler reports engine readiness, including session counts and
// startup status.
func (h *HandlerSet) ReadinessHandler() http.HandlerFunc {
	type response struct {
		Status           string  `json:"status"`
		Message          string  `json:"message,omitempty"`
		UptimeSeconds    float64 `json:"uptime_seconds"`
		WaitingSessions  int     `json:"waiting_sessions"`
		ActiveSessions   int     `json:"active_sessions"`
		FinishedSessions int     `json:"finished_sessions"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		resp := response{Status: "ok", UptimeSeconds: h.now().Sub(h.startedAt).Seconds()}
		if h.registry != nil {
			counts := h.registry.Count()
			resp.WaitingSessions = counts[session.StatusWaiting]
			resp.ActiveSessions = counts[session.StatusActive]
			resp.FinishedSessions = counts[session.StatusFinished]
		}
		if h.startupError != nil {
			if err := h.startupError(); err != nil {
				status = http.StatusServiceUnavailable
				resp.Status = "error"
				resp.Message = err.Error()
			}
		}
		writeJSON(w, status, resp)
	}
}

// MetricsHandler emits Prometheus compatible text metrics.
func (h *HandlerSet) MetricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")

		uptime := h.now().Sub(h.startedAt).Seconds()
		fmt.Fprintf(w, "# HELP engine_uptime_seconds Engine uptime in seconds.\n")
		fmt.Fprintf(w, "# TYPE engine_uptime_seconds gauge\n")
		fmt.Fprintf(w, "engine_uptime_seconds %.0f\n", uptime)

		if h.registry != nil {
			counts := h.registry.Count()
			fmt.Fprintf(w, "# HELP engine_sessions Current sessions by lifecycle status.\n")
			fmt.Fprintf(w, "# TYPE engine_sessions gauge\n")
			for _, status := range []session.Status{session.StatusWaiting, session.StatusActive, session.StatusFinished} {
				fmt.Fprintf(w, "engine_sessions{status=%q} %d\n", string(status), counts[status])
			}

			sent, failed := h.registry.BroadcastTotals()
			fmt.Fprintf(w, "# HELP engine_broadcasts_total Total event payloads delivered to clients.\n")
			fmt.Fprintf(w, "# TYPE engine_broadcasts_total counter\n")
			fmt.Fprintf(w, "engine_broadcasts_total %d\n", sent)
			fmt.Fprintf(w, "# HELP engine_broadcast_failures_total Total payload deliveries that failed and evicted a transport.\n")
			fmt.Fprintf(w, "# TYPE engine_broadcast_failures_total counter\n")
			fmt.Fprintf(w, "engine_broadcast_failures_total %d\n", failed)
		}

		if h.tickStats != nil {
			stats := h.tickStats()
			fmt.Fprintf(w, "# HELP engine_ticks_total Simulation ticks observed since start.\n")
			fmt.Fprintf(w, "# TYPE engine_ticks_total counter\n")
			fmt.Fprintf(w, "engine_ticks_total %d\n", stats.Samples)
			fmt.Fprintf(w, "# HELP engine_tick_duration_seconds_avg Average tick processing time in seconds.\n")
			fmt.Fprintf(w, "# TYPE engine_tick_duration_seconds_avg gauge\n")
			fmt.Fprintf(w, "engine_tick_duration_seconds_avg %.6f\n", stats.Average.Seconds())
			fmt.Fprintf(w, "# HELP engine_tick_duration_seconds_max Longest observed tick processing time in seconds.\n")
			fmt.Fprintf(w, "# TYPE engine_tick_duration_seconds_max gauge\n")
			fmt.Fprintf(w, "engine_tick_duration_seconds_max %.6f\n", stats.Max.Seconds())
		}
	}
}

// GamesHandler creates a new session on POST and lists joinable ones on GET.
func (h *HandlerSet) GamesHandler() http.HandlerFunc {
	type createRequest struct {
		PlayerID    string `json:"playerId"`
		DisplayName string `json:"displayName"`
	}
	type createResponse struct {
		GameID string `json:"gameId"`
		Status string `json:"status"`
	}
	type gameSummary struct {
		GameID    string                `json:"gameId"`
		Status    string                `json:"status"`
		Players   []protocol.PlayerInfo `json:"players"`
		CreatedAt string                `json:"createdAt"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if h.registry == nil {
			http.Error(w, "game registry unavailable", http.StatusServiceUnavailable)
			return
		}
		switch r.Method {
		case http.MethodPost:
			reqLogger := h.logger.With(
				logging.String("handler", "create_game"),
				logging.String("remote_addr", r.RemoteAddr),
			)
			if h.createLimiter != nil && !h.createLimiter.Allow() {
				reqLogger.Warn("game creation denied: rate limit exceeded")
				http.Error(w, "too many requests", http.StatusTooManyRequests)
				return
			}

			var req createRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, "invalid request body", http.StatusBadRequest)
				return
			}
			req.PlayerID = strings.TrimSpace(req.PlayerID)
			if req.PlayerID == "" {
				http.Error(w, "playerId is required", http.StatusBadRequest)
				return
			}
			if req.DisplayName == "" {
				req.DisplayName = req.PlayerID
			}

			sess, err := h.registry.CreateGame(r.Context(), session.Identity{ID: req.PlayerID, DisplayName: req.DisplayName})
			if err != nil {
				reqLogger.Error("game creation failed", logging.Error(err))
				http.Error(w, "failed to create game", http.StatusInternalServerError)
				return
			}
			reqLogger.Info("game created", logging.String("session", sess.ID()))
			writeJSON(w, http.StatusCreated, createResponse{GameID: sess.ID(), Status: string(sess.Status())})
		case http.MethodGet:
			waiting := h.registry.ListWaiting()
			summaries := make([]gameSummary, 0, len(waiting))
			for _, sess := range waiting {
				summaries = append(summaries, gameSummary{
					GameID:    sess.ID(),
					Status:    string(sess.Status()),
					Players:   sess.Roster(),
					CreatedAt: sess.CreatedAt().UTC().Format(time.RFC3339Nano),
				})
			}
			writeJSON(w, http.StatusOK, summaries)
		default:
			w.Header().Set("Allow", "GET, POST")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	_ = json.NewEncoder(w).Encode(payload)
}
