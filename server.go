package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"paddlearena/engine/internal/config"
	"paddlearena/engine/internal/logging"
	"paddlearena/engine/internal/protocol"
	"paddlearena/engine/internal/session"
)

const sendBufferSize = 256

// Server owns the websocket endpoint: it authenticates upgrade requests,
// attaches connections to sessions, and runs the read/write pumps.
type Server struct {
	logger        *logging.Logger
	registry      *session.Registry
	authenticator websocketAuthenticator
	upgrader      websocket.Upgrader
	pingInterval  time.Duration
	maxPayload    int64
}

// NewServer wires the websocket endpoint against the session registry.
func NewServer(cfg *config.Config, registry *session.Registry, authenticator websocketAuthenticator, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.L()
	}
	if authenticator == nil {
		authenticator = queryParamAuthenticator{}
	}
	return &Server{
		logger:        logger,
		registry:      registry,
		authenticator: authenticator,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
		pingInterval: cfg.PingInterval,
		maxPayload:   cfg.MaxPayloadBytes,
	}
}

// originChecker admits any origin when no allow-list is configured, and
// otherwise requires an exact case-insensitive match.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	normalized := make([]string, 0, len(allowed))
	for _, origin := range allowed {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(origin)))
	}
	return func(r *http.Request) bool {
		origin := strings.ToLower(strings.TrimSpace(r.Header.Get("Origin")))
		if origin == "" {
			//1.- Non-browser clients send no Origin header and are allowed.
			return true
		}
		for _, candidate := range normalized {
			if origin == candidate {
				return true
			}
		}
		return false
	}
}

// wsClient adapts a websocket connection to the session Transport. Sends are
// queued on a buffered channel so the session lock is never held across a
// network write; a full buffer fails the send and lets the broadcaster evict.
type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{conn: conn, send: make(chan []byte, sendBufferSize)}
}

// Send queues a payload for the write pump without blocking.
func (c *wsClient) Send(payload []byte) error {
	select {
	case c.send <- payload:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// ServeWS upgrades the request and attaches the connection to its session.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request) {
	identity, err := s.authenticator.Authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	gameID := strings.TrimSpace(r.URL.Query().Get("game_id"))
	if gameID == "" {
		http.Error(w, "game_id is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Error(err))
		return
	}
	if s.maxPayload > 0 {
		conn.SetReadLimit(s.maxPayload)
	}

	client := newWSClient(conn)
	go s.writePump(client)

	sess, seat, err := s.registry.Join(r.Context(), gameID, identity, client)
	if err != nil {
		//1.- Tell the client why admission failed before dropping the socket.
		s.reject(client, err)
		s.logger.Info("join rejected",
			logging.String("session", gameID),
			logging.String("player", identity.ID),
			logging.Error(err))
		return
	}

	s.logger.Debug("websocket attached",
		logging.String("session", sess.ID()),
		logging.String("player", identity.ID),
		logging.Int("seat", int(seat)))

	go s.readPump(client, sess, identity)
}

// readPump applies inbound messages until the socket drops, then reports the
// disconnect to the session.
func (s *Server) readPump(client *wsClient, sess *session.Session, identity session.Identity) {
	defer func() {
		sess.HandleDisconnect(context.Background(), identity)
		client.close()
		_ = client.conn.Close()
	}()
	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			return
		}
		sess.HandleMessage(context.Background(), identity, payload)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (s *Server) writePump(client *wsClient) {
	interval := s.pingInterval
	if interval <= 0 {
		interval = config.DefaultPingInterval
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := client.conn.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}

func (s *Server) reject(client *wsClient, cause error) {
	payload, err := json.Marshal(protocol.NewError(cause.Error()))
	if err == nil {
		_ = client.Send(payload)
	}
	//1.- Give the write pump a moment to flush the error before closing.
	time.AfterFunc(100*time.Millisecond, client.close)
}
