// Package protocol defines the JSON envelopes exchanged with game clients.
package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"paddlearena/engine/internal/pong"
)

// Kind enumerates the inbound message types accepted from clients.
type Kind string

const (
	KindPaddleMove Kind = "paddle_move"
	KindPauseGame  Kind = "pause_game"
	KindResumeGame Kind = "resume_game"
	// KindUnknown is assigned to any message the engine does not recognise.
	KindUnknown Kind = ""
)

// ErrMalformed signals that an inbound payload could not be decoded at all.
var ErrMalformed = errors.New("malformed client message")

// Inbound is the decoded form of a client message. Unrecognised kinds decode
// to KindUnknown rather than failing, so dispatch can ignore them.
type Inbound struct {
	Kind      Kind
	Direction pong.Direction
}

// DecodeInbound parses a raw client payload into the closed message union.
func DecodeInbound(data []byte) (Inbound, error) {
	var raw struct {
		Type      string `json:"type"`
		Direction string `json:"direction"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Inbound{}, ErrMalformed
	}

	switch Kind(raw.Type) {
	case KindPaddleMove:
		//1.- Only the two legal directions survive decoding; anything else is dropped.
		direction := pong.Direction(raw.Direction)
		if direction != pong.DirectionUp && direction != pong.DirectionDown {
			return Inbound{Kind: KindUnknown}, nil
		}
		return Inbound{Kind: KindPaddleMove, Direction: direction}, nil
	case KindPauseGame:
		return Inbound{Kind: KindPauseGame}, nil
	case KindResumeGame:
		return Inbound{Kind: KindResumeGame}, nil
	default:
		return Inbound{Kind: KindUnknown}, nil
	}
}

// PlayerInfo names one seat for roster events.
type PlayerInfo struct {
	PlayerNumber pong.Seat `json:"playerNumber"`
	DisplayName  string    `json:"displayName"`
}

// Connected acknowledges a successful attach to a session.
type Connected struct {
	Type             string    `json:"type"`
	PlayerNumber     pong.Seat `json:"playerNumber"`
	GameID           string    `json:"gameId"`
	WaitingForPlayer bool      `json:"waitingForPlayer"`
}

// NewConnected builds the attach acknowledgment for one player.
func NewConnected(seat pong.Seat, gameID string, waiting bool) Connected {
	return Connected{Type: "connected", PlayerNumber: seat, GameID: gameID, WaitingForPlayer: waiting}
}

// GameStarted announces that both seats are filled and the loop is running.
type GameStarted struct {
	Type    string       `json:"type"`
	Players []PlayerInfo `json:"players"`
}

// NewGameStarted builds the start announcement with the current roster.
func NewGameStarted(players []PlayerInfo) GameStarted {
	return GameStarted{Type: "game_started", Players: players}
}

// GameState carries a full match snapshot.
type GameState struct {
	Type  string     `json:"type"`
	State pong.State `json:"state"`
}

// NewGameState wraps a snapshot for broadcast.
func NewGameState(state pong.State) GameState {
	return GameState{Type: "game_state", State: state}
}

// GoalScored reports a point along with the post-goal snapshot.
type GoalScored struct {
	Type      string     `json:"type"`
	Scorer    pong.Seat  `json:"scorer"`
	GameState pong.State `json:"gameState"`
}

// NewGoalScored builds the goal event.
func NewGoalScored(scorer pong.Seat, state pong.State) GoalScored {
	return GoalScored{Type: "goal_scored", Scorer: scorer, GameState: state}
}

// GamePaused names the player who paused the match.
type GamePaused struct {
	Type     string `json:"type"`
	PausedBy string `json:"pausedBy"`
}

// NewGamePaused builds the pause event.
func NewGamePaused(displayName string) GamePaused {
	return GamePaused{Type: "game_paused", PausedBy: displayName}
}

// GameResumed names the player who resumed the match.
type GameResumed struct {
	Type      string `json:"type"`
	ResumedBy string `json:"resumedBy"`
}

// NewGameResumed builds the resume event.
func NewGameResumed(displayName string) GameResumed {
	return GameResumed{Type: "game_resumed", ResumedBy: displayName}
}

// PlayerDisconnected reports a seat losing its live connection.
type PlayerDisconnected struct {
	Type         string    `json:"type"`
	PlayerNumber pong.Seat `json:"playerNumber"`
	DisplayName  string    `json:"displayName"`
}

// NewPlayerDisconnected builds the disconnect event.
func NewPlayerDisconnected(seat pong.Seat, displayName string) PlayerDisconnected {
	return PlayerDisconnected{Type: "player_disconnected", PlayerNumber: seat, DisplayName: displayName}
}

// ErrorMessage tells one client why its request was refused.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error envelope for a single client.
func NewError(message string) ErrorMessage {
	return ErrorMessage{Type: "error", Message: message}
}

// GameEnded carries the terminal result of a match.
type GameEnded struct {
	Type       string     `json:"type"`
	Winner     pong.Seat  `json:"winner"`
	FinalScore pong.Score `json:"finalScore"`
	Duration   int64      `json:"duration"`
}

// NewGameEnded builds the end-of-match event; duration is whole seconds.
func NewGameEnded(winner pong.Seat, score pong.Score, duration time.Duration) GameEnded {
	return GameEnded{Type: "game_ended", Winner: winner, FinalScore: score, Duration: int64(duration.Seconds())}
}
