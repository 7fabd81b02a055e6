package main

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"paddlearena/engine/internal/auth"
	"paddlearena/engine/internal/session"
)

// websocketAuthenticator resolves a player identity from an upgrade request.
type websocketAuthenticator interface {
	Authenticate(r *http.Request) (session.Identity, error)
}

// queryParamAuthenticator trusts the player_id and display_name request
// parameters. Identity verification is the fronting deployment's concern;
// the engine only requires that an id is present.
type queryParamAuthenticator struct{}

func (queryParamAuthenticator) Authenticate(r *http.Request) (session.Identity, error) {
	playerID := strings.TrimSpace(r.URL.Query().Get("player_id"))
	if playerID == "" {
		return session.Identity{}, errors.New("player_id is required")
	}
	displayName := strings.TrimSpace(r.URL.Query().Get("display_name"))
	if displayName == "" {
		displayName = playerID
	}
	return session.Identity{ID: playerID, DisplayName: displayName}, nil
}

// hmacWebsocketAuthenticator resolves identity from a signed token instead of
// trusting request parameters.
type hmacWebsocketAuthenticator struct {
	verifier *auth.HMACTokenVerifier
}

func newHMACWebsocketAuthenticator(secret string) (websocketAuthenticator, error) {
	verifier, err := auth.NewHMACTokenVerifier(secret, 2*time.Second)
	if err != nil {
		return nil, err
	}
	return &hmacWebsocketAuthenticator{verifier: verifier}, nil
}

// Authenticate validates the incoming token and returns the player identity
// embedded in its claims.
func (a *hmacWebsocketAuthenticator) Authenticate(r *http.Request) (session.Identity, error) {
	if a == nil || a.verifier == nil {
		return session.Identity{}, errors.New("verifier not configured")
	}
	token := strings.TrimSpace(r.URL.Query().Get("auth_token"))
	if token == "" {
		token = strings.TrimSpace(r.Header.Get("X-Auth-Token"))
	}
	if token == "" {
		return session.Identity{}, errors.New("missing auth token")
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return session.Identity{}, err
	}
	return session.Identity{ID: claims.PlayerID, DisplayName: claims.DisplayName}, nil
}
