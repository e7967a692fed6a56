// Package auth implements the Auth Gate (spec.md §4.2): front-door
// middleware that resolves an API key to a tenant and binds a
// client-asserted player identity, and a separate gate for the
// internal admin plane.
package auth

import (
	"context"
	"net/http"
	"strings"

	"gamerelay/internal/apierr"
	"gamerelay/internal/keyregistry"
	"gamerelay/internal/kv"
)

type contextKey int

const identityContextKey contextKey = iota

// Identity is the tenant/player pair bound into the request context
// by Gate, available to every downstream handler.
type Identity struct {
	GameID    string
	ProjectID string
	PlayerID  string
	APIKey    string
}

// FromContext extracts the Identity bound by Gate. Downstream
// handlers call this instead of re-parsing headers.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey).(Identity)
	return id, ok
}

// Gate resolves api keys against the Key Registry. Stateless between
// requests; every call does one registry lookup (spec.md §4.2: "no
// caching... every request performs one registry lookup").
type Gate struct {
	registry *keyregistry.Registry
}

// NewGate constructs a Gate backed by registry.
func NewGate(registry *keyregistry.Registry) *Gate {
	return &Gate{registry: registry}
}

// Middleware wraps next with the public-surface Auth Gate described in
// spec.md §4.2, following the teacher's handler-wrapping convention
// (a function taking and returning http.HandlerFunc).
func (g *Gate) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		playerID := r.Header.Get("X-Player-ID")
		if playerID == "" {
			playerID = r.URL.Query().Get("playerId")
		}
		if playerID == "" {
			apierr.WriteJSON(w, nil, apierr.ErrPlayerIDRequired)
			return
		}

		apiKey := bearerOrQuery(r, "apiKey")
		if apiKey == "" {
			apierr.WriteJSON(w, nil, apierr.ErrAuthRequired)
			return
		}
		if !strings.HasPrefix(apiKey, "wt_") {
			apierr.WriteJSON(w, nil, apierr.ErrInvalidKeyFormat)
			return
		}

		record, err := g.registry.Get(r.Context(), apiKey)
		if err != nil {
			if err == kv.ErrNotFound {
				apierr.WriteJSON(w, nil, apierr.ErrInvalidKey)
				return
			}
			apierr.WriteJSON(w, nil, err)
			return
		}

		identity := Identity{
			GameID:    record.GameID,
			ProjectID: record.ProjectID,
			PlayerID:  playerID,
			APIKey:    apiKey,
		}
		ctx := context.WithValue(r.Context(), identityContextKey, identity)
		next(w, r.WithContext(ctx))
	}
}

// bearerOrQuery extracts apiKey from an Authorization: Bearer header
// first, falling back to the named query parameter — the fallback
// exists because browser WebSocket upgrades cannot set custom headers.
func bearerOrQuery(r *http.Request, queryParam string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if after, ok := strings.CutPrefix(header, "Bearer "); ok {
			return after
		}
	}
	return r.URL.Query().Get(queryParam)
}

// InternalGate guards the Key Registry admin operations with a
// deployment-time shared secret. It sets no user context.
type InternalGate struct {
	secret string
}

// NewInternalGate constructs an InternalGate checking requests against
// secret.
func NewInternalGate(secret string) *InternalGate {
	return &InternalGate{secret: secret}
}

// Middleware wraps next, requiring Authorization: Bearer <secret>.
func (g *InternalGate) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		provided, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || provided == "" || provided != g.secret {
			apierr.WriteJSON(w, nil, apierr.ErrInvalidInternal)
			return
		}
		next(w, r)
	}
}
