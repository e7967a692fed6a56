package auth_test

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"gamerelay/internal/auth"
	"gamerelay/internal/keyregistry"
	"gamerelay/internal/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) *auth.Gate {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := keyregistry.New(kv.NewMemoryStore(), logger)
	require.NoError(t, registry.Put(t.Context(), "wt_good", "game1", "proj1"))
	return auth.NewGate(registry)
}

func echoIdentity(w http.ResponseWriter, r *http.Request) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("X-Game-ID", id.GameID)
	w.Header().Set("X-Resolved-Player", id.PlayerID)
	w.WriteHeader(http.StatusOK)
}

func TestGate_MissingPlayerID(t *testing.T) {
	gate := newTestGate(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/saves/progress?apiKey=wt_good", nil)
	rec := httptest.NewRecorder()

	gate.Middleware(echoIdentity)(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGate_AuthDenial(t *testing.T) {
	gate := newTestGate(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/saves/progress", nil)
	req.Header.Set("Authorization", "Bearer wt_BOGUS")
	req.Header.Set("X-Player-ID", "p")
	rec := httptest.NewRecorder()

	gate.Middleware(echoIdentity)(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_MissingAuth(t *testing.T) {
	gate := newTestGate(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/saves/progress", nil)
	req.Header.Set("X-Player-ID", "p")
	rec := httptest.NewRecorder()

	gate.Middleware(echoIdentity)(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_InvalidKeyFormat(t *testing.T) {
	gate := newTestGate(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/saves/progress", nil)
	req.Header.Set("Authorization", "Bearer nope")
	req.Header.Set("X-Player-ID", "p")
	rec := httptest.NewRecorder()

	gate.Middleware(echoIdentity)(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestGate_Success_HeaderAuth(t *testing.T) {
	gate := newTestGate(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/saves/progress", nil)
	req.Header.Set("Authorization", "Bearer wt_good")
	req.Header.Set("X-Player-ID", "alice")
	rec := httptest.NewRecorder()

	gate.Middleware(echoIdentity)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "game1", rec.Header().Get("X-Game-ID"))
	assert.Equal(t, "alice", rec.Header().Get("X-Resolved-Player"))
}

func TestGate_Success_QueryFallback(t *testing.T) {
	gate := newTestGate(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/rooms/HQK3/ws?apiKey=wt_good&playerId=bob", nil)
	rec := httptest.NewRecorder()

	gate.Middleware(echoIdentity)(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob", rec.Header().Get("X-Resolved-Player"))
}

func TestInternalGate(t *testing.T) {
	gate := auth.NewInternalGate("s3cret")
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	req := httptest.NewRequest(http.MethodPost, "/internal/keys", nil)
	rec := httptest.NewRecorder()
	gate.Middleware(ok)(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/internal/keys", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	gate.Middleware(ok)(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
