package transport_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gamerelay/internal/auth"
	"gamerelay/internal/keyregistry"
	"gamerelay/internal/kv"
	"gamerelay/internal/rooms"
	"gamerelay/internal/saves"
	"gamerelay/internal/stats"
	"gamerelay/internal/transport"
)

type testServer struct {
	*httptest.Server
	store    *kv.MemoryStore
	registry *keyregistry.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := kv.NewMemoryStore()
	registry := keyregistry.New(store, logger)
	require.NoError(t, registry.Put(t.Context(), "wt_KA", "game1", "proj1"))

	accumulator := stats.New(store)
	roomRegistry := rooms.New(store, accumulator, logger, 0, 0)
	savesStore := saves.New(store)
	gate := auth.NewGate(registry)
	internalGate := auth.NewInternalGate("internal-secret")

	handler := transport.New(roomRegistry, savesStore, accumulator, registry, gate, internalGate, logger, "test")
	srv := httptest.NewServer(handler.Routes())

	return &testServer{Server: srv, store: store, registry: registry}
}

func (ts *testServer) authedRequest(t *testing.T, method, path, playerID string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wt_KA")
	req.Header.Set("X-Player-ID", playerID)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestHealth_NoAuthRequired(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeJSON(t, resp)
	assert.Equal(t, "gamerelay", body["name"])
	assert.Equal(t, "ok", body["status"])
}

func TestSaves_PutGetDeleteRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	putResp := ts.authedRequest(t, http.MethodPost, "/v1/saves/progress", "alice", map[string]any{"level": 3})
	assert.Equal(t, http.StatusOK, putResp.StatusCode)
	decodeJSON(t, putResp)

	getResp := ts.authedRequest(t, http.MethodGet, "/v1/saves/progress", "alice", nil)
	assert.Equal(t, http.StatusOK, getResp.StatusCode)
	body := decodeJSON(t, getResp)
	assert.Equal(t, "progress", body["key"])

	deleteResp := ts.authedRequest(t, http.MethodDelete, "/v1/saves/progress", "alice", nil)
	assert.Equal(t, http.StatusOK, deleteResp.StatusCode)

	missingResp := ts.authedRequest(t, http.MethodGet, "/v1/saves/progress", "alice", nil)
	assert.Equal(t, http.StatusNotFound, missingResp.StatusCode)
}

// TestScenario_AuthDenial is the literal scenario from spec.md §8.6.
func TestScenario_AuthDenial(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/saves/progress", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wt_BOGUS")
	req.Header.Set("X-Player-ID", "p")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req2, err := http.NewRequest(http.MethodGet, ts.URL+"/v1/saves/progress", nil)
	require.NoError(t, err)
	req2.Header.Set("Authorization", "Bearer wt_BOGUS")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

// TestScenario_CreateAndJoin is the literal scenario from spec.md §8.1.
func TestScenario_CreateAndJoin(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	createResp := ts.authedRequest(t, http.MethodPost, "/v1/rooms", "alice", nil)
	require.Equal(t, http.StatusCreated, createResp.StatusCode)
	created := decodeJSON(t, createResp)
	code, _ := created["code"].(string)
	require.Len(t, code, 4)

	joinResp := ts.authedRequest(t, http.MethodPost, "/v1/rooms/"+code+"/join", "bob", nil)
	require.Equal(t, http.StatusOK, joinResp.StatusCode)
	joined := decodeJSON(t, joinResp)
	assert.Equal(t, true, joined["success"])
	assert.Equal(t, "alice", joined["hostId"])
}

func TestRoomInfo_UnknownCodeIs404(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp := ts.authedRequest(t, http.MethodGet, "/v1/rooms/ZZZZ", "alice", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStats_TrackAndRead(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	trackResp := ts.authedRequest(t, http.MethodPost, "/v1/stats/track", "alice", map[string]any{"event": "session_start"})
	assert.Equal(t, http.StatusOK, trackResp.StatusCode)

	readResp := ts.authedRequest(t, http.MethodGet, "/v1/stats", "alice", nil)
	assert.Equal(t, http.StatusOK, readResp.StatusCode)
	body := decodeJSON(t, readResp)
	assert.EqualValues(t, 1, body["online"])
}

func TestInternalKeys_RequiresInternalSecret(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	data, err := json.Marshal(map[string]any{"apiKey": "wt_new", "gameId": "game2", "projectId": "proj2"})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/internal/keys", bytes.NewReader(data))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req2, err := http.NewRequest(http.MethodPost, ts.URL+"/internal/keys", bytes.NewReader(data))
	require.NoError(t, err)
	req2.Header.Set("Authorization", "Bearer internal-secret")
	resp2, err := http.DefaultClient.Do(req2)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
}

// TestScenario_WebSocketJoinAndBroadcast exercises a real WebSocket
// round trip over the Transport Adapter: two peers connect, and one's
// player_state update reaches the other via the fast-path broadcast.
func TestScenario_WebSocketJoinAndBroadcast(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	createResp := ts.authedRequest(t, http.MethodPost, "/v1/rooms", "alice", nil)
	require.Equal(t, http.StatusCreated, createResp.StatusCode)
	code := decodeJSON(t, createResp)["code"].(string)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/rooms/" + code + "/ws?apiKey=wt_KA&playerId=alice"
	aliceConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer aliceConn.Close()

	var connected map[string]any
	require.NoError(t, aliceConn.ReadJSON(&connected))
	assert.Equal(t, "connected", connected["type"])

	bobURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/rooms/" + code + "/ws?apiKey=wt_KA&playerId=bob"
	bobConn, _, err := websocket.DefaultDialer.Dial(bobURL, nil)
	require.NoError(t, err)
	defer bobConn.Close()

	var bobConnected map[string]any
	require.NoError(t, bobConn.ReadJSON(&bobConnected))
	assert.Equal(t, "connected", bobConnected["type"])

	var joined map[string]any
	require.NoError(t, aliceConn.ReadJSON(&joined))
	assert.Equal(t, "player_joined", joined["type"])
	assert.Equal(t, "bob", joined["playerId"])

	require.NoError(t, bobConn.WriteJSON(map[string]any{"type": "player_state", "state": map[string]any{"hp": 5}}))

	aliceConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var update map[string]any
	require.NoError(t, aliceConn.ReadJSON(&update))
	assert.Equal(t, "player_state_update", update["type"])
	assert.Equal(t, "bob", update["playerId"])
}
