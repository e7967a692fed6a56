package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gamerelay/internal/apierr"
	"gamerelay/internal/auth"
	"gamerelay/internal/keyregistry"
	"gamerelay/internal/rooms"
	"gamerelay/internal/saves"
	"gamerelay/internal/stats"
)

// Handler is the Transport Adapter's HTTP/WebSocket surface.
type Handler struct {
	rooms    *rooms.Registry
	saves    *saves.Store
	stats    *stats.Accumulator
	registry *keyregistry.Registry

	gate         *auth.Gate
	internalGate *auth.InternalGate

	logger   *slog.Logger
	upgrader websocket.Upgrader

	version string
}

// New constructs a Handler wiring every public component.
func New(roomRegistry *rooms.Registry, savesStore *saves.Store, accumulator *stats.Accumulator, keyRegistry *keyregistry.Registry, gate *auth.Gate, internalGate *auth.InternalGate, logger *slog.Logger, version string) *Handler {
	return &Handler{
		rooms:        roomRegistry,
		saves:        savesStore,
		stats:        accumulator,
		registry:     keyRegistry,
		gate:         gate,
		internalGate: internalGate,
		logger:       logger,
		version:      version,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// Routes builds the full mux, following the teacher's wrap/recoverer/
// loggerMiddleware chain pattern.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	wrap := func(next http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(next))
	}
	pub := func(next http.HandlerFunc) http.HandlerFunc {
		return wrap(h.gate.Middleware(next))
	}
	internalOnly := func(next http.HandlerFunc) http.HandlerFunc {
		return wrap(h.internalGate.Middleware(next))
	}

	mux.HandleFunc("GET /", wrap(h.health))

	mux.HandleFunc("POST /v1/saves/{key}", pub(h.putSave))
	mux.HandleFunc("GET /v1/saves/{key}", pub(h.getSave))
	mux.HandleFunc("GET /v1/saves", pub(h.listSaves))
	mux.HandleFunc("DELETE /v1/saves/{key}", pub(h.deleteSave))

	mux.HandleFunc("POST /v1/rooms", pub(h.createRoom))
	mux.HandleFunc("GET /v1/rooms/{code}", pub(h.roomInfo))
	mux.HandleFunc("POST /v1/rooms/{code}/join", pub(h.joinRoom))
	mux.HandleFunc("GET /v1/rooms/{code}/ws", pub(h.serveWS))

	mux.HandleFunc("GET /v1/stats", pub(h.getStats))
	mux.HandleFunc("POST /v1/stats/track", pub(h.trackStats))
	mux.HandleFunc("GET /v1/stats/player", pub(h.getPlayerStats))

	mux.HandleFunc("POST /internal/keys", internalOnly(h.registerKey))
	mux.HandleFunc("DELETE /internal/keys/{apiKey}", internalOnly(h.revokeKey))
	mux.HandleFunc("GET /internal/keys/{apiKey}", internalOnly(h.inspectKey))

	return mux
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{
		"name":    "gamerelay",
		"version": h.version,
		"status":  "ok",
	})
}

// --- Saves ---

func (h *Handler) putSave(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	key := r.PathValue("key")

	body, err := io.ReadAll(io.LimitReader(r.Body, saves.MaxSaveBytes()+1))
	if err != nil {
		apierr.WriteJSON(w, h.logger, apierr.New(apierr.CodeBadJSON, http.StatusBadRequest, "could not read request body"))
		return
	}
	if !json.Valid(body) {
		apierr.WriteJSON(w, h.logger, apierr.New(apierr.CodeBadJSON, http.StatusBadRequest, "body must be valid JSON"))
		return
	}

	if err := h.saves.Put(r.Context(), id.GameID, id.PlayerID, key, body); err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{"success": true, "key": key})
}

func (h *Handler) getSave(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	key := r.PathValue("key")

	data, err := h.saves.Get(r.Context(), id.GameID, id.PlayerID, key)
	if err != nil {
		apierr.WriteJSON(w, h.logger, apierr.ErrSaveNotFound)
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{"key": key, "data": data})
}

func (h *Handler) listSaves(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	keys, err := h.saves.List(r.Context(), id.GameID, id.PlayerID)
	if err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{"keys": keys})
}

func (h *Handler) deleteSave(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	key := r.PathValue("key")

	if err := h.saves.Delete(r.Context(), id.GameID, id.PlayerID, key); err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{"success": true})
}

// --- Rooms ---

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	code, _, err := h.rooms.Create(r.Context(), id.GameID, id.PlayerID)
	if err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}

	if err := h.stats.Track(r.Context(), id.GameID, stats.EventSessionStart, id.PlayerID); err != nil {
		h.logger.Warn("stats track failed", "event", stats.EventSessionStart, "error", err)
	}

	apierr.WriteResult(w, h.logger, http.StatusCreated, map[string]any{
		"code":  code,
		"wsUrl": fmt.Sprintf("/v1/rooms/%s/ws", code),
	})
}

func (h *Handler) roomInfo(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	code := strings.ToUpper(r.PathValue("code"))

	actor := h.rooms.Lookup(id.GameID, code)
	info, err := actor.Info(r.Context())
	if err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, info)
}

func (h *Handler) joinRoom(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	code := strings.ToUpper(r.PathValue("code"))

	actor := h.rooms.Lookup(id.GameID, code)
	result, err := actor.Join(r.Context(), id.PlayerID)
	if err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}

	apierr.WriteResult(w, h.logger, http.StatusOK, result)
}

func (h *Handler) serveWS(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())
	code := strings.ToUpper(r.PathValue("code"))

	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		apierr.WriteJSON(w, h.logger, apierr.ErrUpgradeRequired)
		return
	}

	actor := h.rooms.Lookup(id.GameID, code)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := newConnection(conn, id.GameID, code, id.PlayerID, actor, h.logger)
	if err := actor.Admit(r.Context(), id.PlayerID, sess); err != nil {
		conn.Close()
		return
	}

	if err := h.stats.Track(r.Context(), id.GameID, stats.EventSessionStart, id.PlayerID); err != nil {
		h.logger.Warn("stats track failed", "event", stats.EventSessionStart, "error", err)
	}

	go sess.writePump()
	sess.readPump()

	if err := h.stats.Track(r.Context(), id.GameID, stats.EventSessionEnd, id.PlayerID); err != nil {
		h.logger.Warn("stats track failed", "event", stats.EventSessionEnd, "error", err)
	}
}

// --- Stats ---

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	counters, err := h.stats.Read(r.Context(), id.GameID)
	if err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, counters)
}

func (h *Handler) trackStats(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	var payload struct {
		Event string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteJSON(w, h.logger, apierr.New(apierr.CodeBadJSON, http.StatusBadRequest, "body must be valid JSON"))
		return
	}

	if err := h.stats.Track(r.Context(), id.GameID, stats.Event(payload.Event), id.PlayerID); err != nil {
		apierr.WriteJSON(w, h.logger, apierr.New(apierr.CodeBadJSON, http.StatusBadRequest, err.Error()))
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) getPlayerStats(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.FromContext(r.Context())

	record, err := h.stats.ReadPlayer(r.Context(), id.GameID, id.PlayerID)
	if err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, record)
}

// --- Internal key registry admin ---

func (h *Handler) registerKey(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		APIKey    string `json:"apiKey"`
		GameID    string `json:"gameId"`
		ProjectID string `json:"projectId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		apierr.WriteJSON(w, h.logger, apierr.New(apierr.CodeBadJSON, http.StatusBadRequest, "body must be valid JSON"))
		return
	}

	if err := h.registry.Put(r.Context(), payload.APIKey, payload.GameID, payload.ProjectID); err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) revokeKey(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("apiKey")
	if err := h.registry.Delete(r.Context(), apiKey); err != nil {
		apierr.WriteJSON(w, h.logger, err)
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{"success": true})
}

func (h *Handler) inspectKey(w http.ResponseWriter, r *http.Request) {
	apiKey := r.PathValue("apiKey")
	record, err := h.registry.Get(r.Context(), apiKey)
	if err != nil {
		apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{"exists": false})
		return
	}
	apierr.WriteResult(w, h.logger, http.StatusOK, map[string]any{
		"exists":    true,
		"gameId":    record.GameID,
		"projectId": record.ProjectID,
		"createdAt": record.CreatedAt,
	})
}

// --- Middleware, mirroring the teacher's chain ---

func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next(ww, r)

		h.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("panic while handling request", "error", err, "method", r.Method, "path", r.URL.Path)
				apierr.WriteJSON(w, h.logger, apierr.New(apierr.CodeInternal, http.StatusInternalServerError, "internal server error"))
			}
		}()
		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
