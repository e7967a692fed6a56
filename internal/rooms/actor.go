package rooms

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"gamerelay/internal/apierr"
	"gamerelay/internal/kv"
	"gamerelay/internal/stats"
)

// DefaultTickInterval is the periodic players_sync broadcast period —
// 20 Hz, per spec.md §4.6 — used when an Actor is constructed with a
// zero interval.
const DefaultTickInterval = 50 * time.Millisecond

// Sender is the minimal outbound surface a transport-layer WebSocket
// connection exposes to an Actor. Keeping this as an interface lets
// the actor be exercised in tests with a fake, without a real socket.
type Sender interface {
	// SendFrame marshals frame to JSON and writes it to the peer.
	SendFrame(frame any) error
	// Close closes the underlying connection with a WebSocket close
	// code and reason.
	Close(code int, reason string)
}

// Frame aliases, matching the exact shapes in spec.md §6.
type connectedFrame struct {
	Type         string                     `json:"type"`
	PlayerID     string                     `json:"playerId"`
	Room         roomSummary                `json:"room"`
	PlayerStates map[string]json.RawMessage `json:"playerStates"`
	GameState    json.RawMessage            `json:"gameState"`
}

type roomSummary struct {
	GameID      string   `json:"gameId"`
	HostID      string   `json:"hostId"`
	Players     []string `json:"players"`
	PlayerCount int      `json:"playerCount"`
}

type playersSyncFrame struct {
	Type    string                     `json:"type"`
	Players map[string]json.RawMessage `json:"players"`
}

type playerStateUpdateFrame struct {
	Type     string          `json:"type"`
	PlayerID string          `json:"playerId"`
	State    json.RawMessage `json:"state"`
}

type gameStateSyncFrame struct {
	Type  string          `json:"type"`
	State json.RawMessage `json:"state"`
}

type playerJoinedFrame struct {
	Type        string `json:"type"`
	PlayerID    string `json:"playerId"`
	PlayerCount int    `json:"playerCount"`
}

type playerLeftFrame struct {
	Type        string `json:"type"`
	PlayerID    string `json:"playerId"`
	PlayerCount int    `json:"playerCount"`
}

type hostChangedFrame struct {
	Type   string `json:"type"`
	HostID string `json:"hostId"`
}

type messageFrame struct {
	Type string          `json:"type"`
	From string          `json:"from"`
	Data json.RawMessage `json:"data"`
}

type pongFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// clientMessage is the envelope every ingress WebSocket frame is
// decoded into first; the full raw frame is then re-decoded per Type.
type clientMessage struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// InfoResult is the reply shape for the info operation.
type InfoResult struct {
	GameID      string    `json:"gameId"`
	HostID      string    `json:"hostId"`
	CreatedAt   time.Time `json:"createdAt"`
	PlayerCount int       `json:"playerCount"`
	Players     []string  `json:"players"`
}

// JoinResult is the reply shape for the HTTP join operation.
type JoinResult struct {
	Success bool     `json:"success"`
	HostID  string   `json:"hostId"`
	Players []string `json:"players"`
}

// command is the sum type carried on an Actor's inbox. Exactly one
// command is handled at a time — this channel is the serialization
// point spec.md §5 requires.
type command struct {
	kind     commandKind
	hostID   string
	playerID string
	session  Sender
	raw      json.RawMessage
	reply    chan any
}

type commandKind int

const (
	cmdCreate commandKind = iota
	cmdInfo
	cmdJoin
	cmdAdmit
	cmdMessage
	cmdClose
)

// Actor owns exactly one Room: its roster, player/game state, host
// identity, and the live Sessions attached to it. Every public method
// enqueues a command and waits for the reply, so from the outside the
// Actor behaves like an ordinary synchronous object even though all
// real work happens on its own goroutine.
type Actor struct {
	gameID string
	code   string

	store  kv.Store
	stats  *stats.Accumulator
	logger *slog.Logger

	inbox        chan command
	done         chan struct{}
	tickInterval time.Duration

	// onEmpty is invoked once, from the actor's own goroutine, the
	// moment the room becomes eligible for hibernation. The Registry
	// uses it to drop its reference so the next request re-spawns a
	// fresh Actor that cold-boots from (absent) storage.
	onEmpty func()
}

// newActor constructs an Actor and starts its loop goroutine. The
// loop exits, and onEmpty fires, when the room empties. A zero
// tickInterval falls back to DefaultTickInterval.
func newActor(gameID, code string, store kv.Store, accumulator *stats.Accumulator, logger *slog.Logger, tickInterval time.Duration, onEmpty func()) *Actor {
	if tickInterval <= 0 {
		tickInterval = DefaultTickInterval
	}
	a := &Actor{
		gameID:       gameID,
		code:         code,
		store:        store,
		stats:        accumulator,
		logger:       logger,
		inbox:        make(chan command),
		done:         make(chan struct{}),
		tickInterval: tickInterval,
		onEmpty:      onEmpty,
	}
	go a.run()
	return a
}

func (a *Actor) snapshotKey() string {
	return "roomState:" + a.gameID + ":" + a.code
}

// run is the actor's single-threaded cooperative loop. It cold-boots
// lazily: on the first command it tries to load a snapshot before
// doing anything else.
func (a *Actor) run() {
	var room *Room
	sessions := make(map[string]Sender)
	dirty := false

	ticker := time.NewTicker(a.tickInterval)
	defer ticker.Stop()

	booted := false
	boot := func() {
		if booted {
			return
		}
		booted = true
		if loaded, err := a.load(); err != nil {
			a.logger.Error("room snapshot load failed", "gameId", a.gameID, "code", a.code, "error", err)
		} else {
			room = loaded
		}
	}

	for {
		select {
		case cmd, ok := <-a.inbox:
			if !ok {
				return
			}
			boot()
			switch cmd.kind {
			case cmdCreate:
				a.handleCreate(&room, cmd)
			case cmdInfo:
				a.handleInfo(room, cmd)
			case cmdJoin:
				a.handleJoin(&room, sessions, cmd)
			case cmdAdmit:
				a.handleAdmit(&room, sessions, cmd)
			case cmdMessage:
				a.handleMessage(room, sessions, &dirty, cmd)
			case cmdClose:
				a.handleClose(&room, sessions, cmd)
			}

			if room == nil && len(sessions) == 0 {
				if a.onEmpty != nil {
					a.onEmpty()
				}
				close(a.done)
				return
			}

		case <-ticker.C:
			if dirty && room != nil {
				a.broadcastPlayersSync(room, sessions)
				dirty = false
			}
		}
	}
}

func (a *Actor) handleCreate(roomPtr **Room, cmd command) {
	if *roomPtr != nil {
		cmd.reply <- apierr.New(apierr.CodeAlreadyExists, 400, "room already initialized")
		return
	}
	now := time.Now()
	room := newRoom(a.gameID, a.code, cmd.hostID, now)
	*roomPtr = room
	if err := a.save(room); err != nil {
		a.logger.Error("room snapshot save failed", "gameId", a.gameID, "code", a.code, "error", err)
	}
	cmd.reply <- nil
}

func (a *Actor) handleInfo(room *Room, cmd command) {
	if room == nil {
		cmd.reply <- apierr.ErrRoomNotFound
		return
	}
	cmd.reply <- &InfoResult{
		GameID:      room.GameID,
		HostID:      room.HostID,
		CreatedAt:   room.CreatedAt,
		PlayerCount: room.playerCount(),
		Players:     room.players(),
	}
}

func (a *Actor) handleJoin(roomPtr **Room, sessions map[string]Sender, cmd command) {
	room := *roomPtr
	if room == nil {
		cmd.reply <- apierr.ErrRoomNotFound
		return
	}

	if _, already := room.Roster[cmd.playerID]; !already {
		room.Roster[cmd.playerID] = Participant{PlayerID: cmd.playerID, JoinedAt: time.Now()}
		if err := a.save(room); err != nil {
			a.logger.Error("room snapshot save failed", "gameId", a.gameID, "code", a.code, "error", err)
		}
		a.broadcastAll(sessions, playerJoinedFrame{
			Type:        "player_joined",
			PlayerID:    cmd.playerID,
			PlayerCount: room.playerCount(),
		})
		a.trackRoomEvent(stats.EventRoomJoin, cmd.playerID)
	}

	cmd.reply <- &JoinResult{
		Success: true,
		HostID:  room.HostID,
		Players: room.players(),
	}
}

// handleAdmit implements the WebSocket admission protocol of
// spec.md §4.6: replace any prior session for the player, add them
// to the roster if new, send the late-joiner snapshot, then, only if
// the player was new to the roster, broadcast player_joined to
// everyone else.
func (a *Actor) handleAdmit(roomPtr **Room, sessions map[string]Sender, cmd command) {
	room := *roomPtr
	if room == nil {
		cmd.reply <- apierr.ErrRoomNotFound
		return
	}

	if prior, ok := sessions[cmd.playerID]; ok {
		prior.Close(1000, "Replaced by new connection")
	}
	sessions[cmd.playerID] = cmd.session

	_, existed := room.Roster[cmd.playerID]
	if !existed {
		room.Roster[cmd.playerID] = Participant{PlayerID: cmd.playerID, JoinedAt: time.Now()}
		if err := a.save(room); err != nil {
			a.logger.Error("room snapshot save failed", "gameId", a.gameID, "code", a.code, "error", err)
		}
	}

	frame := connectedFrame{
		Type:     "connected",
		PlayerID: cmd.playerID,
		Room: roomSummary{
			GameID:      room.GameID,
			HostID:      room.HostID,
			Players:     room.players(),
			PlayerCount: room.playerCount(),
		},
		PlayerStates: room.PlayerStates,
		GameState:    room.GameState,
	}
	if err := cmd.session.SendFrame(frame); err != nil {
		a.logger.Warn("failed to send connected frame", "playerId", cmd.playerID, "error", err)
	}

	if !existed {
		a.broadcastExcept(sessions, cmd.playerID, playerJoinedFrame{
			Type:        "player_joined",
			PlayerID:    cmd.playerID,
			PlayerCount: room.playerCount(),
		})
		a.trackRoomEvent(stats.EventRoomJoin, cmd.playerID)
	}

	cmd.reply <- nil
}

// handleMessage dispatches one decoded ingress WebSocket frame per
// spec.md §4.6's ingress protocol.
func (a *Actor) handleMessage(room *Room, sessions map[string]Sender, dirty *bool, cmd command) {
	if room == nil {
		return
	}

	var env clientMessage
	if err := json.Unmarshal(cmd.raw, &env); err != nil {
		a.logger.Warn("dropping malformed client frame", "gameId", a.gameID, "code", a.code, "error", err)
		return
	}

	switch env.Type {
	case "player_state":
		var payload struct {
			State json.RawMessage `json:"state"`
		}
		if err := json.Unmarshal(cmd.raw, &payload); err != nil {
			a.logger.Warn("dropping malformed player_state frame", "error", err)
			return
		}
		room.PlayerStates[cmd.playerID] = payload.State
		*dirty = true
		a.broadcastExcept(sessions, cmd.playerID, playerStateUpdateFrame{
			Type:     "player_state_update",
			PlayerID: cmd.playerID,
			State:    payload.State,
		})

	case "game_state":
		if cmd.playerID != room.HostID {
			return
		}
		var payload struct {
			State json.RawMessage `json:"state"`
		}
		if err := json.Unmarshal(cmd.raw, &payload); err != nil {
			a.logger.Warn("dropping malformed game_state frame", "error", err)
			return
		}
		room.GameState = payload.State
		if err := a.save(room); err != nil {
			a.logger.Error("room snapshot save failed", "error", err)
		}
		a.broadcastAll(sessions, gameStateSyncFrame{Type: "game_state_sync", State: payload.State})

	case "transfer_host":
		if cmd.playerID != room.HostID {
			return
		}
		var payload struct {
			NewHostID string `json:"newHostId"`
		}
		if err := json.Unmarshal(cmd.raw, &payload); err != nil {
			a.logger.Warn("dropping malformed transfer_host frame", "error", err)
			return
		}
		if _, ok := room.Roster[payload.NewHostID]; !ok {
			return
		}
		room.HostID = payload.NewHostID
		if err := a.save(room); err != nil {
			a.logger.Error("room snapshot save failed", "error", err)
		}
		a.broadcastAll(sessions, hostChangedFrame{Type: "host_changed", HostID: room.HostID})

	case "broadcast":
		var payload struct {
			Data        json.RawMessage `json:"data"`
			ExcludeSelf bool            `json:"excludeSelf"`
		}
		if err := json.Unmarshal(cmd.raw, &payload); err != nil {
			a.logger.Warn("dropping malformed broadcast frame", "error", err)
			return
		}
		out := messageFrame{Type: "message", From: cmd.playerID, Data: payload.Data}
		if payload.ExcludeSelf {
			a.broadcastExcept(sessions, cmd.playerID, out)
		} else {
			a.broadcastAll(sessions, out)
		}

	case "send":
		var payload struct {
			To   string          `json:"to"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(cmd.raw, &payload); err != nil {
			a.logger.Warn("dropping malformed send frame", "error", err)
			return
		}
		if target, ok := sessions[payload.To]; ok {
			out := messageFrame{Type: "message", From: cmd.playerID, Data: payload.Data}
			if err := target.SendFrame(out); err != nil {
				a.logger.Warn("failed to deliver send frame", "to", payload.To, "error", err)
			}
		}

	case "ping":
		if session, ok := sessions[cmd.playerID]; ok {
			_ = session.SendFrame(pongFrame{Type: "pong", Timestamp: time.Now().UnixMilli()})
		}

	default:
		// Unknown types are forward-compat no-ops, per spec.md §9.
	}
}

// handleClose implements the close / host-migration rule of
// spec.md §4.6.
func (a *Actor) handleClose(roomPtr **Room, sessions map[string]Sender, cmd command) {
	room := *roomPtr
	if room == nil {
		return
	}
	if current, ok := sessions[cmd.playerID]; !ok || current != cmd.session {
		// Stale close from a session already replaced; ignore.
		return
	}
	delete(sessions, cmd.playerID)

	wasHost := cmd.playerID == room.HostID
	delete(room.Roster, cmd.playerID)
	delete(room.PlayerStates, cmd.playerID)
	a.trackRoomEvent(stats.EventRoomLeave, cmd.playerID)

	if len(room.Roster) == 0 {
		if err := a.store.Delete(context.Background(), a.snapshotKey()); err != nil {
			a.logger.Error("room snapshot delete failed", "error", err)
		}
		*roomPtr = nil
		a.trackRoomEvent(stats.EventRoomClose, "")
		return
	}

	if wasHost {
		remaining := make([]Participant, 0, len(room.Roster))
		for _, p := range room.Roster {
			remaining = append(remaining, p)
		}
		sortParticipants(remaining)
		room.HostID = remaining[0].PlayerID
		a.broadcastAll(sessions, hostChangedFrame{Type: "host_changed", HostID: room.HostID})
	}

	if err := a.save(room); err != nil {
		a.logger.Error("room snapshot save failed", "error", err)
	}
	a.broadcastAll(sessions, playerLeftFrame{
		Type:        "player_left",
		PlayerID:    cmd.playerID,
		PlayerCount: room.playerCount(),
	})
}

// trackRoomEvent forwards a room-level lifecycle event to the Stats
// Accumulator, per spec.md §4.7 ("room-level join/leave/create/close
// events are raised inside the Room Actor and forwarded through the
// same sink"). A nil accumulator (e.g. in actor-only unit tests) is a
// silent no-op.
func (a *Actor) trackRoomEvent(event stats.Event, playerID string) {
	if a.stats == nil {
		return
	}
	if err := a.stats.Track(context.Background(), a.gameID, event, playerID); err != nil {
		a.logger.Warn("stats track failed", "event", event, "error", err)
	}
}

func (a *Actor) broadcastPlayersSync(room *Room, sessions map[string]Sender) {
	frame := playersSyncFrame{Type: "players_sync", Players: room.PlayerStates}
	a.broadcastAll(sessions, frame)
}

func (a *Actor) broadcastAll(sessions map[string]Sender, frame any) {
	for playerID, session := range sessions {
		if err := session.SendFrame(frame); err != nil {
			a.logger.Warn("broadcast delivery failed", "playerId", playerID, "error", err)
		}
	}
}

func (a *Actor) broadcastExcept(sessions map[string]Sender, exclude string, frame any) {
	for playerID, session := range sessions {
		if playerID == exclude {
			continue
		}
		if err := session.SendFrame(frame); err != nil {
			a.logger.Warn("broadcast delivery failed", "playerId", playerID, "error", err)
		}
	}
}

func (a *Actor) save(room *Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return a.store.Set(context.Background(), a.snapshotKey(), data, 0)
}

func (a *Actor) load() (*Room, error) {
	data, err := a.store.Get(context.Background(), a.snapshotKey())
	if err != nil {
		if err == kv.ErrNotFound {
			return nil, nil
		}
		return nil, err
	}
	var room Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, err
	}
	if room.PlayerStates == nil {
		room.PlayerStates = make(map[string]json.RawMessage)
	}
	if room.Roster == nil {
		room.Roster = make(map[string]Participant)
	}
	return &room, nil
}

// send enqueues cmd and waits for its reply, or for the actor to have
// already shut down (a request racing a hibernation).
func (a *Actor) send(ctx context.Context, cmd command) (any, bool) {
	select {
	case a.inbox <- cmd:
	case <-a.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}

	select {
	case reply := <-cmd.reply:
		return reply, true
	case <-a.done:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// Create runs the create operation.
func (a *Actor) Create(ctx context.Context, hostID string) error {
	reply, ok := a.send(ctx, command{kind: cmdCreate, hostID: hostID, reply: make(chan any, 1)})
	if !ok {
		return apierr.ErrRoomNotFound
	}
	if reply == nil {
		return nil
	}
	return reply.(error)
}

// Info runs the info operation.
func (a *Actor) Info(ctx context.Context) (*InfoResult, error) {
	reply, ok := a.send(ctx, command{kind: cmdInfo, reply: make(chan any, 1)})
	if !ok {
		return nil, apierr.ErrRoomNotFound
	}
	switch v := reply.(type) {
	case *InfoResult:
		return v, nil
	case error:
		return nil, v
	default:
		return nil, apierr.ErrRoomNotFound
	}
}

// Join runs the HTTP join operation.
func (a *Actor) Join(ctx context.Context, playerID string) (*JoinResult, error) {
	reply, ok := a.send(ctx, command{kind: cmdJoin, playerID: playerID, reply: make(chan any, 1)})
	if !ok {
		return nil, apierr.ErrRoomNotFound
	}
	switch v := reply.(type) {
	case *JoinResult:
		return v, nil
	case error:
		return nil, v
	default:
		return nil, apierr.ErrRoomNotFound
	}
}

// Admit runs the WebSocket admission protocol for a newly-upgraded
// session.
func (a *Actor) Admit(ctx context.Context, playerID string, session Sender) error {
	reply, ok := a.send(ctx, command{kind: cmdAdmit, playerID: playerID, session: session, reply: make(chan any, 1)})
	if !ok {
		return apierr.ErrRoomNotFound
	}
	if reply == nil {
		return nil
	}
	return reply.(error)
}

// Message hands one raw ingress WebSocket frame to the actor without
// waiting for it to be handled. The inbox is unbuffered, so the call
// blocks until the actor's loop takes the command (or the actor has
// shut down).
func (a *Actor) Message(playerID string, raw []byte) {
	select {
	case a.inbox <- command{kind: cmdMessage, playerID: playerID, raw: raw}:
	case <-a.done:
	}
}

// SessionClosed notifies the actor that session closed for playerID.
func (a *Actor) SessionClosed(playerID string, session Sender) {
	select {
	case a.inbox <- command{kind: cmdClose, playerID: playerID, session: session}:
	case <-a.done:
	}
}

// Done returns a channel closed once the actor has hibernated.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Code returns the room code this actor addresses.
func (a *Actor) Code() string {
	return a.code
}
