// Package transport implements the Transport Adapter (spec.md §4.7):
// it terminates the WebSocket upgrade, routes HTTP paths to the
// Saves, Rooms, Stats, and Key Registry surfaces, and dispatches
// `/v1/rooms/:code/ws` traffic into the owning Room Actor.
package transport

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gamerelay/internal/rooms"
)

// Keepalive timings grounded on the teacher's Connection pump pair:
// 54s ping leaves 6s of margin before the 60s read-deadline most
// intermediate proxies enforce.
const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// connection adapts a gorilla websocket.Conn to rooms.Sender, and
// runs the read/write pump pair that feeds and drains it.
type connection struct {
	gameID   string
	code     string
	playerID string

	conn   *websocket.Conn
	send   chan []byte
	actor  *rooms.Actor
	logger *slog.Logger

	closeOnce sync.Once
}

func newConnection(conn *websocket.Conn, gameID, code, playerID string, actor *rooms.Actor, logger *slog.Logger) *connection {
	return &connection{
		gameID:   gameID,
		code:     code,
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, 256),
		actor:    actor,
		logger:   logger,
	}
}

// SendFrame implements rooms.Sender.
func (c *connection) SendFrame(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	default:
		c.logger.Warn("connection send buffer full, dropping frame", "playerId", c.playerID)
		return nil
	}
}

// Close implements rooms.Sender. It is safe to call more than once.
func (c *connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		close(c.send)
	})
}

// readPump reads ingress frames and hands each one to the actor,
// until the socket closes or errors. The actor's Message call does not
// wait for the frame to be handled, but it does wait until the actor's
// loop takes it, so a busy room paces the read loop.
func (c *connection) readPump() {
	defer func() {
		c.actor.SessionClosed(c.playerID, c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Info("websocket read error", "gameId", c.gameID, "code", c.code, "playerId", c.playerID, "error", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			c.actor.Message(c.playerID, message)
		}
	}
}

// writePump drains the send channel to the socket and emits periodic
// pings, per the teacher's writePump.
func (c *connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Close already wrote the close control frame.
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
