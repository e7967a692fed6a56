// Package rooms implements the Room Registry, Code Allocator, and Room
// Actor (spec.md §4.5, §4.6): the actor-per-room model that owns a
// room's roster, player and shared game state, host authority, and
// its WebSocket sessions.
package rooms

import (
	"encoding/json"
	"time"
)

// Participant is one roster entry: a player and when they joined.
type Participant struct {
	PlayerID string    `json:"playerId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Room is the durable shape of one live session, per spec.md §3.
// Mutated exclusively by the owning Actor; never touched directly by
// transport code.
type Room struct {
	GameID       string                     `json:"gameId"`
	Code         string                     `json:"code"`
	HostID       string                     `json:"hostId"`
	CreatedAt    time.Time                  `json:"createdAt"`
	Roster       map[string]Participant     `json:"roster"`
	PlayerStates map[string]json.RawMessage `json:"playerStates"`
	GameState    json.RawMessage            `json:"gameState"`
}

// newRoom initializes a Room with hostID as its sole occupant and
// host, per the create operation in spec.md §4.6.
func newRoom(gameID, code, hostID string, now time.Time) *Room {
	return &Room{
		GameID:    gameID,
		Code:      code,
		HostID:    hostID,
		CreatedAt: now,
		Roster: map[string]Participant{
			hostID: {PlayerID: hostID, JoinedAt: now},
		},
		PlayerStates: make(map[string]json.RawMessage),
		GameState:    json.RawMessage("null"),
	}
}

// playerCount returns len(Roster); a small helper to keep egress frame
// construction readable.
func (r *Room) playerCount() int {
	return len(r.Roster)
}

// players returns the roster's playerIds in a stable sort order
// (joinedAt, then lexicographic playerId) — used both for the info/
// connected frame player lists and for host-migration promotion.
func (r *Room) players() []string {
	ordered := make([]Participant, 0, len(r.Roster))
	for _, p := range r.Roster {
		ordered = append(ordered, p)
	}
	sortParticipants(ordered)

	ids := make([]string, len(ordered))
	for i, p := range ordered {
		ids[i] = p.PlayerID
	}
	return ids
}

// sortParticipants orders by JoinedAt ascending, breaking ties
// lexicographically on PlayerID — spec.md §9's host-migration
// determinism rule, reused here for the general roster ordering too.
func sortParticipants(ps []Participant) {
	for i := 1; i < len(ps); i++ {
		for j := i; j > 0 && less(ps[j], ps[j-1]); j-- {
			ps[j], ps[j-1] = ps[j-1], ps[j]
		}
	}
}

func less(a, b Participant) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.PlayerID < b.PlayerID
}
