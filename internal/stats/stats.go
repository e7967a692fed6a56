// Package stats implements the Stats Accumulator (spec.md §4.4): a
// per-game event sink maintaining rolling counters and unique-player
// sets, fed by the Transport Adapter and by Room Actor create/close
// transitions.
//
// Update rules mirror the counter-service teacher sibling's Redis
// counter idioms: SAdd for dedup (first-seen detection falls out of
// the added-count return value), a Lua script for clamped decrement,
// and WATCH/MULTI/EXEC for the per-player record read-modify-write —
// the spec's own concurrency note in §4.4 calls for exactly this.
package stats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gamerelay/internal/kv"
)

// Event is one of the six event kinds the accumulator understands.
type Event string

const (
	EventSessionStart Event = "session_start"
	EventSessionEnd   Event = "session_end"
	EventRoomCreate   Event = "room_create"
	EventRoomClose    Event = "room_close"
	EventRoomJoin     Event = "room_join"
	EventRoomLeave    Event = "room_leave"
)

// dailyGrace and monthlyGrace implement the retention windows from
// spec.md §4.4 ("day+1, month+5 days").
const (
	dailyGrace   = 24 * time.Hour
	monthlyGrace = 5 * 24 * time.Hour
)

// Counters is the reader-facing shape for GET /v1/stats. Absent
// fields read as zero, per spec.md §4.4.
type Counters struct {
	Online    int64     `json:"online"`
	InRooms   int64     `json:"inRooms"`
	Rooms     int64     `json:"rooms"`
	Total     int64     `json:"total"`
	Today     int64     `json:"today"`
	Month     int64     `json:"month"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PlayerRecord is the per-player stats shape for GET /v1/stats/player.
type PlayerRecord struct {
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	Sessions  int64     `json:"sessions"`
	Playtime  int64     `json:"playtime"`
}

// Accumulator is the Stats Accumulator component.
type Accumulator struct {
	kv kv.Store
}

// New constructs an Accumulator backed by the shared KV store.
func New(store kv.Store) *Accumulator {
	return &Accumulator{kv: store}
}

func onlineKey(gameID string) string  { return "stats:" + gameID + ":online" }
func inRoomsKey(gameID string) string { return "stats:" + gameID + ":inrooms" }
func roomsKey(gameID string) string   { return "stats:" + gameID + ":rooms" }
func totalKey(gameID string) string   { return "stats:" + gameID + ":total_set" }
func updatedKey(gameID string) string { return "stats:" + gameID + ":updated_at" }

func dailyKey(gameID string, at time.Time) string {
	return fmt.Sprintf("stats:%s:daily:%s", gameID, at.Format("2006-01-02"))
}

func monthlyKey(gameID string, at time.Time) string {
	return fmt.Sprintf("stats:%s:monthly:%s", gameID, at.Format("2006-01"))
}

func playerKey(gameID, playerID string) string {
	return "stats:" + gameID + ":player:" + playerID
}

// Track records one event for gameID, optionally naming playerID (only
// session_start uses it, for the unique-player sets and per-player
// bookkeeping; the other event kinds ignore it).
func (a *Accumulator) Track(ctx context.Context, gameID string, event Event, playerID string) error {
	now := time.Now()

	switch event {
	case EventSessionStart:
		return a.trackSessionStart(ctx, gameID, playerID, now)
	case EventSessionEnd:
		_, err := a.kv.DecrClamped(ctx, onlineKey(gameID), 1)
		if err != nil {
			return err
		}
		return a.touchUpdatedAt(ctx, gameID, now)
	case EventRoomCreate:
		_, err := a.kv.Incr(ctx, roomsKey(gameID), 1)
		if err != nil {
			return err
		}
		return a.touchUpdatedAt(ctx, gameID, now)
	case EventRoomClose:
		_, err := a.kv.DecrClamped(ctx, roomsKey(gameID), 1)
		if err != nil {
			return err
		}
		return a.touchUpdatedAt(ctx, gameID, now)
	case EventRoomJoin:
		_, err := a.kv.Incr(ctx, inRoomsKey(gameID), 1)
		if err != nil {
			return err
		}
		return a.touchUpdatedAt(ctx, gameID, now)
	case EventRoomLeave:
		_, err := a.kv.DecrClamped(ctx, inRoomsKey(gameID), 1)
		if err != nil {
			return err
		}
		return a.touchUpdatedAt(ctx, gameID, now)
	default:
		return fmt.Errorf("stats: unknown event %q", event)
	}
}

// trackSessionStart implements the multi-step session_start rule from
// spec.md §4.4: bump online, dedup into the daily/monthly sets, bump
// lifetime total on first sight, and upsert the per-player record.
func (a *Accumulator) trackSessionStart(ctx context.Context, gameID, playerID string, now time.Time) error {
	if _, err := a.kv.Incr(ctx, onlineKey(gameID), 1); err != nil {
		return err
	}

	dKey := dailyKey(gameID, now)
	addedDaily, err := a.kv.SAdd(ctx, dKey, playerID)
	if err != nil {
		return err
	}
	if addedDaily > 0 {
		if err := a.kv.Expire(ctx, dKey, now.Add(24*time.Hour+dailyGrace)); err != nil {
			return err
		}
	}

	mKey := monthlyKey(gameID, now)
	addedMonthly, err := a.kv.SAdd(ctx, mKey, playerID)
	if err != nil {
		return err
	}
	if addedMonthly > 0 {
		if err := a.kv.Expire(ctx, mKey, now.AddDate(0, 1, 0).Add(monthlyGrace)); err != nil {
			return err
		}
	}

	firstSight, err := a.kv.SAdd(ctx, totalKey(gameID), playerID)
	if err != nil {
		return err
	}
	if firstSight > 0 {
		if _, err := a.kv.Incr(ctx, "stats:"+gameID+":total", 1); err != nil {
			return err
		}
	}

	if err := a.upsertPlayer(ctx, gameID, playerID, now); err != nil {
		return err
	}

	return a.touchUpdatedAt(ctx, gameID, now)
}

// upsertPlayer performs the read-modify-write under optimistic
// locking, per the spec's concurrency note.
func (a *Accumulator) upsertPlayer(ctx context.Context, gameID, playerID string, now time.Time) error {
	key := playerKey(gameID, playerID)
	return a.kv.WatchUpdate(ctx, key, func(current []byte) ([]byte, error) {
		var record PlayerRecord
		if len(current) > 0 {
			if err := json.Unmarshal(current, &record); err != nil {
				return nil, err
			}
		}
		if record.FirstSeen.IsZero() {
			record.FirstSeen = now
		}
		record.LastSeen = now
		record.Sessions++
		return json.Marshal(record)
	})
}

func (a *Accumulator) touchUpdatedAt(ctx context.Context, gameID string, now time.Time) error {
	return a.kv.Set(ctx, updatedKey(gameID), []byte(now.Format(time.RFC3339Nano)), 0)
}

// Read returns the current counters for gameID. Absent fields read as
// zero.
func (a *Accumulator) Read(ctx context.Context, gameID string) (Counters, error) {
	online, err := a.readInt(ctx, onlineKey(gameID))
	if err != nil {
		return Counters{}, err
	}
	inRooms, err := a.readInt(ctx, inRoomsKey(gameID))
	if err != nil {
		return Counters{}, err
	}
	rooms, err := a.readInt(ctx, roomsKey(gameID))
	if err != nil {
		return Counters{}, err
	}
	total, err := a.readInt(ctx, "stats:"+gameID+":total")
	if err != nil {
		return Counters{}, err
	}

	now := time.Now()
	today, err := a.kv.SCard(ctx, dailyKey(gameID, now))
	if err != nil {
		return Counters{}, err
	}
	month, err := a.kv.SCard(ctx, monthlyKey(gameID, now))
	if err != nil {
		return Counters{}, err
	}

	var updatedAt time.Time
	if raw, err := a.kv.Get(ctx, updatedKey(gameID)); err == nil {
		updatedAt, _ = time.Parse(time.RFC3339Nano, string(raw))
	} else if err != kv.ErrNotFound {
		return Counters{}, err
	}

	return Counters{
		Online:    online,
		InRooms:   inRooms,
		Rooms:     rooms,
		Total:     total,
		Today:     today,
		Month:     month,
		UpdatedAt: updatedAt,
	}, nil
}

// ReadPlayer returns the per-player record, or a zero-value record if
// the player has never been seen.
func (a *Accumulator) ReadPlayer(ctx context.Context, gameID, playerID string) (PlayerRecord, error) {
	raw, err := a.kv.Get(ctx, playerKey(gameID, playerID))
	if err != nil {
		if err == kv.ErrNotFound {
			return PlayerRecord{}, nil
		}
		return PlayerRecord{}, err
	}

	var record PlayerRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return PlayerRecord{}, err
	}
	return record, nil
}

func (a *Accumulator) readInt(ctx context.Context, key string) (int64, error) {
	raw, err := a.kv.Get(ctx, key)
	if err != nil {
		if err == kv.ErrNotFound {
			return 0, nil
		}
		return 0, err
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	// Incr/DecrClamped store plain decimal text, not JSON; fall back.
	var parsed int64
	if _, err := fmt.Sscanf(string(raw), "%d", &parsed); err != nil {
		return 0, nil
	}
	return parsed, nil
}
