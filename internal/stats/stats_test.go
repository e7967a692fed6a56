package stats_test

import (
	"context"
	"testing"

	"gamerelay/internal/kv"
	"gamerelay/internal/stats"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulator_SessionStartIncrementsOnlineAndTotal(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	require.NoError(t, acc.Track(ctx, "game1", stats.EventSessionStart, "alice"))
	require.NoError(t, acc.Track(ctx, "game1", stats.EventSessionStart, "bob"))

	counters, err := acc.Read(ctx, "game1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, counters.Online)
	assert.EqualValues(t, 2, counters.Total)
	assert.EqualValues(t, 2, counters.Today)
	assert.EqualValues(t, 2, counters.Month)
	assert.False(t, counters.UpdatedAt.IsZero())
}

func TestAccumulator_RepeatSessionDoesNotInflateTotal(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	require.NoError(t, acc.Track(ctx, "game1", stats.EventSessionStart, "alice"))
	require.NoError(t, acc.Track(ctx, "game1", stats.EventSessionStart, "alice"))

	counters, err := acc.Read(ctx, "game1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, counters.Online, "online counts sessions, not unique players")
	assert.EqualValues(t, 1, counters.Total, "total dedups by player across all time")
	assert.EqualValues(t, 1, counters.Today)
}

func TestAccumulator_SessionEndClampsAtZero(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	require.NoError(t, acc.Track(ctx, "game1", stats.EventSessionEnd, "alice"))
	require.NoError(t, acc.Track(ctx, "game1", stats.EventSessionEnd, "alice"))

	counters, err := acc.Read(ctx, "game1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, counters.Online)
}

func TestAccumulator_RoomLifecycleCounters(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	require.NoError(t, acc.Track(ctx, "game1", stats.EventRoomCreate, ""))
	require.NoError(t, acc.Track(ctx, "game1", stats.EventRoomCreate, ""))
	require.NoError(t, acc.Track(ctx, "game1", stats.EventRoomClose, ""))

	counters, err := acc.Read(ctx, "game1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, counters.Rooms)
}

func TestAccumulator_InRoomsTracksJoinLeave(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	require.NoError(t, acc.Track(ctx, "game1", stats.EventRoomJoin, "alice"))
	require.NoError(t, acc.Track(ctx, "game1", stats.EventRoomJoin, "bob"))
	require.NoError(t, acc.Track(ctx, "game1", stats.EventRoomLeave, "alice"))

	counters, err := acc.Read(ctx, "game1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, counters.InRooms)
}

func TestAccumulator_ReadAbsentGameReturnsZeros(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	counters, err := acc.Read(ctx, "never-seen")
	require.NoError(t, err)
	assert.Zero(t, counters.Online)
	assert.Zero(t, counters.Total)
	assert.True(t, counters.UpdatedAt.IsZero())
}

func TestAccumulator_PlayerRecordUpsert(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	require.NoError(t, acc.Track(ctx, "game1", stats.EventSessionStart, "alice"))
	first, err := acc.ReadPlayer(ctx, "game1", "alice")
	require.NoError(t, err)
	require.False(t, first.FirstSeen.IsZero())
	assert.EqualValues(t, 1, first.Sessions)
	assert.Equal(t, first.FirstSeen, first.LastSeen)

	require.NoError(t, acc.Track(ctx, "game1", stats.EventSessionStart, "alice"))
	second, err := acc.ReadPlayer(ctx, "game1", "alice")
	require.NoError(t, err)
	assert.Equal(t, first.FirstSeen, second.FirstSeen, "firstSeen must not move on repeat sessions")
	assert.EqualValues(t, 2, second.Sessions)
}

func TestAccumulator_ReadPlayerAbsentReturnsZeroValue(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	record, err := acc.ReadPlayer(ctx, "game1", "nobody")
	require.NoError(t, err)
	assert.True(t, record.FirstSeen.IsZero())
	assert.Zero(t, record.Sessions)
}

func TestAccumulator_CountersAreScopedPerGame(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	require.NoError(t, acc.Track(ctx, "game1", stats.EventSessionStart, "alice"))
	require.NoError(t, acc.Track(ctx, "game2", stats.EventSessionStart, "alice"))

	g1, err := acc.Read(ctx, "game1")
	require.NoError(t, err)
	g2, err := acc.Read(ctx, "game2")
	require.NoError(t, err)

	assert.EqualValues(t, 1, g1.Online)
	assert.EqualValues(t, 1, g2.Online)
}

func TestAccumulator_UnknownEventRejected(t *testing.T) {
	ctx := context.Background()
	acc := stats.New(kv.NewMemoryStore())

	err := acc.Track(ctx, "game1", stats.Event("bogus"), "alice")
	assert.Error(t, err)
}
