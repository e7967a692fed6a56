package rooms

import (
	"context"
	"crypto/rand"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gamerelay/internal/apierr"
	"gamerelay/internal/kv"
	"gamerelay/internal/stats"
)

// codeAlphabet omits 0/O/1/I/L, per spec.md §4.5.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeLength = 4

// DefaultMaxCreateRetries bounds retries on 409 AlreadyExists during
// random code generation, per spec.md §9's code-collision-retries
// note — used when a Registry is constructed with a zero retry count.
const DefaultMaxCreateRetries = 5

// Registry is the Room Registry & Code Allocator (spec.md §4.5): it
// generates codes, and maps a (gameId, code) pair to its live Actor,
// spawning one on demand and dropping it once the room hibernates.
type Registry struct {
	mu     sync.Mutex
	actors map[string]*Actor

	store            kv.Store
	stats            *stats.Accumulator
	logger           *slog.Logger
	tickInterval     time.Duration
	maxCreateRetries int

	// codeGen is overridden in tests to force collisions deterministically.
	codeGen func() (string, error)
}

// New constructs a Registry backed by store, reporting lifecycle
// events to accumulator. tickInterval configures each spawned Actor's
// players_sync broadcast period and maxCreateRetries bounds how many
// times Create retries a colliding code, both falling back to their
// defaults when zero.
func New(store kv.Store, accumulator *stats.Accumulator, logger *slog.Logger, tickInterval time.Duration, maxCreateRetries int) *Registry {
	if maxCreateRetries <= 0 {
		maxCreateRetries = DefaultMaxCreateRetries
	}
	return &Registry{
		actors:           make(map[string]*Actor),
		store:            store,
		stats:            accumulator,
		logger:           logger,
		tickInterval:     tickInterval,
		maxCreateRetries: maxCreateRetries,
		codeGen:          generateCode,
	}
}

func actorKey(gameID, code string) string {
	return gameID + ":" + code
}

// generateCode returns a random 4-character code from the unambiguous
// alphabet.
func generateCode() (string, error) {
	b := make([]byte, codeLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	out := make([]byte, codeLength)
	for i, v := range b {
		out[i] = codeAlphabet[int(v)%len(codeAlphabet)]
	}
	return string(out), nil
}

// acquire returns the live Actor for (gameID, code), spawning one if
// none is currently resident. A spawned Actor cold-boots lazily: it
// may turn out there is no snapshot, in which case the first command
// against it will report NotFound.
func (reg *Registry) acquire(gameID, code string) *Actor {
	code = strings.ToUpper(code)
	key := actorKey(gameID, code)

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if actor, ok := reg.actors[key]; ok {
		return actor
	}

	actor := newActor(gameID, code, reg.store, reg.stats, reg.logger, reg.tickInterval, func() {
		reg.mu.Lock()
		delete(reg.actors, key)
		reg.mu.Unlock()
	})
	reg.actors[key] = actor
	return actor
}

// Create allocates a fresh code and initializes a Room for it, owned
// by hostID. Tries at most maxCreateRetries codes in total before
// giving up on collisions.
func (reg *Registry) Create(ctx context.Context, gameID, hostID string) (string, *Actor, error) {
	for attempt := 0; attempt < reg.maxCreateRetries; attempt++ {
		code, err := reg.codeGen()
		if err != nil {
			return "", nil, err
		}

		actor := reg.acquire(gameID, code)
		if err := actor.Create(ctx, hostID); err != nil {
			continue
		}
		if reg.stats != nil {
			if err := reg.stats.Track(ctx, gameID, stats.EventRoomCreate, ""); err != nil {
				reg.logger.Warn("stats track failed", "event", stats.EventRoomCreate, "error", err)
			}
		}
		return code, actor, nil
	}
	// Every attempt hit a code already in use — surface the
	// spec-mandated 409, not the actor's internal 400.
	return "", nil, apierr.ErrRoomExists
}

// Lookup returns the Actor for an existing (gameID, code) pair,
// without creating it. Callers must still handle a NotFound reply
// from the Actor itself — a code that was never created, or whose
// room already hibernated, resolves to a fresh Actor with no state.
func (reg *Registry) Lookup(gameID, code string) *Actor {
	return reg.acquire(gameID, code)
}
