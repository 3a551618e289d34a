// Package guard collapses rapid or concurrent invocations of a state-changing
// action into a single execution per key.
package guard

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Outcome reports whether a guarded function ran.
type Outcome int

const (
	Executed Outcome = iota
	Skipped
)

func (o Outcome) String() string {
	if o == Skipped {
		return "skipped"
	}
	return "executed"
}

type entry struct {
	key           string
	lastInvokedAt time.Time
	window        time.Duration
	inFlight      bool
}

type Guard struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

func New() *Guard {
	return NewWithClock(time.Now)
}

func NewWithClock(now func() time.Time) *Guard {
	return &Guard{
		entries: make(map[string]*entry),
		now:     now,
	}
}

// acquire marks key in flight unless it is busy or still inside its window.
func (g *Guard) acquire(key string, minInterval time.Duration) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	e, exists := g.entries[key]
	if !exists {
		e = &entry{key: key}
		g.entries[key] = e
	} else {
		if e.inFlight {
			return false
		}
		if now.Sub(e.lastInvokedAt) < minInterval {
			return false
		}
	}

	e.inFlight = true
	e.lastInvokedAt = now
	e.window = minInterval
	return true
}

func (g *Guard) settle(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if e, ok := g.entries[key]; ok {
		e.inFlight = false
	}
}

// Run executes fn unless key is in flight or was invoked less than
// minInterval ago, in which case it returns Skipped and a nil error.
// A panic in fn settles the key before propagating.
func (g *Guard) Run(ctx context.Context, key string, minInterval time.Duration, fn func(context.Context) error) (Outcome, error) {
	if !g.acquire(key, minInterval) {
		log.Debug().Str("key", key).Msg("guarded action skipped")
		return Skipped, nil
	}
	defer g.settle(key)

	return Executed, fn(ctx)
}

// Do is Run for functions that produce a value.
func Do[T any](ctx context.Context, g *Guard, key string, minInterval time.Duration, fn func(context.Context) (T, error)) (T, Outcome, error) {
	var result T
	outcome, err := g.Run(ctx, key, minInterval, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	return result, outcome, err
}

// InFlight reports whether key is currently executing.
func (g *Guard) InFlight(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	return ok && e.inFlight
}

func (g *Guard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Sweep drops settled entries whose debounce window has elapsed at now.
func (g *Guard) Sweep(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, e := range g.entries {
		if e.inFlight {
			continue
		}
		if now.Sub(e.lastInvokedAt) >= e.window {
			delete(g.entries, key)
			removed++
		}
	}
	return removed
}

// SweepExpired is Sweep at the guard's own clock.
func (g *Guard) SweepExpired(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return int64(g.Sweep(g.now())), nil
}
