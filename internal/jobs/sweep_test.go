package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/bidlink/marketplace-core/internal/guard"
)

func TestSweepJob(t *testing.T) {
	t.Run("sweep runs every target", func(t *testing.T) {
		var a, b atomic.Int32
		job := NewSweepJob(time.Minute).
			Add("a", func(ctx context.Context) (int64, error) { a.Add(1); return 2, nil }).
			Add("b", func(ctx context.Context) (int64, error) { b.Add(1); return 0, errors.New("boom") })

		job.sweep()

		assert.Equal(t, int32(1), a.Load())
		assert.Equal(t, int32(1), b.Load())
	})

	t.Run("start and stop", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		var calls atomic.Int32
		job := NewSweepJob(5 * time.Millisecond).
			Add("counter", func(ctx context.Context) (int64, error) { calls.Add(1); return 1, nil })

		job.Start()
		assert.Eventually(t, func() bool { return calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
		job.Stop()
		job.Stop()
	})

	t.Run("sweeps settled guard keys", func(t *testing.T) {
		clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		g := guard.NewWithClock(func() time.Time { return clock })
		g.Run(context.Background(), "confirm-contact:p-1", time.Second, func(ctx context.Context) error { return nil })

		job := NewSweepJob(time.Minute).Add("guard keys", g.SweepExpired)

		job.sweep()
		assert.Equal(t, 1, g.Len())

		clock = clock.Add(time.Second)
		job.sweep()
		assert.Equal(t, 0, g.Len())
	})
}
