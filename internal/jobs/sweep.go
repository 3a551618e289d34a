package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SweepFunc removes expired entries and reports how many it removed.
type SweepFunc func(context.Context) (int64, error)

type sweepTarget struct {
	name string
	fn   SweepFunc
}

// SweepJob periodically runs registered sweeps, such as the action guard's
// settled-key sweep.
type SweepJob struct {
	targets  []sweepTarget
	interval time.Duration
	done     chan struct{}
	stopped  sync.WaitGroup
	stopOnce sync.Once
}

func NewSweepJob(interval time.Duration) *SweepJob {
	return &SweepJob{
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Add registers a sweep. It must be called before Start.
func (j *SweepJob) Add(name string, fn SweepFunc) *SweepJob {
	j.targets = append(j.targets, sweepTarget{name: name, fn: fn})
	return j
}

func (j *SweepJob) Start() {
	j.stopped.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Int("targets", len(j.targets)).Msg("sweep job started")
}

func (j *SweepJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.stopped.Wait()
		log.Info().Msg("sweep job stopped")
	})
}

func (j *SweepJob) run() {
	defer j.stopped.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *SweepJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, target := range j.targets {
		j.runSweep(ctx, target.name, target.fn)
	}
}

func (j *SweepJob) runSweep(ctx context.Context, name string, fn SweepFunc) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to sweep %s", name)
	} else if count > 0 {
		log.Debug().Int64("count", count).Msgf("swept %s", name)
	}
}
