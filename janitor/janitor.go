// Package janitor implements the stale-job reaper: a background loop
// that force-fails jobs whose agent has stopped reporting progress.
package janitor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Store is the subset of store.Client the janitor needs.
type Store interface {
	ReapStaleJobs(ctx context.Context, staleTimeout, idleTimeout time.Duration) ([]int64, error)
}

// Janitor periodically force-fails jobs that have gone quiet.
type Janitor struct {
	store        Store
	tickInterval time.Duration
	staleTimeout time.Duration
	idleTimeout  time.Duration
}

// New returns a Janitor that ticks every tickInterval, reaping jobs that
// have run longer than staleTimeout with no log activity in idleTimeout.
func New(store Store, tickInterval, staleTimeout, idleTimeout time.Duration) *Janitor {
	return &Janitor{
		store:        store,
		tickInterval: tickInterval,
		staleTimeout: staleTimeout,
		idleTimeout:  idleTimeout,
	}
}

// Run blocks until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.tick(ctx)
		}
	}
}

func (j *Janitor) tick(ctx context.Context) {
	reaped, err := j.store.ReapStaleJobs(ctx, j.staleTimeout, j.idleTimeout)
	if err != nil {
		log.Error().Err(err).Msg("Reaping stale jobs failed")
		return
	}
	for _, id := range reaped {
		log.Warn().Int64("jobId", id).Msg("Reaped stale job, agent stopped reporting progress")
	}
}
