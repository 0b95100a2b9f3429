package scheduler

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// Store is the subset of store.Client the scheduler loop needs, narrowed to
// a local interface so tests can substitute a fake without importing store.
type Store interface {
	DueSchedules(ctx context.Context, now time.Time) ([]contracts.Schedule, error)
	AdvanceSchedule(ctx context.Context, id int, prevLastRun *time.Time, newLastRun, newNextRun time.Time) (bool, error)
	EnqueueJob(ctx context.Context, repositoryID int, gitSHA, gitRef string, commit contracts.CommitMeta, scheduledJobID *int, prNumber *int) (int64, error)
}

// nowFunc exists so tests can pin the clock.
type nowFunc func() time.Time

// Loop ticks every tick_interval, enqueueing a job for every
// schedule whose next_run_at has passed and advancing it to its next
// occurrence via a compare-and-swap against last_run_at, so two server
// replicas racing the same tick enqueue the schedule at most once.
type Loop struct {
	store        Store
	tickInterval time.Duration
	now          nowFunc
	firesTotal   *prometheus.CounterVec
}

// NewLoop returns a Loop polling store every tickInterval, recording each
// schedule's fire outcome to firesTotal if non-nil.
func NewLoop(store Store, tickInterval time.Duration, firesTotal *prometheus.CounterVec) *Loop {
	return &Loop{store: store, tickInterval: tickInterval, now: time.Now, firesTotal: firesTotal}
}

func (l *Loop) recordFire(outcome string) {
	if l.firesTotal == nil {
		return
	}
	l.firesTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
}

// Run blocks until ctx is cancelled, ticking at l.tickInterval.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	now := l.now()
	due, err := l.store.DueSchedules(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Fetching due schedules failed")
		return
	}

	for _, sched := range due {
		l.fire(ctx, sched, now)
	}
}

func (l *Loop) fire(ctx context.Context, sched contracts.Schedule, now time.Time) {
	expr, err := Parse(sched.CronExpression)
	if err != nil {
		log.Error().Err(err).Int("scheduleId", sched.ID).Msg("Schedule has an unparsable cron expression, skipping")
		l.recordFire("bad_cron")
		return
	}

	loc, err := time.LoadLocation(sched.Timezone)
	if err != nil {
		loc = time.UTC
	}
	next, ok := expr.Next(now, loc)
	if !ok {
		log.Error().Int("scheduleId", sched.ID).Msg("Schedule's cron expression has no future occurrence")
		l.recordFire("no_future_occurrence")
		return
	}

	advanced, err := l.store.AdvanceSchedule(ctx, sched.ID, sched.LastRunAt, now, next)
	if err != nil {
		log.Error().Err(err).Int("scheduleId", sched.ID).Msg("Advancing schedule failed")
		l.recordFire("advance_error")
		return
	}
	if !advanced {
		// another replica already claimed this tick for the schedule
		l.recordFire("lost_race")
		return
	}

	scheduledJobID := sched.ID
	gitRef := "refs/heads/" + sched.Branch
	if _, err := l.store.EnqueueJob(ctx, sched.RepositoryID, contracts.UnresolvedSHA, gitRef, contracts.CommitMeta{}, &scheduledJobID, nil); err != nil {
		log.Error().Err(err).Int("scheduleId", sched.ID).Msg("Enqueueing scheduled job failed")
		l.recordFire("enqueue_error")
		return
	}
	l.recordFire("enqueued")
}
