package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

type fakeSchedulerStore struct {
	due             []contracts.Schedule
	advanceResult   bool
	advanceErr      error
	advanceCalls    int
	enqueuedRepo    int
	enqueuedRef     string
	enqueuedSHA     string
	enqueuedSchedID *int
}

func (f *fakeSchedulerStore) DueSchedules(ctx context.Context, now time.Time) ([]contracts.Schedule, error) {
	return f.due, nil
}

func (f *fakeSchedulerStore) AdvanceSchedule(ctx context.Context, id int, prevLastRun *time.Time, newLastRun, newNextRun time.Time) (bool, error) {
	f.advanceCalls++
	return f.advanceResult, f.advanceErr
}

func (f *fakeSchedulerStore) EnqueueJob(ctx context.Context, repositoryID int, gitSHA, gitRef string, commit contracts.CommitMeta, scheduledJobID *int, prNumber *int) (int64, error) {
	f.enqueuedRepo = repositoryID
	f.enqueuedRef = gitRef
	f.enqueuedSHA = gitSHA
	f.enqueuedSchedID = scheduledJobID
	return 42, nil
}

func TestFireEnqueuesJobWhenAdvanceWins(t *testing.T) {
	store := &fakeSchedulerStore{advanceResult: true}
	l := NewLoop(store, time.Second, nil)

	sched := contracts.Schedule{ID: 7, RepositoryID: 99, CronExpression: "0 0 * * * * *", Branch: "main", Timezone: "UTC"}
	l.fire(context.Background(), sched, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, 99, store.enqueuedRepo)
	assert.Equal(t, "refs/heads/main", store.enqueuedRef)
	assert.Equal(t, contracts.UnresolvedSHA, store.enqueuedSHA)
	require.NotNil(t, store.enqueuedSchedID)
	assert.Equal(t, 7, *store.enqueuedSchedID)
}

func TestFireSkipsEnqueueWhenAnotherReplicaWonTheRace(t *testing.T) {
	store := &fakeSchedulerStore{advanceResult: false}
	l := NewLoop(store, time.Second, nil)

	sched := contracts.Schedule{ID: 7, RepositoryID: 99, CronExpression: "0 0 * * * * *", Branch: "main", Timezone: "UTC"}
	l.fire(context.Background(), sched, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	assert.Equal(t, 1, store.advanceCalls)
	assert.Equal(t, 0, store.enqueuedRepo)
}

func TestFireSkipsUnparsableCronExpression(t *testing.T) {
	store := &fakeSchedulerStore{advanceResult: true}
	l := NewLoop(store, time.Second, nil)

	sched := contracts.Schedule{ID: 7, RepositoryID: 99, CronExpression: "not a cron", Branch: "main"}
	l.fire(context.Background(), sched, time.Now())

	assert.Equal(t, 0, store.advanceCalls)
}

func TestTickFiresEveryDueSchedule(t *testing.T) {
	store := &fakeSchedulerStore{
		advanceResult: true,
		due: []contracts.Schedule{
			{ID: 1, RepositoryID: 10, CronExpression: "0 0 * * * * *", Branch: "main", Timezone: "UTC"},
		},
	}
	l := NewLoop(store, time.Second, nil)
	l.tick(context.Background())

	assert.Equal(t, 1, store.advanceCalls)
	assert.Equal(t, 10, store.enqueuedRepo)
}
