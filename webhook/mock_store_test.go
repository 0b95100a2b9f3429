package webhook

import (
	"context"
	"time"

	"github.com/Lucas-William-Bateson/foundry/contracts"
	"github.com/Lucas-William-Bateson/foundry/store"
)

// mockStore is a minimal in-memory store.Client stub for exercising the
// ingress handler without a database.
type mockStore struct {
	repo            *contracts.Repository
	deliveries      map[string]*contracts.WebhookDelivery
	enqueuedJobs    []contracts.Job
	nextJobID       int64
	getOrCreateErr  error
	enqueueErr      error
}

func newMockStore() *mockStore {
	return &mockStore{deliveries: map[string]*contracts.WebhookDelivery{}}
}

func (m *mockStore) Connect(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                       { return nil }

func (m *mockStore) GetOrCreateRepository(ctx context.Context, source, owner, name, cloneURL string) (*contracts.Repository, error) {
	if m.getOrCreateErr != nil {
		return nil, m.getOrCreateErr
	}
	if m.repo != nil {
		return m.repo, nil
	}
	m.repo = &contracts.Repository{ID: 1, Source: source, Owner: owner, Name: name, CloneURL: cloneURL, Triggers: contracts.DefaultTriggerRules()}
	return m.repo, nil
}

func (m *mockStore) GetRepository(ctx context.Context, id int) (*contracts.Repository, error) {
	return m.repo, nil
}
func (m *mockStore) UpdateTriggerRules(ctx context.Context, id int, rules contracts.TriggerRules) error {
	m.repo.Triggers = rules
	return nil
}
func (m *mockStore) RecordJobCompletion(ctx context.Context, repositoryID int, status contracts.JobStatus, finishedAt time.Time) error {
	return nil
}
func (m *mockStore) ListJobsForRepository(ctx context.Context, repositoryID int, status contracts.JobStatus, pageNumber, pageSize int) ([]contracts.Job, error) {
	return m.enqueuedJobs, nil
}

func (m *mockStore) EnqueueJob(ctx context.Context, repositoryID int, gitSHA, gitRef string, commit contracts.CommitMeta, scheduledJobID *int, prNumber *int) (int64, error) {
	if m.enqueueErr != nil {
		return 0, m.enqueueErr
	}
	m.nextJobID++
	m.enqueuedJobs = append(m.enqueuedJobs, contracts.Job{ID: m.nextJobID, RepositoryID: repositoryID, GitSHA: gitSHA, GitRef: gitRef, Commit: commit, PRNumber: prNumber})
	return m.nextJobID, nil
}
func (m *mockStore) ClaimNextJob(ctx context.Context, agentID string) (*contracts.Job, string, error) {
	return nil, "", nil
}
func (m *mockStore) GetJob(ctx context.Context, id int64) (*contracts.Job, error) { return nil, nil }
func (m *mockStore) CancelJob(ctx context.Context, id int64) error                { return nil }
func (m *mockStore) CompleteJob(ctx context.Context, jobID int64, claimToken string, status contracts.JobStatus, errorMessage string) error {
	return nil
}
func (m *mockStore) UpdateResolvedSHA(ctx context.Context, jobID int64, sha string) error { return nil }
func (m *mockStore) ReapStaleJobs(ctx context.Context, staleTimeout, idleTimeout time.Duration) ([]int64, error) {
	return nil, nil
}

func (m *mockStore) CreateStages(ctx context.Context, jobID int64, claimToken string, stages []store.StageSpec) error {
	return nil
}
func (m *mockStore) StartStage(ctx context.Context, jobID int64, claimToken string, stageName string) error {
	return nil
}
func (m *mockStore) FinishStage(ctx context.Context, jobID int64, claimToken string, stageName string, status contracts.StageStatus, exitCode *int, errorMessage string) error {
	return nil
}
func (m *mockStore) AppendStageLog(ctx context.Context, stageID int64, claimToken string, lines []contracts.StageLog) error {
	return nil
}
func (m *mockStore) GetStagesForJob(ctx context.Context, jobID int64) ([]contracts.JobStage, error) {
	return nil, nil
}

func (m *mockStore) DueSchedules(ctx context.Context, now time.Time) ([]contracts.Schedule, error) {
	return nil, nil
}
func (m *mockStore) AdvanceSchedule(ctx context.Context, id int, prevLastRun *time.Time, newLastRun, newNextRun time.Time) (bool, error) {
	return true, nil
}

func (m *mockStore) InsertDelivery(ctx context.Context, d *contracts.WebhookDelivery) (bool, error) {
	if existing, ok := m.deliveries[d.Provider+"/"+d.DeliveryID]; ok {
		d.ID = existing.ID
		return false, nil
	}
	d.ID = int64(len(m.deliveries) + 1)
	m.deliveries[d.Provider+"/"+d.DeliveryID] = d
	return true, nil
}
func (m *mockStore) MarkDeliveryProcessed(ctx context.Context, id int64, jobID *int64, errorMessage string) error {
	for _, d := range m.deliveries {
		if d.ID == id {
			d.Processed = true
			d.JobID = jobID
			d.ErrorMessage = errorMessage
		}
	}
	return nil
}

func (m *mockStore) MarkDeliveryFailed(ctx context.Context, id int64, errorMessage string) error {
	for _, d := range m.deliveries {
		if d.ID == id {
			d.Processed = false
			d.ErrorMessage = errorMessage
		}
	}
	return nil
}

var _ store.Client = (*mockStore)(nil)
