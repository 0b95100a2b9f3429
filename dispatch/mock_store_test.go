package dispatch

import (
	"context"
	"time"

	"github.com/Lucas-William-Bateson/foundry/contracts"
	"github.com/Lucas-William-Bateson/foundry/store"
)

// mockStore is a hand-rolled store.Client stub scoped to what the dispatch
// handlers exercise, in the same spirit as webhook's mockStore.
type mockStore struct {
	job            *contracts.Job
	claimToken     string
	stages         []contracts.JobStage
	logs           []contracts.StageLog
	completeStatus contracts.JobStatus
	completeErr    error
	claimNextErr   error
}

func newMockStore(job *contracts.Job, claimToken string) *mockStore {
	return &mockStore{job: job, claimToken: claimToken}
}

func (m *mockStore) Connect(ctx context.Context) error { return nil }
func (m *mockStore) Close() error                       { return nil }

func (m *mockStore) GetOrCreateRepository(ctx context.Context, source, owner, name, cloneURL string) (*contracts.Repository, error) {
	return nil, nil
}
func (m *mockStore) GetRepository(ctx context.Context, id int) (*contracts.Repository, error) {
	return &contracts.Repository{ID: id, CloneURL: "https://example.com/acme/widgets.git"}, nil
}
func (m *mockStore) UpdateTriggerRules(ctx context.Context, id int, rules contracts.TriggerRules) error {
	return nil
}
func (m *mockStore) RecordJobCompletion(ctx context.Context, repositoryID int, status contracts.JobStatus, finishedAt time.Time) error {
	return nil
}
func (m *mockStore) ListJobsForRepository(ctx context.Context, repositoryID int, status contracts.JobStatus, pageNumber, pageSize int) ([]contracts.Job, error) {
	return nil, nil
}

func (m *mockStore) EnqueueJob(ctx context.Context, repositoryID int, gitSHA, gitRef string, commit contracts.CommitMeta, scheduledJobID *int, prNumber *int) (int64, error) {
	return 0, nil
}
func (m *mockStore) ClaimNextJob(ctx context.Context, agentID string) (*contracts.Job, string, error) {
	if m.claimNextErr != nil {
		return nil, "", m.claimNextErr
	}
	if m.job == nil {
		return nil, "", nil
	}
	agent := agentID
	m.job.ClaimedBy = &agent
	return m.job, m.claimToken, nil
}
func (m *mockStore) GetJob(ctx context.Context, id int64) (*contracts.Job, error) { return m.job, nil }
func (m *mockStore) CancelJob(ctx context.Context, id int64) error                { return nil }
func (m *mockStore) CompleteJob(ctx context.Context, jobID int64, claimToken string, status contracts.JobStatus, errorMessage string) error {
	if claimToken != m.claimToken {
		return contracts.NewNotOwner("claim token mismatch for job %d", jobID)
	}
	if m.completeErr != nil {
		return m.completeErr
	}
	m.completeStatus = status
	return nil
}
func (m *mockStore) UpdateResolvedSHA(ctx context.Context, jobID int64, sha string) error { return nil }
func (m *mockStore) ReapStaleJobs(ctx context.Context, staleTimeout, idleTimeout time.Duration) ([]int64, error) {
	return nil, nil
}

func (m *mockStore) CreateStages(ctx context.Context, jobID int64, claimToken string, stages []store.StageSpec) error {
	if claimToken != m.claimToken {
		return contracts.NewNotOwner("claim token mismatch for job %d", jobID)
	}
	for i, s := range stages {
		m.stages = append(m.stages, contracts.JobStage{ID: int64(i + 1), JobID: jobID, Name: s.Name, StageOrder: s.Order, Status: contracts.StagePending, Command: s.Command, Image: s.Image})
	}
	return nil
}
func (m *mockStore) StartStage(ctx context.Context, jobID int64, claimToken string, stageName string) error {
	if claimToken != m.claimToken {
		return contracts.NewNotOwner("claim token mismatch for job %d", jobID)
	}
	for i := range m.stages {
		if m.stages[i].Name == stageName {
			m.stages[i].Status = contracts.StageRunning
			return nil
		}
	}
	return contracts.NewNotFound("stage %q not found", stageName)
}
func (m *mockStore) FinishStage(ctx context.Context, jobID int64, claimToken string, stageName string, status contracts.StageStatus, exitCode *int, errorMessage string) error {
	if claimToken != m.claimToken {
		return contracts.NewNotOwner("claim token mismatch for job %d", jobID)
	}
	for i := range m.stages {
		if m.stages[i].Name == stageName {
			m.stages[i].Status = status
			m.stages[i].ExitCode = exitCode
			return nil
		}
	}
	return contracts.NewNotFound("stage %q not found", stageName)
}
func (m *mockStore) AppendStageLog(ctx context.Context, stageID int64, claimToken string, lines []contracts.StageLog) error {
	if claimToken != m.claimToken {
		return contracts.NewNotOwner("claim token mismatch for stage %d", stageID)
	}
	m.logs = append(m.logs, lines...)
	return nil
}
func (m *mockStore) GetStagesForJob(ctx context.Context, jobID int64) ([]contracts.JobStage, error) {
	return m.stages, nil
}

func (m *mockStore) DueSchedules(ctx context.Context, now time.Time) ([]contracts.Schedule, error) {
	return nil, nil
}
func (m *mockStore) AdvanceSchedule(ctx context.Context, id int, prevLastRun *time.Time, newLastRun, newNextRun time.Time) (bool, error) {
	return true, nil
}

func (m *mockStore) InsertDelivery(ctx context.Context, d *contracts.WebhookDelivery) (bool, error) {
	return true, nil
}
func (m *mockStore) MarkDeliveryProcessed(ctx context.Context, id int64, jobID *int64, errorMessage string) error {
	return nil
}
func (m *mockStore) MarkDeliveryFailed(ctx context.Context, id int64, errorMessage string) error {
	return nil
}

var _ store.Client = (*mockStore)(nil)
