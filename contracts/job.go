package contracts

import "time"

// JobStatus is the top-level job state machine, queued -> running ->
// {success, failed, cancelled}.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSuccess   JobStatus = "success"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// IsTerminal reports whether status is one that a job never leaves.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSuccess, JobFailed, JobCancelled:
		return true
	}
	return false
}

// UnresolvedSHA is the sentinel git_sha a scheduled job carries when the
// scheduler could not cheaply resolve the default branch tip; the agent
// resolves it during clone and uses the real SHA for the rest of that run.
// The real SHA is not written back, so the stored job keeps the sentinel.
const UnresolvedSHA = "HEAD"

// CommitMeta is the denormalized commit information carried on a Job so
// list views don't need to join out to the SCM.
type CommitMeta struct {
	Message string `json:"message,omitempty"`
	Author  string `json:"author,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Job is a single execution of a repository's pipeline.
type Job struct {
	ID              int64      `json:"id"`
	RepositoryID    int        `json:"repositoryId"`
	GitSHA          string     `json:"gitSha"`
	GitRef          string     `json:"gitRef"`
	Status          JobStatus  `json:"status"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	ClaimedBy       *string    `json:"claimedBy,omitempty"`
	ClaimToken      *string    `json:"claimToken,omitempty"`
	Commit          CommitMeta `json:"commit"`
	ScheduledJobID  *int       `json:"scheduledJobId,omitempty"`
	PRNumber        *int       `json:"prNumber,omitempty"`
	ErrorMessage    string     `json:"errorMessage,omitempty"`
}

// Validate checks that a job's terminal/timestamp fields are internally
// consistent. The store does not call it when scanning rows; it is used
// by tests.
func (j Job) Validate() error {
	if j.Status.IsTerminal() {
		if j.FinishedAt == nil {
			return NewInvalidTransition("terminal job %d has no finished_at", j.ID)
		}
	} else if j.FinishedAt != nil {
		return NewInvalidTransition("non-terminal job %d has finished_at set", j.ID)
	}

	if j.Status != JobQueued && j.StartedAt == nil {
		return NewInvalidTransition("job %d in status %s has no started_at", j.ID, j.Status)
	}

	if j.Status == JobRunning && j.ClaimToken == nil {
		return NewInvalidTransition("running job %d has no claim_token", j.ID)
	}
	if j.Status != JobRunning && j.ClaimToken != nil {
		return NewInvalidTransition("non-running job %d retains a claim_token", j.ID)
	}

	return nil
}
