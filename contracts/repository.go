package contracts

import "time"

// Repository is a source repository Foundry has observed at least one
// webhook delivery or schedule for.
type Repository struct {
	ID              int          `json:"id"`
	Source          string       `json:"source"` // e.g. "github.com"
	Owner           string       `json:"owner"`
	Name            string       `json:"name"`
	CloneURL        string       `json:"cloneURL"`
	DefaultImage    string       `json:"defaultImage,omitempty"`
	Triggers        TriggerRules `json:"triggers"`
	BuildCount      int          `json:"buildCount"`
	SuccessCount    int          `json:"successCount"`
	FailureCount    int          `json:"failureCount"`
	LastBuildAt     *time.Time   `json:"lastBuildAt,omitempty"`
	PlatformMeta    string       `json:"platformMeta,omitempty"` // cached, opaque JSON blob
	InsertedAt      time.Time    `json:"insertedAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// TriggerRules govern which webhook deliveries for a repository result in
// an enqueued job.
type TriggerRules struct {
	Branches          []string `json:"branches"`
	PullRequests      bool     `json:"pullRequests"`
	PRTargetBranches  []string `json:"prTargetBranches,omitempty"`
}

// DefaultTriggerRules returns the trigger rules a newly observed
// repository is created with.
func DefaultTriggerRules() TriggerRules {
	return TriggerRules{
		Branches:     []string{"main", "master"},
		PullRequests: false,
	}
}

// AllowsBranch reports whether a push to branch should trigger a build.
func (t TriggerRules) AllowsBranch(branch string) bool {
	for _, b := range t.Branches {
		if b == branch {
			return true
		}
	}
	return false
}

// AllowsPullRequest reports whether a pull_request event against
// targetBranch should trigger a build.
func (t TriggerRules) AllowsPullRequest(targetBranch string) bool {
	if !t.PullRequests {
		return false
	}
	if len(t.PRTargetBranches) == 0 {
		return true
	}
	for _, b := range t.PRTargetBranches {
		if b == targetBranch {
			return true
		}
	}
	return false
}

// FullName returns the "owner/name" identity used in logs and job labels.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}
