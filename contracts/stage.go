package contracts

import "time"

// StageStatus is the per-stage state machine, independent of the parent
// job's state machine except at pipeline termination.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageSkipped StageStatus = "skipped"
)

// IsTerminal reports whether status is write-once.
func (s StageStatus) IsTerminal() bool {
	switch s {
	case StageSuccess, StageFailed, StageSkipped:
		return true
	}
	return false
}

// validStageTransitions enumerates the only allowed stage transitions;
// anything not listed here is rejected with InvalidTransition.
var validStageTransitions = map[StageStatus]map[StageStatus]bool{
	StagePending: {
		StageRunning: true,
		StageSkipped: true,
	},
	StageRunning: {
		StageSuccess: true,
		StageFailed:  true,
		StageSkipped: true,
	},
}

// CanTransition reports whether moving a stage from `from` to `to` is a
// legal transition under the stage state machine.
func CanTransition(from, to StageStatus) bool {
	allowed, ok := validStageTransitions[from]
	if !ok {
		return false
	}
	return allowed[to]
}

// JobStage is an ordered step within a job's pipeline.
type JobStage struct {
	ID           int64       `json:"id"`
	JobID        int64       `json:"jobId"`
	Name         string      `json:"name"`
	StageOrder   int         `json:"stageOrder"`
	Status       StageStatus `json:"status"`
	Command      string      `json:"command"`
	Image        string      `json:"image"`
	StartedAt    *time.Time  `json:"startedAt,omitempty"`
	FinishedAt   *time.Time  `json:"finishedAt,omitempty"`
	DurationMs   *int64      `json:"durationMs,omitempty"`
	ExitCode     *int        `json:"exitCode,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
}

// StageLog is a single append-only log line belonging to a stage. Seq is a
// monotonic counter scoped to the stage, used to make AppendStageLog
// idempotent under retry.
type StageLog struct {
	ID      int64     `json:"id"`
	StageID int64     `json:"stageId"`
	Seq     int64     `json:"seq"`
	Line    string    `json:"line"`
	Ts      time.Time `json:"ts"`
}
