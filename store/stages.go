package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// verifyOwnership confirms claimToken matches the running job jobID,
// returning NotOwner otherwise. It is the shared gate
// every mutating dispatch-facing store call passes through
func (c *client) verifyOwnership(ctx context.Context, tx *sql.Tx, jobID int64, claimToken string) error {
	var currentToken sql.NullString
	var status string
	row := tx.QueryRowContext(ctx, `SELECT status, claim_token FROM job WHERE id = $1 FOR UPDATE`, jobID)
	if err := row.Scan(&status, &currentToken); err != nil {
		if err == sql.ErrNoRows {
			return contracts.NewNotFound("job %d not found", jobID)
		}
		return classifyDBError(err)
	}
	if contracts.JobStatus(status) != contracts.JobRunning {
		return contracts.NewNotOwner("job %d is not running", jobID)
	}
	if !currentToken.Valid || currentToken.String != claimToken {
		return contracts.NewNotOwner("claim token mismatch for job %d", jobID)
	}
	return nil
}

// CreateStages registers the full stage list before the agent runs
// anything. It is idempotent on (job_id, name): a stage that already
// exists is left untouched rather than erroring, so a
// crashed-and-restarted registration call is safe to repeat.
func (c *client) CreateStages(ctx context.Context, jobID int64, claimToken string, stages []StageSpec) error {
	c.incrCall("database")

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyDBError(err)
	}
	defer tx.Rollback()

	if err := c.verifyOwnership(ctx, tx, jobID, claimToken); err != nil {
		return err
	}

	for _, s := range stages {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO job_stage (job_id, name, stage_order, status, command, image)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (job_id, name) DO NOTHING
		`, jobID, s.Name, s.Order, contracts.StagePending, s.Command, s.Image); err != nil {
			return classifyDBError(err)
		}
	}

	return classifyDBError(tx.Commit())
}

// StartStage transitions a stage pending -> running.
func (c *client) StartStage(ctx context.Context, jobID int64, claimToken string, stageName string) error {
	return c.transitionStage(ctx, jobID, claimToken, stageName, contracts.StageRunning, nil, "")
}

// FinishStage transitions a stage running -> {success, failed, skipped}.
func (c *client) FinishStage(ctx context.Context, jobID int64, claimToken string, stageName string, status contracts.StageStatus, exitCode *int, errorMessage string) error {
	return c.transitionStage(ctx, jobID, claimToken, stageName, status, exitCode, errorMessage)
}

func (c *client) transitionStage(ctx context.Context, jobID int64, claimToken string, stageName string, to contracts.StageStatus, exitCode *int, errorMessage string) error {
	c.incrCall("database")

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyDBError(err)
	}
	defer tx.Rollback()

	if err := c.verifyOwnership(ctx, tx, jobID, claimToken); err != nil {
		return err
	}

	var stageID int64
	var from string
	row := tx.QueryRowContext(ctx, `
		SELECT id, status FROM job_stage WHERE job_id = $1 AND name = $2 FOR UPDATE
	`, jobID, stageName)
	if err := row.Scan(&stageID, &from); err != nil {
		if err == sql.ErrNoRows {
			return contracts.NewNotFound("stage %q on job %d not found", stageName, jobID)
		}
		return classifyDBError(err)
	}

	if !contracts.CanTransition(contracts.StageStatus(from), to) {
		return contracts.NewInvalidTransition("stage %q cannot move from %s to %s", stageName, from, to)
	}

	if to == contracts.StageRunning {
		if _, err := tx.ExecContext(ctx, `UPDATE job_stage SET status = $1, started_at = now() WHERE id = $2`, to, stageID); err != nil {
			return classifyDBError(err)
		}
	} else {
		if _, err := tx.ExecContext(ctx, `
			UPDATE job_stage SET
				status = $1,
				finished_at = now(),
				duration_ms = EXTRACT(EPOCH FROM (now() - started_at)) * 1000,
				exit_code = $2,
				error_message = $3
			WHERE id = $4
		`, to, exitCode, errorMessage, stageID); err != nil {
			return classifyDBError(err)
		}
	}

	return classifyDBError(tx.Commit())
}

// AppendStageLog implements append_stage_log: fails with
// NotOwner if the token does not match the job owning the stage. Idempotent
// on (stage_id, seq), so a batch resent after a dropped response is a
// no-op rather than a duplicate.
func (c *client) AppendStageLog(ctx context.Context, stageID int64, claimToken string, lines []contracts.StageLog) error {
	c.incrCall("database")

	if len(lines) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyDBError(err)
	}
	defer tx.Rollback()

	var jobID int64
	if err := tx.QueryRowContext(ctx, `SELECT job_id FROM job_stage WHERE id = $1`, stageID).Scan(&jobID); err != nil {
		if err == sql.ErrNoRows {
			return contracts.NewNotFound("stage %d not found", stageID)
		}
		return classifyDBError(err)
	}

	if err := c.verifyOwnership(ctx, tx, jobID, claimToken); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO stage_log (stage_id, seq, line, ts) VALUES ($1, $2, $3, $4)
		ON CONFLICT (stage_id, seq) DO NOTHING
	`)
	if err != nil {
		return classifyDBError(err)
	}
	defer stmt.Close()

	for _, l := range lines {
		ts := l.Ts
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, stageID, l.Seq, l.Line, ts); err != nil {
			return classifyDBError(err)
		}
	}

	return classifyDBError(tx.Commit())
}

// GetStagesForJob returns a job's stages ordered by declared execution
// order, for the UI and for tests asserting pipeline shape.
func (c *client) GetStagesForJob(ctx context.Context, jobID int64) ([]contracts.JobStage, error) {
	c.incrCall("database")

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, job_id, name, stage_order, status, command, image, started_at, finished_at, duration_ms, exit_code, error_message
		FROM job_stage WHERE job_id = $1 ORDER BY stage_order ASC
	`, jobID)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	var stages []contracts.JobStage
	for rows.Next() {
		var s contracts.JobStage
		if err := rows.Scan(&s.ID, &s.JobID, &s.Name, &s.StageOrder, &s.Status, &s.Command, &s.Image, &s.StartedAt, &s.FinishedAt, &s.DurationMs, &s.ExitCode, &s.ErrorMessage); err != nil {
			return nil, classifyDBError(err)
		}
		stages = append(stages, s)
	}
	return stages, classifyDBError(rows.Err())
}
