package store

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// EnqueueJob inserts a new queued job. It is not idempotent; callers (the
// webhook ingress, the scheduler) are responsible for deduping before
// calling it
func (c *client) EnqueueJob(ctx context.Context, repositoryID int, gitSHA, gitRef string, commit contracts.CommitMeta, scheduledJobID *int, prNumber *int) (int64, error) {
	c.incrCall("database")

	var id int64
	row := c.db.QueryRowContext(ctx, `
		INSERT INTO job (repository_id, git_sha, git_ref, status, commit_message, commit_author, commit_url, scheduled_job_id, pr_number)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, repositoryID, gitSHA, gitRef, contracts.JobQueued, commit.Message, commit.Author, commit.URL, scheduledJobID, prNumber)

	if err := row.Scan(&id); err != nil {
		return 0, classifyDBError(err)
	}
	return id, nil
}

// ClaimNextJob implements the atomic claim protocol from: a
// row-level lock with skip-on-conflict semantics ensures parallel agents
// never receive the same job. SELECT ... FOR UPDATE SKIP LOCKED inside a
// single transaction is the mechanism; if the queue is empty it returns
// (nil, "", nil).
func (c *client) ClaimNextJob(ctx context.Context, agentID string) (*contracts.Job, string, error) {
	c.incrCall("database")

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", classifyDBError(err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT id, repository_id, git_sha, git_ref, created_at, commit_message, commit_author, commit_url, scheduled_job_id, pr_number
		FROM job
		WHERE status = $1
		ORDER BY id ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, contracts.JobQueued)

	var j contracts.Job
	j.Status = contracts.JobQueued
	if err := row.Scan(&j.ID, &j.RepositoryID, &j.GitSHA, &j.GitRef, &j.CreatedAt, &j.Commit.Message, &j.Commit.Author, &j.Commit.URL, &j.ScheduledJobID, &j.PRNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, "", nil
		}
		return nil, "", classifyDBError(err)
	}

	claimToken := uuid.New().String()
	now := time.Now().UTC()

	if _, err := tx.ExecContext(ctx, `
		UPDATE job SET status = $1, started_at = $2, claimed_by = $3, claim_token = $4
		WHERE id = $5
	`, contracts.JobRunning, now, agentID, claimToken, j.ID); err != nil {
		return nil, "", classifyDBError(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", classifyDBError(err)
	}

	j.Status = contracts.JobRunning
	j.StartedAt = &now
	j.ClaimedBy = &agentID
	j.ClaimToken = &claimToken

	log.Debug().Int64("jobId", j.ID).Str("agentId", agentID).Msg("Claimed job")

	return &j, claimToken, nil
}

func (c *client) GetJob(ctx context.Context, id int64) (*contracts.Job, error) {
	c.incrCall("database")

	row := c.db.QueryRowContext(ctx, `
		SELECT id, repository_id, git_sha, git_ref, status, created_at, started_at, finished_at,
			claimed_by, claim_token, commit_message, commit_author, commit_url, scheduled_job_id, pr_number, error_message
		FROM job WHERE id = $1
	`, id)

	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, contracts.NewNotFound("job %d not found", id)
	}
	if err != nil {
		return nil, classifyDBError(err)
	}
	return j, nil
}

func scanJob(row *sql.Row) (*contracts.Job, error) {
	var j contracts.Job
	var claimToken sql.NullString
	var claimedBy sql.NullString
	err := row.Scan(&j.ID, &j.RepositoryID, &j.GitSHA, &j.GitRef, &j.Status, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
		&claimedBy, &claimToken, &j.Commit.Message, &j.Commit.Author, &j.Commit.URL, &j.ScheduledJobID, &j.PRNumber, &j.ErrorMessage)
	if err != nil {
		return nil, err
	}
	if claimedBy.Valid {
		j.ClaimedBy = &claimedBy.String
	}
	if claimToken.Valid {
		j.ClaimToken = &claimToken.String
	}
	return &j, nil
}

// CancelJob implements cancel_job: only valid for queued jobs.
func (c *client) CancelJob(ctx context.Context, id int64) error {
	c.incrCall("database")

	res, err := c.db.ExecContext(ctx, `
		UPDATE job SET status = $1, finished_at = now(), error_message = 'cancelled before claim'
		WHERE id = $2 AND status = $3
	`, contracts.JobCancelled, id, contracts.JobQueued)
	if err != nil {
		return classifyDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classifyDBError(err)
	}
	if n == 0 {
		return contracts.NewInvalidTransition("job %d is not queued", id)
	}
	return nil
}

// CompleteJob implements complete_job: running -> terminal,
// enforcing claim-token ownership.
func (c *client) CompleteJob(ctx context.Context, jobID int64, claimToken string, status contracts.JobStatus, errorMessage string) error {
	c.incrCall("database")

	if !status.IsTerminal() {
		return contracts.NewInvalidTransition("complete_job requires a terminal status, got %s", status)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyDBError(err)
	}
	defer tx.Rollback()

	var currentStatus string
	var currentToken sql.NullString
	var repositoryID int
	row := tx.QueryRowContext(ctx, `SELECT status, claim_token, repository_id FROM job WHERE id = $1 FOR UPDATE`, jobID)
	if err := row.Scan(&currentStatus, &currentToken, &repositoryID); err != nil {
		if err == sql.ErrNoRows {
			return contracts.NewNotFound("job %d not found", jobID)
		}
		return classifyDBError(err)
	}

	if contracts.JobStatus(currentStatus) != contracts.JobRunning {
		return contracts.NewInvalidTransition("job %d is %s, not running", jobID, currentStatus)
	}
	if !currentToken.Valid || currentToken.String != claimToken {
		return contracts.NewNotOwner("claim token mismatch for job %d", jobID)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE job SET status = $1, finished_at = now(), claim_token = NULL, error_message = $2
		WHERE id = $3
	`, status, errorMessage, jobID); err != nil {
		return classifyDBError(err)
	}

	if err := bumpRepoCountersTx(ctx, tx, repositoryID, status); err != nil {
		return err
	}

	return classifyDBError(tx.Commit())
}

func bumpRepoCountersTx(ctx context.Context, tx *sql.Tx, repositoryID int, status contracts.JobStatus) error {
	successDelta, failureDelta := 0, 0
	switch status {
	case contracts.JobSuccess:
		successDelta = 1
	case contracts.JobFailed:
		failureDelta = 1
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE repo SET
			build_count = build_count + 1,
			success_count = success_count + $1,
			failure_count = failure_count + $2,
			last_build_at = now(),
			updated_at = now()
		WHERE id = $3
	`, successDelta, failureDelta, repositoryID)
	return classifyDBError(err)
}

// RecordJobCompletion is used by the janitor to bump counters when it
// force-completes a job outside the normal complete_job path.
func (c *client) RecordJobCompletion(ctx context.Context, repositoryID int, status contracts.JobStatus, finishedAt time.Time) error {
	c.incrCall("database")
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return classifyDBError(err)
	}
	defer tx.Rollback()
	if err := bumpRepoCountersTx(ctx, tx, repositoryID, status); err != nil {
		return err
	}
	return classifyDBError(tx.Commit())
}

// UpdateResolvedSHA replaces a job's UnresolvedSHA sentinel with a real
// tip commit. No dispatch endpoint calls it, so the SHA the agent resolves
// during clone is not written back through it.
func (c *client) UpdateResolvedSHA(ctx context.Context, jobID int64, sha string) error {
	c.incrCall("database")
	_, err := c.db.ExecContext(ctx, `UPDATE job SET git_sha = $1 WHERE id = $2`, sha, jobID)
	return classifyDBError(err)
}

// ReapStaleJobs implements the janitor loop from "Fatal
// recovery": jobs stuck running past staleTimeout with no log activity in
// idleTimeout are force-failed with error_message="agent timeout".
func (c *client) ReapStaleJobs(ctx context.Context, staleTimeout, idleTimeout time.Duration) ([]int64, error) {
	c.incrCall("database")

	rows, err := c.db.QueryContext(ctx, `
		SELECT j.id, j.repository_id
		FROM job j
		WHERE j.status = $1
		AND j.started_at < now() - $2::interval
		AND NOT EXISTS (
			SELECT 1 FROM stage_log sl
			JOIN job_stage js ON js.id = sl.stage_id
			WHERE js.job_id = j.id AND sl.ts > now() - $3::interval
		)
	`, contracts.JobRunning, intervalLiteral(staleTimeout), intervalLiteral(idleTimeout))
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	type reapCandidate struct {
		id           int64
		repositoryID int
	}
	var candidates []reapCandidate
	for rows.Next() {
		var rc reapCandidate
		if err := rows.Scan(&rc.id, &rc.repositoryID); err != nil {
			return nil, classifyDBError(err)
		}
		candidates = append(candidates, rc)
	}

	var reaped []int64
	for _, rc := range candidates {
		res, err := c.db.ExecContext(ctx, `
			UPDATE job SET status = $1, finished_at = now(), claim_token = NULL, error_message = $2
			WHERE id = $3 AND status = $4
		`, contracts.JobFailed, "agent timeout", rc.id, contracts.JobRunning)
		if err != nil {
			log.Error().Err(err).Int64("jobId", rc.id).Msg("Failed reaping stale job")
			continue
		}
		if n, _ := res.RowsAffected(); n == 1 {
			if err := c.RecordJobCompletion(ctx, rc.repositoryID, contracts.JobFailed, time.Now().UTC()); err != nil {
				log.Warn().Err(err).Int64("jobId", rc.id).Msg("Failed bumping repo counters for reaped job")
			}
			reaped = append(reaped, rc.id)
		}
	}
	return reaped, nil
}

// intervalLiteral renders d as a Postgres/CockroachDB interval literal
// ("N seconds"), since database/sql has no native time.Duration binding.
func intervalLiteral(d time.Duration) string {
	return strconv.Itoa(int(d.Seconds())) + " seconds"
}
