package store

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// ListJobsForRepository returns a page of jobs for a repository, optionally
// filtered by status, newest first. It exists for the (external, out of
// scope) web UI's list views to read through, and is built with squirrel
// rather than string-concatenated SQL.
func (c *client) ListJobsForRepository(ctx context.Context, repositoryID int, status contracts.JobStatus, pageNumber, pageSize int) ([]contracts.Job, error) {
	c.incrCall("database")

	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	if pageNumber < 1 {
		pageNumber = 1
	}

	query := c.statementBuilder().
		Select("id", "repository_id", "git_sha", "git_ref", "status", "created_at", "started_at", "finished_at",
			"claimed_by", "claim_token", "commit_message", "commit_author", "commit_url", "scheduled_job_id", "pr_number", "error_message").
		From("job").
		Where(sq.Eq{"repository_id": repositoryID}).
		OrderBy("id DESC").
		Limit(uint64(pageSize)).
		Offset(uint64((pageNumber - 1) * pageSize))

	if status != "" {
		query = query.Where(sq.Eq{"status": status})
	}

	rows, err := query.QueryContext(ctx)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	var jobs []contracts.Job
	for rows.Next() {
		var j contracts.Job
		var claimedBy, claimToken sql.NullString
		if err := rows.Scan(&j.ID, &j.RepositoryID, &j.GitSHA, &j.GitRef, &j.Status, &j.CreatedAt, &j.StartedAt, &j.FinishedAt,
			&claimedBy, &claimToken, &j.Commit.Message, &j.Commit.Author, &j.Commit.URL, &j.ScheduledJobID, &j.PRNumber, &j.ErrorMessage); err != nil {
			return nil, classifyDBError(err)
		}
		if claimedBy.Valid {
			j.ClaimedBy = &claimedBy.String
		}
		if claimToken.Valid {
			j.ClaimToken = &claimToken.String
		}
		jobs = append(jobs, j)
	}
	return jobs, classifyDBError(rows.Err())
}
