package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// DueSchedules implements due_schedules: enabled schedules whose
// next_run_at has arrived.
func (c *client) DueSchedules(ctx context.Context, now time.Time) ([]contracts.Schedule, error) {
	c.incrCall("database")

	rows, err := c.db.QueryContext(ctx, `
		SELECT id, repository_id, cron_expression, branch, timezone, enabled, last_run_at, next_run_at
		FROM scheduled_job
		WHERE enabled = TRUE AND next_run_at <= $1
	`, now)
	if err != nil {
		return nil, classifyDBError(err)
	}
	defer rows.Close()

	var schedules []contracts.Schedule
	for rows.Next() {
		var s contracts.Schedule
		if err := rows.Scan(&s.ID, &s.RepositoryID, &s.CronExpression, &s.Branch, &s.Timezone, &s.Enabled, &s.LastRunAt, &s.NextRunAt); err != nil {
			return nil, classifyDBError(err)
		}
		schedules = append(schedules, s)
	}
	return schedules, classifyDBError(rows.Err())
}

// AdvanceSchedule is a compare-and-swap on last_run_at. If the current
// last_run_at has already moved past prevLastRun, the call is a no-op,
// returning (false, nil), preventing double-fire when multiple scheduler
// instances race: the CAS makes running more than one replica safe
// without a leader lease.
func (c *client) AdvanceSchedule(ctx context.Context, id int, prevLastRun *time.Time, newLastRun, newNextRun time.Time) (bool, error) {
	c.incrCall("database")

	var res sql.Result
	var err error
	if prevLastRun == nil {
		res, err = c.db.ExecContext(ctx, `
			UPDATE scheduled_job SET last_run_at = $1, next_run_at = $2
			WHERE id = $3 AND last_run_at IS NULL
		`, newLastRun, newNextRun, id)
	} else {
		res, err = c.db.ExecContext(ctx, `
			UPDATE scheduled_job SET last_run_at = $1, next_run_at = $2
			WHERE id = $3 AND last_run_at = $4
		`, newLastRun, newNextRun, id, *prevLastRun)
	}
	if err != nil {
		return false, classifyDBError(err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, classifyDBError(err)
	}
	return n == 1, nil
}
