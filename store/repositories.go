package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// GetOrCreateRepository looks up a repository by (source, owner, name),
// creating it with the default trigger rules on first observation, per
//: "Created on first observation of a repository in a delivery".
func (c *client) GetOrCreateRepository(ctx context.Context, source, owner, name, cloneURL string) (*contracts.Repository, error) {
	c.incrCall("database")

	repo, err := c.selectRepository(ctx, source, owner, name)
	if err == nil {
		return repo, nil
	}
	if contracts.KindOf(err) != contracts.KindNotFound {
		return nil, err
	}

	defaults := contracts.DefaultTriggerRules()
	row := c.db.QueryRowContext(ctx, `
		INSERT INTO repo (source, owner, name, clone_url, trigger_branches, trigger_pull_requests)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source, owner, name) DO UPDATE SET clone_url = EXCLUDED.clone_url
		RETURNING id, inserted_at, updated_at
	`, source, owner, name, cloneURL, strings.Join(defaults.Branches, ","), defaults.PullRequests)

	repository := &contracts.Repository{
		Source:   source,
		Owner:    owner,
		Name:     name,
		CloneURL: cloneURL,
		Triggers: defaults,
	}
	if err := row.Scan(&repository.ID, &repository.InsertedAt, &repository.UpdatedAt); err != nil {
		return nil, classifyDBError(err)
	}
	return repository, nil
}

func (c *client) selectRepository(ctx context.Context, source, owner, name string) (*contracts.Repository, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, source, owner, name, clone_url, default_image, trigger_branches, trigger_pull_requests,
			trigger_pr_target_branches, build_count, success_count, failure_count, last_build_at, platform_meta, inserted_at, updated_at
		FROM repo WHERE source = $1 AND owner = $2 AND name = $3
	`, source, owner, name)
	return scanRepository(row)
}

func (c *client) GetRepository(ctx context.Context, id int) (*contracts.Repository, error) {
	c.incrCall("database")
	row := c.db.QueryRowContext(ctx, `
		SELECT id, source, owner, name, clone_url, default_image, trigger_branches, trigger_pull_requests,
			trigger_pr_target_branches, build_count, success_count, failure_count, last_build_at, platform_meta, inserted_at, updated_at
		FROM repo WHERE id = $1
	`, id)
	return scanRepository(row)
}

func scanRepository(row *sql.Row) (*contracts.Repository, error) {
	var r contracts.Repository
	var branches, prTargets string
	if err := row.Scan(&r.ID, &r.Source, &r.Owner, &r.Name, &r.CloneURL, &r.DefaultImage, &branches, &r.Triggers.PullRequests,
		&prTargets, &r.BuildCount, &r.SuccessCount, &r.FailureCount, &r.LastBuildAt, &r.PlatformMeta, &r.InsertedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, contracts.NewNotFound("repository not found")
		}
		return nil, classifyDBError(err)
	}
	r.Triggers.Branches = splitNonEmpty(branches)
	r.Triggers.PRTargetBranches = splitNonEmpty(prTargets)
	return &r, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// UpdateTriggerRules persists an updated set of trigger rules for a
// repository, used by the (external, out of scope) web UI's settings
// screen through this store.
func (c *client) UpdateTriggerRules(ctx context.Context, id int, rules contracts.TriggerRules) error {
	c.incrCall("database")
	_, err := c.db.ExecContext(ctx, `
		UPDATE repo SET trigger_branches = $1, trigger_pull_requests = $2, trigger_pr_target_branches = $3, updated_at = now()
		WHERE id = $4
	`, strings.Join(rules.Branches, ","), rules.PullRequests, strings.Join(rules.PRTargetBranches, ","), id)
	return classifyDBError(err)
}
