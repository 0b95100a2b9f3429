package store

// schemaStatements is applied once at startup. Migrations proper (schema
// versioning, rollback) are an external collaborator; this
// bootstrap only needs to be idempotent, following the "ADD COLUMN IF NOT
// EXISTS" discipline calls for.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS repo (
		id SERIAL PRIMARY KEY,
		source TEXT NOT NULL,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		clone_url TEXT NOT NULL DEFAULT '',
		default_image TEXT NOT NULL DEFAULT '',
		trigger_branches TEXT NOT NULL DEFAULT 'main,master',
		trigger_pull_requests BOOLEAN NOT NULL DEFAULT FALSE,
		trigger_pr_target_branches TEXT NOT NULL DEFAULT '',
		build_count INT NOT NULL DEFAULT 0,
		success_count INT NOT NULL DEFAULT 0,
		failure_count INT NOT NULL DEFAULT 0,
		last_build_at TIMESTAMPTZ,
		platform_meta TEXT NOT NULL DEFAULT '',
		inserted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (source, owner, name)
	)`,
	`CREATE TABLE IF NOT EXISTS job (
		id BIGSERIAL PRIMARY KEY,
		repository_id INT NOT NULL REFERENCES repo(id),
		git_sha TEXT NOT NULL,
		git_ref TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		claimed_by TEXT,
		claim_token UUID,
		commit_message TEXT NOT NULL DEFAULT '',
		commit_author TEXT NOT NULL DEFAULT '',
		commit_url TEXT NOT NULL DEFAULT '',
		scheduled_job_id INT,
		pr_number INT,
		error_message TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_status_created_at ON job (status, created_at)`,
	`CREATE TABLE IF NOT EXISTS job_stage (
		id BIGSERIAL PRIMARY KEY,
		job_id BIGINT NOT NULL REFERENCES job(id),
		name TEXT NOT NULL,
		stage_order INT NOT NULL,
		status TEXT NOT NULL,
		command TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		duration_ms BIGINT,
		exit_code INT,
		error_message TEXT NOT NULL DEFAULT '',
		UNIQUE (job_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS stage_log (
		id BIGSERIAL PRIMARY KEY,
		stage_id BIGINT NOT NULL REFERENCES job_stage(id),
		seq BIGINT NOT NULL DEFAULT 0,
		line TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		UNIQUE (stage_id, seq)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_stage_log_stage_ts_id ON stage_log (stage_id, ts, id)`,
	`CREATE TABLE IF NOT EXISTS scheduled_job (
		id SERIAL PRIMARY KEY,
		repository_id INT NOT NULL REFERENCES repo(id),
		cron_expression TEXT NOT NULL,
		branch TEXT NOT NULL,
		timezone TEXT NOT NULL DEFAULT 'UTC',
		enabled BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_at TIMESTAMPTZ,
		next_run_at TIMESTAMPTZ,
		UNIQUE (repository_id, branch)
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_event (
		id BIGSERIAL PRIMARY KEY,
		provider TEXT NOT NULL,
		event_type TEXT NOT NULL DEFAULT '',
		delivery_id TEXT NOT NULL,
		signature_valid BOOLEAN NOT NULL,
		payload BYTEA,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		job_id BIGINT,
		error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (provider, delivery_id)
	)`,
}
