// Package store is the single source of truth for Foundry's durable state:
// repositories, jobs, stages, log lines, schedules and webhook deliveries.
// It is a raw database/sql + squirrel query-builder client fronted by a
// narrow interface, backed by lib/pq against a Postgres-wire-compatible
// database.
package store

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq" // postgres wire driver, also speaks CockroachDB's wire protocol
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/Lucas-William-Bateson/foundry/contracts"
)

// Client is the interface every other component talks to the database
// through; no component holds a *sql.DB directly.
type Client interface {
	Connect(ctx context.Context) error
	Close() error

	// Repositories
	GetOrCreateRepository(ctx context.Context, source, owner, name, cloneURL string) (*contracts.Repository, error)
	GetRepository(ctx context.Context, id int) (*contracts.Repository, error)
	UpdateTriggerRules(ctx context.Context, id int, rules contracts.TriggerRules) error
	RecordJobCompletion(ctx context.Context, repositoryID int, status contracts.JobStatus, finishedAt time.Time) error
	ListJobsForRepository(ctx context.Context, repositoryID int, status contracts.JobStatus, pageNumber, pageSize int) ([]contracts.Job, error)

	// Jobs
	EnqueueJob(ctx context.Context, repositoryID int, gitSHA, gitRef string, commit contracts.CommitMeta, scheduledJobID *int, prNumber *int) (int64, error)
	ClaimNextJob(ctx context.Context, agentID string) (*contracts.Job, string, error)
	GetJob(ctx context.Context, id int64) (*contracts.Job, error)
	CancelJob(ctx context.Context, id int64) error
	CompleteJob(ctx context.Context, jobID int64, claimToken string, status contracts.JobStatus, errorMessage string) error
	UpdateResolvedSHA(ctx context.Context, jobID int64, sha string) error
	ReapStaleJobs(ctx context.Context, staleTimeout, idleTimeout time.Duration) ([]int64, error)

	// Stages
	CreateStages(ctx context.Context, jobID int64, claimToken string, stages []StageSpec) error
	StartStage(ctx context.Context, jobID int64, claimToken string, stageName string) error
	FinishStage(ctx context.Context, jobID int64, claimToken string, stageName string, status contracts.StageStatus, exitCode *int, errorMessage string) error
	AppendStageLog(ctx context.Context, stageID int64, claimToken string, lines []contracts.StageLog) error
	GetStagesForJob(ctx context.Context, jobID int64) ([]contracts.JobStage, error)

	// Schedules
	DueSchedules(ctx context.Context, now time.Time) ([]contracts.Schedule, error)
	AdvanceSchedule(ctx context.Context, id int, prevLastRun *time.Time, newLastRun, newNextRun time.Time) (bool, error)

	// Webhooks
	InsertDelivery(ctx context.Context, d *contracts.WebhookDelivery) (bool, error)
	MarkDeliveryProcessed(ctx context.Context, id int64, jobID *int64, errorMessage string) error
	MarkDeliveryFailed(ctx context.Context, id int64, errorMessage string) error
}

// StageSpec is the declared shape of one pipeline stage, as registered by
// the agent before it starts executing anything.
type StageSpec struct {
	Name    string
	Order   int
	Command string
	Image   string
}

type client struct {
	dataSourceName string
	db             *sql.DB
	outboundCalls  *prometheus.CounterVec
}

// NewClient returns a store.Client backed by a Postgres-wire-compatible
// database reachable at dataSourceName.
func NewClient(dataSourceName string, outboundCalls *prometheus.CounterVec) Client {
	return &client{
		dataSourceName: dataSourceName,
		outboundCalls:  outboundCalls,
	}
}

func (c *client) Connect(ctx context.Context) error {
	log.Debug().Msg("Connecting to database...")

	db, err := sql.Open("postgres", c.dataSourceName)
	if err != nil {
		return contracts.Wrap(contracts.KindFatal, err, "opening database connection")
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return contracts.Wrap(contracts.KindTransient, err, "pinging database")
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return contracts.Wrap(contracts.KindFatal, err, "applying schema statement")
		}
	}

	c.db = db
	return nil
}

func (c *client) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *client) incrCall(target string) {
	if c.outboundCalls == nil {
		return
	}
	c.outboundCalls.With(prometheus.Labels{"target": target}).Inc()
}

func (c *client) statementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder.PlaceholderFormat(sq.Dollar).RunWith(c.db)
}

// classifyDBError distinguishes connection-level failures a caller should
// retry from anything else.
func classifyDBError(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrConnDone || err == sql.ErrTxDone {
		return contracts.Wrap(contracts.KindTransient, err, "database connection unavailable")
	}
	return contracts.Wrap(contracts.KindFatal, err, "database operation failed")
}
