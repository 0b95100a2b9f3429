package config

import (
	"fmt"
	"time"
)

// DatabaseConfig holds the connection parameters for the relational store.
// It is populated from a single DATABASE_URL environment variable at the
// binaries' flag-parsing boundary and validated here.
type DatabaseConfig struct {
	DriverName         string
	DataSource         string
	MaxOpenConnections int
	MaxIdleConnections int
}

func (c DatabaseConfig) Validate() error {
	if c.DataSource == "" {
		return fmt.Errorf("configuration item 'DATABASE_URL' is required; please set it to a postgres:// connection string")
	}
	if c.MaxIdleConnections > c.MaxOpenConnections {
		return fmt.Errorf("configuration item 'database.maxIdleConnections' must be less than or equal to 'database.maxOpenConnections'")
	}
	return nil
}

// ServerConfig is the full configuration for the foundry-server binary.
type ServerConfig struct {
	BindAddr            string
	MetricsAddr         string
	MetricsPath         string
	GithubWebhookSecret string
	Database            DatabaseConfig
	JanitorInterval     time.Duration
	StaleJobTimeout     time.Duration
	StaleJobIdleTimeout time.Duration
	SchedulerTick       time.Duration
}

func (c ServerConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("configuration item 'FOUNDRY_BIND_ADDR' is required; please set it to the address to listen for HTTP requests")
	}
	if c.GithubWebhookSecret == "" {
		return fmt.Errorf("configuration item 'GITHUB_WEBHOOK_SECRET' is required; please set it to the shared secret configured on the Github webhook")
	}
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if c.StaleJobIdleTimeout > c.StaleJobTimeout {
		return fmt.Errorf("configuration item 'stale-job-idle-timeout' must be less than or equal to 'stale-job-timeout'")
	}
	return nil
}

// AgentConfig is the full configuration for the foundry-agent binary.
type AgentConfig struct {
	AgentID        string
	ServerBaseURL  string
	WorkspaceDir   string
	PollInterval   time.Duration
	Workers        int
	DefaultTimeout time.Duration
	MetricsAddr    string
	MetricsPath    string

	// GitHub App credentials for reporting commit build status back to
	// the code host. All three must be set together or all left unset;
	// reporting is skipped entirely when unset.
	GithubAppID          string
	GithubInstallationID string
	GithubPrivateKeyPath string
}

func (c AgentConfig) Validate() error {
	if c.AgentID == "" {
		return fmt.Errorf("configuration item 'FOUNDRY_AGENT_ID' is required; please set it or leave unset to auto-generate one")
	}
	if c.ServerBaseURL == "" {
		return fmt.Errorf("configuration item 'server-base-url' is required; please set it to the base url of the foundry server's dispatch API")
	}
	if c.WorkspaceDir == "" {
		return fmt.Errorf("configuration item 'FOUNDRY_WORKSPACE_DIR' is required; please set it to a writable directory for job checkouts")
	}
	if c.Workers < 1 {
		return fmt.Errorf("configuration item 'workers' must be at least 1")
	}

	githubFieldsSet := boolCount(c.GithubAppID != "", c.GithubInstallationID != "", c.GithubPrivateKeyPath != "")
	if githubFieldsSet != 0 && githubFieldsSet != 3 {
		return fmt.Errorf("github-app-id, github-installation-id and github-private-key-path must all be set together, or all left unset")
	}
	return nil
}

func boolCount(bs ...bool) int {
	n := 0
	for _, b := range bs {
		if b {
			n++
		}
	}
	return n
}
