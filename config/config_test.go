package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDatabaseConfigValidate(t *testing.T) {

	t.Run("ReturnsErrorWhenDataSourceEmpty", func(t *testing.T) {
		cfg := DatabaseConfig{}

		err := cfg.Validate()

		assert.Error(t, err)
	})

	t.Run("ReturnsErrorWhenIdleExceedsOpen", func(t *testing.T) {
		cfg := DatabaseConfig{DataSource: "postgres://localhost/foundry", MaxOpenConnections: 5, MaxIdleConnections: 10}

		err := cfg.Validate()

		assert.Error(t, err)
	})

	t.Run("ReturnsNoErrorForValidConfig", func(t *testing.T) {
		cfg := DatabaseConfig{DataSource: "postgres://localhost/foundry", MaxOpenConnections: 10, MaxIdleConnections: 5}

		err := cfg.Validate()

		assert.NoError(t, err)
	})
}

func TestServerConfigValidate(t *testing.T) {

	valid := func() ServerConfig {
		return ServerConfig{
			BindAddr:            ":5000",
			GithubWebhookSecret: "shh",
			Database:            DatabaseConfig{DataSource: "postgres://localhost/foundry"},
			StaleJobTimeout:     2 * time.Hour,
			StaleJobIdleTimeout: 10 * time.Minute,
		}
	}

	t.Run("ReturnsNoErrorForValidConfig", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("ReturnsErrorWhenBindAddrEmpty", func(t *testing.T) {
		cfg := valid()
		cfg.BindAddr = ""

		assert.Error(t, cfg.Validate())
	})

	t.Run("ReturnsErrorWhenWebhookSecretEmpty", func(t *testing.T) {
		cfg := valid()
		cfg.GithubWebhookSecret = ""

		assert.Error(t, cfg.Validate())
	})

	t.Run("ReturnsErrorWhenIdleTimeoutExceedsStaleTimeout", func(t *testing.T) {
		cfg := valid()
		cfg.StaleJobIdleTimeout = 3 * time.Hour

		assert.Error(t, cfg.Validate())
	})

	t.Run("PropagatesDatabaseValidationError", func(t *testing.T) {
		cfg := valid()
		cfg.Database = DatabaseConfig{}

		assert.Error(t, cfg.Validate())
	})
}

func TestAgentConfigValidate(t *testing.T) {

	valid := func() AgentConfig {
		return AgentConfig{
			AgentID:       "agent-1",
			ServerBaseURL: "https://foundry.example.com",
			WorkspaceDir:  "/var/lib/foundry/workspaces",
			Workers:       2,
		}
	}

	t.Run("ReturnsNoErrorForValidConfig", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("ReturnsErrorWhenAgentIDEmpty", func(t *testing.T) {
		cfg := valid()
		cfg.AgentID = ""

		assert.Error(t, cfg.Validate())
	})

	t.Run("ReturnsErrorWhenServerBaseURLEmpty", func(t *testing.T) {
		cfg := valid()
		cfg.ServerBaseURL = ""

		assert.Error(t, cfg.Validate())
	})

	t.Run("ReturnsErrorWhenWorkersLessThanOne", func(t *testing.T) {
		cfg := valid()
		cfg.Workers = 0

		assert.Error(t, cfg.Validate())
	})

	t.Run("ReturnsNoErrorWhenGithubAppFieldsAllUnset", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("ReturnsNoErrorWhenGithubAppFieldsAllSet", func(t *testing.T) {
		cfg := valid()
		cfg.GithubAppID = "123"
		cfg.GithubInstallationID = "456"
		cfg.GithubPrivateKeyPath = "/etc/foundry/github-app.pem"

		assert.NoError(t, cfg.Validate())
	})

	t.Run("ReturnsErrorWhenGithubAppFieldsPartiallySet", func(t *testing.T) {
		cfg := valid()
		cfg.GithubAppID = "123"

		assert.Error(t, cfg.Validate())
	})
}
