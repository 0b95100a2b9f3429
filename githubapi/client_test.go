package githubapi

import "testing"

func TestConfigEnabled(t *testing.T) {
	t.Run("ReturnsFalseWhenEmpty", func(t *testing.T) {
		if (Config{}).Enabled() {
			t.Fatal("expected an empty config to be disabled")
		}
	})

	t.Run("ReturnsFalseWhenPartiallySet", func(t *testing.T) {
		cfg := Config{AppID: "123", InstallationID: "456"}
		if cfg.Enabled() {
			t.Fatal("expected a partially configured client to be disabled")
		}
	})

	t.Run("ReturnsTrueWhenFullySet", func(t *testing.T) {
		cfg := Config{AppID: "123", InstallationID: "456", PrivateKeyPath: "/etc/foundry/github-app.pem"}
		if !cfg.Enabled() {
			t.Fatal("expected a fully configured client to be enabled")
		}
	})
}
