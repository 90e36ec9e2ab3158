// internal/config/config_test.go
package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		GithubToken: "tok",
		DestRoot:    "/backups",
		Visibility:  "all",
		Workers:     4,
	}
}

func TestValidate(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing token", func(t *testing.T) {
		cfg := validConfig()
		cfg.GithubToken = ""
		assert.ErrorContains(t, cfg.Validate(), "GITHUB_TOKEN")
	})

	t.Run("missing destination", func(t *testing.T) {
		cfg := validConfig()
		cfg.DestRoot = ""
		assert.ErrorContains(t, cfg.Validate(), "DEST_ROOT")
	})

	t.Run("bad worker count", func(t *testing.T) {
		cfg := validConfig()
		cfg.Workers = 0
		assert.ErrorContains(t, cfg.Validate(), "WORKERS")
	})

	t.Run("bad visibility", func(t *testing.T) {
		cfg := validConfig()
		cfg.Visibility = "secret"
		assert.ErrorContains(t, cfg.Validate(), "VISIBILITY")
	})

	t.Run("org flag without target", func(t *testing.T) {
		cfg := validConfig()
		cfg.TargetOrg = true
		assert.ErrorContains(t, cfg.Validate(), "TARGET")
	})

	t.Run("unknown export", func(t *testing.T) {
		cfg := validConfig()
		cfg.Exports = []string{"issues", "stars"}
		assert.ErrorContains(t, cfg.Validate(), "stars")
	})

	t.Run("patterns are compiled", func(t *testing.T) {
		cfg := validConfig()
		cfg.Include = `^acme/`
		cfg.Exclude = `-archive$`
		require.NoError(t, cfg.Validate())
		assert.True(t, cfg.IncludeRE.MatchString("acme/widget"))
		assert.True(t, cfg.ExcludeRE.MatchString("acme/old-archive"))
	})

	t.Run("bad include pattern", func(t *testing.T) {
		cfg := validConfig()
		cfg.Include = `([`
		assert.ErrorContains(t, cfg.Validate(), "INCLUDE")
	})

	t.Run("negative size cap", func(t *testing.T) {
		cfg := validConfig()
		cfg.MaxSizeKB = -1
		assert.ErrorContains(t, cfg.Validate(), "MAX_SIZE_KB")
	})
}
