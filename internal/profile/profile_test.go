// internal/profile/profile_test.go
package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github-repo-mirror/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProfiles = `
profiles:
  work:
    description: Organization repositories only
    target: acme
    org: true
    workers: 8
    exports: [issues, pulls]
  personal:
    description: Everything of mine plus stars
    starred: true
    gists: true
    skip_forks: true
    exclude: 'archive-'
`

func writeProfiles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func baseConfig() *config.Config {
	return &config.Config{
		GithubToken: "tok",
		DestRoot:    "/backups",
		Visibility:  "all",
		Workers:     4,
	}
}

func TestLoad(t *testing.T) {
	f, err := Load(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)
	assert.Equal(t, []string{"personal", "work"}, f.Names())
	assert.Equal(t, "Organization repositories only", f.Profiles["work"].Description)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeProfiles(t, "profiles: ["))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	f, err := Load(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	t.Run("overrides only what the profile sets", func(t *testing.T) {
		cfg := baseConfig()
		require.NoError(t, f.Apply("work", cfg))

		assert.Equal(t, "acme", cfg.Target)
		assert.True(t, cfg.TargetOrg)
		assert.Equal(t, 8, cfg.Workers)
		assert.Equal(t, []string{"issues", "pulls"}, cfg.Exports)
		assert.Equal(t, "all", cfg.Visibility, "unset fields keep their base value")
		assert.Equal(t, "/backups", cfg.DestRoot)
	})

	t.Run("compiles patterns from the profile", func(t *testing.T) {
		cfg := baseConfig()
		require.NoError(t, f.Apply("personal", cfg))

		assert.True(t, cfg.Starred)
		assert.True(t, cfg.Gists)
		assert.True(t, cfg.SkipForks)
		require.NotNil(t, cfg.ExcludeRE)
		assert.True(t, cfg.ExcludeRE.MatchString("me/archive-2020"))
	})

	t.Run("unknown profile", func(t *testing.T) {
		assert.Error(t, f.Apply("nope", baseConfig()))
	})

	t.Run("profile failing validation is rejected", func(t *testing.T) {
		f2, err := Load(writeProfiles(t, "profiles:\n  bad:\n    workers: 0\n"))
		require.NoError(t, err)
		assert.Error(t, f2.Apply("bad", baseConfig()))
	})
}

func TestSaveAndDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.yaml")

	cfg := baseConfig()
	cfg.Target = "acme"
	cfg.TargetOrg = true
	cfg.Workers = 8
	cfg.Exports = []string{"issues"}

	var f File
	f.Set("work", FromConfig(cfg, "org backup"))
	require.NoError(t, f.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"work"}, loaded.Names())
	assert.Equal(t, "org backup", loaded.Profiles["work"].Description)

	t.Run("saved profile replays onto a fresh config", func(t *testing.T) {
		fresh := baseConfig()
		require.NoError(t, loaded.Apply("work", fresh))
		assert.Equal(t, "acme", fresh.Target)
		assert.True(t, fresh.TargetOrg)
		assert.Equal(t, 8, fresh.Workers)
		assert.Equal(t, []string{"issues"}, fresh.Exports)
	})

	t.Run("delete removes the profile and persists", func(t *testing.T) {
		require.NoError(t, loaded.Delete("work"))
		require.NoError(t, loaded.Save(path))

		again, err := Load(path)
		require.NoError(t, err)
		assert.Empty(t, again.Names())
	})

	t.Run("deleting an unknown profile fails", func(t *testing.T) {
		assert.Error(t, loaded.Delete("nope"))
	})
}

func TestSet_ReplacesExisting(t *testing.T) {
	var f File
	f.Set("work", Profile{Description: "first"})
	f.Set("work", Profile{Description: "second"})
	assert.Equal(t, "second", f.Profiles["work"].Description)
	assert.Equal(t, []string{"work"}, f.Names())
}

func TestRender(t *testing.T) {
	f, err := Load(writeProfiles(t, sampleProfiles))
	require.NoError(t, err)

	out, err := f.Render("work")
	require.NoError(t, err)
	assert.Contains(t, out, "target: acme")
	assert.Contains(t, out, "workers: 8")

	_, err = f.Render("nope")
	assert.Error(t, err)
}

func TestFromConfig_CapturesValues(t *testing.T) {
	cfg := baseConfig()
	cfg.ExcludeNames = []string{"me/scratch"}

	p := FromConfig(cfg, "")
	cfg.ExcludeNames[0] = "changed"
	cfg.Visibility = "private"

	assert.Equal(t, "me/scratch", p.ExcludeNames[0], "captures a copy, not the live slice")
	assert.Equal(t, "all", *p.Visibility)
}
