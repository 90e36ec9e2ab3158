// internal/export/export_test.go
package export

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	apperrors "github-repo-mirror/internal/errors"
	"github-repo-mirror/internal/model"

	gh "github.com/google/go-github/v62/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockAPI is a mock of the APISource interface.
type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) ListIssues(ctx context.Context, owner, name string) ([]*gh.Issue, error) {
	args := m.Called(ctx, owner, name)
	return args.Get(0).([]*gh.Issue), args.Error(1)
}

func (m *MockAPI) ListPulls(ctx context.Context, owner, name string) ([]*gh.PullRequest, error) {
	args := m.Called(ctx, owner, name)
	return args.Get(0).([]*gh.PullRequest), args.Error(1)
}

func (m *MockAPI) ListReleases(ctx context.Context, owner, name string) ([]*gh.RepositoryRelease, error) {
	args := m.Called(ctx, owner, name)
	return args.Get(0).([]*gh.RepositoryRelease), args.Error(1)
}

func (m *MockAPI) ListWorkflows(ctx context.Context, owner, name string) ([]*gh.Workflow, error) {
	args := m.Called(ctx, owner, name)
	return args.Get(0).([]*gh.Workflow), args.Error(1)
}

func (m *MockAPI) GetFileContent(ctx context.Context, owner, name, path string) (string, error) {
	args := m.Called(ctx, owner, name, path)
	return args.String(0), args.Error(1)
}

// MockGit is a mock of the GitEngine interface.
type MockGit struct {
	mock.Mock
}

func (m *MockGit) SyncURL(ctx context.Context, httpsURL, dest string) (model.Action, error) {
	args := m.Called(ctx, httpsURL, dest)
	return args.Get(0).(model.Action), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRepo() model.Repository {
	return model.Repository{
		Owner: "acme", Name: "widget", FullName: "acme/widget",
		HTTPSURL: "https://github.com/acme/widget.git",
		HasWiki:  true,
	}
}

func TestExporter_Issues(t *testing.T) {
	ctx := context.Background()
	api := new(MockAPI)
	issues := []*gh.Issue{
		{Number: gh.Int(1), Title: gh.String("first")},
		{Number: gh.Int(2), Title: gh.String("second")},
	}
	api.On("ListIssues", ctx, "acme", "widget").Return(issues, nil).Once()

	e := New(api, nil, testLogger())
	dest := filepath.Join(t.TempDir(), "widget")

	n, err := e.Export(ctx, model.OpExportIssues, testRepo(), dest)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	api.AssertExpectations(t)

	raw, err := os.ReadFile(filepath.Join(MetadataDir(dest), "issues.json"))
	require.NoError(t, err)

	var decoded []*gh.Issue
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "first", decoded[0].GetTitle())
}

func TestExporter_Workflows(t *testing.T) {
	ctx := context.Background()

	t.Run("includes each workflow's file content", func(t *testing.T) {
		api := new(MockAPI)
		workflows := []*gh.Workflow{
			{ID: gh.Int64(1), Name: gh.String("ci"), Path: gh.String(".github/workflows/ci.yml")},
			{ID: gh.Int64(2), Name: gh.String("release"), Path: gh.String(".github/workflows/release.yml")},
		}
		api.On("ListWorkflows", ctx, "acme", "widget").Return(workflows, nil).Once()
		api.On("GetFileContent", ctx, "acme", "widget", ".github/workflows/ci.yml").
			Return("name: ci\non: push\n", nil).Once()
		api.On("GetFileContent", ctx, "acme", "widget", ".github/workflows/release.yml").
			Return("name: release\non: release\n", nil).Once()

		e := New(api, nil, testLogger())
		dest := filepath.Join(t.TempDir(), "widget")

		n, err := e.Export(ctx, model.OpExportWorkflows, testRepo(), dest)

		require.NoError(t, err)
		assert.Equal(t, 2, n)
		api.AssertExpectations(t)

		raw, err := os.ReadFile(filepath.Join(MetadataDir(dest), "workflows.json"))
		require.NoError(t, err)

		var decoded []workflowSnapshot
		require.NoError(t, json.Unmarshal(raw, &decoded))
		require.Len(t, decoded, 2)
		assert.Equal(t, "ci", decoded[0].Workflow.GetName())
		assert.Equal(t, "name: ci\non: push\n", decoded[0].Content)
	})

	t.Run("tolerates a workflow whose file is gone", func(t *testing.T) {
		api := new(MockAPI)
		workflows := []*gh.Workflow{
			{ID: gh.Int64(1), Name: gh.String("orphan"), Path: gh.String(".github/workflows/old.yml")},
		}
		api.On("ListWorkflows", ctx, "acme", "widget").Return(workflows, nil).Once()
		api.On("GetFileContent", ctx, "acme", "widget", ".github/workflows/old.yml").
			Return("", apperrors.NewNotFound("get file content", nil)).Once()

		e := New(api, nil, testLogger())
		dest := filepath.Join(t.TempDir(), "widget")

		n, err := e.Export(ctx, model.OpExportWorkflows, testRepo(), dest)

		require.NoError(t, err)
		assert.Equal(t, 1, n)

		raw, err := os.ReadFile(filepath.Join(MetadataDir(dest), "workflows.json"))
		require.NoError(t, err)

		var decoded []workflowSnapshot
		require.NoError(t, json.Unmarshal(raw, &decoded))
		require.Len(t, decoded, 1)
		assert.Empty(t, decoded[0].Content)
	})
}

func TestExporter_SnapshotsLandBesideTheClone(t *testing.T) {
	ctx := context.Background()
	api := new(MockAPI)
	api.On("ListReleases", ctx, "acme", "widget").Return([]*gh.RepositoryRelease{}, nil).Once()

	e := New(api, nil, testLogger())
	dest := filepath.Join(t.TempDir(), "widget")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	_, err := e.Export(ctx, model.OpExportReleases, testRepo(), dest)
	require.NoError(t, err)

	// The working copy itself stays untouched.
	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = os.Stat(filepath.Join(dest+".metadata", "releases.json"))
	assert.NoError(t, err)
}

func TestExporter_Wiki(t *testing.T) {
	ctx := context.Background()

	t.Run("clones the wiki remote under the metadata dir", func(t *testing.T) {
		git := new(MockGit)
		dest := filepath.Join(t.TempDir(), "widget")
		wikiDest := filepath.Join(MetadataDir(dest), "wiki")
		git.On("SyncURL", ctx, "https://github.com/acme/widget.wiki.git", wikiDest).
			Return(model.ActionCloned, nil).Once()

		e := New(nil, git, testLogger())
		n, err := e.Export(ctx, model.OpExportWiki, testRepo(), dest)

		require.NoError(t, err)
		assert.Equal(t, 1, n)
		git.AssertExpectations(t)
	})

	t.Run("an absent wiki remote is not a failure", func(t *testing.T) {
		git := new(MockGit)
		git.On("SyncURL", ctx, mock.Anything, mock.Anything).
			Return(model.ActionNone, &apperrors.GitError{Op: "clone",
				Output: "remote: Repository not found."}).Once()

		e := New(nil, git, testLogger())
		n, err := e.Export(ctx, model.OpExportWiki, testRepo(), filepath.Join(t.TempDir(), "widget"))

		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestWikiURL(t *testing.T) {
	assert.Equal(t, "https://github.com/acme/widget.wiki.git",
		WikiURL("https://github.com/acme/widget.git"))
}

func TestExporter_UnknownOperation(t *testing.T) {
	e := New(new(MockAPI), nil, testLogger())
	_, err := e.Export(context.Background(), model.Operation("export-nonsense"), testRepo(), t.TempDir())
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))
}
