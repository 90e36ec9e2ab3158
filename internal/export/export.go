// internal/export/export.go
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apperrors "github-repo-mirror/internal/errors"
	"github-repo-mirror/internal/model"

	gh "github.com/google/go-github/v62/github"
)

// APISource lists the repository metadata the exporters snapshot. The
// API client satisfies it.
type APISource interface {
	ListIssues(ctx context.Context, owner, name string) ([]*gh.Issue, error)
	ListPulls(ctx context.Context, owner, name string) ([]*gh.PullRequest, error)
	ListReleases(ctx context.Context, owner, name string) ([]*gh.RepositoryRelease, error)
	ListWorkflows(ctx context.Context, owner, name string) ([]*gh.Workflow, error)
	GetFileContent(ctx context.Context, owner, name, path string) (string, error)
}

// workflowSnapshot pairs a workflow definition with the content of its
// file, so the backup can reconstruct the workflow without the remote.
type workflowSnapshot struct {
	Workflow *gh.Workflow `json:"workflow"`
	Content  string       `json:"content,omitempty"`
}

// GitEngine is the subset of the sync engine the wiki export needs.
type GitEngine interface {
	SyncURL(ctx context.Context, httpsURL, dest string) (model.Action, error)
}

// Exporter snapshots repository metadata as JSON files next to the
// working copy.
type Exporter struct {
	api    APISource
	git    GitEngine
	logger *slog.Logger
}

func New(api APISource, git GitEngine, logger *slog.Logger) *Exporter {
	return &Exporter{api: api, git: git, logger: logger}
}

// MetadataDir is where a repository's exported metadata lives: a
// sibling of the working copy, so exports never dirty the clone.
func MetadataDir(dest string) string {
	return dest + ".metadata"
}

// WikiURL derives the wiki remote from a repository clone URL.
func WikiURL(httpsURL string) string {
	return strings.TrimSuffix(httpsURL, ".git") + ".wiki.git"
}

// Export runs one export operation for a repository and returns how
// many objects it wrote.
func (e *Exporter) Export(ctx context.Context, op model.Operation, repo model.Repository, dest string) (int, error) {
	owner, name := repo.Owner, repo.Name

	switch op {
	case model.OpExportIssues:
		issues, err := e.api.ListIssues(ctx, owner, name)
		if err != nil {
			return 0, err
		}
		return len(issues), e.writeJSON(dest, "issues.json", issues)

	case model.OpExportPulls:
		pulls, err := e.api.ListPulls(ctx, owner, name)
		if err != nil {
			return 0, err
		}
		return len(pulls), e.writeJSON(dest, "pull_requests.json", pulls)

	case model.OpExportReleases:
		releases, err := e.api.ListReleases(ctx, owner, name)
		if err != nil {
			return 0, err
		}
		return len(releases), e.writeJSON(dest, "releases.json", releases)

	case model.OpExportWorkflows:
		snaps, err := e.snapshotWorkflows(ctx, repo)
		if err != nil {
			return 0, err
		}
		return len(snaps), e.writeJSON(dest, "workflows.json", snaps)

	case model.OpExportWiki:
		action, err := e.exportWiki(ctx, repo, dest)
		if err != nil {
			return 0, err
		}
		if action == model.ActionNone {
			return 0, nil
		}
		return 1, nil

	default:
		return 0, apperrors.NewValidation(fmt.Sprintf("unknown export operation %q", op), nil)
	}
}

func (e *Exporter) snapshotWorkflows(ctx context.Context, repo model.Repository) ([]workflowSnapshot, error) {
	workflows, err := e.api.ListWorkflows(ctx, repo.Owner, repo.Name)
	if err != nil {
		return nil, err
	}

	snaps := make([]workflowSnapshot, 0, len(workflows))
	for _, wf := range workflows {
		snap := workflowSnapshot{Workflow: wf}
		if path := wf.GetPath(); path != "" {
			content, err := e.api.GetFileContent(ctx, repo.Owner, repo.Name, path)
			switch {
			case err == nil:
				snap.Content = content
			case apperrors.IsNotFound(err):
				// A workflow can outlive its file, e.g. after a
				// branch deletion.
				e.logger.Debug("workflow file missing", "repo", repo.FullName, "path", path)
			default:
				return nil, err
			}
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (e *Exporter) exportWiki(ctx context.Context, repo model.Repository, dest string) (model.Action, error) {
	wikiDest := filepath.Join(MetadataDir(dest), "wiki")
	action, err := e.git.SyncURL(ctx, WikiURL(repo.HTTPSURL), wikiDest)
	if err != nil {
		// The wiki flag is set even when no wiki page was ever
		// created; the wiki remote then does not exist.
		if apperrors.IsGit(err) && isMissingRemote(err) {
			e.logger.Debug("wiki enabled but empty", "repo", repo.FullName)
			return model.ActionNone, nil
		}
		return model.ActionNone, err
	}
	return action, nil
}

func isMissingRemote(err error) bool {
	var gitErr *apperrors.GitError
	if !errors.As(err, &gitErr) {
		return false
	}
	out := strings.ToLower(gitErr.Output)
	return strings.Contains(out, "not found") || strings.Contains(out, "repository does not exist")
}

// writeJSON writes a metadata snapshot atomically: a temp file in the
// target directory renamed into place, so a crash never leaves a
// truncated snapshot.
func (e *Exporter) writeJSON(dest, filename string, v any) error {
	dir := MetadataDir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filename+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, filename))
}
