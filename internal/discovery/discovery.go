// internal/discovery/discovery.go
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	apperrors "github-repo-mirror/internal/errors"
	"github-repo-mirror/internal/model"
)

// RepoSource lists remote repositories. The API client satisfies it.
type RepoSource interface {
	AuthenticatedUser(ctx context.Context) (string, error)
	ListSelf(ctx context.Context, visibility string) ([]model.Repository, error)
	ListUser(ctx context.Context, user string) ([]model.Repository, error)
	ListOrg(ctx context.Context, org string) ([]model.Repository, error)
	ListOrgs(ctx context.Context) ([]string, error)
	ListStarred(ctx context.Context) ([]model.Repository, error)
	ListWatched(ctx context.Context) ([]model.Repository, error)
}

// Scope selects which repository sets a run discovers.
type Scope struct {
	// Target is a user or organization login. Empty means the
	// authenticated user.
	Target string

	// Org marks Target as an organization rather than a user.
	Org bool

	// Visibility narrows self discovery: "all", "public" or "private".
	Visibility string

	Starred bool
	Watched bool

	// Orgs additionally discovers every organization the token belongs
	// to. Only meaningful for self discovery.
	Orgs bool
}

// Filter narrows a discovered set. Predicates apply in a fixed order:
// visibility, fork policy, archived policy, exact-name excludes,
// include pattern, exclude pattern, size cap. Exclude wins over
// include.
type Filter struct {
	// Visibility keeps "public" or "private" repositories only; "" or
	// "all" keeps both.
	Visibility string

	SkipForks    bool
	SkipArchived bool

	// ExcludeNames drops repositories by exact full name.
	ExcludeNames map[string]bool

	Include *regexp.Regexp
	Exclude *regexp.Regexp

	// MaxSizeKB drops repositories larger than this. Zero means no cap.
	MaxSizeKB int64
}

type Discoverer struct {
	source RepoSource
	logger *slog.Logger
}

func New(source RepoSource, logger *slog.Logger) *Discoverer {
	return &Discoverer{source: source, logger: logger}
}

// Discover lists every repository the scope names, deduplicated by
// identity in listing order. The first listing to produce a repository
// decides its category.
func (d *Discoverer) Discover(ctx context.Context, scope Scope) ([]model.Repository, error) {
	var listed []model.Repository

	switch {
	case scope.Target == "":
		repos, err := d.discoverSelf(ctx, scope)
		if err != nil {
			return nil, err
		}
		listed = repos
	case scope.Org:
		repos, err := d.source.ListOrg(ctx, scope.Target)
		if err != nil {
			return nil, err
		}
		listed = repos
	default:
		// A target login naming the token's own user still gets the
		// full affiliated listing, private repositories included.
		self, err := d.source.AuthenticatedUser(ctx)
		if err != nil {
			return nil, err
		}
		if scope.Target == self {
			repos, err := d.source.ListSelf(ctx, scope.Visibility)
			if err != nil {
				return nil, err
			}
			listed = repos
		} else {
			repos, err := d.source.ListUser(ctx, scope.Target)
			if err != nil {
				return nil, err
			}
			listed = repos
		}
	}

	seen := make(map[string]bool, len(listed))
	var out []model.Repository
	for _, r := range listed {
		if seen[r.Key()] {
			continue
		}
		seen[r.Key()] = true
		r.Category = model.Categorize(r, r.Category)
		out = append(out, r)
	}

	d.logger.Info("discovery complete", "listed", len(listed), "unique", len(out))
	return out, nil
}

func (d *Discoverer) discoverSelf(ctx context.Context, scope Scope) ([]model.Repository, error) {
	repos, err := d.source.ListSelf(ctx, scope.Visibility)
	if err != nil {
		return nil, err
	}

	if scope.Orgs {
		orgs, err := d.source.ListOrgs(ctx)
		if err != nil {
			return nil, err
		}
		for _, org := range orgs {
			orgRepos, err := d.source.ListOrg(ctx, org)
			if err != nil {
				return nil, err
			}
			repos = append(repos, orgRepos...)
		}
	}
	if scope.Starred {
		starred, err := d.source.ListStarred(ctx)
		if err != nil {
			return nil, err
		}
		repos = append(repos, starred...)
	}
	if scope.Watched {
		watched, err := d.source.ListWatched(ctx)
		if err != nil {
			return nil, err
		}
		repos = append(repos, watched...)
	}
	return repos, nil
}

// Apply returns the repositories surviving the filter, preserving
// input order.
func (f Filter) Apply(repos []model.Repository) []model.Repository {
	var out []model.Repository
	for _, r := range repos {
		if f.Visibility == "public" && r.Private {
			continue
		}
		if f.Visibility == "private" && !r.Private {
			continue
		}
		if f.SkipForks && r.Fork {
			continue
		}
		if f.SkipArchived && r.Archived {
			continue
		}
		if f.ExcludeNames[r.FullName] {
			continue
		}
		if f.Include != nil && !f.Include.MatchString(r.FullName) {
			continue
		}
		if f.Exclude != nil && f.Exclude.MatchString(r.FullName) {
			continue
		}
		if f.MaxSizeKB > 0 && r.SizeKB > f.MaxSizeKB {
			continue
		}
		out = append(out, r)
	}
	return out
}

// BuildJobs resolves a destination for every repository and pairs it
// with the requested operations. Wiki export is requested only where
// the repository has a wiki. Two repositories resolving to the same
// destination is a configuration fault and aborts the run.
func BuildJobs(root string, repos []model.Repository, ops []model.Operation) ([]model.Job, error) {
	dests := make(map[string]string, len(repos))
	jobs := make([]model.Job, 0, len(repos))

	for _, r := range repos {
		dest := model.DestPath(root, r)
		if prev, ok := dests[dest]; ok {
			return nil, apperrors.NewValidation(
				fmt.Sprintf("destination collision: %s and %s both resolve to %s", prev, r.FullName, dest), nil)
		}
		dests[dest] = r.FullName

		jobOps := make([]model.Operation, 0, len(ops))
		for _, op := range ops {
			if op == model.OpExportWiki && !r.HasWiki {
				continue
			}
			// Gists have no issue tracker, wiki or workflows.
			if r.Category == model.CategoryGist && op != model.OpSyncCode {
				continue
			}
			jobOps = append(jobOps, op)
		}
		jobs = append(jobs, model.Job{Repo: r, Operations: jobOps, Dest: dest})
	}
	return jobs, nil
}
