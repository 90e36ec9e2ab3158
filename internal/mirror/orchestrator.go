// internal/mirror/orchestrator.go
package mirror

import (
	"context"
	"log/slog"
	"time"

	"github-repo-mirror/internal/config"
	"github-repo-mirror/internal/discovery"
	"github-repo-mirror/internal/export"
	"github-repo-mirror/internal/github"
	"github-repo-mirror/internal/gitsync"
	"github-repo-mirror/internal/model"
	"github-repo-mirror/internal/scheduler"
	"github-repo-mirror/internal/state"
)

// Orchestrator wires discovery, the git engine, the exporters and the
// worker pool into one backup run.
type Orchestrator struct {
	cfg      *config.Config
	api      *github.Client
	disc     *discovery.Discoverer
	engine   *gitsync.Engine
	exporter *export.Exporter
	store    *state.Store
	pool     *scheduler.Pool
	logger   *slog.Logger
}

// New builds a ready-to-run orchestrator. The state store is opened
// under the destination root; Close releases it.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	store, err := state.Open(cfg.DestRoot)
	if err != nil {
		return nil, err
	}

	api := github.NewClient(cfg.GithubToken, logger)

	opts := gitsync.DefaultOptions()
	opts.Mirror = cfg.Mirror
	opts.LFS = cfg.LFS
	opts.DryRun = cfg.DryRun
	opts.SSHFirst = !cfg.NoSSH
	opts.Token = cfg.GithubToken
	opts.SkipUnchanged = !cfg.Force

	timeouts := gitsync.Timeouts{
		Clone: cfg.CloneTimeout,
		Fetch: cfg.FetchTimeout,
		LFS:   cfg.LFSTimeout,
	}

	engine := gitsync.NewEngine(gitsync.NewRunner(), store, opts, timeouts, logger)

	return &Orchestrator{
		cfg:      cfg,
		api:      api,
		disc:     discovery.New(api, logger),
		engine:   engine,
		exporter: export.New(api, engine, logger),
		store:    store,
		pool:     scheduler.NewPool(cfg.Workers, logger),
		logger:   logger,
	}, nil
}

func (o *Orchestrator) Close() error {
	return o.store.Close()
}

// Run performs one full backup pass: discover, filter, plan, execute.
func (o *Orchestrator) Run(ctx context.Context) (scheduler.Summary, error) {
	start := time.Now()

	scope := discovery.Scope{
		Target:     o.cfg.Target,
		Org:        o.cfg.TargetOrg,
		Visibility: o.cfg.Visibility,
		Starred:    o.cfg.Starred,
		Watched:    o.cfg.Watched,
		Orgs:       o.cfg.Orgs,
	}

	repos, err := o.disc.Discover(ctx, scope)
	if err != nil {
		return scheduler.Summary{}, err
	}

	excluded := make(map[string]bool, len(o.cfg.ExcludeNames))
	for _, name := range o.cfg.ExcludeNames {
		excluded[name] = true
	}
	filter := discovery.Filter{
		Visibility:   o.cfg.Visibility,
		SkipForks:    o.cfg.SkipForks,
		SkipArchived: o.cfg.SkipArchived,
		ExcludeNames: excluded,
		Include:      o.cfg.IncludeRE,
		Exclude:      o.cfg.ExcludeRE,
		MaxSizeKB:    o.cfg.MaxSizeKB,
	}
	filtered := filter.Apply(repos)
	if dropped := len(repos) - len(filtered); dropped > 0 {
		o.logger.Info("filter applied", "kept", len(filtered), "dropped", dropped)
	}

	if o.cfg.Gists {
		gists, err := o.listGistRepos(ctx)
		if err != nil {
			return scheduler.Summary{}, err
		}
		filtered = append(filtered, gists...)
	}

	ops := operations(o.cfg.Exports)
	jobs, err := discovery.BuildJobs(o.cfg.DestRoot, filtered, ops)
	if err != nil {
		return scheduler.Summary{}, err
	}

	o.logger.Info("starting backup run",
		"jobs", len(jobs), "workers", o.cfg.Workers, "dry_run", o.cfg.DryRun)

	results := o.pool.Run(ctx, jobs, o.executeJob)
	summary := scheduler.Aggregate(results, time.Since(start))

	remaining, resetAt := o.api.RateLimiter().Snapshot()
	o.logger.Info("backup run finished",
		"succeeded", summary.Succeeded, "skipped", summary.Skipped,
		"failed", summary.Failed, "cancelled", summary.Cancelled,
		"duration", summary.Duration.Round(time.Millisecond),
		"rate_remaining", remaining, "rate_reset", resetAt)

	return summary, nil
}

// executeJob runs one repository's operations in order. The first
// failing operation fails the job; metadata exports run only when the
// code sync did not fail.
func (o *Orchestrator) executeJob(ctx context.Context, job model.Job) model.JobResult {
	start := time.Now()
	log := o.logger.With("repo", job.Repo.FullName)

	res := model.JobResult{
		Repo:     job.Repo,
		Status:   model.StatusSucceeded,
		Exported: make(map[model.Operation]int),
	}

	for _, op := range job.Operations {
		if op == model.OpSyncCode {
			action, err := o.engine.Sync(ctx, job.Repo, job.Dest)
			if err != nil {
				log.Error("sync failed", "err", err)
				res.Status = model.StatusFailed
				res.Err = err
				break
			}
			res.Action = action
			log.Debug("sync complete", "action", action)
			continue
		}

		// Dry run plans git actions only; exports are not simulated.
		if o.cfg.DryRun {
			continue
		}

		n, err := o.exporter.Export(ctx, op, job.Repo, job.Dest)
		if err != nil {
			log.Error("export failed", "op", op, "err", err)
			res.Status = model.StatusFailed
			res.Err = err
			break
		}
		res.Exported[op] = n
		log.Debug("export complete", "op", op, "count", n)
	}

	if res.Status == model.StatusSucceeded && res.Action == model.ActionSkipped && len(res.Exported) == 0 {
		res.Status = model.StatusSkipped
	}
	res.Duration = time.Since(start)
	return res
}

// listGistRepos folds the user's gists into the plan as repositories
// under the gists category.
func (o *Orchestrator) listGistRepos(ctx context.Context) ([]model.Repository, error) {
	login, err := o.api.AuthenticatedUser(ctx)
	if err != nil {
		return nil, err
	}
	gists, err := o.api.ListGists(ctx)
	if err != nil {
		return nil, err
	}

	repos := make([]model.Repository, 0, len(gists))
	for _, g := range gists {
		repos = append(repos, model.Repository{
			Owner:    login,
			Name:     g.Name,
			FullName: login + "/" + g.Name,
			Private:  !g.Public,
			HTTPSURL: g.PullURL,
			PushedAt: g.PushedAt,
			Category: model.CategoryGist,
		})
	}
	o.logger.Info("gists discovered", "count", len(repos))
	return repos, nil
}

// operations translates configured export names into the per-job
// operation list. Code sync always runs first.
func operations(exports []string) []model.Operation {
	ops := []model.Operation{model.OpSyncCode}
	for _, e := range exports {
		switch e {
		case "issues":
			ops = append(ops, model.OpExportIssues)
		case "pulls":
			ops = append(ops, model.OpExportPulls)
		case "releases":
			ops = append(ops, model.OpExportReleases)
		case "workflows":
			ops = append(ops, model.OpExportWorkflows)
		case "wiki":
			ops = append(ops, model.OpExportWiki)
		}
	}
	return ops
}
