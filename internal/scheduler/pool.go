// internal/scheduler/pool.go
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	apperrors "github-repo-mirror/internal/errors"
	"github-repo-mirror/internal/model"

	"golang.org/x/sync/errgroup"
)

// JobFunc executes one job to completion and reports its outcome.
type JobFunc func(ctx context.Context, job model.Job) model.JobResult

// Pool runs jobs with bounded concurrency. A failing job never affects
// its siblings; only context cancellation stops the run, and every job
// still gets a result.
type Pool struct {
	workers int
	logger  *slog.Logger
}

func NewPool(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, logger: logger}
}

// Run executes all jobs and returns one result per job in input order.
// On cancellation, jobs not yet dispatched are reported as cancelled
// without being started.
func (p *Pool) Run(ctx context.Context, jobs []model.Job, fn JobFunc) []model.JobResult {
	results := make([]model.JobResult, len(jobs))

	g := new(errgroup.Group)
	g.SetLimit(p.workers)

	for i, job := range jobs {
		if ctx.Err() != nil {
			results[i] = cancelledResult(job, ctx.Err())
			continue
		}

		i, job := i, job
		g.Go(func() error {
			results[i] = p.runOne(ctx, job, fn)
			return nil
		})
	}

	g.Wait()
	return results
}

// runOne isolates a single job: a panic inside fn becomes a failed
// result instead of tearing the process down.
func (p *Pool) runOne(ctx context.Context, job model.Job, fn JobFunc) (res model.JobResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", "repo", job.Repo.FullName, "panic", r)
			res = model.JobResult{
				Repo:     job.Repo,
				Status:   model.StatusFailed,
				Err:      fmt.Errorf("panic: %v", r),
				Duration: time.Since(start),
			}
		}
	}()

	if ctx.Err() != nil {
		return cancelledResult(job, ctx.Err())
	}
	return fn(ctx, job)
}

func cancelledResult(job model.Job, cause error) model.JobResult {
	return model.JobResult{
		Repo:   job.Repo,
		Status: model.StatusFailed,
		Err:    apperrors.NewCancelled(job.Repo.FullName, cause),
	}
}
