// internal/scheduler/pool_test.go
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github-repo-mirror/internal/errors"
	"github-repo-mirror/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func makeJobs(n int) []model.Job {
	jobs := make([]model.Job, n)
	for i := range jobs {
		jobs[i] = model.Job{Repo: model.Repository{
			Owner: "acme", Name: string(rune('a' + i)), FullName: "acme/" + string(rune('a'+i)),
		}}
	}
	return jobs
}

func TestPool_RunsAllJobs(t *testing.T) {
	pool := NewPool(3, testLogger())
	jobs := makeJobs(10)

	var ran int32
	results := pool.Run(context.Background(), jobs, func(ctx context.Context, job model.Job) model.JobResult {
		atomic.AddInt32(&ran, 1)
		return model.JobResult{Repo: job.Repo, Status: model.StatusSucceeded}
	})

	assert.Equal(t, int32(10), atomic.LoadInt32(&ran))
	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, jobs[i].Repo.FullName, r.Repo.FullName, "results keep input order")
		assert.Equal(t, model.StatusSucceeded, r.Status)
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const workers = 2
	pool := NewPool(workers, testLogger())

	var mu sync.Mutex
	inFlight, peak := 0, 0

	pool.Run(context.Background(), makeJobs(8), func(ctx context.Context, job model.Job) model.JobResult {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return model.JobResult{Repo: job.Repo, Status: model.StatusSucceeded}
	})

	assert.LessOrEqual(t, peak, workers)
	assert.Greater(t, peak, 0)
}

func TestPool_FailureDoesNotAffectSiblings(t *testing.T) {
	pool := NewPool(2, testLogger())
	jobs := makeJobs(4)

	results := pool.Run(context.Background(), jobs, func(ctx context.Context, job model.Job) model.JobResult {
		if job.Repo.Name == "b" {
			return model.JobResult{Repo: job.Repo, Status: model.StatusFailed, Err: errors.New("boom")}
		}
		return model.JobResult{Repo: job.Repo, Status: model.StatusSucceeded}
	})

	failed := 0
	for _, r := range results {
		if r.Status == model.StatusFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}

func TestPool_PanicBecomesFailedResult(t *testing.T) {
	pool := NewPool(2, testLogger())
	jobs := makeJobs(3)

	results := pool.Run(context.Background(), jobs, func(ctx context.Context, job model.Job) model.JobResult {
		if job.Repo.Name == "b" {
			panic("unexpected")
		}
		return model.JobResult{Repo: job.Repo, Status: model.StatusSucceeded}
	})

	require.Len(t, results, 3)
	assert.Equal(t, model.StatusFailed, results[1].Status)
	assert.ErrorContains(t, results[1].Err, "panic")
	assert.Equal(t, model.StatusSucceeded, results[0].Status)
	assert.Equal(t, model.StatusSucceeded, results[2].Status)
}

func TestPool_CancellationReportsEveryJob(t *testing.T) {
	pool := NewPool(1, testLogger())
	jobs := makeJobs(5)

	ctx, cancel := context.WithCancel(context.Background())

	var started int32
	results := pool.Run(ctx, jobs, func(ctx context.Context, job model.Job) model.JobResult {
		if atomic.AddInt32(&started, 1) == 1 {
			cancel()
			return model.JobResult{Repo: job.Repo, Status: model.StatusSucceeded}
		}
		return model.JobResult{Repo: job.Repo, Status: model.StatusFailed,
			Err: apperrors.NewCancelled(job.Repo.FullName, ctx.Err())}
	})

	require.Len(t, results, 5)
	cancelled := 0
	for _, r := range results {
		require.NotEmpty(t, r.Status, "every job gets a result")
		if apperrors.IsCancelled(r.Err) {
			cancelled++
		}
	}
	assert.Greater(t, cancelled, 0, "undispatched jobs report cancellation")
}

func TestAggregate(t *testing.T) {
	repo := func(name string) model.Repository {
		return model.Repository{Owner: "acme", Name: name, FullName: "acme/" + name}
	}

	results := []model.JobResult{
		{Repo: repo("a"), Status: model.StatusSucceeded, Action: model.ActionCloned,
			Exported: map[model.Operation]int{model.OpExportIssues: 7}},
		{Repo: repo("b"), Status: model.StatusSucceeded, Action: model.ActionUpdated},
		{Repo: repo("c"), Status: model.StatusSkipped, Action: model.ActionSkipped},
		{Repo: repo("d"), Status: model.StatusFailed, Err: apperrors.NewAuth("clone", errors.New("denied"))},
		{Repo: repo("e"), Status: model.StatusFailed, Err: apperrors.NewCancelled("e", context.Canceled)},
	}

	s := Aggregate(results, 3*time.Second)

	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Succeeded)
	assert.Equal(t, 1, s.Skipped)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Cancelled)
	assert.Equal(t, 1, s.Cloned)
	assert.Equal(t, 1, s.Updated)
	assert.Equal(t, 7, s.Exported[model.OpExportIssues])
	assert.False(t, s.Ok())

	require.Len(t, s.Failures, 2)
	assert.Equal(t, apperrors.CodeAuth, s.Failures[0].Code)
	assert.Equal(t, apperrors.CodeCancelled, s.Failures[1].Code)
}
