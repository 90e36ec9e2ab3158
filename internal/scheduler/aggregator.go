// internal/scheduler/aggregator.go
package scheduler

import (
	"time"

	apperrors "github-repo-mirror/internal/errors"
	"github-repo-mirror/internal/model"
)

// Failure pairs a repository with the classified error that stopped it.
type Failure struct {
	Repo model.Repository
	Code apperrors.Code
	Err  error
}

// Summary is the aggregate outcome of a run.
type Summary struct {
	Total     int
	Succeeded int
	Skipped   int
	Failed    int
	Cancelled int

	Cloned  int
	Updated int

	// Exported sums exported object counts across all jobs.
	Exported map[model.Operation]int

	Failures []Failure
	Duration time.Duration
}

// Ok reports whether every job ended without failure.
func (s Summary) Ok() bool { return s.Failed == 0 && s.Cancelled == 0 }

// Aggregate folds per-job results into a run summary.
func Aggregate(results []model.JobResult, duration time.Duration) Summary {
	s := Summary{
		Total:    len(results),
		Exported: make(map[model.Operation]int),
		Duration: duration,
	}

	for _, r := range results {
		switch r.Status {
		case model.StatusSucceeded:
			s.Succeeded++
		case model.StatusSkipped:
			s.Skipped++
		case model.StatusFailed:
			if apperrors.IsCancelled(r.Err) {
				s.Cancelled++
			} else {
				s.Failed++
			}
			s.Failures = append(s.Failures, Failure{
				Repo: r.Repo,
				Code: apperrors.CodeOf(r.Err),
				Err:  r.Err,
			})
		}

		switch r.Action {
		case model.ActionCloned, model.ActionWouldClone:
			s.Cloned++
		case model.ActionUpdated, model.ActionWouldUpdate:
			s.Updated++
		}

		for op, n := range r.Exported {
			s.Exported[op] += n
		}
	}
	return s
}
