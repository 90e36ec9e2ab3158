// internal/gitsync/runner.go
package gitsync

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	apperrors "github-repo-mirror/internal/errors"
)

// Runner executes a single git invocation in dir and returns its
// combined output. dir may be empty for commands that name their
// target as an argument.
type Runner interface {
	Run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error)
}

type execRunner struct{}

// NewRunner returns a Runner backed by the git executable on PATH.
func NewRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, dir string, timeout time.Duration, args ...string) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}

	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		op := "git"
		if len(args) > 0 {
			op = args[0]
		}
		if ctx.Err() == context.DeadlineExceeded {
			return output, &apperrors.GitError{Op: op, Output: output, Err: context.DeadlineExceeded}
		}
		return output, &apperrors.GitError{Op: op, Output: output, Err: err}
	}
	return output, nil
}

// transientOutputMarkers are substrings of git output that identify a
// retryable network failure rather than a permanent one.
var transientOutputMarkers = []string{
	"could not resolve host",
	"connection timed out",
	"connection reset",
	"connection refused",
	"operation timed out",
	"early eof",
	"the remote end hung up unexpectedly",
	"rpc failed",
	"temporarily unavailable",
	"transfer closed",
	"ssl_error_syscall",
	"gnutls recv error",
}

// authOutputMarkers identify a credential or permission failure.
var authOutputMarkers = []string{
	"authentication failed",
	"permission denied",
	"could not read username",
	"could not read password",
	"invalid credentials",
	"publickey",
	"access denied",
}

func containsAny(s string, markers []string) bool {
	s = strings.ToLower(s)
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// IsTransientGit reports whether a git failure looks like a transient
// network condition worth retrying.
func IsTransientGit(err error) bool {
	var gitErr *apperrors.GitError
	if !errors.As(err, &gitErr) {
		return false
	}
	if errors.Is(gitErr.Err, context.DeadlineExceeded) {
		return true
	}
	return containsAny(gitErr.Output, transientOutputMarkers)
}

// IsAuthGit reports whether a git failure looks like an authentication
// or authorization problem.
func IsAuthGit(err error) bool {
	var gitErr *apperrors.GitError
	if !errors.As(err, &gitErr) {
		return false
	}
	return containsAny(gitErr.Output, authOutputMarkers)
}
