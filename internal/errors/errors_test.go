// internal/errors/errors_test.go
package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"auth", NewAuth("list repos", errors.New("bad credentials")), CodeAuth},
		{"not found", NewNotFound("get repo", nil), CodeNotFound},
		{"validation", NewValidation("bad pattern", nil), CodeValidation},
		{"transient", NewTransient("list repos", errors.New("503")), CodeTransient},
		{"cancelled", NewCancelled("run", context.Canceled), CodeCancelled},
		{"rate limit", &RateLimitError{ResetAt: time.Now()}, CodeRateLimit},
		{"git", &GitError{Op: "clone", Err: errors.New("exit 128")}, CodeGit},
		{"bare context cancellation", context.Canceled, CodeCancelled},
		{"unclassified defaults to transient", errors.New("mystery"), CodeTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestPredicatesSeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("sync acme/widget: %w", NewAuth("clone", errors.New("denied")))
	assert.True(t, IsAuth(wrapped))
	assert.False(t, IsTransient(wrapped))

	gitWrapped := fmt.Errorf("job failed: %w", &GitError{Op: "fetch", Err: errors.New("exit 1")})
	assert.True(t, IsGit(gitWrapped))

	assert.True(t, IsCancelled(fmt.Errorf("stopped: %w", context.Canceled)))
}

func TestErrorMessages(t *testing.T) {
	err := NewAuth("list repos", errors.New("bad credentials"))
	assert.Contains(t, err.Error(), "AUTH")
	assert.Contains(t, err.Error(), "list repos")

	gitErr := &GitError{Op: "clone", Output: "fatal: repository not found", Err: errors.New("exit 128")}
	assert.Contains(t, gitErr.Error(), "clone")
	assert.Contains(t, gitErr.Error(), "repository not found")
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	assert.ErrorIs(t, NewTransient("op", cause), cause)
	assert.ErrorIs(t, &GitError{Op: "pull", Err: cause}, cause)
}
