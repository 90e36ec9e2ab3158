// internal/errors/errors.go
package errors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Code classifies an error for propagation policy decisions.
type Code string

const (
	CodeAuth       Code = "AUTH"
	CodeNotFound   Code = "NOT_FOUND"
	CodeValidation Code = "VALIDATION"
	CodeRateLimit  Code = "RATE_LIMIT"
	CodeTransient  Code = "TRANSIENT"
	CodeGit        Code = "GIT"
	CodeCancelled  Code = "CANCELLED"
)

// Error is a classified application error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RateLimitError reports an exhausted API call budget. ResetAt is the
// instant the budget is restored.
type RateLimitError struct {
	ResetAt   time.Time
	Remaining int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, resets at %s", e.ResetAt.Format(time.RFC3339))
}

// GitError reports a failed invocation of the external git tool,
// carrying its captured diagnostic output.
type GitError struct {
	Op     string
	Output string
	Err    error
}

func (e *GitError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("git %s failed: %v: %s", e.Op, e.Err, e.Output)
	}
	return fmt.Sprintf("git %s failed: %v", e.Op, e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

func NewAuth(message string, err error) *Error {
	return &Error{Code: CodeAuth, Message: message, Err: err}
}

func NewNotFound(message string, err error) *Error {
	return &Error{Code: CodeNotFound, Message: message, Err: err}
}

func NewValidation(message string, err error) *Error {
	return &Error{Code: CodeValidation, Message: message, Err: err}
}

func NewTransient(message string, err error) *Error {
	return &Error{Code: CodeTransient, Message: message, Err: err}
}

func NewCancelled(message string, err error) *Error {
	return &Error{Code: CodeCancelled, Message: message, Err: err}
}

// CodeOf returns the classification of err, or CodeTransient when the
// error carries no classification of its own.
func CodeOf(err error) Code {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return CodeRateLimit
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) {
		return CodeGit
	}
	if errors.Is(err, context.Canceled) {
		return CodeCancelled
	}
	return CodeTransient
}

func is(err error, code Code) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Code == code
}

func IsAuth(err error) bool { return is(err, CodeAuth) }

func IsNotFound(err error) bool { return is(err, CodeNotFound) }

func IsValidation(err error) bool { return is(err, CodeValidation) }

func IsTransient(err error) bool { return is(err, CodeTransient) }

func IsCancelled(err error) bool {
	return is(err, CodeCancelled) || errors.Is(err, context.Canceled)
}

func IsRateLimited(err error) bool {
	var rlErr *RateLimitError
	return errors.As(err, &rlErr) || is(err, CodeRateLimit)
}

func IsGit(err error) bool {
	var gitErr *GitError
	return errors.As(err, &gitErr) || is(err, CodeGit)
}
