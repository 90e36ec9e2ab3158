// internal/gitsync/engine.go
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github-repo-mirror/internal/errors"
	"github-repo-mirror/internal/model"
)

// RepoState is what DetectState found at a destination path.
type RepoState int

const (
	StateMissing RepoState = iota
	StateWorkTree
	StateBare
	StateForeign
)

func (s RepoState) String() string {
	switch s {
	case StateMissing:
		return "missing"
	case StateWorkTree:
		return "worktree"
	case StateBare:
		return "bare"
	default:
		return "foreign"
	}
}

// DetectState classifies a destination path. A missing or empty
// directory is clonable, a .git subdirectory marks a work tree, a HEAD
// file next to an objects directory marks a bare repository, and
// anything else is foreign content that must not be touched.
func DetectState(dir string) (RepoState, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return StateMissing, nil
	}
	if err != nil {
		return StateForeign, err
	}
	if len(entries) == 0 {
		return StateMissing, nil
	}

	if fi, err := os.Stat(filepath.Join(dir, ".git")); err == nil && fi.IsDir() {
		return StateWorkTree, nil
	}

	headOK := false
	if fi, err := os.Stat(filepath.Join(dir, "HEAD")); err == nil && !fi.IsDir() {
		headOK = true
	}
	objectsOK := false
	if fi, err := os.Stat(filepath.Join(dir, "objects")); err == nil && fi.IsDir() {
		objectsOK = true
	}
	if headOK && objectsOK {
		return StateBare, nil
	}
	return StateForeign, nil
}

// Timeouts bound individual git invocations.
type Timeouts struct {
	Clone time.Duration
	Fetch time.Duration
	LFS   time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Clone: 300 * time.Second,
		Fetch: 120 * time.Second,
		LFS:   600 * time.Second,
	}
}

// Options select how the engine clones and updates.
type Options struct {
	// Mirror clones bare with --mirror and updates with remote update.
	Mirror bool

	// LFS additionally fetches large file content where the lfs
	// extension is installed.
	LFS bool

	// DryRun reports the action that would be taken without running
	// any mutating git command.
	DryRun bool

	// SSHFirst attempts the SSH remote before falling back to HTTPS.
	SSHFirst bool

	// Token is embedded into HTTPS remotes for private repositories.
	// It never appears in logs or errors.
	Token string

	// SSHConnectTimeout bounds the SSH handshake so a clone attempt
	// fails over to HTTPS instead of hanging.
	SSHConnectTimeout time.Duration

	// SkipUnchanged skips repositories whose remote push marker
	// matches the recorded state.
	SkipUnchanged bool

	// Retries is the number of additional attempts after the first
	// failed transient git command.
	Retries    int
	RetryDelay time.Duration
}

func DefaultOptions() Options {
	return Options{
		SSHFirst:          true,
		SkipUnchanged:     true,
		SSHConnectTimeout: 10 * time.Second,
		Retries:           3,
		RetryDelay:        5 * time.Second,
	}
}

// StateStore persists per-repository sync markers.
type StateStore interface {
	Get(key string) (*model.SyncState, error)
	Put(key string, st model.SyncState) error
}

// Engine drives one repository working copy to match its remote.
type Engine struct {
	run      Runner
	store    StateStore
	logger   *slog.Logger
	opts     Options
	timeouts Timeouts

	lfsOnce  sync.Once
	lfsReady bool
}

func NewEngine(run Runner, store StateStore, opts Options, timeouts Timeouts, logger *slog.Logger) *Engine {
	return &Engine{run: run, store: store, opts: opts, timeouts: timeouts, logger: logger}
}

// Sync brings dest up to date with the repository's remote and records
// the new state marker. The skip decision is made before any
// subprocess is spawned.
func (e *Engine) Sync(ctx context.Context, repo model.Repository, dest string) (model.Action, error) {
	state, err := DetectState(dest)
	if err != nil {
		return model.ActionNone, apperrors.NewValidation(fmt.Sprintf("inspect %s", dest), err)
	}
	if state == StateForeign {
		return model.ActionNone, apperrors.NewValidation(
			fmt.Sprintf("%s exists but is not a git repository", dest), nil)
	}

	if state != StateMissing && e.opts.SkipUnchanged && e.store != nil {
		prev, err := e.store.Get(repo.Key())
		if err != nil {
			return model.ActionNone, err
		}
		if prev != nil && !repo.PushedAt.IsZero() && prev.PushedAt.Equal(repo.PushedAt) {
			e.logger.Debug("unchanged since last sync, skipping",
				"repo", repo.FullName, "pushed_at", repo.PushedAt)
			return model.ActionSkipped, nil
		}
	}

	if e.opts.DryRun {
		if state == StateMissing {
			return model.ActionWouldClone, nil
		}
		return model.ActionWouldUpdate, nil
	}

	// Fail before any transfer starts rather than leave a clone
	// without its large file content.
	if e.opts.LFS && !e.lfsAvailable(ctx) {
		return model.ActionNone, &apperrors.GitError{Op: "lfs version",
			Output: "git-lfs is not installed but large file support was requested",
			Err:    errors.New("git-lfs unavailable")}
	}

	var action model.Action
	switch state {
	case StateMissing:
		if err := e.clone(ctx, repo, dest); err != nil {
			return model.ActionNone, err
		}
		action = model.ActionCloned
	case StateBare:
		if err := e.updateBare(ctx, dest); err != nil {
			return model.ActionNone, err
		}
		action = model.ActionUpdated
	case StateWorkTree:
		if err := e.updateWorkTree(ctx, dest); err != nil {
			return model.ActionNone, err
		}
		action = model.ActionUpdated
	}

	if e.opts.LFS {
		if err := e.fetchLFS(ctx, dest, state); err != nil {
			return model.ActionNone, err
		}
	}

	if e.store != nil {
		ref, err := e.headRef(ctx, dest)
		if err != nil {
			// An empty repository has no HEAD commit yet.
			e.logger.Debug("no head commit", "repo", repo.FullName, "err", err)
			ref = ""
		}
		st := model.SyncState{CommitRef: ref, PushedAt: repo.PushedAt, SyncedAt: time.Now().UTC()}
		if err := e.store.Put(repo.Key(), st); err != nil {
			return model.ActionNone, err
		}
	}

	return action, nil
}

// SyncURL clones or updates an auxiliary remote (a wiki, a gist) at
// dest. No state marker is kept for these.
func (e *Engine) SyncURL(ctx context.Context, httpsURL, dest string) (model.Action, error) {
	state, err := DetectState(dest)
	if err != nil {
		return model.ActionNone, apperrors.NewValidation(fmt.Sprintf("inspect %s", dest), err)
	}
	if state == StateForeign {
		return model.ActionNone, apperrors.NewValidation(
			fmt.Sprintf("%s exists but is not a git repository", dest), nil)
	}

	if e.opts.DryRun {
		if state == StateMissing {
			return model.ActionWouldClone, nil
		}
		return model.ActionWouldUpdate, nil
	}

	switch state {
	case StateMissing:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return model.ActionNone, err
		}
		args := []string{"clone"}
		if e.opts.Mirror {
			args = append(args, "--mirror")
		}
		args = append(args, e.withToken(httpsURL), dest)
		if err := e.runRetry(ctx, "", e.timeouts.Clone, args...); err != nil {
			return model.ActionNone, err
		}
		return model.ActionCloned, nil
	case StateBare:
		if err := e.updateBare(ctx, dest); err != nil {
			return model.ActionNone, err
		}
		return model.ActionUpdated, nil
	default:
		if err := e.updateWorkTree(ctx, dest); err != nil {
			return model.ActionNone, err
		}
		return model.ActionUpdated, nil
	}
}

func (e *Engine) clone(ctx context.Context, repo model.Repository, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	if e.opts.SSHFirst && repo.SSHURL != "" {
		err := e.cloneFrom(ctx, repo.SSHURL, dest, true)
		if err == nil {
			return nil
		}
		if apperrors.IsCancelled(err) {
			return err
		}
		e.logger.Warn("ssh clone failed, falling back to https",
			"repo", repo.FullName, "err", Redact(err.Error(), e.opts.Token))
		// A half-written destination from the failed attempt would be
		// misclassified as foreign content on the retry.
		if st, _ := DetectState(dest); st == StateForeign {
			if rmErr := os.RemoveAll(dest); rmErr != nil {
				return rmErr
			}
		}
	}

	return e.cloneFrom(ctx, e.withToken(repo.HTTPSURL), dest, false)
}

func (e *Engine) cloneFrom(ctx context.Context, remote, dest string, ssh bool) error {
	var args []string
	if ssh && e.opts.SSHConnectTimeout > 0 {
		sshCmd := fmt.Sprintf("ssh -o BatchMode=yes -o ConnectTimeout=%d",
			int(e.opts.SSHConnectTimeout.Seconds()))
		args = append(args, "-c", "core.sshCommand="+sshCmd)
	}
	args = append(args, "clone")
	if e.opts.Mirror {
		args = append(args, "--mirror")
	}
	args = append(args, remote, dest)
	return e.runRetry(ctx, "", e.timeouts.Clone, args...)
}

func (e *Engine) updateBare(ctx context.Context, dest string) error {
	return e.runRetry(ctx, dest, e.timeouts.Fetch, "remote", "update", "--prune")
}

func (e *Engine) updateWorkTree(ctx context.Context, dest string) error {
	if err := e.runRetry(ctx, dest, e.timeouts.Fetch, "fetch", "--all", "--prune"); err != nil {
		return err
	}
	err := e.runRetry(ctx, dest, e.timeouts.Fetch, "pull", "--ff-only")
	if err != nil && isNoUpstream(err) {
		// Detached HEAD or a branch with no upstream still counts as
		// updated; the fetch brought the objects in.
		return nil
	}
	return err
}

func (e *Engine) fetchLFS(ctx context.Context, dest string, was RepoState) error {
	if e.opts.Mirror || was == StateBare {
		return e.runRetry(ctx, dest, e.timeouts.LFS, "lfs", "fetch", "--all")
	}
	return e.runRetry(ctx, dest, e.timeouts.LFS, "lfs", "pull")
}

func (e *Engine) headRef(ctx context.Context, dest string) (string, error) {
	return e.run.Run(ctx, dest, e.timeouts.Fetch, "rev-parse", "HEAD")
}

// lfsAvailable probes for the lfs extension once per engine.
func (e *Engine) lfsAvailable(ctx context.Context) bool {
	e.lfsOnce.Do(func() {
		_, err := e.run.Run(ctx, "", 10*time.Second, "lfs", "version")
		e.lfsReady = err == nil
	})
	return e.lfsReady
}

// runRetry runs one git command, retrying transient network failures
// with exponential backoff. Permanent failures return immediately. The
// token never survives into the returned error.
func (e *Engine) runRetry(ctx context.Context, dir string, timeout time.Duration, args ...string) error {
	delay := e.opts.RetryDelay
	retries := e.opts.Retries
	if retries < 0 {
		retries = 0
	}

	verb := gitVerb(args)
	var lastErr error
	// retries counts attempts after the initial call.
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			sleep := delay + time.Duration(rand.Int63n(int64(delay/10)+1))
			e.logger.Debug("retrying git command",
				"op", verb, "attempt", attempt, "delay", sleep.Round(time.Millisecond))
			select {
			case <-ctx.Done():
				return apperrors.NewCancelled("git "+verb, ctx.Err())
			case <-time.After(sleep):
			}
			delay *= 2
		}

		_, err := e.run.Run(ctx, dir, timeout, args...)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return apperrors.NewCancelled("git "+verb, ctx.Err())
		}

		err = redactGitError(err, e.opts.Token)
		if IsAuthGit(err) {
			return apperrors.NewAuth("git "+verb, err)
		}
		if !IsTransientGit(err) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// gitVerb finds the operative subcommand, skipping -c config pairs.
func gitVerb(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return "git"
}

// withToken embeds the token into an HTTPS remote for private access.
func (e *Engine) withToken(httpsURL string) string {
	if e.opts.Token == "" {
		return httpsURL
	}
	u, err := url.Parse(httpsURL)
	if err != nil || u.Scheme != "https" {
		return httpsURL
	}
	u.User = url.UserPassword("x-access-token", e.opts.Token)
	return u.String()
}

// Redact replaces every occurrence of the token in s.
func Redact(s, token string) string {
	if token == "" {
		return s
	}
	return strings.ReplaceAll(s, token, "***")
}

func redactGitError(err error, token string) error {
	if token == "" {
		return err
	}
	var gitErr *apperrors.GitError
	if errors.As(err, &gitErr) {
		gitErr.Output = Redact(gitErr.Output, token)
	}
	return err
}

func isNoUpstream(err error) bool {
	var gitErr *apperrors.GitError
	if !errors.As(err, &gitErr) {
		return false
	}
	out := strings.ToLower(gitErr.Output)
	return strings.Contains(out, "no tracking information") ||
		strings.Contains(out, "you are not currently on a branch")
}
