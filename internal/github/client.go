// internal/github/client.go
package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"time"

	apperrors "github-repo-mirror/internal/errors"
	"github-repo-mirror/internal/model"

	gh "github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"
)

const perPage = 100

// RetryPolicy bounds how API call failures are retried. Attempts is
// the number of retries after the initial call; rate limit waits are
// not counted against it.
type RetryPolicy struct {
	Attempts   int
	BaseDelay  time.Duration
	Multiplier float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, BaseDelay: 5 * time.Second, Multiplier: 2}
}

// Client is a wrapper around the go-github client that adds shared
// rate limit tracking, bounded retries, and translation into the
// internal model.
type Client struct {
	gh         *gh.Client
	httpc      *http.Client
	graphqlURL string
	logger     *slog.Logger
	limiter    *RateLimiter
	retry      RetryPolicy
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:         gh.NewClient(tc),
		httpc:      tc,
		graphqlURL: "https://api.github.com/graphql",
		logger:     logger,
		limiter:    NewRateLimiter(),
		retry:      DefaultRetryPolicy(),
	}
}

// WithBaseURL points the client at an alternate API endpoint.
func (c *Client) WithBaseURL(apiURL string) (*Client, error) {
	ghc, err := c.gh.WithEnterpriseURLs(apiURL, apiURL)
	if err != nil {
		return nil, err
	}
	c.gh = ghc
	c.graphqlURL = strings.TrimSuffix(apiURL, "/") + "/graphql"
	return c, nil
}

// WithRetryPolicy overrides the default retry bounds.
func (c *Client) WithRetryPolicy(p RetryPolicy) *Client {
	c.retry = p
	return c
}

// RateLimiter exposes the shared limiter so callers outside the API
// layer can observe budget state.
func (c *Client) RateLimiter() *RateLimiter { return c.limiter }

// call runs one API operation under the shared limiter with bounded
// retries. Rate limit exhaustion waits for the reset and retries
// without consuming an attempt.
func (c *Client) call(ctx context.Context, op string, fn func(ctx context.Context) (*gh.Response, error)) error {
	delay := c.retry.BaseDelay
	attempt := 0

	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperrors.NewCancelled(op, err)
		}

		resp, err := fn(ctx)
		c.limiter.UpdateFromResponse(resp)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return apperrors.NewCancelled(op, ctx.Err())
		}

		if wait, ok := rateLimitWait(err); ok {
			c.logger.Warn("rate limit exhausted, pausing",
				"op", op, "wait", wait.Round(time.Second))
			c.limiter.Update(0, time.Now().Add(wait))
			if werr := c.limiter.WaitForReset(ctx); werr != nil {
				return apperrors.NewCancelled(op, werr)
			}
			continue
		}

		cerr := classify(op, err)
		if !apperrors.IsTransient(cerr) {
			return cerr
		}

		attempt++
		if attempt > c.retry.Attempts {
			return cerr
		}

		// 10% jitter spreads concurrent workers hitting the same
		// failure apart.
		sleep := delay + time.Duration(rand.Int63n(int64(delay/10)+1))
		c.logger.Debug("transient API failure, retrying",
			"op", op, "attempt", attempt, "delay", sleep.Round(time.Millisecond), "err", err)
		select {
		case <-ctx.Done():
			return apperrors.NewCancelled(op, ctx.Err())
		case <-time.After(sleep):
		}
		delay = time.Duration(float64(delay) * c.retry.Multiplier)
	}
}

// rateLimitWait reports whether err is a rate limit exhaustion and how
// long to pause before retrying.
func rateLimitWait(err error) (time.Duration, bool) {
	if rle, ok := err.(*gh.RateLimitError); ok {
		return time.Until(rle.Rate.Reset.Time), true
	}
	if are, ok := err.(*gh.AbuseRateLimitError); ok {
		if are.RetryAfter != nil {
			return *are.RetryAfter, true
		}
		return time.Minute, true
	}
	var rle *apperrors.RateLimitError
	if errors.As(err, &rle) {
		return time.Until(rle.ResetAt), true
	}
	return 0, false
}

// classify maps a go-github error onto the internal error taxonomy.
// Errors that already carry a classification pass through unchanged.
func classify(op string, err error) error {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	if er, ok := err.(*gh.ErrorResponse); ok && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return apperrors.NewAuth(op, err)
		case http.StatusNotFound:
			return apperrors.NewNotFound(op, err)
		case http.StatusUnprocessableEntity:
			return apperrors.NewValidation(op, err)
		}
	}
	return apperrors.NewTransient(op, err)
}

// AuthenticatedUser returns the login of the token's owner.
func (c *Client) AuthenticatedUser(ctx context.Context) (string, error) {
	var user *gh.User
	err := c.call(ctx, "get authenticated user", func(ctx context.Context) (*gh.Response, error) {
		var resp *gh.Response
		var err error
		user, resp, err = c.gh.Users.Get(ctx, "")
		return resp, err
	})
	if err != nil {
		return "", err
	}
	return user.GetLogin(), nil
}

// GetRepository fetches repository details and translates them to our internal model.
func (c *Client) GetRepository(ctx context.Context, owner, name string) (*model.Repository, error) {
	var repo *gh.Repository
	err := c.call(ctx, "get repository", func(ctx context.Context) (*gh.Response, error) {
		var resp *gh.Response
		var err error
		repo, resp, err = c.gh.Repositories.Get(ctx, owner, name)
		return resp, err
	})
	if err != nil {
		return nil, err
	}
	r := toInternalRepository(repo)
	return &r, nil
}

// ListSelf returns all repositories affiliated with the authenticated
// user. It handles API pagination transparently.
func (c *Client) ListSelf(ctx context.Context, visibility string) ([]model.Repository, error) {
	opts := &gh.RepositoryListByAuthenticatedUserOptions{
		Visibility:  visibility,
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []model.Repository
	for {
		c.logger.Debug("fetching own repositories page", "page", opts.Page)

		var repos []*gh.Repository
		var next int
		err := c.call(ctx, "list own repositories", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			repos, resp, err = c.gh.Repositories.ListByAuthenticatedUser(ctx, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, r := range repos {
			all = append(all, toInternalRepository(r))
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// ListUser returns all public repositories owned by a user.
func (c *Client) ListUser(ctx context.Context, user string) ([]model.Repository, error) {
	opts := &gh.RepositoryListByUserOptions{
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []model.Repository
	for {
		c.logger.Debug("fetching user repositories page", "user", user, "page", opts.Page)

		var repos []*gh.Repository
		var next int
		err := c.call(ctx, "list user repositories", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			repos, resp, err = c.gh.Repositories.ListByUser(ctx, user, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, r := range repos {
			all = append(all, toInternalRepository(r))
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// ListOrg returns all repositories of an organization visible to the
// token.
func (c *Client) ListOrg(ctx context.Context, org string) ([]model.Repository, error) {
	opts := &gh.RepositoryListByOrgOptions{
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []model.Repository
	for {
		c.logger.Debug("fetching org repositories page", "org", org, "page", opts.Page)

		var repos []*gh.Repository
		var next int
		err := c.call(ctx, "list org repositories", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			repos, resp, err = c.gh.Repositories.ListByOrg(ctx, org, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, r := range repos {
			all = append(all, toInternalRepository(r))
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// ListOrgs returns the login names of organizations the authenticated
// user belongs to.
func (c *Client) ListOrgs(ctx context.Context) ([]string, error) {
	opts := &gh.ListOptions{PerPage: perPage}

	var all []string
	for {
		var orgs []*gh.Organization
		var next int
		err := c.call(ctx, "list organizations", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			orgs, resp, err = c.gh.Organizations.List(ctx, "", opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, o := range orgs {
			all = append(all, o.GetLogin())
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// ListStarred returns all repositories starred by the authenticated
// user.
func (c *Client) ListStarred(ctx context.Context) ([]model.Repository, error) {
	opts := &gh.ActivityListStarredOptions{
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []model.Repository
	for {
		c.logger.Debug("fetching starred repositories page", "page", opts.Page)

		var starred []*gh.StarredRepository
		var next int
		err := c.call(ctx, "list starred repositories", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			starred, resp, err = c.gh.Activity.ListStarred(ctx, "", opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, s := range starred {
			r := toInternalRepository(s.GetRepository())
			r.Category = model.CategoryStarred
			all = append(all, r)
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// ListWatched returns all repositories watched by the authenticated
// user.
func (c *Client) ListWatched(ctx context.Context) ([]model.Repository, error) {
	opts := &gh.ListOptions{PerPage: perPage}

	var all []model.Repository
	for {
		c.logger.Debug("fetching watched repositories page", "page", opts.Page)

		var repos []*gh.Repository
		var next int
		err := c.call(ctx, "list watched repositories", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			repos, resp, err = c.gh.Activity.ListWatched(ctx, "", opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, r := range repos {
			ir := toInternalRepository(r)
			ir.Category = model.CategoryWatched
			all = append(all, ir)
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// ListIssues returns all issues of a repository, any state, pull
// requests excluded.
func (c *Client) ListIssues(ctx context.Context, owner, name string) ([]*gh.Issue, error) {
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []*gh.Issue
	for {
		var issues []*gh.Issue
		var next int
		err := c.call(ctx, "list issues", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			issues, resp, err = c.gh.Issues.ListByRepo(ctx, owner, name, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		for _, is := range issues {
			// The issues API interleaves pull requests.
			if is.IsPullRequest() {
				continue
			}
			all = append(all, is)
		}
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// ListPulls returns all pull requests of a repository, any state.
func (c *Client) ListPulls(ctx context.Context, owner, name string) ([]*gh.PullRequest, error) {
	opts := &gh.PullRequestListOptions{
		State:       "all",
		ListOptions: gh.ListOptions{PerPage: perPage},
	}

	var all []*gh.PullRequest
	for {
		var pulls []*gh.PullRequest
		var next int
		err := c.call(ctx, "list pull requests", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			pulls, resp, err = c.gh.PullRequests.List(ctx, owner, name, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		all = append(all, pulls...)
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// ListReleases returns all releases of a repository.
func (c *Client) ListReleases(ctx context.Context, owner, name string) ([]*gh.RepositoryRelease, error) {
	opts := &gh.ListOptions{PerPage: perPage}

	var all []*gh.RepositoryRelease
	for {
		var releases []*gh.RepositoryRelease
		var next int
		err := c.call(ctx, "list releases", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			releases, resp, err = c.gh.Repositories.ListReleases(ctx, owner, name, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		all = append(all, releases...)
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// ListWorkflows returns all workflow definitions of a repository.
func (c *Client) ListWorkflows(ctx context.Context, owner, name string) ([]*gh.Workflow, error) {
	opts := &gh.ListOptions{PerPage: perPage}

	var all []*gh.Workflow
	for {
		var workflows *gh.Workflows
		var next int
		err := c.call(ctx, "list workflows", func(ctx context.Context) (*gh.Response, error) {
			var resp *gh.Response
			var err error
			workflows, resp, err = c.gh.Actions.ListWorkflows(ctx, owner, name, opts)
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		})
		if err != nil {
			return nil, err
		}

		all = append(all, workflows.Workflows...)
		if next == 0 {
			break
		}
		opts.Page = next
	}
	return all, nil
}

// GetFileContent returns the decoded content of a file on the
// repository's default branch.
func (c *Client) GetFileContent(ctx context.Context, owner, name, path string) (string, error) {
	var content *gh.RepositoryContent
	err := c.call(ctx, "get file content", func(ctx context.Context) (*gh.Response, error) {
		var resp *gh.Response
		var err error
		content, _, resp, err = c.gh.Repositories.GetContents(ctx, owner, name, path, nil)
		return resp, err
	})
	if err != nil {
		return "", err
	}
	if content == nil {
		return "", apperrors.NewNotFound(fmt.Sprintf("%s is not a file", path), nil)
	}
	decoded, err := content.GetContent()
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return decoded, nil
}

// toInternalRepository translates a github.Repository object to our internal model.Repository.
func toInternalRepository(r *gh.Repository) model.Repository {
	return model.Repository{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Private:       r.GetPrivate(),
		Fork:          r.GetFork(),
		Archived:      r.GetArchived(),
		DefaultBranch: r.GetDefaultBranch(),
		SSHURL:        r.GetSSHURL(),
		HTTPSURL:      r.GetCloneURL(),
		SizeKB:        int64(r.GetSize()),
		PushedAt:      r.GetPushedAt().Time,
		HasWiki:       r.GetHasWiki(),
		OwnerType:     r.GetOwner().GetType(),
	}
}
