// internal/github/graphql.go
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	apperrors "github-repo-mirror/internal/errors"

	gh "github.com/google/go-github/v62/github"
)

// PageInfo is the cursor pagination envelope of GraphQL connections.
type PageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

// Gist describes one gist of the authenticated user.
type Gist struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Public      bool      `json:"isPublic"`
	PushedAt    time.Time `json:"pushedAt"`
	PullURL     string    `json:"url"`
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"errors"`
}

// doGraphQL posts one query under the same limiter and retry envelope
// as the REST calls and decodes the data payload into out.
func (c *Client) doGraphQL(ctx context.Context, query string, vars map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return apperrors.NewValidation("encode graphql query", err)
	}

	return c.call(ctx, "graphql query", func(ctx context.Context) (*gh.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		ghr := graphqlRateState(resp)

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
			return ghr, graphqlHTTPError(resp.StatusCode, raw)
		}

		var envelope graphqlResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return ghr, err
		}
		if len(envelope.Errors) > 0 {
			first := envelope.Errors[0]
			switch first.Type {
			case "RATE_LIMITED":
				return ghr, rateLimitedFromHeaders(resp)
			case "NOT_FOUND":
				return ghr, apperrors.NewNotFound("graphql query", fmt.Errorf("%s", first.Message))
			}
			return ghr, apperrors.NewValidation("graphql query", fmt.Errorf("%s: %s", first.Type, first.Message))
		}
		return ghr, json.Unmarshal(envelope.Data, out)
	})
}

// ListGists returns all gists of the authenticated user via cursor
// pagination.
func (c *Client) ListGists(ctx context.Context) ([]Gist, error) {
	const query = `query($cursor: String) {
	  viewer {
	    gists(first: 100, after: $cursor, privacy: ALL) {
	      pageInfo { hasNextPage endCursor }
	      nodes { name description isPublic pushedAt url }
	    }
	  }
	}`

	var all []Gist
	vars := map[string]any{}
	for {
		var data struct {
			Viewer struct {
				Gists struct {
					PageInfo PageInfo `json:"pageInfo"`
					Nodes    []Gist   `json:"nodes"`
				} `json:"gists"`
			} `json:"viewer"`
		}
		if err := c.doGraphQL(ctx, query, vars, &data); err != nil {
			return nil, err
		}

		all = append(all, data.Viewer.Gists.Nodes...)
		if !data.Viewer.Gists.PageInfo.HasNextPage {
			break
		}
		vars["cursor"] = data.Viewer.Gists.PageInfo.EndCursor
	}
	return all, nil
}

// graphqlRateState lifts X-RateLimit headers into the response shape
// the shared limiter consumes.
func graphqlRateState(resp *http.Response) *gh.Response {
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil {
		return nil
	}
	reset, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		return nil
	}
	limit, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))
	if err != nil {
		limit = defaultBudget
	}
	return &gh.Response{Rate: gh.Rate{
		Limit:     limit,
		Remaining: remaining,
		Reset:     gh.Timestamp{Time: time.Unix(reset, 0)},
	}}
}

func rateLimitedFromHeaders(resp *http.Response) error {
	reset := time.Now().Add(time.Minute)
	if v, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
		reset = time.Unix(v, 0)
	}
	return &apperrors.RateLimitError{ResetAt: reset}
}

func graphqlHTTPError(status int, body []byte) error {
	err := fmt.Errorf("graphql endpoint returned %d: %s", status, bytes.TrimSpace(body))
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.NewAuth("graphql query", err)
	case http.StatusNotFound:
		return apperrors.NewNotFound("graphql query", err)
	}
	return apperrors.NewTransient("graphql query", err)
}
