// Package github talks to the GitHub REST API: it fetches pull request diffs
// and publishes review comments.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v68/github"

	"github.com/hugo-lorenzo-mato/ghostwriter/internal/core"
)

// Client wraps the REST API calls ghostwriter needs.
type Client struct {
	api     *gh.Client
	timeout time.Duration
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *clientOptions) {
		o.httpClient = c
	}
}

// WithBaseURL points the client at GitHub Enterprise or a test server.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) {
		o.baseURL = u
	}
}

// WithTimeout bounds each API call.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.timeout = d
	}
}

// NewClient creates a client authenticated with token.
func NewClient(token string, opts ...Option) (*Client, error) {
	o := clientOptions{timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}
	if strings.TrimSpace(token) == "" {
		return nil, core.ErrAuth("GitHub token is not set")
	}

	api := gh.NewClient(o.httpClient).WithAuthToken(token)
	if o.baseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(o.baseURL, "/") + "/")
		if err != nil {
			return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("invalid GitHub base URL %q", o.baseURL)).WithCause(err)
		}
		api.BaseURL = base
	}
	return &Client{api: api, timeout: o.timeout}, nil
}

// FetchDiff returns the unified diff of a pull request.
func (c *Client) FetchDiff(ctx context.Context, ref core.PullRef) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	diff, _, err := c.api.PullRequests.GetRaw(ctx, ref.Owner, ref.Repo, ref.Number, gh.RawOptions{Type: gh.Diff})
	if err != nil {
		return "", classify(ctx, fmt.Sprintf("fetching diff of %s", ref.Key()), err)
	}
	return diff, nil
}

func (c *Client) createComment(ctx context.Context, ref core.PullRef, body string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	comment, _, err := c.api.Issues.CreateComment(ctx, ref.Owner, ref.Repo, ref.Number, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return 0, classify(ctx, fmt.Sprintf("commenting on %s", ref.Key()), err)
	}
	return comment.GetID(), nil
}

func (c *Client) editComment(ctx context.Context, ref core.PullRef, id int64, body string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	_, _, err := c.api.Issues.EditComment(ctx, ref.Owner, ref.Repo, id, &gh.IssueComment{Body: gh.Ptr(body)})
	if err != nil {
		return classify(ctx, fmt.Sprintf("editing comment %d on %s", id, ref.Key()), err)
	}
	return nil
}

// findComment pages through the pull request's comments and returns the
// first whose body contains marker.
func (c *Client) findComment(ctx context.Context, ref core.PullRef, marker string) (int64, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: 100}}
	for {
		comments, resp, err := c.api.Issues.ListComments(ctx, ref.Owner, ref.Repo, ref.Number, opts)
		if err != nil {
			return 0, false, classify(ctx, fmt.Sprintf("listing comments of %s", ref.Key()), err)
		}
		for _, cm := range comments {
			if strings.Contains(cm.GetBody(), marker) {
				return cm.GetID(), true, nil
			}
		}
		if resp == nil || resp.NextPage == 0 {
			return 0, false, nil
		}
		opts.Page = resp.NextPage
	}
}

// classify maps an API error onto the domain taxonomy.
func classify(ctx context.Context, op string, err error) error {
	if ctx.Err() == context.DeadlineExceeded {
		return core.ErrTimeout(op + ": GitHub did not answer in time").WithCause(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var rateErr *gh.RateLimitError
	var abuseErr *gh.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return core.ErrRateLimit(op + ": GitHub rate limit").WithCause(err)
	}

	var respErr *gh.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch respErr.Response.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return core.ErrAuth(op + ": token rejected").WithCause(err)
		case http.StatusNotFound:
			return core.ErrNotFound("GitHub resource", op).WithCause(err)
		case http.StatusTooManyRequests:
			return core.ErrRateLimit(op + ": GitHub rate limit").WithCause(err)
		case http.StatusUnprocessableEntity:
			return core.ErrValidation(core.CodeInvalidEvent, op+": request rejected").WithCause(err)
		}
		return core.ErrExecution(core.CodeGitHubFailed, op).
			WithCause(err).WithDetail("status", respErr.Response.StatusCode)
	}
	return core.ErrExecution(core.CodeGitHubFailed, op).WithCause(err)
}
