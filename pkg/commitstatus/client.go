/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package commitstatus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v75/github"
	"golang.org/x/oauth2"

	"github.com/chainguard-dev/await-commit-status/pkg/httpmetrics"
)

// DefaultBaseURL is the public GitHub REST API endpoint.
const DefaultBaseURL = "https://api.github.com/"

// APIError is returned when GitHub answers a status request with anything
// other than 200 OK.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API call failed. Status code: %d, %s", e.StatusCode, e.Body)
}

// Client fetches combined commit statuses from GitHub.
type Client struct {
	gh *github.Client
}

// Option configures a Client.
type Option func(*options)

type options struct {
	baseURL string
	base    http.RoundTripper
}

// WithBaseURL points the client at a different API root, e.g. the value of
// GITHUB_API_URL on a GitHub Enterprise Server runner.
func WithBaseURL(u string) Option {
	return func(o *options) { o.baseURL = u }
}

// WithBaseTransport sets the transport the credential and metrics layers wrap.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// NewClient returns a Client that authenticates with the given bearer token.
func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	o := options{
		baseURL: DefaultBaseURL,
		base:    http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(&o)
	}

	base, err := url.Parse(o.baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", o.baseURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: o.base}), ts)

	gh := github.NewClient(&http.Client{
		Transport: httpmetrics.WrapTransport(oauthClient.Transport),
	})
	gh.BaseURL = base

	return &Client{gh: gh}, nil
}

type combinedStatus struct {
	Statuses *[]Entry `json:"statuses"`
}

// Fetch returns every status reported against ref, in the order GitHub
// returns them. It makes exactly one request.
func (c *Client) Fetch(ctx context.Context, owner, repo, ref string) ([]Entry, error) {
	u := fmt.Sprintf("repos/%v/%v/commits/%v/status", url.PathEscape(owner), url.PathEscape(repo), escapeRef(ref))
	req, err := c.gh.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	clog.FromContext(ctx).Infof("Fetching commit status from %s", req.URL)

	var body combinedStatus
	resp, err := c.gh.Do(ctx, req, &body)
	if err != nil {
		if apiErr := asAPIError(err); apiErr != nil {
			return nil, apiErr
		}
		return nil, fmt.Errorf("fetching commit status: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode}
	}
	if body.Statuses == nil {
		return nil, errors.New("commit status response has no statuses")
	}
	return *body.Statuses, nil
}

// asAPIError extracts the HTTP response go-github attaches to its error types.
// go-github re-populates the response body after decoding its error message,
// so the raw body is still readable here.
func asAPIError(err error) *APIError {
	var (
		errResp   *github.ErrorResponse
		rateErr   *github.RateLimitError
		abuseErr  *github.AbuseRateLimitError
		acceptErr *github.AcceptedError
	)
	switch {
	case errors.As(err, &errResp):
		return fromResponse(errResp.Response)
	case errors.As(err, &rateErr):
		return fromResponse(rateErr.Response)
	case errors.As(err, &abuseErr):
		return fromResponse(abuseErr.Response)
	case errors.As(err, &acceptErr):
		return &APIError{StatusCode: http.StatusAccepted, Body: string(acceptErr.Raw)}
	default:
		return nil
	}
}

func fromResponse(resp *http.Response) *APIError {
	if resp == nil {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if resp.Body != nil {
		if b, err := io.ReadAll(resp.Body); err == nil {
			apiErr.Body = string(b)
		}
	}
	return apiErr
}

// escapeRef escapes each path segment of a ref, keeping the separators so
// refs like heads/main resolve.
func escapeRef(ref string) string {
	parts := strings.Split(ref, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
