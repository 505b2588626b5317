// Copyright 2025 Chainguard, Inc.
// SPDX-License-Identifier: Apache-2.0

package httpmetrics

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type pathPattern struct {
	pattern *regexp.Regexp
	bucket  string
}

// GitHub API endpoint patterns, keyed on the path below the API root.
// Based on GitHub REST API documentation: https://docs.github.com/en/rest
var githubAPIPatterns = []pathPattern{{
	// https://docs.github.com/en/rest/repos/repos#get-a-repository
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+$`),
	bucket:  "/repos/{org}/{repo}",
}, {
	// https://docs.github.com/en/rest/commits/commits#get-a-commit
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/commits/[^/]+$`),
	bucket:  "/repos/{org}/{repo}/commits/{sha}",
}, {
	// https://docs.github.com/en/rest/commits/statuses#get-the-combined-status-for-a-specific-reference
	// Refs may contain slashes, e.g. heads/main.
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/commits/.+/status$`),
	bucket:  "/repos/{org}/{repo}/commits/{ref}/status",
}, {
	// https://docs.github.com/en/rest/commits/statuses#list-commit-statuses-for-a-reference
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/commits/.+/statuses$`),
	bucket:  "/repos/{org}/{repo}/commits/{ref}/statuses",
}, {
	// https://docs.github.com/en/rest/checks/runs#list-check-runs-for-a-git-reference
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/commits/.+/check-runs$`),
	bucket:  "/repos/{org}/{repo}/commits/{ref}/check-runs",
}, {
	// https://docs.github.com/en/rest/commits/statuses#create-a-commit-status
	pattern: regexp.MustCompile(`^/repos/[^/]+/[^/]+/statuses/[^/]+$`),
	bucket:  "/repos/{org}/{repo}/statuses/{sha}",
}, {
	// https://docs.github.com/en/rest/rate-limit/rate-limit#get-rate-limit-status-for-the-authenticated-user
	pattern: regexp.MustCompile(`^/rate_limit$`),
	bucket:  "/rate_limit",
}}

// enterprisePrefix is the API root on GitHub Enterprise Server hosts.
const enterprisePrefix = "/api/v3"

var (
	githubHostsMu sync.RWMutex
	githubHosts   = map[string]bool{"api.github.com": true}
)

// SetGitHubHosts registers additional GitHub API hosts (e.g. an Enterprise
// Server) whose requests get API path labels and rate limit metrics.
func SetGitHubHosts(hosts ...string) {
	githubHostsMu.Lock()
	defer githubHostsMu.Unlock()
	for _, h := range hosts {
		githubHosts[h] = true
	}
}

func isGitHubHost(host string) bool {
	githubHostsMu.RLock()
	defer githubHostsMu.RUnlock()
	return githubHosts[host]
}

func bucketizePath(path string) string {
	path = strings.TrimPrefix(path, enterprisePrefix)
	for _, p := range githubAPIPatterns {
		if p.pattern.MatchString(path) {
			return p.bucket
		}
	}
	return "unknown"
}

type pathKey struct{}

func withPath(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, pathKey{}, path)
}

func getPath(ctx context.Context) string {
	if p, ok := ctx.Value(pathKey{}).(string); ok {
		return p
	}
	return ""
}

// instrumentGitHubAPI attaches the bucketed API path to requests bound for a
// GitHub API host, so the inner layers can label by endpoint.
func instrumentGitHubAPI(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		if isGitHubHost(r.URL.Host) {
			r = r.WithContext(withPath(r.Context(), bucketizePath(r.URL.EscapedPath())))
		}
		return next.RoundTrip(r)
	}
}
