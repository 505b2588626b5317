/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package httpmetrics

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

var (
	mReqCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_client_request_count",
			Help: "The total number of HTTP requests",
		},
		[]string{"code", "method", "host", "path"},
	)
	mReqInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_client_request_in_flight",
			Help: "The number of outgoing HTTP requests currently inflight",
		},
		[]string{"method", "host", "path"},
	)
	mReqDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_client_request_duration_seconds",
			Help:    "The duration of HTTP requests",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 45, 60},
		},
		[]string{"code", "method", "host", "path"},
	)
	seenHostMap = sync.Map{}
)

var (
	bucketsMu      sync.RWMutex
	buckets        = map[string]string{}
	bucketSuffixes = map[string]string{}
)

// SetBuckets maps exact hosts to the host label used on request metrics.
func SetBuckets(b map[string]string) {
	bucketsMu.Lock()
	defer bucketsMu.Unlock()
	buckets = b
}

// SetBucketSuffixes maps host suffixes to a host label, for hosts that
// are not listed with SetBuckets.
func SetBucketSuffixes(bs map[string]string) {
	bucketsMu.Lock()
	defer bucketsMu.Unlock()
	bucketSuffixes = bs
}

// Transport is an http.RoundTripper that records metrics for each request.
var Transport = WrapTransport(http.DefaultTransport)

// WrapTransport wraps an http.RoundTripper with instrumentation.
func WrapTransport(t http.RoundTripper) http.RoundTripper {
	return instrumentGitHubAPI(
		instrumentRoundTripperCounter(
			instrumentRoundTripperInFlight(
				instrumentRoundTripperDuration(
					instrumentGitHubRateLimits(
						otelhttp.NewTransport(t))))))
}

func mapErrorToLabel(err error) string {
	switch s := err.Error(); {
	case strings.Contains(s, "no route to host"):
		return "no-route-to_host"
	case strings.Contains(s, "i/o timeout"):
		return "io-timeout"
	case strings.Contains(s, "TLS handshake timeout"):
		return "tls-handshake-timeout"
	case strings.Contains(s, "TLS handshake error"):
		return "tls-handshake-error"
	case strings.Contains(s, "unexpected EOF"):
		return "unexpected-eof"
	case strings.Contains(s, "context deadline exceeded"):
		return "deadline-exceeded"
	case strings.Contains(s, "context canceled"):
		return "canceled"
	default:
		return "unknown-error"
	}
}

// These instrument methods based on promhttp, with bucketized host and API path labels added:
// https://pkg.go.dev/github.com/prometheus/client_golang/prometheus/promhttp

func instrumentRoundTripperCounter(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		host := bucketize(r.Context(), r.URL.Host)
		ctx, span := otel.Tracer("httpmetrics").Start(r.Context(), fmt.Sprintf("http-%s-%s", r.Method, host))
		// Ensure that outgoing requests are nested under this span.
		r = r.WithContext(ctx)
		defer span.End()

		code := ""
		resp, err := next.RoundTrip(r)
		if err == nil {
			code = strconv.Itoa(resp.StatusCode)
		} else {
			code = mapErrorToLabel(err)
		}
		mReqCount.With(prometheus.Labels{
			"code":   code,
			"method": r.Method,
			"host":   host,
			"path":   getPath(ctx),
		}).Inc()
		return resp, err
	}
}

func instrumentRoundTripperInFlight(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		g := mReqInFlight.With(prometheus.Labels{
			"method": r.Method,
			"host":   bucketize(r.Context(), r.URL.Host),
			"path":   getPath(r.Context()),
		})
		g.Inc()
		defer g.Dec()
		return next.RoundTrip(r)
	}
}

func instrumentRoundTripperDuration(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		start := time.Now()
		resp, err := next.RoundTrip(r)
		if err == nil {
			mReqDuration.With(prometheus.Labels{
				"code":   strconv.Itoa(resp.StatusCode),
				"method": r.Method,
				"host":   bucketize(r.Context(), r.URL.Host),
				"path":   getPath(r.Context()),
			}).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

func bucketize(ctx context.Context, host string) string {
	bucketsMu.RLock()
	defer bucketsMu.RUnlock()

	// Check the exact matches first.
	if b, ok := buckets[host]; ok {
		return b
	}
	// Then check the suffixes.
	for k, v := range bucketSuffixes {
		if strings.HasSuffix(host, "."+k) {
			return v
		}
	}

	v, _ := seenHostMap.LoadOrStore(host, &atomic.Int64{})
	vInt := v.(*atomic.Int64)

	if seen := vInt.Add(1); (seen-1)%10 == 0 {
		clog.WarnContext(ctx, `bucketing host as "other", use httpmetrics.SetBucket{Suffixe}s`, "host", host, "seen", seen)
	}
	return "other"
}

var (
	mGitHubRateLimitRemaining = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_remaining",
			Help: "The number of requests remaining in the current rate limit window",
		},
		[]string{"resource"},
	)
	mGitHubRateLimit = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit",
			Help: "The number of requests allowed during the rate limit window",
		},
		[]string{"resource"},
	)
	mGitHubRateLimitReset = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_reset",
			Help: "The timestamp at which the current rate limit window resets",
		},
		[]string{"resource"},
	)
	mGitHubRateLimitUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "github_rate_limit_used",
			Help: "The fraction of the rate limit window used",
		},
		[]string{"resource"},
	)
)

// instrumentGitHubRateLimits is a promhttp.RoundTripperFunc that records GitHub rate limit metrics.
// See https://docs.github.com/en/rest/using-the-rest-api/rate-limits-for-the-rest-api?apiVersion=2022-11-28
func instrumentGitHubRateLimits(next http.RoundTripper) promhttp.RoundTripperFunc {
	return func(r *http.Request) (*http.Response, error) {
		resp, err := next.RoundTrip(r)
		if err != nil || !isGitHubHost(r.URL.Host) {
			return resp, err
		}

		resource := resp.Header.Get("X-RateLimit-Resource")
		if resource == "" {
			resource = "unknown"
		}

		val := func(key string) float64 {
			val := resp.Header.Get(key)
			if val == "" {
				return 0
			}
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0
			}
			return float64(i)
		}
		remaining := val("X-RateLimit-Remaining")
		mGitHubRateLimitRemaining.With(prometheus.Labels{"resource": resource}).Set(remaining)

		limit := val("X-RateLimit-Limit")
		mGitHubRateLimit.With(prometheus.Labels{"resource": resource}).Set(limit)

		mGitHubRateLimitReset.With(prometheus.Labels{"resource": resource}).Set(val("X-RateLimit-Reset"))

		if limit > 0 {
			used := (limit - remaining) / limit
			mGitHubRateLimitUsed.With(prometheus.Labels{"resource": resource}).Set(used)
		}
		return resp, err
	}
}
