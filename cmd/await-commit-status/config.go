/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sethvargo/go-envconfig"

	"github.com/chainguard-dev/await-commit-status/pkg/poller"
)

type config struct {
	// GitHub configuration
	Token     string `env:"GITHUB_TOKEN,required"`
	Owner     string `env:"GITHUB_OWNER,required"`
	Repo      string `env:"GITHUB_REPO,required"`
	APIURL    string `env:"GITHUB_API_URL,default=https://api.github.com"`
	CommitRef string `env:"COMMIT_REF,required"`
	Context   string `env:"CONTEXT,required"`

	// Timing, in milliseconds to match the action inputs.
	TimeoutMillis       int64         `env:"TIMEOUT,default=180000"`
	CheckIntervalMillis int64         `env:"CHECK_INTERVAL,default=60000"`
	RequestTimeout      time.Duration `env:"REQUEST_TIMEOUT,default=30s"`

	// Outputs
	OutputPath string `env:"GITHUB_OUTPUT"`
	EventSink  string `env:"EVENT_SINK"`

	// Observability
	MetricsPort  int    `env:"METRICS_PORT"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

// emptyAsUnset treats variables set to the empty string as unset, so
// workflow inputs that were not provided fall back to their defaults.
type emptyAsUnset struct {
	envconfig.Lookuper
}

func (l emptyAsUnset) Lookup(key string) (string, bool) {
	v, ok := l.Lookuper.Lookup(key)
	if v == "" {
		return "", false
	}
	return v, ok
}

// loadConfig reads the configuration from l and checks it.
func loadConfig(ctx context.Context, l envconfig.Lookuper) (*config, error) {
	var cfg config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: emptyAsUnset{l},
	}); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		name string
		ms   int64
	}{
		{"timeout", cfg.TimeoutMillis},
		{"interval", cfg.CheckIntervalMillis},
	} {
		if f.ms > maxMillis {
			return nil, &poller.ConfigError{Field: f.name, Reason: fmt.Sprintf("must be at most %d milliseconds, got %d", maxMillis, f.ms)}
		}
	}
	if err := cfg.pollerConfig().Validate(); err != nil {
		return nil, err
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return nil, fmt.Errorf("METRICS_PORT out of range: %d", cfg.MetricsPort)
	}
	return &cfg, nil
}

func (c *config) pollerConfig() poller.Config {
	return poller.Config{
		Owner:          c.Owner,
		Repo:           c.Repo,
		Ref:            c.CommitRef,
		Context:        c.Context,
		Timeout:        time.Duration(c.TimeoutMillis) * time.Millisecond,
		Interval:       time.Duration(c.CheckIntervalMillis) * time.Millisecond,
		RequestTimeout: c.RequestTimeout,
	}
}
