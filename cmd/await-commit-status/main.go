/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/sethvargo/go-envconfig"

	"github.com/chainguard-dev/await-commit-status/pkg/actionoutput"
	"github.com/chainguard-dev/await-commit-status/pkg/commitstatus"
	"github.com/chainguard-dev/await-commit-status/pkg/httpmetrics"
	"github.com/chainguard-dev/await-commit-status/pkg/httpmetrics/cloudevents"
	"github.com/chainguard-dev/await-commit-status/pkg/poller"
	"github.com/chainguard-dev/await-commit-status/pkg/statusevent"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code, so deferred cleanup happens before exit.
func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = clog.WithLogger(ctx, clog.New(slog.Default().Handler()))

	cfg, err := loadConfig(ctx, envconfig.OsLookuper())
	if err != nil {
		clog.ErrorContextf(ctx, "ERROR: invalid configuration: %v", err)
		return 1
	}
	printConfig(ctx, cfg)

	if cfg.MetricsPort != 0 {
		go httpmetrics.ServeMetrics(ctx, cfg.MetricsPort)
	}
	if cfg.OTLPEndpoint != "" {
		defer httpmetrics.SetupTracer(ctx)()
	}

	apiURL, err := url.Parse(cfg.APIURL)
	if err != nil {
		clog.ErrorContextf(ctx, "ERROR: invalid GITHUB_API_URL %q: %v", cfg.APIURL, err)
		return 1
	}
	httpmetrics.SetGitHubHosts(apiURL.Host)
	httpmetrics.SetBuckets(map[string]string{
		apiURL.Host: "github",
	})
	// GitHub Enterprise Cloud tenants with data residency live under ghe.com.
	httpmetrics.SetBucketSuffixes(map[string]string{
		"ghe.com": "ghe",
	})

	client, err := commitstatus.NewClient(ctx, cfg.Token, commitstatus.WithBaseURL(cfg.APIURL))
	if err != nil {
		clog.ErrorContextf(ctx, "ERROR: creating GitHub client: %v", err)
		return 1
	}

	pcfg := cfg.pollerConfig()
	p, err := poller.New(pcfg, client)
	if err != nil {
		clog.ErrorContextf(ctx, "ERROR: %v", err)
		return 1
	}

	res, err := p.Run(ctx)
	if err != nil {
		clog.ErrorContextf(ctx, "ERROR: %v", err)
		return 1
	}

	out := actionoutput.NewWriter(os.Stdout)
	if cfg.OutputPath != "" {
		out = actionoutput.NewFileWriter(cfg.OutputPath)
	} else {
		clog.WarnContext(ctx, "GITHUB_OUTPUT is not set, writing outputs to stdout")
	}
	if err := writeOutputs(out, res); err != nil {
		clog.ErrorContextf(ctx, "ERROR: writing outputs: %v", err)
		return 1
	}

	switch res.Phase {
	case poller.TimedOut:
		clog.InfoContext(ctx, "Action timed out.")
	case poller.Concluded:
		clog.InfoContextf(ctx, "Status %q concluded with state %q", cfg.Context, res.State)
	}

	if cfg.EventSink != "" {
		publishOutcome(ctx, cfg.EventSink, pcfg, res)
	}

	return res.ExitCode
}

func printConfig(ctx context.Context, cfg *config) {
	clog.FromContext(ctx).With(
		"context", cfg.Context,
		"commit_ref", cfg.CommitRef,
		"timeout_ms", cfg.TimeoutMillis,
		"check_interval_ms", cfg.CheckIntervalMillis,
		"request_timeout", cfg.RequestTimeout,
		"owner", cfg.Owner,
		"repository", cfg.Repo,
		"api_url", cfg.APIURL,
	).Info("Using the following configuration")
}

// writeOutputs records the state and, when a status matched, its JSON.
func writeOutputs(out *actionoutput.Writer, res *poller.Result) error {
	if err := out.Set("state", res.State); err != nil {
		return err
	}
	if res.Entry == nil {
		return nil
	}
	b, err := json.Marshal(res.Entry)
	if err != nil {
		return fmt.Errorf("encoding status: %w", err)
	}
	return out.Set("json", string(b))
}

func publishOutcome(ctx context.Context, sink string, pcfg poller.Config, res *poller.Result) {
	ceclient, err := cloudevents.NewClientHTTP(cehttp.WithTarget(sink))
	if err != nil {
		clog.WarnContextf(ctx, "Failed to create CloudEvents client: %v", err)
		return
	}
	if err := statusevent.NewPublisher(ceclient).Publish(ctx, pcfg, res); err != nil {
		clog.WarnContextf(ctx, "Failed to publish outcome event: %v", err)
	}
}
