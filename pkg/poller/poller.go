/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/chainguard-dev/await-commit-status/pkg/commitstatus"
)

// TimeoutState is the output state reported when the deadline passes
// before the context concludes.
const TimeoutState = "timeout"

// Fetcher retrieves the statuses reported against a commit.
type Fetcher interface {
	Fetch(ctx context.Context, owner, repo, ref string) ([]commitstatus.Entry, error)
}

// FetcherFunc is a convenience wrapper for turning a function into a Fetcher.
type FetcherFunc func(ctx context.Context, owner, repo, ref string) ([]commitstatus.Entry, error)

// Fetch implements Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, owner, repo, ref string) ([]commitstatus.Entry, error) {
	return f(ctx, owner, repo, ref)
}

// Config is the immutable configuration of a single wait.
type Config struct {
	Owner   string
	Repo    string
	Ref     string
	Context string

	// Timeout bounds the whole wait. It is checked before every poll, so
	// a poll that starts before the deadline is always evaluated.
	Timeout time.Duration
	// Interval is the pause between inconclusive polls.
	Interval time.Duration
	// RequestTimeout bounds each fetch. Zero means no per-request limit.
	RequestTimeout time.Duration
}

// ConfigError reports an invalid Config.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validate reports the first field that is missing or out of range.
func (c Config) Validate() error {
	for _, f := range []struct {
		name  string
		value string
	}{
		{"owner", c.Owner},
		{"repo", c.Repo},
		{"ref", c.Ref},
		{"context", c.Context},
	} {
		if f.value == "" {
			return &ConfigError{Field: f.name, Reason: "must not be empty"}
		}
	}
	for _, f := range []struct {
		name  string
		value time.Duration
	}{
		{"timeout", c.Timeout},
		{"interval", c.Interval},
		{"request timeout", c.RequestTimeout},
	} {
		if f.value < 0 {
			return &ConfigError{Field: f.name, Reason: fmt.Sprintf("must not be negative, got %v", f.value)}
		}
	}
	return nil
}

// Phase is the state of the poll loop.
type Phase int

const (
	Polling Phase = iota
	Concluded
	TimedOut
)

func (p Phase) String() string {
	switch p {
	case Polling:
		return "polling"
	case Concluded:
		return "concluded"
	case TimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Result is the terminal outcome of a wait.
type Result struct {
	Phase Phase
	// State is the matched status state, or TimeoutState.
	State string
	// Entry is the matched status. It is nil when the wait timed out.
	Entry    *commitstatus.Entry
	ExitCode int
	// Polls is the number of fetches performed.
	Polls int
}

// Poller waits for a commit status context to conclude.
type Poller struct {
	cfg     Config
	fetcher Fetcher
	clock   clockwork.Clock
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the real clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// New validates cfg and returns a Poller.
func New(cfg Config, f Fetcher, opts ...Option) (*Poller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p := &Poller{
		cfg:     cfg,
		fetcher: f,
		clock:   clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run polls until the context concludes or the timeout elapses.
// Fetch errors end the wait immediately and are returned as is.
func (p *Poller) Run(ctx context.Context) (*Result, error) {
	log := clog.FromContext(ctx).With(
		"owner", p.cfg.Owner,
		"repo", p.cfg.Repo,
		"ref", p.cfg.Ref,
		"context", p.cfg.Context,
	)
	ctx = clog.WithLogger(ctx, log)

	start := p.clock.Now()
	phase := Polling
	polls := 0
	var outcome commitstatus.Outcome

	for phase == Polling {
		if elapsed := p.clock.Since(start); elapsed > p.cfg.Timeout {
			log.Infof("Timed out after %v and %d polls", elapsed, polls)
			phase = TimedOut
			break
		}

		polls++
		var err error
		outcome, err = p.poll(ctx, polls)
		if err != nil {
			mPolls.WithLabelValues("error").Inc()
			return nil, err
		}
		if outcome.Concluded {
			phase = Concluded
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.clock.After(p.cfg.Interval):
		}
	}

	var res *Result
	switch phase {
	case TimedOut:
		res = &Result{Phase: TimedOut, State: TimeoutState, ExitCode: 1, Polls: polls}
	case Concluded:
		res = &Result{
			Phase:    Concluded,
			State:    string(outcome.Entry.State),
			Entry:    outcome.Entry,
			ExitCode: outcome.ExitCode,
			Polls:    polls,
		}
	default:
		return nil, fmt.Errorf("poll loop exited in phase %v", phase)
	}
	mOutcomes.WithLabelValues(res.Phase.String(), stateLabel(res)).Inc()
	mWaitSeconds.Observe(p.clock.Since(start).Seconds())
	return res, nil
}

// stateLabel bounds the state label to the known states.
func stateLabel(res *Result) string {
	if res.Entry != nil && !res.Entry.State.Known() {
		return "unknown"
	}
	return res.State
}

// poll performs one fetch, match and classify step.
func (p *Poller) poll(ctx context.Context, n int) (commitstatus.Outcome, error) {
	ctx, span := otel.Tracer("poller").Start(ctx, "poll")
	defer span.End()
	span.SetAttributes(attribute.Int("poll", n), attribute.String("context", p.cfg.Context))

	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}

	entries, err := p.fetcher.Fetch(ctx, p.cfg.Owner, p.cfg.Repo, p.cfg.Ref)
	if err != nil {
		span.RecordError(err)
		return commitstatus.Outcome{}, err
	}

	log := clog.FromContext(ctx)
	matched := commitstatus.Match(p.cfg.Context, entries)
	outcome := commitstatus.Classify(matched)
	switch {
	case matched == nil:
		mPolls.WithLabelValues("absent").Inc()
		log.Info("Status not found")
	case !matched.State.Known():
		mPolls.WithLabelValues("unknown").Inc()
		log.Warnf("Unknown status state: %q", matched.State)
	default:
		mPolls.WithLabelValues(string(matched.State)).Inc()
		log.Infof("Status state: %s", matched.State)
	}
	span.SetAttributes(attribute.Bool("concluded", outcome.Concluded))
	return outcome, nil
}
