/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package poller

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/chainguard-dev/await-commit-status/pkg/commitstatus"
)

var testConfig = Config{
	Owner:    "octocat",
	Repo:     "hello-world",
	Ref:      "abc123",
	Context:  "ci",
	Timeout:  3 * time.Minute,
	Interval: time.Minute,
}

func entries(t *testing.T, js string) []commitstatus.Entry {
	t.Helper()
	var es []commitstatus.Entry
	if err := json.Unmarshal([]byte(js), &es); err != nil {
		t.Fatalf("decoding entries: %v", err)
	}
	return es
}

// sequence returns a Fetcher that serves each response once, then repeats
// the last one.
func sequence(responses ...[]commitstatus.Entry) (Fetcher, *atomic.Int32) {
	var calls atomic.Int32
	return FetcherFunc(func(context.Context, string, string, string) ([]commitstatus.Entry, error) {
		n := int(calls.Add(1)) - 1
		if n >= len(responses) {
			n = len(responses) - 1
		}
		return responses[n], nil
	}), &calls
}

// run drives p to completion, advancing the fake clock by step whenever the
// loop is asleep.
func run(t *testing.T, p *Poller, clock *clockwork.FakeClock, step time.Duration) (*Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	go func() {
		for {
			if err := clock.BlockUntilContext(ctx, 1); err != nil {
				return
			}
			clock.Advance(step)
		}
	}()

	return p.Run(ctx)
}

func TestRun_Concludes(t *testing.T) {
	tests := []struct {
		name      string
		responses []string
		wantState string
		wantCode  int
		wantPolls int32
	}{{
		name:      "immediate success",
		responses: []string{`[{"context":"ci","state":"success"}]`},
		wantState: "success",
		wantCode:  0,
		wantPolls: 1,
	}, {
		name:      "immediate failure",
		responses: []string{`[{"context":"ci","state":"failure"}]`},
		wantState: "failure",
		wantCode:  1,
		wantPolls: 1,
	}, {
		name:      "unknown state fails",
		responses: []string{`[{"context":"ci","state":"error"}]`},
		wantState: "error",
		wantCode:  1,
		wantPolls: 1,
	}, {
		name: "absent then pending then success",
		responses: []string{
			`[{"context":"lint","state":"success"}]`,
			`[{"context":"ci","state":"pending"}]`,
			`[{"context":"ci","state":"success"}]`,
		},
		wantState: "success",
		wantCode:  0,
		wantPolls: 3,
	}, {
		name: "first matching entry wins",
		responses: []string{
			`[{"context":"ci","state":"pending"},{"context":"ci","state":"success"}]`,
			`[{"context":"ci","state":"failure"},{"context":"ci","state":"success"}]`,
		},
		wantState: "failure",
		wantCode:  1,
		wantPolls: 2,
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rs [][]commitstatus.Entry
			for _, r := range tt.responses {
				rs = append(rs, entries(t, r))
			}
			f, calls := sequence(rs...)
			clock := clockwork.NewFakeClock()
			p, err := New(testConfig, f, WithClock(clock))
			if err != nil {
				t.Fatalf("New() = %v", err)
			}

			res, err := run(t, p, clock, testConfig.Interval)
			if err != nil {
				t.Fatalf("Run() = %v", err)
			}
			if res.Phase != Concluded {
				t.Errorf("Phase = %v, want %v", res.Phase, Concluded)
			}
			if res.State != tt.wantState {
				t.Errorf("State = %q, want %q", res.State, tt.wantState)
			}
			if res.ExitCode != tt.wantCode {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tt.wantCode)
			}
			if res.Entry == nil || res.Entry.Context != "ci" {
				t.Errorf("Entry = %v, want context ci", res.Entry)
			}
			if got := calls.Load(); got != tt.wantPolls {
				t.Errorf("fetches = %d, want %d", got, tt.wantPolls)
			}
			if res.Polls != int(tt.wantPolls) {
				t.Errorf("Polls = %d, want %d", res.Polls, tt.wantPolls)
			}
		})
	}
}

func TestRun_TimesOut(t *testing.T) {
	before := testutil.ToFloat64(mOutcomes.WithLabelValues("timed_out", TimeoutState))

	f, calls := sequence(entries(t, `[{"context":"ci","state":"pending"}]`))
	clock := clockwork.NewFakeClock()
	p, err := New(testConfig, f, WithClock(clock))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	res, err := run(t, p, clock, testConfig.Interval)
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	want := &Result{Phase: TimedOut, State: TimeoutState, ExitCode: 1, Polls: 4}
	if diff := cmp.Diff(want, res, cmp.AllowUnexported(commitstatus.Entry{})); diff != "" {
		t.Errorf("Run() (-want +got):\n%s", diff)
	}
	// Polls at 0m, 1m, 2m and 3m; at 3m elapsed equals the timeout and does
	// not exceed it.
	if got := calls.Load(); got != 4 {
		t.Errorf("fetches = %d, want 4", got)
	}
	if got := testutil.ToFloat64(mOutcomes.WithLabelValues("timed_out", TimeoutState)) - before; got != 1 {
		t.Errorf("timed out outcomes = %f, want 1", got)
	}
}

func TestRun_UnknownStateOutcomeLabel(t *testing.T) {
	before := testutil.ToFloat64(mOutcomes.WithLabelValues("concluded", "unknown"))

	f, _ := sequence(entries(t, `[{"context":"ci","state":"exploded-7f3a"}]`))
	clock := clockwork.NewFakeClock()
	p, err := New(testConfig, f, WithClock(clock))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	res, err := run(t, p, clock, testConfig.Interval)
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.State != "exploded-7f3a" || res.ExitCode != 1 {
		t.Errorf("Run() = %+v, want the raw state with exit code 1", res)
	}
	if got := testutil.ToFloat64(mOutcomes.WithLabelValues("concluded", "unknown")) - before; got != 1 {
		t.Errorf("unknown outcomes = %f, want 1", got)
	}
	if got := testutil.ToFloat64(mOutcomes.WithLabelValues("concluded", "exploded-7f3a")); got != 0 {
		t.Errorf("outcome recorded under the raw state label: %f", got)
	}
}

func TestRun_ZeroTimeoutPollsOnce(t *testing.T) {
	f, calls := sequence(nil)
	clock := clockwork.NewFakeClock()
	cfg := testConfig
	cfg.Timeout = 0
	p, err := New(cfg, f, WithClock(clock))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	res, err := run(t, p, clock, cfg.Interval)
	if err != nil {
		t.Fatalf("Run() = %v", err)
	}
	if res.Phase != TimedOut || res.Entry != nil {
		t.Errorf("Run() = %+v, want timed out without entry", res)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestRun_FetchErrorStopsImmediately(t *testing.T) {
	var calls atomic.Int32
	f := FetcherFunc(func(context.Context, string, string, string) ([]commitstatus.Entry, error) {
		calls.Add(1)
		return nil, &commitstatus.APIError{StatusCode: 404, Body: `{"message":"Not Found"}`}
	})
	clock := clockwork.NewFakeClock()
	p, err := New(testConfig, f, WithClock(clock))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	// Run on the calling goroutine without advancing the clock: any sleep
	// would block until the test deadline.
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	res, err := p.Run(ctx)

	var apiErr *commitstatus.APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != 404 {
		t.Fatalf("Run() = %v, want 404 APIError", err)
	}
	if res != nil {
		t.Errorf("Run() result = %+v, want nil", res)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fetches = %d, want 1", got)
	}
}

func TestRun_RequestTimeout(t *testing.T) {
	f := FetcherFunc(func(ctx context.Context, _, _, _ string) ([]commitstatus.Entry, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := testConfig
	cfg.RequestTimeout = 10 * time.Millisecond
	p, err := New(cfg, f)
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	if _, err := p.Run(t.Context()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() = %v, want %v", err, context.DeadlineExceeded)
	}
}

func TestRun_Cancelled(t *testing.T) {
	f, _ := sequence(nil)
	clock := clockwork.NewFakeClock()
	p, err := New(testConfig, f, WithClock(clock))
	if err != nil {
		t.Fatalf("New() = %v", err)
	}

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		if err := clock.BlockUntilContext(ctx, 1); err == nil {
			cancel()
		}
	}()
	if _, err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() = %v, want %v", err, context.Canceled)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{{
		name:   "valid",
		mutate: func(*Config) {},
	}, {
		name:   "interval longer than timeout is allowed",
		mutate: func(c *Config) { c.Interval = time.Hour },
	}, {
		name:   "negative timeout",
		mutate: func(c *Config) { c.Timeout = -time.Second },
		field:  "timeout",
	}, {
		name:   "negative interval",
		mutate: func(c *Config) { c.Interval = -time.Second },
		field:  "interval",
	}, {
		name:   "negative request timeout",
		mutate: func(c *Config) { c.RequestTimeout = -time.Second },
		field:  "request timeout",
	}, {
		name:   "missing context",
		mutate: func(c *Config) { c.Context = "" },
		field:  "context",
	}, {
		name:   "missing owner",
		mutate: func(c *Config) { c.Owner = "" },
		field:  "owner",
	}}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.field == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			var cfgErr *ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("Validate() = %v, want *ConfigError", err)
			}
			if cfgErr.Field != tt.field {
				t.Errorf("Field = %q, want %q", cfgErr.Field, tt.field)
			}
		})
	}
}

func TestPhase_String(t *testing.T) {
	for p, want := range map[Phase]string{
		Polling:   "polling",
		Concluded: "concluded",
		TimedOut:  "timed_out",
		Phase(7):  "Phase(7)",
	} {
		if got := p.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(p), got, want)
		}
	}
}
