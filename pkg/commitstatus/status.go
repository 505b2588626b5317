/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package commitstatus

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// State is the state of a single commit status as reported by GitHub.
type State string

const (
	StatePending State = "pending"
	StateSuccess State = "success"
	StateFailure State = "failure"
)

// Known reports whether the state is one of pending, success or failure.
func (s State) Known() bool {
	switch s {
	case StatePending, StateSuccess, StateFailure:
		return true
	default:
		return false
	}
}

// Entry is one status reported against a commit.
//
// Context and State are decoded for matching and classification, the
// remaining fields are kept verbatim so the entry re-serializes to the
// object GitHub returned.
type Entry struct {
	Context string
	State   State

	raw json.RawMessage
}

// UnmarshalJSON implements json.Unmarshaler
func (e *Entry) UnmarshalJSON(b []byte) error {
	var fields struct {
		Context string `json:"context"`
		State   State  `json:"state"`
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return fmt.Errorf("decoding status entry: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return fmt.Errorf("compacting status entry: %w", err)
	}

	e.Context = fields.Context
	e.State = fields.State
	e.raw = buf.Bytes()
	return nil
}

// MarshalJSON implements json.Marshaler
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	return json.Marshal(struct {
		Context string `json:"context"`
		State   State  `json:"state"`
	}{
		Context: e.Context,
		State:   e.State,
	})
}

// Outcome is the result of classifying one poll.
type Outcome struct {
	// Concluded is true when polling should stop.
	Concluded bool
	// ExitCode is only meaningful when Concluded is true.
	ExitCode int
	// Entry is the matched status, nil if the context has not been reported.
	Entry *Entry
}

// Match returns the first entry whose context equals want, or nil.
// GitHub lists the most recent status for a context first.
func Match(want string, entries []Entry) *Entry {
	for i := range entries {
		if entries[i].Context == want {
			return &entries[i]
		}
	}
	return nil
}

// Classify decides whether a matched entry is conclusive.
// Only a missing entry or a pending one keeps the poll going; unrecognized
// states conclude as failures.
func Classify(e *Entry) Outcome {
	if e == nil {
		return Outcome{ExitCode: 1}
	}
	switch e.State {
	case StatePending:
		return Outcome{ExitCode: 1, Entry: e}
	case StateSuccess:
		return Outcome{Concluded: true, ExitCode: 0, Entry: e}
	default:
		return Outcome{Concluded: true, ExitCode: 1, Entry: e}
	}
}
