/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package statusevent publishes the outcome of a commit status wait as a
// CloudEvent, so downstream automation can react without polling GitHub.
package statusevent

import (
	"context"
	"fmt"

	"github.com/chainguard-dev/clog"
	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"

	"github.com/chainguard-dev/await-commit-status/pkg/commitstatus"
	"github.com/chainguard-dev/await-commit-status/pkg/poller"
)

// TypePrefix is prepended to the terminal state to form the event type,
// e.g. dev.chainguard.commit_status.success.
const TypePrefix = "dev.chainguard.commit_status."

// Data is the payload of an outcome event.
type Data struct {
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`
	Ref     string `json:"ref"`
	Context string `json:"context"`
	State   string `json:"state"`
	Polls   int    `json:"polls"`

	// Status is the matched commit status as GitHub reported it. It is
	// omitted when the wait timed out.
	Status *commitstatus.Entry `json:"status,omitempty"`
}

// Publisher sends outcome events to a sink.
type Publisher struct {
	client cloudevents.Client
	newID  func() string
}

// NewPublisher returns a Publisher sending through client.
func NewPublisher(client cloudevents.Client) *Publisher {
	return &Publisher{client: client, newID: uuid.NewString}
}

// Publish sends one event describing res.
func (p *Publisher) Publish(ctx context.Context, cfg poller.Config, res *poller.Result) error {
	event := cloudevents.NewEvent()
	event.SetID(p.newID())
	event.SetType(TypePrefix + res.State)
	event.SetSource(fmt.Sprintf("https://github.com/%s/%s", cfg.Owner, cfg.Repo))
	event.SetSubject(cfg.Ref)
	event.SetExtension("context", cfg.Context)

	if err := event.SetData(cloudevents.ApplicationJSON, Data{
		Owner:   cfg.Owner,
		Repo:    cfg.Repo,
		Ref:     cfg.Ref,
		Context: cfg.Context,
		State:   res.State,
		Polls:   res.Polls,
		Status:  res.Entry,
	}); err != nil {
		return fmt.Errorf("setting event data: %w", err)
	}

	if result := p.client.Send(ctx, event); cloudevents.IsUndelivered(result) || cloudevents.IsNACK(result) {
		return fmt.Errorf("sending event: %w", result)
	}
	clog.FromContext(ctx).With("type", event.Type(), "id", event.ID()).Info("Published outcome event")
	return nil
}
