/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	mPolls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commit_status_polls_total",
			Help: "The number of commit status polls by observed state",
		},
		[]string{"state"},
	)
	mOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commit_status_wait_outcomes_total",
			Help: "The number of finished waits by terminal phase and state",
		},
		[]string{"phase", "state"},
	)
	mWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "commit_status_wait_seconds",
			Help:    "The time spent waiting for a status context to conclude",
			Buckets: []float64{1, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		},
	)
)
