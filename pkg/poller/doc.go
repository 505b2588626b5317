/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package poller blocks until a commit status context concludes.
//
// A Poller repeatedly fetches the statuses of a commit, picks the first one
// whose context matches, and classifies it:
//
//   - no status yet, or state "pending": sleep for the interval and poll again
//   - "success": conclude with exit code 0
//   - "failure" or any unrecognized state: conclude with exit code 1
//
// The timeout is checked before each poll. Once it has elapsed the wait ends
// in the TimedOut phase with state "timeout" and exit code 1.
//
// # Usage
//
//	client, err := commitstatus.NewClient(ctx, token)
//	if err != nil {
//	    return err
//	}
//	p, err := poller.New(poller.Config{
//	    Owner:    "octocat",
//	    Repo:     "hello-world",
//	    Ref:      sha,
//	    Context:  "ci/build",
//	    Timeout:  3 * time.Minute,
//	    Interval: time.Minute,
//	}, client)
//	if err != nil {
//	    return err
//	}
//	res, err := p.Run(ctx)
package poller
