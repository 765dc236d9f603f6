// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that wait (reconnect backoff, rate limiter reservations,
// heartbeats, periodic sync and statistics) take a Clock instead of
// calling the time package. Production wiring passes Real(); tests pass
// a FakeClock and move time forward explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go supervisor.Run(ctx)
//	fake.WaitForTimers(1)
//	fake.Advance(2 * time.Second)
//
// WaitForTimers closes the race between a goroutine registering its
// timer and the test advancing past the deadline.
package clock
