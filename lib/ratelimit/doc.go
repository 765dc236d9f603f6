// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit paces outbound sends with a token bucket per
// destination.
//
// Each destination has a golang.org/x/time/rate limiter holding
// Capacity tokens and gaining one every RefillInterval, so in any
// window of length d at most Capacity + floor(d/RefillInterval) sends
// are granted. Callers to the same destination are served strictly in
// arrival order: a caller does not reserve a token until the caller
// ahead of it has been granted or has given up. A caller whose total
// wait, measured from arrival, would exceed MaxWait fails with
// [ErrThrottled] and its reservation is returned to the bucket.
//
// All reservations are made at the injected clock's time, so tests
// drive the limiter with a fake clock.
package ratelimit
