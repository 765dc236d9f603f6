// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "time"

// Policy is an exponential backoff schedule.
type Policy struct {
	// Initial is the first delay and the floor after a reset.
	Initial time.Duration

	// Max is the ceiling. Jittered delays never exceed it.
	Max time.Duration

	// Jitter spreads each delay uniformly over plus or minus this
	// fraction. Zero disables jitter.
	Jitter float64
}

// Delay returns the un-jittered wait before retry number attempt
// (counting from 1): Initial doubled attempt-1 times, capped at Max.
// It is non-decreasing in attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Initial
	for step := 1; step < attempt; step++ {
		if delay >= p.Max/2 {
			return p.Max
		}
		delay *= 2
	}
	return min(delay, p.Max)
}

// Jittered applies jitter to Delay(attempt) using sample, a uniform
// value in [0, 1). The result stays within [1-Jitter, 1+Jitter] times
// the base delay and never exceeds Max.
func (p Policy) Jittered(attempt int, sample float64) time.Duration {
	base := p.Delay(attempt)
	if p.Jitter <= 0 {
		return base
	}
	factor := 1 + p.Jitter*(2*sample-1)
	jittered := time.Duration(float64(base) * factor)
	if jittered > p.Max {
		jittered = p.Max
	}
	if jittered <= 0 {
		jittered = time.Millisecond
	}
	return jittered
}
