// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor owns the connection lifecycle of one link.
//
// A Supervisor repeatedly connects its link, hands each live session to
// its owner, waits for the session to end, and backs off before trying
// again:
//
//	Disconnected -> Connecting -> Connected -> Backoff -> Connecting ...
//	                    |
//	                    +-> Backoff (transient connect failure)
//	                    +-> Fatal   (IsFatal connect error; Run returns it)
//
// Backoff doubles per consecutive failure from Policy.Initial up to
// Policy.Max with symmetric jitter, and resets to Initial after any
// successful connect. A message in flight when a session ends is lost;
// nothing is replayed on the next session.
//
// The state is written only by the Run goroutine and may be read from
// anywhere through State.
package supervisor
