// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"time"
)

// State is a link's position in the connection lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
	Backoff
	Fatal
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Backoff:
		return "backoff"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Transition describes one state change, as passed to an observer.
type Transition struct {
	Link string
	From State
	To   State
	At   time.Time

	// Attempt counts consecutive failures; it is zero outside Backoff.
	Attempt int

	// Delay is the backoff wait when To is Backoff.
	Delay time.Duration

	// Err is the failure that caused a move to Backoff or Fatal.
	Err error
}

// ErrFatal marks an error that retrying cannot fix. Wrap it, or return
// an error implementing Fatal() bool, from a connect function.
var ErrFatal = errors.New("fatal link error")

type fataler interface {
	Fatal() bool
}

// IsFatal reports whether err should stop the supervisor.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrFatal) {
		return true
	}
	var classified fataler
	return errors.As(err, &classified) && classified.Fatal()
}
