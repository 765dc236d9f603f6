// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/meshbridge/lib/clock"
)

// Session is a live connection produced by a connect function.
type Session interface {
	// Done is closed when the session ends for any reason.
	Done() <-chan struct{}

	// Err reports why the session ended, once Done is closed.
	Err() error

	// Close ends the session. It must be safe to call more than once.
	Close() error
}

// Config wires a Supervisor to its link.
type Config[S Session] struct {
	// Link names the link in logs and transitions ("mesh", "discord").
	Link string

	// Connect establishes one session. Errors for which IsFatal is
	// true stop the supervisor.
	Connect func(ctx context.Context) (S, error)

	// OnConnected, if set, receives each new session from the Run
	// goroutine before the supervisor starts waiting on it.
	OnConnected func(session S)

	// Observer, if set, is called from the Run goroutine after every
	// transition.
	Observer func(Transition)

	Policy Policy

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Random returns uniform samples in [0, 1) for jitter. Defaults to
	// math/rand/v2.Float64.
	Random func() float64
}

// Supervisor runs one link's connect/backoff loop.
type Supervisor[S Session] struct {
	config Config[S]
	state  atomic.Int32

	mu      sync.Mutex
	session S
	live    bool
}

// New returns a Supervisor in the Disconnected state.
func New[S Session](config Config[S]) *Supervisor[S] {
	if config.Connect == nil {
		panic("supervisor: Config.Connect is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Random == nil {
		config.Random = rand.Float64
	}
	config.Logger = config.Logger.With("link", config.Link)
	return &Supervisor[S]{config: config}
}

// State returns the current state.
func (s *Supervisor[S]) State() State {
	return State(s.state.Load())
}

// Session returns the live session while the state is Connected.
func (s *Supervisor[S]) Session() (S, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.live
}

// Run drives the link until ctx is cancelled (returning nil) or a
// connect attempt fails fatally (returning that error).
func (s *Supervisor[S]) Run(ctx context.Context) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			s.transition(Transition{To: Disconnected})
			return nil
		}

		s.transition(Transition{To: Connecting})
		session, err := s.config.Connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.transition(Transition{To: Disconnected})
				return nil
			}
			if IsFatal(err) {
				s.transition(Transition{To: Fatal, Err: err})
				return fmt.Errorf("%s link: %w", s.config.Link, err)
			}
			failures++
			if !s.backoff(ctx, failures, err) {
				s.transition(Transition{To: Disconnected})
				return nil
			}
			continue
		}

		failures = 0
		s.setSession(session, true)
		s.transition(Transition{To: Connected})
		if s.config.OnConnected != nil {
			s.config.OnConnected(session)
		}

		select {
		case <-session.Done():
		case <-ctx.Done():
			session.Close()
			<-session.Done()
			s.clearSession()
			s.transition(Transition{To: Disconnected})
			return nil
		}

		sessionErr := session.Err()
		session.Close()
		s.clearSession()

		// A session that ended on its own counts as the first failure
		// after a success, so the wait is the floor.
		failures = 1
		if sessionErr == nil {
			sessionErr = fmt.Errorf("session ended")
		}
		if !s.backoff(ctx, failures, sessionErr) {
			s.transition(Transition{To: Disconnected})
			return nil
		}
	}
}

// backoff enters Backoff and waits. It returns false if ctx ended
// first.
func (s *Supervisor[S]) backoff(ctx context.Context, attempt int, cause error) bool {
	delay := s.config.Policy.Jittered(attempt, s.config.Random())
	s.transition(Transition{To: Backoff, Attempt: attempt, Delay: delay, Err: cause})
	select {
	case <-s.config.Clock.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor[S]) transition(change Transition) {
	change.Link = s.config.Link
	change.From = State(s.state.Swap(int32(change.To)))
	change.At = s.config.Clock.Now()

	attributes := []any{"from", change.From.String(), "to", change.To.String()}
	switch change.To {
	case Backoff:
		attributes = append(attributes, "attempt", change.Attempt, "delay", change.Delay, "error", change.Err)
		s.config.Logger.Warn("link state changed", attributes...)
	case Fatal:
		attributes = append(attributes, "error", change.Err)
		s.config.Logger.Error("link state changed", attributes...)
	default:
		s.config.Logger.Info("link state changed", attributes...)
	}

	if s.config.Observer != nil {
		s.config.Observer(change)
	}
}

func (s *Supervisor[S]) setSession(session S, live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
	s.live = live
}

func (s *Supervisor[S]) clearSession() {
	var zero S
	s.setSession(zero, false)
}
