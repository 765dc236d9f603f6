// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bureau-foundation/meshbridge/lib/clock"
)

// ErrThrottled means a send could not be granted within MaxWait.
var ErrThrottled = errors.New("ratelimit: throttled")

// Config sizes every destination's bucket.
type Config struct {
	// Capacity is the burst size and the bucket's starting level.
	Capacity int

	// RefillInterval is the time to regain one token.
	RefillInterval time.Duration

	// MaxWait bounds the time from Enqueue to grant. Zero means no
	// bound.
	MaxWait time.Duration
}

// Limiter holds one bucket per destination key.
type Limiter[K comparable] struct {
	config Config
	clock  clock.Clock

	mu      sync.Mutex
	buckets map[K]*bucket
}

type bucket struct {
	limiter *rate.Limiter
	// tail is closed when the most recently enqueued ticket finishes.
	tail chan struct{}
}

// New returns a Limiter. It panics if Capacity or RefillInterval is
// not positive; configuration validation rejects those first.
func New[K comparable](config Config, clock clock.Clock) *Limiter[K] {
	if config.Capacity < 1 || config.RefillInterval <= 0 {
		panic(fmt.Sprintf("ratelimit: invalid config %+v", config))
	}
	return &Limiter[K]{
		config:  config,
		clock:   clock,
		buckets: make(map[K]*bucket),
	}
}

// Ticket is a place in a destination's queue.
type Ticket struct {
	bucket   *bucket
	config   Config
	clock    clock.Clock
	arrival  time.Time
	previous <-chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Enqueue takes a place in destination's queue without blocking. The
// returned ticket must be waited on exactly once.
func (l *Limiter[K]) Enqueue(destination K) *Ticket {
	l.mu.Lock()
	defer l.mu.Unlock()

	current, exists := l.buckets[destination]
	if !exists {
		closed := make(chan struct{})
		close(closed)
		current = &bucket{
			limiter: rate.NewLimiter(rate.Every(l.config.RefillInterval), l.config.Capacity),
			tail:    closed,
		}
		l.buckets[destination] = current
	}

	ticket := &Ticket{
		bucket:   current,
		config:   l.config,
		clock:    l.clock,
		arrival:  l.clock.Now(),
		previous: current.tail,
		done:     make(chan struct{}),
	}
	current.tail = ticket.done
	return ticket
}

// Acquire enqueues for destination and waits for a grant.
func (l *Limiter[K]) Acquire(ctx context.Context, destination K) error {
	return l.Enqueue(destination).Wait(ctx)
}

// Wait blocks until the ticket is granted (nil), its wait would exceed
// MaxWait (ErrThrottled), or ctx ends (ctx.Err()).
func (t *Ticket) Wait(ctx context.Context) error {
	if err := t.awaitTurn(ctx); err != nil {
		return err
	}
	defer t.finish()

	now := t.clock.Now()
	reservation := t.bucket.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return fmt.Errorf("%w: bucket cannot grant a single token", ErrThrottled)
	}
	delay := reservation.DelayFrom(now)
	if t.config.MaxWait > 0 && now.Sub(t.arrival)+delay > t.config.MaxWait {
		reservation.CancelAt(now)
		return fmt.Errorf("%w: next token in %v exceeds max wait %v", ErrThrottled, delay, t.config.MaxWait)
	}
	if delay <= 0 {
		return nil
	}

	select {
	case <-t.clock.After(delay):
		return nil
	case <-ctx.Done():
		reservation.CancelAt(t.clock.Now())
		return ctx.Err()
	}
}

// awaitTurn waits for the ticket ahead to finish. The ticket ahead
// arrived earlier under the same MaxWait, so this wait is bounded by
// its deadline. A ticket that gives up here still releases its
// successor only after the ticket ahead finishes.
func (t *Ticket) awaitTurn(ctx context.Context) error {
	select {
	case <-t.previous:
		return nil
	case <-ctx.Done():
		t.finishAfterPrevious()
		return ctx.Err()
	}
}

func (t *Ticket) finishAfterPrevious() {
	go func() {
		<-t.previous
		t.finish()
	}()
}

func (t *Ticket) finish() {
	t.once.Do(func() { close(t.done) })
}
