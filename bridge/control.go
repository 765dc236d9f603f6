// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bureau-foundation/meshbridge/lib/service"
	"github.com/bureau-foundation/meshbridge/lib/version"
	"github.com/bureau-foundation/meshbridge/supervisor"
)

// Control socket actions.
const (
	ActionStatus = "status"
	ActionStats  = "stats"
)

// LinkStatus is one link's position in its connection lifecycle.
type LinkStatus struct {
	Name      string    `cbor:"name"`
	State     string    `cbor:"state"`
	Since     time.Time `cbor:"since"`
	Attempt   int       `cbor:"attempt,omitempty"`
	LastError string    `cbor:"last_error,omitempty"`
}

// Status answers the "status" action.
type Status struct {
	Version   string        `cbor:"version"`
	StartedAt time.Time     `cbor:"started_at"`
	Uptime    time.Duration `cbor:"uptime"`
	Links     []LinkStatus  `cbor:"links"`
}

// linkTracker records the latest transition of each link for status
// queries. Supervisors call observe from their own goroutines.
type linkTracker struct {
	mu    sync.Mutex
	order []string
	links map[string]*LinkStatus
}

func newLinkTracker(now time.Time, names ...string) *linkTracker {
	tracker := &linkTracker{order: names, links: make(map[string]*LinkStatus, len(names))}
	for _, name := range names {
		tracker.links[name] = &LinkStatus{
			Name:  name,
			State: supervisor.Disconnected.String(),
			Since: now,
		}
	}
	return tracker
}

func (t *linkTracker) observe(change supervisor.Transition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	status, ok := t.links[change.Link]
	if !ok {
		return
	}
	status.State = change.To.String()
	status.Since = change.At
	status.Attempt = change.Attempt
	if change.Err != nil {
		status.LastError = change.Err.Error()
	}
}

func (t *linkTracker) snapshot() []LinkStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	links := make([]LinkStatus, 0, len(t.order))
	for _, name := range t.order {
		links = append(links, *t.links[name])
	}
	return links
}

// Status reports the link states and uptime.
func (b *Bridge) Status() Status {
	return Status{
		Version:   version.Short(),
		StartedAt: b.startedAt,
		Uptime:    b.clock.Now().Sub(b.startedAt),
		Links:     b.links.snapshot(),
	}
}

func (b *Bridge) serveControl(ctx context.Context) {
	server := service.NewSocketServer(b.config.ControlSocket, b.logger)
	server.Handle(ActionStatus, func(context.Context, []byte) (any, error) {
		return b.Status(), nil
	})
	server.Handle(ActionStats, func(context.Context, []byte) (any, error) {
		return b.Stats(), nil
	})
	if err := server.Serve(ctx); err != nil {
		b.fail(fmt.Errorf("bridge: control socket: %w", err))
	}
}
