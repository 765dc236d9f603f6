// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/meshbridge/discord"
	"github.com/bureau-foundation/meshbridge/meshcore"
)

// DropReason says why a message was not delivered.
type DropReason string

const (
	DropUnmapped            DropReason = "unmapped"
	DropQueueFull           DropReason = "queue_full"
	DropThrottled           DropReason = "throttled"
	DropGatewayDisconnected DropReason = "gateway_disconnected"
	DropMeshDisconnected    DropReason = "mesh_disconnected"
	DropRelayDisabled       DropReason = "relay_disabled"
	DropShutdown            DropReason = "shutdown"
)

var dropReasons = []DropReason{
	DropUnmapped,
	DropQueueFull,
	DropThrottled,
	DropGatewayDisconnected,
	DropMeshDisconnected,
	DropRelayDisabled,
	DropShutdown,
}

// Stats is a snapshot of the bridge counters. Mesh and Gateway carry
// the links' own counters when the bridge was given a source for them.
type Stats struct {
	MeshReceived    uint64                `cbor:"mesh_received"`
	ForwardedToChat uint64                `cbor:"forwarded_to_chat"`
	ChatReceived    uint64                `cbor:"chat_received"`
	ForwardedToMesh uint64                `cbor:"forwarded_to_mesh"`
	Truncated       uint64                `cbor:"truncated"`
	SendErrors      uint64                `cbor:"send_errors"`
	Dropped         map[DropReason]uint64 `cbor:"dropped"`
	Mesh            *meshcore.Stats       `cbor:"mesh,omitempty"`
	Gateway         *discord.GatewayStats `cbor:"gateway,omitempty"`
}

// TotalDropped sums Dropped over every reason.
func (s Stats) TotalDropped() uint64 {
	var total uint64
	for _, count := range s.Dropped {
		total += count
	}
	return total
}

type counters struct {
	meshReceived    atomic.Uint64
	forwardedToChat atomic.Uint64
	chatReceived    atomic.Uint64
	forwardedToMesh atomic.Uint64
	truncated       atomic.Uint64
	sendErrors      atomic.Uint64

	// dropped is populated once by newCounters and only read after.
	dropped map[DropReason]*atomic.Uint64
}

func newCounters() *counters {
	c := &counters{dropped: make(map[DropReason]*atomic.Uint64, len(dropReasons))}
	for _, reason := range dropReasons {
		c.dropped[reason] = new(atomic.Uint64)
	}
	return c
}

func (c *counters) drop(reason DropReason) {
	c.dropped[reason].Add(1)
}

func (c *counters) snapshot() Stats {
	stats := Stats{
		MeshReceived:    c.meshReceived.Load(),
		ForwardedToChat: c.forwardedToChat.Load(),
		ChatReceived:    c.chatReceived.Load(),
		ForwardedToMesh: c.forwardedToMesh.Load(),
		Truncated:       c.truncated.Load(),
		SendErrors:      c.sendErrors.Load(),
		Dropped:         make(map[DropReason]uint64, len(c.dropped)),
	}
	for reason, count := range c.dropped {
		stats.Dropped[reason] = count.Load()
	}
	return stats
}

// logStats writes one summary line, plus the link counters when known.
func logStats(logger *slog.Logger, stats Stats) {
	attributes := []any{
		"mesh_received", stats.MeshReceived,
		"forwarded_to_chat", stats.ForwardedToChat,
		"chat_received", stats.ChatReceived,
		"forwarded_to_mesh", stats.ForwardedToMesh,
		"truncated", stats.Truncated,
		"send_errors", stats.SendErrors,
		"dropped", stats.TotalDropped(),
	}
	if stats.Mesh != nil {
		attributes = append(attributes,
			"frames_decoded", stats.Mesh.FramesDecoded,
			"frames_malformed", stats.Mesh.FramesMalformed,
			"frames_duplicate", stats.Mesh.FramesDuplicate,
		)
	}
	if stats.Gateway != nil {
		attributes = append(attributes,
			"gateway_sessions", stats.Gateway.SessionsOpened,
			"gateway_resumes", stats.Gateway.Resumes,
		)
	}
	logger.Info("bridge statistics", attributes...)
}
