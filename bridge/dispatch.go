// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"context"
	"errors"

	"github.com/bureau-foundation/meshbridge/channelmap"
	"github.com/bureau-foundation/meshbridge/discord"
	"github.com/bureau-foundation/meshbridge/lib/ratelimit"
	"github.com/bureau-foundation/meshbridge/meshcore"
	"github.com/bureau-foundation/meshbridge/router"
	"github.com/bureau-foundation/meshbridge/supervisor"
)

// fromMesh routes one mesh message onto its destination's queue. It
// never blocks.
func (b *Bridge) fromMesh(message meshcore.Message) {
	b.stats.meshReceived.Add(1)

	chat, truncated, err := router.ToChat(message, b.config.Channels)
	if err != nil {
		b.dropped(DropUnmapped, "topic", message.Topic, "error", err)
		return
	}
	if truncated {
		b.stats.truncated.Add(1)
		b.logger.Info("truncated chat body", "topic", message.Topic, "limit", router.MaxBodyRunes)
	}

	queue := b.queues[chat.Destination]
	select {
	case queue <- chat:
	default:
		b.dropped(DropQueueFull,
			"topic", message.Topic,
			"destination", chat.Destination,
			"queue_size", cap(queue),
		)
	}
}

// dispatchLoop sends one destination's queue in order. Limiter waits
// end with ctx; sends end with sendCtx, which outlives ctx by the
// shutdown grace. Messages left in the queue when ctx ends are dropped
// by drainQueues once nothing can enqueue any more.
func (b *Bridge) dispatchLoop(ctx, sendCtx context.Context, destination channelmap.ChannelID, queue <-chan discord.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-queue:
			if ctx.Err() != nil {
				b.dropped(DropShutdown, "destination", destination, "title", message.Title)
				return
			}
			b.send(ctx, sendCtx, destination, message)
		}
	}
}

// drainQueues drops whatever is still queued. It runs after the
// consumers and dispatch workers have exited.
func (b *Bridge) drainQueues() {
	for destination, queue := range b.queues {
		for len(queue) > 0 {
			message := <-queue
			b.dropped(DropShutdown, "destination", destination, "title", message.Title)
		}
	}
}

func (b *Bridge) send(ctx, sendCtx context.Context, destination channelmap.ChannelID, message discord.Message) {
	if state := b.gateway.State(); state != supervisor.Connected {
		b.dropped(DropGatewayDisconnected, "destination", destination, "state", state.String())
		return
	}

	if err := b.limiter.Acquire(ctx, destination); err != nil {
		if errors.Is(err, ratelimit.ErrThrottled) {
			b.dropped(DropThrottled, "destination", destination, "error", err)
		} else {
			b.dropped(DropShutdown, "destination", destination, "title", message.Title)
		}
		return
	}

	if err := b.dependencies.Sender.SendMessage(sendCtx, message); err != nil {
		if isShutdown(sendCtx, err) {
			b.dropped(DropShutdown, "destination", destination, "title", message.Title)
			return
		}
		b.stats.sendErrors.Add(1)
		b.logger.Warn("discord send failed", "destination", destination, "error", err)
		if supervisor.IsFatal(err) {
			b.fail(err)
		}
		return
	}
	b.stats.forwardedToChat.Add(1)
	b.logger.Debug("forwarded to discord", "destination", destination, "kind", message.Kind)
}

// fromChat relays one Discord message onto the mesh session, if any.
func (b *Bridge) fromChat(ctx context.Context, message discord.Message) {
	b.stats.chatReceived.Add(1)

	if !b.config.RelayToMesh {
		b.stats.drop(DropRelayDisabled)
		b.logger.Debug("not relaying discord message", "destination", message.Destination, "reason", string(DropRelayDisabled))
		return
	}

	outbound, err := router.ToMesh(message, b.config.Channels)
	if err != nil {
		b.dropped(DropUnmapped, "destination", message.Destination, "error", err)
		return
	}

	session, live := b.mesh.Session()
	if !live {
		b.dropped(DropMeshDisconnected, "topic", outbound.Topic, "destination", message.Destination)
		return
	}
	if err := session.SendMessage(ctx, outbound); err != nil {
		if isShutdown(ctx, err) {
			b.dropped(DropShutdown, "topic", outbound.Topic, "destination", message.Destination)
			return
		}
		b.stats.sendErrors.Add(1)
		b.logger.Warn("mesh send failed", "topic", outbound.Topic, "error", err)
		return
	}
	b.stats.forwardedToMesh.Add(1)
	b.logger.Debug("forwarded to mesh", "topic", outbound.Topic, "author", message.Author)
}
