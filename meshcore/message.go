// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meshcore

import (
	"time"

	"github.com/bureau-foundation/meshbridge/channelmap"
)

// Message is one decoded event from the mesh, or one text bound for
// it. Messages are values; nothing mutates them after construction.
type Message struct {
	Topic channelmap.Topic

	// Sender is the display name of the originating node, or empty
	// for radio-local events such as acks and signal reports.
	Sender string

	Text string

	// Timestamp is when the bridge received the frame. The sender's
	// own clock, when the frame carries one, is in the payload.
	Timestamp time.Time

	// Raw is the frame payload as received. Nil for outbound messages.
	Raw []byte

	Payload Payload
}

// NewMessage builds a Message from a decoded payload, deriving
// Sender and Text from it.
func NewMessage(topic channelmap.Topic, payload Payload, raw []byte, receivedAt time.Time) Message {
	sender, text := describe(payload)
	return Message{
		Topic:     topic,
		Sender:    sender,
		Text:      text,
		Timestamp: receivedAt,
		Raw:       raw,
		Payload:   payload,
	}
}

// classify picks the topic for a payload: channel and direct text go
// to their per-channel topics when mapped, else to messages; every
// other payload is info.
func classify(table *channelmap.Map, payload Payload) channelmap.Topic {
	switch v := payload.(type) {
	case ChannelText:
		return table.TopicForChannelText(v.Channel)
	case DirectText:
		return table.TopicForDirectText()
	default:
		return channelmap.TopicInfo
	}
}
