// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discord

import (
	"time"

	"github.com/bureau-foundation/meshbridge/channelmap"
)

// Kind selects how an outbound message is presented.
type Kind string

const (
	KindPlain         Kind = ""
	KindChannelText   Kind = "channel_text"
	KindDirectText    Kind = "direct_text"
	KindMeshNode      Kind = "mesh_node"
	KindAdvertisement Kind = "advertisement"
	KindContact       Kind = "contact"
	KindAck           Kind = "ack"
	KindSignal        Kind = "signal"
	KindTrace         Kind = "trace"
	KindStatus        Kind = "status"
)

// Embed colours.
const (
	colorGreen     = 0x2ECC71
	colorBlue      = 0x3498DB
	colorPurple    = 0x9B59B6
	colorGold      = 0xF1C40F
	colorTeal      = 0x1ABC9C
	colorDarkGray  = 0x607D8B
	colorLightGray = 0x979C9F
)

// Color returns the embed colour for the kind, or zero for plain
// messages.
func (k Kind) Color() int {
	switch k {
	case KindChannelText, KindAck:
		return colorGreen
	case KindDirectText, KindAdvertisement:
		return colorBlue
	case KindMeshNode:
		return colorPurple
	case KindContact:
		return colorGold
	case KindSignal:
		return colorTeal
	case KindTrace:
		return colorDarkGray
	case KindStatus:
		return colorLightGray
	default:
		return 0
	}
}

// Field is one name/value cell of an embed.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Message is a chat message, either bound for a Discord channel or
// received from one.
type Message struct {
	// Destination is the channel the message is sent to or was
	// posted in.
	Destination channelmap.ChannelID

	Author    string
	Body      string
	Timestamp time.Time

	// Title, Fields and Kind are optional presentation for outbound
	// messages.
	Title  string
	Fields []Field
	Kind   Kind

	// MessageID and AuthorID identify inbound messages.
	MessageID string
	AuthorID  string
}
