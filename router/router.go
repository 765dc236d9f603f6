// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package router translates between mesh messages and chat messages.
// It is pure: no I/O, no clocks, no shared state. The channel map
// decides where each message goes, and an exhaustive switch over the
// mesh payload variants decides how it is presented in Discord.
package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/meshbridge/channelmap"
	"github.com/bureau-foundation/meshbridge/discord"
	"github.com/bureau-foundation/meshbridge/meshcore"
)

// MaxBodyRunes is the longest chat body sent, in runes.
const MaxBodyRunes = 2000

var (
	// ErrUnmappedTopic means a mesh message's topic has no chat channel.
	ErrUnmappedTopic = errors.New("router: topic has no chat channel")

	// ErrUnmappedDestination means a chat message arrived on a channel
	// that has no topic, or whose topic has no mesh channel.
	ErrUnmappedDestination = errors.New("router: destination has no mesh channel")
)

// ToChat maps a mesh message to the chat message for its topic's
// channel. truncated reports whether the body was cut to MaxBodyRunes.
func ToChat(message meshcore.Message, table *channelmap.Map) (chat discord.Message, truncated bool, err error) {
	route, ok := table.Lookup(message.Topic)
	if !ok {
		return discord.Message{}, false, fmt.Errorf("%w: %q", ErrUnmappedTopic, message.Topic)
	}
	body, truncated := truncateRunes(message.Text, MaxBodyRunes)
	title, fields, kind := present(message.Payload)
	author := message.Sender
	if strings.TrimSpace(author) == "" {
		author = ""
	}
	return discord.Message{
		Destination: route.ChatChannel,
		Author:      author,
		Body:        body,
		Timestamp:   message.Timestamp,
		Title:       title,
		Fields:      fields,
		Kind:        kind,
	}, truncated, nil
}

// ToMesh maps an inbound chat message to channel text on the mesh
// channel of the topic its chat channel belongs to.
func ToMesh(chat discord.Message, table *channelmap.Map) (meshcore.Message, error) {
	topic, ok := table.TopicForChat(chat.Destination)
	if !ok {
		return meshcore.Message{}, fmt.Errorf("%w: channel %s is not mapped", ErrUnmappedDestination, chat.Destination)
	}
	route, _ := table.Lookup(topic)
	if !route.HasMeshChannel {
		return meshcore.Message{}, fmt.Errorf("%w: topic %q is chat-only", ErrUnmappedDestination, topic)
	}
	return meshcore.Message{
		Topic:     topic,
		Sender:    chat.Author,
		Text:      chat.Body,
		Timestamp: chat.Timestamp,
		Payload: meshcore.ChannelText{
			Channel: route.MeshChannel,
			SentAt:  chat.Timestamp,
			Sender:  chat.Author,
			Text:    chat.Body,
		},
	}, nil
}

// truncateRunes cuts text to at most limit runes, the last of which is
// an ellipsis when anything was dropped.
func truncateRunes(text string, limit int) (string, bool) {
	if utf8.RuneCountInString(text) <= limit {
		return text, false
	}
	count := 0
	for index := range text {
		if count == limit-1 {
			return text[:index] + "…", true
		}
		count++
	}
	return text, false
}

// present derives embed presentation from the payload variant.
func present(payload meshcore.Payload) (title string, fields []discord.Field, kind discord.Kind) {
	switch p := payload.(type) {
	case meshcore.ChannelText:
		return "💬 Channel Message", []discord.Field{
			inline("From", p.Sender),
			inline("Channel", channelName(p.Channel)),
			inline("Hops", strconv.Itoa(int(p.Hops))),
		}, discord.KindChannelText

	case meshcore.DirectText:
		return "📨 Direct Message", []discord.Field{
			inline("From", p.Sender),
			inline("Hops", strconv.Itoa(int(p.Hops))),
		}, discord.KindDirectText

	case meshcore.Advertisement:
		return "📢 Node Advertisement", []discord.Field{
			inline("Node", p.Name),
			block("Key", shortKey(p.PublicKey)),
		}, discord.KindAdvertisement

	case meshcore.Contact:
		return "👤 New Contact", []discord.Field{
			inline("Name", p.Name),
			inline("Type", p.Type.String()),
			block("Key", shortKey(p.PublicKey)),
		}, discord.KindContact

	case meshcore.ContactSummary:
		fields := []discord.Field{
			inline("Total", strconv.Itoa(p.Total)),
			inline("Chat", strconv.Itoa(p.Chat)),
			inline("Repeater", strconv.Itoa(p.Repeater)),
			inline("Room", strconv.Itoa(p.Room)),
		}
		if p.Other > 0 {
			fields = append(fields, inline("Other", strconv.Itoa(p.Other)))
		}
		return "📇 Contacts Loaded", fields, discord.KindStatus

	case meshcore.Ack:
		return "✅ ACK Received", []discord.Field{
			inline("Code", code(p.Code)),
			inline("RTT", strconv.FormatInt(p.RoundTrip.Milliseconds(), 10)+"ms"),
		}, discord.KindAck

	case meshcore.SignalReport:
		return "📊 Signal Data", []discord.Field{
			inline("SNR", strconv.FormatFloat(p.SNR, 'f', 1, 64)+" dB"),
			inline("RSSI", strconv.Itoa(p.RSSI)+" dBm"),
		}, discord.KindSignal

	case meshcore.Trace:
		fields := []discord.Field{
			inline("Path", strconv.Itoa(int(p.PathLength))+" hops"),
			inline("Tag", strconv.FormatInt(int64(p.Tag), 10)),
		}
		if p.PathHashes != "" {
			fields = append(fields, block("Hashes", code(p.PathHashes)))
		}
		if len(p.SNRs) > 0 {
			fields = append(fields, block("SNR", formatSNRs(p.SNRs)))
		}
		if p.Note != "" {
			fields = append(fields, block("Note", p.Note))
		}
		return "🔄 Trace Packet", fields, discord.KindTrace

	case meshcore.MeshPacket:
		fields := []discord.Field{
			inline("Node", p.NodeName),
			inline("Type", string(p.Type)),
		}
		if p.PublicKey != "" {
			fields = append(fields, block("Key", shortKey(p.PublicKey)))
		}
		return "📡 Mesh Node Detected", fields, discord.KindMeshNode

	case nil:
		return "", nil, discord.KindPlain

	default:
		return "ℹ️ " + string(payload.Kind()), nil, discord.KindStatus
	}
}

// unknownValue stands in for empty field values, which Discord
// rejects with a 400.
const unknownValue = "Unknown"

func inline(name, value string) discord.Field {
	return discord.Field{Name: name, Value: fieldValue(value), Inline: true}
}

func block(name, value string) discord.Field {
	return discord.Field{Name: name, Value: fieldValue(value)}
}

func fieldValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return unknownValue
	}
	return value
}

func code(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "`" + value + "`"
}

func channelName(index uint8) string {
	if index == 0 {
		return "Public"
	}
	return "#" + strconv.Itoa(int(index))
}

func shortKey(key string) string {
	if len(key) > 16 {
		key = key[:16] + "..."
	}
	return code(key)
}

func formatSNRs(values []float64) string {
	formatted := ""
	for index, value := range values {
		if index > 0 {
			formatted += " → "
		}
		formatted += strconv.FormatFloat(value, 'f', 1, 64)
	}
	return formatted + " dB"
}
