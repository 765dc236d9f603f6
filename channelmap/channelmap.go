// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channelmap

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
)

// Topic names a logical channel shared by both sides of the bridge.
type Topic string

// Well-known topics. Mesh traffic is classified into these (or into a
// per-channel topic from ChannelTopic) before routing.
const (
	// TopicMessages receives channel and direct text.
	TopicMessages Topic = "messages"

	// TopicInfo receives everything that is not text: adverts,
	// contacts, acks, signal reports, traces, raw mesh packets.
	TopicInfo Topic = "info"

	// TopicDirect receives direct text when it is mapped; otherwise
	// direct text falls back to TopicMessages.
	TopicDirect Topic = "dm"
)

// ChannelTopic returns the topic for text on mesh channel index.
func ChannelTopic(index uint8) Topic {
	return Topic("channel_" + strconv.Itoa(int(index)))
}

var topicPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Valid reports whether t is a well-formed topic name.
func (t Topic) Valid() bool { return topicPattern.MatchString(string(t)) }

// ChannelID is a Discord snowflake.
type ChannelID uint64

// ParseChannelID parses a decimal snowflake. Zero is rejected.
func ParseChannelID(value string) (ChannelID, error) {
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("channelmap: invalid channel id %q: %w", value, err)
	}
	if parsed == 0 {
		return 0, fmt.Errorf("channelmap: channel id must be non-zero")
	}
	return ChannelID(parsed), nil
}

func (id ChannelID) String() string { return strconv.FormatUint(uint64(id), 10) }

// MarshalText encodes the snowflake as a decimal string, which is how
// Discord's JSON API represents it.
func (id ChannelID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText parses a decimal snowflake.
func (id *ChannelID) UnmarshalText(text []byte) error {
	parsed, err := ParseChannelID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Route is where a Topic lives on each side.
type Route struct {
	// ChatChannel is the Discord channel for the topic. Required.
	ChatChannel ChannelID

	// MeshChannel is the MeshCore channel index; meaningful only when
	// HasMeshChannel is set. Topics without a mesh channel are
	// one-way (mesh to Discord).
	MeshChannel    uint8
	HasMeshChannel bool
}

// Map is an immutable Topic to Route table.
type Map struct {
	routes map[Topic]Route
	byChat map[ChannelID]Topic
	byMesh map[uint8]Topic
}

// ErrInvalidMap is wrapped by every New validation failure.
var ErrInvalidMap = errors.New("channelmap: invalid channel map")

// New validates routes and builds a Map. routes is copied.
//
// Several topics may share a Discord channel (for instance messages and
// info both posting to one channel), but at most one of them may carry
// a mesh channel, so that a Discord message has a single mesh
// destination. Mesh channel indexes must be unique.
func New(routes map[Topic]Route) (*Map, error) {
	if len(routes) == 0 {
		return nil, fmt.Errorf("%w: no routes", ErrInvalidMap)
	}

	table := &Map{
		routes: make(map[Topic]Route, len(routes)),
		byChat: make(map[ChannelID]Topic, len(routes)),
		byMesh: make(map[uint8]Topic),
	}

	topics := make([]Topic, 0, len(routes))
	for topic := range routes {
		topics = append(topics, topic)
	}
	slices.Sort(topics)

	for _, topic := range topics {
		route := routes[topic]
		if !topic.Valid() {
			return nil, fmt.Errorf("%w: topic %q must match %s", ErrInvalidMap, topic, topicPattern)
		}
		if route.ChatChannel == 0 {
			return nil, fmt.Errorf("%w: topic %q has no chat channel", ErrInvalidMap, topic)
		}
		table.routes[topic] = route

		if route.HasMeshChannel {
			if existing, taken := table.byMesh[route.MeshChannel]; taken {
				return nil, fmt.Errorf("%w: mesh channel %d mapped by both %q and %q",
					ErrInvalidMap, route.MeshChannel, existing, topic)
			}
			table.byMesh[route.MeshChannel] = topic
		}

		existing, shared := table.byChat[route.ChatChannel]
		switch {
		case !shared:
			table.byChat[route.ChatChannel] = topic
		case route.HasMeshChannel && table.routes[existing].HasMeshChannel:
			return nil, fmt.Errorf("%w: chat channel %s is the mesh destination of both %q and %q",
				ErrInvalidMap, route.ChatChannel, existing, topic)
		case route.HasMeshChannel:
			// The bidirectional topic wins the reverse lookup.
			table.byChat[route.ChatChannel] = topic
		}
	}
	return table, nil
}

// Lookup returns the route for topic.
func (m *Map) Lookup(topic Topic) (Route, bool) {
	route, ok := m.routes[topic]
	return route, ok
}

// TopicForChat returns the topic whose inbound traffic arrives on the
// Discord channel id.
func (m *Map) TopicForChat(id ChannelID) (Topic, bool) {
	topic, ok := m.byChat[id]
	return topic, ok
}

// TopicForMesh returns the topic mapped to mesh channel index.
func (m *Map) TopicForMesh(index uint8) (Topic, bool) {
	topic, ok := m.byMesh[index]
	return topic, ok
}

// Topics returns every mapped topic in sorted order.
func (m *Map) Topics() []Topic {
	topics := make([]Topic, 0, len(m.routes))
	for topic := range m.routes {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// ChatChannels returns the distinct Discord channels in ascending order.
func (m *Map) ChatChannels() []ChannelID {
	channels := make([]ChannelID, 0, len(m.byChat))
	for id := range m.byChat {
		channels = append(channels, id)
	}
	slices.Sort(channels)
	return channels
}

// Len returns the number of topics.
func (m *Map) Len() int { return len(m.routes) }

// TopicForChannelText classifies text heard on mesh channel index: the
// channel's own topic when one is mapped, else TopicMessages.
func (m *Map) TopicForChannelText(index uint8) Topic {
	if topic, ok := m.byMesh[index]; ok {
		return topic
	}
	return TopicMessages
}

// TopicForDirectText classifies direct text: TopicDirect when mapped,
// else TopicMessages.
func (m *Map) TopicForDirectText() Topic {
	if _, ok := m.routes[TopicDirect]; ok {
		return TopicDirect
	}
	return TopicMessages
}
