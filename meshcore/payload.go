// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meshcore

import (
	"fmt"
	"time"
)

// Kind names a payload variant.
type Kind string

const (
	KindChannelText    Kind = "channel_text"
	KindDirectText     Kind = "direct_text"
	KindAdvertisement  Kind = "advertisement"
	KindContact        Kind = "contact"
	KindContactSummary Kind = "contact_summary"
	KindAck            Kind = "ack"
	KindSignalReport   Kind = "signal_report"
	KindTrace          Kind = "trace"
	KindMeshPacket     Kind = "mesh_packet"
)

// Payload is the decoded body of an inbound frame. The set of
// implementations is closed; switch over the concrete types.
type Payload interface {
	Kind() Kind
	payload()
}

// ChannelText is a text message on a shared mesh channel. Outbound
// messages use the same type.
type ChannelText struct {
	Channel uint8
	Hops    uint8
	SentAt  time.Time
	Sender  string
	Text    string
}

// DirectText is a text message addressed to this node.
type DirectText struct {
	SenderKey string // hex of the 6-byte key prefix
	Hops      uint8
	SentAt    time.Time
	Sender    string
	Text      string
}

// Advertisement is a node advert pushed by the radio.
type Advertisement struct {
	PublicKey string
	Name      string
}

// ContactType is the node role reported in a contact record.
type ContactType uint8

const (
	ContactChat     ContactType = 1
	ContactRepeater ContactType = 2
	ContactRoom     ContactType = 3
)

func (t ContactType) String() string {
	switch t {
	case ContactChat:
		return "CHAT"
	case ContactRepeater:
		return "REPEATER"
	case ContactRoom:
		return "ROOM"
	default:
		return fmt.Sprintf("TYPE_%d", uint8(t))
	}
}

// Contact is a contact record received after the initial contact
// list has loaded.
type Contact struct {
	PublicKey string
	Type      ContactType
	Name      string
}

// ContactSummary closes the initial contact load.
type ContactSummary struct {
	Total    int
	Chat     int
	Repeater int
	Room     int
	Other    int
}

// Ack confirms delivery of a message this node sent.
type Ack struct {
	Code      string
	RoundTrip time.Duration
}

// SignalReport carries raw radio data with its link quality.
type SignalReport struct {
	SNR     float64 // dB
	RSSI    int     // dBm
	Payload string  // hex
}

// Trace is the result of a path trace.
type Trace struct {
	PathLength uint8
	Flags      uint8
	Tag        int32
	AuthCode   int32
	PathHashes string    // hex
	SNRs       []float64 // dB, one per hop plus the final receiver
	Note       string    // set when the frame was shorter than its path implies
}

// MeshPacketType classifies a logged over-the-air packet.
type MeshPacketType string

const (
	PacketAdvertisement MeshPacketType = "ADVERTISEMENT"
	PacketBeacon        MeshPacketType = "BEACON"
	PacketData          MeshPacketType = "DATA"
)

// MeshPacket is an over-the-air packet logged by the radio that named
// a node.
type MeshPacket struct {
	Length    int
	Header    string
	Type      MeshPacketType
	PublicKey string
	NodeName  string
}

func (ChannelText) Kind() Kind    { return KindChannelText }
func (DirectText) Kind() Kind     { return KindDirectText }
func (Advertisement) Kind() Kind  { return KindAdvertisement }
func (Contact) Kind() Kind        { return KindContact }
func (ContactSummary) Kind() Kind { return KindContactSummary }
func (Ack) Kind() Kind            { return KindAck }
func (SignalReport) Kind() Kind   { return KindSignalReport }
func (Trace) Kind() Kind          { return KindTrace }
func (MeshPacket) Kind() Kind     { return KindMeshPacket }

func (ChannelText) payload()    {}
func (DirectText) payload()     {}
func (Advertisement) payload()  {}
func (Contact) payload()        {}
func (ContactSummary) payload() {}
func (Ack) payload()            {}
func (SignalReport) payload()   {}
func (Trace) payload()          {}
func (MeshPacket) payload()     {}

// describe returns the sender and one-line text for a payload.
func describe(p Payload) (sender, text string) {
	switch v := p.(type) {
	case ChannelText:
		return v.Sender, v.Text
	case DirectText:
		return v.Sender, v.Text
	case Advertisement:
		return v.Name, "advertisement from " + v.Name
	case Contact:
		return v.Name, fmt.Sprintf("new contact %s (%s)", v.Name, v.Type)
	case ContactSummary:
		return "", fmt.Sprintf("loaded %d contacts", v.Total)
	case Ack:
		return "", fmt.Sprintf("ack %s in %dms", v.Code, v.RoundTrip.Milliseconds())
	case SignalReport:
		return "", fmt.Sprintf("SNR %.1f dB, RSSI %d dBm", v.SNR, v.RSSI)
	case Trace:
		if v.Note != "" {
			return "", "trace: " + v.Note
		}
		return "", fmt.Sprintf("trace over %d hops", v.PathLength)
	case MeshPacket:
		return v.NodeName, fmt.Sprintf("mesh node %s (%s)", v.NodeName, v.Type)
	default:
		return "", ""
	}
}
