// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meshcore

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

const (
	contactKeyPrefix = 6 // bytes of public key used to address contacts
	unknownSender    = "Unknown"
)

// Decoder turns inbound payloads into [Payload] values. It keeps the
// contact cache used to name key-addressed senders, so one Decoder
// should live as long as the radio it talks to.
type Decoder struct {
	mu       sync.Mutex
	contacts map[string]string // hex key prefix -> name

	// loading is set between a session start and END_CONTACTS.
	loading bool
	summary ContactSummary
}

// NewDecoder returns a decoder with an empty contact cache.
func NewDecoder() *Decoder {
	return &Decoder{contacts: make(map[string]string)}
}

// BeginContactLoad starts a silent contact load: contact records are
// cached without producing payloads until END_CONTACTS, which yields a
// [ContactSummary].
func (d *Decoder) BeginContactLoad() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loading = true
	d.summary = ContactSummary{}
}

// ContactName returns the cached name for a hex key prefix.
func (d *Decoder) ContactName(keyPrefix string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	name, ok := d.contacts[keyPrefix]
	return name, ok
}

// Decode returns the payload carried by frame. A nil payload with a
// nil error means the frame carries nothing to forward (control
// responses, unknown codes, silently cached contacts, unnamed mesh
// packets). Frames too short for their code return an error wrapping
// ErrMalformedFrame.
func (d *Decoder) Decode(frame []byte) (Payload, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedFrame)
	}
	code := frame[0]
	switch code {
	case respChannelText:
		return decodeChannelTextV1(frame)
	case respChannelTextV3:
		return decodeChannelTextV3(frame)
	case respContactTextV3:
		return d.decodeDirectTextV3(frame)
	case respContactText:
		return d.decodeDirectTextV1(frame)
	case pushAdvert:
		return d.decodeAdvertisement(frame)
	case respContact:
		return d.decodeContact(frame)
	case respEndContacts:
		return d.endContacts(), nil
	case pushSendConfirmed:
		return decodeAck(frame)
	case pushRawData:
		return decodeSignalReport(frame)
	case pushLogRxData:
		return decodeMeshPacket(frame)
	case pushTraceData:
		return decodeTrace(frame), nil
	default:
		return nil, nil
	}
}

func requireLength(frame []byte, minimum int, what string) error {
	if len(frame) < minimum {
		return fmt.Errorf("%w: %s (0x%02x) needs %d bytes, got %d", ErrMalformedFrame, what, frame[0], minimum, len(frame))
	}
	return nil
}

// [code][channel][hops][reserved][ts u32le][text]
func decodeChannelTextV1(frame []byte) (Payload, error) {
	if err := requireLength(frame, 8, "channel text"); err != nil {
		return nil, err
	}
	sender, text := splitSender(decodeText(frame[8:]), unknownSender)
	return ChannelText{
		Channel: frame[1],
		Hops:    hopCount(frame[2]),
		SentAt:  unixSeconds(frame[4:8]),
		Sender:  sender,
		Text:    text,
	}, nil
}

// [code][counter 3][channel][hops][ts u32le][flag][text]
func decodeChannelTextV3(frame []byte) (Payload, error) {
	if err := requireLength(frame, 11, "channel text"); err != nil {
		return nil, err
	}
	channel := frame[4]
	sender, text := splitSender(decodeText(frame[11:]), fmt.Sprintf("Channel #%d", channel))
	return ChannelText{
		Channel: channel,
		Hops:    hopCount(frame[5]),
		SentAt:  unixSeconds(frame[6:10]),
		Sender:  sender,
		Text:    text,
	}, nil
}

// [code][counter 3][sender key 6][hops][flag][ts u32le][text]
func (d *Decoder) decodeDirectTextV3(frame []byte) (Payload, error) {
	if err := requireLength(frame, 16, "direct text"); err != nil {
		return nil, err
	}
	key := hex.EncodeToString(frame[4:10])
	return DirectText{
		SenderKey: key,
		Hops:      hopCount(frame[10]),
		SentAt:    unixSeconds(frame[12:16]),
		Sender:    d.senderName(key),
		Text:      decodeText(frame[16:]),
	}, nil
}

// [code][sender key 6][hops][5 bytes][text]
func (d *Decoder) decodeDirectTextV1(frame []byte) (Payload, error) {
	if err := requireLength(frame, 13, "direct text"); err != nil {
		return nil, err
	}
	key := hex.EncodeToString(frame[1:7])
	return DirectText{
		SenderKey: key,
		Hops:      hopCount(frame[7]),
		Sender:    d.senderName(key),
		Text:      decodeText(frame[13:]),
	}, nil
}

func (d *Decoder) decodeAdvertisement(frame []byte) (Payload, error) {
	if err := requireLength(frame, 33, "advertisement"); err != nil {
		return nil, err
	}
	key := hex.EncodeToString(frame[1:33])
	name, ok := d.ContactName(key[:2*contactKeyPrefix])
	if !ok {
		name = unknownSender
	}
	return Advertisement{PublicKey: key, Name: name}, nil
}

// [code][public key 32][type][...][name 32 at 100]
func (d *Decoder) decodeContact(frame []byte) (Payload, error) {
	if err := requireLength(frame, 100, "contact"); err != nil {
		return nil, err
	}
	key := hex.EncodeToString(frame[1:33])
	contactType := ContactType(frame[33])
	end := min(len(frame), 132)
	name := decodeText(bytes.TrimRight(frame[100:end], "\x00"))
	if index := strings.IndexByte(name, 0); index >= 0 {
		name = name[:index]
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[key[:2*contactKeyPrefix]] = name
	if d.loading {
		d.summary.Total++
		switch contactType {
		case ContactChat:
			d.summary.Chat++
		case ContactRepeater:
			d.summary.Repeater++
		case ContactRoom:
			d.summary.Room++
		default:
			d.summary.Other++
		}
		return nil, nil
	}
	return Contact{PublicKey: key, Type: contactType, Name: name}, nil
}

func (d *Decoder) endContacts() Payload {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loading {
		return nil
	}
	d.loading = false
	return d.summary
}

func (d *Decoder) senderName(keyPrefix string) string {
	if name, ok := d.ContactName(keyPrefix); ok && name != "" {
		return name
	}
	return keyPrefix[:8] + "..."
}

func decodeAck(frame []byte) (Payload, error) {
	if err := requireLength(frame, 9, "send confirmation"); err != nil {
		return nil, err
	}
	return Ack{
		Code:      hex.EncodeToString(frame[1:5]),
		RoundTrip: time.Duration(binary.LittleEndian.Uint32(frame[5:9])) * time.Millisecond,
	}, nil
}

func decodeSignalReport(frame []byte) (Payload, error) {
	if err := requireLength(frame, 4, "raw data"); err != nil {
		return nil, err
	}
	return SignalReport{
		SNR:     float64(int8(frame[1])) / 4,
		RSSI:    int(int8(frame[2])),
		Payload: hex.EncodeToString(frame[4:]),
	}, nil
}

func decodeMeshPacket(frame []byte) (Payload, error) {
	data := frame[1:]
	if len(data) < 2 {
		return nil, fmt.Errorf("%w: mesh packet of %d bytes", ErrMalformedFrame, len(data))
	}
	packet := MeshPacket{
		Length: len(data),
		Header: hex.EncodeToString(data[0:2]),
	}
	switch {
	case len(data) > 100:
		packet.Type = PacketAdvertisement
		packet.PublicKey = advertKey(data)
		packet.NodeName = advertName(data)
	case len(data) < 20:
		packet.Type = PacketBeacon
	default:
		packet.Type = PacketData
	}
	if packet.NodeName == "" {
		return nil, nil
	}
	return packet, nil
}

// advertKey returns the first plausible 32-byte public key at one of
// the offsets advert headers place it: a window that is not all 0x00
// or 0xFF.
func advertKey(data []byte) string {
	for _, offset := range []int{4, 6, 8} {
		if len(data) < offset+32 {
			break
		}
		window := data[offset : offset+32]
		for _, b := range window {
			if b != 0x00 && b != 0xFF {
				return hex.EncodeToString(window)
			}
		}
	}
	return ""
}

// advertName returns the last NUL-separated printable string longer
// than three bytes in the final 50 bytes of an advert.
func advertName(data []byte) string {
	tail := data[max(0, len(data)-50):]
	if bytes.IndexByte(tail, 0) < 0 {
		return ""
	}
	parts := bytes.Split(tail, []byte{0})
	for i := len(parts) - 1; i >= 0; i-- {
		if len(parts[i]) <= 3 {
			continue
		}
		name := decodeText(parts[i])
		if name != "" && printableName(name) {
			return name
		}
	}
	return ""
}

func printableName(name string) bool {
	for _, r := range name {
		if !unicode.IsPrint(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// [code][?][path len][flags][tag i32le][auth i32le][hashes][snrs]
func decodeTrace(frame []byte) Payload {
	if len(frame) < 12 {
		return Trace{Note: "packet too short"}
	}
	trace := Trace{
		PathLength: frame[2],
		Flags:      frame[3],
		Tag:        int32(binary.LittleEndian.Uint32(frame[4:8])),
		AuthCode:   int32(binary.LittleEndian.Uint32(frame[8:12])),
	}
	pathLength := int(trace.PathLength)
	hashesEnd := 12 + pathLength
	if len(frame) < hashesEnd {
		trace.Note = "path hashes truncated"
		return trace
	}
	trace.PathHashes = hex.EncodeToString(frame[12:hashesEnd])
	snrEnd := hashesEnd + pathLength + 1
	if len(frame) < snrEnd {
		trace.Note = "SNR values truncated"
		return trace
	}
	trace.SNRs = make([]float64, 0, pathLength+1)
	for _, b := range frame[hashesEnd:snrEnd] {
		trace.SNRs = append(trace.SNRs, float64(int8(b))/4)
	}
	return trace
}

// hopCount maps the radio's "direct" marker 0xFF to zero hops.
func hopCount(b byte) uint8 {
	if b == 0xFF {
		return 0
	}
	return b
}

func unixSeconds(b []byte) time.Time {
	seconds := binary.LittleEndian.Uint32(b)
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(int64(seconds), 0).UTC()
}

// decodeText decodes UTF-8, dropping invalid sequences.
func decodeText(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	var builder strings.Builder
	builder.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			builder.WriteRune(r)
		}
		b = b[size:]
	}
	return builder.String()
}

// splitSender splits "Name: text" as channel texts carry it. Text
// without the separator, or with an empty name, is attributed to
// fallback.
func splitSender(raw, fallback string) (sender, text string) {
	if name, rest, found := strings.Cut(raw, ": "); found {
		if strings.TrimSpace(name) == "" {
			return fallback, rest
		}
		return name, rest
	}
	return fallback, raw
}
