// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meshcore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	outboundMarker = 0x3C // '<'
	inboundMarker  = 0x3E // '>'

	// DefaultMaxFrameSize bounds inbound payloads. Companion firmware
	// frames are well under 256 bytes.
	DefaultMaxFrameSize = 300
)

// Command codes, host to radio.
const (
	cmdAppStart        = 1
	cmdSendChannelText = 3
	cmdGetContacts     = 4
	cmdSyncNextMessage = 10
	cmdDeviceQuery     = 22
)

// Response and push codes, radio to host.
const (
	respOK              = 0x00
	respError           = 0x01
	respContactsStart   = 0x02
	respContact         = 0x03
	respEndContacts     = 0x04
	respSelfInfo        = 0x05
	respSent            = 0x06
	respContactText     = 0x07
	respChannelText     = 0x08
	respCurrentTime     = 0x09
	respNoMoreMessages  = 0x0A
	respDeviceInfo      = 0x0D
	respContactTextV3   = 0x10
	respChannelTextV3   = 0x11
	pushAdvert          = 0x80
	pushSendConfirmed   = 0x82
	pushMessageWaiting  = 0x83
	pushRawData         = 0x84
	pushLogRxData       = 0x88
	pushTraceData       = 0x89
	supportedAppVersion = 5
)

var (
	// ErrMalformedFrame is wrapped by every per-frame protocol error:
	// bad lengths and payloads too short for their code. The session
	// survives these.
	ErrMalformedFrame = errors.New("meshcore: malformed frame")

	// ErrFrameTooLarge is returned when an outbound payload does not
	// fit a frame.
	ErrFrameTooLarge = errors.New("meshcore: frame too large")
)

// FrameReader extracts inbound payloads from a byte stream.
type FrameReader struct {
	reader  *bufio.Reader
	maxSize int
	skipped uint64
}

// NewFrameReader wraps r. maxSize <= 0 means DefaultMaxFrameSize.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{reader: bufio.NewReader(r), maxSize: maxSize}
}

// ReadFrame returns the next payload. Bytes before an inbound marker
// are skipped one at a time. A frame whose declared length is zero or
// above the maximum yields an error wrapping ErrMalformedFrame; only
// its marker byte has been consumed, so the next call rescans from the
// byte after it. Any other error comes from the underlying reader.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	for {
		marker, err := f.reader.ReadByte()
		if err != nil {
			return nil, err
		}
		if marker != inboundMarker {
			f.skipped++
			continue
		}

		header, err := f.reader.Peek(2)
		if err != nil {
			return nil, err
		}
		length := int(binary.LittleEndian.Uint16(header))
		if length == 0 || length > f.maxSize {
			return nil, fmt.Errorf("%w: declared length %d outside 1-%d", ErrMalformedFrame, length, f.maxSize)
		}
		if _, err := f.reader.Discard(2); err != nil {
			return nil, err
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(f.reader, payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

// Skipped returns how many stray bytes have been discarded.
func (f *FrameReader) Skipped() uint64 { return f.skipped }

// EncodeFrame wraps payload in an outbound frame.
func EncodeFrame(payload []byte, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	if len(payload) == 0 || len(payload) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, len(payload), maxSize)
	}
	frame := make([]byte, 3+len(payload))
	frame[0] = outboundMarker
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[3:], payload)
	return frame, nil
}
