// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discord

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Transport compression modes, as named in the gateway URL.
const (
	CompressNone = ""
	CompressZlib = "zlib-stream"
	CompressZstd = "zstd-stream"
)

// Gateway opcodes.
const (
	opDispatch       = 0
	opHeartbeat      = 1
	opIdentify       = 2
	opResume         = 6
	opReconnect      = 7
	opInvalidSession = 9
	opHello          = 10
	opHeartbeatAck   = 11
)

// gatewayPayload is the envelope of every gateway message.
type gatewayPayload struct {
	Op       int             `json:"op"`
	Data     json.RawMessage `json:"d"`
	Sequence *int64          `json:"s,omitempty"`
	Type     string          `json:"t,omitempty"`
}

type outboundPayload struct {
	Op   int `json:"op"`
	Data any `json:"d"`
}

// eventReader yields decoded gateway payloads from one connection.
type eventReader interface {
	Next() (gatewayPayload, error)
	Close()
}

// messageSource returns the next websocket message body.
type messageSource func() ([]byte, error)

func newEventReader(source messageSource, compression string) (eventReader, error) {
	switch compression {
	case CompressNone:
		return plainEvents{source: source}, nil
	case CompressZlib, CompressZstd:
		return newStreamEvents(source, compression), nil
	default:
		return nil, fmt.Errorf("discord: unsupported compression %q", compression)
	}
}

// plainEvents decodes one JSON payload per websocket message.
type plainEvents struct {
	source messageSource
}

func (p plainEvents) Next() (gatewayPayload, error) {
	data, err := p.source()
	if err != nil {
		return gatewayPayload{}, err
	}
	var payload gatewayPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return gatewayPayload{}, fmt.Errorf("discord: decoding gateway payload: %w", err)
	}
	return payload, nil
}

func (plainEvents) Close() {}

// streamEvents decodes a transport-compressed connection. The
// compressed stream spans all messages, so one decompressor reads a
// pipe fed with every message body in order.
type streamEvents struct {
	compression string
	pipeReader  *io.PipeReader
	decoder     *json.Decoder
	zstd        *zstd.Decoder

	mu        sync.Mutex
	sourceErr error
}

func newStreamEvents(source messageSource, compression string) *streamEvents {
	pipeReader, pipeWriter := io.Pipe()
	events := &streamEvents{compression: compression, pipeReader: pipeReader}
	go func() {
		for {
			data, err := source()
			if err != nil {
				events.mu.Lock()
				events.sourceErr = err
				events.mu.Unlock()
				pipeWriter.CloseWithError(err)
				return
			}
			if _, err := pipeWriter.Write(data); err != nil {
				return
			}
		}
	}()
	return events
}

func (s *streamEvents) Next() (gatewayPayload, error) {
	if s.decoder == nil {
		// Constructing the decompressor reads the stream header, which
		// arrives with the first message.
		var decompressed io.Reader
		switch s.compression {
		case CompressZlib:
			reader, err := zlib.NewReader(s.pipeReader)
			if err != nil {
				return gatewayPayload{}, s.failure(fmt.Errorf("discord: opening zlib stream: %w", err))
			}
			decompressed = reader
		case CompressZstd:
			reader, err := zstd.NewReader(s.pipeReader, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return gatewayPayload{}, s.failure(fmt.Errorf("discord: opening zstd stream: %w", err))
			}
			s.zstd = reader
			decompressed = reader
		}
		s.decoder = json.NewDecoder(decompressed)
	}

	var payload gatewayPayload
	if err := s.decoder.Decode(&payload); err != nil {
		return gatewayPayload{}, s.failure(fmt.Errorf("discord: decoding %s payload: %w", s.compression, err))
	}
	return payload, nil
}

// failure prefers the transport error that ended the stream over the
// decompressor's view of it.
func (s *streamEvents) failure(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sourceErr != nil {
		return s.sourceErr
	}
	return err
}

func (s *streamEvents) Close() {
	s.pipeReader.Close()
	if s.zstd != nil {
		s.zstd.Close()
	}
}
