// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meshcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/meshbridge/channelmap"
	"github.com/bureau-foundation/meshbridge/lib/clock"
)

const (
	DefaultPort               = 4000
	DefaultHandshakeTimeout   = 5 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultSyncInterval       = 30 * time.Second
	DefaultMaxTextBytes       = 140
	DefaultMinProtocolVersion = 3
	DefaultAppName            = "Discord Bridge"
)

// ErrProtocolVersion is returned by Connect when the radio firmware
// speaks a protocol older than Config.MinProtocolVersion or rejects
// the device query. Errors wrapping it are fatal to the supervisor.
var ErrProtocolVersion = errors.New("meshcore: unsupported protocol version")

// fatalError marks an error as not worth retrying.
type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }
func (e *fatalError) Fatal() bool   { return true }

// Config configures a Link.
type Config struct {
	Host string
	Port int // DefaultPort when zero

	// Channels classifies inbound payloads into topics. Messages whose
	// topic has no route are dropped. Required.
	Channels *channelmap.Map

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration

	// SyncInterval is the period of unprompted SYNC_NEXT_MESSAGE
	// requests. Negative disables the timer.
	SyncInterval time.Duration

	MaxFrameSize int

	// MaxTextBytes bounds outbound text after "author: " is prefixed.
	MaxTextBytes int

	// DedupWindow suppresses repeated frames. Negative disables.
	DedupWindow time.Duration

	MinProtocolVersion uint8

	// AppName is announced in APP_START.
	AppName string

	// MessageBuffer is the capacity of each session's Messages
	// channel. The reader blocks when it is full.
	MessageBuffer int

	Clock  clock.Clock
	Logger *slog.Logger

	// Dial defaults to a net.Dialer.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
}

// Stats are cumulative link counters across sessions.
type Stats struct {
	FramesReceived    uint64 `cbor:"frames_received"`
	FramesDecoded     uint64 `cbor:"frames_decoded"`
	FramesMalformed   uint64 `cbor:"frames_malformed"`
	FramesDuplicate   uint64 `cbor:"frames_duplicate"`
	FramesUnmapped    uint64 `cbor:"frames_unmapped"`
	FramesIgnored     uint64 `cbor:"frames_ignored"`
	FramesSent        uint64 `cbor:"frames_sent"`
	TextsTruncated    uint64 `cbor:"texts_truncated"`
	SessionsOpened    uint64 `cbor:"sessions_opened"`
	StrayBytesSkipped uint64 `cbor:"stray_bytes_skipped"`
}

type counters struct {
	framesReceived    atomic.Uint64
	framesDecoded     atomic.Uint64
	framesMalformed   atomic.Uint64
	framesDuplicate   atomic.Uint64
	framesUnmapped    atomic.Uint64
	framesIgnored     atomic.Uint64
	framesSent        atomic.Uint64
	textsTruncated    atomic.Uint64
	sessionsOpened    atomic.Uint64
	strayBytesSkipped atomic.Uint64
}

// Link connects to one radio. The contact cache and the dedup window
// persist across the sessions it creates.
type Link struct {
	config  Config
	address string
	logger  *slog.Logger
	clock   clock.Clock
	decoder *Decoder
	dedup   *dedupCache
	stats   counters
}

// New validates config and returns a Link.
func New(config Config) (*Link, error) {
	if config.Host == "" {
		return nil, errors.New("meshcore: Config.Host is required")
	}
	if config.Channels == nil {
		return nil, errors.New("meshcore: Config.Channels is required")
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Port < 0 || config.Port > 65535 {
		return nil, fmt.Errorf("meshcore: port %d out of range", config.Port)
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.SyncInterval == 0 {
		config.SyncInterval = DefaultSyncInterval
	}
	if config.MaxFrameSize <= 0 {
		config.MaxFrameSize = DefaultMaxFrameSize
	}
	if config.MaxTextBytes <= 0 {
		config.MaxTextBytes = DefaultMaxTextBytes
	}
	if config.DedupWindow == 0 {
		config.DedupWindow = DefaultDedupWindow
	}
	if config.MinProtocolVersion == 0 {
		config.MinProtocolVersion = DefaultMinProtocolVersion
	}
	if config.AppName == "" {
		config.AppName = DefaultAppName
	}
	if config.MessageBuffer <= 0 {
		config.MessageBuffer = 64
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Dial == nil {
		var dialer net.Dialer
		config.Dial = dialer.DialContext
	}

	return &Link{
		config:  config,
		address: net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		logger:  config.Logger,
		clock:   config.Clock,
		decoder: NewDecoder(),
		dedup:   newDedupCache(config.DedupWindow),
	}, nil
}

// Address returns the host:port the link dials.
func (l *Link) Address() string { return l.address }

// Stats returns a snapshot of the link counters.
func (l *Link) Stats() Stats {
	return Stats{
		FramesReceived:    l.stats.framesReceived.Load(),
		FramesDecoded:     l.stats.framesDecoded.Load(),
		FramesMalformed:   l.stats.framesMalformed.Load(),
		FramesDuplicate:   l.stats.framesDuplicate.Load(),
		FramesUnmapped:    l.stats.framesUnmapped.Load(),
		FramesIgnored:     l.stats.framesIgnored.Load(),
		FramesSent:        l.stats.framesSent.Load(),
		TextsTruncated:    l.stats.textsTruncated.Load(),
		SessionsOpened:    l.stats.sessionsOpened.Load(),
		StrayBytesSkipped: l.stats.strayBytesSkipped.Load(),
	}
}

// Connect dials the radio and runs the companion handshake. The
// returned session is already reading and draining the radio's
// message queue.
func (l *Link) Connect(ctx context.Context) (*Session, error) {
	conn, err := l.config.Dial(ctx, "tcp", l.address)
	if err != nil {
		return nil, fmt.Errorf("meshcore: dial %s: %w", l.address, err)
	}

	session := newSession(l, conn)
	if err := session.handshake(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	l.stats.sessionsOpened.Add(1)
	l.logger.Info("mesh node connected",
		"address", l.address,
		"node", session.self.Name,
		"protocol_version", session.device.ProtocolVersion,
	)
	l.decoder.BeginContactLoad()
	session.start()

	if err := session.SendFrame(ctx, []byte{cmdGetContacts}); err != nil {
		session.Close()
		return nil, fmt.Errorf("meshcore: requesting contacts: %w", err)
	}
	if err := session.SendFrame(ctx, []byte{cmdSyncNextMessage}); err != nil {
		session.Close()
		return nil, fmt.Errorf("meshcore: starting message sync: %w", err)
	}
	return session, nil
}
