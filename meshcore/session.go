// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meshcore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bureau-foundation/meshbridge/lib/netutil"
)

// ErrSessionClosed is returned by sends on an ended session.
var ErrSessionClosed = errors.New("meshcore: session closed")

// DeviceInfo is the radio's answer to DEVICE_QUERY.
type DeviceInfo struct {
	ProtocolVersion uint8
}

// SelfInfo is the radio's answer to APP_START.
type SelfInfo struct {
	PublicKey string
	Name      string
}

// Session is one connection to the radio.
type Session struct {
	link   *Link
	conn   net.Conn
	reader *FrameReader
	logger *slog.Logger

	device DeviceInfo
	self   SelfInfo

	writeMu sync.Mutex

	messages chan Message
	closing  chan struct{}
	done     chan struct{}

	failOnce sync.Once
	errMu    sync.Mutex
	err      error
}

func newSession(link *Link, conn net.Conn) *Session {
	return &Session{
		link:     link,
		conn:     conn,
		reader:   NewFrameReader(conn, link.config.MaxFrameSize),
		logger:   link.logger,
		messages: make(chan Message, link.config.MessageBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Device returns what the radio reported about its firmware.
func (s *Session) Device() DeviceInfo { return s.device }

// Self returns the radio's own identity.
func (s *Session) Self() SelfInfo { return s.self }

// Messages yields decoded messages until the session ends, then is
// closed. Each session has its own channel.
func (s *Session) Messages() <-chan Message { return s.messages }

// Done is closed after the session has ended and Messages is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the error that ended the session, or nil if it was
// closed locally or is still running.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close ends the session and waits for its goroutines.
func (s *Session) Close() error {
	s.fail(nil)
	<-s.done
	return nil
}

func (s *Session) fail(err error) {
	s.failOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.closing)
		s.conn.Close()
	})
}

// handshake runs DEVICE_QUERY then APP_START.
func (s *Session) handshake(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(time.Now()) //nolint:realclock unblocks reads on cancel
	})
	defer stop()

	frame, err := s.exchange(ctx, []byte{cmdDeviceQuery, supportedAppVersion}, "DEVICE_INFO", respDeviceInfo, respError)
	if err != nil {
		return err
	}
	if frame[0] == respError {
		return &fatalError{fmt.Errorf("%w: device query rejected", ErrProtocolVersion)}
	}
	if len(frame) < 2 {
		return fmt.Errorf("meshcore: handshake: %w: DEVICE_INFO of %d bytes", ErrMalformedFrame, len(frame))
	}
	s.device.ProtocolVersion = frame[1]
	if s.device.ProtocolVersion < s.link.config.MinProtocolVersion {
		return &fatalError{fmt.Errorf("%w: radio speaks %d, need at least %d",
			ErrProtocolVersion, s.device.ProtocolVersion, s.link.config.MinProtocolVersion)}
	}

	appStart := append([]byte{cmdAppStart, 1, 0, 0, 0, 0, 0, 0}, s.link.config.AppName...)
	frame, err = s.exchange(ctx, appStart, "SELF_INFO", respSelfInfo)
	if err != nil {
		return err
	}
	s.self = parseSelfInfo(frame)

	if err := s.conn.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("meshcore: clearing handshake deadline: %w", err)
	}
	return nil
}

// exchange writes request and reads until a frame with one of the
// wanted codes arrives, ignoring unrelated pushes. The wait is bounded
// by HandshakeTimeout.
func (s *Session) exchange(ctx context.Context, request []byte, name string, want ...byte) ([]byte, error) {
	deadline := time.Now().Add(s.link.config.HandshakeTimeout) //nolint:realclock socket deadlines are wall-clock
	if err := s.conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("meshcore: handshake: %w", err)
	}
	if err := s.writeFrame(request); err != nil {
		return nil, s.handshakeError(ctx, name, err)
	}
	for {
		frame, err := s.reader.ReadFrame()
		if errors.Is(err, ErrMalformedFrame) {
			s.link.stats.framesMalformed.Add(1)
			continue
		}
		if err != nil {
			return nil, s.handshakeError(ctx, name, err)
		}
		if bytes.IndexByte(want, frame[0]) >= 0 {
			return frame, nil
		}
		s.logger.Debug("ignoring frame during handshake", "code", fmt.Sprintf("0x%02x", frame[0]))
	}
}

func (s *Session) handshakeError(ctx context.Context, waitingFor string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("meshcore: handshake: waiting for %s: %w", waitingFor, err)
}

// [code][type][tx power][max power][public key 32][...][name at 58]
func parseSelfInfo(frame []byte) SelfInfo {
	var info SelfInfo
	if len(frame) >= 36 {
		info.PublicKey = hex.EncodeToString(frame[4:36])
	}
	if len(frame) > 58 {
		name := bytes.TrimRight(frame[58:], "\x00")
		if index := bytes.IndexByte(name, 0); index >= 0 {
			name = name[:index]
		}
		info.Name = decodeText(name)
	}
	return info
}

func (s *Session) start() {
	var workers sync.WaitGroup
	workers.Go(s.readLoop)
	if s.link.config.SyncInterval > 0 {
		workers.Go(s.syncLoop)
	}
	go func() {
		workers.Wait()
		close(s.messages)
		close(s.done)
	}()
}

func (s *Session) readLoop() {
	for {
		frame, err := s.reader.ReadFrame()
		s.link.stats.strayBytesSkipped.Store(s.reader.Skipped())
		if errors.Is(err, ErrMalformedFrame) {
			s.link.stats.framesMalformed.Add(1)
			s.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if err != nil {
			select {
			case <-s.closing:
			default:
				if netutil.IsExpectedCloseError(err) {
					s.logger.Info("mesh node closed the connection", "error", err)
				} else {
					s.logger.Warn("mesh read failed", "error", err)
				}
				s.fail(fmt.Errorf("meshcore: read: %w", err))
			}
			return
		}
		if !s.handleFrame(frame) {
			return
		}
	}
}

// handleFrame processes one inbound payload. It returns false once the
// session is closing.
func (s *Session) handleFrame(frame []byte) bool {
	stats := &s.link.stats
	stats.framesReceived.Add(1)

	switch frame[0] {
	case pushMessageWaiting:
		s.requestSync()
	case respNoMoreMessages:
		s.logger.Debug("mesh message queue drained")
	}

	payload, err := s.link.decoder.Decode(frame)
	if err != nil {
		stats.framesMalformed.Add(1)
		s.logger.Warn("dropping malformed frame", "error", err)
		return true
	}
	if payload == nil {
		stats.framesIgnored.Add(1)
		return true
	}
	stats.framesDecoded.Add(1)

	switch payload.(type) {
	case ChannelText, DirectText:
		s.requestSync()
	}

	now := s.link.clock.Now()
	if _, summary := payload.(ContactSummary); !summary && s.link.dedup.Observe(frame, now) {
		stats.framesDuplicate.Add(1)
		s.logger.Debug("dropping duplicate frame", "kind", payload.Kind())
		return true
	}

	topic := classify(s.link.config.Channels, payload)
	if _, ok := s.link.config.Channels.Lookup(topic); !ok {
		stats.framesUnmapped.Add(1)
		s.logger.Warn("dropping mesh message for unmapped topic",
			"topic", topic,
			"kind", payload.Kind(),
			"reason", "unmapped_topic",
		)
		return true
	}

	message := NewMessage(topic, payload, frame, now)
	select {
	case s.messages <- message:
		return true
	case <-s.closing:
		return false
	}
}

func (s *Session) syncLoop() {
	ticker := s.link.clock.NewTicker(s.link.config.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.closing:
			return
		case <-ticker.C:
			s.requestSync()
		}
	}
}

func (s *Session) requestSync() {
	if err := s.SendFrame(context.Background(), []byte{cmdSyncNextMessage}); err != nil && !errors.Is(err, ErrSessionClosed) {
		s.logger.Warn("message sync request failed", "error", err)
	}
}

// SendFrame writes one payload to the radio. A write error ends the
// session, since a partial frame desynchronizes the stream.
func (s *Session) SendFrame(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.closing:
		return ErrSessionClosed
	default:
	}

	deadline := time.Now().Add(s.link.config.WriteTimeout) //nolint:realclock socket deadlines are wall-clock
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("meshcore: write: %w", err)
	}
	if err := s.writeFrame(payload); err != nil {
		wrapped := fmt.Errorf("meshcore: write: %w", err)
		if errors.Is(err, ErrFrameTooLarge) {
			return wrapped
		}
		s.fail(wrapped)
		return wrapped
	}
	return nil
}

func (s *Session) writeFrame(payload []byte) error {
	frame, err := EncodeFrame(payload, s.link.config.MaxFrameSize)
	if err != nil {
		return err
	}
	if _, err := s.conn.Write(frame); err != nil {
		return err
	}
	s.link.stats.framesSent.Add(1)
	return nil
}

// SendChannelText sends text on mesh channel index. Text longer than
// MaxTextBytes is cut at a rune boundary. A zero timestamp means now.
func (s *Session) SendChannelText(ctx context.Context, channel uint8, text string, timestamp time.Time) error {
	limit := s.link.config.MaxTextBytes
	body, truncated := TruncateUTF8(text, limit)
	if truncated {
		s.link.stats.textsTruncated.Add(1)
		s.logger.Info("truncated outbound mesh text",
			"channel", channel,
			"bytes", len(text),
			"limit", limit,
		)
	}
	if timestamp.IsZero() {
		timestamp = s.link.clock.Now()
	}

	payload := make([]byte, 7, 7+len(body))
	payload[0] = cmdSendChannelText
	payload[1] = 0 // plain text
	payload[2] = channel
	binary.LittleEndian.PutUint32(payload[3:7], uint32(timestamp.Unix()))
	payload = append(payload, body...)
	return s.SendFrame(ctx, payload)
}

// SendMessage sends an outbound Message, whose payload must be a
// ChannelText. The text goes out as "sender: text".
func (s *Session) SendMessage(ctx context.Context, message Message) error {
	channelText, ok := message.Payload.(ChannelText)
	if !ok {
		return fmt.Errorf("meshcore: cannot send %T payload", message.Payload)
	}
	return s.SendChannelText(ctx, channelText.Channel, FormatOutbound(message.Sender, message.Text), message.Timestamp)
}

// FormatOutbound joins author and body the way mesh clients display
// channel text.
func FormatOutbound(author, body string) string {
	if author == "" {
		return body
	}
	return author + ": " + body
}

// TruncateUTF8 returns the longest prefix of text that is at most
// limit bytes and ends on a rune boundary.
func TruncateUTF8(text string, limit int) (string, bool) {
	if len(text) <= limit {
		return text, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut], true
}
