// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discord

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/meshbridge/channelmap"
)

// resumableCloseCode closes our side without invalidating the gateway
// session; a 1000 or 1001 close would.
const resumableCloseCode = 4000

// Session is one gateway connection.
type Session struct {
	gateway *Gateway
	conn    *websocket.Conn
	events  eventReader
	logger  *slog.Logger

	heartbeatInterval time.Duration
	acked             atomic.Bool

	// pending holds messages replayed during a resume handshake.
	pending []Message

	writeMu sync.Mutex

	messages chan Message
	closing  chan struct{}
	done     chan struct{}

	failOnce sync.Once
	errMu    sync.Mutex
	err      error
}

func newSession(gateway *Gateway, conn *websocket.Conn, events eventReader) *Session {
	return &Session{
		gateway:  gateway,
		conn:     conn,
		events:   events,
		logger:   gateway.logger,
		messages: make(chan Message, gateway.config.MessageBuffer),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Messages yields inbound messages from mapped channels until the
// session ends, then is closed.
func (s *Session) Messages() <-chan Message { return s.messages }

// Done is closed after the session has ended and Messages is closed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended, or nil after a local Close.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// HeartbeatInterval is the interval the gateway asked for in HELLO.
func (s *Session) HeartbeatInterval() time.Duration { return s.heartbeatInterval }

// Close ends the session with a normal closure and waits for its
// goroutines.
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

		code := websocket.CloseNormalClosure
		if err != nil {
			code = resumableCloseCode
		}
		deadline := time.Now().Add(time.Second) //nolint:realclock socket deadlines are wall-clock
		s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
		s.conn.Close()
		s.events.Close()
	})
}

func (s *Session) send(payload outboundPayload) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil { //nolint:realclock socket deadlines are wall-clock
		return err
	}
	return s.conn.WriteJSON(payload)
}

func (s *Session) sendHeartbeat() error {
	_, sequence, _ := s.gateway.resumeState()
	var data any
	if sequence > 0 {
		data = sequence
	}
	s.gateway.count(func(stats *GatewayStats) { stats.Heartbeats++ })
	return s.send(outboundPayload{Op: opHeartbeat, Data: data})
}

func (s *Session) start() {
	s.acked.Store(true)
	var workers sync.WaitGroup
	workers.Go(s.readLoop)
	workers.Go(s.heartbeatLoop)
	go func() {
		workers.Wait()
		close(s.messages)
		close(s.done)
	}()
}

func (s *Session) deliver(message Message) bool {
	select {
	case s.messages <- message:
		return true
	case <-s.closing:
		return false
	}
}

func (s *Session) readLoop() {
	for _, message := range s.pending {
		if !s.deliver(message) {
			return
		}
	}
	s.pending = nil

	for {
		payload, err := s.events.Next()
		if err != nil {
			select {
			case <-s.closing:
			default:
				classified, resumable := classifyClose(err)
				if !resumable {
					s.gateway.clearResumeState()
				}
				s.logger.Warn("discord gateway read failed", "error", classified, "resumable", resumable)
				s.fail(classified)
			}
			return
		}

		switch payload.Op {
		case opDispatch:
			s.gateway.recordSequence(payload.Sequence)
			if message, ok := s.parseDispatch(payload); ok && !s.deliver(message) {
				return
			}
		case opHeartbeat:
			if err := s.sendHeartbeat(); err != nil {
				s.fail(fmt.Errorf("discord: answering heartbeat request: %w", err))
				return
			}
		case opHeartbeatAck:
			s.acked.Store(true)
		case opReconnect:
			s.logger.Info("discord gateway requested reconnect")
			s.fail(ErrReconnectRequested)
			return
		case opInvalidSession:
			var resumable bool
			json.Unmarshal(payload.Data, &resumable)
			if !resumable {
				s.gateway.clearResumeState()
			}
			s.logger.Warn("discord gateway invalidated the session", "resumable", resumable)
			s.fail(ErrInvalidSession)
			return
		}
	}
}

func (s *Session) heartbeatLoop() {
	interval := s.heartbeatInterval
	clock := s.gateway.config.Clock
	first := time.Duration(float64(interval) * s.gateway.config.Random())
	select {
	case <-s.closing:
		return
	case <-clock.After(first):
	}

	ticker := clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		if !s.acked.Swap(false) {
			s.logger.Warn("discord heartbeat not acknowledged, dropping zombie connection", "interval", interval)
			s.fail(ErrZombie)
			return
		}
		if err := s.sendHeartbeat(); err != nil {
			s.fail(fmt.Errorf("discord: sending heartbeat: %w", err))
			return
		}
		select {
		case <-s.closing:
			return
		case <-ticker.C:
		}
	}
}

type messageCreate struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Author    User      `json:"author"`
	Mentions  []User    `json:"mentions"`
	WebhookID string    `json:"webhook_id"`
}

// parseDispatch turns a MESSAGE_CREATE in a mapped channel into a
// Message. Everything else, including the bot's own messages and
// those of other bots, is ignored.
func (s *Session) parseDispatch(payload gatewayPayload) (Message, bool) {
	if payload.Type != "MESSAGE_CREATE" {
		return Message{}, false
	}
	var event messageCreate
	if err := json.Unmarshal(payload.Data, &event); err != nil {
		s.logger.Warn("ignoring undecodable MESSAGE_CREATE", "error", err)
		return Message{}, false
	}
	channel, err := channelmap.ParseChannelID(event.ChannelID)
	if err != nil {
		s.logger.Warn("ignoring MESSAGE_CREATE with bad channel id", "channel_id", event.ChannelID, "error", err)
		return Message{}, false
	}

	ignore := func(reason string) (Message, bool) {
		s.gateway.count(func(stats *GatewayStats) { stats.MessagesIgnored++ })
		s.logger.Debug("ignoring discord message", "destination", channel, "reason", reason)
		return Message{}, false
	}
	if _, mapped := s.gateway.config.Channels.TopicForChat(channel); !mapped {
		return ignore("unmapped_channel")
	}
	if event.Author.ID == s.gateway.Self().ID {
		return ignore("own_message")
	}
	if event.Author.Bot || event.WebhookID != "" {
		return ignore("bot_author")
	}

	mentions := make(map[string]string, len(event.Mentions))
	for _, mentioned := range event.Mentions {
		mentions[mentioned.ID] = mentioned.DisplayName()
	}
	body := normalizeContent(event.Content, mentions)
	if body == "" {
		return ignore("empty_content")
	}

	s.gateway.count(func(stats *GatewayStats) { stats.MessagesReceived++ })
	return Message{
		Destination: channel,
		Author:      event.Author.DisplayName(),
		Body:        body,
		Timestamp:   event.Timestamp,
		MessageID:   event.ID,
		AuthorID:    event.Author.ID,
	}, true
}
