// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bureau-foundation/meshbridge/channelmap"
	"github.com/bureau-foundation/meshbridge/lib/clock"
)

// Gateway intents.
const (
	IntentGuilds         = 1 << 0
	IntentGuildMessages  = 1 << 9
	IntentMessageContent = 1 << 15

	DefaultIntents = IntentGuilds | IntentGuildMessages | IntentMessageContent
)

const (
	gatewayVersion          = "10"
	DefaultHandshakeTimeout = 30 * time.Second
	DefaultReidentifyDelay  = 2 * time.Second
	defaultWriteTimeout     = 10 * time.Second
)

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// Client fetches the gateway URL and supplies the token. Required.
	Client *Client

	// Channels selects which channels' messages are delivered.
	// Required.
	Channels *channelmap.Map

	// Intents defaults to DefaultIntents.
	Intents int

	// Compress is CompressNone, CompressZlib or CompressZstd.
	Compress string

	// HandshakeTimeout bounds HELLO through READY or RESUMED.
	HandshakeTimeout time.Duration

	// ReidentifyDelay is the pause before identifying again after the
	// gateway refuses a resume.
	ReidentifyDelay time.Duration

	// MessageBuffer is the capacity of each session's Messages channel.
	MessageBuffer int

	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	Clock  clock.Clock
	Logger *slog.Logger

	// Random returns uniform samples in [0, 1) for heartbeat jitter.
	Random func() float64
}

// User is the subset of a Discord user the bridge reads.
type User struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	Bot        bool   `json:"bot"`
}

// DisplayName prefers the global display name over the username.
func (u User) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// GatewayStats are cumulative gateway counters across sessions.
type GatewayStats struct {
	SessionsOpened   uint64 `cbor:"sessions_opened"`
	Resumes          uint64 `cbor:"resumes"`
	MessagesReceived uint64 `cbor:"messages_received"`
	MessagesIgnored  uint64 `cbor:"messages_ignored"`
	Heartbeats       uint64 `cbor:"heartbeats"`
}

// Gateway maintains gateway sessions for one bot. Resume state carries
// over from one session to the next.
type Gateway struct {
	config GatewayConfig
	logger *slog.Logger

	mu        sync.Mutex
	sessionID string
	sequence  int64
	resumeURL string
	self      User
	stats     GatewayStats
}

// NewGateway validates config and returns a Gateway.
func NewGateway(config GatewayConfig) (*Gateway, error) {
	if config.Client == nil {
		return nil, errors.New("discord: GatewayConfig.Client is required")
	}
	if config.Channels == nil {
		return nil, errors.New("discord: GatewayConfig.Channels is required")
	}
	switch config.Compress {
	case CompressNone, CompressZlib, CompressZstd:
	default:
		return nil, fmt.Errorf("discord: unsupported compression %q", config.Compress)
	}
	if config.Intents == 0 {
		config.Intents = DefaultIntents
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.ReidentifyDelay < 0 {
		config.ReidentifyDelay = 0
	} else if config.ReidentifyDelay == 0 {
		config.ReidentifyDelay = DefaultReidentifyDelay
	}
	if config.MessageBuffer <= 0 {
		config.MessageBuffer = 64
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Random == nil {
		config.Random = rand.Float64
	}
	return &Gateway{config: config, logger: config.Logger}, nil
}

// Self returns the bot user from the most recent READY.
func (g *Gateway) Self() User {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.self
}

// Stats returns a snapshot of the gateway counters.
func (g *Gateway) Stats() GatewayStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stats
}

func (g *Gateway) count(update func(*GatewayStats)) {
	g.mu.Lock()
	update(&g.stats)
	g.mu.Unlock()
}

func (g *Gateway) resumeState() (sessionID string, sequence int64, resumeURL string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sessionID, g.sequence, g.resumeURL
}

func (g *Gateway) clearResumeState() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessionID = ""
	g.sequence = 0
	g.resumeURL = ""
}

func (g *Gateway) recordSequence(sequence *int64) {
	if sequence == nil {
		return
	}
	g.mu.Lock()
	if *sequence > g.sequence {
		g.sequence = *sequence
	}
	g.mu.Unlock()
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Intents    int                `json:"intents"`
	Properties identifyProperties `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
	User             User   `json:"user"`
}

// Connect opens a gateway session: it identifies, or resumes when a
// previous session left resume state behind.
func (g *Gateway) Connect(ctx context.Context) (*Session, error) {
	sessionID, sequence, resumeURL := g.resumeState()
	resuming := sessionID != "" && resumeURL != ""

	baseURL := resumeURL
	if !resuming {
		var err error
		baseURL, err = g.config.Client.GatewayURL(ctx)
		if err != nil {
			return nil, err
		}
	}
	dialURL, err := gatewayDialURL(baseURL, g.config.Compress)
	if err != nil {
		return nil, err
	}

	conn, response, err := g.config.Dialer.DialContext(ctx, dialURL, nil)
	if response != nil && response.Body != nil {
		response.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("discord: dialing gateway: %w", err)
	}

	events, err := newEventReader(func() ([]byte, error) {
		_, data, err := conn.ReadMessage()
		return data, err
	}, g.config.Compress)
	if err != nil {
		conn.Close()
		return nil, err
	}

	session := newSession(g, conn, events)
	if err := session.handshake(ctx, resuming, sessionID, sequence); err != nil {
		events.Close()
		conn.Close()
		return nil, err
	}
	session.start()
	return session, nil
}

func gatewayDialURL(base, compression string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("discord: invalid gateway URL %q: %w", base, err)
	}
	query := parsed.Query()
	query.Set("v", gatewayVersion)
	query.Set("encoding", "json")
	if compression != CompressNone {
		query.Set("compress", compression)
	}
	parsed.RawQuery = query.Encode()
	if parsed.Path == "" {
		parsed.Path = "/"
	}
	return parsed.String(), nil
}

func (s *Session) handshake(ctx context.Context, resuming bool, sessionID string, sequence int64) error {
	gateway := s.gateway
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now()) //nolint:realclock unblocks reads on cancel
	})
	defer stop()
	if err := s.conn.SetReadDeadline(time.Now().Add(gateway.config.HandshakeTimeout)); err != nil { //nolint:realclock socket deadlines are wall-clock
		return fmt.Errorf("discord: gateway handshake: %w", err)
	}

	hello, err := s.events.Next()
	if err != nil {
		return s.handshakeError(ctx, "HELLO", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("discord: gateway handshake: expected HELLO, got op %d", hello.Op)
	}
	var helloBody helloData
	if err := json.Unmarshal(hello.Data, &helloBody); err != nil || helloBody.HeartbeatInterval <= 0 {
		return fmt.Errorf("discord: gateway handshake: bad HELLO payload %s", hello.Data)
	}
	s.heartbeatInterval = time.Duration(helloBody.HeartbeatInterval) * time.Millisecond

	if resuming {
		err = s.send(outboundPayload{Op: opResume, Data: resumeData{
			Token:     gateway.config.Client.token.String(),
			SessionID: sessionID,
			Sequence:  sequence,
		}})
	} else {
		err = s.identify()
	}
	if err != nil {
		return s.handshakeError(ctx, "sending", err)
	}

	reidentified := false
	for {
		payload, err := s.events.Next()
		if err != nil {
			return s.handshakeError(ctx, "READY", err)
		}
		switch payload.Op {
		case opDispatch:
			gateway.recordSequence(payload.Sequence)
			switch payload.Type {
			case "READY":
				var ready readyData
				if err := json.Unmarshal(payload.Data, &ready); err != nil {
					return fmt.Errorf("discord: parsing READY: %w", err)
				}
				gateway.mu.Lock()
				gateway.sessionID = ready.SessionID
				gateway.resumeURL = ready.ResumeGatewayURL
				gateway.self = ready.User
				gateway.stats.SessionsOpened++
				gateway.mu.Unlock()
				s.logger.Info("discord gateway ready", "user", ready.User.Username, "session_id", ready.SessionID)
				return s.clearDeadline()
			case "RESUMED":
				gateway.count(func(stats *GatewayStats) { stats.Resumes++ })
				s.logger.Info("discord gateway resumed", "session_id", sessionID, "sequence", sequence)
				return s.clearDeadline()
			default:
				// Events replayed by a resume, delivered once the
				// session starts.
				if message, ok := s.parseDispatch(payload); ok {
					s.pending = append(s.pending, message)
				}
			}
		case opInvalidSession:
			if !resuming || reidentified {
				gateway.clearResumeState()
				return ErrInvalidSession
			}
			reidentified = true
			gateway.clearResumeState()
			s.logger.Info("discord refused resume, identifying again")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-gateway.config.Clock.After(gateway.config.ReidentifyDelay):
			}
			if err := s.identify(); err != nil {
				return s.handshakeError(ctx, "sending", err)
			}
		case opHeartbeat:
			if err := s.sendHeartbeat(); err != nil {
				return s.handshakeError(ctx, "sending", err)
			}
		case opReconnect:
			return ErrReconnectRequested
		}
	}
}

func (s *Session) identify() error {
	return s.send(outboundPayload{Op: opIdentify, Data: identifyData{
		Token:   s.gateway.config.Client.token.String(),
		Intents: s.gateway.config.Intents,
		Properties: identifyProperties{
			OS:      "linux",
			Browser: "meshbridge",
			Device:  "meshbridge",
		},
	}})
}

func (s *Session) clearDeadline() error {
	if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("discord: gateway handshake: %w", err)
	}
	return nil
}

func (s *Session) handshakeError(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	classified, resumable := classifyClose(err)
	if !resumable {
		s.gateway.clearResumeState()
	}
	if classified != err {
		return classified
	}
	return fmt.Errorf("discord: gateway handshake (%s): %w", stage, err)
}
