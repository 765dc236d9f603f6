// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/meshbridge/channelmap"
	"github.com/bureau-foundation/meshbridge/discord"
	"github.com/bureau-foundation/meshbridge/lib/clock"
	"github.com/bureau-foundation/meshbridge/lib/ratelimit"
	"github.com/bureau-foundation/meshbridge/lib/service"
	"github.com/bureau-foundation/meshbridge/lib/testutil"
	"github.com/bureau-foundation/meshbridge/meshcore"
	"github.com/bureau-foundation/meshbridge/supervisor"
)

const testTimeout = 5 * time.Second

const (
	messagesChannel channelmap.ChannelID = 100
	infoChannel     channelmap.ChannelID = 200
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testChannels(t *testing.T) *channelmap.Map {
	t.Helper()
	table, err := channelmap.New(map[channelmap.Topic]channelmap.Route{
		channelmap.TopicMessages: {ChatChannel: messagesChannel, MeshChannel: 0, HasMeshChannel: true},
		channelmap.TopicInfo:     {ChatChannel: infoChannel},
	})
	if err != nil {
		t.Fatalf("channelmap.New: %v", err)
	}
	return table
}

// fakeSession is a scripted link session. Messages is closed when the
// session ends, as the real sessions do.
type fakeSession[M any] struct {
	messages chan M
	done     chan struct{}
	endOnce  sync.Once
	err      error

	sendMu  sync.Mutex
	sent    chan meshcore.Message
	sendErr error

	// onClose, when set before the session is handed out, runs at the
	// start of Close.
	onClose func()
}

func newFakeSession[M any]() *fakeSession[M] {
	return &fakeSession[M]{
		messages: make(chan M),
		done:     make(chan struct{}),
		sent:     make(chan meshcore.Message, 16),
	}
}

func (s *fakeSession[M]) Messages() <-chan M    { return s.messages }
func (s *fakeSession[M]) Done() <-chan struct{} { return s.done }
func (s *fakeSession[M]) Err() error            { return s.err }
func (s *fakeSession[M]) Close() error {
	if s.onClose != nil {
		s.onClose()
	}
	s.end(nil)
	return nil
}

func (s *fakeSession[M]) end(err error) {
	s.endOnce.Do(func() {
		s.err = err
		close(s.messages)
		close(s.done)
	})
}

// push delivers message, failing the test if nobody is reading.
func (s *fakeSession[M]) push(t *testing.T, message M) {
	t.Helper()
	select {
	case s.messages <- message:
	case <-time.After(testTimeout):
		t.Fatal("timed out delivering message to the bridge")
	}
}

func (s *fakeSession[M]) SendMessage(ctx context.Context, message meshcore.Message) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent <- message
	return nil
}

type meshSession = fakeSession[meshcore.Message]
type chatSession = fakeSession[discord.Message]

// connector hands out scripted connect results in order. A connect
// with nothing scripted blocks until its context ends.
type connector[S any] struct {
	results chan connectResult[S]
	calls   chan struct{}
}

type connectResult[S any] struct {
	session S
	err     error
}

func newConnector[S any]() *connector[S] {
	return &connector[S]{
		results: make(chan connectResult[S], 8),
		calls:   make(chan struct{}, 64),
	}
}

func (c *connector[S]) succeed(session S) { c.results <- connectResult[S]{session: session} }
func (c *connector[S]) failWith(err error) {
	var zero S
	c.results <- connectResult[S]{session: zero, err: err}
}

func (c *connector[S]) connect(ctx context.Context) (S, error) {
	c.calls <- struct{}{}
	select {
	case result := <-c.results:
		return result.session, result.err
	case <-ctx.Done():
		var zero S
		return zero, ctx.Err()
	}
}

// recordingSender captures sends. When release is non-nil each send
// first waits on it (or its context).
type recordingSender struct {
	sent    chan discord.Message
	started chan discord.Message
	release chan struct{}
	err     error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		sent:    make(chan discord.Message, 16),
		started: make(chan discord.Message, 16),
	}
}

func (s *recordingSender) SendMessage(ctx context.Context, message discord.Message) error {
	s.started <- message
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.err != nil {
		return s.err
	}
	s.sent <- message
	return nil
}

type harness struct {
	bridge  *Bridge
	mesh    *connector[*meshSession]
	gateway *connector[*chatSession]
	sender  *recordingSender
	cancel  context.CancelFunc
	result  chan error
}

func newHarness(t *testing.T, adjust func(*Config)) *harness {
	t.Helper()
	h := &harness{
		mesh:    newConnector[*meshSession](),
		gateway: newConnector[*chatSession](),
		sender:  newRecordingSender(),
		result:  make(chan error, 1),
	}
	config := Config{
		Channels:      testChannels(t),
		MeshPolicy:    supervisor.Policy{Initial: time.Millisecond, Max: 10 * time.Millisecond},
		GatewayPolicy: supervisor.Policy{Initial: time.Millisecond, Max: 10 * time.Millisecond},
		Rate:          ratelimit.Config{Capacity: 100, RefillInterval: time.Millisecond},
		QueueSize:     8,
		ShutdownGrace: time.Second,
		RelayToMesh:   true,
		Logger:        quietLogger(),
	}
	if adjust != nil {
		adjust(&config)
	}
	b, err := New(config, Dependencies{
		ConnectMesh: func(ctx context.Context) (MeshSession, error) {
			session, err := h.mesh.connect(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		ConnectGateway: func(ctx context.Context) (ChatSession, error) {
			session, err := h.gateway.connect(ctx)
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		Sender: h.sender,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.bridge = b
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.result <- h.bridge.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.result:
		case <-time.After(testTimeout):
			t.Error("bridge did not stop")
		}
	})
}

// wait returns Run's result.
func (h *harness) wait(t *testing.T) error {
	t.Helper()
	err := testutil.RequireReceive(t, h.result, testTimeout, "waiting for Run to return")
	h.result <- err // let cleanup observe it
	return err
}

// connectBoth scripts one session per link and waits until both
// supervisors report Connected.
func (h *harness) connectBoth(t *testing.T) (*meshSession, *chatSession) {
	t.Helper()
	mesh := newFakeSession[meshcore.Message]()
	chat := newFakeSession[discord.Message]()
	h.mesh.succeed(mesh)
	h.gateway.succeed(chat)
	waitForState(t, h.bridge, MeshLinkName, supervisor.Connected)
	waitForState(t, h.bridge, GatewayLinkName, supervisor.Connected)
	return mesh, chat
}

func waitForState(t *testing.T, b *Bridge, link string, want supervisor.State) {
	t.Helper()
	waitFor(t, link+" "+want.String(), func() bool {
		for _, status := range b.Status().Links {
			if status.Name == link {
				return status.State == want.String()
			}
		}
		return false
	})
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !condition() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func channelText(text string) meshcore.Message {
	return meshcore.NewMessage(channelmap.TopicMessages, meshcore.ChannelText{
		Channel: 0,
		Hops:    1,
		Sender:  "node7",
		Text:    text,
	}, nil, time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
}

func TestMeshToChat(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	mesh, _ := h.connectBoth(t)

	mesh.push(t, channelText("battery low"))
	mesh.push(t, meshcore.NewMessage(channelmap.TopicInfo, meshcore.Advertisement{Name: "hilltop"}, nil, time.Time{}))

	first := testutil.RequireReceive(t, h.sender.sent, testTimeout, "waiting for channel text")
	if first.Destination != messagesChannel || first.Author != "node7" || first.Body != "battery low" {
		t.Errorf("first send = %+v", first)
	}
	if first.Kind != discord.KindChannelText {
		t.Errorf("first send kind = %q", first.Kind)
	}
	second := testutil.RequireReceive(t, h.sender.sent, testTimeout, "waiting for advert")
	if second.Destination != infoChannel || second.Kind != discord.KindAdvertisement {
		t.Errorf("second send = %+v", second)
	}

	waitFor(t, "forward count", func() bool { return h.bridge.Stats().ForwardedToChat == 2 })
	if stats := h.bridge.Stats(); stats.MeshReceived != 2 || stats.TotalDropped() != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPerDestinationOrder(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	mesh, _ := h.connectBoth(t)

	texts := []string{"one", "two", "three", "four", "five"}
	for _, text := range texts {
		mesh.push(t, channelText(text))
	}
	for _, want := range texts {
		got := testutil.RequireReceive(t, h.sender.sent, testTimeout, "waiting for", want)
		if got.Body != want {
			t.Fatalf("got %q, want %q", got.Body, want)
		}
	}
}

func TestChatToMesh(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	mesh, chat := h.connectBoth(t)

	chat.push(t, discord.Message{Destination: messagesChannel, Author: "alice", Body: "on my way"})

	sent := testutil.RequireReceive(t, mesh.sent, testTimeout, "waiting for mesh send")
	payload, ok := sent.Payload.(meshcore.ChannelText)
	if !ok || payload.Channel != 0 {
		t.Fatalf("payload = %#v, want ChannelText on channel 0", sent.Payload)
	}
	if sent.Sender != "alice" || sent.Text != "on my way" {
		t.Errorf("sent = %+v", sent)
	}
	waitFor(t, "forward count", func() bool { return h.bridge.Stats().ForwardedToMesh == 1 })
}

func TestChatToMeshDrops(t *testing.T) {
	t.Run("relay disabled", func(t *testing.T) {
		h := newHarness(t, func(config *Config) { config.RelayToMesh = false })
		h.start(t)
		mesh, chat := h.connectBoth(t)

		chat.push(t, discord.Message{Destination: messagesChannel, Author: "alice", Body: "hi"})
		waitFor(t, "relay_disabled drop", func() bool {
			return h.bridge.Stats().Dropped[DropRelayDisabled] == 1
		})
		testutil.RequireNoReceive(t, mesh.sent, 20*time.Millisecond, "relay disabled but mesh received text")
	})

	t.Run("chat-only channel", func(t *testing.T) {
		h := newHarness(t, nil)
		h.start(t)
		mesh, chat := h.connectBoth(t)

		chat.push(t, discord.Message{Destination: infoChannel, Author: "alice", Body: "hi"})
		waitFor(t, "unmapped drop", func() bool { return h.bridge.Stats().Dropped[DropUnmapped] == 1 })
		testutil.RequireNoReceive(t, mesh.sent, 20*time.Millisecond, "chat-only channel relayed to mesh")
	})

	t.Run("mesh disconnected", func(t *testing.T) {
		h := newHarness(t, nil)
		h.start(t)
		chat := newFakeSession[discord.Message]()
		h.gateway.succeed(chat)
		waitForState(t, h.bridge, GatewayLinkName, supervisor.Connected)

		chat.push(t, discord.Message{Destination: messagesChannel, Author: "alice", Body: "hi"})
		waitFor(t, "mesh_disconnected drop", func() bool {
			return h.bridge.Stats().Dropped[DropMeshDisconnected] == 1
		})
	})

	t.Run("mesh send error", func(t *testing.T) {
		h := newHarness(t, nil)
		h.start(t)
		mesh, chat := h.connectBoth(t)
		mesh.sendMu.Lock()
		mesh.sendErr = errors.New("write: broken pipe")
		mesh.sendMu.Unlock()

		chat.push(t, discord.Message{Destination: messagesChannel, Author: "alice", Body: "hi"})
		waitFor(t, "send error", func() bool { return h.bridge.Stats().SendErrors == 1 })
	})
}

func TestUnmappedTopicIsDropped(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	mesh, _ := h.connectBoth(t)

	mesh.push(t, meshcore.NewMessage(channelmap.ChannelTopic(9), meshcore.ChannelText{Channel: 9, Text: "x"}, nil, time.Time{}))
	mesh.push(t, channelText("after"))

	got := testutil.RequireReceive(t, h.sender.sent, testTimeout, "waiting for mapped message")
	if got.Body != "after" {
		t.Errorf("got %q, want the mapped message", got.Body)
	}
	if dropped := h.bridge.Stats().Dropped[DropUnmapped]; dropped != 1 {
		t.Errorf("unmapped drops = %d, want 1", dropped)
	}
}

func TestDropsWhileGatewayDisconnected(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	mesh := newFakeSession[meshcore.Message]()
	h.mesh.succeed(mesh)
	waitForState(t, h.bridge, MeshLinkName, supervisor.Connected)

	mesh.push(t, channelText("nobody is listening"))
	waitFor(t, "gateway_disconnected drop", func() bool {
		return h.bridge.Stats().Dropped[DropGatewayDisconnected] == 1
	})
	testutil.RequireNoReceive(t, h.sender.started, 20*time.Millisecond, "sent while the gateway was down")
}

func TestQueueOverflowDrops(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.QueueSize = 1 })
	h.sender.release = make(chan struct{})
	h.start(t)
	mesh, _ := h.connectBoth(t)

	mesh.push(t, channelText("in flight"))
	testutil.RequireReceive(t, h.sender.started, testTimeout, "waiting for the first send to start")

	mesh.push(t, channelText("queued"))
	mesh.push(t, channelText("overflow"))
	waitFor(t, "queue_full drop", func() bool { return h.bridge.Stats().Dropped[DropQueueFull] == 1 })

	close(h.sender.release)
	for _, want := range []string{"in flight", "queued"} {
		got := testutil.RequireReceive(t, h.sender.sent, testTimeout, "waiting for", want)
		if got.Body != want {
			t.Errorf("got %q, want %q", got.Body, want)
		}
	}
	testutil.RequireNoReceive(t, h.sender.sent, 20*time.Millisecond, "overflowed message was sent")
}

func TestThrottledSendsAreDropped(t *testing.T) {
	h := newHarness(t, func(config *Config) {
		config.Rate = ratelimit.Config{Capacity: 1, RefillInterval: time.Hour, MaxWait: time.Millisecond}
	})
	h.start(t)
	mesh, _ := h.connectBoth(t)

	mesh.push(t, channelText("granted"))
	mesh.push(t, channelText("throttled"))

	got := testutil.RequireReceive(t, h.sender.sent, testTimeout, "waiting for the granted send")
	if got.Body != "granted" {
		t.Errorf("got %q", got.Body)
	}
	waitFor(t, "throttled drop", func() bool { return h.bridge.Stats().Dropped[DropThrottled] == 1 })
}

func TestMeshSessionDropReconnects(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	first, _ := h.connectBoth(t)

	first.push(t, channelText("before"))
	testutil.RequireReceive(t, h.sender.sent, testTimeout, "waiting for first-session message")

	second := newFakeSession[meshcore.Message]()
	h.mesh.succeed(second)
	first.end(errors.New("meshcore: read: connection reset by peer"))

	second.push(t, channelText("after"))
	got := testutil.RequireReceive(t, h.sender.sent, testTimeout, "waiting for second-session message")
	if got.Body != "after" {
		t.Errorf("got %q, want %q", got.Body, "after")
	}
	testutil.RequireNoReceive(t, h.sender.sent, 50*time.Millisecond, "a message was delivered twice across the reconnect")
	waitFor(t, "forward count", func() bool { return h.bridge.Stats().ForwardedToChat == 2 })

	for _, status := range h.bridge.Status().Links {
		if status.Name == MeshLinkName && status.LastError == "" {
			t.Error("mesh link status lost the session error")
		}
	}
}

func TestFatalGatewayErrorStopsBridge(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	mesh := newFakeSession[meshcore.Message]()
	h.mesh.succeed(mesh)
	waitForState(t, h.bridge, MeshLinkName, supervisor.Connected)

	h.gateway.failWith(&discord.AuthenticationError{Reason: "close code 4004"})

	err := h.wait(t)
	var authentication *discord.AuthenticationError
	if !errors.As(err, &authentication) {
		t.Fatalf("Run error = %v, want *discord.AuthenticationError", err)
	}
	testutil.RequireClosed(t, mesh.Done(), testTimeout, "mesh session not closed on fatal shutdown")
}

func TestFatalSendErrorStopsBridge(t *testing.T) {
	h := newHarness(t, nil)
	h.sender.err = &discord.AuthenticationError{Reason: "HTTP 401"}
	h.start(t)
	mesh, chat := h.connectBoth(t)

	mesh.push(t, channelText("rejected"))

	err := h.wait(t)
	if !supervisor.IsFatal(err) {
		t.Fatalf("Run error = %v, want a fatal error", err)
	}
	testutil.RequireClosed(t, chat.Done(), testTimeout, "gateway session not closed")
	if stats := h.bridge.Stats(); stats.SendErrors != 1 {
		t.Errorf("send errors = %d, want 1", stats.SendErrors)
	}
}

func TestTransientConnectFailuresRetry(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.gateway.failWith(errors.New("dial tcp: connection refused"))
	h.gateway.failWith(errors.New("dial tcp: connection refused"))
	h.gateway.succeed(newFakeSession[discord.Message]())
	h.mesh.succeed(newFakeSession[meshcore.Message]())

	waitForState(t, h.bridge, GatewayLinkName, supervisor.Connected)
	if calls := len(h.gateway.calls); calls != 3 {
		t.Errorf("gateway connect calls = %d, want 3", calls)
	}
}

func TestShutdownIsClean(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	mesh, chat := h.connectBoth(t)

	h.cancel()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run = %v, want nil on cancellation", err)
	}
	testutil.RequireClosed(t, mesh.Done(), testTimeout, "mesh session not closed")
	testutil.RequireClosed(t, chat.Done(), testTimeout, "gateway session not closed")
	for _, status := range h.bridge.Status().Links {
		if status.State != supervisor.Disconnected.String() {
			t.Errorf("%s state = %s after shutdown", status.Name, status.State)
		}
	}
}

func TestShutdownAbortsSendsAfterGrace(t *testing.T) {
	h := newHarness(t, func(config *Config) { config.ShutdownGrace = 20 * time.Millisecond })
	h.sender.release = make(chan struct{}) // never released
	h.start(t)
	mesh, _ := h.connectBoth(t)

	mesh.push(t, channelText("stuck"))
	testutil.RequireReceive(t, h.sender.started, testTimeout, "waiting for the send to start")

	h.cancel()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	if dropped := h.bridge.Stats().Dropped[DropShutdown]; dropped != 1 {
		t.Errorf("shutdown drops = %d, want 1", dropped)
	}
}

func TestShutdownDropsMessagesQueuedWhileClosing(t *testing.T) {
	var output lockedBuffer
	h := newHarness(t, func(config *Config) {
		config.Logger = slog.New(slog.NewTextHandler(&output, nil))
	})
	h.start(t)

	// The session hands over one last message while it is being closed,
	// after the bridge has begun shutting down.
	mesh := newFakeSession[meshcore.Message]()
	mesh.onClose = func() { mesh.messages <- channelText("late") }
	h.mesh.succeed(mesh)
	h.gateway.succeed(newFakeSession[discord.Message]())
	waitForState(t, h.bridge, MeshLinkName, supervisor.Connected)
	waitForState(t, h.bridge, GatewayLinkName, supervisor.Connected)

	h.cancel()
	if err := h.wait(t); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
	testutil.RequireNoReceive(t, h.sender.sent, 20*time.Millisecond, "late message sent after shutdown")

	stats := h.bridge.Stats()
	if stats.MeshReceived != 1 || stats.Dropped[DropShutdown] != 1 {
		t.Errorf("stats = %+v, want the late message received and dropped", stats)
	}
	if !strings.Contains(output.String(), "reason=shutdown") {
		t.Errorf("shutdown drop not logged:\n%s", output.String())
	}
}

func TestControlSocket(t *testing.T) {
	socketPath := testutil.SocketPath(t, "control.sock")
	h := newHarness(t, func(config *Config) { config.ControlSocket = socketPath })
	h.start(t)
	mesh, _ := h.connectBoth(t)
	mesh.push(t, channelText("counted"))
	testutil.RequireReceive(t, h.sender.sent, testTimeout, "waiting for send")
	waitFor(t, "forward count", func() bool { return h.bridge.Stats().ForwardedToChat == 1 })

	client := service.NewClient(socketPath)
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	var status Status
	waitFor(t, "control socket", func() bool {
		return client.Call(ctx, ActionStatus, nil, &status) == nil
	})
	if len(status.Links) != 2 || status.Links[0].Name != MeshLinkName || status.Links[1].Name != GatewayLinkName {
		t.Fatalf("status links = %+v", status.Links)
	}
	for _, link := range status.Links {
		if link.State != supervisor.Connected.String() {
			t.Errorf("%s state = %q, want connected", link.Name, link.State)
		}
	}
	if status.Version == "" {
		t.Error("status has no version")
	}

	var stats Stats
	if err := client.Call(ctx, ActionStats, nil, &stats); err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.ForwardedToChat != 1 || stats.MeshReceived != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if _, ok := stats.Dropped[DropQueueFull]; !ok {
		t.Error("stats omit zero drop reasons")
	}
}

// lockedBuffer is an io.Writer safe for concurrent loggers.
type lockedBuffer struct {
	mu     sync.Mutex
	buffer bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buffer.String()
}

func TestStatisticsAreLoggedPeriodically(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC))
	var output lockedBuffer
	h := newHarness(t, func(config *Config) {
		config.Clock = fake
		config.StatsInterval = 5 * time.Minute
		config.Logger = slog.New(slog.NewTextHandler(&output, nil))
	})
	h.start(t)

	// Both connectors block, so the statistics ticker is the only
	// timer.
	fake.WaitForTimers(1)
	if strings.Contains(output.String(), "bridge statistics") {
		t.Fatal("statistics logged before the first interval")
	}
	fake.Advance(5 * time.Minute)
	waitFor(t, "statistics log line", func() bool {
		return strings.Contains(output.String(), "bridge statistics")
	})

	if uptime := h.bridge.Status().Uptime; uptime != 5*time.Minute {
		t.Errorf("uptime = %v, want 5m", uptime)
	}
}

func TestNewValidation(t *testing.T) {
	valid := Dependencies{
		ConnectMesh:    func(context.Context) (MeshSession, error) { return nil, errors.New("unused") },
		ConnectGateway: func(context.Context) (ChatSession, error) { return nil, errors.New("unused") },
		Sender:         newRecordingSender(),
	}
	rate := ratelimit.Config{Capacity: 1, RefillInterval: time.Second}

	if _, err := New(Config{Rate: rate}, valid); err == nil {
		t.Error("New accepted a config without channels")
	}
	if _, err := New(Config{Channels: testChannels(t), Rate: rate}, Dependencies{}); err == nil {
		t.Error("New accepted missing dependencies")
	}
	if _, err := New(Config{Channels: testChannels(t)}, valid); err == nil {
		t.Error("New accepted a zero rate")
	}
	b, err := New(Config{Channels: testChannels(t), Rate: rate}, valid)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if b.config.QueueSize != DefaultQueueSize || b.config.ShutdownGrace != DefaultShutdownGrace {
		t.Errorf("defaults not applied: %+v", b.config)
	}
	if len(b.queues) != 2 {
		t.Errorf("queues = %d, want one per chat channel", len(b.queues))
	}
}
