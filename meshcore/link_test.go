// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meshcore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/bureau-foundation/meshbridge/channelmap"
	"github.com/bureau-foundation/meshbridge/lib/clock"
	"github.com/bureau-foundation/meshbridge/lib/testutil"
	"github.com/bureau-foundation/meshbridge/supervisor"
)

const testTimeout = 5 * time.Second

var epoch = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

// fakeRadio accepts TCP connections and speaks the radio side of the
// companion protocol under test control.
type fakeRadio struct {
	listener net.Listener
	conns    chan *radioConn
}

type radioConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newFakeRadio(t *testing.T) *fakeRadio {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	radio := &fakeRadio{listener: listener, conns: make(chan *radioConn, 4)}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			radio.conns <- &radioConn{conn: conn, reader: bufio.NewReader(conn)}
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return radio
}

func (r *fakeRadio) port() int {
	return r.listener.Addr().(*net.TCPAddr).Port
}

// command reads the next host-to-radio payload.
func (c *radioConn) command(t *testing.T) []byte {
	t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	header := make([]byte, 3)
	if _, err := io.ReadFull(c.reader, header); err != nil {
		t.Fatalf("radio reading frame header: %v", err)
	}
	if header[0] != outboundMarker {
		t.Fatalf("radio got marker 0x%02x, want 0x3C", header[0])
	}
	payload := make([]byte, binary.LittleEndian.Uint16(header[1:]))
	if _, err := io.ReadFull(c.reader, payload); err != nil {
		t.Fatalf("radio reading frame payload: %v", err)
	}
	return payload
}

func (c *radioConn) expect(t *testing.T, want ...byte) {
	t.Helper()
	if got := c.command(t); !bytes.Equal(got, want) {
		t.Fatalf("radio got command %x, want %x", got, want)
	}
}

func (c *radioConn) send(t *testing.T, payloads ...[]byte) {
	t.Helper()
	for _, payload := range payloads {
		if _, err := c.conn.Write(inboundFrame(payload...)); err != nil {
			t.Fatalf("radio write: %v", err)
		}
	}
}

func selfInfoFrame(name string) []byte {
	frame := make([]byte, 58, 58+len(name))
	frame[0] = respSelfInfo
	copy(frame[4:36], testKey(0x55))
	return append(frame, name...)
}

// handshake plays the radio side of a successful connect.
func (c *radioConn) handshake(t *testing.T) {
	t.Helper()
	c.expect(t, cmdDeviceQuery, supportedAppVersion)
	c.send(t, []byte{respDeviceInfo, 8})
	appStart := c.command(t)
	if appStart[0] != cmdAppStart || string(appStart[8:]) != "test bridge" {
		t.Fatalf("APP_START = %x", appStart)
	}
	c.send(t, []byte{respOK}, selfInfoFrame("base"))
	c.expect(t, cmdGetContacts)
	c.expect(t, cmdSyncNextMessage)
}

type connectResult struct {
	session *Session
	err     error
}

func testChannelMap(t *testing.T, routes map[channelmap.Topic]channelmap.Route) *channelmap.Map {
	t.Helper()
	table, err := channelmap.New(routes)
	if err != nil {
		t.Fatalf("channelmap.New: %v", err)
	}
	return table
}

func defaultRoutes() map[channelmap.Topic]channelmap.Route {
	return map[channelmap.Topic]channelmap.Route{
		channelmap.TopicMessages: {ChatChannel: 100, MeshChannel: 0, HasMeshChannel: true},
		channelmap.TopicInfo:     {ChatChannel: 200},
	}
}

func newTestLink(t *testing.T, radio *fakeRadio, table *channelmap.Map, configure func(*Config)) *Link {
	t.Helper()
	config := Config{
		Host:             "127.0.0.1",
		Port:             radio.port(),
		Channels:         table,
		HandshakeTimeout: testTimeout,
		SyncInterval:     -1,
		AppName:          "test bridge",
		Clock:            clock.Fake(epoch),
	}
	if configure != nil {
		configure(&config)
	}
	link, err := New(config)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return link
}

func connect(t *testing.T, link *Link, radio *fakeRadio) (*Session, *radioConn) {
	t.Helper()
	results := make(chan connectResult, 1)
	go func() {
		session, err := link.Connect(context.Background())
		results <- connectResult{session, err}
	}()
	conn := testutil.RequireReceive(t, radio.conns, testTimeout, "radio accept")
	conn.handshake(t)
	result := testutil.RequireReceive(t, results, testTimeout, "Connect result")
	if result.err != nil {
		t.Fatalf("Connect: %v", result.err)
	}
	t.Cleanup(func() { result.session.Close() })
	return result.session, conn
}

func TestConnectAndReceive(t *testing.T) {
	radio := newFakeRadio(t)
	link := newTestLink(t, radio, testChannelMap(t, defaultRoutes()), nil)
	session, conn := connect(t, link, radio)

	if session.Self().Name != "base" {
		t.Errorf("Self().Name = %q, want base", session.Self().Name)
	}
	if session.Device().ProtocolVersion != 8 {
		t.Errorf("ProtocolVersion = %d, want 8", session.Device().ProtocolVersion)
	}

	conn.send(t,
		contactFrame(testKey(0x07), ContactChat, "node7"),
		[]byte{respEndContacts},
		channelTextV3(0, 1, "node7: battery low"),
	)

	summary := testutil.RequireReceive(t, session.Messages(), testTimeout, "contact summary")
	if summary.Topic != channelmap.TopicInfo {
		t.Errorf("summary topic = %q, want info", summary.Topic)
	}
	if got, ok := summary.Payload.(ContactSummary); !ok || got.Total != 1 || got.Chat != 1 {
		t.Errorf("summary payload = %#v", summary.Payload)
	}

	text := testutil.RequireReceive(t, session.Messages(), testTimeout, "channel text")
	if text.Topic != channelmap.TopicMessages || text.Sender != "node7" || text.Text != "battery low" {
		t.Errorf("message = %+v", text)
	}
	if !text.Timestamp.Equal(epoch) {
		t.Errorf("Timestamp = %v, want receipt time %v", text.Timestamp, epoch)
	}
	if !bytes.Equal(text.Raw, channelTextV3(0, 1, "node7: battery low")) {
		t.Errorf("Raw = %x", text.Raw)
	}

	// Every received text asks the radio for the next queued message.
	conn.expect(t, cmdSyncNextMessage)
}

func TestMessageWaitingRequestsSync(t *testing.T) {
	radio := newFakeRadio(t)
	link := newTestLink(t, radio, testChannelMap(t, defaultRoutes()), nil)
	_, conn := connect(t, link, radio)

	conn.send(t, []byte{pushMessageWaiting})
	conn.expect(t, cmdSyncNextMessage)
}

func TestPeriodicSync(t *testing.T) {
	radio := newFakeRadio(t)
	fake := clock.Fake(epoch)
	link := newTestLink(t, radio, testChannelMap(t, defaultRoutes()), func(config *Config) {
		config.Clock = fake
		config.SyncInterval = 30 * time.Second
	})
	_, conn := connect(t, link, radio)

	fake.WaitForTimers(1)
	fake.Advance(30 * time.Second)
	conn.expect(t, cmdSyncNextMessage)
}

func TestDuplicateAndUnmappedFramesAreDropped(t *testing.T) {
	radio := newFakeRadio(t)
	routes := map[channelmap.Topic]channelmap.Route{
		channelmap.TopicMessages: {ChatChannel: 100},
	}
	link := newTestLink(t, radio, testChannelMap(t, routes), nil)
	session, conn := connect(t, link, radio)

	repeated := channelTextV3(0, 1, "alice: hello")
	conn.send(t,
		repeated,
		repeated,
		frameOf([]byte{pushSendConfirmed, 1, 2, 3, 4}, le32(10)), // info is unmapped
		[]byte{respChannelText, 1},                                // malformed
		channelTextV3(0, 1, "alice: again"),
	)

	first := testutil.RequireReceive(t, session.Messages(), testTimeout, "first text")
	second := testutil.RequireReceive(t, session.Messages(), testTimeout, "second text")
	if first.Text != "hello" || second.Text != "again" {
		t.Fatalf("texts = %q, %q; want hello, again", first.Text, second.Text)
	}

	stats := link.Stats()
	if stats.FramesDuplicate != 1 {
		t.Errorf("FramesDuplicate = %d, want 1", stats.FramesDuplicate)
	}
	if stats.FramesUnmapped != 1 {
		t.Errorf("FramesUnmapped = %d, want 1", stats.FramesUnmapped)
	}
	if stats.FramesMalformed != 1 {
		t.Errorf("FramesMalformed = %d, want 1", stats.FramesMalformed)
	}
}

func TestSessionEndsWhenRadioDisconnects(t *testing.T) {
	radio := newFakeRadio(t)
	link := newTestLink(t, radio, testChannelMap(t, defaultRoutes()), nil)
	session, conn := connect(t, link, radio)

	conn.conn.Close()
	testutil.RequireClosed(t, session.Done(), testTimeout, "session done")
	if session.Err() == nil {
		t.Error("Err() = nil after the radio disconnected")
	}
	if _, ok := <-session.Messages(); ok {
		t.Error("Messages still open after Done")
	}
	if err := session.SendChannelText(context.Background(), 0, "late", time.Time{}); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("send after end = %v, want ErrSessionClosed", err)
	}
}

func TestCloseIsLocalAndIdempotent(t *testing.T) {
	radio := newFakeRadio(t)
	link := newTestLink(t, radio, testChannelMap(t, defaultRoutes()), nil)
	session, _ := connect(t, link, radio)

	session.Close()
	session.Close()
	testutil.RequireClosed(t, session.Done(), testTimeout, "session done")
	if err := session.Err(); err != nil {
		t.Errorf("Err() after Close = %v, want nil", err)
	}
}

func TestSendChannelText(t *testing.T) {
	radio := newFakeRadio(t)
	link := newTestLink(t, radio, testChannelMap(t, defaultRoutes()), func(config *Config) {
		config.MaxTextBytes = 12
	})
	session, conn := connect(t, link, radio)

	message := Message{
		Topic:     channelmap.TopicMessages,
		Sender:    "alice",
		Text:      "hi mesh",
		Timestamp: time.Unix(sentAtSeconds, 0),
		Payload:   ChannelText{Channel: 2, Sender: "alice", Text: "hi mesh"},
	}
	if err := session.SendMessage(context.Background(), message); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	conn.expect(t, frameOf([]byte{cmdSendChannelText, 0, 2}, le32(sentAtSeconds), []byte("alice: hi me"))...)

	if got := link.Stats().TextsTruncated; got != 1 {
		t.Errorf("TextsTruncated = %d, want 1", got)
	}

	if err := session.SendMessage(context.Background(), Message{Payload: Ack{}}); err == nil {
		t.Error("SendMessage accepted a non-text payload")
	}
}

func TestConnectRejectsOldFirmware(t *testing.T) {
	for _, test := range []struct {
		name  string
		reply []byte
	}{
		{"old version", []byte{respDeviceInfo, 2}},
		{"error reply", []byte{respError, 1}},
	} {
		t.Run(test.name, func(t *testing.T) {
			radio := newFakeRadio(t)
			link := newTestLink(t, radio, testChannelMap(t, defaultRoutes()), nil)

			results := make(chan connectResult, 1)
			go func() {
				session, err := link.Connect(context.Background())
				results <- connectResult{session, err}
			}()
			conn := testutil.RequireReceive(t, radio.conns, testTimeout, "radio accept")
			conn.expect(t, cmdDeviceQuery, supportedAppVersion)
			conn.send(t, test.reply)

			result := testutil.RequireReceive(t, results, testTimeout, "Connect result")
			if !errors.Is(result.err, ErrProtocolVersion) {
				t.Fatalf("Connect error = %v, want ErrProtocolVersion", result.err)
			}
			if !supervisor.IsFatal(result.err) {
				t.Error("protocol version error is not fatal")
			}
		})
	}
}

func TestHandshakeTimeoutIsTransient(t *testing.T) {
	radio := newFakeRadio(t)
	link := newTestLink(t, radio, testChannelMap(t, defaultRoutes()), func(config *Config) {
		config.HandshakeTimeout = 50 * time.Millisecond
	})

	_, err := link.Connect(context.Background())
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Fatalf("Connect error = %v, want deadline exceeded", err)
	}
	if supervisor.IsFatal(err) {
		t.Error("handshake timeout classified as fatal")
	}
}

func TestConnectHonoursCancellation(t *testing.T) {
	radio := newFakeRadio(t)
	link := newTestLink(t, radio, testChannelMap(t, defaultRoutes()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan connectResult, 1)
	go func() {
		session, err := link.Connect(ctx)
		results <- connectResult{session, err}
	}()
	conn := testutil.RequireReceive(t, radio.conns, testTimeout, "radio accept")
	conn.expect(t, cmdDeviceQuery, supportedAppVersion)
	cancel()

	result := testutil.RequireReceive(t, results, testTimeout, "Connect result")
	if !errors.Is(result.err, context.Canceled) {
		t.Errorf("Connect error = %v, want context.Canceled", result.err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	table := testChannelMap(t, defaultRoutes())
	if _, err := New(Config{Channels: table}); err == nil {
		t.Error("New accepted an empty host")
	}
	if _, err := New(Config{Host: "radio"}); err == nil {
		t.Error("New accepted a nil channel map")
	}
	link, err := New(Config{Host: "radio", Channels: table})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if link.Address() != "radio:4000" {
		t.Errorf("Address = %q, want radio:4000", link.Address())
	}
}
