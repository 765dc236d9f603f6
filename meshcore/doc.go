// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package meshcore speaks the MeshCore companion-radio protocol over
// TCP.
//
// The companion protocol frames every payload with a direction marker
// and a little-endian length:
//
//	host -> radio:  '<' (0x3C)  len u16le  payload
//	radio -> host:  '>' (0x3E)  len u16le  payload
//
// Byte 0 of a payload is a command code (host to radio) or a response
// or push code (radio to host). [FrameReader] discards bytes that do
// not start a frame and rejects lengths above the configured maximum,
// so line noise on a serial-to-TCP bridge costs a few frames rather
// than the connection.
//
// [Link.Connect] dials the radio, checks the firmware protocol version,
// registers the application, and returns a [Session]. The session
// decodes inbound frames into [Message] values whose Payload is one of
// a closed set of variants ([ChannelText], [DirectText],
// [Advertisement], [Contact], [ContactSummary], [Ack], [SignalReport],
// [Trace], [MeshPacket]); a decoded Message always carries a Topic
// present in the channel map. Queued messages on the radio are drained
// with SYNC_NEXT_MESSAGE whenever the radio signals MSG_WAITING, after
// every received text, and on a periodic timer.
//
// Frames that are too short for their code are counted and dropped;
// they never end the session. Read and write errors do.
package meshcore
