// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package discord connects the bridge to Discord: a [Client] for the
// REST API (bot-authenticated sends and gateway discovery) and a
// [Gateway] that maintains the websocket session delivering inbound
// messages.
//
// The gateway protocol is JSON over a websocket, optionally wrapped in
// a zlib or zstd transport stream that spans every message of the
// connection. A session identifies once, then resumes with its
// session id and last sequence number after transient disconnects so
// that events dispatched while the bridge was away are replayed.
//
// Errors are classified for the reconnect supervisor: an
// [*AuthenticationError] (HTTP 401, close code 4004), a rejected API
// version (close code 4012) and misconfigured intents or shards
// (4010, 4011, 4013, 4014) are fatal; everything else is transient.
// REST failures decode into [*APIError]. Sends rejected with 429 are
// retried once after the delay the server asks for.
//
// Inbound message content is reduced to plain text before it leaves
// this package: user mentions become "@name" and Markdown formatting
// is stripped, since mesh radios render neither.
package discord
