// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service implements the bridge's local control socket.
//
// The protocol is one CBOR request and one CBOR response per unix
// socket connection. A request is a map with an "action" key plus
// action-specific fields; the response is a [Response] envelope whose
// Data field holds the action's result. [SocketServer] dispatches
// actions to registered handlers; [Client] is the matching caller used
// by `meshbridge status`.
//
// Access control is the socket file's permissions. The server creates
// it mode 0600.
package service
