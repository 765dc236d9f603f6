// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec fixes the CBOR encoding used on the bridge's control
// socket.
//
// JSON is used where the outside world dictates it (the Discord API);
// CBOR is used for the local control protocol between a running bridge
// and the `meshbridge status` command. Encoding is Core Deterministic
// (RFC 8949 §4.2), so equal values always produce equal bytes.
//
//	data, err := codec.Marshal(status)
//	encoder := codec.NewEncoder(conn)
package codec
