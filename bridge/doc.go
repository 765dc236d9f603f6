// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bridge coordinates the mesh link and the Discord gateway.
//
// A [Bridge] owns one supervisor per link. Each connected session's
// inbound channel is drained by its own goroutine, so ordering is
// preserved per source and a stalled link never blocks the other.
//
// Mesh traffic is routed to a chat destination and placed on that
// destination's bounded FIFO queue. One worker per destination paces
// sends through the outbound limiter and posts them with the REST
// client. Messages are dropped, counted, and logged when the queue is
// full, the limiter cannot grant within its bound, or the gateway is
// not connected.
//
// Chat traffic is routed to a mesh channel and written to the current
// mesh session, or dropped when there is none. Delivery in both
// directions is at most once.
//
// Run returns nil when its context is cancelled and the first fatal
// error (bad credentials, unsupported firmware) otherwise. On the way
// out it waits up to ShutdownGrace for in-flight sends before
// aborting them.
//
// When a control socket path is configured, the bridge serves the
// "status" and "stats" actions over [service.SocketServer].
package bridge
