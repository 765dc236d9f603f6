// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds helpers shared by the bridge's tests.
//
// [RequireReceive], [RequireNoReceive], and [RequireClosed] wrap the
// select-with-timeout guard so that a broken test fails with a message
// instead of hanging. They are the only place tests wait on the wall
// clock; everything else uses a fake clock.
//
// [SocketPath] returns a short unix socket path, since t.TempDir can
// exceed the 108-byte sun_path limit under some build systems.
package testutil
