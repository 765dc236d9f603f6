// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channelmap is the static table that ties a logical Topic to
// a MeshCore channel index and a Discord channel.
//
// A Map is built once from configuration and never modified, so any
// number of goroutines may read it without locking. Forward lookups
// (Topic to Route) serve mesh-to-Discord traffic; the reverse indexes
// (Discord channel to Topic, mesh channel to Topic) serve inbound
// classification in each direction.
package channelmap
