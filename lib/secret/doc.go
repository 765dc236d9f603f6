// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret keeps credentials such as the Discord bot token out of
// the Go heap.
//
// A Buffer is backed by an anonymous mmap region that is excluded from
// core dumps and, where the process is permitted, locked against swap.
// Close zeroes the region before unmapping it. The token is copied into
// a Go string only at the point it is placed in an HTTP header or a
// gateway IDENTIFY payload.
package secret
