// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meshcore

import (
	"testing"
	"time"
)

func TestDedupCacheWindow(t *testing.T) {
	start := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)
	cache := newDedupCache(5 * time.Minute)
	frame := channelTextV3(0, 1, "node7: battery low")

	if cache.Observe(frame, start) {
		t.Fatal("first sighting reported as duplicate")
	}
	if !cache.Observe(frame, start.Add(4*time.Minute)) {
		t.Error("repeat inside the window not reported as duplicate")
	}
	if cache.Observe(channelTextV3(0, 1, "node7: battery ok"), start.Add(4*time.Minute)) {
		t.Error("distinct frame reported as duplicate")
	}
	if cache.Observe(frame, start.Add(5*time.Minute)) {
		t.Error("repeat after the window reported as duplicate")
	}
	if got := cache.Len(); got != 2 {
		t.Errorf("Len = %d after eviction, want 2", got)
	}
}

func TestDedupCacheDisabled(t *testing.T) {
	cache := newDedupCache(-1)
	frame := []byte{pushSendConfirmed, 1, 2, 3, 4, 5, 6, 7, 8}
	now := time.Now()
	if cache.Observe(frame, now) || cache.Observe(frame, now) {
		t.Error("disabled cache reported a duplicate")
	}
}

func TestFrameDigestIsKeyed(t *testing.T) {
	a := frameDigest([]byte("frame"))
	if a != frameDigest([]byte("frame")) {
		t.Error("digest is not deterministic")
	}
	if a == frameDigest([]byte("frame2")) {
		t.Error("distinct inputs share a digest")
	}
}

func TestTruncateUTF8(t *testing.T) {
	for _, test := range []struct {
		text      string
		limit     int
		want      string
		truncated bool
	}{
		{"hello", 10, "hello", false},
		{"hello", 5, "hello", false},
		{"hello", 3, "hel", true},
		{"héllo", 2, "h", true},
		{"héllo", 3, "hé", true},
		{"日本", 4, "日", true},
	} {
		got, truncated := TruncateUTF8(test.text, test.limit)
		if got != test.want || truncated != test.truncated {
			t.Errorf("TruncateUTF8(%q, %d) = %q, %v; want %q, %v",
				test.text, test.limit, got, truncated, test.want, test.truncated)
		}
	}
}
