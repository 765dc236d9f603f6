// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package meshcore

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultDedupWindow is how long a frame digest suppresses repeats.
const DefaultDedupWindow = 5 * time.Minute

type digest [32]byte

// dedupDomainKey separates frame digests from any other BLAKE3 use.
// ASCII "meshbridge.frame.dedup", zero-padded to 32 bytes.
var dedupDomainKey = [32]byte{
	'm', 'e', 's', 'h', 'b', 'r', 'i', 'd', 'g', 'e', '.', 'f', 'r', 'a', 'm', 'e',
	'.', 'd', 'e', 'd', 'u', 'p', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

func frameDigest(frame []byte) digest {
	hasher, err := blake3.NewKeyed(dedupDomainKey[:])
	if err != nil {
		panic("meshcore: blake3.NewKeyed failed with 32-byte key: " + err.Error())
	}
	hasher.Write(frame)
	var result digest
	copy(result[:], hasher.Sum(nil))
	return result
}

type seenFrame struct {
	digest digest
	at     time.Time
}

// dedupCache remembers frame digests for a sliding window. Entries
// are evicted in arrival order.
type dedupCache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[digest]time.Time
	order  []seenFrame
}

func newDedupCache(window time.Duration) *dedupCache {
	return &dedupCache{window: window, seen: make(map[digest]time.Time)}
}

// Observe records frame at now and reports whether it was already
// seen inside the window. A repeat refreshes nothing: the window runs
// from the first sighting.
func (c *dedupCache) Observe(frame []byte, now time.Time) (duplicate bool) {
	if c.window <= 0 {
		return false
	}
	key := frameDigest(frame)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.evict(now)
	if _, ok := c.seen[key]; ok {
		return true
	}
	c.seen[key] = now
	c.order = append(c.order, seenFrame{digest: key, at: now})
	return false
}

func (c *dedupCache) evict(now time.Time) {
	cutoff := now.Add(-c.window)
	evicted := 0
	for evicted < len(c.order) && !c.order[evicted].at.After(cutoff) {
		entry := c.order[evicted]
		if at, ok := c.seen[entry.digest]; ok && at.Equal(entry.at) {
			delete(c.seen, entry.digest)
		}
		evicted++
	}
	if evicted > 0 {
		c.order = append(c.order[:0], c.order[evicted:]...)
	}
}

func (c *dedupCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
