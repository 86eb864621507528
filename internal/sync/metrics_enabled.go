//go:build sftp.sync.metrics

package sync

import (
	"sync/atomic"
)

// metrics counts how often a pool could serve a Get,
// and how many items a Put had to discard.
type metrics struct {
	hits   atomic.Uint64
	misses atomic.Uint64
	drops  atomic.Uint64
}

func (m *metrics) hit()  { m.hits.Add(1) }
func (m *metrics) miss() { m.misses.Add(1) }
func (m *metrics) drop() { m.drops.Add(1) }

// Hits returns a snapshot of the number of Gets served from the pool, out of all Gets.
func (m *metrics) Hits() (hits, total uint64) {
	hits = m.hits.Load()
	return hits, hits + m.misses.Load()
}

// Drops returns a snapshot of the number of items discarded by Put,
// because the pool was full, or the item was oversized.
func (m *metrics) Drops() uint64 {
	return m.drops.Load()
}
