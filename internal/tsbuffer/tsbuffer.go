// Package tsbuffer implements the shared, mutation-protected sequence of
// (start, end) timestamp pairs that workers append to and the measurement
// loop drains once per window.
package tsbuffer

import (
	"sync"

	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// Buffer is safe for concurrent Append from many workers and concurrent
// Drain from the controller. No ordering is guaranteed among appended
// pairs.
type Buffer struct {
	mu    sync.Mutex
	pairs []model.TimestampPair
}

// New returns an empty Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Append pushes one pair. Constant amortized time.
func (b *Buffer) Append(p model.TimestampPair) {
	b.mu.Lock()
	b.pairs = append(b.pairs, p)
	b.mu.Unlock()
}

// Drain swaps out the internal storage and returns the previous contents,
// leaving the buffer empty. The caller owns the returned slice outright;
// Drain never copies entries.
func (b *Buffer) Drain() []model.TimestampPair {
	b.mu.Lock()
	out := b.pairs
	b.pairs = nil
	b.mu.Unlock()
	return out
}

// Len reports the number of pairs currently buffered. Intended for tests
// and metrics; racy with concurrent Append/Drain by design (a point-in-time
// read, not a synchronization primitive).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pairs)
}
