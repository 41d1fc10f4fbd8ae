package workerpool

import (
	"sync"

	"github.com/cloud-gpu-shopper/inferload/pkg/model"
)

// StatSet is the shared array of per-worker ContextStat snapshots described
// in spec §3/§5: each worker overwrites only its own slot; the summarizer
// reads a snapshot summed across all slots under the same mutex.
type StatSet struct {
	mu    sync.Mutex
	slots []model.ContextStat
}

// NewStatSet returns a StatSet with n zeroed slots.
func NewStatSet(n int) *StatSet {
	return &StatSet{slots: make([]model.ContextStat, n)}
}

// Grow extends the slot array to n entries if it is currently smaller,
// used when the synchronous pool spawns additional workers.
func (s *StatSet) Grow(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= len(s.slots) {
		return
	}
	grown := make([]model.ContextStat, n)
	copy(grown, s.slots)
	s.slots = grown
}

// Set overwrites slot i with the worker's current cumulative stats.
func (s *StatSet) Set(i int, stat model.ContextStat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i >= len(s.slots) {
		grown := make([]model.ContextStat, i+1)
		copy(grown, s.slots)
		s.slots = grown
	}
	s.slots[i] = stat
}

// Snapshot returns the sum of every slot.
func (s *StatSet) Snapshot() model.ContextStat {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total model.ContextStat
	for _, st := range s.slots {
		total = total.Add(st)
	}
	return total
}
