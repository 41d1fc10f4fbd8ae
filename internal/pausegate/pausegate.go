// Package pausegate implements the shared pause_index / wake condition pair
// that lets the controller raise or lower effective concurrency without
// tearing down workers.
package pausegate

import "sync"

// Gate coordinates a fixed pool of indexed workers: workers whose index is
// below the current active count run; the rest suspend on Wait.
//
// The mutex is shared between SetActiveCount's write and Wait's predicate
// check specifically so a worker can never observe a stale pause_index and
// then miss the broadcast that would have woken it — the setter writes
// pause_index under the lock Wait holds while checking its predicate, and
// broadcasts after releasing it.
type Gate struct {
	mu         sync.Mutex
	cond       *sync.Cond
	activeCount int
}

// New returns a Gate with pause_index initialized to 0 (all workers
// suspended).
func New() *Gate {
	g := &Gate{}
	g.cond = sync.NewCond(&g.mu)
	return g
}

// SetActiveCount raises or lowers the number of active workers and wakes
// everyone who might need to reevaluate their run/suspend state.
func (g *Gate) SetActiveCount(n int) {
	g.mu.Lock()
	g.activeCount = n
	g.mu.Unlock()
	g.cond.Broadcast()
}

// ActiveCount returns the current pause_index.
func (g *Gate) ActiveCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.activeCount
}

// Wait blocks the calling worker (identified by selfIndex) until
// selfIndex < pause_index, i.e. until the worker becomes active. If the
// worker is already active, Wait returns immediately.
func (g *Gate) Wait(selfIndex int) {
	g.mu.Lock()
	for selfIndex >= g.activeCount {
		g.cond.Wait()
	}
	g.mu.Unlock()
}

// IsActive reports whether selfIndex is currently below pause_index,
// without blocking.
func (g *Gate) IsActive(selfIndex int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return selfIndex < g.activeCount
}

// ReleaseAll sets pause_index strictly above any valid worker index and
// wakes every suspended worker, used at teardown so all of them observe
// early-exit and return.
func (g *Gate) ReleaseAll(workerCount int) {
	g.SetActiveCount(workerCount + 1)
}
