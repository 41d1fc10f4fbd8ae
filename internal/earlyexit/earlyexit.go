// Package earlyexit provides the process-wide cancellation flag that every
// worker checks at the top of each loop iteration, and the signal-handler
// wiring that sets it.
package earlyexit

import (
	"os"
	"os/signal"
	"sync/atomic"
)

// Flag is a process-wide boolean set by the interrupt handler and by the
// controller on teardown. It is safe for concurrent use.
type Flag struct {
	set atomic.Bool
}

// New returns an unset Flag.
func New() *Flag {
	return &Flag{}
}

// Set marks the flag as triggered. Idempotent.
func (f *Flag) Set() {
	f.set.Store(true)
}

// IsSet reports whether the flag has been triggered.
func (f *Flag) IsSet() bool {
	return f.set.Load()
}

// NotifyOnSignal spawns a goroutine that sets f the first time one of sigs
// arrives, and returns a stop function that releases the underlying signal
// notification.
func NotifyOnSignal(f *Flag, sigs ...os.Signal) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	done := make(chan struct{})
	go func() {
		select {
		case <-ch:
			f.Set()
		case <-done:
		}
	}()

	return func() {
		close(done)
		signal.Stop(ch)
	}
}
