package workerpool

import "sync/atomic"

// Status is one worker's error slot. A nil stored error means the worker is
// healthy. Workers write to their own slot exactly once (on fatal error,
// just before exiting); the controller only reads.
type Status struct {
	err atomic.Pointer[error]
}

// SetErr records a fatal error for this worker. Only the owning worker may
// call this.
func (s *Status) SetErr(err error) {
	s.err.Store(&err)
}

// Err returns the recorded error, or nil if the worker is healthy.
func (s *Status) Err() error {
	p := s.err.Load()
	if p == nil {
		return nil
	}
	return *p
}

// OK reports whether the worker is free of a fatal error.
func (s *Status) OK() bool {
	return s.Err() == nil
}
