package runner

import "sync/atomic"

// Signal is a single-shot cancel request for one job iteration.
// The zero value and a nil *Signal never cancel.
type Signal struct {
	fired    atomic.Bool
	consumed atomic.Bool
}

func NewSignal() *Signal {
	return &Signal{}
}

// Fire requests cancellation. Firing again, or after the job ended, is a no-op.
func (s *Signal) Fire() {
	if s == nil {
		return
	}
	s.fired.Store(true)
}

// Fired reports whether Fire was ever called.
func (s *Signal) Fired() bool {
	return s != nil && s.fired.Load()
}

// take consumes a pending cancel request, it reports true at most once.
func (s *Signal) take() bool {
	return s.Fired() && s.consumed.CompareAndSwap(false, true)
}
