package strategy

import "sync/atomic"

// CancelFlag is the shutdown request shared between the interrupt handler
// and the engine. It is set once and never cleared.
type CancelFlag struct {
	v atomic.Bool
}

// Set is idempotent and safe from any goroutine.
func (f *CancelFlag) Set() { f.v.Store(true) }

func (f *CancelFlag) IsSet() bool {
	if f == nil {
		return false
	}
	return f.v.Load()
}
