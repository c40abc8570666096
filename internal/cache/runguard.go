package cache

import "sync/atomic"

// RunGuard admits one queue preload run at a time. PreloadQueue does not
// deduplicate overlapping runs itself, and an overlapping run would claim a
// fresh removal budget, so every trigger that can start a run (ticker, REST,
// reachability resume) must contend on the same guard.
type RunGuard struct {
	running atomic.Bool
}

// TryBegin claims the guard, reporting false when a run is already in flight.
// A successful claim must be paired with End.
func (g *RunGuard) TryBegin() bool {
	return g.running.CompareAndSwap(false, true)
}

// End releases the guard for the next trigger.
func (g *RunGuard) End() {
	g.running.Store(false)
}
