package reachability

import (
	"sync"
)

// Status classifies live connectivity towards a host.
type Status int

const (
	StatusUnknown Status = iota
	StatusUnreachable
	// StatusConstrained means reachable over a metered/cellular link.
	StatusConstrained
	StatusReachable
)

func (s Status) String() string {
	switch s {
	case StatusUnreachable:
		return "unreachable"
	case StatusConstrained:
		return "constrained"
	case StatusReachable:
		return "reachable"
	default:
		return "unknown"
	}
}

// Probe is a live reachability watcher for a single host.
type Probe interface {
	// CurrentStatus performs a bounded synchronous check.
	CurrentStatus() Status
	// Activate installs a listener that fires once the host becomes
	// reachable. It returns false when the listener cannot be installed.
	// The listener must never be invoked from within Activate itself.
	Activate(onReachable func()) bool
	// Invalidate stops the probe. It must be idempotent.
	Invalidate()
}

// Prober creates probes. Construction fails for hosts that cannot be probed
// at all (e.g. an empty host); callers treat that as unknown reachability.
type Prober interface {
	Probe(host string) (Probe, error)
}

// Gate wraps a single host-reachability probe. It owns the probe lifecycle:
// at most one live probe exists per Gate, a replacement always invalidates
// the previous one first, and the armed became-reachable callback fires at
// most once.
type Gate struct {
	prober Prober

	mu    sync.Mutex
	probe Probe
}

func NewGate(prober Prober) *Gate {
	return &Gate{prober: prober}
}

// Check probes the host and reports its current status. When the host is not
// plainly reachable the gate retains the probe so a became-reachable watch
// can be armed; when it is reachable the probe is released immediately.
func (g *Gate) Check(host string) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.releaseLocked()

	probe, err := g.prober.Probe(host)
	if err != nil {
		return StatusUnknown
	}

	status := probe.CurrentStatus()
	if status == StatusReachable {
		probe.Invalidate()

		return status
	}

	g.probe = probe

	return status
}

// OnBecameReachable arms the retained probe with a callback that fires at
// most once, after which the probe is released. It reports whether a watch
// was armed; on an arming failure the gate releases its state so callers
// treat the host as unreachable rather than silently assuming reachable.
func (g *Gate) OnBecameReachable(callback func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.probe == nil {
		return false
	}

	// A later Check may replace the probe before this watch fires; the fire
	// path must only tear down the probe it was armed on, never a successor.
	armed := g.probe

	var once sync.Once
	fire := func() {
		once.Do(func() {
			g.mu.Lock()
			if g.probe == armed {
				g.releaseLocked()
			}
			g.mu.Unlock()

			callback()
		})
	}

	if !g.probe.Activate(fire) {
		g.releaseLocked()

		return false
	}

	return true
}

// Release invalidates and drops the current probe. Idempotent.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.releaseLocked()
}

func (g *Gate) releaseLocked() {
	if g.probe != nil {
		g.probe.Invalidate()
		g.probe = nil
	}
}
