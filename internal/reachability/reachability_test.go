package reachability

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProbe struct {
	status      Status
	activateOK  bool
	onReachable func()

	mu          sync.Mutex
	invalidated int
}

func (p *stubProbe) CurrentStatus() Status {
	return p.status
}

func (p *stubProbe) Activate(onReachable func()) bool {
	if !p.activateOK {
		return false
	}

	p.onReachable = onReachable

	return true
}

func (p *stubProbe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.invalidated++
}

func (p *stubProbe) invalidations() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.invalidated
}

type stubProber struct {
	probes []*stubProbe
	err    error
	next   *stubProbe
}

func (p *stubProber) Probe(host string) (Probe, error) {
	if p.err != nil {
		return nil, p.err
	}

	probe := p.next
	if probe == nil {
		probe = &stubProbe{status: StatusUnreachable, activateOK: true}
	}

	p.probes = append(p.probes, probe)

	return probe, nil
}

func TestGate_CheckReleasesProbeWhenReachable(t *testing.T) {
	prober := &stubProber{next: &stubProbe{status: StatusReachable, activateOK: true}}
	gate := NewGate(prober)

	status := gate.Check("cdn.example.com")

	assert.Equal(t, StatusReachable, status)
	require.Len(t, prober.probes, 1)
	assert.Equal(t, 1, prober.probes[0].invalidations())

	// Nothing retained, so there is nothing to arm.
	assert.False(t, gate.OnBecameReachable(func() {}))
}

func TestGate_CheckRetainsProbeWhenNotReachable(t *testing.T) {
	prober := &stubProber{next: &stubProbe{status: StatusUnreachable, activateOK: true}}
	gate := NewGate(prober)

	status := gate.Check("cdn.example.com")

	assert.Equal(t, StatusUnreachable, status)
	require.Len(t, prober.probes, 1)
	assert.Zero(t, prober.probes[0].invalidations())
}

func TestGate_ProbeConstructionFailureIsUnknown(t *testing.T) {
	gate := NewGate(&stubProber{err: errors.New("no such host")})

	assert.Equal(t, StatusUnknown, gate.Check(""))
	assert.False(t, gate.OnBecameReachable(func() {}))
}

func TestGate_ReplacementInvalidatesPreviousProbe(t *testing.T) {
	first := &stubProbe{status: StatusConstrained, activateOK: true}
	prober := &stubProber{next: first}
	gate := NewGate(prober)

	gate.Check("cdn.example.com")

	prober.next = &stubProbe{status: StatusUnreachable, activateOK: true}
	gate.Check("cdn.example.com")

	assert.Equal(t, 1, first.invalidations())
	require.Len(t, prober.probes, 2)
	assert.Zero(t, prober.probes[1].invalidations())
}

func TestGate_CallbackFiresOnceAndReleases(t *testing.T) {
	probe := &stubProbe{status: StatusUnreachable, activateOK: true}
	gate := NewGate(&stubProber{next: probe})

	gate.Check("cdn.example.com")

	fired := 0
	require.True(t, gate.OnBecameReachable(func() { fired++ }))
	require.NotNil(t, probe.onReachable)

	probe.onReachable()
	probe.onReachable()

	assert.Equal(t, 1, fired)
	// Firing released the probe.
	assert.GreaterOrEqual(t, probe.invalidations(), 1)
	assert.False(t, gate.OnBecameReachable(func() {}))
}

func TestGate_StaleWatchLeavesReplacementProbeAlone(t *testing.T) {
	first := &stubProbe{status: StatusUnreachable, activateOK: true}
	prober := &stubProber{next: first}
	gate := NewGate(prober)

	gate.Check("cdn.example.com")
	require.True(t, gate.OnBecameReachable(func() {}))

	second := &stubProbe{status: StatusUnreachable, activateOK: true}
	prober.next = second
	gate.Check("cdn.example.com")
	require.Equal(t, 1, first.invalidations())

	// The replaced probe's watch goroutine fires late; it must not tear
	// down the probe the newer Check installed.
	first.onReachable()
	assert.Zero(t, second.invalidations())

	// The gate still owns the replacement.
	gate.Release()
	assert.Equal(t, 1, second.invalidations())
}

func TestGate_ArmFailureReleasesState(t *testing.T) {
	probe := &stubProbe{status: StatusUnreachable, activateOK: false}
	gate := NewGate(&stubProber{next: probe})

	gate.Check("cdn.example.com")

	assert.False(t, gate.OnBecameReachable(func() {}))
	assert.Equal(t, 1, probe.invalidations())
}

func TestGate_ReleaseIsIdempotent(t *testing.T) {
	probe := &stubProbe{status: StatusUnreachable, activateOK: true}
	gate := NewGate(&stubProber{next: probe})

	gate.Check("cdn.example.com")

	gate.Release()
	gate.Release()

	// The probe was invalidated exactly once; the second release found
	// nothing to drop.
	assert.Equal(t, 1, probe.invalidations())
}

func TestGate_ReleaseWithoutProbeIsNoOp(t *testing.T) {
	gate := NewGate(&stubProber{})

	assert.NotPanics(t, func() {
		gate.Release()
		gate.Release()
	})
}
