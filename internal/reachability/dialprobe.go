package reachability

import (
	"fmt"
	"net"
	"sync"
	"time"
)

const (
	defaultDialTimeout  = 3 * time.Second
	defaultPollInterval = 15 * time.Second
	defaultProbePort    = "443"
)

// DialProber builds probes that classify reachability by opening a TCP
// connection to the host. Metered marks successful checks as constrained;
// the process cannot observe link metering itself, so deployments on a
// cellular/metered uplink declare it via configuration.
type DialProber struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Port         string
	Metered      bool
}

func (p *DialProber) Probe(host string) (Probe, error) {
	if host == "" {
		return nil, fmt.Errorf("reachability: empty host")
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}

	interval := p.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	port := p.Port
	if port == "" {
		port = defaultProbePort
	}

	return &dialProbe{
		addr:     net.JoinHostPort(host, port),
		timeout:  timeout,
		interval: interval,
		metered:  p.Metered,
		done:     make(chan struct{}),
	}, nil
}

type dialProbe struct {
	addr     string
	timeout  time.Duration
	interval time.Duration
	metered  bool

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

func (p *dialProbe) CurrentStatus() Status {
	conn, err := net.DialTimeout("tcp", p.addr, p.timeout)
	if err != nil {
		return StatusUnreachable
	}

	conn.Close()

	if p.metered {
		return StatusConstrained
	}

	return StatusReachable
}

func (p *dialProbe) Activate(onReachable func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	go p.watch(onReachable)

	return true
}

func (p *dialProbe) watch(onReachable func()) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			if p.CurrentStatus() != StatusUnreachable {
				onReachable()

				return
			}
		}
	}
}

// Invalidate stops any pending watch. Safe to call more than once.
func (p *dialProbe) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.closed = true
		close(p.done)
	}
}
