package connectivity

import (
	"context"
	"log"
	"sync/atomic"
	"time"
)

// Probe checks reachability of the coordination service. A nil error means
// online.
type Probe func(ctx context.Context) error

// Monitor tracks binary online/offline state. It is advisory: collaborators
// read it for display and drain triggering, but the sync engine still
// handles mid-drain failures on its own.
type Monitor struct {
	probe    Probe
	interval time.Duration
	online   atomic.Bool
	onOnline func()
}

// NewMonitor creates a monitor. onOnline fires exactly once per
// offline-to-online transition.
func NewMonitor(probe Probe, interval time.Duration, onOnline func()) *Monitor {
	return &Monitor{
		probe:    probe,
		interval: interval,
		onOnline: onOnline,
	}
}

// Online returns the last observed state.
func (m *Monitor) Online() bool {
	return m.online.Load()
}

// SetOnline records a state reported by the host environment (radio state
// change, airplane mode). Transitions fire the same callback as probes.
func (m *Monitor) SetOnline(online bool) {
	was := m.online.Swap(online)
	if online && !was {
		log.Println("Connectivity restored (host signal).")
		if m.onOnline != nil {
			m.onOnline()
		}
	}
	if !online && was {
		log.Println("Connectivity lost (host signal).")
	}
}

// Run probes reachability until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Println("Connectivity monitor started.")

	m.checkOnce(ctx)

	timer := time.NewTimer(m.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Connectivity monitor shutting down.")
			return
		case <-timer.C:
			m.checkOnce(ctx)
			timer.Reset(m.interval)
		}
	}
}

// CheckOnce performs a single probe. Exposed for tests.
func (m *Monitor) CheckOnce(ctx context.Context) {
	m.checkOnce(ctx)
}

func (m *Monitor) checkOnce(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	err := m.probe(probeCtx)
	now := err == nil
	was := m.online.Swap(now)
	switch {
	case now && !was:
		log.Println("Connectivity restored.")
		if m.onOnline != nil {
			m.onOnline()
		}
	case !now && was:
		log.Printf("Connectivity lost: %v", err)
	}
}
