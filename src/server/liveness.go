package server

import (
	"context"
	"time"

	"trading-hub/src/logger"

	"github.com/jonboulle/clockwork"
)

// -----------------------------------------------------------------------------
// LivenessMonitor
// -----------------------------------------------------------------------------

// LivenessMonitor reaps connections that stay silent for a whole interval.
// Each cycle closes connections still unconfirmed from the previous cycle,
// then marks the rest unconfirmed and probes them. Any inbound traffic,
// including a pong, confirms a connection again.
type LivenessMonitor struct {
	hub      *Hub
	interval time.Duration
	clock    clockwork.Clock
	Logger   *logger.Logger
}

// -----------------------------------------------------------------------------

func NewLivenessMonitor(hub *Hub, interval time.Duration, log *logger.Logger) *LivenessMonitor {
	return &LivenessMonitor{
		hub:      hub,
		interval: interval,
		clock:    hub.clock,
		Logger:   log,
	}
}

// -----------------------------------------------------------------------------

// Run cycles every interval until ctx is done.
func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.Logger.Info("Liveness monitor started (interval %v)", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.Logger.Info("Liveness monitor stopped")
			return
		case <-ticker.Chan():
			m.RunCycle()
		}
	}
}

// -----------------------------------------------------------------------------

// RunCycle performs one reap-and-probe pass and returns how many connections
// were reaped.
func (m *LivenessMonitor) RunCycle() int {
	reaped := 0
	for _, c := range m.hub.registry.Snapshot() {
		if !c.Alive() {
			if m.hub.disconnect(c, "liveness timeout") {
				m.hub.metrics.ConnectionsReaped.Inc()
				reaped++
			}
			continue
		}
		c.markUnconfirmed()
		c.Probe()
	}

	if reaped > 0 {
		m.Logger.Info("Reaped %d unresponsive connections, %d remain", reaped, m.hub.registry.Count())
	}
	return reaped
}
