package gateway

import (
	"time"

	"delvecraft.io/internal/sim/dungeon"
)

func (m *Manager) resetLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.ResetSweepInterval())
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.ResetSweepOnce()
		}
	}
}

// ResetSweepOnce re-arms gateway directions whose join window has elapsed,
// each with the configured probability. A direction that loses the roll
// keeps leading into its old instance until a later sweep.
func (m *Manager) ResetSweepOnce() int {
	now := m.now()
	reset := 0
	m.mu.Lock()
	for _, d := range dungeon.Directions {
		b := m.bindings[d]
		if b.instanceID == "" || now.Before(b.boundUntil) {
			continue
		}
		if m.rng.Float64() >= m.cfg.GatewayResetProbability {
			continue
		}
		m.bindings[d] = binding{}
		reset++
	}
	m.mu.Unlock()
	return reset
}
