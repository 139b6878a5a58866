package gateway

import (
	"context"
	"time"
)

func (m *Manager) reaperLoop() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.ReaperInterval())
	defer t.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-t.C:
			m.ReapOnce(context.Background())
		}
	}
}

// ReapOnce dissolves every instance whose idle time exceeds the configured
// timeout, one instance at a time so no lock spans more than one dissolve.
// A failure on one instance is logged and the sweep moves on to the next.
func (m *Manager) ReapOnce(ctx context.Context) int {
	now := m.now()
	timeout := m.cfg.IdleTimeout()
	reaped := 0
	for _, id := range m.InstanceIDs() {
		inst, ok := m.Instance(id)
		if !ok {
			continue
		}
		if now.Sub(inst.LastActivity()) <= timeout {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Printf("reaper: dissolve %s panicked: %v", id, r)
				}
			}()
			if err := m.DissolveInstance(ctx, id, "idle"); err != nil {
				m.logger.Printf("reaper: dissolve %s: %v", id, err)
				return
			}
			reaped++
		}()
	}
	return reaped
}
