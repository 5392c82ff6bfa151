// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workstream

import (
	"context"
	"slices"
	"time"

	"github.com/bureau-foundation/vex/lib/protocol"
)

// Reconcile brings the registry in line with tmux. A workstream whose
// session is gone becomes Stopped and its running agents Exited; an
// agent whose window is gone becomes Exited.
func (m *Manager) Reconcile() {
	type probe struct {
		workstreamID string
		session      string
	}
	m.mu.Lock()
	var probes []probe
	for _, repo := range m.state.repos {
		for _, workstream := range repo.Workstreams {
			if workstream.Status != protocol.WorkstreamStopped {
				probes = append(probes, probe{workstream.ID, workstream.TmuxSession})
			}
		}
	}
	m.mu.Unlock()

	if len(probes) == 0 {
		return
	}

	// nil windows means the session is gone.
	windows := make(map[string][]int, len(probes))
	for _, p := range probes {
		if !m.tmux.HasSession(p.session) {
			windows[p.workstreamID] = nil
			continue
		}
		indexes, err := m.tmux.ListWindows(p.session)
		if err != nil {
			m.logger.Warn("listing tmux windows", "workstream", p.workstreamID, "error", err)
			continue
		}
		if indexes == nil {
			indexes = []int{}
		}
		windows[p.workstreamID] = indexes
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	for workstreamID, alive := range windows {
		_, workstream := m.state.workstream(workstreamID)
		if workstream == nil || workstream.Status == protocol.WorkstreamStopped {
			continue
		}
		before := cloneWorkstream(*workstream)
		for i := range workstream.Agents {
			agent := &workstream.Agents[i]
			if alive == nil || !slices.Contains(alive, agent.TmuxWindow) {
				m.markExited(agent)
			}
		}
		if alive == nil {
			workstream.Status = protocol.WorkstreamStopped
			m.logger.Info("workstream session gone", "workstream", workstreamID)
		} else {
			refreshStatus(workstream)
		}
		if !workstreamEqual(before, *workstream) {
			changed = true
		}
	}
	if changed {
		m.persistOrLog()
	}
}

func workstreamEqual(a, b protocol.Workstream) bool {
	if a.Status != b.Status || len(a.Agents) != len(b.Agents) {
		return false
	}
	for i := range a.Agents {
		if a.Agents[i].Status != b.Agents[i].Status {
			return false
		}
	}
	return true
}

// Watch calls Reconcile every interval until ctx is done.
func (m *Manager) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Reconcile()
		}
	}
}
