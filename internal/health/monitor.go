// Package health implements the heartbeat / failure-detection state machine.
// Every node emits heartbeats for itself and evaluates every other node's
// heartbeat age; the resulting status walk is strictly one-way
// (ONLINE -> DEGRADED -> OFFLINE) until a fresh heartbeat resets it.
package health

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/bus"
	"github.com/polyservers/meshhub/internal/store"
)

// EventSink receives node-status transition events. *bus.Bus satisfies it.
type EventSink interface {
	Publish(subject string, v any) error
}

// Monitor owns both heartbeat duties of one node.
type Monitor struct {
	store     *store.Store
	events    EventSink // may be nil
	selfID    string
	timeout   time.Duration
	threshold int
	log       *zap.Logger
	started   time.Time
}

// NewMonitor creates a Monitor for the local node selfID. A node whose
// heartbeat is older than timeout accrues one failure per detect pass and is
// marked DEGRADED at threshold-1 failures, OFFLINE at threshold.
func NewMonitor(st *store.Store, events EventSink, selfID string, timeout time.Duration, threshold int, log *zap.Logger) *Monitor {
	return &Monitor{
		store:     st,
		events:    events,
		selfID:    selfID,
		timeout:   timeout,
		threshold: threshold,
		log:       log,
		started:   time.Now(),
	}
}

// Emit upserts the local node's health row: ONLINE, fresh timestamp, the
// supplied player count, and best-effort runtime metrics. The failure
// counter is reset by the upsert.
func (m *Monitor) Emit(currentPlayers int) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	now := time.Now()
	return m.store.UpsertHeartbeat(&store.NodeHealth{
		NodeID:         m.selfID,
		LastHeartbeat:  &now,
		CurrentPlayers: currentPlayers,
		MemoryUsedMB:   mem.Alloc / 1024 / 1024,
		Goroutines:     runtime.NumGoroutine(),
		UptimeSeconds:  int64(time.Since(m.started).Seconds()),
	})
}

// Detect evaluates every other node's heartbeat age. Nodes already OFFLINE
// are excluded; nothing here ever moves a node back toward ONLINE. A store
// error aborts the pass without touching any node: a node may only go
// offline because of an actually-stale timestamp, never because of a
// monitor-side failure.
func (m *Monitor) Detect() error {
	cutoff := time.Now().Add(-m.timeout)
	stale, err := m.store.StaleHealth(m.selfID, cutoff)
	if err != nil {
		return err
	}

	for i := range stale {
		h := &stale[i]
		h.ConsecutiveFailures++

		prev := h.Status
		switch {
		case h.ConsecutiveFailures >= m.threshold:
			h.Status = store.StatusOffline
		case h.ConsecutiveFailures >= m.threshold-1:
			h.Status = store.StatusDegraded
		}

		if err := m.store.SaveHealth(h); err != nil {
			m.log.Warn("failed to persist failure count",
				zap.String("node", h.NodeID), zap.Error(err))
			continue
		}

		if h.Status != prev {
			m.log.Warn("node missed heartbeats",
				zap.String("node", h.NodeID),
				zap.String("status", string(h.Status)),
				zap.Int("failures", h.ConsecutiveFailures))
			m.announce(h.NodeID, h.Status)
		}
	}
	return nil
}

// MarkOffline is the graceful-shutdown path: the local node declares itself
// OFFLINE instead of waiting to be detected.
func (m *Monitor) MarkOffline() error {
	if err := m.store.MarkOffline(m.selfID); err != nil {
		return err
	}
	m.announce(m.selfID, store.StatusOffline)
	return nil
}

func (m *Monitor) announce(nodeID string, status store.Status) {
	if m.events == nil {
		return
	}
	err := m.events.Publish(bus.SubjectNodeStatus, bus.NodeStatusEvent{
		NodeID:     nodeID,
		Status:     string(status),
		ObservedBy: m.selfID,
		Timestamp:  time.Now(),
	})
	if err != nil {
		m.log.Warn("failed to publish node status", zap.Error(err))
	}
}
