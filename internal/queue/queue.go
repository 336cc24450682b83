// Package queue implements per-node admission waitlists for full nodes.
// Each node's queue is an independent shard with its own lock, ordered by
// priority (highest first) then enqueue time (earliest first). The durable
// store mirrors every entry; the in-memory structure drives draining.
package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/registry"
	"github.com/polyservers/meshhub/internal/store"
	"github.com/polyservers/meshhub/internal/tracking"
	"github.com/polyservers/meshhub/internal/transfer"
)

// JoinResult tells the caller what became of a join request.
type JoinResult int

const (
	// Queued means the player was added to (or refreshed in) the waitlist.
	Queued JoinResult = iota
	// TransferNow means the node has free capacity: the admission queue is
	// for full nodes only, and the caller should transfer immediately.
	TransferNow
	// RejectedFull means the waitlist itself is at its size limit.
	RejectedFull
	// UnknownNode means the target node is not registered; the request is a
	// logged no-op.
	UnknownNode
)

// Entry is one waiting player.
type Entry struct {
	PlayerID   uuid.UUID
	PlayerName string
	Priority   int
	JoinedAt   time.Time
	Notified   bool
}

// Manager owns every node's admission queue on this node.
type Manager struct {
	store        *store.Store
	registry     *registry.Registry
	tracker      *tracking.Tracker
	orchestrator *transfer.Orchestrator
	log          *zap.Logger

	maxSize          int
	requeueOnFailure bool

	mu     sync.RWMutex // guards the shard map, not the shards
	shards map[string]*nodeQueue
}

// NewManager creates a queue Manager. requeueOnFailure selects the drain
// policy: false (default) pops are at-most-once — an entry whose transfer
// fails is not re-queued; true re-inserts it with its original enqueue time.
func NewManager(st *store.Store, reg *registry.Registry, tr *tracking.Tracker,
	orch *transfer.Orchestrator, maxSize int, requeueOnFailure bool, log *zap.Logger) *Manager {
	return &Manager{
		store:            st,
		registry:         reg,
		tracker:          tr,
		orchestrator:     orch,
		log:              log,
		maxSize:          maxSize,
		requeueOnFailure: requeueOnFailure,
		shards:           make(map[string]*nodeQueue),
	}
}

// Restore rebuilds the in-memory shards from the durable mirror so queued
// players keep their positions across a restart.
func (m *Manager) Restore() error {
	rows, err := m.store.ListQueueEntries()
	if err != nil {
		return err
	}
	for _, row := range rows {
		m.shard(row.NodeID).insert(Entry{
			PlayerID:   row.PlayerID,
			PlayerName: row.PlayerName,
			Priority:   row.Priority,
			JoinedAt:   row.JoinedAt,
			Notified:   row.Notified,
		})
	}
	if len(rows) > 0 {
		m.log.Info("restored queued players", zap.Int("count", len(rows)))
	}
	return nil
}

// Join asks to enter nodeID's waitlist.
func (m *Manager) Join(playerID uuid.UUID, playerName, nodeID string, priority int) (JoinResult, error) {
	node, ok := m.registry.GetByID(nodeID)
	if !ok {
		m.log.Warn("join request for unknown node", zap.String("node", nodeID))
		return UnknownNode, nil
	}

	if node.HasCapacity() {
		return TransferNow, nil
	}

	q := m.shard(nodeID)
	if q.size() >= m.maxSize {
		m.log.Info("waitlist full",
			zap.String("node", nodeID), zap.String("player", playerName))
		return RejectedFull, nil
	}

	e := Entry{
		PlayerID:   playerID,
		PlayerName: playerName,
		Priority:   priority,
		JoinedAt:   time.Now(),
	}
	err := m.store.UpsertQueueEntry(&store.QueueEntry{
		NodeID:     nodeID,
		PlayerID:   playerID,
		PlayerName: playerName,
		Priority:   priority,
		JoinedAt:   e.JoinedAt,
	})
	if err != nil {
		return Queued, err
	}
	q.insert(e)

	m.log.Info("player queued",
		zap.String("node", nodeID), zap.String("player", playerName),
		zap.Int("priority", priority), zap.Int("position", q.position(playerID)))
	return Queued, nil
}

// Leave removes the player from nodeID's waitlist. Absence is a no-op.
func (m *Manager) Leave(playerID uuid.UUID, nodeID string) error {
	m.shard(nodeID).remove(playerID)
	return m.store.DeleteQueueEntry(nodeID, playerID)
}

// Position returns the player's 1-based position in nodeID's waitlist,
// recomputed on every call so it reflects concurrent joins and leaves.
// Returns 0 if the player is not queued there.
func (m *Manager) Position(playerID uuid.UUID, nodeID string) int {
	return m.shard(nodeID).position(playerID)
}

// Size returns the current length of nodeID's waitlist.
func (m *Manager) Size(nodeID string) int {
	return m.shard(nodeID).size()
}

// Backlog returns the durable length of nodeID's waitlist, the figure the
// admin surface reports: it survives restarts and reflects rows written by
// other coordinators sharing the store.
func (m *Manager) Backlog(nodeID string) (int, error) {
	return m.store.QueueSize(nodeID)
}

// Waiting returns nodeID's durable waitlist in serving order.
func (m *Manager) Waiting(nodeID string) ([]Entry, error) {
	rows, err := m.store.QueueEntries(nodeID)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			PlayerID:   row.PlayerID,
			PlayerName: row.PlayerName,
			Priority:   row.Priority,
			JoinedAt:   row.JoinedAt,
			Notified:   row.Notified,
		})
	}
	return entries, nil
}

// MarkNotified records that the player has been told their position in
// nodeID's waitlist, so operators can tell silent waiters apart.
func (m *Manager) MarkNotified(playerID uuid.UUID, nodeID string) error {
	return m.store.SetQueueNotified(nodeID, playerID)
}

// Drain serves every non-empty waitlist against its node's live capacity.
// Each node admits at most maxCapacity - currentPlayers players, measured
// once at the start of its pass. Players no longer online anywhere are
// silently dropped.
func (m *Manager) Drain(ctx context.Context) {
	for nodeID, q := range m.snapshot() {
		if q.size() == 0 {
			continue
		}
		m.drainNode(ctx, nodeID, q)
	}
}

func (m *Manager) drainNode(ctx context.Context, nodeID string, q *nodeQueue) {
	node, ok := m.registry.GetByID(nodeID)
	if !ok {
		return
	}
	free := node.FreeSlots()
	if free <= 0 {
		return
	}

	for _, e := range q.popN(free) {
		if !m.tracker.IsOnline(e.PlayerID) {
			if err := m.store.DeleteQueueEntriesForPlayer(e.PlayerID); err != nil {
				m.log.Warn("failed to drop offline player's queue rows",
					zap.String("player", e.PlayerName), zap.Error(err))
			}
			continue
		}

		// The durable row is removed when the slot is handed out, before
		// the transfer outcome is known: admission is best-effort once per
		// drain cycle unless requeue-on-failure is configured.
		if err := m.store.DeleteQueueEntry(nodeID, e.PlayerID); err != nil {
			m.log.Warn("failed to remove served queue row",
				zap.String("player", e.PlayerName), zap.Error(err))
		}

		m.log.Info("queue slot ready",
			zap.String("player", e.PlayerName), zap.String("node", nodeID))

		res := m.orchestrator.Transfer(ctx, transfer.Request{
			Player: transfer.Player{ID: e.PlayerID, Name: e.PlayerName},
			Dest:   node,
			Kind:   transfer.KindQueue,
			Reason: "admission queue",
		})
		if err := res.Wait(ctx); err != nil {
			m.log.Warn("queued transfer failed",
				zap.String("player", e.PlayerName),
				zap.String("node", nodeID), zap.Error(err))
			if m.requeueOnFailure {
				m.requeue(nodeID, e)
			}
		}
	}
}

func (m *Manager) requeue(nodeID string, e Entry) {
	err := m.store.UpsertQueueEntry(&store.QueueEntry{
		NodeID:     nodeID,
		PlayerID:   e.PlayerID,
		PlayerName: e.PlayerName,
		Priority:   e.Priority,
		JoinedAt:   e.JoinedAt, // keep the original position
	})
	if err != nil {
		m.log.Warn("failed to requeue entry",
			zap.String("player", e.PlayerName), zap.Error(err))
	}
	m.shard(nodeID).insert(e)
}

func (m *Manager) shard(nodeID string) *nodeQueue {
	m.mu.RLock()
	q, ok := m.shards[nodeID]
	m.mu.RUnlock()
	if ok {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok = m.shards[nodeID]; ok {
		return q
	}
	q = &nodeQueue{}
	m.shards[nodeID] = q
	return q
}

func (m *Manager) snapshot() map[string]*nodeQueue {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*nodeQueue, len(m.shards))
	for id, q := range m.shards {
		out[id] = q
	}
	return out
}

// nodeQueue is one node's waitlist: a slice kept sorted by (priority desc,
// joinedAt asc). Queues are small (bounded by max_size) so ordered insertion
// beats a heap for simplicity and gives stable positions for free.
type nodeQueue struct {
	mu      sync.Mutex
	entries []Entry
}

func before(a, b Entry) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.JoinedAt.Before(b.JoinedAt)
}

func (q *nodeQueue) insert(e Entry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	// A repeated join replaces the player's existing entry.
	q.removeLocked(e.PlayerID)
	i := sort.Search(len(q.entries), func(i int) bool {
		return before(e, q.entries[i])
	})
	q.entries = append(q.entries, Entry{})
	copy(q.entries[i+1:], q.entries[i:])
	q.entries[i] = e
}

func (q *nodeQueue) remove(playerID uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removeLocked(playerID)
}

func (q *nodeQueue) removeLocked(playerID uuid.UUID) {
	for i, e := range q.entries {
		if e.PlayerID == playerID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return
		}
	}
}

func (q *nodeQueue) position(playerID uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, e := range q.entries {
		if e.PlayerID == playerID {
			return i + 1
		}
	}
	return 0
}

func (q *nodeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *nodeQueue) popN(n int) []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n > len(q.entries) {
		n = len(q.entries)
	}
	popped := make([]Entry, n)
	copy(popped, q.entries[:n])
	q.entries = append([]Entry(nil), q.entries[n:]...)
	return popped
}
