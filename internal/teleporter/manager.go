// Package teleporter implements world-position triggers that, after a
// stand-still countdown, hand the triggering player to the transfer
// orchestrator. Lookup is served from an in-memory cache keyed by block
// cell; cooldowns live in memory only and do not survive a restart.
package teleporter

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/cache"
	"github.com/polyservers/meshhub/internal/store"
)

// cacheTTL only bounds how long the lookup map survives without a Reload;
// mutations always refresh eagerly.
const cacheTTL = 5 * time.Minute

// Manager owns the local node's teleporters and per-player cooldowns.
type Manager struct {
	store  *store.Store
	selfID string
	log    *zap.Logger

	lookup *cache.Map[string, store.Teleporter]

	cooldownMu sync.Mutex
	cooldowns  map[uuid.UUID]map[uint]time.Time // teleporter row ID -> expiry

	now func() time.Time
}

// NewManager creates a Manager for teleporters placed on the local node.
// Call Reload before serving lookups.
func NewManager(st *store.Store, selfID string, log *zap.Logger) *Manager {
	return &Manager{
		store:     st,
		selfID:    selfID,
		log:       log,
		lookup:    cache.NewMap[string, store.Teleporter](cacheTTL),
		cooldowns: make(map[uuid.UUID]map[uint]time.Time),
		now:       time.Now,
	}
}

func cellKey(world string, x, y, z int) string {
	return fmt.Sprintf("%s:%d:%d:%d", world, x, y, z)
}

// Reload replaces the lookup cache from the store.
func (m *Manager) Reload() error {
	rows, err := m.store.TeleportersForNode(m.selfID)
	if err != nil {
		return err
	}
	byCell := make(map[string]store.Teleporter, len(rows))
	for _, t := range rows {
		byCell[cellKey(t.World, t.X, t.Y, t.Z)] = t
	}
	m.lookup.ReplaceAll(byCell)
	m.log.Info("loaded teleporters", zap.Int("count", len(rows)))
	return nil
}

// At returns the teleporter occupying the given block cell, if any.
func (m *Manager) At(world string, x, y, z int) (store.Teleporter, bool) {
	return m.lookup.GetStale(cellKey(world, x, y, z))
}

// All returns every cached teleporter on this node.
func (m *Manager) All() []store.Teleporter {
	return m.lookup.Values()
}

// Create registers a teleporter and refreshes the cache.
func (m *Manager) Create(t *store.Teleporter) error {
	t.NodeID = m.selfID
	t.Enabled = true
	if err := m.store.CreateTeleporter(t); err != nil {
		return err
	}
	m.log.Info("created teleporter",
		zap.String("world", t.World),
		zap.Int("x", t.X), zap.Int("y", t.Y), zap.Int("z", t.Z),
		zap.String("dest", t.DestinationNodeID))
	return m.Reload()
}

// Remove deletes the teleporter at the given cell and refreshes the cache.
func (m *Manager) Remove(world string, x, y, z int) error {
	affected, err := m.store.DeleteTeleporter(m.selfID, world, x, y, z)
	if err != nil {
		return err
	}
	if affected > 0 {
		m.log.Info("removed teleporter",
			zap.String("world", world), zap.Int("x", x), zap.Int("y", y), zap.Int("z", z))
	}
	return m.Reload()
}

// HasCooldown reports whether the (player, teleporter) pair is still cooling
// down. Pure read against the current clock.
func (m *Manager) HasCooldown(playerID uuid.UUID, teleporterID uint) bool {
	return m.RemainingCooldown(playerID, teleporterID) > 0
}

// RemainingCooldown returns how much cooldown is left, or zero.
func (m *Manager) RemainingCooldown(playerID uuid.UUID, teleporterID uint) time.Duration {
	m.cooldownMu.Lock()
	defer m.cooldownMu.Unlock()
	expiry, ok := m.cooldowns[playerID][teleporterID]
	if !ok {
		return 0
	}
	if remaining := expiry.Sub(m.now()); remaining > 0 {
		return remaining
	}
	return 0
}

// ApplyCooldown starts a cooldown for the (player, teleporter) pair.
func (m *Manager) ApplyCooldown(playerID uuid.UUID, teleporterID uint, d time.Duration) {
	if d <= 0 {
		return
	}
	m.cooldownMu.Lock()
	defer m.cooldownMu.Unlock()
	byTeleporter, ok := m.cooldowns[playerID]
	if !ok {
		byTeleporter = make(map[uint]time.Time)
		m.cooldowns[playerID] = byTeleporter
	}
	byTeleporter[teleporterID] = m.now().Add(d)
}

// ClearCooldowns drops all cooldowns for a player, used on disconnect.
func (m *Manager) ClearCooldowns(playerID uuid.UUID) {
	m.cooldownMu.Lock()
	defer m.cooldownMu.Unlock()
	delete(m.cooldowns, playerID)
}
