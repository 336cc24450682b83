package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertNode registers or refreshes a node's identity row keyed by node_id.
func (s *Store) UpsertNode(n *Node) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "node_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"name", "kind", "hub", "hub_priority", "max_players", "address", "updated_at",
			}),
		}).Create(n).Error
	})
}

// SetHub flips the hub designation and priority of an existing node.
func (s *Store) SetHub(nodeID string, hub bool, priority int) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Model(&Node{}).Where("node_id = ?", nodeID).
			Updates(map[string]any{"hub": hub, "hub_priority": priority}).Error
	})
}

// NodeByID returns the identity row for nodeID, or (nil, nil) if unknown.
func (s *Store) NodeByID(nodeID string) (*Node, error) {
	var n Node
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Where("node_id = ?", nodeID).First(&n).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNodes returns every registered node.
func (s *Store) ListNodes() ([]Node, error) {
	var nodes []Node
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Find(&nodes).Error
	})
	return nodes, err
}

// HealthByNode returns the health row for nodeID, or (nil, nil) if the node
// has never reported.
func (s *Store) HealthByNode(nodeID string) (*NodeHealth, error) {
	var h NodeHealth
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Where("node_id = ?", nodeID).First(&h).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &h, nil
}

// ListHealth returns all health rows.
func (s *Store) ListHealth() ([]NodeHealth, error) {
	var rows []NodeHealth
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Find(&rows).Error
	})
	return rows, err
}

// UpsertHeartbeat records a fresh self-reported heartbeat: status ONLINE,
// failure counter reset, liveness fields replaced.
func (s *Store) UpsertHeartbeat(h *NodeHealth) error {
	h.Status = StatusOnline
	h.ConsecutiveFailures = 0
	return s.withRetry(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "node_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status", "last_heartbeat", "current_players", "consecutive_failures",
				"memory_used_mb", "goroutines", "uptime_seconds", "updated_at",
			}),
		}).Create(h).Error
	})
}

// StaleHealth returns health rows of nodes other than selfID whose heartbeat
// is older than cutoff (or missing entirely) and that are not already
// OFFLINE. These are the candidates for a failure-detection increment.
func (s *Store) StaleHealth(selfID string, cutoff time.Time) ([]NodeHealth, error) {
	var rows []NodeHealth
	err := s.withRetry(func(db *gorm.DB) error {
		return db.
			Where("node_id <> ?", selfID).
			Where("status <> ?", StatusOffline).
			Where("last_heartbeat IS NULL OR last_heartbeat < ?", cutoff).
			Find(&rows).Error
	})
	return rows, err
}

// SaveHealth persists detector-side changes to a health row.
func (s *Store) SaveHealth(h *NodeHealth) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Model(&NodeHealth{}).Where("node_id = ?", h.NodeID).
			Updates(map[string]any{
				"status":               h.Status,
				"consecutive_failures": h.ConsecutiveFailures,
			}).Error
	})
}

// MarkOffline forces a node's health status to OFFLINE, creating the row if
// the node never managed a heartbeat. The identity row is untouched.
func (s *Store) MarkOffline(nodeID string) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "node_id"}},
			DoUpdates: clause.Assignments(map[string]any{"status": StatusOffline}),
		}).Create(&NodeHealth{NodeID: nodeID, Status: StatusOffline}).Error
	})
}
