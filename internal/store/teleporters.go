package store

import (
	"gorm.io/gorm"
)

// CreateTeleporter registers a new teleporter trigger. The (node, world,
// x, y, z) position must be unique; a duplicate position is a caller error
// and surfaces as a constraint violation.
func (s *Store) CreateTeleporter(t *Teleporter) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Create(t).Error
	})
}

// DeleteTeleporter removes the teleporter at the given position, if any.
func (s *Store) DeleteTeleporter(nodeID, world string, x, y, z int) (int64, error) {
	var affected int64
	err := s.withRetry(func(db *gorm.DB) error {
		res := db.Where("node_id = ? AND world = ? AND x = ? AND y = ? AND z = ?",
			nodeID, world, x, y, z).Delete(&Teleporter{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// TeleportersForNode returns all enabled teleporters placed on nodeID.
func (s *Store) TeleportersForNode(nodeID string) ([]Teleporter, error) {
	var rows []Teleporter
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Where("node_id = ? AND enabled = ?", nodeID, true).Find(&rows).Error
	})
	return rows, err
}
