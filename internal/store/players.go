package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertPlayerLocation records a player joining a node.
func (s *Store) UpsertPlayerLocation(loc *PlayerLocation) error {
	loc.Online = true
	return s.withRetry(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"player_name", "node_id", "online", "joined_at", "last_seen", "updated_at",
			}),
		}).Create(loc).Error
	})
}

// SetPlayerOffline marks a player as disconnected, keeping the row so the
// last known node remains queryable.
func (s *Store) SetPlayerOffline(playerID uuid.UUID) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Model(&PlayerLocation{}).Where("player_id = ?", playerID).
			Updates(map[string]any{"online": false, "last_seen": time.Now()}).Error
	})
}

// SetPlayerNode moves a player's tracked current node; called on the success
// path of a transfer before the relocation itself.
func (s *Store) SetPlayerNode(playerID uuid.UUID, nodeID string) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Model(&PlayerLocation{}).Where("player_id = ?", playerID).
			Updates(map[string]any{"node_id": nodeID, "joined_at": time.Now()}).Error
	})
}

// UpdatePlayerPosition stores the player's last known world position.
func (s *Store) UpdatePlayerPosition(playerID uuid.UUID, world string, x, y, z float64) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Model(&PlayerLocation{}).Where("player_id = ?", playerID).
			Updates(map[string]any{
				"world": world, "x": x, "y": y, "z": z, "last_seen": time.Now(),
			}).Error
	})
}

// PlayerByID returns a player's location row, or (nil, nil) if untracked.
func (s *Store) PlayerByID(playerID uuid.UUID) (*PlayerLocation, error) {
	var loc PlayerLocation
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Where("player_id = ?", playerID).First(&loc).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// PlayerByName looks a player up case-insensitively by display name.
func (s *Store) PlayerByName(name string) (*PlayerLocation, error) {
	var loc PlayerLocation
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Where("LOWER(player_name) = LOWER(?)", name).First(&loc).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loc, nil
}

// PlayersOnNode returns every player currently tracked as online on nodeID.
func (s *Store) PlayersOnNode(nodeID string) ([]PlayerLocation, error) {
	var rows []PlayerLocation
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Where("node_id = ? AND online = ?", nodeID, true).Find(&rows).Error
	})
	return rows, err
}

// DeleteLocationsLastSeenBefore drops rows of players absent since cutoff.
func (s *Store) DeleteLocationsLastSeenBefore(cutoff time.Time) (int64, error) {
	var affected int64
	err := s.withRetry(func(db *gorm.DB) error {
		res := db.Where("online = ? AND last_seen < ?", false, cutoff).
			Delete(&PlayerLocation{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}
