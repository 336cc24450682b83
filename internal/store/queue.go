package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertQueueEntry inserts or refreshes a player's waitlist row for a node.
// A repeated join replaces the priority and restarts the enqueue timestamp,
// keeping the at-most-one-entry-per-(node, player) invariant.
func (s *Store) UpsertQueueEntry(e *QueueEntry) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "node_id"}, {Name: "player_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"player_name", "priority", "joined_at", "notified", "updated_at",
			}),
		}).Create(e).Error
	})
}

// SetQueueNotified records that the player has been told their position in
// the node's waitlist.
func (s *Store) SetQueueNotified(nodeID string, playerID uuid.UUID) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Model(&QueueEntry{}).
			Where("node_id = ? AND player_id = ?", nodeID, playerID).
			Update("notified", true).Error
	})
}

// DeleteQueueEntry removes a player's row for one node. Absence is not an error.
func (s *Store) DeleteQueueEntry(nodeID string, playerID uuid.UUID) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Where("node_id = ? AND player_id = ?", nodeID, playerID).
			Delete(&QueueEntry{}).Error
	})
}

// DeleteQueueEntriesForPlayer removes the player from every node's queue,
// used when the player is found offline.
func (s *Store) DeleteQueueEntriesForPlayer(playerID uuid.UUID) error {
	return s.withRetry(func(db *gorm.DB) error {
		return db.Where("player_id = ?", playerID).Delete(&QueueEntry{}).Error
	})
}

// QueueEntries returns a node's waitlist in serving order: priority
// descending, then enqueue time ascending.
func (s *Store) QueueEntries(nodeID string) ([]QueueEntry, error) {
	var rows []QueueEntry
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Where("node_id = ?", nodeID).
			Order("priority DESC, joined_at ASC").
			Find(&rows).Error
	})
	return rows, err
}

// ListQueueEntries returns every node's waitlist rows, grouped by node in
// serving order. Used to rebuild the in-memory queues after a restart.
func (s *Store) ListQueueEntries() ([]QueueEntry, error) {
	var rows []QueueEntry
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Order("node_id ASC, priority DESC, joined_at ASC").
			Find(&rows).Error
	})
	return rows, err
}

// QueueSize returns the current length of a node's waitlist.
func (s *Store) QueueSize(nodeID string) (int, error) {
	var count int64
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Model(&QueueEntry{}).Where("node_id = ?", nodeID).
			Count(&count).Error
	})
	return int(count), err
}

// DeleteQueueEntriesBefore drops entries enqueued before cutoff. Run by the
// periodic cleanup task so abandoned entries do not pin queue positions.
func (s *Store) DeleteQueueEntriesBefore(cutoff time.Time) (int64, error) {
	var affected int64
	err := s.withRetry(func(db *gorm.DB) error {
		res := db.Where("joined_at < ?", cutoff).Delete(&QueueEntry{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}
