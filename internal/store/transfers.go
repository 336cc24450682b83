package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AppendTransfer writes one transfer-history line asynchronously. History is
// append-only and best-effort: the returned channel carries the write outcome
// but callers are free to ignore it.
func (s *Store) AppendTransfer(rec *TransferRecord) <-chan error {
	return s.Async(func(db *gorm.DB) error {
		return db.Create(rec).Error
	})
}

// TransfersForPlayer returns the most recent transfers for a player, newest
// first, up to limit rows.
func (s *Store) TransfersForPlayer(playerID uuid.UUID, limit int) ([]TransferRecord, error) {
	var rows []TransferRecord
	err := s.withRetry(func(db *gorm.DB) error {
		return db.Where("player_id = ?", playerID).
			Order("created_at DESC").Limit(limit).
			Find(&rows).Error
	})
	return rows, err
}

// DeleteTransfersBefore prunes history older than cutoff.
func (s *Store) DeleteTransfersBefore(cutoff time.Time) (int64, error) {
	var affected int64
	err := s.withRetry(func(db *gorm.DB) error {
		res := db.Where("created_at < ?", cutoff).Delete(&TransferRecord{})
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}
