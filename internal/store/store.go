// Package store is the durable side of the coordination layer: node identity
// and health, admission queues, player locations, teleporters, and transfer
// history, all behind GORM so the rest of the service never branches on SQL
// dialect. Every call retries transient contention errors with backoff before
// giving up.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	maxAttempts = 3
	retryDelay  = 100 * time.Millisecond
)

// Store wraps the database connection used by all coordination components.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open initializes the database connection and runs auto-migrations.
func Open(dsn string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}

	err = db.AutoMigrate(
		&Node{},
		&NodeHealth{},
		&QueueEntry{},
		&TransferRecord{},
		&Teleporter{},
		&PlayerLocation{},
	)
	if err != nil {
		return nil, err
	}

	log.Info("database ready", zap.String("dsn", dsn))
	return &Store{db: db, log: log}, nil
}

// withRetry runs op, retrying contention-class failures with linear backoff.
// Non-transient errors are returned as-is on the first attempt.
func (s *Store) withRetry(op func(db *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = op(s.db)
		if err == nil || !isTransient(err) {
			return err
		}
		s.log.Warn("transient store error, retrying",
			zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(retryDelay * time.Duration(attempt))
	}
	return err
}

// Async runs op on its own goroutine and delivers the final error (nil on
// success) on the returned channel. Used for writes whose outcome must never
// block the caller, such as history logging.
func (s *Store) Async(op func(db *gorm.DB) error) <-chan error {
	ch := make(chan error, 1)
	go func() {
		ch <- s.withRetry(op)
	}()
	return ch
}

// isTransient reports whether err is a lock/contention-class failure worth
// retrying. SQLite reports these as "database is locked" / "database is
// busy"; server backends as deadlocks.
func isTransient(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database is busy") ||
		strings.Contains(msg, "deadlock")
}
