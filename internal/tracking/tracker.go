// Package tracking maintains the network-wide record of where each player
// is connected. The store is the source of truth; join/quit events are
// additionally fanned out on the bus for any node that cares.
package tracking

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/bus"
	"github.com/polyservers/meshhub/internal/engine"
	"github.com/polyservers/meshhub/internal/store"
)

// EventSink receives player join/quit events. *bus.Bus satisfies it.
type EventSink interface {
	Publish(subject string, v any) error
}

// Tracker records player presence for the local node.
type Tracker struct {
	store  *store.Store
	events EventSink // may be nil
	selfID string
	log    *zap.Logger
}

// New creates a Tracker for the local node selfID.
func New(st *store.Store, events EventSink, selfID string, log *zap.Logger) *Tracker {
	return &Tracker{store: st, events: events, selfID: selfID, log: log}
}

// TrackJoin records a player connecting to this node.
func (t *Tracker) TrackJoin(playerID uuid.UUID, name string) error {
	now := time.Now()
	err := t.store.UpsertPlayerLocation(&store.PlayerLocation{
		PlayerID:   playerID,
		PlayerName: name,
		NodeID:     t.selfID,
		JoinedAt:   now,
		LastSeen:   now,
	})
	if err != nil {
		return err
	}
	t.publish(bus.SubjectPlayerJoin, playerID, name)
	return nil
}

// TrackQuit marks a player as disconnected. The location row is kept so the
// last known node stays queryable until cleanup prunes it.
func (t *Tracker) TrackQuit(playerID uuid.UUID, name string) error {
	if err := t.store.SetPlayerOffline(playerID); err != nil {
		return err
	}
	t.publish(bus.SubjectPlayerQuit, playerID, name)
	return nil
}

// UpdatePosition stores the player's last known world position.
func (t *Tracker) UpdatePosition(playerID uuid.UUID, pos engine.Position) error {
	return t.store.UpdatePlayerPosition(playerID, pos.World, pos.X, pos.Y, pos.Z)
}

// Find returns a player's location row, or (nil, nil) if untracked.
func (t *Tracker) Find(playerID uuid.UUID) (*store.PlayerLocation, error) {
	return t.store.PlayerByID(playerID)
}

// FindByName looks a player up by display name, case-insensitively.
func (t *Tracker) FindByName(name string) (*store.PlayerLocation, error) {
	return t.store.PlayerByName(name)
}

// IsOnline reports whether the player is tracked as online anywhere in the
// network. Store failures read as offline; callers treat that as an
// ordinary negative result.
func (t *Tracker) IsOnline(playerID uuid.UUID) bool {
	loc, err := t.store.PlayerByID(playerID)
	if err != nil {
		t.log.Warn("online check failed", zap.String("player", playerID.String()), zap.Error(err))
		return false
	}
	return loc != nil && loc.Online
}

// PlayersHere returns every player currently online on the local node.
func (t *Tracker) PlayersHere() ([]store.PlayerLocation, error) {
	return t.store.PlayersOnNode(t.selfID)
}

// CountHere returns the local online player count, used for heartbeats.
func (t *Tracker) CountHere() int {
	players, err := t.store.PlayersOnNode(t.selfID)
	if err != nil {
		t.log.Warn("player count unavailable", zap.Error(err))
		return 0
	}
	return len(players)
}

func (t *Tracker) publish(subject string, playerID uuid.UUID, name string) {
	if t.events == nil {
		return
	}
	err := t.events.Publish(subject, bus.PlayerEvent{
		PlayerID:   playerID,
		PlayerName: name,
		NodeID:     t.selfID,
		Timestamp:  time.Now(),
	})
	if err != nil {
		t.log.Warn("failed to publish player event", zap.Error(err))
	}
}
