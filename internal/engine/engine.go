// Package engine abstracts the hosting game engine's player capabilities.
// The coordination layer only ever needs five primitives and treats all of
// them as opaque: how the engine moves a connection or renders a message is
// not its concern.
package engine

import (
	"context"
	"math"

	"github.com/google/uuid"
)

// Position is a player's world-space location on the local node.
type Position struct {
	World string  `json:"world"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
}

// Cell returns the integer block cell containing the position. Teleporter
// triggers are keyed by cell, not by exact coordinates. Coordinates floor
// rather than truncate: -0.5 is in cell -1, not cell 0.
func (p Position) Cell() (x, y, z int) {
	return int(math.Floor(p.X)), int(math.Floor(p.Y)), int(math.Floor(p.Z))
}

// EventType classifies a player notification pushed by the host engine.
type EventType string

const (
	EventJoin EventType = "join"
	EventQuit EventType = "quit"
	EventMove EventType = "move"
)

// Event is one inbound player notification from the host engine.
type Event struct {
	Type       EventType `json:"type"`
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name,omitempty"`
	Position   Position  `json:"position"` // move events only
}

// EventSource is implemented by engines that push player events. StreamEvents
// blocks, invoking handler for each event in arrival order, until the stream
// breaks or ctx is canceled.
type EventSource interface {
	StreamEvents(ctx context.Context, handler func(Event)) error
}

// Host is the set of capabilities the hosting engine exposes to this service.
type Host interface {
	// SendMessage shows a short text notice to a player on this node.
	SendMessage(ctx context.Context, playerID uuid.UUID, text string) error
	// Relocate moves a player's active connection to another node's address.
	// Once invoked the move is not revocable.
	Relocate(ctx context.Context, playerID uuid.UUID, address string) error
	// PlayerPosition returns the player's current position on this node.
	PlayerPosition(ctx context.Context, playerID uuid.UUID) (Position, error)
	// Kick disconnects a player from this node.
	Kick(ctx context.Context, playerID uuid.UUID, reason string) error
	// HasPermission checks a permission node for a player.
	HasPermission(ctx context.Context, playerID uuid.UUID, permission string) (bool, error)
}
