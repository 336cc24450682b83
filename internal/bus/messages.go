package bus

import (
	"time"

	"github.com/google/uuid"
)

// PlayerEvent announces a player joining or quitting a node.
type PlayerEvent struct {
	PlayerID   uuid.UUID `json:"player_id"`
	PlayerName string    `json:"player_name"`
	NodeID     string    `json:"node_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// NodeStatusEvent announces a health-state transition observed by a detector.
type NodeStatusEvent struct {
	NodeID     string    `json:"node_id"`
	Status     string    `json:"status"`
	ObservedBy string    `json:"observed_by"`
	Timestamp  time.Time `json:"timestamp"`
}

// TransferRequest asks the node currently holding a player to relocate them.
type TransferRequest struct {
	PlayerID    uuid.UUID  `json:"player_id"`
	ToNodeID    string     `json:"to_node_id"`
	Kind        string     `json:"kind"`
	Reason      string     `json:"reason,omitempty"`
	InitiatedBy *uuid.UUID `json:"initiated_by,omitempty"`
}

// ChatMessage relays a chat line network-wide. Formatting is the consumer's
// concern; the bus carries raw text only.
type ChatMessage struct {
	SenderID    uuid.UUID  `json:"sender_id"`
	SenderName  string     `json:"sender_name"`
	NodeID      string     `json:"node_id"`
	Text        string     `json:"text"`
	RecipientID *uuid.UUID `json:"recipient_id,omitempty"` // direct messages only
	Timestamp   time.Time  `json:"timestamp"`
}

// Announcement is broadcast to every node for display.
type Announcement struct {
	Text            string    `json:"text"`
	DurationSeconds int       `json:"duration_seconds"`
	Timestamp       time.Time `json:"timestamp"`
}

// ModerationAction propagates kicks and similar actions across the fleet.
type ModerationAction struct {
	Action    string     `json:"action"` // "kick"
	PlayerID  uuid.UUID  `json:"player_id"`
	Reason    string     `json:"reason,omitempty"`
	IssuedBy  *uuid.UUID `json:"issued_by,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}
