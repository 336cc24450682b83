package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Status is the liveness state of a node as judged by the health monitor.
type Status string

const (
	StatusOnline   Status = "ONLINE"
	StatusDegraded Status = "DEGRADED"
	StatusOffline  Status = "OFFLINE"
)

// Node is the slow-changing identity of one game-server process. The row is
// upserted on startup registration and never deleted automatically.
type Node struct {
	gorm.Model
	NodeID      string `gorm:"uniqueIndex"`
	Name        string
	Kind        string // "hub" or "game"
	Hub         bool
	HubPriority int
	MaxPlayers  int
	Address     string
}

// NodeHealth is the fast-changing liveness record, one row per node, kept
// separate from Node so heartbeats never rewrite identity fields.
type NodeHealth struct {
	gorm.Model
	NodeID              string `gorm:"uniqueIndex"`
	Status              Status
	LastHeartbeat       *time.Time // nil until the first heartbeat arrives
	CurrentPlayers      int
	ConsecutiveFailures int

	// Best-effort resource metrics, informational only.
	MemoryUsedMB  uint64
	Goroutines    int
	UptimeSeconds int64
}

// QueueEntry is one player waiting for admission to a full node.
type QueueEntry struct {
	gorm.Model
	NodeID     string    `gorm:"uniqueIndex:idx_queue_node_player"`
	PlayerID   uuid.UUID `gorm:"type:varchar(36);uniqueIndex:idx_queue_node_player"`
	PlayerName string
	Priority   int
	JoinedAt   time.Time
	Notified   bool // the player has been told their queue position
}

// TransferRecord is one line of append-only transfer history. Rows are
// written once and never mutated.
type TransferRecord struct {
	gorm.Model
	PlayerID    uuid.UUID `gorm:"type:varchar(36);index"`
	PlayerName  string
	FromNodeID  string
	ToNodeID    string
	Kind        string
	InitiatedBy *uuid.UUID `gorm:"type:varchar(36)"`
	Reason      string
	Success     bool
}

// Teleporter is a world-position trigger on a node that sends players to
// another node after a confirmation countdown.
type Teleporter struct {
	gorm.Model
	NodeID string `gorm:"uniqueIndex:idx_teleporter_pos"`
	World  string `gorm:"uniqueIndex:idx_teleporter_pos"`
	X      int    `gorm:"uniqueIndex:idx_teleporter_pos"`
	Y      int    `gorm:"uniqueIndex:idx_teleporter_pos"`
	Z      int    `gorm:"uniqueIndex:idx_teleporter_pos"`

	DestinationNodeID string
	DestinationWorld  string
	DestinationX      float64
	DestinationY      float64
	DestinationZ      float64

	DisplayName     string
	Permission      string // empty = public
	CooldownSeconds int
	Enabled         bool
}

// PlayerLocation tracks which node a player is connected to across the
// network, plus their last known world position on that node.
type PlayerLocation struct {
	gorm.Model
	PlayerID   uuid.UUID `gorm:"type:varchar(36);uniqueIndex"`
	PlayerName string
	NodeID     string `gorm:"index"`
	World      string
	X          float64
	Y          float64
	Z          float64
	Online     bool
	JoinedAt   time.Time
	LastSeen   time.Time
}
