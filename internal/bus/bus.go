// Package bus fans events out across the node fleet over NATS. Delivery is
// at-most-once with no ordering guarantee across nodes; every consumer is
// written to tolerate missed and reordered messages.
package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Subjects form the fixed channel set of the network.
const (
	SubjectPlayerJoin      = "mesh.player.join"
	SubjectPlayerQuit      = "mesh.player.quit"
	SubjectChatGlobal      = "mesh.chat.global"
	SubjectChatStaff       = "mesh.chat.staff"
	SubjectChatDirect      = "mesh.chat.direct"
	SubjectNodeStatus      = "mesh.node.status"
	SubjectTransferRequest = "mesh.transfer.request"
	SubjectAnnouncement    = "mesh.announcement"
	SubjectModeration      = "mesh.moderation"
)

// Bus is a thin JSON codec over a NATS connection.
type Bus struct {
	nc  *nats.Conn
	log *zap.Logger
}

// Connect establishes a connection to a NATS server.
func Connect(url string, log *zap.Logger) (*Bus, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	log.Info("connected to event bus", zap.String("url", url))
	return &Bus{nc: nc, log: log}, nil
}

// Publish marshals v to JSON and publishes it on subject. Publish failures
// are returned but never fatal to callers; the bus is best-effort by design.
func (b *Bus) Publish(subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.nc.Publish(subject, data)
}

// Subscribe registers a handler for subject. Payloads that fail to decode
// are logged and dropped rather than crashing the subscription.
func Subscribe[T any](b *Bus, subject string, handler func(T)) (*nats.Subscription, error) {
	return b.nc.Subscribe(subject, func(m *nats.Msg) {
		var payload T
		if err := json.Unmarshal(m.Data, &payload); err != nil {
			b.log.Error("dropping undecodable bus message",
				zap.String("subject", subject), zap.Error(err))
			return
		}
		handler(payload)
	})
}

// Close drains the connection.
func (b *Bus) Close() {
	b.nc.Close()
}
