package bus

import (
	"testing"
	"time"

	"github.com/google/uuid"
	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func connectTest(t *testing.T) *Bus {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{
		Host: "127.0.0.1",
		Port: natsserver.RANDOM_PORT,
	})
	require.NoError(t, err)
	go ns.Start()
	require.True(t, ns.ReadyForConnections(4*time.Second))
	t.Cleanup(ns.Shutdown)

	b, err := Connect(ns.ClientURL(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	b := connectTest(t)

	received := make(chan NodeStatusEvent, 1)
	sub, err := Subscribe(b, SubjectNodeStatus, func(e NodeStatusEvent) {
		received <- e
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	sent := NodeStatusEvent{
		NodeID:     "game-1",
		Status:     "OFFLINE",
		ObservedBy: "hub-1",
		Timestamp:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, b.Publish(SubjectNodeStatus, sent))

	select {
	case got := <-received:
		assert.Equal(t, sent, got)
	case <-time.After(2 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestSubscribeIgnoresOtherSubjects(t *testing.T) {
	b := connectTest(t)

	received := make(chan PlayerEvent, 1)
	sub, err := Subscribe(b, SubjectPlayerJoin, func(e PlayerEvent) {
		received <- e
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, b.Publish(SubjectPlayerQuit, PlayerEvent{PlayerID: uuid.New()}))

	select {
	case <-received:
		t.Fatal("handler fired for a foreign subject")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestSubscribeDropsUndecodablePayload(t *testing.T) {
	b := connectTest(t)

	received := make(chan TransferRequest, 2)
	sub, err := Subscribe(b, SubjectTransferRequest, func(r TransferRequest) {
		received <- r
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	// Raw garbage first, then a decodable request; only the latter arrives.
	require.NoError(t, b.nc.Publish(SubjectTransferRequest, []byte("not json")))
	want := TransferRequest{PlayerID: uuid.New(), ToNodeID: "lobby", Kind: "COMMAND"}
	require.NoError(t, b.Publish(SubjectTransferRequest, want))

	select {
	case got := <-received:
		assert.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatal("valid request never arrived")
	}
	select {
	case <-received:
		t.Fatal("the undecodable payload reached the handler")
	case <-time.After(100 * time.Millisecond):
	}
}
