package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTest(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)
	return st
}

func TestUpsertNodeIsIdempotent(t *testing.T) {
	st := openTest(t)

	require.NoError(t, st.UpsertNode(&Node{
		NodeID: "game-1", Name: "Survival", Kind: "game", MaxPlayers: 50,
	}))
	require.NoError(t, st.UpsertNode(&Node{
		NodeID: "game-1", Name: "Survival II", Kind: "game", MaxPlayers: 80,
	}))

	nodes, err := st.ListNodes()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Survival II", nodes[0].Name)
	assert.Equal(t, 80, nodes[0].MaxPlayers)
}

func TestNodeByIDUnknownIsNilNil(t *testing.T) {
	st := openTest(t)

	n, err := st.NodeByID("ghost")
	require.NoError(t, err)
	assert.Nil(t, n)

	h, err := st.HealthByNode("ghost")
	require.NoError(t, err)
	assert.Nil(t, h)
}

func TestSetHub(t *testing.T) {
	st := openTest(t)
	require.NoError(t, st.UpsertNode(&Node{NodeID: "lobby", MaxPlayers: 100}))

	require.NoError(t, st.SetHub("lobby", true, 7))

	n, err := st.NodeByID("lobby")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.True(t, n.Hub)
	assert.Equal(t, 7, n.HubPriority)

	require.NoError(t, st.SetHub("lobby", false, 0))
	n, err = st.NodeByID("lobby")
	require.NoError(t, err)
	assert.False(t, n.Hub)
}

func TestUpsertHeartbeatResetsFailures(t *testing.T) {
	st := openTest(t)

	now := time.Now()
	require.NoError(t, st.UpsertHeartbeat(&NodeHealth{
		NodeID: "game-1", LastHeartbeat: &now, CurrentPlayers: 12,
	}))

	h, err := st.HealthByNode("game-1")
	require.NoError(t, err)
	require.NotNil(t, h)
	h.Status = StatusDegraded
	h.ConsecutiveFailures = 2
	require.NoError(t, st.SaveHealth(h))

	later := time.Now()
	require.NoError(t, st.UpsertHeartbeat(&NodeHealth{
		NodeID: "game-1", LastHeartbeat: &later, CurrentPlayers: 14,
	}))

	h, err = st.HealthByNode("game-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOnline, h.Status)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Equal(t, 14, h.CurrentPlayers)
}

func TestStaleHealthSelection(t *testing.T) {
	st := openTest(t)

	old := time.Now().Add(-time.Minute)
	fresh := time.Now()
	require.NoError(t, st.UpsertHeartbeat(&NodeHealth{NodeID: "self", LastHeartbeat: &old}))
	require.NoError(t, st.UpsertHeartbeat(&NodeHealth{NodeID: "stale", LastHeartbeat: &old}))
	require.NoError(t, st.UpsertHeartbeat(&NodeHealth{NodeID: "alive", LastHeartbeat: &fresh}))
	require.NoError(t, st.UpsertHeartbeat(&NodeHealth{NodeID: "dead", LastHeartbeat: &old}))
	require.NoError(t, st.MarkOffline("dead"))

	rows, err := st.StaleHealth("self", time.Now().Add(-30*time.Second))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "stale", rows[0].NodeID)
}

func TestMarkOfflineWithoutHeartbeatRow(t *testing.T) {
	st := openTest(t)

	require.NoError(t, st.MarkOffline("never-beat"))

	h, err := st.HealthByNode("never-beat")
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, StatusOffline, h.Status)
	assert.Nil(t, h.LastHeartbeat)
}

func TestQueueEntriesServingOrder(t *testing.T) {
	st := openTest(t)

	base := time.Now()
	low := uuid.New()
	early := uuid.New()
	late := uuid.New()
	vip := uuid.New()
	for _, e := range []QueueEntry{
		{NodeID: "game-1", PlayerID: low, PlayerName: "low", Priority: 0, JoinedAt: base},
		{NodeID: "game-1", PlayerID: late, PlayerName: "late", Priority: 5, JoinedAt: base.Add(2 * time.Second)},
		{NodeID: "game-1", PlayerID: early, PlayerName: "early", Priority: 5, JoinedAt: base.Add(time.Second)},
		{NodeID: "game-1", PlayerID: vip, PlayerName: "vip", Priority: 10, JoinedAt: base.Add(3 * time.Second)},
		{NodeID: "game-2", PlayerID: uuid.New(), PlayerName: "other", Priority: 99, JoinedAt: base},
	} {
		e := e
		require.NoError(t, st.UpsertQueueEntry(&e))
	}

	rows, err := st.QueueEntries("game-1")
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, []string{"vip", "early", "late", "low"},
		[]string{rows[0].PlayerName, rows[1].PlayerName, rows[2].PlayerName, rows[3].PlayerName})

	size, err := st.QueueSize("game-1")
	require.NoError(t, err)
	assert.Equal(t, 4, size)
}

func TestUpsertQueueEntryReplacesExisting(t *testing.T) {
	st := openTest(t)

	player := uuid.New()
	require.NoError(t, st.UpsertQueueEntry(&QueueEntry{
		NodeID: "game-1", PlayerID: player, PlayerName: "p", Priority: 0, JoinedAt: time.Now(),
	}))
	require.NoError(t, st.UpsertQueueEntry(&QueueEntry{
		NodeID: "game-1", PlayerID: player, PlayerName: "p", Priority: 9, JoinedAt: time.Now(),
	}))

	size, err := st.QueueSize("game-1")
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	rows, err := st.QueueEntries("game-1")
	require.NoError(t, err)
	assert.Equal(t, 9, rows[0].Priority)
}

func TestDeleteQueueEntriesForPlayerSpansNodes(t *testing.T) {
	st := openTest(t)

	player := uuid.New()
	other := uuid.New()
	for _, nodeID := range []string{"game-1", "game-2"} {
		require.NoError(t, st.UpsertQueueEntry(&QueueEntry{
			NodeID: nodeID, PlayerID: player, JoinedAt: time.Now(),
		}))
	}
	require.NoError(t, st.UpsertQueueEntry(&QueueEntry{
		NodeID: "game-1", PlayerID: other, JoinedAt: time.Now(),
	}))

	require.NoError(t, st.DeleteQueueEntriesForPlayer(player))

	for _, nodeID := range []string{"game-1", "game-2"} {
		rows, err := st.QueueEntries(nodeID)
		require.NoError(t, err)
		for _, r := range rows {
			assert.NotEqual(t, player, r.PlayerID)
		}
	}
	size, err := st.QueueSize("game-1")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestDeleteQueueEntriesBefore(t *testing.T) {
	st := openTest(t)

	require.NoError(t, st.UpsertQueueEntry(&QueueEntry{
		NodeID: "game-1", PlayerID: uuid.New(), JoinedAt: time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, st.UpsertQueueEntry(&QueueEntry{
		NodeID: "game-1", PlayerID: uuid.New(), JoinedAt: time.Now(),
	}))

	n, err := st.DeleteQueueEntriesBefore(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	size, err := st.QueueSize("game-1")
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestPlayerLocationLifecycle(t *testing.T) {
	st := openTest(t)

	player := uuid.New()
	require.NoError(t, st.UpsertPlayerLocation(&PlayerLocation{
		PlayerID: player, PlayerName: "Steve", NodeID: "game-1",
		JoinedAt: time.Now(), LastSeen: time.Now(),
	}))

	loc, err := st.PlayerByID(player)
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.True(t, loc.Online)
	assert.Equal(t, "game-1", loc.NodeID)

	require.NoError(t, st.SetPlayerNode(player, "game-2"))
	require.NoError(t, st.UpdatePlayerPosition(player, "overworld", 1.5, 64, -3.25))

	loc, err = st.PlayerByName("steve")
	require.NoError(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "game-2", loc.NodeID)
	assert.Equal(t, "overworld", loc.World)
	assert.Equal(t, 1.5, loc.X)

	require.NoError(t, st.SetPlayerOffline(player))
	loc, err = st.PlayerByID(player)
	require.NoError(t, err)
	assert.False(t, loc.Online)

	onNode, err := st.PlayersOnNode("game-2")
	require.NoError(t, err)
	assert.Empty(t, onNode)
}

func TestDeleteLocationsKeepsOnlinePlayers(t *testing.T) {
	st := openTest(t)

	gone := uuid.New()
	present := uuid.New()
	require.NoError(t, st.UpsertPlayerLocation(&PlayerLocation{
		PlayerID: gone, NodeID: "game-1", JoinedAt: time.Now(), LastSeen: time.Now(),
	}))
	require.NoError(t, st.UpsertPlayerLocation(&PlayerLocation{
		PlayerID: present, NodeID: "game-1", JoinedAt: time.Now(), LastSeen: time.Now(),
	}))
	require.NoError(t, st.SetPlayerOffline(gone))

	// Cutoff in the future: every offline row qualifies, online rows never do.
	n, err := st.DeleteLocationsLastSeenBefore(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	loc, err := st.PlayerByID(present)
	require.NoError(t, err)
	assert.NotNil(t, loc)
}

func TestAppendTransferAndHistory(t *testing.T) {
	st := openTest(t)

	player := uuid.New()
	require.NoError(t, <-st.AppendTransfer(&TransferRecord{
		PlayerID: player, PlayerName: "Steve",
		FromNodeID: "game-1", ToNodeID: "lobby", Kind: "FALLBACK", Success: true,
	}))
	require.NoError(t, <-st.AppendTransfer(&TransferRecord{
		PlayerID: player, PlayerName: "Steve",
		FromNodeID: "lobby", ToNodeID: "game-2", Kind: "COMMAND", Success: false,
	}))

	rows, err := st.TransfersForPlayer(player, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestTeleporterRoundTrip(t *testing.T) {
	st := openTest(t)

	require.NoError(t, st.CreateTeleporter(&Teleporter{
		NodeID: "lobby", World: "overworld", X: 10, Y: 64, Z: -5,
		DestinationNodeID: "game-1", Enabled: true,
	}))
	require.NoError(t, st.CreateTeleporter(&Teleporter{
		NodeID: "lobby", World: "overworld", X: 12, Y: 64, Z: -5,
		DestinationNodeID: "game-2", Enabled: false,
	}))

	rows, err := st.TeleportersForNode("lobby")
	require.NoError(t, err)
	require.Len(t, rows, 1, "disabled teleporters are not served")
	assert.Equal(t, "game-1", rows[0].DestinationNodeID)

	affected, err := st.DeleteTeleporter("lobby", "overworld", 10, 64, -5)
	require.NoError(t, err)
	assert.EqualValues(t, 1, affected)

	affected, err = st.DeleteTeleporter("lobby", "overworld", 10, 64, -5)
	require.NoError(t, err)
	assert.EqualValues(t, 0, affected)
}
