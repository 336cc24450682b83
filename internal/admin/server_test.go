package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/config"
	"github.com/polyservers/meshhub/internal/engine"
	"github.com/polyservers/meshhub/internal/service"
	"github.com/polyservers/meshhub/internal/store"
)

type fakeHost struct {
	mu          sync.Mutex
	relocations []uuid.UUID
}

func (f *fakeHost) SendMessage(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeHost) Relocate(_ context.Context, playerID uuid.UUID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relocations = append(f.relocations, playerID)
	return nil
}

func (f *fakeHost) PlayerPosition(context.Context, uuid.UUID) (engine.Position, error) {
	return engine.Position{}, nil
}

func (f *fakeHost) Kick(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeHost) HasPermission(context.Context, uuid.UUID, string) (bool, error) {
	return true, nil
}

func (f *fakeHost) relocationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.relocations)
}

type fixture struct {
	store  *store.Store
	host   *fakeHost
	svc    *service.Service
	server *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), zap.NewNop())
	require.NoError(t, err)

	// A second, online hub node to transfer players to.
	require.NoError(t, st.UpsertNode(&store.Node{
		NodeID: "lobby", Name: "Lobby", Hub: true, HubPriority: 10,
		MaxPlayers: 100, Address: "lobby:25565",
	}))
	now := time.Now()
	require.NoError(t, st.UpsertHeartbeat(&store.NodeHealth{
		NodeID: "lobby", LastHeartbeat: &now,
	}))

	cfg := &config.Config{}
	cfg.Node.ID = "self"
	cfg.Node.Name = "Self"
	cfg.Node.Kind = "game"
	cfg.Node.MaxPlayers = 50
	cfg.Node.Address = "self:25565"
	cfg.Heartbeat.Timeout = 30 * time.Second
	cfg.Heartbeat.FailureThreshold = 3
	cfg.Queue.MaxSize = 100
	cfg.Teleporter.ConfirmationTimeout = 10 * time.Second

	host := &fakeHost{}
	svc, err := service.Init(cfg, st, nil, host, zap.NewNop())
	require.NoError(t, err)

	srv := httptest.NewServer(NewServer(svc, nil, "self", zap.NewNop()).Router())
	t.Cleanup(srv.Close)
	return &fixture{store: st, host: host, svc: svc, server: srv}
}

func (f *fixture) get(t *testing.T, path string) *http.Response {
	t.Helper()
	res, err := http.Get(f.server.URL + path)
	require.NoError(t, err)
	return res
}

func (f *fixture) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	res, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return res
}

func (f *fixture) delete(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodDelete, f.server.URL+path, nil)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return res
}

func TestListNodes(t *testing.T) {
	f := newFixture(t)

	res := f.get(t, "/nodes")
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var nodes []map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&nodes))
	assert.Len(t, nodes, 2)
}

func TestGetNode(t *testing.T) {
	f := newFixture(t)

	res := f.get(t, "/nodes/lobby")
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var node map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&node))
	assert.Equal(t, "lobby", node["ID"])
	assert.Equal(t, "ONLINE", node["Status"])

	res = f.get(t, "/nodes/ghost")
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestSetAndUnsetHub(t *testing.T) {
	f := newFixture(t)

	res := f.post(t, "/nodes/self/hub", map[string]int{"priority": 5})
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	n, err := f.store.NodeByID("self")
	require.NoError(t, err)
	assert.True(t, n.Hub)
	assert.Equal(t, 5, n.HubPriority)

	res = f.delete(t, "/nodes/self/hub")
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	n, err = f.store.NodeByID("self")
	require.NoError(t, err)
	assert.False(t, n.Hub)
}

func TestUnregisterNode(t *testing.T) {
	f := newFixture(t)

	res := f.delete(t, "/nodes/lobby")
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	h, err := f.store.HealthByNode("lobby")
	require.NoError(t, err)
	assert.Equal(t, store.StatusOffline, h.Status)
}

func TestRegisterNode(t *testing.T) {
	f := newFixture(t)

	res := f.post(t, "/nodes", map[string]any{
		"node_id": "worker-7", "name": "Worker 7", "kind": "game",
		"max_players": 80, "address": "worker-7:25565",
	})
	res.Body.Close()
	require.Equal(t, http.StatusCreated, res.StatusCode)

	n, err := f.store.NodeByID("worker-7")
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "Worker 7", n.Name)
	assert.Equal(t, 80, n.MaxPlayers)

	res = f.get(t, "/nodes/worker-7")
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRegisterNodeRejectsBadInput(t *testing.T) {
	f := newFixture(t)

	res := f.post(t, "/nodes", map[string]any{"name": "no id", "max_players": 10})
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res = f.post(t, "/nodes", map[string]any{"node_id": "bad", "max_players": 0})
	res.Body.Close()
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestNodeQueueView(t *testing.T) {
	f := newFixture(t)

	// Rows written by another coordinator still show up: the route reads
	// the durable mirror, not this node's memory.
	vip := uuid.New()
	require.NoError(t, f.store.UpsertQueueEntry(&store.QueueEntry{
		NodeID: "lobby", PlayerID: uuid.New(), PlayerName: "regular", JoinedAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, f.store.UpsertQueueEntry(&store.QueueEntry{
		NodeID: "lobby", PlayerID: vip, PlayerName: "vip", Priority: 10, JoinedAt: time.Now(),
	}))

	res := f.get(t, "/nodes/lobby/queue")
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body struct {
		Size    int `json:"size"`
		Players []struct {
			PlayerName string
		} `json:"players"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, 2, body.Size)
	require.Len(t, body.Players, 2)
	assert.Equal(t, "vip", body.Players[0].PlayerName)
}

func TestPlayerTransferHistory(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Tracking.TrackJoin(uuid.New(), "Steve"))

	res := f.post(t, "/transfers", map[string]string{
		"player_name": "Steve", "to_node_id": "lobby", "reason": "admin move",
	})
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)

	// History writes are asynchronous; poll until the row lands.
	require.Eventually(t, func() bool {
		res := f.get(t, "/players/Steve/transfers")
		defer res.Body.Close()
		if res.StatusCode != http.StatusOK {
			return false
		}
		var records []store.TransferRecord
		if json.NewDecoder(res.Body).Decode(&records) != nil || len(records) != 1 {
			return false
		}
		return records[0].ToNodeID == "lobby" && records[0].Success
	}, 2*time.Second, 20*time.Millisecond)

	res = f.get(t, "/players/nobody/transfers")
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestTransferLocalPlayer(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Tracking.TrackJoin(uuid.New(), "Steve"))

	res := f.post(t, "/transfers", map[string]string{
		"player_name": "Steve", "to_node_id": "lobby", "reason": "admin move",
	})
	res.Body.Close()
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, 1, f.host.relocationCount())
}

func TestTransferUnknownPlayer(t *testing.T) {
	f := newFixture(t)

	res := f.post(t, "/transfers", map[string]string{
		"player_name": "nobody", "to_node_id": "lobby",
	})
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestTransferRemotePlayerWithoutBus(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpsertPlayerLocation(&store.PlayerLocation{
		PlayerID: uuid.New(), PlayerName: "Remote", NodeID: "elsewhere",
		JoinedAt: time.Now(), LastSeen: time.Now(),
	}))

	res := f.post(t, "/transfers", map[string]string{
		"player_name": "Remote", "to_node_id": "lobby",
	})
	res.Body.Close()
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, 0, f.host.relocationCount())
}

func TestTransferToUnknownDestination(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Tracking.TrackJoin(uuid.New(), "Steve"))

	res := f.post(t, "/transfers", map[string]string{
		"player_name": "Steve", "to_node_id": "nowhere",
	})
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestTransferAll(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.svc.Tracking.TrackJoin(uuid.New(), "a"))
	require.NoError(t, f.svc.Tracking.TrackJoin(uuid.New(), "b"))
	require.NoError(t, f.svc.Tracking.TrackJoin(uuid.New(), "c"))

	res := f.post(t, "/transfers/all", map[string]string{
		"to_node_id": "lobby", "reason": "maintenance",
	})
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var body map[string]int
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	assert.Equal(t, 3, body["transferred"])
	assert.Equal(t, 3, f.host.relocationCount())
}
