// Package registry holds the authoritative view of every node in the
// network: identity joined with current health. Reads are served from a
// TTL-bounded cache; writes go straight to the store. Staleness up to one
// TTL window is accepted in exchange for read throughput, and a store
// failure degrades reads to stale-or-empty instead of erroring.
package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/cache"
	"github.com/polyservers/meshhub/internal/store"
)

// CacheTTL bounds how stale a registry read may be.
const CacheTTL = 30 * time.Second

// NodeInfo is a node's identity joined with its current health record.
// Nodes that never reported a heartbeat read as OFFLINE with zero players.
type NodeInfo struct {
	ID             string
	Name           string
	Kind           string
	Hub            bool
	HubPriority    int
	MaxPlayers     int
	Address        string
	Status         store.Status
	CurrentPlayers int
	LastHeartbeat  *time.Time
}

// HasCapacity reports whether the node can admit one more player.
func (n NodeInfo) HasCapacity() bool {
	return n.CurrentPlayers < n.MaxPlayers
}

// FreeSlots returns how many players the node can still admit.
func (n NodeInfo) FreeSlots() int {
	if free := n.MaxPlayers - n.CurrentPlayers; free > 0 {
		return free
	}
	return 0
}

// Registry serves cached node views and forwards registration writes.
type Registry struct {
	store *store.Store
	cache *cache.Map[string, NodeInfo]
	log   *zap.Logger

	refreshMu sync.Mutex // serializes wholesale refreshes
}

// New creates a Registry backed by st.
func New(st *store.Store, log *zap.Logger) *Registry {
	return &Registry{
		store: st,
		cache: cache.NewMap[string, NodeInfo](CacheTTL),
		log:   log,
	}
}

// Register upserts a node's identity row. The cache is deliberately not
// updated here; readers pick the change up on the next refresh window.
func (r *Registry) Register(n *store.Node) error {
	if err := r.store.UpsertNode(n); err != nil {
		return err
	}
	r.log.Info("registered node",
		zap.String("node", n.NodeID), zap.String("name", n.Name),
		zap.Bool("hub", n.Hub), zap.Int("priority", n.HubPriority))
	return nil
}

// Unregister forces the node's health to OFFLINE. The identity row stays.
func (r *Registry) Unregister(nodeID string) error {
	if err := r.store.MarkOffline(nodeID); err != nil {
		return err
	}
	r.log.Info("unregistered node", zap.String("node", nodeID))
	return nil
}

// GetByID returns one node with health, or false if the node is unknown.
// A cache miss triggers a point refresh of that entry only.
func (r *Registry) GetByID(nodeID string) (NodeInfo, bool) {
	if info, ok := r.cache.Get(nodeID); ok {
		return info, true
	}

	node, err := r.store.NodeByID(nodeID)
	if err != nil {
		r.log.Warn("registry point lookup failed, serving stale",
			zap.String("node", nodeID), zap.Error(err))
		return r.cache.GetStale(nodeID)
	}
	if node == nil {
		return NodeInfo{}, false
	}

	health, err := r.store.HealthByNode(nodeID)
	if err != nil {
		r.log.Warn("registry health lookup failed, serving stale",
			zap.String("node", nodeID), zap.Error(err))
		return r.cache.GetStale(nodeID)
	}

	info := join(*node, health)
	r.cache.Put(nodeID, info)
	return info, true
}

// ListAll returns every node with health, refreshing the cache wholesale at
// most once per TTL window.
func (r *Registry) ListAll() []NodeInfo {
	if !r.cache.Fresh() {
		r.refresh()
	}
	return r.cache.Values()
}

// ListHubs returns all nodes designated as hubs.
func (r *Registry) ListHubs() []NodeInfo {
	var hubs []NodeInfo
	for _, n := range r.ListAll() {
		if n.Hub {
			hubs = append(hubs, n)
		}
	}
	return hubs
}

// ListOnline returns all nodes whose health status is ONLINE.
func (r *Registry) ListOnline() []NodeInfo {
	var online []NodeInfo
	for _, n := range r.ListAll() {
		if n.Status == store.StatusOnline {
			online = append(online, n)
		}
	}
	return online
}

// refresh replaces the whole cache from the store. On store failure the
// previous contents are kept; registry reads never raise on transient
// store errors.
func (r *Registry) refresh() {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()
	if r.cache.Fresh() {
		return // another caller refreshed while we waited
	}

	nodes, err := r.store.ListNodes()
	if err != nil {
		r.log.Warn("registry refresh failed, serving stale", zap.Error(err))
		return
	}
	health, err := r.store.ListHealth()
	if err != nil {
		r.log.Warn("registry refresh failed, serving stale", zap.Error(err))
		return
	}

	byNode := make(map[string]*store.NodeHealth, len(health))
	for i := range health {
		byNode[health[i].NodeID] = &health[i]
	}

	views := make(map[string]NodeInfo, len(nodes))
	for _, n := range nodes {
		views[n.NodeID] = join(n, byNode[n.NodeID])
	}
	r.cache.ReplaceAll(views)
}

func join(n store.Node, h *store.NodeHealth) NodeInfo {
	info := NodeInfo{
		ID:          n.NodeID,
		Name:        n.Name,
		Kind:        n.Kind,
		Hub:         n.Hub,
		HubPriority: n.HubPriority,
		MaxPlayers:  n.MaxPlayers,
		Address:     n.Address,
		Status:      store.StatusOffline,
	}
	if h != nil {
		info.Status = h.Status
		info.CurrentPlayers = h.CurrentPlayers
		info.LastHeartbeat = h.LastHeartbeat
	}
	return info
}
