// Package hub selects evacuation destinations. Hubs are preferred by
// priority, then by load; when no hub is reachable any online node will do,
// because losing every hub must not mean losing the ability to evacuate.
package hub

import (
	"errors"
	"sort"

	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/registry"
	"github.com/polyservers/meshhub/internal/store"
)

// ErrNoOnlineNodes is the one truly fatal condition: no node anywhere can
// take players, so there is no safe destination.
var ErrNoOnlineNodes = errors.New("no online nodes available for fallback")

// Selector chooses fallback destinations from the registry's view.
type Selector struct {
	registry *registry.Registry
	store    *store.Store
	log      *zap.Logger
}

// NewSelector creates a Selector reading from reg.
func NewSelector(reg *registry.Registry, st *store.Store, log *zap.Logger) *Selector {
	return &Selector{registry: reg, store: st, log: log}
}

// SetHub designates a node as hub with the given priority.
func (s *Selector) SetHub(nodeID string, priority int) error {
	return s.store.SetHub(nodeID, true, priority)
}

// UnsetHub removes a node's hub designation.
func (s *Selector) UnsetHub(nodeID string) error {
	return s.store.SetHub(nodeID, false, 0)
}

// AvailableHubs returns ONLINE hubs sorted by hub priority descending, ties
// broken by current player count ascending (least-loaded first).
func (s *Selector) AvailableHubs() []registry.NodeInfo {
	var hubs []registry.NodeInfo
	for _, n := range s.registry.ListHubs() {
		if n.Status == store.StatusOnline {
			hubs = append(hubs, n)
		}
	}
	sort.SliceStable(hubs, func(i, j int) bool {
		if hubs[i].HubPriority != hubs[j].HubPriority {
			return hubs[i].HubPriority > hubs[j].HubPriority
		}
		return hubs[i].CurrentPlayers < hubs[j].CurrentPlayers
	})
	return hubs
}

// SelectFallback returns the best evacuation destination: the top available
// hub, or failing that any ONLINE node at all. Excluded node IDs (typically
// the node being evacuated) are never returned.
func (s *Selector) SelectFallback(exclude ...string) (registry.NodeInfo, error) {
	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	for _, h := range s.AvailableHubs() {
		if skip[h.ID] {
			continue
		}
		s.log.Info("selected fallback hub",
			zap.String("node", h.ID),
			zap.Int("priority", h.HubPriority),
			zap.Int("players", h.CurrentPlayers))
		return h, nil
	}

	s.log.Error("no available hub for fallback")
	for _, n := range s.registry.ListOnline() {
		if skip[n.ID] {
			continue
		}
		s.log.Warn("using non-hub node as fallback", zap.String("node", n.ID))
		return n, nil
	}

	return registry.NodeInfo{}, ErrNoOnlineNodes
}
