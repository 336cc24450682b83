// Package admin exposes the coordination layer's operator surface over a
// small HTTP API. Every route maps 1:1 to a registry, hub-selector, or
// transfer call; no coordination logic lives here.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/bus"
	"github.com/polyservers/meshhub/internal/service"
	"github.com/polyservers/meshhub/internal/store"
	"github.com/polyservers/meshhub/internal/transfer"
)

// transferHistoryLimit caps the history rows one admin request returns.
const transferHistoryLimit = 20

// Server handles the admin API for one node.
type Server struct {
	svc    *service.Service
	events *bus.Bus // may be nil
	selfID string
	log    *zap.Logger
}

// NewServer creates the admin API server.
func NewServer(svc *service.Service, events *bus.Bus, selfID string, log *zap.Logger) *Server {
	return &Server{svc: svc, events: events, selfID: selfID, log: log}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/nodes", s.listNodes)
	r.Post("/nodes", s.registerNode)
	r.Get("/nodes/{id}", s.getNode)
	r.Delete("/nodes/{id}", s.unregisterNode)
	r.Post("/nodes/{id}/hub", s.setHub)
	r.Delete("/nodes/{id}/hub", s.unsetHub)
	r.Get("/nodes/{id}/queue", s.nodeQueue)
	r.Get("/players/{name}/transfers", s.playerTransfers)
	r.Post("/transfers", s.transferPlayer)
	r.Post("/transfers/all", s.transferAll)
	return r
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Registry.ListAll())
}

// registerNode adds or updates a node's identity row, the same upsert the
// node itself performs on startup. Useful for pre-registering nodes before
// their first boot.
func (s *Server) registerNode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NodeID      string `json:"node_id"`
		Name        string `json:"name"`
		Kind        string `json:"kind"`
		Hub         bool   `json:"hub"`
		HubPriority int    `json:"hub_priority"`
		MaxPlayers  int    `json:"max_players"`
		Address     string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.NodeID == "" {
		http.Error(w, "node_id is required", http.StatusBadRequest)
		return
	}
	if body.MaxPlayers <= 0 {
		http.Error(w, "max_players must be positive", http.StatusBadRequest)
		return
	}

	err := s.svc.Registry.Register(&store.Node{
		NodeID:      body.NodeID,
		Name:        body.Name,
		Kind:        body.Kind,
		Hub:         body.Hub,
		HubPriority: body.HubPriority,
		MaxPlayers:  body.MaxPlayers,
		Address:     body.Address,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	node, ok := s.svc.Registry.GetByID(chi.URLParam(r, "id"))
	if !ok {
		http.Error(w, "unknown node", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) unregisterNode(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Registry.Unregister(chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) setHub(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Priority int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.svc.Hubs.SetHub(chi.URLParam(r, "id"), body.Priority); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) unsetHub(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Hubs.UnsetHub(chi.URLParam(r, "id")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// nodeQueue reports a node's waitlist from the durable mirror, so the view
// is consistent across the fleet rather than scoped to this node's memory.
func (s *Server) nodeQueue(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "id")
	size, err := s.svc.Queue.Backlog(nodeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	waiting, err := s.svc.Queue.Waiting(nodeID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"size":    size,
		"players": waiting,
	})
}

// playerTransfers returns a player's recent transfer history, newest first.
func (s *Server) playerTransfers(w http.ResponseWriter, r *http.Request) {
	loc, err := s.svc.Tracking.FindByName(chi.URLParam(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if loc == nil {
		http.Error(w, "unknown player", http.StatusNotFound)
		return
	}
	records, err := s.svc.Transfers.History(loc.PlayerID, transferHistoryLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// transferPlayer moves one player by name. If the player is on this node
// the transfer runs locally; otherwise a transfer request is fanned out for
// the holding node to act on.
func (s *Server) transferPlayer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlayerName string `json:"player_name"`
		ToNodeID   string `json:"to_node_id"`
		Reason     string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	loc, err := s.svc.Tracking.FindByName(body.PlayerName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if loc == nil || !loc.Online {
		http.Error(w, "player not online", http.StatusNotFound)
		return
	}

	if loc.NodeID != s.selfID {
		if s.events == nil {
			http.Error(w, "player is on another node and the event bus is disabled",
				http.StatusConflict)
			return
		}
		err := s.events.Publish(bus.SubjectTransferRequest, bus.TransferRequest{
			PlayerID: loc.PlayerID,
			ToNodeID: body.ToNodeID,
			Kind:     string(transfer.KindCommand),
			Reason:   body.Reason,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	dest, ok := s.svc.Registry.GetByID(body.ToNodeID)
	if !ok {
		http.Error(w, "unknown destination", http.StatusNotFound)
		return
	}
	res := s.svc.Transfers.Transfer(r.Context(), transfer.Request{
		Player: transfer.Player{ID: loc.PlayerID, Name: loc.PlayerName},
		Dest:   dest,
		Kind:   transfer.KindCommand,
		Reason: body.Reason,
	})
	if err := res.Wait(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// transferAll moves every local player to one destination.
func (s *Server) transferAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ToNodeID string `json:"to_node_id"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	dest, ok := s.svc.Registry.GetByID(body.ToNodeID)
	if !ok {
		http.Error(w, "unknown destination", http.StatusNotFound)
		return
	}
	players, err := s.svc.Tracking.PlayersHere()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	moved := 0
	for _, p := range players {
		res := s.svc.Transfers.Transfer(r.Context(), transfer.Request{
			Player: transfer.Player{ID: p.PlayerID, Name: p.PlayerName},
			Dest:   dest,
			Kind:   transfer.KindCommand,
			Reason: body.Reason,
		})
		if err := res.Wait(r.Context()); err == nil {
			moved++
		}
	}
	writeJSON(w, http.StatusOK, map[string]int{"transferred": moved})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
