// Package service assembles the coordination components into one node-side
// service with explicit lifecycle entry points: Init builds everything from
// configuration, Run drives the periodic work until the context is
// canceled, Shutdown evacuates local players and declares the node offline.
// The hosting process owns all three calls; there is no global instance.
package service

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/bus"
	"github.com/polyservers/meshhub/internal/config"
	"github.com/polyservers/meshhub/internal/engine"
	"github.com/polyservers/meshhub/internal/health"
	"github.com/polyservers/meshhub/internal/hub"
	"github.com/polyservers/meshhub/internal/queue"
	"github.com/polyservers/meshhub/internal/registry"
	"github.com/polyservers/meshhub/internal/store"
	"github.com/polyservers/meshhub/internal/teleporter"
	"github.com/polyservers/meshhub/internal/tracking"
	"github.com/polyservers/meshhub/internal/transfer"
)

const (
	schedulerWorkers = 4
	cleanupInterval  = 5 * time.Minute

	staleQueueAge      = time.Hour
	staleLocationAge   = 7 * 24 * time.Hour
	transferHistoryAge = 30 * 24 * time.Hour
)

// Service is one node's coordination runtime.
type Service struct {
	cfg  *config.Config
	log  *zap.Logger
	stor *store.Store
	bus  *bus.Bus // may be nil when the event bus is disabled
	host engine.Host

	Registry     *registry.Registry
	Health       *health.Monitor
	Hubs         *hub.Selector
	Tracking     *tracking.Tracker
	Queue        *queue.Manager
	Transfers    *transfer.Orchestrator
	Teleporters  *teleporter.Manager
	Interactions *teleporter.Tracker

	subs []*nats.Subscription
}

// Init wires all components, registers the local node, loads its
// teleporters, and emits the first heartbeat.
func Init(cfg *config.Config, st *store.Store, b *bus.Bus, host engine.Host, log *zap.Logger) (*Service, error) {
	selfID := cfg.Node.ID

	var events health.EventSink
	if b != nil {
		events = b
	}

	reg := registry.New(st, log)
	monitor := health.NewMonitor(st, events, selfID,
		cfg.Heartbeat.Timeout, cfg.Heartbeat.FailureThreshold, log)
	trk := tracking.New(st, events, selfID, log)
	orch := transfer.NewOrchestrator(st, host, selfID, log)
	selector := hub.NewSelector(reg, st, log)
	qm := queue.NewManager(st, reg, trk, orch,
		cfg.Queue.MaxSize, cfg.Queue.RequeueOnFailure, log)
	tm := teleporter.NewManager(st, selfID, log)
	interactions := teleporter.NewTracker(tm, reg, orch, qm, host,
		cfg.Teleporter.ConfirmationTimeout, cfg.Teleporter.DefaultCooldown,
		cfg.Queue.AutoJoinOnFull, log)

	s := &Service{
		cfg:          cfg,
		log:          log,
		stor:         st,
		bus:          b,
		host:         host,
		Registry:     reg,
		Health:       monitor,
		Hubs:         selector,
		Tracking:     trk,
		Queue:        qm,
		Transfers:    orch,
		Teleporters:  tm,
		Interactions: interactions,
	}

	err := reg.Register(&store.Node{
		NodeID:      selfID,
		Name:        cfg.Node.Name,
		Kind:        cfg.Node.Kind,
		Hub:         cfg.Node.Hub,
		HubPriority: cfg.Node.Priority,
		MaxPlayers:  cfg.Node.MaxPlayers,
		Address:     cfg.Node.Address,
	})
	if err != nil {
		return nil, err
	}
	if err := tm.Reload(); err != nil {
		return nil, err
	}
	if err := qm.Restore(); err != nil {
		return nil, err
	}
	if err := monitor.Emit(trk.CountHere()); err != nil {
		return nil, err
	}
	return s, nil
}

// Run subscribes to cross-node events, consumes the engine's player event
// stream, and drives the periodic tasks until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.subscribe(ctx); err != nil {
		return err
	}

	if src, ok := s.host.(engine.EventSource); ok {
		go s.streamEvents(ctx, src)
	}

	sched := NewScheduler(schedulerWorkers, s.log)
	sched.Add("heartbeat", s.cfg.Heartbeat.Interval, func(context.Context) {
		if err := s.Health.Emit(s.Tracking.CountHere()); err != nil {
			s.log.Warn("heartbeat emission failed", zap.Error(err))
		}
	})
	sched.Add("failure-detect", s.cfg.Heartbeat.CheckInterval, func(context.Context) {
		if err := s.Health.Detect(); err != nil {
			s.log.Warn("failure detection pass skipped", zap.Error(err))
		}
	})
	if s.cfg.Queue.Enabled {
		sched.Add("queue-drain", s.cfg.Queue.DrainInterval, func(ctx context.Context) {
			s.Queue.Drain(ctx)
		})
	}
	sched.Add("cleanup", cleanupInterval, func(context.Context) {
		s.cleanup()
	})

	s.log.Info("service running", zap.String("node", s.cfg.Node.ID))
	sched.Run(ctx)
	return nil
}

// Shutdown evacuates local players to a fallback node, declares this node
// offline, and releases subscriptions. Safe to call after Run has returned.
func (s *Service) Shutdown(ctx context.Context) error {
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil

	if s.cfg.Fallback.Enabled && s.cfg.Fallback.TriggerOnShutdown {
		s.evacuate(ctx)
	}

	if err := s.Health.MarkOffline(); err != nil {
		s.log.Error("failed to mark node offline", zap.Error(err))
		return err
	}
	s.log.Info("service stopped", zap.String("node", s.cfg.Node.ID))
	return nil
}

// evacuate moves every local player to the best fallback destination. A
// network with no online destination at all is the one unrecoverable case;
// it is logged loudly and the players stay to be disconnected by the engine.
func (s *Service) evacuate(ctx context.Context) {
	dest, err := s.Hubs.SelectFallback(s.cfg.Node.ID)
	if err != nil {
		s.log.Error("cannot evacuate: no online destination anywhere", zap.Error(err))
		return
	}

	players, err := s.Tracking.PlayersHere()
	if err != nil {
		s.log.Error("cannot list local players for evacuation", zap.Error(err))
		return
	}
	if len(players) == 0 {
		return
	}

	s.log.Info("evacuating players",
		zap.Int("count", len(players)), zap.String("dest", dest.ID))
	for _, p := range players {
		res := s.Transfers.Transfer(ctx, transfer.Request{
			Player: transfer.Player{ID: p.PlayerID, Name: p.PlayerName},
			Dest:   dest,
			Kind:   transfer.KindFallback,
			Reason: "node shutdown",
		})
		if err := res.Wait(ctx); err != nil {
			s.log.Warn("evacuation transfer failed",
				zap.String("player", p.PlayerName), zap.Error(err))
		}
		if s.cfg.Fallback.TransferDelay > 0 {
			time.Sleep(s.cfg.Fallback.TransferDelay)
		}
	}
}

func (s *Service) subscribe(ctx context.Context) error {
	if s.bus == nil {
		return nil
	}

	sub, err := bus.Subscribe(s.bus, bus.SubjectTransferRequest, func(req bus.TransferRequest) {
		s.handleTransferRequest(ctx, req)
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)

	sub, err = bus.Subscribe(s.bus, bus.SubjectModeration, func(action bus.ModerationAction) {
		s.handleModeration(ctx, action)
	})
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// handleTransferRequest serves requests issued elsewhere in the network:
// only the node currently holding the player acts on one.
func (s *Service) handleTransferRequest(ctx context.Context, req bus.TransferRequest) {
	loc, err := s.Tracking.Find(req.PlayerID)
	if err != nil || loc == nil || !loc.Online || loc.NodeID != s.cfg.Node.ID {
		return
	}
	dest, ok := s.Registry.GetByID(req.ToNodeID)
	if !ok {
		s.log.Warn("transfer request for unknown destination",
			zap.String("dest", req.ToNodeID))
		return
	}

	kind := transfer.Kind(req.Kind)
	if kind == "" {
		kind = transfer.KindCommand
	}
	s.Transfers.Transfer(ctx, transfer.Request{
		Player:      transfer.Player{ID: loc.PlayerID, Name: loc.PlayerName},
		Dest:        dest,
		Kind:        kind,
		Reason:      req.Reason,
		InitiatedBy: req.InitiatedBy,
	})
}

// streamEvents keeps the engine's player event stream alive, reconnecting
// after a broken stream until ctx is canceled.
func (s *Service) streamEvents(ctx context.Context, src engine.EventSource) {
	for {
		err := src.StreamEvents(ctx, func(e engine.Event) {
			s.handleEngineEvent(ctx, e)
		})
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("engine event stream interrupted, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// handleEngineEvent fans one inbound player event into tracking and the
// teleporter interaction state machine.
func (s *Service) handleEngineEvent(ctx context.Context, e engine.Event) {
	switch e.Type {
	case engine.EventJoin:
		if err := s.Tracking.TrackJoin(e.PlayerID, e.PlayerName); err != nil {
			s.log.Warn("failed to track player join",
				zap.String("player", e.PlayerName), zap.Error(err))
		}
	case engine.EventQuit:
		s.Interactions.OnDisconnect(e.PlayerID)
		if err := s.Tracking.TrackQuit(e.PlayerID, e.PlayerName); err != nil {
			s.log.Warn("failed to track player quit",
				zap.String("player", e.PlayerName), zap.Error(err))
		}
	case engine.EventMove:
		if err := s.Tracking.UpdatePosition(e.PlayerID, e.Position); err != nil {
			s.log.Debug("failed to store player position", zap.Error(err))
		}
		s.Interactions.OnMove(ctx, transfer.Player{ID: e.PlayerID, Name: e.PlayerName}, e.Position)
	}
}

func (s *Service) handleModeration(ctx context.Context, action bus.ModerationAction) {
	if action.Action != "kick" {
		return
	}
	loc, err := s.Tracking.Find(action.PlayerID)
	if err != nil || loc == nil || !loc.Online || loc.NodeID != s.cfg.Node.ID {
		return
	}
	if err := s.host.Kick(ctx, action.PlayerID, action.Reason); err != nil {
		s.log.Warn("moderation kick failed",
			zap.String("player", loc.PlayerName), zap.Error(err))
	}
}

// cleanup prunes stale rows so abandoned entries never pin state forever.
func (s *Service) cleanup() {
	now := time.Now()
	total := int64(0)

	if n, err := s.stor.DeleteQueueEntriesBefore(now.Add(-staleQueueAge)); err != nil {
		s.log.Warn("queue cleanup failed", zap.Error(err))
	} else {
		total += n
	}
	if n, err := s.stor.DeleteLocationsLastSeenBefore(now.Add(-staleLocationAge)); err != nil {
		s.log.Warn("location cleanup failed", zap.Error(err))
	} else {
		total += n
	}
	if n, err := s.stor.DeleteTransfersBefore(now.Add(-transferHistoryAge)); err != nil {
		s.log.Warn("transfer history cleanup failed", zap.Error(err))
	} else {
		total += n
	}

	if total > 0 {
		s.log.Info("cleanup removed stale records", zap.Int64("count", total))
	}
}
