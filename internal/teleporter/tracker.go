package teleporter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/engine"
	"github.com/polyservers/meshhub/internal/queue"
	"github.com/polyservers/meshhub/internal/registry"
	"github.com/polyservers/meshhub/internal/store"
	"github.com/polyservers/meshhub/internal/transfer"
)

// pending is an armed teleporter countdown for one player.
type pending struct {
	teleporter store.Teleporter
	dest       registry.NodeInfo
	deadline   time.Time
	lastShown  int // last countdown second displayed
}

// Tracker runs the per-player interaction state machine:
// Idle -> Armed -> (Expired -> Transferred | Canceled). State is keyed by
// player, so a new position tick simply overwrites whatever came before it;
// no cancellation token is needed.
type Tracker struct {
	manager      *Manager
	registry     *registry.Registry
	orchestrator *transfer.Orchestrator
	queue        *queue.Manager
	host         engine.Host
	log          *zap.Logger

	window          time.Duration
	defaultCooldown time.Duration
	autoEnqueue     bool

	mu       sync.Mutex
	pending  map[uuid.UUID]*pending
	lastCell map[uuid.UUID]string

	now func() time.Time
}

// NewTracker wires the interaction state machine. window is the stand-still
// confirmation time; defaultCooldown applies to teleporters without a
// cooldown of their own; autoEnqueue selects what happens when the
// destination is full (join its admission queue, or reject).
func NewTracker(m *Manager, reg *registry.Registry, orch *transfer.Orchestrator,
	q *queue.Manager, host engine.Host, window, defaultCooldown time.Duration,
	autoEnqueue bool, log *zap.Logger) *Tracker {
	return &Tracker{
		manager:         m,
		registry:        reg,
		orchestrator:    orch,
		queue:           q,
		host:            host,
		log:             log,
		window:          window,
		defaultCooldown: defaultCooldown,
		autoEnqueue:     autoEnqueue,
		pending:         make(map[uuid.UUID]*pending),
		lastCell:        make(map[uuid.UUID]string),
		now:             time.Now,
	}
}

// OnMove processes one position tick for a player. Ticks for a given player
// arrive in order; ticks for different players are independent.
func (t *Tracker) OnMove(ctx context.Context, player transfer.Player, pos engine.Position) {
	x, y, z := pos.Cell()
	cell := cellKey(pos.World, x, y, z)

	t.mu.Lock()
	if t.lastCell[player.ID] == cell {
		p, ok := t.pending[player.ID]
		if !ok {
			t.mu.Unlock()
			return
		}
		if !t.now().Before(p.deadline) {
			delete(t.pending, player.ID)
			t.mu.Unlock()
			t.fire(ctx, player, p)
			return
		}
		secs := int(math.Ceil(p.deadline.Sub(t.now()).Seconds()))
		show := secs != p.lastShown
		p.lastShown = secs
		t.mu.Unlock()
		if show {
			t.notify(ctx, player.ID, fmt.Sprintf("Teleporting to %s in %d...", p.dest.Name, secs))
		}
		return
	}

	// New cell: any armed countdown is canceled by the move itself.
	t.lastCell[player.ID] = cell
	_, hadPending := t.pending[player.ID]
	delete(t.pending, player.ID)
	t.mu.Unlock()

	if hadPending {
		t.notify(ctx, player.ID, "Teleport canceled - you moved")
	}

	if tp, ok := t.manager.At(pos.World, x, y, z); ok {
		t.arm(ctx, player, tp)
	}
}

// OnDisconnect drops all interaction state for a player.
func (t *Tracker) OnDisconnect(playerID uuid.UUID) {
	t.mu.Lock()
	delete(t.pending, playerID)
	delete(t.lastCell, playerID)
	t.mu.Unlock()
	t.manager.ClearCooldowns(playerID)
}

// arm attempts the Idle -> Armed transition.
func (t *Tracker) arm(ctx context.Context, player transfer.Player, tp store.Teleporter) {
	if tp.Permission != "" {
		granted, err := t.host.HasPermission(ctx, player.ID, tp.Permission)
		if err != nil {
			t.log.Warn("permission check failed",
				zap.String("player", player.Name), zap.Error(err))
			return
		}
		if !granted {
			t.notify(ctx, player.ID, "You cannot use this teleporter")
			return
		}
	}

	if t.manager.HasCooldown(player.ID, tp.ID) {
		remaining := t.manager.RemainingCooldown(player.ID, tp.ID)
		t.notify(ctx, player.ID, fmt.Sprintf("Teleporter on cooldown: %ds remaining",
			int(math.Ceil(remaining.Seconds()))))
		return
	}

	dest, ok := t.registry.GetByID(tp.DestinationNodeID)
	if !ok {
		t.log.Warn("teleporter points to unknown node",
			zap.String("dest", tp.DestinationNodeID))
		t.notify(ctx, player.ID, "Destination not found")
		return
	}
	if dest.Status != store.StatusOnline {
		t.notify(ctx, player.ID, "Destination is offline")
		return
	}
	if !dest.HasCapacity() {
		if t.autoEnqueue {
			result, err := t.queue.Join(player.ID, player.Name, dest.ID, 0)
			if err != nil || result != queue.Queued {
				t.notify(ctx, player.ID, "Destination is full")
				return
			}
			t.notify(ctx, player.ID, fmt.Sprintf("%s is full. You are position %d in the queue.",
				dest.Name, t.queue.Position(player.ID, dest.ID)))
			if err := t.queue.MarkNotified(player.ID, dest.ID); err != nil {
				t.log.Debug("failed to mark queue entry notified", zap.Error(err))
			}
			return
		}
		t.notify(ctx, player.ID, "Destination is full")
		return
	}

	secs := int(math.Ceil(t.window.Seconds()))
	t.mu.Lock()
	t.pending[player.ID] = &pending{
		teleporter: tp,
		dest:       dest,
		deadline:   t.now().Add(t.window),
		lastShown:  secs,
	}
	t.mu.Unlock()

	t.notify(ctx, player.ID, fmt.Sprintf("Teleporting to %s. Stand still for %d seconds...",
		dest.Name, secs))
	t.log.Info("teleporter armed",
		zap.String("player", player.Name), zap.String("dest", dest.ID))
}

// fire runs the Expired -> Transferred transition: cooldown first, then a
// single transfer attempt. A failed transfer surfaces a notice and nothing
// else; the player can step on the pad again.
func (t *Tracker) fire(ctx context.Context, player transfer.Player, p *pending) {
	cooldown := time.Duration(p.teleporter.CooldownSeconds) * time.Second
	if cooldown <= 0 {
		cooldown = t.defaultCooldown
	}
	if cooldown > 0 {
		t.manager.ApplyCooldown(player.ID, p.teleporter.ID, cooldown)
	}

	t.notify(ctx, player.ID, fmt.Sprintf("Teleporting to %s!", p.dest.Name))

	res := t.orchestrator.Transfer(ctx, transfer.Request{
		Player: player,
		Dest:   p.dest,
		Kind:   transfer.KindTeleporter,
		Reason: fmt.Sprintf("teleporter at %s (%d,%d,%d)",
			p.teleporter.World, p.teleporter.X, p.teleporter.Y, p.teleporter.Z),
	})
	detached := context.WithoutCancel(ctx)
	go func() {
		if err := res.Wait(detached); err != nil {
			t.log.Warn("teleporter transfer failed",
				zap.String("player", player.Name), zap.Error(err))
			t.notify(detached, player.ID, "Teleport failed - please try again")
		}
	}()
}

func (t *Tracker) notify(ctx context.Context, playerID uuid.UUID, text string) {
	if err := t.host.SendMessage(ctx, playerID, text); err != nil {
		t.log.Debug("failed to notify player", zap.Error(err))
	}
}
