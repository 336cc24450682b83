// Package transfer relocates players between nodes. A transfer is
// asynchronous and deliberately fire-and-forget: once the relocation call is
// issued it cannot be revoked, there is no retry, and a failed history write
// never affects the relocation outcome.
package transfer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/polyservers/meshhub/internal/engine"
	"github.com/polyservers/meshhub/internal/registry"
	"github.com/polyservers/meshhub/internal/store"
)

// Kind classifies what initiated a transfer.
type Kind string

const (
	KindTeleporter Kind = "TELEPORTER"
	KindCommand    Kind = "COMMAND"
	KindFallback   Kind = "FALLBACK"
	KindKick       Kind = "KICK"
	KindQueue      Kind = "QUEUE"
	KindModeration Kind = "MODERATION"
)

// ErrDestinationUnavailable rejects transfers to nodes that are not ONLINE.
var ErrDestinationUnavailable = errors.New("destination unavailable")

// Player identifies the player being moved.
type Player struct {
	ID   uuid.UUID
	Name string
}

// Request describes one transfer.
type Request struct {
	Player      Player
	Dest        registry.NodeInfo
	Kind        Kind
	Reason      string
	InitiatedBy *uuid.UUID
}

// Result is the future handed back to the caller.
type Result struct {
	done chan struct{}
	err  error
}

// Done is closed once the transfer has resolved either way.
func (r *Result) Done() <-chan struct{} { return r.done }

// Err returns the outcome. Only valid after Done is closed.
func (r *Result) Err() error { return r.err }

// Wait blocks until the transfer resolves or ctx is canceled.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func resolved(err error) *Result {
	r := &Result{done: make(chan struct{}), err: err}
	close(r.done)
	return r
}

// Orchestrator executes transfers away from the local node.
type Orchestrator struct {
	store  *store.Store
	host   engine.Host
	selfID string
	log    *zap.Logger
}

// NewOrchestrator creates an Orchestrator for the local node selfID.
func NewOrchestrator(st *store.Store, host engine.Host, selfID string, log *zap.Logger) *Orchestrator {
	return &Orchestrator{store: st, host: host, selfID: selfID, log: log}
}

// Transfer relocates the player to req.Dest. A destination that is not
// ONLINE fails immediately with no side effects. Otherwise the location
// store is updated, the engine relocation primitive is invoked, and a
// history line is appended with the outcome. Retrying is the caller's
// decision, not the orchestrator's.
func (o *Orchestrator) Transfer(ctx context.Context, req Request) *Result {
	if req.Dest.Status != store.StatusOnline {
		o.log.Warn("rejecting transfer to unavailable node",
			zap.String("player", req.Player.Name),
			zap.String("dest", req.Dest.ID),
			zap.String("status", string(req.Dest.Status)))
		return resolved(ErrDestinationUnavailable)
	}

	result := &Result{done: make(chan struct{})}
	go func() {
		defer close(result.done)
		result.err = o.execute(ctx, req)
	}()
	return result
}

func (o *Orchestrator) execute(ctx context.Context, req Request) error {
	o.log.Info("transferring player",
		zap.String("player", req.Player.Name),
		zap.String("dest", req.Dest.ID),
		zap.String("kind", string(req.Kind)))

	// Location update is best-effort: a stale row self-corrects when the
	// player joins the destination node and tracking upserts it.
	if err := o.store.SetPlayerNode(req.Player.ID, req.Dest.ID); err != nil {
		o.log.Warn("failed to update player location before transfer",
			zap.String("player", req.Player.Name), zap.Error(err))
	}

	if err := o.host.Relocate(ctx, req.Player.ID, req.Dest.Address); err != nil {
		o.log.Error("relocation failed",
			zap.String("player", req.Player.Name),
			zap.String("dest", req.Dest.ID), zap.Error(err))
		o.record(req, false)
		return err
	}

	o.record(req, true)
	return nil
}

// History returns the player's most recent transfers, newest first.
func (o *Orchestrator) History(playerID uuid.UUID, limit int) ([]store.TransferRecord, error) {
	return o.store.TransfersForPlayer(playerID, limit)
}

// record appends transfer history. Failures here are soft: the player has
// already moved (or failed to), and the session is never rolled back over a
// logging problem.
func (o *Orchestrator) record(req Request, success bool) {
	o.store.AppendTransfer(&store.TransferRecord{
		PlayerID:    req.Player.ID,
		PlayerName:  req.Player.Name,
		FromNodeID:  o.selfID,
		ToNodeID:    req.Dest.ID,
		Kind:        string(req.Kind),
		InitiatedBy: req.InitiatedBy,
		Reason:      req.Reason,
		Success:     success,
	})
}
