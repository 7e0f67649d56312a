package transfer

import (
	"context"
	"sync/atomic"

	"EscrowLedger/internal/ledger"

	"github.com/google/uuid"
)

// Gate wraps an adapter so startup replay can run without re-moving
// external value. Until Arm is called every Pull and Push succeeds
// without touching the inner adapter; after Arm, calls pass through.
type Gate struct {
	inner ledger.TransferAdapter
	live  atomic.Bool
}

func NewGate(inner ledger.TransferAdapter) *Gate {
	return &Gate{inner: inner}
}

// Arm switches the gate to live mode. Not reversible.
func (g *Gate) Arm() {
	g.live.Store(true)
}

func (g *Gate) Pull(ctx context.Context, owner uuid.UUID, asset ledger.Asset, amount, attachedValue uint64) error {
	if !g.live.Load() {
		return nil
	}
	return g.inner.Pull(ctx, owner, asset, amount, attachedValue)
}

func (g *Gate) Push(ctx context.Context, owner uuid.UUID, asset ledger.Asset, amount uint64) error {
	if !g.live.Load() {
		return nil
	}
	return g.inner.Push(ctx, owner, asset, amount)
}
