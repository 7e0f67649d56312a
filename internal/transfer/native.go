package transfer

import (
	"context"
	"fmt"

	"EscrowLedger/internal/ledger"

	"github.com/google/uuid"
)

// ValueSink is the outbound side of native-asset custody: it pushes value
// to an owner-controlled destination and may reject the push.
type ValueSink interface {
	Send(ctx context.Context, to uuid.UUID, amount uint64) error
}

// NativeAdapter moves the chain's native value. Inbound transfers are the
// attached value itself — there is no external call to make, only the
// attachment to verify. Outbound transfers go through the ValueSink.
type NativeAdapter struct {
	sink ValueSink
}

func NewNativeAdapter(sink ValueSink) *NativeAdapter {
	return &NativeAdapter{sink: sink}
}

// Pull verifies the attached value covers the requested amount. The ledger
// enforces its own exact-match policies before calling; this is the
// adapter's last line against a short attachment.
func (a *NativeAdapter) Pull(ctx context.Context, owner uuid.UUID, asset ledger.Asset, amount, attachedValue uint64) error {
	if !asset.IsNative() {
		return fmt.Errorf("native adapter asked to pull %s: %w", asset, ledger.ErrTransferFailed)
	}
	if attachedValue < amount {
		return fmt.Errorf("attached value %d below required %d: %w", attachedValue, amount, ledger.ErrTransferFailed)
	}
	return nil
}

// Push sends amount to the owner. A rejected push is terminal for the
// operation — no retries.
func (a *NativeAdapter) Push(ctx context.Context, owner uuid.UUID, asset ledger.Asset, amount uint64) error {
	if !asset.IsNative() {
		return fmt.Errorf("native adapter asked to push %s: %w", asset, ledger.ErrTransferFailed)
	}
	if err := a.sink.Send(ctx, owner, amount); err != nil {
		return fmt.Errorf("native push rejected: %v: %w", err, ledger.ErrTransferFailed)
	}
	return nil
}
