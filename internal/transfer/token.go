package transfer

import (
	"context"
	"fmt"

	"EscrowLedger/internal/ledger"

	"github.com/google/uuid"
)

// TokenBackend is the external fungible-token contract surface. A non-nil
// error is a non-success return from the asset and maps to TransferFailed.
type TokenBackend interface {
	// TransferFrom pulls amount from the owner into ledger custody using
	// a pre-existing allowance.
	TransferFrom(ctx context.Context, contract string, from uuid.UUID, amount uint64) error

	// Transfer pushes amount from ledger custody to the recipient.
	Transfer(ctx context.Context, contract string, to uuid.UUID, amount uint64) error
}

// TokenAdapter moves fungible-token value through a TokenBackend.
type TokenAdapter struct {
	backend TokenBackend
}

func NewTokenAdapter(backend TokenBackend) *TokenAdapter {
	return &TokenAdapter{backend: backend}
}

// Pull performs an allowance-based transfer from the owner. Token pulls
// carry no attached native value.
func (a *TokenAdapter) Pull(ctx context.Context, owner uuid.UUID, asset ledger.Asset, amount, attachedValue uint64) error {
	if asset.IsNative() {
		return fmt.Errorf("token adapter asked to pull native value: %w", ledger.ErrTransferFailed)
	}
	if attachedValue != 0 {
		return fmt.Errorf("token pull with attached value %d: %w", attachedValue, ledger.ErrTransferFailed)
	}
	if err := a.backend.TransferFrom(ctx, asset.Token, owner, amount); err != nil {
		return fmt.Errorf("token pull from %s: %v: %w", owner, err, ledger.ErrTransferFailed)
	}
	return nil
}

// Push transfers amount directly to the owner.
func (a *TokenAdapter) Push(ctx context.Context, owner uuid.UUID, asset ledger.Asset, amount uint64) error {
	if asset.IsNative() {
		return fmt.Errorf("token adapter asked to push native value: %w", ledger.ErrTransferFailed)
	}
	if err := a.backend.Transfer(ctx, asset.Token, owner, amount); err != nil {
		return fmt.Errorf("token push to %s: %v: %w", owner, err, ledger.ErrTransferFailed)
	}
	return nil
}
