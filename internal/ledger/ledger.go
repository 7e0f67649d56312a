package ledger

import (
	"context"
	"fmt"

	checked "EscrowLedger/internal/math"

	"github.com/google/uuid"
)

// TransferAdapter abstracts physical asset movement into and out of the
// ledger. Implementations live in internal/transfer; the ledger only sees
// this interface so the two packages stay decoupled.
//
// Pull moves amount from the owner into the ledger's custody. For native
// assets the attached value is the transfer itself; for tokens it is an
// allowance-based pull and attachedValue must be zero.
// Push moves amount from the ledger's custody back to the owner.
// Both report failure by returning an error wrapping ErrTransferFailed.
// No retries: a failed transfer is terminal for that call.
type TransferAdapter interface {
	Pull(ctx context.Context, owner uuid.UUID, asset Asset, amount, attachedValue uint64) error
	Push(ctx context.Context, owner uuid.UUID, asset Asset, amount uint64) error
}

// CollateralLedger is the single source of truth for collateral balances.
// Each (owner, asset) pair holds an open (withdrawable) and a locked
// (pledged) amount; open + locked only changes through Deposit and
// Withdraw. All arithmetic is checked — a subtraction that would go
// negative surfaces as ErrInsufficientOpen / ErrInsufficientLocked, never
// a silent wrap.
//
// Not thread-safe — only accessed from the serialized core.
type CollateralLedger struct {
	balances map[BalanceKey]*Balance
	native   TransferAdapter
	token    TransferAdapter
}

func NewCollateralLedger(native, token TransferAdapter) *CollateralLedger {
	return &CollateralLedger{
		balances: make(map[BalanceKey]*Balance),
		native:   native,
		token:    token,
	}
}

func (cl *CollateralLedger) adapterFor(asset Asset) TransferAdapter {
	if asset.IsNative() {
		return cl.native
	}
	return cl.token
}

// getBalance returns the record for (owner, asset), creating a zeroed one
// on first touch. A zeroed record is equivalent to absent.
func (cl *CollateralLedger) getBalance(owner uuid.UUID, asset Asset) *Balance {
	key := BalanceKey{Owner: owner, Asset: asset}
	bal := cl.balances[key]
	if bal == nil {
		bal = &Balance{}
		cl.balances[key] = bal
	}
	return bal
}

// Deposit pulls amount from the owner via the transfer adapter and credits
// their open balance. For native assets the attached value must equal the
// deposit amount exactly: a shortfall fails with ErrInsufficientValueSent,
// an excess with ErrValueMismatch so value is never silently kept.
func (cl *CollateralLedger) Deposit(ctx context.Context, owner uuid.UUID, asset Asset, amount, attachedValue uint64) ([]Movement, error) {
	if err := asset.Validate(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("deposit amount must be positive")
	}

	if asset.IsNative() {
		if attachedValue < amount {
			return nil, fmt.Errorf("deposit of %d with attached value %d: %w", amount, attachedValue, ErrInsufficientValueSent)
		}
		if attachedValue > amount {
			return nil, fmt.Errorf("deposit of %d with attached value %d: %w", amount, attachedValue, ErrValueMismatch)
		}
	} else if attachedValue != 0 {
		return nil, fmt.Errorf("token deposit with attached value %d: %w", attachedValue, ErrValueMismatch)
	}

	if err := cl.adapterFor(asset).Pull(ctx, owner, asset, amount, attachedValue); err != nil {
		return nil, fmt.Errorf("deposit pull for %s: %w", owner, err)
	}

	bal := cl.getBalance(owner, asset)
	newOpen, err := checked.AddU64(bal.Open, amount)
	if err != nil {
		return nil, fmt.Errorf("deposit overflows open balance for %s: %w", owner, err)
	}
	bal.Open = newOpen

	return []Movement{{
		From:   NewExternalAccountKey(SubTypeExternalDeposits, asset),
		To:     NewOwnerAccountKey(owner, SubTypeOpen, asset),
		Asset:  asset,
		Amount: amount,
		Type:   MovementDeposit,
	}}, nil
}

// Check reports whether the owner's open balance covers required, and the
// shortfall if not. Pure read.
func (cl *CollateralLedger) Check(owner uuid.UUID, asset Asset, required uint64) (bool, uint64) {
	open := cl.OpenCollateral(owner, asset)
	shortfall := checked.SaturatingSub(required, open)
	return shortfall == 0, shortfall
}

// Lock ensures required is locked for the owner. Open balance is consumed
// first; any shortfall is pulled through the transfer adapter as a
// simultaneous deposit-and-lock. For native assets the attached value must
// equal the shortfall exactly — anything else fails with ErrValueMismatch
// so the caller neither overpays nor wedges the operation.
func (cl *CollateralLedger) Lock(ctx context.Context, owner uuid.UUID, asset Asset, required, attachedValue uint64) ([]Movement, error) {
	if err := asset.Validate(); err != nil {
		return nil, err
	}
	if required == 0 {
		return nil, fmt.Errorf("lock amount must be positive")
	}

	bal := cl.getBalance(owner, asset)
	shortfall := checked.SaturatingSub(required, bal.Open)

	if asset.IsNative() {
		if attachedValue != shortfall {
			return nil, fmt.Errorf("lock of %d needs attached value %d, got %d: %w", required, shortfall, attachedValue, ErrValueMismatch)
		}
	} else if attachedValue != 0 {
		return nil, fmt.Errorf("token lock with attached value %d: %w", attachedValue, ErrValueMismatch)
	}

	if shortfall > 0 {
		if err := cl.adapterFor(asset).Pull(ctx, owner, asset, shortfall, attachedValue); err != nil {
			return nil, fmt.Errorf("lock shortfall pull for %s: %w", owner, err)
		}
	}

	// Open decrements by what it actually contributed, not the full
	// requirement: required - shortfall.
	fromOpen := required - shortfall

	newLocked, err := checked.AddU64(bal.Locked, required)
	if err != nil {
		return nil, fmt.Errorf("lock overflows locked balance for %s: %w", owner, err)
	}

	bal.Open -= fromOpen
	bal.Locked = newLocked

	movements := make([]Movement, 0, 2)
	if fromOpen > 0 {
		movements = append(movements, Movement{
			From:   NewOwnerAccountKey(owner, SubTypeOpen, asset),
			To:     NewOwnerAccountKey(owner, SubTypeLocked, asset),
			Asset:  asset,
			Amount: fromOpen,
			Type:   MovementLock,
		})
	}
	if shortfall > 0 {
		movements = append(movements, Movement{
			From:   NewExternalAccountKey(SubTypeExternalDeposits, asset),
			To:     NewOwnerAccountKey(owner, SubTypeLocked, asset),
			Asset:  asset,
			Amount: shortfall,
			Type:   MovementLockShortfall,
		})
	}

	return movements, nil
}

// Unlock moves amount from locked back to open. ErrInsufficientLocked here
// means the caller's own bookkeeping is off — the registry never asks to
// unlock more than it locked.
func (cl *CollateralLedger) Unlock(owner uuid.UUID, asset Asset, amount uint64) ([]Movement, error) {
	if amount == 0 {
		return nil, fmt.Errorf("unlock amount must be positive")
	}

	bal := cl.getBalance(owner, asset)
	newLocked, err := checked.SubU64(bal.Locked, amount)
	if err != nil {
		return nil, fmt.Errorf("unlock %d exceeds locked %d for %s: %w", amount, bal.Locked, owner, ErrInsufficientLocked)
	}
	newOpen, err := checked.AddU64(bal.Open, amount)
	if err != nil {
		return nil, fmt.Errorf("unlock overflows open balance for %s: %w", owner, err)
	}

	bal.Locked = newLocked
	bal.Open = newOpen

	return []Movement{{
		From:   NewOwnerAccountKey(owner, SubTypeLocked, asset),
		To:     NewOwnerAccountKey(owner, SubTypeOpen, asset),
		Asset:  asset,
		Amount: amount,
		Type:   MovementUnlock,
	}}, nil
}

// Settle atomically decreases fromOwner's locked balance by fromAmount and
// increases toOwner's open balance by toAmount. toAmount may not exceed
// fromAmount — the excess would create value from nothing. Used only at
// the final handoff.
func (cl *CollateralLedger) Settle(fromOwner uuid.UUID, fromAmount uint64, toOwner uuid.UUID, toAmount uint64, asset Asset) ([]Movement, error) {
	if fromAmount == 0 || toAmount == 0 {
		return nil, fmt.Errorf("settle amounts must be positive")
	}
	if toAmount > fromAmount {
		return nil, fmt.Errorf("settle credits %d but only debits %d", toAmount, fromAmount)
	}

	fromBal := cl.getBalance(fromOwner, asset)
	newLocked, err := checked.SubU64(fromBal.Locked, fromAmount)
	if err != nil {
		return nil, fmt.Errorf("settle %d exceeds locked %d for %s: %w", fromAmount, fromBal.Locked, fromOwner, ErrInsufficientLocked)
	}

	toBal := cl.getBalance(toOwner, asset)
	newOpen, err := checked.AddU64(toBal.Open, toAmount)
	if err != nil {
		return nil, fmt.Errorf("settle overflows open balance for %s: %w", toOwner, err)
	}

	fromBal.Locked = newLocked
	toBal.Open = newOpen

	movements := []Movement{{
		From:   NewOwnerAccountKey(fromOwner, SubTypeLocked, asset),
		To:     NewOwnerAccountKey(toOwner, SubTypeOpen, asset),
		Asset:  asset,
		Amount: toAmount,
		Type:   MovementSettle,
	}}

	// Any remainder leaves the ledger through the withdrawal boundary.
	if remainder := fromAmount - toAmount; remainder > 0 {
		movements = append(movements, Movement{
			From:   NewOwnerAccountKey(fromOwner, SubTypeLocked, asset),
			To:     NewExternalAccountKey(SubTypeExternalWithdrawals, asset),
			Asset:  asset,
			Amount: remainder,
			Type:   MovementSettle,
		})
	}

	return movements, nil
}

// Withdraw debits the owner's open balance and pushes amount out through
// the transfer adapter. The internal decrement commits before the outbound
// push and is rolled back if the push fails, so the call is all-or-nothing
// and no balance is ever observable mid-transfer.
func (cl *CollateralLedger) Withdraw(ctx context.Context, owner uuid.UUID, asset Asset, amount uint64) ([]Movement, error) {
	if amount == 0 {
		return nil, fmt.Errorf("withdraw amount must be positive")
	}

	bal := cl.getBalance(owner, asset)
	newOpen, err := checked.SubU64(bal.Open, amount)
	if err != nil {
		return nil, fmt.Errorf("withdraw %d exceeds open %d for %s: %w", amount, bal.Open, owner, ErrInsufficientOpen)
	}

	bal.Open = newOpen

	if err := cl.adapterFor(asset).Push(ctx, owner, asset, amount); err != nil {
		bal.Open += amount // restore — push failure leaves state unchanged
		return nil, fmt.Errorf("withdraw push for %s: %w", owner, err)
	}

	return []Movement{{
		From:   NewOwnerAccountKey(owner, SubTypeOpen, asset),
		To:     NewExternalAccountKey(SubTypeExternalWithdrawals, asset),
		Asset:  asset,
		Amount: amount,
		Type:   MovementWithdraw,
	}}, nil
}

// === Read surface ===

// OpenCollateral returns the owner's withdrawable balance.
func (cl *CollateralLedger) OpenCollateral(owner uuid.UUID, asset Asset) uint64 {
	if bal := cl.balances[BalanceKey{Owner: owner, Asset: asset}]; bal != nil {
		return bal.Open
	}
	return 0
}

// LockedCollateral returns the owner's pledged balance.
func (cl *CollateralLedger) LockedCollateral(owner uuid.UUID, asset Asset) uint64 {
	if bal := cl.balances[BalanceKey{Owner: owner, Asset: asset}]; bal != nil {
		return bal.Locked
	}
	return 0
}

// BalanceOf returns a copy of the owner's balance record.
func (cl *CollateralLedger) BalanceOf(owner uuid.UUID, asset Asset) Balance {
	if bal := cl.balances[BalanceKey{Owner: owner, Asset: asset}]; bal != nil {
		return *bal
	}
	return Balance{}
}

// Snapshot returns a copy of all balances (for state hashing and restore)
func (cl *CollateralLedger) Snapshot() map[BalanceKey]Balance {
	snapshot := make(map[BalanceKey]Balance, len(cl.balances))
	for k, v := range cl.balances {
		snapshot[k] = *v
	}
	return snapshot
}

// Restore overwrites a balance record (used for snapshot restore)
func (cl *CollateralLedger) Restore(key BalanceKey, bal Balance) {
	b := bal
	cl.balances[key] = &b
}
