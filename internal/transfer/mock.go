package transfer

import (
	"context"
	"fmt"

	"EscrowLedger/internal/ledger"

	"github.com/google/uuid"
)

// Call records one adapter invocation for test assertions.
type Call struct {
	Op            string // "pull" or "push"
	Owner         uuid.UUID
	Asset         ledger.Asset
	Amount        uint64
	AttachedValue uint64
}

// RecordingAdapter is a configurable test double. It records every call
// and can be armed to fail pulls or pushes, optionally after N successes.
type RecordingAdapter struct {
	Calls []Call

	FailPull bool
	FailPush bool

	// FailPushAfter fails pushes once this many have succeeded.
	// Negative means never.
	FailPushAfter int

	pushCount int
}

func NewRecordingAdapter() *RecordingAdapter {
	return &RecordingAdapter{FailPushAfter: -1}
}

func (a *RecordingAdapter) Pull(ctx context.Context, owner uuid.UUID, asset ledger.Asset, amount, attachedValue uint64) error {
	a.Calls = append(a.Calls, Call{Op: "pull", Owner: owner, Asset: asset, Amount: amount, AttachedValue: attachedValue})
	if a.FailPull {
		return fmt.Errorf("armed pull failure: %w", ledger.ErrTransferFailed)
	}
	return nil
}

func (a *RecordingAdapter) Push(ctx context.Context, owner uuid.UUID, asset ledger.Asset, amount uint64) error {
	a.Calls = append(a.Calls, Call{Op: "push", Owner: owner, Asset: asset, Amount: amount})
	if a.FailPush {
		return fmt.Errorf("armed push failure: %w", ledger.ErrTransferFailed)
	}
	if a.FailPushAfter >= 0 && a.pushCount >= a.FailPushAfter {
		return fmt.Errorf("armed push failure after %d: %w", a.FailPushAfter, ledger.ErrTransferFailed)
	}
	a.pushCount++
	return nil
}

// Pulls returns only the recorded pull calls.
func (a *RecordingAdapter) Pulls() []Call {
	return a.filter("pull")
}

// Pushes returns only the recorded push calls.
func (a *RecordingAdapter) Pushes() []Call {
	return a.filter("push")
}

func (a *RecordingAdapter) filter(op string) []Call {
	out := make([]Call, 0, len(a.Calls))
	for _, c := range a.Calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}
