package transfer_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/transfer"

	"github.com/google/uuid"
)

// ============================================================================
// Test: NativeAdapter
// ============================================================================

type recordingSink struct {
	sends  []uint64
	reject bool
}

func (s *recordingSink) Send(ctx context.Context, to uuid.UUID, amount uint64) error {
	if s.reject {
		return fmt.Errorf("destination rejected transfer")
	}
	s.sends = append(s.sends, amount)
	return nil
}

func TestNativeAdapter_PullVerifiesAttachment(t *testing.T) {
	adapter := transfer.NewNativeAdapter(&recordingSink{})

	if err := adapter.Pull(context.Background(), uuid.New(), ledger.Native(), 100, 100); err != nil {
		t.Fatalf("exact attachment: %v", err)
	}

	err := adapter.Pull(context.Background(), uuid.New(), ledger.Native(), 100, 99)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("short attachment: got %v, want ErrTransferFailed", err)
	}
}

func TestNativeAdapter_RejectsTokenAsset(t *testing.T) {
	adapter := transfer.NewNativeAdapter(&recordingSink{})

	err := adapter.Pull(context.Background(), uuid.New(), ledger.Token("gold"), 100, 100)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("got %v, want ErrTransferFailed", err)
	}
	err = adapter.Push(context.Background(), uuid.New(), ledger.Token("gold"), 100)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("got %v, want ErrTransferFailed", err)
	}
}

func TestNativeAdapter_PushGoesThroughSink(t *testing.T) {
	sink := &recordingSink{}
	adapter := transfer.NewNativeAdapter(sink)

	if err := adapter.Push(context.Background(), uuid.New(), ledger.Native(), 60); err != nil {
		t.Fatalf("push: %v", err)
	}
	if len(sink.sends) != 1 || sink.sends[0] != 60 {
		t.Errorf("sends = %v, want [60]", sink.sends)
	}
}

func TestNativeAdapter_SinkRejectionIsTransferFailure(t *testing.T) {
	adapter := transfer.NewNativeAdapter(&recordingSink{reject: true})

	err := adapter.Push(context.Background(), uuid.New(), ledger.Native(), 60)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("got %v, want ErrTransferFailed", err)
	}
}

// ============================================================================
// Test: TokenAdapter
// ============================================================================

type recordingBackend struct {
	pulls, pushes []string
	fail          bool
}

func (b *recordingBackend) TransferFrom(ctx context.Context, contract string, from uuid.UUID, amount uint64) error {
	if b.fail {
		return fmt.Errorf("allowance exceeded")
	}
	b.pulls = append(b.pulls, fmt.Sprintf("%s/%d", contract, amount))
	return nil
}

func (b *recordingBackend) Transfer(ctx context.Context, contract string, to uuid.UUID, amount uint64) error {
	if b.fail {
		return fmt.Errorf("contract paused")
	}
	b.pushes = append(b.pushes, fmt.Sprintf("%s/%d", contract, amount))
	return nil
}

func TestTokenAdapter_PullUsesAllowance(t *testing.T) {
	backend := &recordingBackend{}
	adapter := transfer.NewTokenAdapter(backend)

	if err := adapter.Pull(context.Background(), uuid.New(), ledger.Token("gold"), 50, 0); err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(backend.pulls) != 1 || backend.pulls[0] != "gold/50" {
		t.Errorf("pulls = %v, want [gold/50]", backend.pulls)
	}
}

func TestTokenAdapter_PullRejectsAttachedValue(t *testing.T) {
	adapter := transfer.NewTokenAdapter(&recordingBackend{})

	err := adapter.Pull(context.Background(), uuid.New(), ledger.Token("gold"), 50, 1)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("got %v, want ErrTransferFailed", err)
	}
}

func TestTokenAdapter_BackendFailureIsTransferFailure(t *testing.T) {
	adapter := transfer.NewTokenAdapter(&recordingBackend{fail: true})

	err := adapter.Pull(context.Background(), uuid.New(), ledger.Token("gold"), 50, 0)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("pull: got %v, want ErrTransferFailed", err)
	}
	err = adapter.Push(context.Background(), uuid.New(), ledger.Token("gold"), 50)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("push: got %v, want ErrTransferFailed", err)
	}
}

// ============================================================================
// Test: Gate
// ============================================================================

func TestGate_PassThroughUntilArmed(t *testing.T) {
	inner := transfer.NewRecordingAdapter()
	inner.FailPull = true
	inner.FailPush = true
	gate := transfer.NewGate(inner)

	// Unarmed: succeeds without touching the inner adapter.
	if err := gate.Pull(context.Background(), uuid.New(), ledger.Native(), 100, 100); err != nil {
		t.Fatalf("unarmed pull: %v", err)
	}
	if err := gate.Push(context.Background(), uuid.New(), ledger.Native(), 100); err != nil {
		t.Fatalf("unarmed push: %v", err)
	}
	if len(inner.Calls) != 0 {
		t.Errorf("inner adapter saw %d calls while unarmed, want 0", len(inner.Calls))
	}

	gate.Arm()

	err := gate.Pull(context.Background(), uuid.New(), ledger.Native(), 100, 100)
	if !errors.Is(err, ledger.ErrTransferFailed) {
		t.Errorf("armed pull: got %v, want inner failure", err)
	}
	if len(inner.Calls) != 1 {
		t.Errorf("inner adapter saw %d calls after arming, want 1", len(inner.Calls))
	}
}
