package core

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"EscrowLedger/internal/event"
	"EscrowLedger/internal/ledger"
	"EscrowLedger/internal/listing"
)

// SnapshotState captures the engine's full in-memory state at a sequence
// boundary. Sequence is the next sequence the engine would assign.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.BalanceKey]ledger.Balance
	Listings        []listing.Listing
	IdempotencyKeys []string
}

// CreateSnapshotState copies the engine's current state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	return &SnapshotState{
		Sequence:        e.sequence,
		StateHash:       e.hasher.GetPrevHash(),
		Balances:        e.ledger.Snapshot(),
		Listings:        e.registry.All(),
		IdempotencyKeys: e.idempotency.RecentKeys(0),
	}
}

// RestoreFromSnapshot loads a snapshot into a freshly constructed engine.
// Must be called before any operation is applied.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequence = snap.Sequence
	e.hasher.SetPrevHash(snap.StateHash)

	for key, bal := range snap.Balances {
		e.ledger.Restore(key, bal)
	}

	// Registry restore requires slots in index order per seller.
	items := make([]listing.Listing, len(snap.Listings))
	copy(items, snap.Listings)
	sort.Slice(items, func(i, j int) bool {
		if items[i].Seller != items[j].Seller {
			return items[i].Seller.String() < items[j].Seller.String()
		}
		return items[i].Index < items[j].Index
	})
	for _, l := range items {
		if err := e.registry.Restore(l); err != nil {
			return fmt.Errorf("restore listing: %w", err)
		}
	}

	e.idempotency.Warm(snap.IdempotencyKeys)
	return nil
}

// BeginReplay switches off dedup while the event log is re-applied.
// Only valid before the engine serves traffic.
func (e *Engine) BeginReplay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replay = true
}

// EndReplay re-enables dedup after replay completes.
func (e *Engine) EndReplay() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.replay = false
}

// WarmLRU preloads composite idempotency keys, typically read back from
// the event log on restart.
func (e *Engine) WarmLRU(keys []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.idempotency.Warm(keys)
}

// StateHash returns the current hash chain tip.
func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// ApplyLoggedEvent replays one event from the durable log through the
// normal operation path. The caller must run replay with transfer
// adapters in pass-through mode so no external value moves twice.
// Duplicate operations are skipped silently.
func (e *Engine) ApplyLoggedEvent(ctx context.Context, eventType string, payload []byte) error {
	switch eventType {
	case event.EventTypeCollateralDeposited.String():
		var evt event.CollateralDeposited
		if err := json.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		asset, err := ledger.ParseAsset(evt.Asset)
		if err != nil {
			return err
		}
		attached := uint64(0)
		if asset.IsNative() {
			attached = evt.Amount
		}
		return skipDuplicate(e.Deposit(ctx, evt.OpID, evt.Owner, asset, evt.Amount, attached))

	case event.EventTypeCollateralWithdrawn.String():
		var evt event.CollateralWithdrawn
		if err := json.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		asset, err := ledger.ParseAsset(evt.Asset)
		if err != nil {
			return err
		}
		return skipDuplicate(e.Withdraw(ctx, evt.OpID, evt.Owner, asset, evt.Amount))

	case event.EventTypeItemListed.String():
		var evt event.ItemListed
		if err := json.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		asset, err := ledger.ParseAsset(evt.Asset)
		if err != nil {
			return err
		}
		var ref listing.ItemRef
		b, err := hex.DecodeString(evt.ItemRef)
		if err != nil || len(b) != len(ref) {
			return fmt.Errorf("invalid item_ref in logged %s", eventType)
		}
		copy(ref[:], b)
		_, err = e.List(ctx, evt.OpID, evt.Seller, ref, evt.Price, asset, evt.Attached)
		return skipDuplicate(err)

	case event.EventTypePriceUpdated.String():
		var evt event.PriceUpdated
		if err := json.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		_, err := e.UpdatePrice(ctx, evt.OpID, evt.Seller, evt.Index, evt.NewPrice, evt.Attached)
		return skipDuplicate(err)

	case event.EventTypeListingCanceled.String():
		var evt event.ListingCanceled
		if err := json.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		_, err := e.Cancel(evt.OpID, evt.Seller, evt.Index)
		return skipDuplicate(err)

	case event.EventTypeBuyCommitted.String():
		var evt event.BuyCommitted
		if err := json.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		_, err := e.Buy(ctx, evt.OpID, evt.Buyer, evt.Seller, evt.Index, evt.Attached)
		return skipDuplicate(err)

	case event.EventTypeBuyCanceled.String():
		var evt event.BuyCanceled
		if err := json.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		_, err := e.CancelBuy(evt.OpID, evt.Buyer, evt.Seller, evt.Index)
		return skipDuplicate(err)

	case event.EventTypeItemSent.String():
		var evt event.ItemSent
		if err := json.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		_, err := e.MarkSent(evt.OpID, evt.Seller, evt.Index)
		return skipDuplicate(err)

	case event.EventTypeItemReceived.String():
		var evt event.ItemReceived
		if err := json.Unmarshal(payload, &evt); err != nil {
			return fmt.Errorf("unmarshal %s: %w", eventType, err)
		}
		_, err := e.MarkReceived(evt.OpID, evt.Buyer, evt.Seller, evt.Index)
		return skipDuplicate(err)

	default:
		return fmt.Errorf("unknown event type %q", eventType)
	}
}

func skipDuplicate(err error) error {
	if errors.Is(err, ErrDuplicateOperation) {
		return nil
	}
	return err
}
