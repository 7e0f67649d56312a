package listing

import (
	"context"
	"fmt"

	"EscrowLedger/internal/ledger"
	checked "EscrowLedger/internal/math"

	"github.com/google/uuid"
)

// Registry owns listing records and their lifecycle. It never mutates
// balances directly: every collateral delta is delegated to the ledger,
// and listing state only advances after the ledger call succeeds, keeping
// each operation all-or-nothing.
//
// Not thread-safe — only accessed from the serialized core.
type Registry struct {
	ledger *ledger.CollateralLedger
	items  map[uuid.UUID][]*Listing // per-seller, slice position == index
}

func NewRegistry(cl *ledger.CollateralLedger) *Registry {
	return &Registry{
		ledger: cl,
		items:  make(map[uuid.UUID][]*Listing),
	}
}

// lookup returns the live listing at (seller, index) or ErrInvalidListing.
func (r *Registry) lookup(seller uuid.UUID, index uint64) (*Listing, error) {
	slots := r.items[seller]
	if index >= uint64(len(slots)) {
		return nil, fmt.Errorf("seller %s has no listing at index %d: %w", seller, index, ledger.ErrInvalidListing)
	}
	l := slots[index]
	if l.ItemRef.IsZero() {
		return nil, fmt.Errorf("listing (%s, %d) was never assigned: %w", seller, index, ledger.ErrInvalidListing)
	}
	return l, nil
}

// List creates a listing at the seller's next index and locks the asking
// price as seller collateral. For native assets attachedValue covers any
// shortfall beyond the seller's open balance.
func (r *Registry) List(ctx context.Context, seller uuid.UUID, itemRef ItemRef, price uint64, asset ledger.Asset, attachedValue uint64) (Listing, []ledger.Movement, error) {
	if itemRef.IsZero() {
		return Listing{}, nil, fmt.Errorf("empty item reference: %w", ledger.ErrInvalidListing)
	}
	if price == 0 {
		return Listing{}, nil, fmt.Errorf("price must be positive: %w", ledger.ErrInvalidListing)
	}
	if err := asset.Validate(); err != nil {
		return Listing{}, nil, fmt.Errorf("%v: %w", err, ledger.ErrInvalidListing)
	}

	movements, err := r.ledger.Lock(ctx, seller, asset, price, attachedValue)
	if err != nil {
		return Listing{}, nil, fmt.Errorf("lock seller collateral: %w", err)
	}

	l := &Listing{
		Seller:  seller,
		Index:   uint64(len(r.items[seller])),
		ItemRef: itemRef,
		Price:   price,
		Asset:   asset,
		State:   StateListed,
	}
	r.items[seller] = append(r.items[seller], l)

	return l.clone(), movements, nil
}

// UpdatePrice changes the asking price of a Listed listing, locking the
// extra delta or unlocking the released delta.
func (r *Registry) UpdatePrice(ctx context.Context, seller uuid.UUID, index uint64, newPrice, attachedValue uint64) (Listing, []ledger.Movement, error) {
	l, err := r.lookup(seller, index)
	if err != nil {
		return Listing{}, nil, err
	}
	if l.State != StateListed {
		return Listing{}, nil, fmt.Errorf("update price in state %s: %w", l.State, ledger.ErrInvalidState)
	}
	if newPrice == 0 {
		return Listing{}, nil, fmt.Errorf("price must be positive: %w", ledger.ErrInvalidListing)
	}
	if newPrice == l.Price {
		return Listing{}, nil, fmt.Errorf("price already %d: %w", newPrice, ledger.ErrInvalidState)
	}

	var movements []ledger.Movement
	if newPrice > l.Price {
		movements, err = r.ledger.Lock(ctx, seller, l.Asset, newPrice-l.Price, attachedValue)
		if err != nil {
			return Listing{}, nil, fmt.Errorf("lock price increase: %w", err)
		}
	} else {
		if l.Asset.IsNative() && attachedValue != 0 {
			return Listing{}, nil, fmt.Errorf("price decrease with attached value %d: %w", attachedValue, ledger.ErrValueMismatch)
		}
		movements, err = r.ledger.Unlock(seller, l.Asset, l.Price-newPrice)
		if err != nil {
			return Listing{}, nil, fmt.Errorf("unlock price decrease: %w", err)
		}
	}

	l.Price = newPrice
	return l.clone(), movements, nil
}

// Cancel withdraws a Listed listing and releases the seller's collateral.
// Canceled is terminal; the index is never reused.
func (r *Registry) Cancel(seller uuid.UUID, index uint64) (Listing, []ledger.Movement, error) {
	l, err := r.lookup(seller, index)
	if err != nil {
		return Listing{}, nil, err
	}
	if l.State != StateListed {
		return Listing{}, nil, fmt.Errorf("cancel in state %s: %w", l.State, ledger.ErrInvalidState)
	}

	movements, err := r.ledger.Unlock(seller, l.Asset, l.Price)
	if err != nil {
		return Listing{}, nil, fmt.Errorf("unlock seller collateral: %w", err)
	}

	l.State = StateCanceled
	return l.clone(), movements, nil
}

// Buy commits the buyer to the purchase, locking payment plus an equal
// matching collateral (2× price) as a deterrent against reneging.
func (r *Registry) Buy(ctx context.Context, buyer, seller uuid.UUID, index uint64, attachedValue uint64) (Listing, []ledger.Movement, error) {
	l, err := r.lookup(seller, index)
	if err != nil {
		return Listing{}, nil, err
	}
	if l.State != StateListed {
		return Listing{}, nil, fmt.Errorf("buy in state %s: %w", l.State, ledger.ErrInvalidState)
	}
	if buyer == seller {
		return Listing{}, nil, fmt.Errorf("seller cannot buy own listing: %w", ledger.ErrNotAuthorized)
	}

	required, err := checked.MulU64(l.Price, 2)
	if err != nil {
		return Listing{}, nil, fmt.Errorf("buyer collateral overflows: %w", err)
	}

	movements, err := r.ledger.Lock(ctx, buyer, l.Asset, required, attachedValue)
	if err != nil {
		return Listing{}, nil, fmt.Errorf("lock buyer collateral: %w", err)
	}

	b := buyer
	l.Buyer = &b
	l.State = StateBuyCommitted
	return l.clone(), movements, nil
}

// CancelBuy releases the buyer's commitment and returns the listing to
// Listed. Only the recorded buyer may cancel.
func (r *Registry) CancelBuy(caller, seller uuid.UUID, index uint64) (Listing, []ledger.Movement, error) {
	l, err := r.lookup(seller, index)
	if err != nil {
		return Listing{}, nil, err
	}
	if l.State != StateBuyCommitted {
		return Listing{}, nil, fmt.Errorf("cancel buy in state %s: %w", l.State, ledger.ErrInvalidState)
	}
	if l.Buyer == nil || *l.Buyer != caller {
		return Listing{}, nil, fmt.Errorf("caller %s is not the recorded buyer: %w", caller, ledger.ErrNotAuthorized)
	}

	movements, err := r.ledger.Unlock(caller, l.Asset, l.Price*2)
	if err != nil {
		return Listing{}, nil, fmt.Errorf("unlock buyer collateral: %w", err)
	}

	l.Buyer = nil
	l.State = StateListed
	return l.clone(), movements, nil
}

// MarkSent records the seller's handoff. No balances move.
func (r *Registry) MarkSent(seller uuid.UUID, index uint64) (Listing, error) {
	l, err := r.lookup(seller, index)
	if err != nil {
		return Listing{}, err
	}
	if l.State != StateBuyCommitted {
		return Listing{}, fmt.Errorf("mark sent in state %s: %w", l.State, ledger.ErrInvalidState)
	}

	l.State = StateSent
	return l.clone(), nil
}

// MarkReceived confirms receipt and settles: the seller's own locked price
// returns to their open balance, and the buyer's locked 2×price splits
// into price for the seller (the payment) and price back to the buyer
// (the matching collateral). Net: seller +2×price open, buyer +price open.
// Locked sufficiency is verified for both parties before any movement so
// the three settle legs cannot fail midway.
func (r *Registry) MarkReceived(caller, seller uuid.UUID, index uint64) (Listing, []ledger.Movement, error) {
	l, err := r.lookup(seller, index)
	if err != nil {
		return Listing{}, nil, err
	}
	if l.State != StateSent {
		return Listing{}, nil, fmt.Errorf("mark received in state %s: %w", l.State, ledger.ErrInvalidState)
	}
	if l.Buyer == nil || *l.Buyer != caller {
		return Listing{}, nil, fmt.Errorf("caller %s is not the recorded buyer: %w", caller, ledger.ErrNotAuthorized)
	}
	buyer := *l.Buyer

	// Pre-check both locked balances. A shortfall here is registry
	// bookkeeping gone wrong, not user error.
	if got := r.ledger.LockedCollateral(seller, l.Asset); got < l.Price {
		return Listing{}, nil, fmt.Errorf("registry fault: seller locked %d below price %d: %w", got, l.Price, ledger.ErrInsufficientLocked)
	}
	if got := r.ledger.LockedCollateral(buyer, l.Asset); got < l.Price*2 {
		return Listing{}, nil, fmt.Errorf("registry fault: buyer locked %d below %d: %w", got, l.Price*2, ledger.ErrInsufficientLocked)
	}

	movements := make([]ledger.Movement, 0, 3)

	m, err := r.ledger.Settle(seller, l.Price, seller, l.Price, l.Asset)
	if err != nil {
		return Listing{}, nil, fmt.Errorf("settle seller collateral: %w", err)
	}
	movements = append(movements, m...)

	m, err = r.ledger.Settle(buyer, l.Price, seller, l.Price, l.Asset)
	if err != nil {
		return Listing{}, nil, fmt.Errorf("settle payment: %w", err)
	}
	movements = append(movements, m...)

	m, err = r.ledger.Settle(buyer, l.Price, buyer, l.Price, l.Asset)
	if err != nil {
		return Listing{}, nil, fmt.Errorf("settle buyer collateral: %w", err)
	}
	movements = append(movements, m...)

	l.State = StateReceived
	return l.clone(), movements, nil
}

// === Read surface ===

// GetItem returns the listing at (seller, index).
func (r *Registry) GetItem(seller uuid.UUID, index uint64) (Listing, error) {
	l, err := r.lookup(seller, index)
	if err != nil {
		return Listing{}, err
	}
	return l.clone(), nil
}

// GetItems returns all of a seller's listings in insertion order.
func (r *Registry) GetItems(seller uuid.UUID) []Listing {
	slots := r.items[seller]
	out := make([]Listing, 0, len(slots))
	for _, l := range slots {
		out = append(out, l.clone())
	}
	return out
}

// All returns every listing across all sellers, used when snapshotting.
func (r *Registry) All() []Listing {
	var out []Listing
	for _, slots := range r.items {
		for _, l := range slots {
			out = append(out, l.clone())
		}
	}
	return out
}

// NextIndex returns the index the seller's next listing will take.
func (r *Registry) NextIndex(seller uuid.UUID) uint64 {
	return uint64(len(r.items[seller]))
}

// Restore places a listing directly (used for snapshot restore). Slots are
// filled in index order.
func (r *Registry) Restore(l Listing) error {
	if l.Index != uint64(len(r.items[l.Seller])) {
		return fmt.Errorf("restore out of order: listing (%s, %d) with %d slots", l.Seller, l.Index, len(r.items[l.Seller]))
	}
	c := l.clone()
	r.items[l.Seller] = append(r.items[l.Seller], &c)
	return nil
}
