package listing

import (
	"crypto/sha256"

	"EscrowLedger/internal/ledger"

	"github.com/google/uuid"
)

// State is the lifecycle position of a listing. Received and Canceled are
// terminal; finalized listings are retained for audit and read access.
type State uint8

const (
	StateListed State = iota
	StateBuyCommitted
	StateSent
	StateReceived
	StateCanceled
)

func (s State) String() string {
	switch s {
	case StateListed:
		return "Listed"
	case StateBuyCommitted:
		return "BuyCommitted"
	case StateSent:
		return "Sent"
	case StateReceived:
		return "Received"
	case StateCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool {
	return s == StateReceived || s == StateCanceled
}

// ItemRef is the fixed-size opaque handle for the item being sold.
// The zero value is the sentinel for "slot never used".
type ItemRef [32]byte

// ItemRefOf derives a handle from arbitrary item data.
func ItemRefOf(data []byte) ItemRef {
	return sha256.Sum256(data)
}

func (r ItemRef) IsZero() bool {
	return r == ItemRef{}
}

// Listing is one escrowed sale, keyed by (seller, index). Index is a
// seller-scoped counter starting at 0, never recycled.
type Listing struct {
	Seller  uuid.UUID
	Index   uint64
	ItemRef ItemRef
	Price   uint64
	Asset   ledger.Asset
	Buyer   *uuid.UUID // nil until a buy is committed
	State   State
}

// clone returns a copy safe to hand to readers. The Buyer pointer is
// duplicated so callers cannot alias registry state.
func (l *Listing) clone() Listing {
	out := *l
	if l.Buyer != nil {
		b := *l.Buyer
		out.Buyer = &b
	}
	return out
}
