package event

import (
	"time"
)

// EventType discriminator for event payloads
type EventType int32

const (
	EventTypeUnknown EventType = iota
	EventTypeCollateralDeposited
	EventTypeCollateralWithdrawn
	EventTypeItemListed
	EventTypePriceUpdated
	EventTypeListingCanceled
	EventTypeBuyCommitted
	EventTypeBuyCanceled
	EventTypeItemSent
	EventTypeItemReceived
)

// Envelope wraps every operation in the log
type Envelope struct {
	// Global monotonic sequence assigned by the core
	Sequence int64

	// Stable idempotency key (operation ID) from the caller
	IdempotencyKey string

	// Event type discriminator
	EventType EventType

	// Seller context for listing events (nullable for pure balance events)
	Seller *string

	// When the operation was accepted
	Timestamp time.Time

	// JSON-encoded event-specific payload
	Payload []byte

	// SHA-256 of ledger state AFTER applying this operation
	StateHash [32]byte

	// Previous operation's state hash (chain integrity)
	PrevHash [32]byte
}

// Event is the interface all operation payloads implement
type Event interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// EventType returns the discriminator
	EventType() EventType

	// SellerID returns the seller context (nil for balance-only events)
	SellerID() *string
}

func (et EventType) String() string {
	switch et {
	case EventTypeCollateralDeposited:
		return "CollateralDeposited"
	case EventTypeCollateralWithdrawn:
		return "CollateralWithdrawn"
	case EventTypeItemListed:
		return "ItemListed"
	case EventTypePriceUpdated:
		return "PriceUpdated"
	case EventTypeListingCanceled:
		return "ListingCanceled"
	case EventTypeBuyCommitted:
		return "BuyCommitted"
	case EventTypeBuyCanceled:
		return "BuyCanceled"
	case EventTypeItemSent:
		return "ItemSent"
	case EventTypeItemReceived:
		return "ItemReceived"
	default:
		return "Unknown"
	}
}
