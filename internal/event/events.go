package event

import (
	"time"

	"github.com/google/uuid"
)

// Balance events

type CollateralDeposited struct {
	OpID      uuid.UUID `json:"op_id"`
	Owner     uuid.UUID `json:"owner"`
	Asset     string    `json:"asset"`
	Amount    uint64    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *CollateralDeposited) IdempotencyKey() string { return e.OpID.String() }
func (e *CollateralDeposited) EventType() EventType   { return EventTypeCollateralDeposited }
func (e *CollateralDeposited) SellerID() *string      { return nil }

type CollateralWithdrawn struct {
	OpID      uuid.UUID `json:"op_id"`
	Owner     uuid.UUID `json:"owner"`
	Asset     string    `json:"asset"`
	Amount    uint64    `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *CollateralWithdrawn) IdempotencyKey() string { return e.OpID.String() }
func (e *CollateralWithdrawn) EventType() EventType   { return EventTypeCollateralWithdrawn }
func (e *CollateralWithdrawn) SellerID() *string      { return nil }

// Listing lifecycle events

type ItemListed struct {
	OpID      uuid.UUID `json:"op_id"`
	Seller    uuid.UUID `json:"seller"`
	Index     uint64    `json:"index"`
	ItemRef   string    `json:"item_ref"` // hex
	Price     uint64    `json:"price"`
	Asset     string    `json:"asset"`
	Attached  uint64    `json:"attached_value"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *ItemListed) IdempotencyKey() string { return e.OpID.String() }
func (e *ItemListed) EventType() EventType   { return EventTypeItemListed }
func (e *ItemListed) SellerID() *string      { s := e.Seller.String(); return &s }

type PriceUpdated struct {
	OpID      uuid.UUID `json:"op_id"`
	Seller    uuid.UUID `json:"seller"`
	Index     uint64    `json:"index"`
	OldPrice  uint64    `json:"old_price"`
	NewPrice  uint64    `json:"new_price"`
	Attached  uint64    `json:"attached_value"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *PriceUpdated) IdempotencyKey() string { return e.OpID.String() }
func (e *PriceUpdated) EventType() EventType   { return EventTypePriceUpdated }
func (e *PriceUpdated) SellerID() *string      { s := e.Seller.String(); return &s }

type ListingCanceled struct {
	OpID      uuid.UUID `json:"op_id"`
	Seller    uuid.UUID `json:"seller"`
	Index     uint64    `json:"index"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *ListingCanceled) IdempotencyKey() string { return e.OpID.String() }
func (e *ListingCanceled) EventType() EventType   { return EventTypeListingCanceled }
func (e *ListingCanceled) SellerID() *string      { s := e.Seller.String(); return &s }

type BuyCommitted struct {
	OpID      uuid.UUID `json:"op_id"`
	Buyer     uuid.UUID `json:"buyer"`
	Seller    uuid.UUID `json:"seller"`
	Index     uint64    `json:"index"`
	Locked    uint64    `json:"locked"` // payment + matching collateral
	Attached  uint64    `json:"attached_value"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BuyCommitted) IdempotencyKey() string { return e.OpID.String() }
func (e *BuyCommitted) EventType() EventType   { return EventTypeBuyCommitted }
func (e *BuyCommitted) SellerID() *string      { s := e.Seller.String(); return &s }

type BuyCanceled struct {
	OpID      uuid.UUID `json:"op_id"`
	Buyer     uuid.UUID `json:"buyer"`
	Seller    uuid.UUID `json:"seller"`
	Index     uint64    `json:"index"`
	Released  uint64    `json:"released"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *BuyCanceled) IdempotencyKey() string { return e.OpID.String() }
func (e *BuyCanceled) EventType() EventType   { return EventTypeBuyCanceled }
func (e *BuyCanceled) SellerID() *string      { s := e.Seller.String(); return &s }

type ItemSent struct {
	OpID      uuid.UUID `json:"op_id"`
	Seller    uuid.UUID `json:"seller"`
	Index     uint64    `json:"index"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *ItemSent) IdempotencyKey() string { return e.OpID.String() }
func (e *ItemSent) EventType() EventType   { return EventTypeItemSent }
func (e *ItemSent) SellerID() *string      { s := e.Seller.String(); return &s }

type ItemReceived struct {
	OpID      uuid.UUID `json:"op_id"`
	Buyer     uuid.UUID `json:"buyer"`
	Seller    uuid.UUID `json:"seller"`
	Index     uint64    `json:"index"`
	Price     uint64    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *ItemReceived) IdempotencyKey() string { return e.OpID.String() }
func (e *ItemReceived) EventType() EventType   { return EventTypeItemReceived }
func (e *ItemReceived) SellerID() *string      { s := e.Seller.String(); return &s }
