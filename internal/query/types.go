package query

import "github.com/google/uuid"

// ListingResponse represents a listing slot for API queries.
type ListingResponse struct {
	Seller  uuid.UUID `json:"seller"`
	Index   int64     `json:"index"`
	ItemRef []byte    `json:"item_ref"`
	Price   int64     `json:"price"`
	Asset   string    `json:"asset"`
	Buyer   *string   `json:"buyer,omitempty"`
	State   int32     `json:"state"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

// JournalHistoryEntry is one journal movement touching an owner's accounts.
type JournalHistoryEntry struct {
	MovementID   uuid.UUID `json:"movement_id"`
	BatchID      uuid.UUID `json:"batch_id"`
	OpRef        string    `json:"op_ref"`
	Sequence     int64     `json:"sequence"`
	FromAccount  string    `json:"from_account"`
	ToAccount    string    `json:"to_account"`
	Asset        string    `json:"asset"`
	Amount       int64     `json:"amount"`
	MovementType int32     `json:"movement_type"`
	Timestamp    int64     `json:"timestamp"`
}

// IntegrityReport summarizes log and balance invariant checks.
type IntegrityReport struct {
	IsHealthy        bool             `json:"is_healthy"`
	HashChainBreaks  []int64          `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset flags an asset whose movements do not sum to zero.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance int64  `json:"imbalance"`
}
