package query

import (
	"github.com/google/uuid"
)

// BalanceResponse represents owner collateral state for API queries.
type BalanceResponse struct {
	Owner uuid.UUID `json:"owner"`
	Asset string    `json:"asset"`

	// Ledger balances (from journal movements)
	OpenBalance   int64 `json:"open_balance"`   // withdrawable, usable for new locks
	LockedBalance int64 `json:"locked_balance"` // held against active listings and buys
	TotalBalance  int64 `json:"total_balance"`  // open + locked

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last projected event sequence
}
