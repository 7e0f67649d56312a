package ledger

import "github.com/google/uuid"

// BalanceKey partitions collateral balances by (owner, asset)
type BalanceKey struct {
	Owner uuid.UUID
	Asset Asset
}

// Balance is an owner's collateral for one asset, split into the
// withdrawable half and the half pledged against listings.
// open + locked only changes through deposit and withdraw.
type Balance struct {
	Open   uint64
	Locked uint64
}

// Total returns open + locked. Deposits are overflow-checked before they
// reach a balance, so the sum of two halves of a checked total cannot wrap.
func (b Balance) Total() uint64 {
	return b.Open + b.Locked
}

// IsZero reports whether the record is equivalent to absent.
func (b Balance) IsZero() bool {
	return b.Open == 0 && b.Locked == 0
}
