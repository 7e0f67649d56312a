package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeOwner AccountScope = iota
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Owner sub-types: the two halves of a collateral balance
	SubTypeOpen AccountSubType = iota
	SubTypeLocked

	// External boundary sub-types: where value enters and leaves the ledger
	SubTypeExternalDeposits
	SubTypeExternalWithdrawals
)

// AccountKey addresses one side of a collateral movement. Comparable,
// used as a map key by the journal digest.
type AccountKey struct {
	Scope   AccountScope
	OwnerID uuid.UUID // zero for external accounts
	SubType AccountSubType
	Asset   Asset
}

// NewOwnerAccountKey creates a key for an owner's open or locked balance
func NewOwnerAccountKey(ownerID uuid.UUID, subType AccountSubType, asset Asset) AccountKey {
	return AccountKey{
		Scope:   AccountScopeOwner,
		OwnerID: ownerID,
		SubType: subType,
		Asset:   asset,
	}
}

// NewExternalAccountKey creates a key for an external boundary account
func NewExternalAccountKey(subType AccountSubType, asset Asset) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Asset:   asset,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeOwner:
		return fmt.Sprintf("owner:%s:%s:%s", k.OwnerID.String(), k.subTypeName(), k.Asset.String())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), k.Asset.String())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeOpen:
		return "open"
	case SubTypeLocked:
		return "locked"
	case SubTypeExternalDeposits:
		return "deposits"
	case SubTypeExternalWithdrawals:
		return "withdrawals"
	default:
		return "unknown"
	}
}
