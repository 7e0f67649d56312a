package ledger

import "errors"

// Failure taxonomy for ledger and registry operations. Every failure aborts
// the whole operation with no partial mutation; callers classify with
// errors.Is. ErrInsufficientLocked is an internal-consistency fault when
// raised by registry bookkeeping rather than user input — the error text
// carries enough context to tell the two apart in logs.
var (
	// ErrInsufficientOpen: withdraw or lock needs more open collateral
	// than the owner holds.
	ErrInsufficientOpen = errors.New("insufficient open collateral")

	// ErrInsufficientLocked: unlock or settle exceeds the locked balance.
	ErrInsufficientLocked = errors.New("insufficient locked collateral")

	// ErrValueMismatch: a native-asset lock's attached value does not
	// equal the computed shortfall.
	ErrValueMismatch = errors.New("attached value does not match required shortfall")

	// ErrInsufficientValueSent: a native-asset deposit's attached value
	// does not cover the deposit amount.
	ErrInsufficientValueSent = errors.New("attached value does not cover deposit amount")

	// ErrTransferFailed: the asset transfer adapter could not move value.
	ErrTransferFailed = errors.New("asset transfer failed")

	// ErrInvalidState: operation attempted from a listing state that
	// forbids it.
	ErrInvalidState = errors.New("operation not allowed in current listing state")

	// ErrNotAuthorized: caller is not the required seller or buyer.
	ErrNotAuthorized = errors.New("caller not authorized for this listing")

	// ErrInvalidListing: empty item reference or unknown listing index.
	ErrInvalidListing = errors.New("invalid listing")
)
