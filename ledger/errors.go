package ledger

import "errors"

// Common ledger errors.
var (
	// ErrNotFound is returned when no disbursement has the given transaction id.
	ErrNotFound = errors.New("transaction not found")

	// ErrNotPending is returned when a move targets an entry that is no
	// longer in the pending partition.
	ErrNotPending = errors.New("transaction not pending")

	// ErrDuplicateID is returned when an insert reuses a transaction id.
	ErrDuplicateID = errors.New("transaction id already exists")

	// ErrNotTerminal is returned when a move is attempted with a
	// non-terminal status.
	ErrNotTerminal = errors.New("status is not terminal")
)
