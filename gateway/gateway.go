// Package gateway is the boundary to the external settlement ledger. The
// core consumes it through the narrow Ledger interface; the HTTP client here
// is one implementation, tests substitute their own.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/reliefgrid/treasury/fund"
)

// TransferState is the externally reported state of one transfer.
type TransferState string

const (
	TransferPending   TransferState = "pending"
	TransferConfirmed TransferState = "confirmed"
	TransferFailed    TransferState = "failed"
)

// TransferResult is the per-recipient outcome of a submission batch. A
// missing Ref means the ledger did not accept the transfer for that
// recipient.
type TransferResult struct {
	Address string `json:"address"`
	Ref     string `json:"transfer_ref,omitempty"`
}

// Accepted reports whether the submission produced a confirmable reference.
func (r TransferResult) Accepted() bool {
	return r.Ref != ""
}

// Ledger is the transfer/query contract with the settlement network. Every
// method blocks at most for the client's per-call timeout.
type Ledger interface {
	// Connect verifies the ledger is reachable. It must succeed before the
	// settlement agent starts.
	Connect(ctx context.Context) error

	// Balance returns the current account balance in the base unit.
	Balance(ctx context.Context) (decimal.Decimal, error)

	// SubmitTransfers submits one transfer per recipient. Submissions are
	// independent: the result slice is positionally aligned with the input
	// and an entry without a ref signals that recipient's transfer was not
	// accepted.
	SubmitTransfers(ctx context.Context, transfers []fund.Recipient) ([]TransferResult, error)

	// TransferStatus reports the current state of a submitted transfer.
	TransferStatus(ctx context.Context, ref string) (TransferState, error)

	// DefaultRecipients returns the ledger's recipient weight table for a
	// disaster type.
	DefaultRecipients(ctx context.Context, t fund.DisasterType) ([]fund.WeightedRecipient, error)

	// NetworkInfo returns descriptive network metadata, for statistics only.
	NetworkInfo(ctx context.Context) (map[string]string, error)
}
