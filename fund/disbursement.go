package fund

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a disbursement. All states except
// StatusPending are terminal; a terminal status never reverts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
	StatusStopped   Status = "stopped"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// Recipient is one (address, amount) leg of a disbursement.
type Recipient struct {
	Address string          `json:"address"`
	Amount  decimal.Decimal `json:"amount"`
}

// WeightedRecipient is a recipient before the split: an address and its
// relative share of the total.
type WeightedRecipient struct {
	Address string  `json:"address" yaml:"address"`
	Weight  float64 `json:"weight" yaml:"weight"`
}

// Disbursement is one settlement-initiated batch of recipient transfers tied
// to one verified event. It is owned by the transaction ledger from insertion
// until it reaches a terminal status, and is never deleted afterwards.
type Disbursement struct {
	// TransactionID uniquely identifies the disbursement for the life of
	// the process.
	TransactionID string `json:"transaction_id"`

	// EventID is the verified event that caused this disbursement.
	EventID string `json:"event_id"`

	// Recipients is the ordered set of transfer legs. Amounts sum exactly
	// to TotalAmount.
	Recipients []Recipient `json:"recipients"`

	// TransferRefs holds the external transfer references returned by the
	// ledger gateway, one per accepted submission. It may be shorter than
	// Recipients when some submissions were not accepted.
	TransferRefs []string `json:"transfer_refs"`

	// TotalAmount is the amount actually committed.
	TotalAmount decimal.Decimal `json:"total_amount"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// CreatedAt is the initiation timestamp. Immutable.
	CreatedAt time.Time `json:"created_at"`
}

// NewDisbursement builds a pending disbursement with a fresh transaction id.
func NewDisbursement(eventID string, recipients []Recipient, refs []string, total decimal.Decimal) *Disbursement {
	return &Disbursement{
		TransactionID: uuid.New().String(),
		EventID:       eventID,
		Recipients:    recipients,
		TransferRefs:  refs,
		TotalAmount:   total,
		Status:        StatusPending,
		CreatedAt:     time.Now().UTC(),
	}
}
