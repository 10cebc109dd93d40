package fund

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/message"
	"github.com/shopspring/decimal"
)

// OutcomeStatus tags the result of processing one inbound message.
type OutcomeStatus string

const (
	OutcomeFundingInitiated OutcomeStatus = "funding_initiated"
	OutcomeFundingFailed    OutcomeStatus = "funding_failed"
	OutcomeNoEventToFund    OutcomeStatus = "no_event_to_fund"
	OutcomeError            OutcomeStatus = "error"
)

// Outcome is the structured result of message processing. Every inbound
// message yields exactly one Outcome; faults are carried in Reason rather
// than propagated.
type Outcome struct {
	// Status tags the outcome category.
	Status OutcomeStatus `json:"status"`

	// EventID is the verified event this outcome refers to, when known.
	EventID string `json:"event_id,omitempty"`

	// TransactionID is set only for funding_initiated.
	TransactionID string `json:"transaction_id,omitempty"`

	// TotalAmount is set only for funding_initiated.
	TotalAmount decimal.Decimal `json:"total_amount,omitempty"`

	// Reason describes why funding failed or errored.
	Reason string `json:"reason,omitempty"`
}

// Schema returns the message type for this payload.
func (o *Outcome) Schema() message.Type {
	return OutcomeType
}

// Validate checks the outcome for structural validity.
func (o *Outcome) Validate() error {
	switch o.Status {
	case OutcomeFundingInitiated, OutcomeFundingFailed, OutcomeNoEventToFund, OutcomeError:
	default:
		return fmt.Errorf("unknown outcome status %q", o.Status)
	}
	if o.Status == OutcomeFundingInitiated && o.TransactionID == "" {
		return fmt.Errorf("funding_initiated requires a transaction_id")
	}
	return nil
}

// MarshalJSON marshals the outcome to JSON.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	type Alias Outcome
	return json.Marshal((*Alias)(o))
}

// UnmarshalJSON unmarshals the outcome from JSON.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	type Alias Outcome
	return json.Unmarshal(data, (*Alias)(o))
}

// OutcomeType is the message type for processing outcome payloads.
var OutcomeType = message.Type{
	Domain:   "fund",
	Category: "outcome",
	Version:  "v1",
}
