// Package fund holds the domain types of the treasury: verified disaster
// events, disbursements, and the structured outcomes of processing them.
// Monetary amounts are decimal throughout; the system base unit carries six
// fractional digits.
package fund

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/message"
	"github.com/shopspring/decimal"
)

// DisasterType classifies a verified event.
type DisasterType string

const (
	DisasterFire       DisasterType = "fire"
	DisasterFlood      DisasterType = "flood"
	DisasterStructural DisasterType = "structural"
	DisasterCasualty   DisasterType = "casualty"
)

// Defaults applied to optional VerifiedEvent fields at decode time.
const (
	DefaultVerificationScore   = 80.0
	DefaultHumanImpactEstimate = 100
)

// AmountPlaces is the fractional precision of the system base unit.
const AmountPlaces = 6

// VerifiedEvent is an incident report that passed upstream verification.
// It is immutable once decoded: optional fields resolve to their documented
// defaults during UnmarshalJSON, never later.
type VerifiedEvent struct {
	// EventID is the opaque unique identifier assigned upstream.
	EventID string `json:"event_id"`

	// DisasterType is the classified incident category. Unknown values are
	// allowed and fall through to the default funding multiplier.
	DisasterType DisasterType `json:"disaster_type"`

	// VerificationScore is the upstream confidence the event is genuine (0-100).
	VerificationScore float64 `json:"verification_score"`

	// HumanImpactEstimate is the estimated number of people affected.
	HumanImpactEstimate int `json:"human_impact_estimate"`

	// FundingRecommendation is the upstream suggested amount. Zero means
	// no recommendation.
	FundingRecommendation decimal.Decimal `json:"funding_recommendation"`
}

// Schema returns the message type for this payload.
func (e *VerifiedEvent) Schema() message.Type {
	return VerifiedEventType
}

// Validate checks the event for structural validity.
func (e *VerifiedEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.VerificationScore < 0 || e.VerificationScore > 100 {
		return fmt.Errorf("verification_score must be in [0,100], got %v", e.VerificationScore)
	}
	if e.HumanImpactEstimate < 0 {
		return fmt.Errorf("human_impact_estimate must be non-negative, got %d", e.HumanImpactEstimate)
	}
	if e.FundingRecommendation.IsNegative() {
		return fmt.Errorf("funding_recommendation must be non-negative, got %s", e.FundingRecommendation)
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *VerifiedEvent) MarshalJSON() ([]byte, error) {
	type Alias VerifiedEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON, resolving absent optional
// fields to their defaults exactly once.
func (e *VerifiedEvent) UnmarshalJSON(data []byte) error {
	type Alias VerifiedEvent
	aux := struct {
		VerificationScore   *float64 `json:"verification_score"`
		HumanImpactEstimate *int     `json:"human_impact_estimate"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.VerificationScore == nil {
		e.VerificationScore = DefaultVerificationScore
	} else {
		e.VerificationScore = *aux.VerificationScore
	}
	if aux.HumanImpactEstimate == nil {
		e.HumanImpactEstimate = DefaultHumanImpactEstimate
	} else {
		e.HumanImpactEstimate = *aux.HumanImpactEstimate
	}
	return nil
}

// VerifiedEventType is the message type for verified event payloads.
var VerifiedEventType = message.Type{
	Domain:   "fund",
	Category: "event",
	Version:  "v1",
}
