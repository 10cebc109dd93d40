// Package policy computes funding amounts and recipient splits for verified
// disaster events. The engine is a pure calculator over an event and the
// configured limits; it performs no I/O and holds no transaction state, so a
// single instance is safe to share across the agent and its tests.
package policy

import (
	"sync"

	"github.com/shopspring/decimal"

	"github.com/reliefgrid/treasury/fund"
)

// defaultMultipliers is the built-in per-disaster-type funding multiplier
// table. Unknown types use multiplierFallback.
var defaultMultipliers = map[fund.DisasterType]decimal.Decimal{
	fund.DisasterFire:       decimal.NewFromFloat(1.0),
	fund.DisasterFlood:      decimal.NewFromFloat(1.2),
	fund.DisasterStructural: decimal.NewFromFloat(1.1),
	fund.DisasterCasualty:   decimal.NewFromFloat(1.5),
}

var multiplierFallback = decimal.NewFromInt(1)

// impactCeiling caps the human-impact factor at 2.0 (reached at 2000 people).
var impactCeiling = decimal.NewFromInt(2)

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// Engine computes funding amounts within [min, max] and splits them across
// weighted recipients. Tables may be swapped at runtime (hot reload), so all
// table reads go through the mutex.
type Engine struct {
	min decimal.Decimal
	max decimal.Decimal

	mu     sync.RWMutex
	tables Tables
}

// NewEngine creates an engine with the built-in multiplier table and no
// recipient overrides.
func NewEngine(minAmount, maxAmount decimal.Decimal) *Engine {
	return &Engine{
		min:    minAmount,
		max:    maxAmount,
		tables: Tables{Multipliers: defaultMultipliers},
	}
}

// SetTables replaces the multiplier and recipient tables.
func (e *Engine) SetTables(t Tables) {
	if t.Multipliers == nil {
		t.Multipliers = defaultMultipliers
	}
	e.mu.Lock()
	e.tables = t
	e.mu.Unlock()
}

// Min returns the configured funding floor.
func (e *Engine) Min() decimal.Decimal { return e.min }

// Max returns the configured funding ceiling.
func (e *Engine) Max() decimal.Decimal { return e.max }

// Amount computes the funding amount for a verified event. The second return
// is false when the raw amount, before the floor is enforced, is below the
// minimum: such events are rejected rather than inflated to the floor.
func (e *Engine) Amount(event *fund.VerifiedEvent) (decimal.Decimal, bool) {
	base := event.FundingRecommendation
	if !base.IsPositive() {
		base = e.min
	}

	verificationFactor := decimal.NewFromFloat(event.VerificationScore).Div(hundred)

	impactFactor := decimal.NewFromInt(int64(event.HumanImpactEstimate)).Div(thousand)
	if impactFactor.GreaterThan(impactCeiling) {
		impactFactor = impactCeiling
	}

	typeFactor := e.multiplier(event.DisasterType)

	raw := base.
		Mul(verificationFactor).
		Mul(impactFactor).
		Mul(typeFactor).
		Round(fund.AmountPlaces)

	if raw.LessThan(e.min) {
		return decimal.Zero, false
	}
	if raw.GreaterThan(e.max) {
		raw = e.max
	}
	return raw, true
}

// multiplier looks up the disaster-type factor, falling back to 1.0.
func (e *Engine) multiplier(t fund.DisasterType) decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if m, ok := e.tables.Multipliers[t]; ok {
		return m
	}
	return multiplierFallback
}

// Recipients returns the configured recipient table for a disaster type, if
// one exists. When absent the caller falls back to the ledger gateway's
// default recipients.
func (e *Engine) Recipients(t fund.DisasterType) ([]fund.WeightedRecipient, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	recips, ok := e.tables.Recipients[t]
	if !ok || len(recips) == 0 {
		return nil, false
	}
	out := make([]fund.WeightedRecipient, len(recips))
	copy(out, recips)
	return out, true
}

// Split distributes amount across the weighted recipients. Every share is
// rounded to the base-unit precision and the rounding remainder is assigned
// to the first recipient, so the shares always sum exactly to amount.
func Split(amount decimal.Decimal, recipients []fund.WeightedRecipient) []fund.Recipient {
	if len(recipients) == 0 {
		return nil
	}

	totalWeight := decimal.Zero
	for _, r := range recipients {
		totalWeight = totalWeight.Add(decimal.NewFromFloat(r.Weight))
	}

	out := make([]fund.Recipient, len(recipients))
	allocated := decimal.Zero
	for i, r := range recipients {
		var share decimal.Decimal
		if totalWeight.IsPositive() {
			share = amount.
				Mul(decimal.NewFromFloat(r.Weight)).
				Div(totalWeight).
				Round(fund.AmountPlaces)
		}
		out[i] = fund.Recipient{Address: r.Address, Amount: share}
		allocated = allocated.Add(share)
	}

	// Fold the rounding remainder into the first share.
	remainder := amount.Sub(allocated)
	if !remainder.IsZero() {
		out[0].Amount = out[0].Amount.Add(remainder)
	}
	return out
}
