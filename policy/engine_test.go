package policy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefgrid/treasury/fund"
)

func newTestEngine(t *testing.T, minStr, maxStr string) *Engine {
	t.Helper()
	return NewEngine(mustDecimal(t, minStr), mustDecimal(t, maxStr))
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return d
}

func TestAmountRejectsBelowMinimum(t *testing.T) {
	// 0.01 * (80/100) * (100/1000) * 1.0 = 0.0008, below the 0.01 floor.
	engine := newTestEngine(t, "0.01", "2.0")
	event := &fund.VerifiedEvent{
		EventID:             "ev-1",
		DisasterType:        fund.DisasterFire,
		VerificationScore:   80,
		HumanImpactEstimate: 100,
	}

	amount, ok := engine.Amount(event)
	assert.False(t, ok)
	assert.True(t, amount.IsZero())
}

func TestAmountClampsToMaximum(t *testing.T) {
	// 0.01 * 1.0 * 2.0 * 1.5 = 0.03, clamped down to max 0.000005.
	engine := newTestEngine(t, "0.000001", "0.000005")
	event := &fund.VerifiedEvent{
		EventID:               "ev-1",
		DisasterType:          fund.DisasterCasualty,
		VerificationScore:     100,
		HumanImpactEstimate:   2000,
		FundingRecommendation: mustDecimal(t, "0.01"),
	}

	amount, ok := engine.Amount(event)
	require.True(t, ok)
	assert.Equal(t, "0.000005", amount.String())
}

func TestAmountFormula(t *testing.T) {
	tests := []struct {
		name   string
		event  fund.VerifiedEvent
		min    string
		max    string
		want   string
		wantOK bool
	}{
		{
			name: "fire multiplier 1.0",
			event: fund.VerifiedEvent{
				EventID: "ev-1", DisasterType: fund.DisasterFire,
				VerificationScore: 100, HumanImpactEstimate: 1000,
				FundingRecommendation: decimal.RequireFromString("1"),
			},
			min: "0.01", max: "2.0",
			want: "1", wantOK: true,
		},
		{
			name: "flood multiplier 1.2",
			event: fund.VerifiedEvent{
				EventID: "ev-2", DisasterType: fund.DisasterFlood,
				VerificationScore: 100, HumanImpactEstimate: 1000,
				FundingRecommendation: decimal.RequireFromString("1"),
			},
			min: "0.01", max: "2.0",
			want: "1.2", wantOK: true,
		},
		{
			name: "structural multiplier 1.1",
			event: fund.VerifiedEvent{
				EventID: "ev-3", DisasterType: fund.DisasterStructural,
				VerificationScore: 100, HumanImpactEstimate: 1000,
				FundingRecommendation: decimal.RequireFromString("1"),
			},
			min: "0.01", max: "2.0",
			want: "1.1", wantOK: true,
		},
		{
			name: "casualty multiplier 1.5",
			event: fund.VerifiedEvent{
				EventID: "ev-4", DisasterType: fund.DisasterCasualty,
				VerificationScore: 100, HumanImpactEstimate: 1000,
				FundingRecommendation: decimal.RequireFromString("1"),
			},
			min: "0.01", max: "2.0",
			want: "1.5", wantOK: true,
		},
		{
			name: "unknown type falls back to 1.0",
			event: fund.VerifiedEvent{
				EventID: "ev-5", DisasterType: "meteor",
				VerificationScore: 100, HumanImpactEstimate: 1000,
				FundingRecommendation: decimal.RequireFromString("1"),
			},
			min: "0.01", max: "2.0",
			want: "1", wantOK: true,
		},
		{
			name: "impact factor capped at 2.0",
			event: fund.VerifiedEvent{
				EventID: "ev-6", DisasterType: fund.DisasterFire,
				VerificationScore: 100, HumanImpactEstimate: 50000,
				FundingRecommendation: decimal.RequireFromString("0.5"),
			},
			min: "0.01", max: "2.0",
			want: "1", wantOK: true,
		},
		{
			name: "zero recommendation uses minimum as base",
			event: fund.VerifiedEvent{
				EventID: "ev-7", DisasterType: fund.DisasterCasualty,
				VerificationScore: 100, HumanImpactEstimate: 2000,
			},
			min: "0.01", max: "2.0",
			// base = min = 0.01; 0.01 * 1.0 * 2.0 * 1.5 = 0.03
			want: "0.03", wantOK: true,
		},
		{
			name: "zero score rejects",
			event: fund.VerifiedEvent{
				EventID: "ev-8", DisasterType: fund.DisasterFire,
				VerificationScore: 0, HumanImpactEstimate: 1000,
				FundingRecommendation: decimal.RequireFromString("1"),
			},
			min: "0.01", max: "2.0",
			wantOK: false,
		},
		{
			name: "zero impact rejects",
			event: fund.VerifiedEvent{
				EventID: "ev-9", DisasterType: fund.DisasterFire,
				VerificationScore: 100, HumanImpactEstimate: 0,
				FundingRecommendation: decimal.RequireFromString("1"),
			},
			min: "0.01", max: "2.0",
			wantOK: false,
		},
		{
			name: "rounded to six places",
			event: fund.VerifiedEvent{
				EventID: "ev-10", DisasterType: fund.DisasterFire,
				VerificationScore: 33, HumanImpactEstimate: 333,
				FundingRecommendation: decimal.RequireFromString("1"),
			},
			min: "0.01", max: "2.0",
			// 1 * 0.33 * 0.333 = 0.10989
			want: "0.10989", wantOK: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := newTestEngine(t, tt.min, tt.max)
			amount, ok := engine.Amount(&tt.event)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, amount.String())
			}
		})
	}
}

func TestSplitSumsExactly(t *testing.T) {
	tests := []struct {
		name       string
		amount     string
		recipients []fund.WeightedRecipient
	}{
		{
			name:   "even split",
			amount: "1.0",
			recipients: []fund.WeightedRecipient{
				{Address: "a", Weight: 0.5},
				{Address: "b", Weight: 0.5},
			},
		},
		{
			name:   "uneven weights with rounding remainder",
			amount: "0.0001",
			recipients: []fund.WeightedRecipient{
				{Address: "a", Weight: 1},
				{Address: "b", Weight: 1},
				{Address: "c", Weight: 1},
			},
		},
		{
			name:   "skewed weights",
			amount: "0.03",
			recipients: []fund.WeightedRecipient{
				{Address: "a", Weight: 0.7},
				{Address: "b", Weight: 0.2},
				{Address: "c", Weight: 0.1},
			},
		},
		{
			name:   "single recipient gets everything",
			amount: "0.000005",
			recipients: []fund.WeightedRecipient{
				{Address: "a", Weight: 1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			amount := mustDecimal(t, tt.amount)
			shares := Split(amount, tt.recipients)
			require.Len(t, shares, len(tt.recipients))

			sum := decimal.Zero
			for i, s := range shares {
				assert.Equal(t, tt.recipients[i].Address, s.Address)
				sum = sum.Add(s.Amount)
			}
			assert.True(t, sum.Equal(amount),
				"shares sum to %s, want %s", sum, amount)
		})
	}
}

func TestSplitEmptyRecipients(t *testing.T) {
	assert.Nil(t, Split(mustDecimal(t, "1.0"), nil))
}

func TestRecipientsLookup(t *testing.T) {
	engine := newTestEngine(t, "0.01", "2.0")

	// No tables configured: lookup misses.
	_, ok := engine.Recipients(fund.DisasterFire)
	assert.False(t, ok)

	engine.SetTables(Tables{
		Recipients: map[fund.DisasterType][]fund.WeightedRecipient{
			fund.DisasterFire: {
				{Address: "fire-fund", Weight: 1},
			},
		},
	})

	recips, ok := engine.Recipients(fund.DisasterFire)
	require.True(t, ok)
	require.Len(t, recips, 1)
	assert.Equal(t, "fire-fund", recips[0].Address)

	_, ok = engine.Recipients(fund.DisasterFlood)
	assert.False(t, ok)
}

func TestSetTablesOverridesMultiplier(t *testing.T) {
	engine := newTestEngine(t, "0.01", "10")
	engine.SetTables(Tables{
		Multipliers: map[fund.DisasterType]decimal.Decimal{
			fund.DisasterFire: mustDecimal(t, "3"),
		},
	})

	event := &fund.VerifiedEvent{
		EventID: "ev-1", DisasterType: fund.DisasterFire,
		VerificationScore: 100, HumanImpactEstimate: 1000,
		FundingRecommendation: mustDecimal(t, "1"),
	}
	amount, ok := engine.Amount(event)
	require.True(t, ok)
	assert.Equal(t, "3", amount.String())
}
