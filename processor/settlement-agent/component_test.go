// Package settlementagent tests cover the settlement path and the
// reconciliation sweep against a stubbed ledger gateway.
//
// Tests requiring NATS infrastructure (JetStream consumption, outcome
// publishing) are integration tests and not included here.
package settlementagent

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reliefgrid/treasury/fund"
	"github.com/reliefgrid/treasury/gateway"
	"github.com/reliefgrid/treasury/ledger"
	"github.com/reliefgrid/treasury/policy"
)

// stubLedger is a scriptable gateway.Ledger for settlement tests.
type stubLedger struct {
	balance       decimal.Decimal
	balanceErr    error
	recipients    []fund.WeightedRecipient
	recipientsErr error
	submitResults []gateway.TransferResult
	submitErr     error
	statuses      map[string]gateway.TransferState
	statusErr     map[string]error

	submitted [][]fund.Recipient
}

func (s *stubLedger) Connect(context.Context) error { return nil }

func (s *stubLedger) Balance(context.Context) (decimal.Decimal, error) {
	return s.balance, s.balanceErr
}

func (s *stubLedger) SubmitTransfers(_ context.Context, transfers []fund.Recipient) ([]gateway.TransferResult, error) {
	s.submitted = append(s.submitted, transfers)
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	if s.submitResults != nil {
		return s.submitResults, nil
	}
	// Default: accept everything with generated refs.
	results := make([]gateway.TransferResult, len(transfers))
	for i, tr := range transfers {
		results[i] = gateway.TransferResult{Address: tr.Address, Ref: "ref-" + tr.Address}
	}
	return results, nil
}

func (s *stubLedger) TransferStatus(_ context.Context, ref string) (gateway.TransferState, error) {
	if err, ok := s.statusErr[ref]; ok {
		return "", err
	}
	if state, ok := s.statuses[ref]; ok {
		return state, nil
	}
	return gateway.TransferPending, nil
}

func (s *stubLedger) DefaultRecipients(context.Context, fund.DisasterType) ([]fund.WeightedRecipient, error) {
	return s.recipients, s.recipientsErr
}

func (s *stubLedger) NetworkInfo(context.Context) (map[string]string, error) {
	return map[string]string{"network": "testnet"}, nil
}

func newTestComponent(t *testing.T, stub *stubLedger) *Component {
	t.Helper()
	cfg := DefaultConfig()
	return &Component{
		name:   "settlement-agent",
		config: cfg,
		logger: slog.Default(),
		engine: policy.NewEngine(cfg.MinFundingAmount, cfg.MaxFundingAmount),
		store:  ledger.NewStore(),
		ledger: stub,
	}
}

func fundableEvent(id string) *fund.VerifiedEvent {
	return &fund.VerifiedEvent{
		EventID:               id,
		DisasterType:          fund.DisasterCasualty,
		VerificationScore:     100,
		HumanImpactEstimate:   2000,
		FundingRecommendation: decimal.RequireFromString("0.01"),
	}
}

func TestProcessEventInitiatesFunding(t *testing.T) {
	stub := &stubLedger{
		balance: decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{
			{Address: "a", Weight: 0.7},
			{Address: "b", Weight: 0.3},
		},
	}
	c := newTestComponent(t, stub)

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))

	require.Equal(t, fund.OutcomeFundingInitiated, outcome.Status)
	assert.Equal(t, "ev-1", outcome.EventID)
	assert.NotEmpty(t, outcome.TransactionID)
	// 0.01 * 1.0 * 2.0 * 1.5 = 0.03
	assert.Equal(t, "0.03", outcome.TotalAmount.String())

	// The disbursement is recorded pending with both refs.
	snap, err := c.store.Get(outcome.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, fund.StatusPending, snap.Status)
	assert.Equal(t, 2, snap.RecipientCount)

	// Submitted amounts sum exactly to the total.
	require.Len(t, stub.submitted, 1)
	sum := decimal.Zero
	for _, tr := range stub.submitted[0] {
		sum = sum.Add(tr.Amount)
	}
	assert.True(t, sum.Equal(decimal.RequireFromString("0.03")))
}

func TestProcessEventDuplicateEvent(t *testing.T) {
	stub := &stubLedger{
		balance:    decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{{Address: "a", Weight: 1}},
	}
	c := newTestComponent(t, stub)

	first := c.processEvent(context.Background(), fundableEvent("ev-1"))
	require.Equal(t, fund.OutcomeFundingInitiated, first.Status)

	second := c.processEvent(context.Background(), fundableEvent("ev-1"))
	assert.Equal(t, fund.OutcomeFundingFailed, second.Status)
	assert.Contains(t, second.Reason, "already recorded")

	// Only one submission happened.
	assert.Len(t, stub.submitted, 1)
}

func TestProcessEventBelowMinimum(t *testing.T) {
	stub := &stubLedger{balance: decimal.RequireFromString("100")}
	c := newTestComponent(t, stub)

	// 0.01 * 0.8 * 0.1 * 1.0 = 0.0008, below the 0.01 floor.
	event := &fund.VerifiedEvent{
		EventID:             "ev-1",
		DisasterType:        fund.DisasterFire,
		VerificationScore:   80,
		HumanImpactEstimate: 100,
	}
	outcome := c.processEvent(context.Background(), event)

	assert.Equal(t, fund.OutcomeFundingFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "below minimum")
	assert.Empty(t, stub.submitted)
	assert.False(t, c.store.HasEvent("ev-1"))
}

func TestProcessEventBalanceCheck(t *testing.T) {
	t.Run("balance query error", func(t *testing.T) {
		stub := &stubLedger{balanceErr: gateway.NewTransientError(assert.AnError)}
		c := newTestComponent(t, stub)

		outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
		assert.Equal(t, fund.OutcomeError, outcome.Status)
		assert.Contains(t, outcome.Reason, "balance query failed")
	})

	t.Run("insufficient balance", func(t *testing.T) {
		stub := &stubLedger{balance: decimal.RequireFromString("0.001")}
		c := newTestComponent(t, stub)

		outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
		assert.Equal(t, fund.OutcomeFundingFailed, outcome.Status)
		assert.Contains(t, outcome.Reason, "insufficient balance")
		assert.Empty(t, stub.submitted)
	})
}

func TestProcessEventRecipientResolution(t *testing.T) {
	t.Run("policy table recipients win over gateway defaults", func(t *testing.T) {
		stub := &stubLedger{
			balance:    decimal.RequireFromString("100"),
			recipients: []fund.WeightedRecipient{{Address: "gateway-default", Weight: 1}},
		}
		c := newTestComponent(t, stub)
		c.engine.SetTables(policy.Tables{
			Recipients: map[fund.DisasterType][]fund.WeightedRecipient{
				fund.DisasterCasualty: {{Address: "table-recipient", Weight: 1}},
			},
		})

		outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
		require.Equal(t, fund.OutcomeFundingInitiated, outcome.Status)
		require.Len(t, stub.submitted, 1)
		assert.Equal(t, "table-recipient", stub.submitted[0][0].Address)
	})

	t.Run("recipient lookup error", func(t *testing.T) {
		stub := &stubLedger{
			balance:       decimal.RequireFromString("100"),
			recipientsErr: assert.AnError,
		}
		c := newTestComponent(t, stub)

		outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
		assert.Equal(t, fund.OutcomeError, outcome.Status)
		assert.Contains(t, outcome.Reason, "recipient lookup failed")
	})

	t.Run("no recipients anywhere", func(t *testing.T) {
		stub := &stubLedger{balance: decimal.RequireFromString("100")}
		c := newTestComponent(t, stub)

		outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
		assert.Equal(t, fund.OutcomeFundingFailed, outcome.Status)
		assert.Contains(t, outcome.Reason, "no recipients")
	})
}

func TestProcessEventSubmitFailure(t *testing.T) {
	stub := &stubLedger{
		balance:    decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{{Address: "a", Weight: 1}},
		submitErr:  assert.AnError,
	}
	c := newTestComponent(t, stub)

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
	assert.Equal(t, fund.OutcomeError, outcome.Status)
	assert.Contains(t, outcome.Reason, "transfer submission failed")

	// Nothing was recorded: a later redelivery may retry cleanly.
	assert.False(t, c.store.HasEvent("ev-1"))
}

func TestProcessEventPartialAcceptance(t *testing.T) {
	stub := &stubLedger{
		balance: decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{
			{Address: "a", Weight: 0.5},
			{Address: "b", Weight: 0.5},
		},
		submitResults: []gateway.TransferResult{
			{Address: "a", Ref: "ref-a"},
			{Address: "b"}, // rejected by the ledger
		},
	}
	c := newTestComponent(t, stub)

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
	require.Equal(t, fund.OutcomeFundingInitiated, outcome.Status)

	// The pending entry carries fewer refs than recipients; the first
	// sweep fails it.
	c.sweep(context.Background())

	snap, err := c.store.Get(outcome.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, fund.StatusFailed, snap.Status)
}

func TestProcessEventRecoversFromPanic(t *testing.T) {
	c := newTestComponent(t, &stubLedger{balance: decimal.RequireFromString("100")})
	c.ledger = nil // forces a nil dereference inside the settlement path

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
	assert.Equal(t, fund.OutcomeError, outcome.Status)
	assert.Contains(t, outcome.Reason, "panic")
}

func TestSweepConfirmsWhenAllTransfersConfirmed(t *testing.T) {
	stub := &stubLedger{
		balance: decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{
			{Address: "a", Weight: 0.5},
			{Address: "b", Weight: 0.5},
		},
		statuses: map[string]gateway.TransferState{
			"ref-a": gateway.TransferConfirmed,
			"ref-b": gateway.TransferConfirmed,
		},
	}
	c := newTestComponent(t, stub)

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
	require.Equal(t, fund.OutcomeFundingInitiated, outcome.Status)

	c.sweep(context.Background())

	snap, err := c.store.Get(outcome.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, fund.StatusConfirmed, snap.Status)
}

func TestSweepFailsOnAnyFailedTransfer(t *testing.T) {
	stub := &stubLedger{
		balance: decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{
			{Address: "a", Weight: 0.5},
			{Address: "b", Weight: 0.5},
		},
		statuses: map[string]gateway.TransferState{
			"ref-a": gateway.TransferConfirmed,
			"ref-b": gateway.TransferFailed,
		},
	}
	c := newTestComponent(t, stub)

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
	require.Equal(t, fund.OutcomeFundingInitiated, outcome.Status)

	c.sweep(context.Background())

	snap, err := c.store.Get(outcome.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, fund.StatusFailed, snap.Status)
}

func TestSweepKeepsPendingWhileTransfersPending(t *testing.T) {
	stub := &stubLedger{
		balance:    decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{{Address: "a", Weight: 1}},
		statuses: map[string]gateway.TransferState{
			"ref-a": gateway.TransferPending,
		},
	}
	c := newTestComponent(t, stub)

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
	require.Equal(t, fund.OutcomeFundingInitiated, outcome.Status)

	c.sweep(context.Background())

	snap, err := c.store.Get(outcome.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, fund.StatusPending, snap.Status)
}

func TestSweepStatusErrorLeavesEntryPending(t *testing.T) {
	stub := &stubLedger{
		balance:    decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{{Address: "a", Weight: 1}},
		statusErr:  map[string]error{"ref-a": assert.AnError},
	}
	c := newTestComponent(t, stub)

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
	require.Equal(t, fund.OutcomeFundingInitiated, outcome.Status)

	c.sweep(context.Background())

	snap, err := c.store.Get(outcome.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, fund.StatusPending, snap.Status)
}

func TestSweepTimeoutOverridesResolution(t *testing.T) {
	stub := &stubLedger{
		balance:    decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{{Address: "a", Weight: 1}},
		statuses: map[string]gateway.TransferState{
			"ref-a": gateway.TransferConfirmed,
		},
	}
	c := newTestComponent(t, stub)
	c.config.FundingTimeout = time.Nanosecond

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
	require.Equal(t, fund.OutcomeFundingInitiated, outcome.Status)
	time.Sleep(time.Millisecond)

	c.sweep(context.Background())

	// Timeout wins even though every transfer reported confirmed.
	snap, err := c.store.Get(outcome.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, fund.StatusTimeout, snap.Status)
}

func TestSweepToleratesConcurrentStop(t *testing.T) {
	stub := &stubLedger{
		balance:    decimal.RequireFromString("100"),
		recipients: []fund.WeightedRecipient{{Address: "a", Weight: 1}},
		statuses: map[string]gateway.TransferState{
			"ref-a": gateway.TransferConfirmed,
		},
	}
	c := newTestComponent(t, stub)

	outcome := c.processEvent(context.Background(), fundableEvent("ev-1"))
	require.Equal(t, fund.OutcomeFundingInitiated, outcome.Status)

	// Emergency stop lands between the snapshot and the sweep's move.
	c.store.StopAll()
	c.sweep(context.Background())

	snap, err := c.store.Get(outcome.TransactionID)
	require.NoError(t, err)
	assert.Equal(t, fund.StatusStopped, snap.Status, "stop's terminal status must stand")
}

func TestNewComponentConfig(t *testing.T) {
	tests := []struct {
		name      string
		rawConfig json.RawMessage
		wantErr   bool
	}{
		{
			name:      "empty config gets defaults",
			rawConfig: json.RawMessage(`{}`),
		},
		{
			name:      "invalid JSON",
			rawConfig: json.RawMessage(`{invalid}`),
			wantErr:   true,
		},
		{
			name:      "max below min",
			rawConfig: json.RawMessage(`{"min_funding_amount":"5","max_funding_amount":"1"}`),
			wantErr:   true,
		},
		{
			name:      "negative min",
			rawConfig: json.RawMessage(`{"min_funding_amount":"-1"}`),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger.ResetGlobal()
			t.Cleanup(ledger.ResetGlobal)

			deps := component.Dependencies{Logger: slog.Default()}
			_, err := NewComponent(tt.rawConfig, deps)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := DefaultConfig()
	bad.StreamName = ""
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.SweepInterval = 0
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.GatewayURL = ""
	assert.Error(t, bad.Validate())
}

func TestComponentMetadata(t *testing.T) {
	c := newTestComponent(t, &stubLedger{})

	meta := c.Meta()
	assert.Equal(t, "settlement-agent", meta.Name)
	assert.Equal(t, "processor", meta.Type)

	assert.Len(t, c.InputPorts(), 1)
	assert.Len(t, c.OutputPorts(), 2)

	health := c.Health()
	assert.False(t, health.Healthy)
	assert.Equal(t, "stopped", health.Status)
}

func TestTransitionEventValidate(t *testing.T) {
	valid := &TransitionEvent{
		TransactionID: "tx-1",
		EventID:       "ev-1",
		Status:        fund.StatusConfirmed,
		TotalAmount:   "0.03",
		Timestamp:     time.Now().UTC(),
	}
	assert.NoError(t, valid.Validate())

	missing := &TransitionEvent{Status: fund.StatusConfirmed}
	assert.Error(t, missing.Validate())

	nonTerminal := &TransitionEvent{TransactionID: "tx-1", Status: fund.StatusPending}
	assert.Error(t, nonTerminal.Validate())
}
