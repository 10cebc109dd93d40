package settlementagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/reliefgrid/treasury/fund"
	"github.com/reliefgrid/treasury/gateway"
	"github.com/reliefgrid/treasury/ledger"
)

// sweepLoop runs the reconciliation sweep on a fixed cadence until the
// context is cancelled. Sweeps never overlap: the next tick waits for the
// previous sweep to return.
func (c *Component) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	// Run immediately on start
	c.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep runs one reconciliation pass over the pending partition. Each entry
// is checked in isolation: a gateway fault on one entry leaves it pending for
// the next sweep and the pass continues with the rest.
func (c *Component) sweep(ctx context.Context) {
	c.sweepsPerformed.Add(1)
	c.touch()
	recordSweep()

	pending := c.store.Pending()
	observePending(len(pending))
	if len(pending) == 0 {
		return
	}

	c.logger.Debug("Reconciliation sweep", "pending", len(pending))

	for i := range pending {
		entry := &pending[i]

		status, resolved := c.resolveEntry(ctx, entry)

		// Timeout is checked independently and wins over whatever the
		// transfer statuses resolved to, once elapsed.
		if time.Since(entry.CreatedAt) > c.config.FundingTimeout {
			status, resolved = fund.StatusTimeout, true
		}

		if !resolved {
			continue
		}

		if err := c.store.Complete(entry.TransactionID, status); err != nil {
			// A concurrent emergency stop (or an earlier pass) got
			// there first; its terminal status stands.
			if !errors.Is(err, ledger.ErrNotPending) {
				c.logger.Warn("Failed to complete disbursement",
					"transaction_id", entry.TransactionID,
					"status", status,
					"error", err)
			}
			continue
		}

		recordTerminal(status)
		switch status {
		case fund.StatusConfirmed:
			c.logger.Info("Disbursement confirmed", "transaction_id", entry.TransactionID)
		case fund.StatusFailed:
			c.logger.Error("Disbursement failed", "transaction_id", entry.TransactionID)
		case fund.StatusTimeout:
			c.logger.Warn("Disbursement timed out",
				"transaction_id", entry.TransactionID,
				"age", time.Since(entry.CreatedAt))
		}

		c.publishTransition(ctx, entry, status)
	}
}

// resolveEntry determines the terminal status of one pending entry from its
// transfer references, or (_, false) when it should stay pending this sweep.
func (c *Component) resolveEntry(ctx context.Context, entry *fund.Disbursement) (fund.Status, bool) {
	// A submission that never produced a ref for some recipient can never
	// confirm; fail the whole disbursement on first observation.
	if len(entry.TransferRefs) < len(entry.Recipients) {
		c.logger.Warn("Disbursement has unaccepted transfers",
			"transaction_id", entry.TransactionID,
			"accepted", len(entry.TransferRefs),
			"recipients", len(entry.Recipients))
		return fund.StatusFailed, true
	}

	allConfirmed := true
	for _, ref := range entry.TransferRefs {
		state, err := c.ledger.TransferStatus(ctx, ref)
		if err != nil {
			c.logger.Warn("Transfer status query failed",
				"transaction_id", entry.TransactionID,
				"ref", ref,
				"error", err)
			return "", false
		}

		switch state {
		case gateway.TransferFailed:
			return fund.StatusFailed, true
		case gateway.TransferConfirmed:
			// keep checking
		default:
			allConfirmed = false
		}
	}

	if allConfirmed {
		return fund.StatusConfirmed, true
	}
	return "", false
}

// publishTransition announces a terminal transition on the stream so
// downstream consumers can observe settlement results.
func (c *Component) publishTransition(ctx context.Context, entry *fund.Disbursement, status fund.Status) {
	if c.natsClient == nil {
		return
	}

	event := TransitionEvent{
		TransactionID: entry.TransactionID,
		EventID:       entry.EventID,
		Status:        status,
		TotalAmount:   entry.TotalAmount.String(),
		Timestamp:     time.Now().UTC(),
	}

	baseMsg := message.NewBaseMessage(TransitionEventType, &event, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		c.logger.Warn("Failed to marshal transition event",
			"transaction_id", entry.TransactionID,
			"error", err)
		return
	}

	subject := fmt.Sprintf("fund.tx.%s.%s", status, entry.TransactionID)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		c.logger.Warn("Failed to publish transition event",
			"subject", subject,
			"error", err)
	}
}

// TransitionEvent announces one disbursement reaching a terminal status.
type TransitionEvent struct {
	TransactionID string      `json:"transaction_id"`
	EventID       string      `json:"event_id"`
	Status        fund.Status `json:"status"`
	TotalAmount   string      `json:"total_amount"`
	Timestamp     time.Time   `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (e *TransitionEvent) Schema() message.Type {
	return TransitionEventType
}

// Validate validates the event.
func (e *TransitionEvent) Validate() error {
	if e.TransactionID == "" {
		return fmt.Errorf("transaction_id is required")
	}
	if !e.Status.Terminal() {
		return fmt.Errorf("status %q is not terminal", e.Status)
	}
	return nil
}

// MarshalJSON marshals the event to JSON.
func (e *TransitionEvent) MarshalJSON() ([]byte, error) {
	type Alias TransitionEvent
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the event from JSON.
func (e *TransitionEvent) UnmarshalJSON(data []byte) error {
	type Alias TransitionEvent
	return json.Unmarshal(data, (*Alias)(e))
}

// TransitionEventType is the message type for terminal transition events.
var TransitionEventType = message.Type{
	Domain:   "fund",
	Category: "transition",
	Version:  "v1",
}
