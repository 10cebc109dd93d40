// Package settlementagent provides the processor that turns verified
// disaster events into bounded, policy-constrained disbursements and
// reconciles the outstanding transfers against the external ledger.
//
// The component consumes verified-event messages from JetStream, applies the
// funding policy, submits one transfer per recipient through the ledger
// gateway, records the disbursement in the transaction ledger, and runs a
// periodic reconciliation sweep until every disbursement reaches a terminal
// state or times out.
package settlementagent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/reliefgrid/treasury/fund"
	"github.com/reliefgrid/treasury/gateway"
	"github.com/reliefgrid/treasury/ledger"
	"github.com/reliefgrid/treasury/policy"
)

// Component implements the settlement agent processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	engine *policy.Engine
	store  *ledger.Store
	ledger gateway.Ledger

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	eventsProcessed atomic.Int64
	sweepsPerformed atomic.Int64
	lastActivityMu  sync.RWMutex
	lastActivity    time.Time
}

// NewComponent creates a new settlement agent processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.MinFundingAmount.IsZero() {
		config.MinFundingAmount = defaults.MinFundingAmount
	}
	if config.MaxFundingAmount.IsZero() {
		config.MaxFundingAmount = defaults.MaxFundingAmount
	}
	if config.FundingTimeout == 0 {
		config.FundingTimeout = defaults.FundingTimeout
	}
	if config.SweepInterval == 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.InputSubject == "" {
		config.InputSubject = defaults.InputSubject
	}
	if config.GatewayURL == "" {
		config.GatewayURL = defaults.GatewayURL
	}
	if config.GatewayTimeout == 0 {
		config.GatewayTimeout = defaults.GatewayTimeout
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := deps.GetLogger()

	engine := policy.NewEngine(config.MinFundingAmount, config.MaxFundingAmount)
	if config.PolicyTablePath != "" {
		tables, err := policy.LoadTables(config.PolicyTablePath)
		if err != nil {
			return nil, fmt.Errorf("load policy tables: %w", err)
		}
		engine.SetTables(tables)
	}

	gw := gateway.NewClient(config.GatewayURL,
		gateway.WithRequestTimeout(config.GatewayTimeout),
		gateway.WithLogger(logger),
	)

	return &Component{
		name:       "settlement-agent",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     logger,
		engine:     engine,
		store:      ledger.Global(),
		ledger:     gw,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized settlement-agent",
		"min_funding_amount", c.config.MinFundingAmount,
		"max_funding_amount", c.config.MaxFundingAmount,
		"funding_timeout", c.config.FundingTimeout,
		"sweep_interval", c.config.SweepInterval)
	return nil
}

// Start connects to the ledger gateway, begins consuming verified events,
// and starts the reconciliation sweep loop.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}
	c.mu.Unlock()

	// The gateway must be reachable before settlement begins; refusing to
	// start here is the only fatal setup failure in this component.
	connectCtx, connectCancel := context.WithTimeout(ctx, c.config.GatewayTimeout)
	err := c.ledger.Connect(connectCtx)
	connectCancel()
	if err != nil {
		return fmt.Errorf("connect ledger gateway: %w", err)
	}

	c.mu.Lock()
	c.running = true
	c.startTime = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	consumerCfg := natsclient.StreamConsumerConfig{
		StreamName:    c.config.StreamName,
		ConsumerName:  "settlement-agent",
		FilterSubject: c.config.InputSubject,
		DeliverPolicy: "new",
		AckPolicy:     "explicit",
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
	}

	if err := c.natsClient.ConsumeStreamWithConfig(runCtx, consumerCfg, c.handleMessage); err != nil {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("start consumer: %w", err)
	}

	go c.sweepLoop(runCtx)

	if c.config.PolicyTablePath != "" && c.config.PolicyWatch {
		watcher, err := policy.NewWatcher(c.config.PolicyTablePath, c.engine, c.logger)
		if err != nil {
			c.logger.Warn("Policy table watch unavailable",
				"path", c.config.PolicyTablePath,
				"error", err)
		} else {
			go watcher.Run(runCtx)
		}
	}

	c.logger.Info("settlement-agent started",
		"stream", c.config.StreamName,
		"input", c.config.InputSubject,
		"gateway", c.config.GatewayURL,
		"sweep_interval", c.config.SweepInterval)

	return nil
}

// handleMessage processes one inbound message. Every message yields exactly
// one outcome; the message is acked once the outcome is published, so a
// crash before that point leads to redelivery and the duplicate check makes
// re-processing safe.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	c.eventsProcessed.Add(1)
	c.touch()

	var baseMsg message.BaseMessage
	if err := json.Unmarshal(msg.Data(), &baseMsg); err != nil {
		c.logger.Warn("Failed to unmarshal base message",
			"error", err,
			"subject", msg.Subject())
		c.finish(ctx, msg, &fund.Outcome{Status: fund.OutcomeNoEventToFund})
		return
	}

	event, ok := baseMsg.Payload().(*fund.VerifiedEvent)
	if !ok {
		c.logger.Debug("Message carries no verified event",
			"type", baseMsg.Type(),
			"subject", msg.Subject())
		c.finish(ctx, msg, &fund.Outcome{Status: fund.OutcomeNoEventToFund})
		return
	}

	if err := event.Validate(); err != nil {
		c.finish(ctx, msg, &fund.Outcome{
			Status:  fund.OutcomeError,
			EventID: event.EventID,
			Reason:  fmt.Sprintf("invalid verified event: %v", err),
		})
		return
	}

	outcome := c.processEvent(ctx, event)
	c.finish(ctx, msg, outcome)
}

// finish publishes the outcome and acks the message. Publish failures are
// logged and the message is still acked: the outcome is advisory, while a
// redelivery would re-run settlement.
func (c *Component) finish(ctx context.Context, msg jetstream.Msg, outcome *fund.Outcome) {
	recordOutcome(outcome.Status)

	eventID := outcome.EventID
	if eventID == "" {
		eventID = "none"
	}

	baseMsg := message.NewBaseMessage(fund.OutcomeType, outcome, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		c.logger.Warn("Failed to marshal outcome", "event_id", eventID, "error", err)
	} else {
		subject := fmt.Sprintf("fund.outcome.%s", eventID)
		if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
			c.logger.Warn("Failed to publish outcome",
				"subject", subject,
				"error", err)
		}
	}

	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ack message", "subject", msg.Subject(), "error", err)
	}
}

// processEvent runs the settlement path for one verified event. It is the
// component boundary: any panic or unexpected fault surfaces as an error
// outcome and never crashes the consumer or leaves a half-built entry in the
// pending partition (the entry is inserted only as the final step).
func (c *Component) processEvent(ctx context.Context, event *fund.VerifiedEvent) (outcome *fund.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Panic while processing event",
				"event_id", event.EventID,
				"panic", r)
			outcome = &fund.Outcome{
				Status:  fund.OutcomeError,
				EventID: event.EventID,
				Reason:  fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	if c.store.HasEvent(event.EventID) {
		c.logger.Warn("Duplicate verified event ignored", "event_id", event.EventID)
		return &fund.Outcome{
			Status:  fund.OutcomeFundingFailed,
			EventID: event.EventID,
			Reason:  "disbursement already recorded for event",
		}
	}

	amount, ok := c.engine.Amount(event)
	if !ok {
		c.logger.Info("Funding amount below minimum threshold",
			"event_id", event.EventID,
			"min", c.engine.Min())
		return &fund.Outcome{
			Status:  fund.OutcomeFundingFailed,
			EventID: event.EventID,
			Reason:  "computed amount below minimum",
		}
	}

	balance, err := c.ledger.Balance(ctx)
	if err != nil {
		return &fund.Outcome{
			Status:  fund.OutcomeError,
			EventID: event.EventID,
			Reason:  fmt.Sprintf("balance query failed: %v", err),
		}
	}
	if balance.LessThan(amount) {
		c.logger.Error("Insufficient balance",
			"event_id", event.EventID,
			"balance", balance,
			"needed", amount)
		return &fund.Outcome{
			Status:  fund.OutcomeFundingFailed,
			EventID: event.EventID,
			Reason:  fmt.Sprintf("insufficient balance: have %s, need %s", balance, amount),
		}
	}

	weighted, ok := c.engine.Recipients(event.DisasterType)
	if !ok {
		weighted, err = c.ledger.DefaultRecipients(ctx, event.DisasterType)
		if err != nil {
			return &fund.Outcome{
				Status:  fund.OutcomeError,
				EventID: event.EventID,
				Reason:  fmt.Sprintf("recipient lookup failed: %v", err),
			}
		}
	}
	if len(weighted) == 0 {
		return &fund.Outcome{
			Status:  fund.OutcomeFundingFailed,
			EventID: event.EventID,
			Reason:  fmt.Sprintf("no recipients configured for disaster type %q", event.DisasterType),
		}
	}

	recipients := policy.Split(amount, weighted)

	// Submissions are independent per recipient; a partial failure still
	// yields a pending entry, which the first sweep will judge failed for
	// the missing refs.
	results, err := c.ledger.SubmitTransfers(ctx, recipients)
	if err != nil {
		return &fund.Outcome{
			Status:  fund.OutcomeError,
			EventID: event.EventID,
			Reason:  fmt.Sprintf("transfer submission failed: %v", err),
		}
	}

	refs := make([]string, 0, len(results))
	for _, r := range results {
		if r.Accepted() {
			refs = append(refs, r.Ref)
		}
	}

	d := fund.NewDisbursement(event.EventID, recipients, refs, amount)
	if err := c.store.Insert(d); err != nil {
		return &fund.Outcome{
			Status:  fund.OutcomeError,
			EventID: event.EventID,
			Reason:  fmt.Sprintf("record disbursement: %v", err),
		}
	}

	c.logger.Info("Funding initiated",
		"event_id", event.EventID,
		"transaction_id", d.TransactionID,
		"total_amount", d.TotalAmount,
		"recipients", len(d.Recipients),
		"accepted_transfers", len(refs))

	return &fund.Outcome{
		Status:        fund.OutcomeFundingInitiated,
		EventID:       event.EventID,
		TransactionID: d.TransactionID,
		TotalAmount:   d.TotalAmount,
	}
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("settlement-agent stopped",
		"events_processed", c.eventsProcessed.Load(),
		"sweeps_performed", c.sweepsPerformed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "settlement-agent",
		Type:        "processor",
		Description: "Turns verified disaster events into ledger disbursements and reconciles them",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return agentSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.lastSeen(),
	}
}

func (c *Component) touch() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) lastSeen() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
