// Package treasuryapi exposes the administrative surface of the settlement
// pipeline over HTTP: transaction lookup, aggregate statistics, emergency
// stop, and retry. All operations are plain request/response against the
// shared transaction ledger; none of them streams.
package treasuryapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/reliefgrid/treasury/gateway"
	"github.com/reliefgrid/treasury/ledger"
)

// Component implements the treasury-api processor.
type Component struct {
	name   string
	config Config
	logger *slog.Logger

	store  *ledger.Store
	ledger gateway.Ledger

	// txPrefix is the normalized transaction route prefix, set when the
	// HTTP handlers are registered.
	txPrefix string

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	requestsServed atomic.Int64
	stopsTriggered atomic.Int64
}

// NewComponent creates a new treasury-api component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
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

	gw := gateway.NewClient(config.GatewayURL,
		gateway.WithRequestTimeout(config.GatewayTimeout),
		gateway.WithLogger(logger),
	)

	return &Component{
		name:   "treasury-api",
		config: config,
		logger: logger,
		store:  ledger.Global(),
		ledger: gw,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized treasury-api", "gateway", c.config.GatewayURL)
	return nil
}

// Start marks the component running. HTTP handlers are registered separately
// via RegisterHTTPHandlers and served by the platform HTTP server.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("component already running")
	}

	_, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true
	c.startTime = time.Now()

	c.logger.Info("treasury-api started")
	return nil
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
	c.logger.Info("treasury-api stopped",
		"requests_served", c.requestsServed.Load(),
		"stops_triggered", c.stopsTriggered.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "treasury-api",
		Type:        "processor",
		Description: "Administrative HTTP surface for the settlement pipeline",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return apiSchema
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
		LastActivity:      time.Time{},
	}
}
