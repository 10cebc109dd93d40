package settlementagent

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/shopspring/decimal"
)

// agentSchema defines the configuration schema.
var agentSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the settlement agent component.
type Config struct {
	// MinFundingAmount is the funding floor in the base unit. Events whose
	// raw policy amount computes below this are rejected, not inflated.
	MinFundingAmount decimal.Decimal `json:"min_funding_amount"`

	// MaxFundingAmount caps any single disbursement.
	MaxFundingAmount decimal.Decimal `json:"max_funding_amount"`

	// FundingTimeout bounds how long a disbursement may stay pending
	// before the sweep forces it to timeout.
	FundingTimeout time.Duration `json:"funding_timeout"`

	// SweepInterval is the reconciliation cadence.
	SweepInterval time.Duration `json:"sweep_interval"`

	// StreamName is the JetStream stream carrying verified events.
	StreamName string `json:"stream_name"`

	// InputSubject is the verified-event subject on the stream.
	InputSubject string `json:"input_subject"`

	// GatewayURL is the base URL of the ledger gateway service.
	GatewayURL string `json:"gateway_url"`

	// GatewayTimeout bounds each individual gateway call.
	GatewayTimeout time.Duration `json:"gateway_timeout"`

	// PolicyTablePath optionally points at a YAML policy table file.
	PolicyTablePath string `json:"policy_table_path,omitempty"`

	// PolicyWatch enables hot reload of the policy table file.
	PolicyWatch bool `json:"policy_watch,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MinFundingAmount: decimal.RequireFromString("0.01"),
		MaxFundingAmount: decimal.RequireFromString("2.0"),
		FundingTimeout:   5 * time.Minute,
		SweepInterval:    2 * time.Second,
		StreamName:       "FUND",
		InputSubject:     "fund.event.verified",
		GatewayURL:       "http://localhost:9620",
		GatewayTimeout:   10 * time.Second,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "verified-events",
					Type:        "jetstream",
					Subject:     "fund.event.verified",
					StreamName:  "FUND",
					Description: "Consume verified disaster events",
					Required:    true,
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "outcomes",
					Type:        "jetstream",
					Subject:     "fund.outcome.>",
					StreamName:  "FUND",
					Description: "Publish processing outcomes",
					Required:    true,
				},
				{
					Name:        "tx-status",
					Type:        "jetstream",
					Subject:     "fund.tx.>",
					StreamName:  "FUND",
					Description: "Publish terminal disbursement transitions",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if !c.MinFundingAmount.IsPositive() {
		return fmt.Errorf("min_funding_amount must be positive")
	}
	if c.MaxFundingAmount.LessThan(c.MinFundingAmount) {
		return fmt.Errorf("max_funding_amount must be >= min_funding_amount")
	}
	if c.FundingTimeout <= 0 {
		return fmt.Errorf("funding_timeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep_interval must be positive")
	}
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.InputSubject == "" {
		return fmt.Errorf("input_subject is required")
	}
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	return nil
}
