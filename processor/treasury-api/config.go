package treasuryapi

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// apiSchema defines the configuration schema.
var apiSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the treasury-api component.
type Config struct {
	// GatewayURL is the base URL of the ledger gateway service, used for
	// the live balance and network fields of the stats endpoint.
	GatewayURL string `json:"gateway_url"`

	// GatewayTimeout bounds each individual gateway call.
	GatewayTimeout time.Duration `json:"gateway_timeout"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		GatewayURL:     "http://localhost:9620",
		GatewayTimeout: 10 * time.Second,
		Ports:          &component.PortConfig{},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.GatewayURL == "" {
		return fmt.Errorf("gateway_url is required")
	}
	return nil
}
