package settlementagent

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the settlement agent component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "settlement-agent",
		Factory:     NewComponent,
		Schema:      agentSchema,
		Type:        "processor",
		Protocol:    "fund",
		Domain:      "settlement",
		Description: "Turns verified disaster events into ledger disbursements and reconciles them",
		Version:     "0.1.0",
	})
}
