package treasuryapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the treasury-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "treasury-api",
		Factory:     NewComponent,
		Schema:      apiSchema,
		Type:        "processor",
		Protocol:    "fund",
		Domain:      "settlement",
		Description: "Administrative HTTP surface for the settlement pipeline",
		Version:     "0.1.0",
	})
}
