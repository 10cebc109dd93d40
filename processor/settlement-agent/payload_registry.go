package settlementagent

import "github.com/c360studio/semstreams/component"

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "fund",
		Category:    "transition",
		Version:     "v1",
		Description: "Terminal disbursement status transition",
		Factory:     func() any { return &TransitionEvent{} },
	}); err != nil {
		panic("failed to register TransitionEvent: " + err.Error())
	}
}
