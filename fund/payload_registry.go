package fund

import "github.com/c360studio/semstreams/component"

func init() {
	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "fund",
		Category:    "event",
		Version:     "v1",
		Description: "Verified disaster event ready for settlement",
		Factory:     func() any { return &VerifiedEvent{} },
	}); err != nil {
		panic("failed to register VerifiedEvent: " + err.Error())
	}

	if err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "fund",
		Category:    "outcome",
		Version:     "v1",
		Description: "Settlement processing outcome for one inbound message",
		Factory:     func() any { return &Outcome{} },
	}); err != nil {
		panic("failed to register Outcome: " + err.Error())
	}
}
