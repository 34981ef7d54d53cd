package fleet

import "errors"

var (
	// ErrUnknownAgent is returned for reports or events from an agent that never registered.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrValidation marks malformed requests; wrap it with the offending field.
	ErrValidation = errors.New("validation failed")
	// ErrConfiguration marks a missing collaborator (corpus, task board, notification sink).
	ErrConfiguration = errors.New("not configured")
	// ErrTransientDelivery marks an outbound call that failed and was not retried.
	ErrTransientDelivery = errors.New("delivery failed")
	// ErrOrderNotFound is returned when an order id does not exist.
	ErrOrderNotFound = errors.New("order not found")
)
