// Package email submits rendered messages to the mail provider's HTTP API.
package email

import (
	"context"
	"errors"
	"fmt"

	"comment-notifier/pkg/notifier"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send submits a rendered message. A completed HTTP exchange returns a
	// DeliveryResult regardless of status code; only a failure to dispatch
	// the request at all returns an error.
	Send(ctx context.Context, msg *notifier.RenderedMessage, settings *notifier.Settings) (*notifier.DeliveryResult, error)
}

// TransportError indicates the request never completed: DNS failure,
// connection refused, timeout. Provider-side 4xx/5xx responses are not
// transport errors.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mail transport: %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError checks if an error is a transport-level dispatch failure.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
