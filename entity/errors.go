package entity

import "errors"

// Gateway error taxonomy. Retryability is part of the contract:
// ErrGatewayUnavailable covers transient provider/network failures
// (including timeouts) and may be retried; ErrInvoiceNotFound and
// ErrMalformedWebhook indicate bad input and must not be.
var (
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrInvoiceNotFound    = errors.New("invoice not found")
	ErrMalformedWebhook   = errors.New("malformed webhook")
)
