// Package provider delivers rendered messages to recipients.
package provider

import "context"

// Message is a rendered email ready for delivery.
type Message struct {
	To            string
	Subject       string
	HTML          string
	CorrelationID string
}

// Provider is the outbound delivery transport.
type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) (*ProviderResponse, error)
}

// ProviderResponse stores transport call metadata for the attempt record.
type ProviderResponse struct {
	StatusCode int
	Body       string
	MessageID  string
}
