package provider

import (
	"context"

	"github.com/illmade-knight/go-courier/pkg/courier"
)

// ====================================================================================
// This file defines the provider descriptor and the delivery adapter contract.
// Adapters perform the actual delivery (SMTP, webhook gateway, Pub/Sub, ...)
// but never decide message state: they report per-message outcomes that the
// pipeline director translates into transitions.
// ====================================================================================

// Descriptor describes one configured delivery provider.
type Descriptor struct {
	// Name uniquely identifies the provider and is recorded on messages and
	// journal entries.
	Name string `json:"name"`
	// CanMail / CanText are the capability flags the assignment engine
	// matches against the message type.
	CanMail bool `json:"canMail"`
	CanText bool `json:"canText"`
	// FactoryKey selects the adapter implementation to instantiate.
	FactoryKey string `json:"factoryKey"`
	// Params is opaque configuration consumed only by the adapter.
	Params map[string]string `json:"params,omitempty"`
	// Enabled providers are the only ones the assignment engine considers.
	Enabled bool `json:"enabled"`
}

// Capable reports whether the provider can deliver the given message type.
func (d Descriptor) Capable(t courier.MessageType) bool {
	switch t {
	case courier.TypeMail:
		return d.CanMail
	case courier.TypeText:
		return d.CanText
	default:
		return false
	}
}

// Outcome is the per-message result of a delivery attempt.
type Outcome struct {
	MessageID string
	Sent      bool
	// RemoteID is the provider-side identifier of the delivered message,
	// when the backend reports one.
	RemoteID string
	// Reason is the failure text for unsent messages.
	Reason string
}

// SentOutcome builds a success outcome.
func SentOutcome(messageID, remoteID string) Outcome {
	return Outcome{MessageID: messageID, Sent: true, RemoteID: remoteID}
}

// FailedOutcome builds a failure outcome.
func FailedOutcome(messageID, reason string) Outcome {
	return Outcome{MessageID: messageID, Sent: false, Reason: reason}
}

// DeliveryAdapter is the pluggable delivery backend contract.
//
// DeliverBatch attempts delivery of every message in the batch and returns one
// outcome per message. A returned error is a batch-fatal fault (for example an
// authentication failure); the director then treats every message in the batch
// as failed.
type DeliveryAdapter interface {
	DeliverBatch(ctx context.Context, desc Descriptor, msgs []courier.Message) ([]Outcome, error)
}
