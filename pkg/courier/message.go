package courier

import (
	"time"
)

// MessageType identifies the payload specialization carried by a Message.
type MessageType string

const (
	// TypeMail is an outbound email message.
	TypeMail MessageType = "mail"
	// TypeText is an outbound text (SMS-style) message.
	TypeText MessageType = "text"
)

// MessageState is the lifecycle state of a message in the pipeline.
type MessageState string

const (
	// StatePending messages are waiting to be picked up by the process phase.
	StatePending MessageState = "pending"
	// StateProcessing messages have been assigned a provider and handed to it.
	StateProcessing MessageState = "processing"
	// StateSent messages were successfully delivered. Terminal.
	StateSent MessageState = "sent"
	// StateFailed messages had a failed delivery attempt. Terminal only once
	// the error count has reached the effective ceiling; otherwise the retry
	// phase may reset them to pending.
	StateFailed MessageState = "failed"
)

// MailPayload is the payload of a TypeMail message.
type MailPayload struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	HTMLBody string `json:"htmlBody,omitempty"`
}

// TextPayload is the payload of a TypeText message.
type TextPayload struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

// Message is the unit of work tracked through the pipeline: a routing header
// plus exactly one of the Mail/Text payloads, depending on Type.
//
// The pipeline director is the sole writer of State, AssignedProvider and
// ErrorCount. Delivery gateways never mutate a Message; they report outcomes
// that the director translates into transitions.
type Message struct {
	// ID is the store-assigned identifier, immutable once created.
	ID string `json:"id"`
	// Key is the caller-supplied (or generated) unique key used for external
	// status lookup.
	Key string `json:"key"`

	Type  MessageType  `json:"type"`
	State MessageState `json:"state"`

	// AssignedProvider names the provider descriptor the message is currently
	// assigned to. Empty when no assignment is in effect.
	AssignedProvider string `json:"assignedProvider,omitempty"`
	// PreferredProvider optionally pins the message to a specific provider.
	// The assignment engine honors it only when that provider is enabled and
	// capable of the message type.
	PreferredProvider string `json:"preferredProvider,omitempty"`

	// ErrorCount is incremented on every failed delivery attempt and never
	// decreases.
	ErrorCount int `json:"errorCount"`
	// MaxErrors overrides the global retry ceiling when > 0.
	MaxErrors int `json:"maxErrors,omitempty"`

	// ProcessAfter delays processing; the message is not eligible before it.
	ProcessAfter time.Time `json:"processAfter"`
	// ArchiveAfter holds the message in the active set until it has passed.
	ArchiveAfter time.Time `json:"archiveAfter"`

	// Disabled messages are never selected by any phase.
	Disabled bool `json:"disabled,omitempty"`

	CreatedAt     time.Time `json:"createdAt"`
	LastUpdatedAt time.Time `json:"lastUpdatedAt"`

	Mail *MailPayload `json:"mail,omitempty"`
	Text *TextPayload `json:"text,omitempty"`
}

// EffectiveMaxErrors returns the retry ceiling in effect for the message:
// the per-message override when set, the global ceiling otherwise.
func (m *Message) EffectiveMaxErrors(globalMax int) int {
	if m.MaxErrors > 0 {
		return m.MaxErrors
	}
	return globalMax
}

// Terminal reports whether the message has reached a terminal state: sent,
// or failed with the error count at or past the effective ceiling.
func (m *Message) Terminal(globalMax int) bool {
	switch m.State {
	case StateSent:
		return true
	case StateFailed:
		return m.ErrorCount >= m.EffectiveMaxErrors(globalMax)
	default:
		return false
	}
}
