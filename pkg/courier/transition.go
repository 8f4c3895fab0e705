package courier

import (
	"fmt"
	"time"
)

// Event labels a state transition in the journal.
type Event string

const (
	// EventCreated is appended when a message first enters the store.
	EventCreated Event = "created"
	// EventAssigned is appended when the process phase hands a pending
	// message to a provider.
	EventAssigned Event = "assigned"
	// EventSent is appended when a provider reports successful delivery.
	EventSent Event = "sent"
	// EventReset is appended when the retry phase returns a failed message
	// to the pending pool.
	EventReset Event = "reset"
	// EventArchiveRequested is appended when the archive phase removes a
	// terminal message from the active set.
	EventArchiveRequested Event = "archive_requested"
	// EventError is appended on a failed delivery attempt, an unresolvable
	// provider, or an assignment failure.
	EventError Event = "error"
)

// JournalEntry is one append-only record of a state transition. Entries are
// never mutated or deleted by the pipeline.
type JournalEntry struct {
	MessageID   string       `json:"messageId"`
	MessageKey  string       `json:"messageKey"`
	BeforeState MessageState `json:"beforeState"`
	AfterState  MessageState `json:"afterState"`
	Event       Event        `json:"event"`
	Provider    string       `json:"provider,omitempty"`
	Error       string       `json:"error,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// TransitionRequest carries the inputs of a single state transition.
type TransitionRequest struct {
	Event Event
	// Provider is required for EventAssigned and recorded on delivery
	// outcomes when known.
	Provider string
	// Reason is the failure text recorded with EventError.
	Reason string
	Now    time.Time
}

// ApplyTransition is the single place the message state machine lives. It
// validates that the event is legal from the message's current state and
// returns the updated message copy together with the journal entry to append.
// The caller persists both as one logical unit.
//
// Legal transitions:
//
//	pending    --assigned--> processing (provider set)
//	processing --sent------> sent
//	processing --error-----> failed (error count incremented)
//	pending    --error-----> failed (assignment failure, error count incremented)
//	failed     --reset-----> pending (provider cleared)
//	sent|failed --archive_requested--> unchanged (removal is a store concern)
func ApplyTransition(msg Message, req TransitionRequest) (Message, JournalEntry, error) {
	if msg.ID == "" {
		return msg, JournalEntry{}, fmt.Errorf("transition %q: message has no id", req.Event)
	}

	before := msg.State

	switch req.Event {
	case EventAssigned:
		if before != StatePending {
			return msg, JournalEntry{}, illegalTransition(req.Event, before)
		}
		if req.Provider == "" {
			return msg, JournalEntry{}, fmt.Errorf("transition %q: provider is required", req.Event)
		}
		msg.State = StateProcessing
		msg.AssignedProvider = req.Provider

	case EventSent:
		if before != StateProcessing {
			return msg, JournalEntry{}, illegalTransition(req.Event, before)
		}
		msg.State = StateSent

	case EventError:
		if before != StateProcessing && before != StatePending {
			return msg, JournalEntry{}, illegalTransition(req.Event, before)
		}
		msg.State = StateFailed
		msg.ErrorCount++

	case EventReset:
		if before != StateFailed {
			return msg, JournalEntry{}, illegalTransition(req.Event, before)
		}
		msg.State = StatePending
		msg.AssignedProvider = ""

	case EventArchiveRequested:
		if before != StateSent && before != StateFailed {
			return msg, JournalEntry{}, illegalTransition(req.Event, before)
		}

	default:
		return msg, JournalEntry{}, fmt.Errorf("unknown transition event %q", req.Event)
	}

	msg.LastUpdatedAt = req.Now

	entry := JournalEntry{
		MessageID:   msg.ID,
		MessageKey:  msg.Key,
		BeforeState: before,
		AfterState:  msg.State,
		Event:       req.Event,
		Provider:    req.Provider,
		Error:       req.Reason,
		Timestamp:   req.Now,
	}
	if entry.Provider == "" {
		entry.Provider = msg.AssignedProvider
	}

	return msg, entry, nil
}

func illegalTransition(ev Event, from MessageState) error {
	return fmt.Errorf("transition %q is not legal from state %q", ev, from)
}
