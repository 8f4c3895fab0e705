package store

import (
	"context"
	"errors"
	"time"

	"github.com/illmade-knight/go-courier/pkg/courier"
)

// ====================================================================================
// This file defines the MessageStore contract the pipeline director depends on.
// Implementations own persistence; the director owns all state transitions and
// always mutates messages through the compare-and-set UpdateState call.
// ====================================================================================

// ErrNotFound is returned when a message does not exist in the active set.
var ErrNotFound = errors.New("message not found")

// ErrStateConflict is returned by UpdateState when the message is no longer in
// the expected state. The director treats this as a lost race and leaves the
// message for the next cycle.
var ErrStateConflict = errors.New("message state conflict")

// StateUpdate describes one compare-and-set mutation of the director-owned
// fields. The update applies only if the stored message is still in
// ExpectedState.
type StateUpdate struct {
	ExpectedState    courier.MessageState
	NewState         courier.MessageState
	AssignedProvider string
	ErrorCount       int
	UpdatedAt        time.Time
}

// MessageStore is the single source of truth for message state.
type MessageStore interface {
	// Create persists a new message, assigning ID (and Key when empty), and
	// returns the stored copy.
	Create(ctx context.Context, msg courier.Message) (courier.Message, error)
	// GetByKey returns the message with the given external key, or ErrNotFound.
	GetByKey(ctx context.Context, key string) (courier.Message, error)
	// FindReadyToProcess returns enabled pending messages whose ProcessAfter
	// has passed.
	FindReadyToProcess(ctx context.Context, now time.Time) ([]courier.Message, error)
	// FindReadyToRetry returns enabled failed messages. Ceiling filtering is
	// the retry policy's concern, not the store's.
	FindReadyToRetry(ctx context.Context) ([]courier.Message, error)
	// FindReadyToArchive returns sent and failed messages whose ArchiveAfter
	// has passed. Terminality and retention filtering belong to the archive
	// policy.
	FindReadyToArchive(ctx context.Context, now time.Time) ([]courier.Message, error)
	// UpdateState applies a compare-and-set state mutation and returns the
	// updated message. Returns ErrStateConflict if the stored state no longer
	// matches upd.ExpectedState, ErrNotFound if the message is gone.
	UpdateState(ctx context.Context, id string, upd StateUpdate) (courier.Message, error)
	// Archive removes the message from the active query surface. Archiving an
	// already archived or unknown id returns ErrNotFound.
	Archive(ctx context.Context, id string) error
}
