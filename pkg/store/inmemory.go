package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-courier/pkg/courier"
)

// InMemoryStore is a thread-safe, in-memory MessageStore. It backs unit tests
// and single-process deployments that do not need durability.
type InMemoryStore struct {
	mu       sync.RWMutex
	active   map[string]courier.Message
	archived map[string]courier.Message
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		active:   make(map[string]courier.Message),
		archived: make(map[string]courier.Message),
	}
}

// Create persists a new message, assigning ID and Key when empty.
func (s *InMemoryStore) Create(_ context.Context, msg courier.Message) (courier.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Key == "" {
		msg.Key = uuid.NewString()
	}
	if msg.State == "" {
		msg.State = courier.StatePending
	}
	s.active[msg.ID] = msg
	return msg, nil
}

// GetByKey returns the active or archived message with the given key.
func (s *InMemoryStore) GetByKey(_ context.Context, key string) (courier.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.active {
		if m.Key == key {
			return m, nil
		}
	}
	for _, m := range s.archived {
		if m.Key == key {
			return m, nil
		}
	}
	return courier.Message{}, ErrNotFound
}

// FindReadyToProcess returns enabled pending messages whose ProcessAfter has passed.
func (s *InMemoryStore) FindReadyToProcess(_ context.Context, now time.Time) ([]courier.Message, error) {
	return s.find(func(m courier.Message) bool {
		return m.State == courier.StatePending && !m.Disabled && !m.ProcessAfter.After(now)
	}), nil
}

// FindReadyToRetry returns enabled failed messages.
func (s *InMemoryStore) FindReadyToRetry(_ context.Context) ([]courier.Message, error) {
	return s.find(func(m courier.Message) bool {
		return m.State == courier.StateFailed && !m.Disabled
	}), nil
}

// FindReadyToArchive returns sent and failed messages past their ArchiveAfter.
func (s *InMemoryStore) FindReadyToArchive(_ context.Context, now time.Time) ([]courier.Message, error) {
	return s.find(func(m courier.Message) bool {
		if m.State != courier.StateSent && m.State != courier.StateFailed {
			return false
		}
		return !m.ArchiveAfter.After(now)
	}), nil
}

// UpdateState applies a compare-and-set mutation of the director-owned fields.
func (s *InMemoryStore) UpdateState(_ context.Context, id string, upd StateUpdate) (courier.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.active[id]
	if !ok {
		return courier.Message{}, ErrNotFound
	}
	if msg.State != upd.ExpectedState {
		return courier.Message{}, ErrStateConflict
	}

	msg.State = upd.NewState
	msg.AssignedProvider = upd.AssignedProvider
	msg.ErrorCount = upd.ErrorCount
	msg.LastUpdatedAt = upd.UpdatedAt
	s.active[id] = msg
	return msg, nil
}

// Archive moves the message out of the active set.
func (s *InMemoryStore) Archive(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.active[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.active, id)
	s.archived[id] = msg
	return nil
}

// find returns matching active messages in a stable, creation-time order so
// repeated cycles see identical input ordering.
func (s *InMemoryStore) find(match func(courier.Message) bool) []courier.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []courier.Message
	for _, m := range s.active {
		if match(m) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
