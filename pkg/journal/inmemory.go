package journal

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-courier/pkg/courier"
)

// InMemoryJournal is a thread-safe, in-memory Journal for tests and
// single-process deployments.
type InMemoryJournal struct {
	mu      sync.RWMutex
	entries []courier.JournalEntry
}

// NewInMemoryJournal creates an empty in-memory journal.
func NewInMemoryJournal() *InMemoryJournal {
	return &InMemoryJournal{}
}

// Append records the entry.
func (j *InMemoryJournal) Append(_ context.Context, entry courier.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
	return nil
}

// Entries returns a snapshot of all appended entries in append order.
func (j *InMemoryJournal) Entries() []courier.JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]courier.JournalEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

// EntriesFor returns the entries recorded for one message, in append order.
func (j *InMemoryJournal) EntriesFor(messageID string) []courier.JournalEntry {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []courier.JournalEntry
	for _, e := range j.entries {
		if e.MessageID == messageID {
			out = append(out, e)
		}
	}
	return out
}
