package journal

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/rs/zerolog"
)

// FirestoreJournalConfig holds configuration for the Firestore journal.
type FirestoreJournalConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreJournal appends entries as auto-id documents in a Firestore
// collection, giving the UI a durable, queryable audit trail per message.
type FirestoreJournal struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreJournal creates a journal over an injected Firestore client.
// The client's lifecycle is managed by the caller.
func NewFirestoreJournal(cfg *FirestoreJournalConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreJournal, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreJournal initialized.")

	return &FirestoreJournal{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreJournal").Logger(),
	}, nil
}

// Append writes the entry as a new document. Documents are never updated or
// deleted by the pipeline.
func (j *FirestoreJournal) Append(ctx context.Context, entry courier.JournalEntry) error {
	_, _, err := j.client.Collection(j.collectionName).Add(ctx, entry)
	if err != nil {
		j.logger.Error().Err(err).Str("message_id", entry.MessageID).Msg("Failed to append journal entry to Firestore.")
		return fmt.Errorf("firestore journal append for %s: %w", entry.MessageID, err)
	}
	j.logger.Debug().Str("message_id", entry.MessageID).Str("event", string(entry.Event)).Msg("Journal entry appended.")
	return nil
}
