package store

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStoreConfig holds configuration for the Firestore-backed store.
type FirestoreStoreConfig struct {
	ProjectID string
	// CollectionName holds active messages; archived messages move to
	// CollectionName + "_archive".
	CollectionName string
}

// FirestoreStore is a MessageStore backed by a Firestore collection.
// Compare-and-set updates run inside Firestore transactions; archival moves
// the document into a sibling archive collection.
type FirestoreStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a store over an injected Firestore client. The
// client's lifecycle is managed by the caller.
func NewFirestoreStore(cfg *FirestoreStoreConfig, client *firestore.Client, logger zerolog.Logger) (*FirestoreStore, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name is required")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreStore initialized.")

	return &FirestoreStore{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Logger(),
	}, nil
}

func (s *FirestoreStore) active() *firestore.CollectionRef {
	return s.client.Collection(s.collectionName)
}

func (s *FirestoreStore) archive() *firestore.CollectionRef {
	return s.client.Collection(s.collectionName + "_archive")
}

// Create persists a new message document keyed by its id.
func (s *FirestoreStore) Create(ctx context.Context, msg courier.Message) (courier.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Key == "" {
		msg.Key = uuid.NewString()
	}
	if msg.State == "" {
		msg.State = courier.StatePending
	}

	if _, err := s.active().Doc(msg.ID).Create(ctx, msg); err != nil {
		return courier.Message{}, fmt.Errorf("firestore create for %s: %w", msg.ID, err)
	}
	s.logger.Debug().Str("message_id", msg.ID).Msg("Message document created.")
	return msg, nil
}

// GetByKey looks a message up by its external key, falling back to the
// archive collection for messages already removed from the active set.
func (s *FirestoreStore) GetByKey(ctx context.Context, key string) (courier.Message, error) {
	for _, coll := range []*firestore.CollectionRef{s.active(), s.archive()} {
		snaps, err := coll.Where("Key", "==", key).Limit(1).Documents(ctx).GetAll()
		if err != nil {
			return courier.Message{}, fmt.Errorf("firestore query by key %s: %w", key, err)
		}
		if len(snaps) == 0 {
			continue
		}
		var msg courier.Message
		if err := snaps[0].DataTo(&msg); err != nil {
			return courier.Message{}, fmt.Errorf("firestore DataTo for key %s: %w", key, err)
		}
		return msg, nil
	}
	return courier.Message{}, ErrNotFound
}

// FindReadyToProcess returns enabled pending messages whose ProcessAfter has
// passed. The query filters on state only; the remaining predicates apply
// client-side, which keeps the collection off composite indexes.
func (s *FirestoreStore) FindReadyToProcess(ctx context.Context, now time.Time) ([]courier.Message, error) {
	return s.query(ctx, []courier.MessageState{courier.StatePending}, func(m courier.Message) bool {
		return !m.Disabled && !m.ProcessAfter.After(now)
	})
}

// FindReadyToRetry returns enabled failed messages.
func (s *FirestoreStore) FindReadyToRetry(ctx context.Context) ([]courier.Message, error) {
	return s.query(ctx, []courier.MessageState{courier.StateFailed}, func(m courier.Message) bool {
		return !m.Disabled
	})
}

// FindReadyToArchive returns sent and failed messages past their ArchiveAfter.
func (s *FirestoreStore) FindReadyToArchive(ctx context.Context, now time.Time) ([]courier.Message, error) {
	return s.query(ctx, []courier.MessageState{courier.StateSent, courier.StateFailed}, func(m courier.Message) bool {
		return !m.ArchiveAfter.After(now)
	})
}

func (s *FirestoreStore) query(ctx context.Context, states []courier.MessageState, match func(courier.Message) bool) ([]courier.Message, error) {
	var out []courier.Message
	for _, state := range states {
		snaps, err := s.active().Where("State", "==", string(state)).Documents(ctx).GetAll()
		if err != nil {
			return nil, fmt.Errorf("firestore query for state %s: %w", state, err)
		}
		for _, snap := range snaps {
			var msg courier.Message
			if err := snap.DataTo(&msg); err != nil {
				return nil, fmt.Errorf("firestore DataTo for %s: %w", snap.Ref.ID, err)
			}
			if match(msg) {
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

// UpdateState applies the compare-and-set mutation inside a transaction.
func (s *FirestoreStore) UpdateState(ctx context.Context, id string, upd StateUpdate) (courier.Message, error) {
	docRef := s.active().Doc(id)
	var updated courier.Message

	err := s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return fmt.Errorf("firestore get for %s: %w", id, err)
		}

		var msg courier.Message
		if err := snap.DataTo(&msg); err != nil {
			return fmt.Errorf("firestore DataTo for %s: %w", id, err)
		}
		if msg.State != upd.ExpectedState {
			return ErrStateConflict
		}

		msg.State = upd.NewState
		msg.AssignedProvider = upd.AssignedProvider
		msg.ErrorCount = upd.ErrorCount
		msg.LastUpdatedAt = upd.UpdatedAt
		updated = msg
		return tx.Set(docRef, msg)
	})
	if err != nil {
		return courier.Message{}, err
	}
	return updated, nil
}

// Archive moves the document from the active collection to the archive
// collection in one transaction.
func (s *FirestoreStore) Archive(ctx context.Context, id string) error {
	docRef := s.active().Doc(id)
	archRef := s.archive().Doc(id)

	return s.client.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(docRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return fmt.Errorf("firestore get for %s: %w", id, err)
		}
		if err := tx.Set(archRef, snap.Data()); err != nil {
			return fmt.Errorf("firestore archive copy for %s: %w", id, err)
		}
		return tx.Delete(docRef)
	})
}
