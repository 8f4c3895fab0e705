package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/rs/zerolog"
)

// PubsubJournal publishes each journal entry as a JSON event on a Pub/Sub
// topic so downstream consumers (UI push, alerting) can follow transitions
// without polling the store. It is a best-effort sink behind Multi.
type PubsubJournal struct {
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewPubsubJournal creates the publisher after verifying the topic exists,
// respecting the context's deadline.
func NewPubsubJournal(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*PubsubJournal, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &PubsubJournal{
		topic:  topic,
		logger: logger.With().Str("component", "PubsubJournal").Str("topic_id", topicID).Logger(),
	}, nil
}

// Append publishes the entry. The call returns after queueing; the publish
// result is checked asynchronously and only logged, which is acceptable for a
// best-effort sink.
func (j *PubsubJournal) Append(ctx context.Context, entry courier.JournalEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry for %s: %w", entry.MessageID, err)
	}

	result := j.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"event":      string(entry.Event),
			"messageKey": entry.MessageKey,
		},
	})

	go func() {
		getCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgID, err := result.Get(getCtx)
		if err != nil {
			j.logger.Error().Err(err).Str("message_id", entry.MessageID).Msg("Failed to publish journal entry.")
			return
		}
		j.logger.Debug().Str("published_msg_id", msgID).Str("event", string(entry.Event)).Msg("Journal entry published.")
	}()

	return nil
}

// Stop flushes any pending publishes, respecting the context's timeout.
func (j *PubsubJournal) Stop(ctx context.Context) error {
	if j.topic == nil {
		return nil
	}

	stopDone := make(chan struct{})
	go func() {
		j.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
