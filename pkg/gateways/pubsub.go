package gateways

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/provider"
	"github.com/rs/zerolog"
)

// FactoryKeyPubsub registers the Pub/Sub forwarding gateway.
const FactoryKeyPubsub = "pubsub"

// PubsubGateway forwards messages to a Pub/Sub topic where an external
// delivery fleet picks them up. Publish confirmation is awaited per message,
// so the reported outcome reflects broker acceptance.
type PubsubGateway struct {
	topic          *pubsub.Topic
	confirmTimeout time.Duration
	logger         zerolog.Logger
}

// NewPubsubGateway creates a gateway publishing to topicID after verifying
// the topic exists.
func NewPubsubGateway(ctx context.Context, client *pubsub.Client, topicID string, logger zerolog.Logger) (*PubsubGateway, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client cannot be nil")
	}
	if topicID == "" {
		return nil, fmt.Errorf("pubsub gateway requires a topic id")
	}
	topic := client.Topic(topicID)

	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to check for topic %s: %w", topicID, err)
	}
	if !exists {
		return nil, fmt.Errorf("pubsub topic %s does not exist", topicID)
	}

	return &PubsubGateway{
		topic:          topic,
		confirmTimeout: 20 * time.Second,
		logger:         logger.With().Str("component", "PubsubGateway").Str("topic_id", topicID).Logger(),
	}, nil
}

// DeliverBatch publishes every message and then waits for each publish
// result, so the broker's batching stays effective while outcomes remain
// per-message.
func (g *PubsubGateway) DeliverBatch(ctx context.Context, _ provider.Descriptor, msgs []courier.Message) ([]provider.Outcome, error) {
	type pendingPublish struct {
		messageID string
		result    *pubsub.PublishResult
	}

	pending := make([]pendingPublish, 0, len(msgs))
	outcomes := make([]provider.Outcome, 0, len(msgs))

	for _, m := range msgs {
		payload, err := json.Marshal(m)
		if err != nil {
			outcomes = append(outcomes, provider.FailedOutcome(m.ID, fmt.Sprintf("marshal message: %v", err)))
			continue
		}
		res := g.topic.Publish(ctx, &pubsub.Message{
			Data: payload,
			Attributes: map[string]string{
				"messageKey": m.Key,
				"type":       string(m.Type),
			},
		})
		pending = append(pending, pendingPublish{messageID: m.ID, result: res})
	}

	for _, p := range pending {
		getCtx, cancel := context.WithTimeout(ctx, g.confirmTimeout)
		remoteID, err := p.result.Get(getCtx)
		cancel()

		if err != nil {
			outcomes = append(outcomes, provider.FailedOutcome(p.messageID, fmt.Sprintf("publish failed: %v", err)))
			continue
		}
		outcomes = append(outcomes, provider.SentOutcome(p.messageID, remoteID))
	}
	return outcomes, nil
}

// Stop flushes pending publishes, respecting the context's timeout.
func (g *PubsubGateway) Stop(ctx context.Context) error {
	stopDone := make(chan struct{})
	go func() {
		g.topic.Stop()
		close(stopDone)
	}()

	select {
	case <-stopDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RegisterPubsub binds the Pub/Sub gateway to its factory key. The topic
// comes from the descriptor's "topic" parameter; the client is shared across
// descriptors.
func RegisterPubsub(ctx context.Context, f *provider.Factory, client *pubsub.Client, logger zerolog.Logger) error {
	return f.Register(FactoryKeyPubsub, func(desc provider.Descriptor) (provider.DeliveryAdapter, error) {
		return NewPubsubGateway(ctx, client, desc.Params["topic"], logger)
	})
}
