package gateways_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/gateways"
	"github.com/illmade-knight/go-courier/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func setupPubsubGatewayTest(t *testing.T, topicID string) (*pubsub.Client, *pubsub.Subscription) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)

	sub, err := client.CreateSubscription(ctx, topicID+"-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	return client, sub
}

func TestPubsubGateway_DeliverBatch(t *testing.T) {
	// Arrange
	testCtx, testCancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(testCancel)

	client, sub := setupPubsubGatewayTest(t, "outbound-texts")

	gateway, err := gateways.NewPubsubGateway(testCtx, client, "outbound-texts", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = gateway.Stop(stopCtx)
	})

	msgs := []courier.Message{
		textMessage("m1", "+15550001111", "hello"),
		textMessage("m2", "+15550002222", "world"),
	}

	// Act
	outcomes, err := gateway.DeliverBatch(testCtx, provider.Descriptor{Name: "pubsub-1"}, msgs)
	require.NoError(t, err)

	// Assert: every outcome confirmed by the broker.
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.True(t, o.Sent)
		assert.NotEmpty(t, o.RemoteID)
	}

	var mu sync.Mutex
	var received []courier.Message

	receiveCtx, receiveCancel := context.WithCancel(testCtx)
	t.Cleanup(receiveCancel)

	go func() {
		err := sub.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			var decoded courier.Message
			if err := json.Unmarshal(msg.Data, &decoded); err != nil {
				t.Errorf("unmarshal forwarded message: %v", err)
			}
			mu.Lock()
			received = append(received, decoded)
			done := len(received) == 2
			mu.Unlock()
			msg.Ack()
			if done {
				receiveCancel()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("subscription receive error: %v", err)
		}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 2
	}, 5*time.Second, 50*time.Millisecond, "did not receive forwarded messages in time")
}

func TestNewPubsubGateway_TopicDoesNotExist(t *testing.T) {
	testCtx, testCancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(testCancel)

	client, _ := setupPubsubGatewayTest(t, "some-topic")

	gateway, err := gateways.NewPubsubGateway(testCtx, client, "missing-topic", zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, gateway)
}
