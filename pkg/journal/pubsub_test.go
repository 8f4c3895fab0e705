package journal_test

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
	"github.com/illmade-knight/go-courier/pkg/journal"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func TestPubsubJournal_AppendAndStop(t *testing.T) {
	// --- Arrange ---
	testCtx, testCancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(testCancel)

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(testCtx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(testCtx, "journal-events")
	require.NoError(t, err)

	sub, err := client.CreateSubscription(testCtx, "journal-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	j, err := journal.NewPubsubJournal(testCtx, client, "journal-events", zerolog.Nop())
	require.NoError(t, err)

	entry := courier.JournalEntry{
		MessageID:   "m1",
		MessageKey:  "key-m1",
		BeforeState: courier.StateProcessing,
		AfterState:  courier.StateSent,
		Event:       courier.EventSent,
		Provider:    "smtp-primary",
		Timestamp:   time.Now().UTC(),
	}

	// --- Act ---
	require.NoError(t, j.Append(testCtx, entry))

	// --- Assert ---
	var mu sync.Mutex
	var received *pubsub.Message

	receiveCtx, receiveCancel := context.WithCancel(testCtx)
	t.Cleanup(receiveCancel)

	go func() {
		err := sub.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			mu.Lock()
			received = msg
			mu.Unlock()
			msg.Ack()
			receiveCancel()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("subscription receive error: %v", err)
		}
	}()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return received != nil
	}, 5*time.Second, 50*time.Millisecond, "did not receive journal event in time")

	assert.Equal(t, "sent", received.Attributes["event"])
	assert.Equal(t, "key-m1", received.Attributes["messageKey"])

	var decoded courier.JournalEntry
	require.NoError(t, json.Unmarshal(received.Data, &decoded))
	assert.Equal(t, entry.MessageID, decoded.MessageID)
	assert.Equal(t, courier.StateSent, decoded.AfterState)

	stopCtx, stopCancel := context.WithTimeout(testCtx, 2*time.Second)
	t.Cleanup(stopCancel)
	require.NoError(t, j.Stop(stopCtx))
}

func TestNewPubsubJournal_TopicDoesNotExist(t *testing.T) {
	testCtx, testCancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(testCancel)

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.Dial(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(testCtx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	j, err := journal.NewPubsubJournal(testCtx, client, "missing-topic", zerolog.Nop())
	require.Error(t, err)
	assert.Nil(t, j)
	assert.Contains(t, err.Error(), "pubsub topic missing-topic does not exist")
}
