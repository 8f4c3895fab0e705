package gateways_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/gateways"
	"github.com/illmade-knight/go-courier/pkg/provider"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textMessage(id, to, body string) courier.Message {
	return courier.Message{
		ID:        id,
		Key:       "key-" + id,
		Type:      courier.TypeText,
		State:     courier.StateProcessing,
		CreatedAt: time.Now().UTC(),
		Text:      &courier.TextPayload{To: to, Body: body},
	}
}

func TestWebhookGateway_DeliverBatch(t *testing.T) {
	// Arrange: the endpoint accepts everything except one recipient.
	var received []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = append(received, req)

		if req["to"] == "+15550009999" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"blocked recipient"}`))
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"message":   "accepted",
			"messageId": "remote-" + req["key"].(string),
		})
	}))
	t.Cleanup(server.Close)

	gateway, err := gateways.NewWebhookGateway(server.URL, zerolog.Nop())
	require.NoError(t, err)

	msgs := []courier.Message{
		textMessage("m1", "+15550001111", "hello"),
		textMessage("m2", "+15550009999", "blocked"),
	}

	// Act
	outcomes, err := gateway.DeliverBatch(context.Background(), provider.Descriptor{Name: "webhook-1"}, msgs)
	require.NoError(t, err)

	// Assert
	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Sent)
	assert.Equal(t, "remote-key-m1", outcomes[0].RemoteID)
	assert.False(t, outcomes[1].Sent)
	assert.Contains(t, outcomes[1].Reason, "unexpected status code: 400")
	assert.Len(t, received, 2)
}

func TestWebhookGateway_MissingRemoteID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"message":"accepted"}`))
	}))
	t.Cleanup(server.Close)

	gateway, err := gateways.NewWebhookGateway(server.URL, zerolog.Nop())
	require.NoError(t, err)

	outcomes, err := gateway.DeliverBatch(context.Background(), provider.Descriptor{}, []courier.Message{
		textMessage("m1", "+15550001111", "hello"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Sent)
	assert.Contains(t, outcomes[0].Reason, "missing messageId")
}

func TestWebhookGateway_MessageWithoutPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("endpoint should not be called for a payload-less message")
	}))
	t.Cleanup(server.Close)

	gateway, err := gateways.NewWebhookGateway(server.URL, zerolog.Nop())
	require.NoError(t, err)

	outcomes, err := gateway.DeliverBatch(context.Background(), provider.Descriptor{}, []courier.Message{
		{ID: "m1", Type: courier.TypeText},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].Sent)
	assert.Contains(t, outcomes[0].Reason, "no payload")
}

func TestNewWebhookGateway_RequiresURL(t *testing.T) {
	_, err := gateways.NewWebhookGateway("", zerolog.Nop())
	require.Error(t, err)
}

func TestLoopbackGateway_RecordsDeliveries(t *testing.T) {
	gateway := gateways.NewLoopbackGateway()

	outcomes, err := gateway.DeliverBatch(context.Background(), provider.Descriptor{}, []courier.Message{
		textMessage("m1", "+15550001111", "hello"),
		textMessage("m2", "+15550002222", "world"),
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.True(t, o.Sent)
		assert.NotEmpty(t, o.RemoteID)
	}
	assert.Len(t, gateway.Delivered(), 2)
}
