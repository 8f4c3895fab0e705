package microservice_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/illmade-knight/go-courier/pkg/cache"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/gateways"
	"github.com/illmade-knight/go-courier/pkg/journal"
	"github.com/illmade-knight/go-courier/pkg/microservice"
	"github.com/illmade-knight/go-courier/pkg/pipeline"
	"github.com/illmade-knight/go-courier/pkg/provider"
	"github.com/illmade-knight/go-courier/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupServerTest(t *testing.T) (*microservice.Server, *gateways.LoopbackGateway, string) {
	t.Helper()

	messageStore := store.NewInMemoryStore()
	messageJournal := journal.NewInMemoryJournal()

	registry := provider.NewRegistry()
	factory := provider.NewFactory(zerolog.Nop())
	loopback, err := gateways.RegisterLoopback(factory)
	require.NoError(t, err)
	require.NoError(t, registry.Upsert(provider.Descriptor{
		Name:       "loopback-all",
		CanMail:    true,
		CanText:    true,
		FactoryKey: gateways.FactoryKeyLoopback,
		Enabled:    true,
	}))

	director, err := pipeline.NewDirector(
		pipeline.Config{MaxErrorCount: 3, MaxDaysToLive: 30},
		messageStore, messageJournal, registry, factory, zerolog.Nop())
	require.NoError(t, err)

	cfg := &microservice.Config{
		HTTPPort: ":0",
		// Long interval and delay: tests drive cycles through the HTTP API.
		CycleInterval: time.Hour,
		StartupDelay:  time.Hour,
		MaxErrorCount: 3,
		MaxDaysToLive: 30,
	}

	server, err := microservice.NewServer(cfg, director, cache.NewStoreFetcher(messageStore), zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, server.Start())
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	baseURL := fmt.Sprintf("http://localhost%s", server.GetHTTPPort())
	return server, loopback, baseURL
}

func TestServer_EnqueueProcessStatus(t *testing.T) {
	// Arrange
	_, loopback, baseURL := setupServerTest(t)

	enqueueBody, err := json.Marshal(courier.Message{
		Key:  "order-42",
		Type: courier.TypeText,
		Text: &courier.TextPayload{From: "+15550000000", To: "+15550001111", Body: "hello"},
	})
	require.NoError(t, err)

	// Act: enqueue a message.
	resp, err := http.Post(baseURL+"/messages", "application/json", bytes.NewReader(enqueueBody))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "order-42", created["key"])
	assert.NotEmpty(t, created["id"])

	// Status before a cycle: still pending.
	status := fetchStatus(t, baseURL, "order-42")
	assert.Equal(t, courier.StatePending, status.State)

	// Act: trigger a cycle.
	cycleResp, err := http.Post(baseURL+"/cycle", "application/json", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cycleResp.Body.Close() })
	require.Equal(t, http.StatusOK, cycleResp.StatusCode)

	var report pipeline.CycleReport
	require.NoError(t, json.NewDecoder(cycleResp.Body).Decode(&report))
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Sent)

	// Assert: delivered through the loopback gateway, status now sent.
	require.Len(t, loopback.Delivered(), 1)
	status = fetchStatus(t, baseURL, "order-42")
	assert.Equal(t, courier.StateSent, status.State)
	assert.Equal(t, "loopback-all", status.AssignedProvider)
}

func TestServer_EnqueueRejectsInvalidMessage(t *testing.T) {
	_, _, baseURL := setupServerTest(t)

	body, err := json.Marshal(courier.Message{Key: "bad", Type: courier.TypeMail})
	require.NoError(t, err)

	resp, err := http.Post(baseURL+"/messages", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_StatusUnknownKey(t *testing.T) {
	_, _, baseURL := setupServerTest(t)

	resp, err := http.Get(baseURL + "/messages/no-such-key/status")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_Healthz(t *testing.T) {
	_, _, baseURL := setupServerTest(t)

	resp, err := http.Get(baseURL + "/healthz")
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func fetchStatus(t *testing.T, baseURL, key string) cache.MessageStatus {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/messages/%s/status", baseURL, key))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status cache.MessageStatus
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	return status
}
