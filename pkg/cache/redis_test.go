package cache_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/illmade-knight/go-courier/pkg/cache"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingFetcher wraps a StatusFetcher and counts how often it is consulted.
type countingFetcher struct {
	mu      sync.Mutex
	inner   cache.StatusFetcher
	fetches int
}

func (f *countingFetcher) Fetch(ctx context.Context, key string) (cache.MessageStatus, error) {
	f.mu.Lock()
	f.fetches++
	f.mu.Unlock()
	return f.inner.Fetch(ctx, key)
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func setupRedisCacheTest(t *testing.T) (*cache.RedisStatusCache, *countingFetcher, *store.InMemoryStore) {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)

	messageStore := store.NewInMemoryStore()
	fallback := &countingFetcher{inner: cache.NewStoreFetcher(messageStore)}

	statusCache, err := cache.NewRedisStatusCache(ctx, &cache.RedisConfig{
		Addr:     mr.Addr(),
		CacheTTL: time.Minute,
	}, fallback, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = statusCache.Close() })

	return statusCache, fallback, messageStore
}

func TestRedisStatusCache_ReadThrough(t *testing.T) {
	// Arrange
	statusCache, fallback, messageStore := setupRedisCacheTest(t)
	ctx := context.Background()

	msg, err := messageStore.Create(ctx, courier.Message{
		Key:   "order-42",
		Type:  courier.TypeText,
		State: courier.StateSent,
		Text:  &courier.TextPayload{To: "+15550001111", Body: "done"},
	})
	require.NoError(t, err)

	// Act: first fetch misses and falls through to the store.
	status, err := statusCache.Fetch(ctx, "order-42")
	require.NoError(t, err)
	assert.Equal(t, courier.StateSent, status.State)
	assert.Equal(t, msg.Key, status.Key)
	assert.Equal(t, 1, fallback.count())

	// The write-back happens in the background; wait for the cache to serve
	// the second fetch without consulting the fallback.
	require.Eventually(t, func() bool {
		_, err := statusCache.Fetch(ctx, "order-42")
		require.NoError(t, err)
		return fallback.count() == 2
	}, 2*time.Second, 20*time.Millisecond)

	before := fallback.count()
	status, err = statusCache.Fetch(ctx, "order-42")
	require.NoError(t, err)
	assert.Equal(t, courier.StateSent, status.State)
	assert.Equal(t, before, fallback.count(), "cached fetch should not hit the fallback")
}

func TestRedisStatusCache_Invalidate(t *testing.T) {
	// Arrange: warm the cache for a key.
	statusCache, fallback, messageStore := setupRedisCacheTest(t)
	ctx := context.Background()

	_, err := messageStore.Create(ctx, courier.Message{
		ID:    "m1",
		Key:   "order-42",
		Type:  courier.TypeText,
		State: courier.StatePending,
		Text:  &courier.TextPayload{To: "+15550001111", Body: "hello"},
	})
	require.NoError(t, err)

	_, err = statusCache.Fetch(ctx, "order-42")
	require.NoError(t, err)

	// The message moves on; invalidate so the next lookup sees fresh state.
	_, err = messageStore.UpdateState(ctx, "m1", store.StateUpdate{
		ExpectedState: courier.StatePending,
		NewState:      courier.StateProcessing,
		UpdatedAt:     time.Now().UTC(),
	})
	require.NoError(t, err)

	// Act
	require.NoError(t, statusCache.Invalidate(ctx, "order-42"))

	// Assert
	status, err := statusCache.Fetch(ctx, "order-42")
	require.NoError(t, err)
	assert.Equal(t, courier.StateProcessing, status.State)
	assert.GreaterOrEqual(t, fallback.count(), 2)
}

func TestRedisStatusCache_UnknownKey(t *testing.T) {
	statusCache, _, _ := setupRedisCacheTest(t)

	_, err := statusCache.Fetch(context.Background(), "no-such-key")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestStoreFetcher_ProjectsStatus(t *testing.T) {
	messageStore := store.NewInMemoryStore()
	ctx := context.Background()

	_, err := messageStore.Create(ctx, courier.Message{
		Key:              "order-42",
		Type:             courier.TypeMail,
		State:            courier.StateFailed,
		AssignedProvider: "mailer",
		ErrorCount:       2,
		Mail:             &courier.MailPayload{To: "b@example.com", Subject: "hi", Body: "secret"},
	})
	require.NoError(t, err)

	status, err := cache.NewStoreFetcher(messageStore).Fetch(ctx, "order-42")
	require.NoError(t, err)
	assert.Equal(t, courier.StateFailed, status.State)
	assert.Equal(t, "mailer", status.AssignedProvider)
	assert.Equal(t, 2, status.ErrorCount)
}
