package pipeline_test

import (
	"testing"
	"time"

	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Eligible(t *testing.T) {
	const globalMax = 3

	msgs := []courier.Message{
		{ID: "below-ceiling", State: courier.StateFailed, ErrorCount: 2},
		{ID: "at-ceiling", State: courier.StateFailed, ErrorCount: 3},
		{ID: "override-allows", State: courier.StateFailed, ErrorCount: 4, MaxErrors: 10},
		{ID: "override-blocks", State: courier.StateFailed, ErrorCount: 1, MaxErrors: 1},
		{ID: "not-failed", State: courier.StatePending, ErrorCount: 0},
	}

	eligible := pipeline.RetryPolicy{}.Eligible(msgs, globalMax)

	require.Len(t, eligible, 2)
	assert.Equal(t, "below-ceiling", eligible[0].ID)
	assert.Equal(t, "override-allows", eligible[1].ID)
}

func TestArchivePolicy_Eligible(t *testing.T) {
	const globalMax = 3
	const maxDaysToLive = 30
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -40)
	recent := now.AddDate(0, 0, -5)

	msgs := []courier.Message{
		{ID: "old-sent", State: courier.StateSent, CreatedAt: old},
		{ID: "recent-sent", State: courier.StateSent, CreatedAt: recent},
		{ID: "old-failed-terminal", State: courier.StateFailed, ErrorCount: 3, CreatedAt: old},
		{ID: "old-failed-retryable", State: courier.StateFailed, ErrorCount: 1, CreatedAt: old},
		{ID: "old-held-back", State: courier.StateSent, CreatedAt: old, ArchiveAfter: now.Add(time.Hour)},
		{ID: "old-pending", State: courier.StatePending, CreatedAt: old},
	}

	eligible := pipeline.ArchivePolicy{}.Eligible(msgs, maxDaysToLive, now, globalMax)

	require.Len(t, eligible, 2)
	assert.Equal(t, "old-sent", eligible[0].ID)
	assert.Equal(t, "old-failed-terminal", eligible[1].ID)
}

func TestArchivePolicy_RetentionBoundary(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	exactlyAtWindow := courier.Message{
		ID:        "m1",
		State:     courier.StateSent,
		CreatedAt: now.Add(-30 * 24 * time.Hour),
	}
	justPastWindow := courier.Message{
		ID:        "m2",
		State:     courier.StateSent,
		CreatedAt: now.Add(-30*24*time.Hour - time.Second),
	}

	eligible := pipeline.ArchivePolicy{}.Eligible(
		[]courier.Message{exactlyAtWindow, justPastWindow}, 30, now, 3)

	// Strictly older than the window; the boundary itself is kept.
	require.Len(t, eligible, 1)
	assert.Equal(t, "m2", eligible[0].ID)
}
