package cache

import (
	"context"
	"time"

	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/store"
)

// MessageStatus is the externally visible delivery status of a message,
// looked up by its caller-supplied key. It deliberately omits payloads so the
// status surface never leaks message content.
type MessageStatus struct {
	Key              string               `json:"key"`
	State            courier.MessageState `json:"state"`
	AssignedProvider string               `json:"assignedProvider,omitempty"`
	ErrorCount       int                  `json:"errorCount"`
	LastUpdatedAt    time.Time            `json:"lastUpdatedAt"`
}

// StatusFromMessage projects a message onto its status view.
func StatusFromMessage(msg courier.Message) MessageStatus {
	return MessageStatus{
		Key:              msg.Key,
		State:            msg.State,
		AssignedProvider: msg.AssignedProvider,
		ErrorCount:       msg.ErrorCount,
		LastUpdatedAt:    msg.LastUpdatedAt,
	}
}

// StatusFetcher retrieves the status of a message by its external key.
type StatusFetcher interface {
	Fetch(ctx context.Context, key string) (MessageStatus, error)
}

// StoreFetcher is the authoritative StatusFetcher, reading straight from the
// message store. It is also the fallback behind the caching layers.
type StoreFetcher struct {
	store store.MessageStore
}

// NewStoreFetcher wraps a message store as a StatusFetcher.
func NewStoreFetcher(messageStore store.MessageStore) *StoreFetcher {
	return &StoreFetcher{store: messageStore}
}

// Fetch looks the message up by key. Returns store.ErrNotFound for unknown keys.
func (f *StoreFetcher) Fetch(ctx context.Context, key string) (MessageStatus, error) {
	msg, err := f.store.GetByKey(ctx, key)
	if err != nil {
		return MessageStatus{}, err
	}
	return StatusFromMessage(msg), nil
}
