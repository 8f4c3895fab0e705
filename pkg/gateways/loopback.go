// Package gateways holds the concrete delivery adapters registered behind the
// provider factory. Every gateway implements provider.DeliveryAdapter: it
// attempts delivery and reports per-message outcomes, leaving all state
// decisions to the pipeline director.
package gateways

import (
	"context"
	"sync"

	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/provider"
)

// FactoryKeyLoopback registers the in-memory loopback gateway.
const FactoryKeyLoopback = "loopback"

// LoopbackGateway "delivers" messages into an in-memory log. It backs local
// development and smoke tests where no real backend is available.
type LoopbackGateway struct {
	mu        sync.Mutex
	delivered []courier.Message
}

// NewLoopbackGateway creates an empty loopback gateway.
func NewLoopbackGateway() *LoopbackGateway {
	return &LoopbackGateway{}
}

// DeliverBatch records every message as delivered.
func (g *LoopbackGateway) DeliverBatch(_ context.Context, _ provider.Descriptor, msgs []courier.Message) ([]provider.Outcome, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	outcomes := make([]provider.Outcome, 0, len(msgs))
	for _, m := range msgs {
		g.delivered = append(g.delivered, m)
		outcomes = append(outcomes, provider.SentOutcome(m.ID, "loopback-"+m.ID))
	}
	return outcomes, nil
}

// Delivered returns a snapshot of every message delivered so far.
func (g *LoopbackGateway) Delivered() []courier.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]courier.Message, len(g.delivered))
	copy(out, g.delivered)
	return out
}

// RegisterLoopback binds the loopback gateway to its factory key. All
// descriptors with this key share one gateway instance so tests can inspect
// deliveries.
func RegisterLoopback(f *provider.Factory) (*LoopbackGateway, error) {
	gateway := NewLoopbackGateway()
	err := f.Register(FactoryKeyLoopback, func(provider.Descriptor) (provider.DeliveryAdapter, error) {
		return gateway, nil
	})
	if err != nil {
		return nil, err
	}
	return gateway, nil
}
