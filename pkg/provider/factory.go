package provider

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// ErrUnknownFactoryKey is returned when no adapter constructor is registered
// for a descriptor's factory key. The director treats this as a recoverable,
// per-group delivery failure.
var ErrUnknownFactoryKey = errors.New("unknown provider factory key")

// AdapterConstructor builds a live adapter for a descriptor. Constructors
// read their backend configuration from the descriptor's Params.
type AdapterConstructor func(desc Descriptor) (DeliveryAdapter, error)

// Factory maps factory keys to adapter constructors. The mapping is populated
// explicitly at process start by whichever adapters are compiled in; there is
// no dynamic discovery.
type Factory struct {
	mu           sync.RWMutex
	constructors map[string]AdapterConstructor
	logger       zerolog.Logger
}

// NewFactory creates an empty adapter factory.
func NewFactory(logger zerolog.Logger) *Factory {
	return &Factory{
		constructors: make(map[string]AdapterConstructor),
		logger:       logger.With().Str("component", "AdapterFactory").Logger(),
	}
}

// Register binds a constructor to a factory key. Registering the same key
// twice is a wiring bug and returns an error.
func (f *Factory) Register(key string, ctor AdapterConstructor) error {
	if key == "" {
		return fmt.Errorf("factory key cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("constructor for factory key %q cannot be nil", key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.constructors[key]; exists {
		return fmt.Errorf("factory key %q is already registered", key)
	}
	f.constructors[key] = ctor
	f.logger.Info().Str("factory_key", key).Msg("Delivery adapter registered.")
	return nil
}

// Resolve builds an adapter for the descriptor, or returns
// ErrUnknownFactoryKey when no constructor is registered for its key.
func (f *Factory) Resolve(desc Descriptor) (DeliveryAdapter, error) {
	f.mu.RLock()
	ctor, ok := f.constructors[desc.FactoryKey]
	f.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q for provider %q", ErrUnknownFactoryKey, desc.FactoryKey, desc.Name)
	}

	adapter, err := ctor(desc)
	if err != nil {
		return nil, fmt.Errorf("constructing adapter %q for provider %q: %w", desc.FactoryKey, desc.Name, err)
	}
	return adapter, nil
}
