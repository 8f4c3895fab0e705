package microservice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler drives the pipeline on a fixed interval. The first tick waits for
// the startup delay so the host can finish registering providers before any
// message is dispatched. Tick panics are recovered so one bad cycle cannot
// take the loop down.
type Scheduler struct {
	interval     time.Duration
	startupDelay time.Duration
	tickFn       func(context.Context)
	logger       zerolog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(interval, startupDelay time.Duration, tickFn func(context.Context), logger zerolog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("scheduler interval must be > 0")
	}
	if tickFn == nil {
		return nil, errors.New("scheduler tick function cannot be nil")
	}
	return &Scheduler{
		interval:     interval,
		startupDelay: startupDelay,
		tickFn:       tickFn,
		logger:       logger.With().Str("component", "Scheduler").Logger(),
	}, nil
}

// Start launches the tick loop. Returns false if already running.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)

		if s.startupDelay > 0 {
			s.logger.Info().Dur("startup_delay", s.startupDelay).Msg("Scheduler waiting before first cycle.")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.startupDelay):
			}
		}

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info().Dur("interval", s.interval).Msg("Scheduler started.")
		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				s.logger.Info().Msg("Scheduler stopping.")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for the in-flight tick to finish. Returns
// false if the scheduler was not running.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}

	s.cancel()
	<-s.done
	s.running = false
	return true
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Scheduler tick panicked.")
		}
	}()

	start := time.Now()
	s.tickFn(ctx)
	s.logger.Debug().Dur("duration", time.Since(start)).Msg("Scheduler tick completed.")
}
