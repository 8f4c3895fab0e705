package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/illmade-knight/go-courier/pkg/journal"
	"github.com/illmade-knight/go-courier/pkg/provider"
	"github.com/illmade-knight/go-courier/pkg/store"
	"github.com/rs/zerolog"
)

// ProviderLister supplies the enabled provider descriptors for a cycle.
type ProviderLister interface {
	ListEnabled() []provider.Descriptor
}

// AdapterResolver builds a live delivery adapter for a descriptor.
type AdapterResolver interface {
	Resolve(desc provider.Descriptor) (provider.DeliveryAdapter, error)
}

// Archiver is an optional export sink written before messages leave the
// active store during the archive phase.
type Archiver interface {
	UploadBatch(ctx context.Context, msgs []courier.Message) error
}

// Config holds the director's tunables.
type Config struct {
	// MaxErrorCount is the global retry ceiling; messages may override it.
	MaxErrorCount int
	// MaxDaysToLive is the retention window before terminal messages are
	// archived.
	MaxDaysToLive int
	// PhaseDelay optionally pauses between the process, retry and archive
	// phases of a cycle.
	PhaseDelay time.Duration
}

// CycleReport summarizes one pipeline cycle.
type CycleReport struct {
	// Processed counts messages picked up by the process phase.
	Processed int
	// Sent and Failed count per-message delivery outcomes of this cycle.
	Sent   int
	Failed int
	// Retried counts failed messages reset to pending.
	Retried int
	// Archived counts messages removed from the active set.
	Archived int
	// Skipped is true when the invocation was a no-op because another cycle
	// was still in flight.
	Skipped bool
	// Faults records cycle-level store/journal problems. Messages touched by
	// a fault are left unchanged for the next cycle.
	Faults []string
}

// Director owns the message state machine and drives each cycle through its
// three ordered phases: process, retry, archive. It is the sole writer of
// message state, and it never runs a cycle concurrently with itself.
type Director struct {
	cfg      Config
	store    store.MessageStore
	journal  journal.Journal
	registry ProviderLister
	factory  AdapterResolver
	archiver Archiver
	retry    RetryPolicy
	archive  ArchivePolicy
	logger   zerolog.Logger

	inFlight atomic.Bool
}

// NewDirector wires a director. The archiver is optional and attached with
// WithArchiver.
func NewDirector(
	cfg Config,
	messageStore store.MessageStore,
	jrnl journal.Journal,
	registry ProviderLister,
	factory AdapterResolver,
	logger zerolog.Logger,
) (*Director, error) {
	if messageStore == nil {
		return nil, fmt.Errorf("message store cannot be nil")
	}
	if jrnl == nil {
		return nil, fmt.Errorf("journal cannot be nil")
	}
	if registry == nil {
		return nil, fmt.Errorf("provider registry cannot be nil")
	}
	if factory == nil {
		return nil, fmt.Errorf("adapter factory cannot be nil")
	}
	if cfg.MaxErrorCount <= 0 {
		cfg.MaxErrorCount = 3
	}
	if cfg.MaxDaysToLive <= 0 {
		cfg.MaxDaysToLive = 30
	}

	return &Director{
		cfg:      cfg,
		store:    messageStore,
		journal:  jrnl,
		registry: registry,
		factory:  factory,
		logger:   logger.With().Str("component", "Director").Logger(),
	}, nil
}

// WithArchiver attaches an export sink consulted during the archive phase.
func (d *Director) WithArchiver(a Archiver) *Director {
	d.archiver = a
	return d
}

// Enqueue stores a new message and journals its creation. It is the intake
// path used by the host's admin surface.
func (d *Director) Enqueue(ctx context.Context, msg courier.Message) (courier.Message, error) {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	if msg.ProcessAfter.IsZero() {
		msg.ProcessAfter = now
	}
	if msg.ArchiveAfter.IsZero() {
		msg.ArchiveAfter = now
	}
	msg.LastUpdatedAt = now
	msg.State = courier.StatePending

	switch msg.Type {
	case courier.TypeMail:
		if msg.Mail == nil {
			return courier.Message{}, fmt.Errorf("mail message requires a mail payload")
		}
	case courier.TypeText:
		if msg.Text == nil {
			return courier.Message{}, fmt.Errorf("text message requires a text payload")
		}
	default:
		return courier.Message{}, fmt.Errorf("unknown message type %q", msg.Type)
	}

	created, err := d.store.Create(ctx, msg)
	if err != nil {
		return courier.Message{}, fmt.Errorf("enqueue message: %w", err)
	}

	entry := courier.JournalEntry{
		MessageID:  created.ID,
		MessageKey: created.Key,
		AfterState: created.State,
		Event:      courier.EventCreated,
		Timestamp:  now,
	}
	if err := d.journal.Append(ctx, entry); err != nil {
		d.logger.Warn().Err(err).Str("message_id", created.ID).Msg("Failed to journal message creation.")
	}
	return created, nil
}

// RunCycle executes one full cycle: process, retry, archive. A concurrent
// invocation while a cycle is in flight returns immediately with a skipped
// report. A phase-level store fault aborts the remaining phases of this cycle
// only; the next cycle starts from a clean slate.
func (d *Director) RunCycle(ctx context.Context, now time.Time) CycleReport {
	if !d.inFlight.CompareAndSwap(false, true) {
		d.logger.Debug().Msg("Cycle already in flight, skipping.")
		return CycleReport{Skipped: true}
	}
	defer d.inFlight.Store(false)

	start := time.Now()
	var report CycleReport

	phases := []func(context.Context, time.Time, *CycleReport) bool{
		d.processPhase,
		d.retryPhase,
		d.archivePhase,
	}
	for i, phase := range phases {
		if ctx.Err() != nil {
			report.Faults = append(report.Faults, fmt.Sprintf("cycle cancelled: %v", ctx.Err()))
			break
		}
		if !phase(ctx, now, &report) {
			break
		}
		if d.cfg.PhaseDelay > 0 && i < len(phases)-1 {
			if err := sleepCtx(ctx, d.cfg.PhaseDelay); err != nil {
				report.Faults = append(report.Faults, fmt.Sprintf("cycle cancelled: %v", err))
				break
			}
		}
	}

	d.logger.Info().
		Int("processed", report.Processed).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Int("retried", report.Retried).
		Int("archived", report.Archived).
		Int("faults", len(report.Faults)).
		Dur("duration", time.Since(start)).
		Msg("Cycle completed.")
	return report
}

// ProcessOnce runs only the process phase. Used by admin tooling and tests.
func (d *Director) ProcessOnce(ctx context.Context, now time.Time) CycleReport {
	return d.runSinglePhase(ctx, now, d.processPhase)
}

// RetryOnce runs only the retry phase.
func (d *Director) RetryOnce(ctx context.Context, now time.Time) CycleReport {
	return d.runSinglePhase(ctx, now, d.retryPhase)
}

// ArchiveOnce runs only the archive phase.
func (d *Director) ArchiveOnce(ctx context.Context, now time.Time) CycleReport {
	return d.runSinglePhase(ctx, now, d.archivePhase)
}

func (d *Director) runSinglePhase(ctx context.Context, now time.Time, phase func(context.Context, time.Time, *CycleReport) bool) CycleReport {
	if !d.inFlight.CompareAndSwap(false, true) {
		return CycleReport{Skipped: true}
	}
	defer d.inFlight.Store(false)

	var report CycleReport
	phase(ctx, now, &report)
	return report
}

// ------------------------------------------------------------------
// Process phase
// ------------------------------------------------------------------

// providerGroup is one provider's batch for a cycle. Grouping happens once
// per cycle, so no message can appear in two concurrent batches.
type providerGroup struct {
	desc provider.Descriptor
	msgs []courier.Message
}

// processPhase selects ready messages, assigns each to a provider, and
// dispatches the per-provider batches concurrently. Returns false when a
// store fault should abort the rest of the cycle.
func (d *Director) processPhase(ctx context.Context, now time.Time, report *CycleReport) bool {
	msgs, err := d.store.FindReadyToProcess(ctx, now)
	if err != nil {
		d.logger.Error().Err(err).Msg("Process phase query failed, aborting cycle.")
		report.Faults = append(report.Faults, fmt.Sprintf("process query: %v", err))
		return false
	}
	if len(msgs) == 0 {
		return true
	}
	report.Processed = len(msgs)

	available := d.registry.ListEnabled()

	var mu sync.Mutex // guards report after this point
	groups := make(map[string]*providerGroup)
	for _, msg := range msgs {
		desc, err := SelectProvider(msg, available)
		if err != nil {
			if errors.Is(err, ErrNoCapableProvider) {
				d.failMessage(ctx, msg, "no capable provider", now, report, &mu)
				continue
			}
			report.Faults = append(report.Faults, fmt.Sprintf("assign %s: %v", msg.ID, err))
			continue
		}
		g, ok := groups[desc.Name]
		if !ok {
			g = &providerGroup{desc: desc}
			groups[desc.Name] = g
		}
		g.msgs = append(g.msgs, msg)
	}

	var wg sync.WaitGroup
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			// Cancelled: stop launching new dispatches; in-flight groups run
			// to completion. Unlaunched messages stay pending untouched.
			mu.Lock()
			report.Faults = append(report.Faults, fmt.Sprintf("process phase cancelled: %v", err))
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(g *providerGroup) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					d.logger.Error().Str("provider", g.desc.Name).Interface("panic", r).Msg("Provider group dispatch panicked.")
					mu.Lock()
					report.Faults = append(report.Faults, fmt.Sprintf("dispatch %s: panic: %v", g.desc.Name, r))
					mu.Unlock()
				}
			}()
			d.dispatchGroup(ctx, g, now, report, &mu)
		}(g)
	}
	wg.Wait()
	return true
}

// dispatchGroup assigns every message in the group to its provider, invokes
// the adapter with the whole batch, and reconciles the outcomes.
func (d *Director) dispatchGroup(ctx context.Context, g *providerGroup, now time.Time, report *CycleReport, mu *sync.Mutex) {
	// Assign first: the journal shows the hand-off even when the adapter
	// cannot be built.
	batch := make([]courier.Message, 0, len(g.msgs))
	for _, msg := range g.msgs {
		assigned, err := d.transition(ctx, msg, courier.TransitionRequest{
			Event:    courier.EventAssigned,
			Provider: g.desc.Name,
			Now:      now,
		})
		if err != nil {
			mu.Lock()
			report.Faults = append(report.Faults, fmt.Sprintf("assign %s to %s: %v", msg.ID, g.desc.Name, err))
			mu.Unlock()
			continue
		}
		batch = append(batch, assigned)
	}
	if len(batch) == 0 {
		return
	}

	adapter, err := d.factory.Resolve(g.desc)
	if err != nil {
		d.logger.Warn().Err(err).Str("provider", g.desc.Name).Msg("Adapter resolution failed, failing batch.")
		for _, msg := range batch {
			d.failMessage(ctx, msg, fmt.Sprintf("adapter resolution: %v", err), now, report, mu)
		}
		return
	}

	outcomes, err := adapter.DeliverBatch(ctx, g.desc, batch)
	if err != nil {
		// Batch-fatal adapter fault: every message in the batch failed.
		d.logger.Warn().Err(err).Str("provider", g.desc.Name).Int("batch_size", len(batch)).Msg("Batch delivery failed.")
		for _, msg := range batch {
			d.failMessage(ctx, msg, fmt.Sprintf("batch delivery: %v", err), now, report, mu)
		}
		return
	}

	byID := make(map[string]provider.Outcome, len(outcomes))
	for _, o := range outcomes {
		byID[o.MessageID] = o
	}

	for _, msg := range batch {
		outcome, ok := byID[msg.ID]
		if !ok {
			d.failMessage(ctx, msg, "adapter returned no outcome for message", now, report, mu)
			continue
		}
		if !outcome.Sent {
			d.failMessage(ctx, msg, outcome.Reason, now, report, mu)
			continue
		}

		if _, err := d.transition(ctx, msg, courier.TransitionRequest{
			Event: courier.EventSent,
			Now:   now,
		}); err != nil {
			mu.Lock()
			report.Faults = append(report.Faults, fmt.Sprintf("mark %s sent: %v", msg.ID, err))
			mu.Unlock()
			continue
		}
		mu.Lock()
		report.Sent++
		mu.Unlock()
	}
}

// failMessage applies the error transition for a single message and counts it
// on the report. Transition errors are cycle faults, not message failures.
func (d *Director) failMessage(ctx context.Context, msg courier.Message, reason string, now time.Time, report *CycleReport, mu *sync.Mutex) {
	_, err := d.transition(ctx, msg, courier.TransitionRequest{
		Event:  courier.EventError,
		Reason: reason,
		Now:    now,
	})

	mu.Lock()
	defer mu.Unlock()
	if err != nil {
		report.Faults = append(report.Faults, fmt.Sprintf("fail %s: %v", msg.ID, err))
		return
	}
	report.Failed++
}

// ------------------------------------------------------------------
// Retry phase
// ------------------------------------------------------------------

func (d *Director) retryPhase(ctx context.Context, now time.Time, report *CycleReport) bool {
	msgs, err := d.store.FindReadyToRetry(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("Retry phase query failed, aborting cycle.")
		report.Faults = append(report.Faults, fmt.Sprintf("retry query: %v", err))
		return false
	}

	for _, msg := range d.retry.Eligible(msgs, d.cfg.MaxErrorCount) {
		if ctx.Err() != nil {
			report.Faults = append(report.Faults, fmt.Sprintf("retry phase cancelled: %v", ctx.Err()))
			return false
		}
		if _, err := d.transition(ctx, msg, courier.TransitionRequest{
			Event: courier.EventReset,
			Now:   now,
		}); err != nil {
			report.Faults = append(report.Faults, fmt.Sprintf("reset %s: %v", msg.ID, err))
			continue
		}
		report.Retried++
	}
	return true
}

// ------------------------------------------------------------------
// Archive phase
// ------------------------------------------------------------------

func (d *Director) archivePhase(ctx context.Context, now time.Time, report *CycleReport) bool {
	msgs, err := d.store.FindReadyToArchive(ctx, now)
	if err != nil {
		d.logger.Error().Err(err).Msg("Archive phase query failed, aborting cycle.")
		report.Faults = append(report.Faults, fmt.Sprintf("archive query: %v", err))
		return false
	}

	eligible := d.archive.Eligible(msgs, d.cfg.MaxDaysToLive, now, d.cfg.MaxErrorCount)
	if len(eligible) == 0 {
		return true
	}

	if d.archiver != nil {
		if err := d.archiver.UploadBatch(ctx, eligible); err != nil {
			// Without the export copy nothing is removed; the same set is
			// retried next cycle.
			d.logger.Error().Err(err).Int("batch_size", len(eligible)).Msg("Archive export failed, deferring archival.")
			report.Faults = append(report.Faults, fmt.Sprintf("archive export: %v", err))
			return true
		}
	}

	for _, msg := range eligible {
		if ctx.Err() != nil {
			report.Faults = append(report.Faults, fmt.Sprintf("archive phase cancelled: %v", ctx.Err()))
			return false
		}

		_, entry, err := courier.ApplyTransition(msg, courier.TransitionRequest{
			Event: courier.EventArchiveRequested,
			Now:   now,
		})
		if err != nil {
			report.Faults = append(report.Faults, fmt.Sprintf("archive %s: %v", msg.ID, err))
			continue
		}
		if err := d.appendEntry(ctx, entry); err != nil {
			report.Faults = append(report.Faults, fmt.Sprintf("journal archive of %s: %v", msg.ID, err))
			continue
		}
		if err := d.store.Archive(ctx, msg.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				// Already archived; idempotent.
				continue
			}
			report.Faults = append(report.Faults, fmt.Sprintf("archive %s: %v", msg.ID, err))
			continue
		}
		report.Archived++
	}
	return true
}

// ------------------------------------------------------------------
// Transition helper
// ------------------------------------------------------------------

// transition applies one state-machine event: validate, compare-and-set in
// the store, then append the journal entry. The pair of writes is one logical
// unit; a failed journal append is retried once before being surfaced.
func (d *Director) transition(ctx context.Context, msg courier.Message, req courier.TransitionRequest) (courier.Message, error) {
	updated, entry, err := courier.ApplyTransition(msg, req)
	if err != nil {
		return courier.Message{}, err
	}

	persisted, err := d.store.UpdateState(ctx, msg.ID, store.StateUpdate{
		ExpectedState:    msg.State,
		NewState:         updated.State,
		AssignedProvider: updated.AssignedProvider,
		ErrorCount:       updated.ErrorCount,
		UpdatedAt:        req.Now,
	})
	if err != nil {
		return courier.Message{}, fmt.Errorf("update state of %s: %w", msg.ID, err)
	}

	if err := d.appendEntry(ctx, entry); err != nil {
		appendErr := fmt.Errorf("journal %s for %s: %w", entry.Event, msg.ID, err)
		if updated.State != courier.StateProcessing {
			// Pending, failed and sent are all reachable by a later phase or
			// already terminal; the missing entry is surfaced as a fault.
			return persisted, appendErr
		}
		// Processing is the one state no phase query reselects. Undo the
		// hand-off so the message is reconsidered next cycle instead of
		// stranding behind a journal outage.
		if _, undoErr := d.store.UpdateState(ctx, msg.ID, store.StateUpdate{
			ExpectedState:    updated.State,
			NewState:         msg.State,
			AssignedProvider: msg.AssignedProvider,
			ErrorCount:       msg.ErrorCount,
			UpdatedAt:        req.Now,
		}); undoErr != nil {
			d.logger.Error().Err(undoErr).Str("message_id", msg.ID).Msg("Failed to undo provider hand-off after journal failure.")
			return persisted, fmt.Errorf("%v (hand-off undo failed: %w)", appendErr, undoErr)
		}
		return courier.Message{}, appendErr
	}
	return persisted, nil
}

func (d *Director) appendEntry(ctx context.Context, entry courier.JournalEntry) error {
	err := d.journal.Append(ctx, entry)
	if err == nil {
		return nil
	}
	d.logger.Warn().Err(err).Str("message_id", entry.MessageID).Msg("Journal append failed, retrying once.")
	return d.journal.Append(ctx, entry)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
