package journal

import (
	"context"

	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/rs/zerolog"
)

// ====================================================================================
// The journal is the append-only audit trail of the pipeline: one entry per
// state transition the director performs. Entries are never mutated or
// deleted here; retention and export are a sink concern.
// ====================================================================================

// Journal is the append-only process log contract.
type Journal interface {
	// Append durably records one transition entry.
	Append(ctx context.Context, entry courier.JournalEntry) error
}

// Multi fans an entry out to a primary journal plus any number of
// best-effort sinks. Append fails only when the primary fails; sink errors
// are logged and dropped so an analytics outage never blocks the pipeline.
type Multi struct {
	primary Journal
	sinks   []Journal
	logger  zerolog.Logger
}

// NewMulti wraps a required primary journal and optional best-effort sinks.
func NewMulti(primary Journal, logger zerolog.Logger, sinks ...Journal) *Multi {
	return &Multi{
		primary: primary,
		sinks:   sinks,
		logger:  logger.With().Str("component", "MultiJournal").Logger(),
	}
}

// Append writes to the primary journal and then to each sink.
func (m *Multi) Append(ctx context.Context, entry courier.JournalEntry) error {
	if err := m.primary.Append(ctx, entry); err != nil {
		return err
	}
	for _, sink := range m.sinks {
		if err := sink.Append(ctx, entry); err != nil {
			m.logger.Warn().Err(err).
				Str("message_id", entry.MessageID).
				Str("event", string(entry.Event)).
				Msg("Best-effort journal sink failed, dropping entry for that sink.")
		}
	}
	return nil
}
