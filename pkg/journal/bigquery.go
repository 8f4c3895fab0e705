package journal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/rs/zerolog"
)

// BigQueryJournalConfig holds configuration for the BigQuery export sink.
type BigQueryJournalConfig struct {
	DatasetID     string
	TableID       string
	BatchSize     int
	FlushInterval time.Duration
	InsertTimeout time.Duration
}

// entryRow is the flat row shape streamed to BigQuery. Keeping it separate
// from courier.JournalEntry lets the audit table schema evolve independently
// of the wire type.
type entryRow struct {
	MessageID   string    `bigquery:"message_id"`
	MessageKey  string    `bigquery:"message_key"`
	BeforeState string    `bigquery:"before_state"`
	AfterState  string    `bigquery:"after_state"`
	Event       string    `bigquery:"event"`
	Provider    string    `bigquery:"provider"`
	Error       string    `bigquery:"error"`
	Timestamp   time.Time `bigquery:"timestamp"`
}

// BigQueryJournal buffers journal entries and streams them to a BigQuery
// table in batches for audit analytics. It is a best-effort sink: Append only
// enqueues, and insert failures are logged by the flush worker.
type BigQueryJournal struct {
	cfg       BigQueryJournalConfig
	inserter  *bigquery.Inserter
	logger    zerolog.Logger
	inputChan chan entryRow
	wg        sync.WaitGroup
}

// NewBigQueryJournal verifies the target table exists (creating it with an
// inferred schema when missing) and starts the flush worker.
func NewBigQueryJournal(
	ctx context.Context,
	cfg BigQueryJournalConfig,
	client *bigquery.Client,
	logger zerolog.Logger,
) (*BigQueryJournal, error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.InsertTimeout <= 0 {
		cfg.InsertTimeout = 20 * time.Second
	}

	logger = logger.With().Str("component", "BigQueryJournal").Str("dataset_id", cfg.DatasetID).Str("table_id", cfg.TableID).Logger()

	tableRef := client.Dataset(cfg.DatasetID).Table(cfg.TableID)
	if _, err := tableRef.Metadata(ctx); err != nil {
		if !strings.Contains(err.Error(), "notFound") {
			return nil, fmt.Errorf("failed to get BigQuery table metadata: %w", err)
		}
		logger.Warn().Msg("Audit table not found. Creating with inferred schema.")
		inferredSchema, inferErr := bigquery.InferSchema(entryRow{})
		if inferErr != nil {
			return nil, fmt.Errorf("failed to infer audit row schema: %w", inferErr)
		}
		if createErr := tableRef.Create(ctx, &bigquery.TableMetadata{Schema: inferredSchema}); createErr != nil {
			return nil, fmt.Errorf("failed to create BigQuery table %s.%s: %w", cfg.DatasetID, cfg.TableID, createErr)
		}
	}

	j := &BigQueryJournal{
		cfg:       cfg,
		inserter:  tableRef.Inserter(),
		logger:    logger,
		inputChan: make(chan entryRow, cfg.BatchSize*2),
	}

	j.wg.Add(1)
	go j.worker()

	return j, nil
}

// Append enqueues the entry for the next batch flush. It never blocks the
// pipeline: when the buffer is full the entry is dropped with a warning.
func (j *BigQueryJournal) Append(_ context.Context, entry courier.JournalEntry) error {
	row := entryRow{
		MessageID:   entry.MessageID,
		MessageKey:  entry.MessageKey,
		BeforeState: string(entry.BeforeState),
		AfterState:  string(entry.AfterState),
		Event:       string(entry.Event),
		Provider:    entry.Provider,
		Error:       entry.Error,
		Timestamp:   entry.Timestamp,
	}

	select {
	case j.inputChan <- row:
		return nil
	default:
		j.logger.Warn().Str("message_id", entry.MessageID).Msg("Audit export buffer full, dropping entry.")
		return nil
	}
}

// Stop flushes the remaining buffer and waits for the worker to finish,
// respecting the context's timeout.
func (j *BigQueryJournal) Stop(ctx context.Context) error {
	close(j.inputChan)

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info().Msg("BigQueryJournal worker stopped gracefully.")
		return nil
	case <-ctx.Done():
		j.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for BigQueryJournal worker to stop.")
		return ctx.Err()
	}
}

// worker collects rows into a batch and flushes on size or interval.
func (j *BigQueryJournal) worker() {
	defer j.wg.Done()

	batch := make([]*entryRow, 0, j.cfg.BatchSize)
	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case row, ok := <-j.inputChan:
			if !ok {
				j.flush(batch)
				return
			}
			r := row
			batch = append(batch, &r)
			if len(batch) >= j.cfg.BatchSize {
				j.flush(batch)
				batch = make([]*entryRow, 0, j.cfg.BatchSize)
				ticker.Reset(j.cfg.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				j.flush(batch)
				batch = make([]*entryRow, 0, j.cfg.BatchSize)
			}
		}
	}
}

func (j *BigQueryJournal) flush(batch []*entryRow) {
	if len(batch) == 0 {
		return
	}

	insertCtx, cancel := context.WithTimeout(context.Background(), j.cfg.InsertTimeout)
	defer cancel()

	if err := j.inserter.Put(insertCtx, batch); err != nil {
		j.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to insert audit rows into BigQuery.")
		if multiErr, ok := err.(bigquery.PutMultiError); ok {
			for _, rowErr := range multiErr {
				j.logger.Error().Int("row_index", rowErr.RowIndex).Msgf("BigQuery insert error for row: %v", rowErr.Errors)
			}
		}
		return
	}
	j.logger.Debug().Int("batch_size", len(batch)).Msg("Audit rows exported to BigQuery.")
}
