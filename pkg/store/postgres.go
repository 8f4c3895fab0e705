package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/illmade-knight/go-courier/pkg/courier"
	"github.com/rs/zerolog"
)

// Schema is the DDL for the messages table the PostgresStore expects.
// Archival is a soft delete: archived rows keep their audit value but leave
// the active query surface via the archived_at predicate.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
    id                 TEXT PRIMARY KEY,
    key                TEXT NOT NULL UNIQUE,
    type               TEXT NOT NULL,
    state              TEXT NOT NULL,
    assigned_provider  TEXT NOT NULL DEFAULT '',
    preferred_provider TEXT NOT NULL DEFAULT '',
    error_count        INT  NOT NULL DEFAULT 0,
    max_errors         INT  NOT NULL DEFAULT 0,
    process_after      TIMESTAMPTZ NOT NULL,
    archive_after      TIMESTAMPTZ NOT NULL,
    disabled           BOOLEAN NOT NULL DEFAULT FALSE,
    created_at         TIMESTAMPTZ NOT NULL,
    last_updated_at    TIMESTAMPTZ NOT NULL,
    mail               JSONB,
    text               JSONB,
    archived_at        TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS messages_state_idx ON messages (state) WHERE archived_at IS NULL;
`

const messageColumns = `id, key, type, state, assigned_provider, preferred_provider,
       error_count, max_errors, process_after, archive_after, disabled,
       created_at, last_updated_at, mail, text`

// PostgresStore is a MessageStore backed by a Postgres messages table,
// accessed through database/sql (register the pgx stdlib driver in the host).
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgresStore wraps an open *sql.DB. The connection's lifecycle is
// managed by the caller.
func NewPostgresStore(db *sql.DB, logger zerolog.Logger) (*PostgresStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	return &PostgresStore{
		db:     db,
		logger: logger.With().Str("component", "PostgresStore").Logger(),
	}, nil
}

// EnsureSchema creates the messages table when it does not exist yet.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure messages schema: %w", err)
	}
	return nil
}

// Create inserts a new message row.
func (s *PostgresStore) Create(ctx context.Context, msg courier.Message) (courier.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Key == "" {
		msg.Key = uuid.NewString()
	}
	if msg.State == "" {
		msg.State = courier.StatePending
	}

	mailJSON, textJSON, err := marshalPayloads(msg)
	if err != nil {
		return courier.Message{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, key, type, state, assigned_provider, preferred_provider,
		                      error_count, max_errors, process_after, archive_after, disabled,
		                      created_at, last_updated_at, mail, text)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, msg.ID, msg.Key, msg.Type, msg.State, msg.AssignedProvider, msg.PreferredProvider,
		msg.ErrorCount, msg.MaxErrors, msg.ProcessAfter, msg.ArchiveAfter, msg.Disabled,
		msg.CreatedAt, msg.LastUpdatedAt, mailJSON, textJSON)
	if err != nil {
		return courier.Message{}, fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return msg, nil
}

// GetByKey returns the message with the given key, archived or not.
func (s *PostgresStore) GetByKey(ctx context.Context, key string) (courier.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE key = $1
	`, key)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return courier.Message{}, ErrNotFound
	}
	return msg, err
}

// FindReadyToProcess returns enabled pending messages whose process_after has passed.
func (s *PostgresStore) FindReadyToProcess(ctx context.Context, now time.Time) ([]courier.Message, error) {
	return s.findMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE state = 'pending' AND disabled = FALSE AND process_after <= $1 AND archived_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, now)
}

// FindReadyToRetry returns enabled failed messages.
func (s *PostgresStore) FindReadyToRetry(ctx context.Context) ([]courier.Message, error) {
	return s.findMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE state = 'failed' AND disabled = FALSE AND archived_at IS NULL
		ORDER BY created_at ASC, id ASC
	`)
}

// FindReadyToArchive returns sent and failed messages past their archive_after.
func (s *PostgresStore) FindReadyToArchive(ctx context.Context, now time.Time) ([]courier.Message, error) {
	return s.findMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE state IN ('sent', 'failed') AND archive_after <= $1 AND archived_at IS NULL
		ORDER BY created_at ASC, id ASC
	`, now)
}

// UpdateState applies the compare-and-set mutation; the state predicate in the
// WHERE clause is the CAS guard.
func (s *PostgresStore) UpdateState(ctx context.Context, id string, upd StateUpdate) (courier.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE messages
		SET state = $3, assigned_provider = $4, error_count = $5, last_updated_at = $6
		WHERE id = $1 AND state = $2 AND archived_at IS NULL
		RETURNING `+messageColumns+`
	`, id, upd.ExpectedState, upd.NewState, upd.AssignedProvider, upd.ErrorCount, upd.UpdatedAt)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		// Distinguish a missing row from a CAS miss for the caller.
		var exists bool
		checkErr := s.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1 AND archived_at IS NULL)`, id).Scan(&exists)
		if checkErr != nil {
			return courier.Message{}, fmt.Errorf("update state check for %s: %w", id, checkErr)
		}
		if exists {
			return courier.Message{}, ErrStateConflict
		}
		return courier.Message{}, ErrNotFound
	}
	return msg, err
}

// Archive soft-deletes the row by stamping archived_at.
func (s *PostgresStore) Archive(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages
		SET archived_at = now()
		WHERE id = $1 AND archived_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("archive message %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("archive message %s: %w", id, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) findMessages(ctx context.Context, query string, args ...any) ([]courier.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []courier.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (courier.Message, error) {
	var m courier.Message
	var mailJSON, textJSON []byte

	err := row.Scan(
		&m.ID, &m.Key, &m.Type, &m.State, &m.AssignedProvider, &m.PreferredProvider,
		&m.ErrorCount, &m.MaxErrors, &m.ProcessAfter, &m.ArchiveAfter, &m.Disabled,
		&m.CreatedAt, &m.LastUpdatedAt, &mailJSON, &textJSON,
	)
	if err != nil {
		return courier.Message{}, err
	}

	if len(mailJSON) > 0 {
		m.Mail = &courier.MailPayload{}
		if err := json.Unmarshal(mailJSON, m.Mail); err != nil {
			return courier.Message{}, fmt.Errorf("unmarshal mail payload for %s: %w", m.ID, err)
		}
	}
	if len(textJSON) > 0 {
		m.Text = &courier.TextPayload{}
		if err := json.Unmarshal(textJSON, m.Text); err != nil {
			return courier.Message{}, fmt.Errorf("unmarshal text payload for %s: %w", m.ID, err)
		}
	}
	return m, nil
}

func marshalPayloads(msg courier.Message) ([]byte, []byte, error) {
	var mailJSON, textJSON []byte
	var err error
	if msg.Mail != nil {
		if mailJSON, err = json.Marshal(msg.Mail); err != nil {
			return nil, nil, fmt.Errorf("marshal mail payload: %w", err)
		}
	}
	if msg.Text != nil {
		if textJSON, err = json.Marshal(msg.Text); err != nil {
			return nil, nil, fmt.Errorf("marshal text payload: %w", err)
		}
	}
	return mailJSON, textJSON, nil
}
