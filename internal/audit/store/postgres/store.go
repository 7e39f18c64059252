package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"trustcore/internal/audit"
	"trustcore/pkg/platform/sentinel"
	txcontext "trustcore/pkg/platform/tx"
)

// Store persists the chain in the audit_events table. The payload column is
// TEXT so the canonical bytes come back exactly as hashed.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const selectColumns = `sequence_number, timestamp, event_type, actor_id, correlation_id, outcome, payload, event_hash, chain_hash`

// Append inserts one event. A retried insert of the same event is accepted;
// a different event at an existing sequence number is a conflict.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	return txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		return s.append(ctx, event)
	})
}

func (s *Store) append(ctx context.Context, event audit.Event) error {
	query := `
		INSERT INTO audit_events (` + selectColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sequence_number) DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		int64(event.SequenceNumber),
		event.Timestamp,
		string(event.EventType),
		event.ActorID,
		event.CorrelationID,
		string(event.Outcome),
		string(event.Payload),
		event.EventHash,
		event.ChainHash,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		return nil
	}

	var existing string
	err = s.execer(ctx).QueryRowContext(ctx,
		`SELECT chain_hash FROM audit_events WHERE sequence_number = $1`,
		int64(event.SequenceNumber),
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("check existing audit event: %w", err)
	}
	if existing != event.ChainHash {
		return fmt.Errorf("sequence %d already holds a different event: %w", event.SequenceNumber, sentinel.ErrConflict)
	}
	return nil
}

func (s *Store) Last(ctx context.Context) (*audit.Event, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM audit_events ORDER BY sequence_number DESC LIMIT 1`)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read last audit event: %w", err)
	}
	return &e, nil
}

func (s *Store) Range(ctx context.Context, from, to uint64) ([]audit.Event, error) {
	if to == 0 {
		return s.query(ctx,
			`SELECT `+selectColumns+` FROM audit_events WHERE sequence_number >= $1 ORDER BY sequence_number`,
			int64(from))
	}
	return s.query(ctx,
		`SELECT `+selectColumns+` FROM audit_events WHERE sequence_number >= $1 AND sequence_number < $2 ORDER BY sequence_number`,
		int64(from), int64(to))
}

func (s *Store) ByCorrelation(ctx context.Context, correlationID string) ([]audit.Event, error) {
	return s.query(ctx,
		`SELECT `+selectColumns+` FROM audit_events WHERE correlation_id = $1 ORDER BY sequence_number`,
		correlationID)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]audit.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []audit.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (audit.Event, error) {
	var (
		e       audit.Event
		seq     int64
		actor   sql.NullString
		payload string
	)
	err := row.Scan(&seq, &e.Timestamp, &e.EventType, &actor, &e.CorrelationID, &e.Outcome, &payload, &e.EventHash, &e.ChainHash)
	if err != nil {
		return audit.Event{}, err
	}
	e.SequenceNumber = uint64(seq)
	e.Timestamp = e.Timestamp.UTC()
	if actor.Valid {
		v := actor.String
		e.ActorID = &v
	}
	e.Payload = json.RawMessage(payload)
	return e, nil
}
