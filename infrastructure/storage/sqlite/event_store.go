package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/asynctrain/domain/event"
)

// EventStore is a SQLite-backed implementation of event.Store.
type EventStore struct {
	db        *sql.DB
	closeOnce sync.Once
}

// NewEventStore creates a new SQLite event store with the given configuration.
func NewEventStore(cfg Config, opts ...Option) (*EventStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &EventStore{db: db}
	if cfg.AutoMigrate {
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return s, nil
}

func (s *EventStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			type TEXT NOT NULL,
			worker INTEGER NOT NULL,
			sequence INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			data BLOB NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_events_run_seq ON events(run_id, sequence);
		CREATE INDEX IF NOT EXISTS idx_events_run_type ON events(run_id, type);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}

// Append persists one or more events atomically.
func (s *EventStore) Append(ctx context.Context, events ...event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(events) == 0 {
		return nil
	}

	for _, e := range events {
		if e.Type == "" || e.RunID == "" {
			return event.ErrInvalidEvent
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (id, run_id, type, worker, sequence, timestamp, data)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	seqs := make(map[string]uint64)
	for _, e := range events {
		seq, ok := seqs[e.RunID]
		if !ok {
			var maxSeq sql.NullInt64
			err := tx.QueryRowContext(ctx,
				"SELECT MAX(sequence) FROM events WHERE run_id = ?",
				e.RunID,
			).Scan(&maxSeq)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if maxSeq.Valid {
				seq = uint64(maxSeq.Int64)
			}
		}

		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		seq++
		e.Sequence = seq
		seqs[e.RunID] = seq

		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			e.ID, e.RunID, string(e.Type), e.Worker, e.Sequence, e.Timestamp.UnixNano(), data,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LoadEvents retrieves all events for a run in sequence order.
func (s *EventStore) LoadEvents(ctx context.Context, runID string) ([]event.Event, error) {
	return s.LoadEventsFrom(ctx, runID, 0)
}

// LoadEventsFrom retrieves events with sequence >= fromSeq.
func (s *EventStore) LoadEventsFrom(ctx context.Context, runID string, fromSeq uint64) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return s.query(ctx,
		"SELECT data FROM events WHERE run_id = ? AND sequence >= ? ORDER BY sequence",
		runID, fromSeq,
	)
}

// Query retrieves events matching the given options.
func (s *EventStore) Query(ctx context.Context, runID string, opts event.QueryOptions) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := "SELECT data FROM events WHERE run_id = ?"
	args := []any{runID}

	if len(opts.Types) > 0 {
		placeholders := make([]string, len(opts.Types))
		for i, t := range opts.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += " AND type IN (" + strings.Join(placeholders, ", ") + ")"
	}
	if opts.Worker != nil {
		query += " AND worker = ?"
		args = append(args, *opts.Worker)
	}

	query += " ORDER BY sequence"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	return s.query(ctx, query, args...)
}

func (s *EventStore) query(ctx context.Context, query string, args ...any) ([]event.Event, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var events []event.Event
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var e event.Event
		if err := json.Unmarshal(data, &e); err != nil {
			continue // Skip malformed entries
		}
		events = append(events, e)
	}

	return events, rows.Err()
}

// CountEvents returns the number of events for a run.
func (s *EventStore) CountEvents(ctx context.Context, runID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM events WHERE run_id = ?",
		runID,
	).Scan(&count)
	return count, err
}

// ListRuns returns all run IDs with events in the store.
func (s *EventStore) ListRuns(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT run_id FROM events ORDER BY run_id")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []string
	for rows.Next() {
		var runID string
		if err := rows.Scan(&runID); err != nil {
			return nil, err
		}
		runs = append(runs, runID)
	}

	return runs, rows.Err()
}

// Close closes the database connection.
func (s *EventStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.db.Close()
	})
	return err
}

var (
	_ event.Store   = (*EventStore)(nil)
	_ event.Querier = (*EventStore)(nil)
)
