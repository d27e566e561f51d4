package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/felixgeelhaar/asynctrain/domain/run"
)

// RunStore is a SQLite-backed implementation of run.Store.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new SQLite run store with the given configuration.
func NewRunStore(cfg Config, opts ...Option) (*RunStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &RunStore{db: db}

	if cfg.AutoMigrate {
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return s, nil
}

// migrate creates the runs table if it doesn't exist.
func (s *RunStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS training_runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			global_steps INTEGER NOT NULL,
			episodes INTEGER NOT NULL,
			error TEXT,
			data BLOB NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_training_runs_status ON training_runs(status);
		CREATE INDEX IF NOT EXISTS idx_training_runs_start_time ON training_runs(start_time);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}
	return nil
}

// Save persists a new run.
func (s *RunStore) Save(ctx context.Context, r *run.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		return run.ErrInvalidRunID
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO training_runs (id, name, status, global_steps, episodes, error, data, start_time, end_time, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Name, string(r.Status), r.GlobalSteps, r.Episodes, r.Error,
		data, r.StartTime.UnixNano(), endTime(r), time.Now().UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return run.ErrRunExists
		}
		return err
	}

	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*run.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, run.ErrInvalidRunID
	}

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM training_runs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, run.ErrRunNotFound
	}
	if err != nil {
		return nil, err
	}

	var r run.Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Update updates an existing run.
func (s *RunStore) Update(ctx context.Context, r *run.Run) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.ID == "" {
		return run.ErrInvalidRunID
	}

	data, err := json.Marshal(r)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE training_runs SET
			name = ?, status = ?, global_steps = ?, episodes = ?, error = ?,
			data = ?, end_time = ?, updated_at = ?
		 WHERE id = ?`,
		r.Name, string(r.Status), r.GlobalSteps, r.Episodes, r.Error,
		data, endTime(r), time.Now().UnixNano(), r.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return run.ErrRunNotFound
	}
	return nil
}

// Delete removes a run by ID.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if id == "" {
		return run.ErrInvalidRunID
	}

	result, err := s.db.ExecContext(ctx, "DELETE FROM training_runs WHERE id = ?", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return run.ErrRunNotFound
	}
	return nil
}

// List returns runs matching the filter, newest first.
func (s *RunStore) List(ctx context.Context, filter run.ListFilter) ([]*run.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query, args := buildListQuery(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var runs []*run.Run
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var r run.Run
		if err := json.Unmarshal(data, &r); err != nil {
			continue // Skip malformed entries
		}
		runs = append(runs, &r)
	}

	return runs, rows.Err()
}

func buildListQuery(filter run.ListFilter) (string, []any) {
	var (
		where []string
		args  []any
	)

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, st := range filter.Status {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ", ")+")")
	}

	if !filter.FromTime.IsZero() {
		where = append(where, "start_time >= ?")
		args = append(args, filter.FromTime.UnixNano())
	}

	query := "SELECT data FROM training_runs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY start_time DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	return query, args
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

func endTime(r *run.Run) sql.NullInt64 {
	if r.EndTime.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: r.EndTime.UnixNano(), Valid: true}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Ensure RunStore implements run.Store
var _ run.Store = (*RunStore)(nil)
