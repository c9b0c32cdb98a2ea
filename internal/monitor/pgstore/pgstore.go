// Package pgstore implements monitor.Controller over PostgreSQL, for
// deployments that want durable relational storage instead of (or beside)
// Redis. Concurrency is serialized per key with SELECT ... FOR UPDATE
// inside a transaction.
package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/eayunstack/notifyqueue/internal/monitor"
)

// Store is a monitor.Controller backed by a Postgres table.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

func New(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

type monitorRow struct {
	Key      string `db:"key"`
	Project  string `db:"project"`
	Type     string `db:"type"`
	Name     string `db:"name"`
	Counters []byte `db:"counters"`
}

func (s *Store) Create(ctx context.Context, key monitor.Key) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	counters := zero(key.Type)
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("pgstore: marshal zero counters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitors (key, project, type, name, counters)
		VALUES ($1, $2, $3, $4, $5)`,
		key.String(), key.Project, string(key.Type), key.Name, payload)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return monitor.ErrAlreadyExists
		}
		return fmt.Errorf("pgstore: create: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key monitor.Key) (monitor.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row monitorRow
	err := s.db.GetContext(ctx, &row, `
		SELECT key, project, type, name, counters FROM monitors WHERE key = $1`, key.String())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return monitor.Record{}, monitor.ErrNotFound
		}
		return monitor.Record{}, fmt.Errorf("pgstore: get: %w", err)
	}

	var counters map[string]int64
	if err := json.Unmarshal(row.Counters, &counters); err != nil {
		return monitor.Record{}, fmt.Errorf("pgstore: unmarshal counters: %w", err)
	}
	return monitor.Normalize(key, counters), nil
}

func (s *Store) List(ctx context.Context, opts monitor.ListOptions) (monitor.Page, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `SELECT key, project, type, name, counters FROM monitors WHERE key > $1`
	args := []interface{}{opts.Marker}
	argN := 2

	if opts.Type != "" {
		query += fmt.Sprintf(" AND type = $%d", argN)
		args = append(args, string(opts.Type))
		argN++
	}
	if !opts.AllProject && opts.Project != "" {
		query += fmt.Sprintf(" AND project = $%d", argN)
		args = append(args, opts.Project)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY key ASC LIMIT $%d", argN)
	args = append(args, limit)

	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return monitor.Page{}, fmt.Errorf("pgstore: list: %w", err)
	}
	defer rows.Close()

	var page monitor.Page
	for rows.Next() {
		var row monitorRow
		if err := rows.StructScan(&row); err != nil {
			return monitor.Page{}, fmt.Errorf("pgstore: scan: %w", err)
		}
		var counters map[string]int64
		if err := json.Unmarshal(row.Counters, &counters); err != nil {
			return monitor.Page{}, fmt.Errorf("pgstore: unmarshal counters: %w", err)
		}
		k := monitor.Key{Project: row.Project, Type: monitor.Type(row.Type), Name: row.Name}
		page.Records = append(page.Records, monitor.Normalize(k, counters))
		page.NextMarker = row.Key
	}
	return page, rows.Err()
}

func (s *Store) Update(ctx context.Context, project, name string, countType monitor.CountType, success bool, n int, b int64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	delta, err := monitor.ComputeDelta(countType, success, n, b)
	if err != nil {
		return err
	}
	key := monitor.Key{Project: project, Type: delta.Type, Name: name}

	if err := s.applyDelta(ctx, key, delta.Fields); err == nil {
		return nil
	} else if !errors.Is(err, monitor.ErrNotFound) {
		return err
	}

	if createErr := s.Create(ctx, key); createErr != nil && createErr != monitor.ErrAlreadyExists {
		return fmt.Errorf("pgstore: update create-on-miss: %w", createErr)
	}
	if err := s.applyDelta(ctx, key, delta.Fields); err != nil {
		return fmt.Errorf("pgstore: update retry failed: %w", err)
	}
	return nil
}

func (s *Store) applyDelta(ctx context.Context, key monitor.Key, fields map[string]int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT counters FROM monitors WHERE key = $1 FOR UPDATE`, key.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return monitor.ErrNotFound
		}
		return fmt.Errorf("pgstore: lock row: %w", err)
	}

	var counters map[string]int64
	if err := json.Unmarshal(raw, &counters); err != nil {
		return fmt.Errorf("pgstore: unmarshal counters: %w", err)
	}
	if counters == nil {
		counters = map[string]int64{}
	}
	for f, d := range fields {
		counters[f] += d
	}

	updated, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("pgstore: marshal counters: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE monitors SET counters = $1 WHERE key = $2`, updated, key.String()); err != nil {
		return fmt.Errorf("pgstore: update counters: %w", err)
	}
	return tx.Commit()
}

func zero(t monitor.Type) map[string]int64 {
	fields := monitor.QueueCountFields
	if t == monitor.TypeTopic {
		fields = monitor.TopicCountFields
	}
	m := make(map[string]int64, len(fields))
	for _, f := range fields {
		m[f] = 0
	}
	return m
}
