// Package pgstore implements topic.Store over PostgreSQL via sqlx and
// lib/pq, grounded on internal/persistence/postgres/trades_repo.go's
// query/transaction idiom.
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

	"github.com/eayunstack/notifyqueue/internal/apierr"
	"github.com/eayunstack/notifyqueue/internal/topic"
)

type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

func New(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{db: db, timeout: timeout}
}

type topicRow struct {
	Project   string    `db:"project"`
	Name      string    `db:"name"`
	Metadata  []byte    `db:"metadata"`
	MsgCount  int64     `db:"message_count"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (s *Store) CreateTopic(ctx context.Context, t topic.Topic) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("pgstore: marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO topics (project, name, metadata, message_count, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $4)`,
		t.Project, t.Name, metadata, t.CreatedAt)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return apierr.Conflict("topic %s/%s already exists", t.Project, t.Name)
		}
		return fmt.Errorf("pgstore: create topic: %w", err)
	}
	return nil
}

func (s *Store) GetTopic(ctx context.Context, project, name string) (topic.Topic, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row topicRow
	err := s.db.GetContext(ctx, &row, `
		SELECT project, name, metadata, message_count, created_at, updated_at
		FROM topics WHERE project = $1 AND name = $2`, project, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return topic.Topic{}, apierr.NotFound("topic")
		}
		return topic.Topic{}, fmt.Errorf("pgstore: get topic: %w", err)
	}
	return rowToTopic(row)
}

func (s *Store) UpdateTopicMetadata(ctx context.Context, project, name string, metadata map[string]interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("pgstore: marshal metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE topics SET metadata = $1, updated_at = now()
		WHERE project = $2 AND name = $3`, payload, project, name)
	if err != nil {
		return fmt.Errorf("pgstore: update metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgstore: rows affected: %w", err)
	}
	if n == 0 {
		return apierr.NotFound("topic")
	}
	return nil
}

func (s *Store) DeleteTopic(ctx context.Context, project, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM topics WHERE project = $1 AND name = $2`, project, name)
	if err != nil {
		return fmt.Errorf("pgstore: delete topic: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgstore: rows affected: %w", err)
	}
	if n == 0 {
		return apierr.NotFound("topic")
	}
	return nil
}

func (s *Store) ListTopics(ctx context.Context, project, marker string, limit int) ([]topic.Topic, string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.QueryxContext(ctx, `
		SELECT project, name, metadata, message_count, created_at, updated_at
		FROM topics WHERE project = $1 AND name > $2
		ORDER BY name ASC LIMIT $3`, project, marker, limit)
	if err != nil {
		return nil, "", fmt.Errorf("pgstore: list topics: %w", err)
	}
	defer rows.Close()

	var out []topic.Topic
	var nextMarker string
	for rows.Next() {
		var row topicRow
		if err := rows.StructScan(&row); err != nil {
			return nil, "", fmt.Errorf("pgstore: scan topic: %w", err)
		}
		t, err := rowToTopic(row)
		if err != nil {
			return nil, "", err
		}
		out = append(out, t)
		nextMarker = t.Name
	}
	return out, nextMarker, rows.Err()
}

func (s *Store) CreateSubscription(ctx context.Context, sub topic.Subscription) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	options, err := json.Marshal(sub.Options)
	if err != nil {
		return fmt.Errorf("pgstore: marshal subscription options: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, project, topic, subscriber, options, ttl, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, sub.Project, sub.Topic, sub.Subscriber, options, sub.TTL, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("pgstore: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, project, topicName, id string) (topic.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var row subscriptionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, project, topic, subscriber, options, ttl, created_at
		FROM subscriptions WHERE project = $1 AND topic = $2 AND id = $3`, project, topicName, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return topic.Subscription{}, apierr.NotFound("subscription")
		}
		return topic.Subscription{}, fmt.Errorf("pgstore: get subscription: %w", err)
	}
	return rowToSubscription(row)
}

func (s *Store) ListSubscriptions(ctx context.Context, project, topicName string) ([]topic.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, project, topic, subscriber, options, ttl, created_at
		FROM subscriptions WHERE project = $1 AND topic = $2`, project, topicName)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list subscriptions: %w", err)
	}
	defer rows.Close()

	var out []topic.Subscription
	for rows.Next() {
		var row subscriptionRow
		if err := rows.StructScan(&row); err != nil {
			return nil, fmt.Errorf("pgstore: scan subscription: %w", err)
		}
		sub, err := rowToSubscription(row)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) DeleteSubscription(ctx context.Context, project, topicName, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriptions WHERE project = $1 AND topic = $2 AND id = $3`, project, topicName, id)
	if err != nil {
		return fmt.Errorf("pgstore: delete subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("pgstore: rows affected: %w", err)
	}
	if n == 0 {
		return apierr.NotFound("subscription")
	}
	return nil
}

// ReapExpiredSubscriptions deletes subscriptions created before cutoff
// with a non-zero TTL whose lifetime has elapsed. The in-memory store has
// no equivalent background job; reaping there is left to the caller's
// process lifetime.
func (s *Store) ReapExpiredSubscriptions(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM subscriptions
		WHERE ttl > 0 AND created_at + (ttl * INTERVAL '1 second') < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("pgstore: reap expired subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pgstore: rows affected: %w", err)
	}
	return int(n), nil
}

type subscriptionRow struct {
	ID         string    `db:"id"`
	Project    string    `db:"project"`
	Topic      string    `db:"topic"`
	Subscriber string    `db:"subscriber"`
	Options    []byte    `db:"options"`
	TTL        int       `db:"ttl"`
	CreatedAt  time.Time `db:"created_at"`
}

func rowToTopic(row topicRow) (topic.Topic, error) {
	var metadata map[string]interface{}
	if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
		return topic.Topic{}, fmt.Errorf("pgstore: unmarshal metadata: %w", err)
	}
	return topic.Topic{
		Project:      row.Project,
		Name:         row.Name,
		Metadata:     metadata,
		MessageCount: row.MsgCount,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
	}, nil
}

func rowToSubscription(row subscriptionRow) (topic.Subscription, error) {
	var options map[string]interface{}
	if err := json.Unmarshal(row.Options, &options); err != nil {
		return topic.Subscription{}, fmt.Errorf("pgstore: unmarshal options: %w", err)
	}
	return topic.Subscription{
		ID:         row.ID,
		Project:    row.Project,
		Topic:      row.Topic,
		Subscriber: row.Subscriber,
		Options:    options,
		TTL:        row.TTL,
		CreatedAt:  row.CreatedAt,
	}, nil
}
