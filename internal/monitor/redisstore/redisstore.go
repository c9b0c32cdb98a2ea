// Package redisstore implements monitor.Controller over Redis, using
// HINCRBY for server-side atomic additive updates. Each monitor record is
// a Redis hash keyed by its project/type/name string; counter fields are
// the hash fields.
package redisstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/eayunstack/notifyqueue/internal/monitor"
)

const keyPrefix = "notifyqueue:monitor:"
const indexKey = "notifyqueue:monitor:index"

// Store is a monitor.Controller backed by a single Redis client.
type Store struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func hashKey(k monitor.Key) string {
	return keyPrefix + k.String()
}

func (s *Store) Create(ctx context.Context, key monitor.Key) error {
	hk := hashKey(key)

	exists, err := s.rdb.Exists(ctx, hk).Result()
	if err != nil {
		return fmt.Errorf("redisstore: create exists check: %w", err)
	}
	if exists == 1 {
		return monitor.ErrAlreadyExists
	}

	fields := map[string]interface{}{}
	for _, f := range fieldsFor(key.Type) {
		fields[f] = 0
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk, fields)
	pipe.ZAdd(ctx, indexKey, redis.Z{Score: 0, Member: key.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisstore: create: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key monitor.Key) (monitor.Record, error) {
	hk := hashKey(key)

	raw, err := s.rdb.HGetAll(ctx, hk).Result()
	if err != nil {
		return monitor.Record{}, fmt.Errorf("redisstore: get: %w", err)
	}
	if len(raw) == 0 {
		return monitor.Record{}, monitor.ErrNotFound
	}

	counters := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return monitor.Record{}, fmt.Errorf("redisstore: parse field %s: %w", k, err)
		}
		counters[k] = n
	}
	return monitor.Normalize(key, counters), nil
}

func (s *Store) List(ctx context.Context, opts monitor.ListOptions) (monitor.Page, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	members, err := s.rdb.ZRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: "-inf", Max: "+inf",
	}).Result()
	if err != nil {
		return monitor.Page{}, fmt.Errorf("redisstore: list index: %w", err)
	}
	sort.Strings(members)

	var page monitor.Page
	for _, member := range members {
		if member <= opts.Marker {
			continue
		}
		k, ok := parseKey(member)
		if !ok {
			continue
		}
		if opts.Type != "" && k.Type != opts.Type {
			continue
		}
		if !opts.AllProject && opts.Project != "" && k.Project != opts.Project {
			continue
		}
		rec, err := s.Get(ctx, k)
		if err != nil {
			if err == monitor.ErrNotFound {
				continue
			}
			return monitor.Page{}, err
		}
		page.Records = append(page.Records, rec)
		page.NextMarker = member
		if len(page.Records) >= limit {
			break
		}
	}
	return page, nil
}

func (s *Store) Update(ctx context.Context, project, name string, countType monitor.CountType, success bool, n int, b int64) error {
	delta, err := monitor.ComputeDelta(countType, success, n, b)
	if err != nil {
		return err
	}
	key := monitor.Key{Project: project, Type: delta.Type, Name: name}
	hk := hashKey(key)

	if err := s.hincrAll(ctx, hk, delta.Fields); err == nil {
		return nil
	}

	// Record missing at update time: create zero-initialized and retry
	// exactly once.
	if createErr := s.Create(ctx, key); createErr != nil && createErr != monitor.ErrAlreadyExists {
		return fmt.Errorf("redisstore: update create-on-miss: %w", createErr)
	}
	if err := s.hincrAll(ctx, hk, delta.Fields); err != nil {
		return fmt.Errorf("redisstore: update retry failed: %w", err)
	}
	return nil
}

func (s *Store) hincrAll(ctx context.Context, hk string, fields map[string]int64) error {
	exists, err := s.rdb.Exists(ctx, hk).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return monitor.ErrNotFound
	}

	pipe := s.rdb.TxPipeline()
	for f, delta := range fields {
		pipe.HIncrBy(ctx, hk, f, delta)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func fieldsFor(t monitor.Type) []string {
	if t == monitor.TypeQueue {
		return monitor.QueueCountFields
	}
	return monitor.TopicCountFields
}

func parseKey(s string) (monitor.Key, bool) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return monitor.Key{}, false
	}
	return monitor.Key{Project: parts[0], Type: monitor.Type(parts[1]), Name: parts[2]}, true
}
