// Package memstore is an in-process monitor.Controller used by package
// tests that exercise C1-C3 without a real Redis or Postgres instance.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/eayunstack/notifyqueue/internal/monitor"
)

type Store struct {
	mu      sync.Mutex
	records map[string]map[string]int64
}

func New() *Store {
	return &Store{records: make(map[string]map[string]int64)}
}

func (s *Store) Create(ctx context.Context, key monitor.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.String()
	if _, ok := s.records[k]; ok {
		return monitor.ErrAlreadyExists
	}
	s.records[k] = zero(key.Type)
	return nil
}

func (s *Store) Get(ctx context.Context, key monitor.Key) (monitor.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.records[key.String()]
	if !ok {
		return monitor.Record{}, monitor.ErrNotFound
	}
	cp := make(map[string]int64, len(raw))
	for k, v := range raw {
		cp[k] = v
	}
	return monitor.Normalize(key, cp), nil
}

func (s *Store) List(ctx context.Context, opts monitor.ListOptions) (monitor.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var page monitor.Page
	for _, ks := range keys {
		if ks <= opts.Marker {
			continue
		}
		key, ok := parseKey(ks)
		if !ok {
			continue
		}
		if opts.Type != "" && key.Type != opts.Type {
			continue
		}
		if !opts.AllProject && opts.Project != "" && key.Project != opts.Project {
			continue
		}
		page.Records = append(page.Records, monitor.Normalize(key, s.records[ks]))
		page.NextMarker = ks
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

	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.records[key.String()]
	if !ok {
		raw = zero(key.Type)
		s.records[key.String()] = raw
	}
	for f, d := range delta.Fields {
		raw[f] += d
	}
	return nil
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

func parseKey(s string) (monitor.Key, bool) {
	// project/type/name — project and name may not contain '/'.
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(s) && len(parts) < 2; i++ {
		if s[i] == '/' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	if len(parts) != 2 {
		return monitor.Key{}, false
	}
	parts = append(parts, s[start:])
	return monitor.Key{Project: parts[0], Type: monitor.Type(parts[1]), Name: parts[2]}, true
}
