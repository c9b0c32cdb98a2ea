// Package memstore is an in-process topic.Store used by package tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/eayunstack/notifyqueue/internal/apierr"
	"github.com/eayunstack/notifyqueue/internal/topic"
)

type Store struct {
	mu    sync.Mutex
	topics map[string]topic.Topic
	subs   map[string][]topic.Subscription // keyed by project\x00topic
}

func New() *Store {
	return &Store{
		topics: make(map[string]topic.Topic),
		subs:   make(map[string][]topic.Subscription),
	}
}

func (s *Store) CreateTopic(ctx context.Context, t topic.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := topic.ScopedKey(t.Project, t.Name)
	if _, ok := s.topics[key]; ok {
		return apierr.Conflict("topic %s/%s already exists", t.Project, t.Name)
	}
	s.topics[key] = t
	return nil
}

func (s *Store) GetTopic(ctx context.Context, project, name string) (topic.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.topics[topic.ScopedKey(project, name)]
	if !ok {
		return topic.Topic{}, apierr.NotFound("topic")
	}
	// Return a defensive copy of the metadata map.
	cp := make(map[string]interface{}, len(t.Metadata))
	for k, v := range t.Metadata {
		cp[k] = v
	}
	t.Metadata = cp
	return t, nil
}

func (s *Store) UpdateTopicMetadata(ctx context.Context, project, name string, metadata map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := topic.ScopedKey(project, name)
	t, ok := s.topics[key]
	if !ok {
		return apierr.NotFound("topic")
	}
	t.Metadata = metadata
	t.UpdatedAt = time.Now()
	s.topics[key] = t
	return nil
}

func (s *Store) DeleteTopic(ctx context.Context, project, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := topic.ScopedKey(project, name)
	if _, ok := s.topics[key]; !ok {
		return apierr.NotFound("topic")
	}
	delete(s.topics, key)
	delete(s.subs, key)
	return nil
}

func (s *Store) ListTopics(ctx context.Context, project, marker string, limit int) ([]topic.Topic, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}

	var names []string
	for key, t := range s.topics {
		_ = key
		if t.Project == project {
			names = append(names, t.Name)
		}
	}
	sort.Strings(names)

	var out []topic.Topic
	var nextMarker string
	for _, name := range names {
		if name <= marker {
			continue
		}
		out = append(out, s.topics[topic.ScopedKey(project, name)])
		nextMarker = name
		if len(out) >= limit {
			break
		}
	}
	return out, nextMarker, nil
}

func (s *Store) CreateSubscription(ctx context.Context, sub topic.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := topic.ScopedKey(sub.Project, sub.Topic)
	s.subs[key] = append(s.subs[key], sub)
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, project, topicName, id string) (topic.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subs[topic.ScopedKey(project, topicName)] {
		if sub.ID == id {
			return sub, nil
		}
	}
	return topic.Subscription{}, apierr.NotFound("subscription")
}

func (s *Store) ListSubscriptions(ctx context.Context, project, topicName string) ([]topic.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]topic.Subscription, len(s.subs[topic.ScopedKey(project, topicName)]))
	copy(out, s.subs[topic.ScopedKey(project, topicName)])
	return out, nil
}

func (s *Store) DeleteSubscription(ctx context.Context, project, topicName, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := topic.ScopedKey(project, topicName)
	subs := s.subs[key]
	for i, sub := range subs {
		if sub.ID == id {
			s.subs[key] = append(subs[:i], subs[i+1:]...)
			return nil
		}
	}
	return apierr.NotFound("subscription")
}
