// Package topic implements the topic & subscription store (C5): tenant-
// scoped CRUD over topic metadata and subscriptions, plus RFC-6902-subset
// PATCH semantics over metadata keys.
package topic

import (
	"context"
	"strings"
	"time"

	"github.com/eayunstack/notifyqueue/internal/apierr"
)

// ReservedPrefix marks metadata keys that are defaulted from configuration
// and cannot be removed.
const ReservedPrefix = "_"

// Topic is identified by (project, name); metadata keys prefixed with "_"
// are reserved and always present.
type Topic struct {
	Project      string
	Name         string
	Metadata     map[string]interface{}
	MessageCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Subscription binds a topic to a subscriber URI.
type Subscription struct {
	ID        string
	Project   string
	Topic     string
	Subscriber string
	Options   map[string]interface{}
	TTL       int
	CreatedAt time.Time
}

// ScopedKey encodes (project, name) reversibly for ordered listing.
func ScopedKey(project, name string) string {
	return project + "\x00" + name
}

// PatchOp is one RFC-6902-subset operation: add, replace, or remove,
// applied against a top-level metadata key.
type PatchOp struct {
	Op    string // "add" | "replace" | "remove"
	Path  string // top-level key name
	Value interface{}
}

// Store is the persistence contract for topics and subscriptions.
type Store interface {
	CreateTopic(ctx context.Context, t Topic) error
	GetTopic(ctx context.Context, project, name string) (Topic, error)
	UpdateTopicMetadata(ctx context.Context, project, name string, metadata map[string]interface{}) error
	DeleteTopic(ctx context.Context, project, name string) error
	ListTopics(ctx context.Context, project, marker string, limit int) ([]Topic, string, error)

	CreateSubscription(ctx context.Context, s Subscription) error
	GetSubscription(ctx context.Context, project, topic, id string) (Subscription, error)
	ListSubscriptions(ctx context.Context, project, topic string) ([]Subscription, error)
	DeleteSubscription(ctx context.Context, project, topic, id string) error
}

// MonitorCreator is the narrow slice of monitor.Controller the topic
// service needs: on topic create it requests monitor.create(name, topics,
// project), tolerating a pre-existing monitor.
type MonitorCreator interface {
	CreateTopicMonitor(ctx context.Context, project, name string) error
}

// Defaults supplies reserved metadata defaults from configuration.
type Defaults struct {
	MaxPostSize       int
	DefaultMessageTTL int
}

func (d Defaults) asMetadata() map[string]interface{} {
	return map[string]interface{}{
		"_max_messages_post_size": d.MaxPostSize,
		"_default_message_ttl":    d.DefaultMessageTTL,
	}
}

// Service is the C5 façade: Store plus the defaulting and monitor-creation
// behavior layered on top of plain CRUD.
type Service struct {
	store    Store
	monitors MonitorCreator
	defaults Defaults
}

func NewService(store Store, monitors MonitorCreator, defaults Defaults) *Service {
	return &Service{store: store, monitors: monitors, defaults: defaults}
}

// CreateTopic creates a topic with reserved keys defaulted in, then
// requests its monitor record. A pre-existing monitor is not an error.
func (svc *Service) CreateTopic(ctx context.Context, project, name string, metadata map[string]interface{}) (Topic, error) {
	merged := svc.defaults.asMetadata()
	for k, v := range metadata {
		merged[k] = v
	}

	t := Topic{
		Project:   project,
		Name:      name,
		Metadata:  merged,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := svc.store.CreateTopic(ctx, t); err != nil {
		return Topic{}, err
	}
	if svc.monitors != nil {
		if err := svc.monitors.CreateTopicMonitor(ctx, project, name); err != nil {
			return Topic{}, err
		}
	}
	return t, nil
}

// GetTopic returns a topic, guaranteeing every reserved key is present
// (defaulted) even if it predates a configuration change.
func (svc *Service) GetTopic(ctx context.Context, project, name string) (Topic, error) {
	t, err := svc.store.GetTopic(ctx, project, name)
	if err != nil {
		return Topic{}, err
	}
	for k, v := range svc.defaults.asMetadata() {
		if _, ok := t.Metadata[k]; !ok {
			t.Metadata[k] = v
		}
	}
	return t, nil
}

func (svc *Service) DeleteTopic(ctx context.Context, project, name string) error {
	return svc.store.DeleteTopic(ctx, project, name)
}

func (svc *Service) ListTopics(ctx context.Context, project, marker string, limit int) ([]Topic, string, error) {
	return svc.store.ListTopics(ctx, project, marker, limit)
}

// PatchMetadata applies ops to the topic's metadata under these replace/
// add/remove rules:
//   - replace on a non-existent key -> Conflict
//   - add creates or overwrites
//   - remove on a non-existent, non-reserved key -> Conflict; reserved
//     keys cannot be removed, they are re-defaulted instead.
func (svc *Service) PatchMetadata(ctx context.Context, project, name string, ops []PatchOp) (Topic, error) {
	t, err := svc.GetTopic(ctx, project, name)
	if err != nil {
		return Topic{}, err
	}

	metadata := make(map[string]interface{}, len(t.Metadata))
	for k, v := range t.Metadata {
		metadata[k] = v
	}

	for _, op := range ops {
		if err := applyOp(metadata, op, svc.defaults); err != nil {
			return Topic{}, err
		}
	}

	if err := svc.store.UpdateTopicMetadata(ctx, project, name, metadata); err != nil {
		return Topic{}, err
	}
	t.Metadata = metadata
	t.UpdatedAt = time.Now()
	return t, nil
}

func applyOp(metadata map[string]interface{}, op PatchOp, defaults Defaults) error {
	_, exists := metadata[op.Path]
	reserved := strings.HasPrefix(op.Path, ReservedPrefix)

	switch op.Op {
	case "replace":
		if !exists {
			return apierr.Conflict("cannot replace non-existent key %q", op.Path)
		}
		metadata[op.Path] = op.Value
	case "add":
		metadata[op.Path] = op.Value
	case "remove":
		if reserved {
			// Reserved keys cannot be removed; re-default instead.
			if def, ok := defaults.asMetadata()[op.Path]; ok {
				metadata[op.Path] = def
			}
			return nil
		}
		if !exists {
			return apierr.Conflict("cannot remove non-existent key %q", op.Path)
		}
		delete(metadata, op.Path)
	default:
		return apierr.Validation("unsupported patch op %q", op.Op)
	}
	return nil
}

// CreateSubscription persists a subscription under its owning topic.
func (svc *Service) CreateSubscription(ctx context.Context, s Subscription) error {
	return svc.store.CreateSubscription(ctx, s)
}

func (svc *Service) GetSubscription(ctx context.Context, project, topicName, id string) (Subscription, error) {
	return svc.store.GetSubscription(ctx, project, topicName, id)
}

func (svc *Service) ListSubscriptions(ctx context.Context, project, topicName string) ([]Subscription, error) {
	return svc.store.ListSubscriptions(ctx, project, topicName)
}

func (svc *Service) DeleteSubscription(ctx context.Context, project, topicName, id string) error {
	return svc.store.DeleteSubscription(ctx, project, topicName, id)
}
