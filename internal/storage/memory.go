package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process fake implementing MessageController,
// QueueController and ClaimController, used by package tests that don't
// need a real queue backend.
type Memory struct {
	mu       sync.Mutex
	queues   map[string]QueueMetadata
	messages map[string][]ClaimedMessage // queue key -> pending messages
	claims   map[string][]ClaimedMessage // cid -> claimed handles
	deleted  map[string]bool             // handle -> deleted
}

func NewMemory() *Memory {
	return &Memory{
		queues:   make(map[string]QueueMetadata),
		messages: make(map[string][]ClaimedMessage),
		claims:   make(map[string][]ClaimedMessage),
		deleted:  make(map[string]bool),
	}
}

func queueKey(project, name string) string { return project + "/" + name }

func (m *Memory) Post(ctx context.Context, queue string, messages []Message, project, clientID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := queueKey(project, queue)
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		handle := uuid.NewString()
		msg.QueueName = queue
		m.messages[key] = append(m.messages[key], ClaimedMessage{Handle: handle, Msg: msg})
		ids = append(ids, handle)
	}
	return ids, nil
}

func (m *Memory) ConsumeDelete(ctx context.Context, queue, handle, project string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deleted[handle] {
		return ErrMessageClaimedExpired
	}
	if !m.handleExists(handle) {
		return ErrMessageHandleInvalid
	}
	m.deleted[handle] = true
	return nil
}

func (m *Memory) BulkConsumeDelete(ctx context.Context, queue string, consumeIDs []string, project string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(consumeIDs))
	for _, id := range consumeIDs {
		if m.handleExists(id) && !m.deleted[id] {
			m.deleted[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *Memory) handleExists(handle string) bool {
	for _, msgs := range m.claims {
		for _, cm := range msgs {
			if cm.Handle == handle {
				return true
			}
		}
	}
	return false
}

func (m *Memory) Count(ctx context.Context, queue, project string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.messages[queueKey(project, queue)])), nil
}

func (m *Memory) ClaimedOrDelayCount(ctx context.Context, queue, project string, claimed bool) (int64, error) {
	return 0, nil
}

func (m *Memory) GetMetadata(ctx context.Context, name, project string) (QueueMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta, ok := m.queues[queueKey(project, name)]
	if !ok {
		return QueueMetadata{}, fmt.Errorf("queue %s/%s: %w", project, name, ErrMessageHandleInvalid)
	}
	return meta, nil
}

func (m *Memory) Create(ctx context.Context, name, project string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := queueKey(project, name)
	if _, ok := m.queues[key]; ok {
		return nil
	}
	m.queues[key] = QueueMetadata{DefaultMessageTTL: 3600, DelayTTL: 0, ClaimTTL: 1}
	return nil
}

// SeedQueue installs metadata and pending messages directly, for tests.
func (m *Memory) SeedQueue(project, name string, meta QueueMetadata, msgs []Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := queueKey(project, name)
	m.queues[key] = meta
	for _, msg := range msgs {
		m.messages[key] = append(m.messages[key], ClaimedMessage{Handle: uuid.NewString(), Msg: msg})
	}
}

// Claims returns a ClaimController backed by the same in-memory state.
// A separate type is needed because ClaimController.Create and
// QueueController.Create share a method name but not a signature.
func (m *Memory) Claims() *MemoryClaimController { return &MemoryClaimController{m: m} }

type MemoryClaimController struct{ m *Memory }

func (c *MemoryClaimController) Create(ctx context.Context, queue string, meta QueueMetadata, project string, limit int) (string, []ClaimedMessage, error) {
	m := c.m
	m.mu.Lock()
	defer m.mu.Unlock()

	key := queueKey(project, queue)
	pending := m.messages[key]
	if limit <= 0 || limit > len(pending) {
		limit = len(pending)
	}
	claimed := pending[:limit]
	m.messages[key] = pending[limit:]

	cid := uuid.NewString()
	m.claims[cid] = claimed
	return cid, claimed, nil
}
