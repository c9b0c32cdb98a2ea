// Package consume implements the consume path (C6): claim, optional
// auto-delete, and bulk/single delete, emitting consume-side counter
// updates into the monitor controller (C4). Grounded on
// original_source/zaqar/transport/wsgi/v2_0/consume.py's
// CollectionResource.on_get flow.
package consume

import (
	"context"
	"errors"
	"fmt"

	"github.com/eayunstack/notifyqueue/internal/apierr"
	"github.com/eayunstack/notifyqueue/internal/metrics"
	"github.com/eayunstack/notifyqueue/internal/monitor"
	"github.com/eayunstack/notifyqueue/internal/storage"
)

// Service wraps the external MessageController/QueueController/
// ClaimController collaborators behind the claim-and-serve workflow.
type Service struct {
	messages storage.MessageController
	queues   storage.QueueController
	claims   storage.ClaimController
	monitors monitor.Controller
	metrics  *metrics.Registry
}

func NewService(messages storage.MessageController, queues storage.QueueController, claims storage.ClaimController, monitors monitor.Controller) *Service {
	return &Service{messages: messages, queues: queues, claims: claims, monitors: monitors}
}

// WithMetrics attaches a metrics registry; claim counts are otherwise left
// unrecorded.
func (s *Service) WithMetrics(reg *metrics.Registry) *Service {
	s.metrics = reg
	return s
}

// Result is the response envelope for a consume call.
type Result struct {
	ClaimID  string
	Messages []storage.ClaimedMessage
}

// Consume reads queue metadata (creating an empty queue on first miss),
// creates a claim bounded by the queue's claim_ttl (default 1, grace 0),
// optionally auto-deletes every claimed message, and emits one
// consume_messages update for the queue.
func (s *Service) Consume(ctx context.Context, project, queueName string, limit int, autoDelete bool) (Result, error) {
	meta, err := s.queues.GetMetadata(ctx, queueName, project)
	if err != nil {
		if createErr := s.queues.Create(ctx, queueName, project); createErr != nil {
			return Result{}, apierr.Unavailable(fmt.Errorf("consume: auto-create queue %q: %w", queueName, createErr))
		}
		meta = storage.QueueMetadata{DefaultMessageTTL: 3600, DelayTTL: 0, ClaimTTL: 1}
	}

	claimTTL := meta.ClaimTTL
	if claimTTL == 0 {
		claimTTL = 1
	}
	meta.ClaimTTL = claimTTL

	cid, msgs, err := s.claims.Create(ctx, queueName, meta, project, limit)
	if err != nil {
		return Result{}, apierr.Unavailable(fmt.Errorf("consume: create claim: %w", err))
	}

	if autoDelete {
		for _, m := range msgs {
			if err := s.messages.ConsumeDelete(ctx, queueName, m.Handle, project); err != nil {
				return Result{}, apierr.Unavailable(fmt.Errorf("consume: auto-delete handle %s: %w", m.Handle, err))
			}
		}
	}

	if len(msgs) > 0 {
		var totalBytes int64
		for _, m := range msgs {
			totalBytes += int64(m.Msg.Size())
		}
		if s.monitors != nil {
			if err := s.monitors.Update(ctx, project, queueName, monitor.ConsumeMessages, false, len(msgs), totalBytes); err != nil {
				return Result{}, apierr.Unavailable(fmt.Errorf("consume: monitor update: %w", err))
			}
		}
		if s.metrics != nil {
			s.metrics.ConsumeClaims.WithLabelValues(queueName).Inc()
			s.metrics.ConsumeClaimBytes.Observe(float64(totalBytes))
		}
	}

	return Result{ClaimID: cid, Messages: msgs}, nil
}

// DeleteSingle removes one claimed message by handle. Error mapping:
// MessageClaimedExpired -> 409, MessageHandleInvalid -> 404, other -> 503.
func (s *Service) DeleteSingle(ctx context.Context, project, queueName, handle string) error {
	err := s.messages.ConsumeDelete(ctx, queueName, handle, project)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrMessageClaimedExpired):
		return apierr.Conflict("message handle %s expired", handle)
	case errors.Is(err, storage.ErrMessageHandleInvalid):
		return apierr.NotFound("message handle")
	default:
		return apierr.Unavailable(err)
	}
}

// BulkDelete removes a set of claimed messages by consume id and returns
// the ids that were actually deleted.
func (s *Service) BulkDelete(ctx context.Context, project, queueName string, consumeIDs []string) ([]string, error) {
	deleted, err := s.messages.BulkConsumeDelete(ctx, queueName, consumeIDs, project)
	if err != nil {
		return nil, apierr.Unavailable(err)
	}
	return deleted, nil
}
