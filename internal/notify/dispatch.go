// Package notify implements the notification dispatcher (C3): given a
// published batch and a topic's subscriptions, it selects a delivery task
// per subscription and drives the retry engine (C1) over the task (C2),
// then reports outcomes to the monitor controller (C4), fanning out over
// a bounded worker pool reading from a job channel.
package notify

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/eayunstack/notifyqueue/internal/deliver"
	"github.com/eayunstack/notifyqueue/internal/metrics"
	"github.com/eayunstack/notifyqueue/internal/monitor"
	"github.com/eayunstack/notifyqueue/internal/obs"
	"github.com/eayunstack/notifyqueue/internal/retry"
	"github.com/eayunstack/notifyqueue/internal/storage"
	"github.com/eayunstack/notifyqueue/internal/topic"
)

// Dispatcher fans a publish out to every subscription of a topic,
// independently: one subscription's failure must not delay or prevent
// delivery to another.
type Dispatcher struct {
	webhook            *deliver.WebhookTask
	queueTask          *deliver.QueueTask
	messages           storage.MessageController
	queues             storage.QueueController
	monitors           monitor.Controller
	maxNotifierRetries int
	workers            int
	maxWorkers         int
	metrics            *metrics.Registry
}

// WithMetrics attaches a metrics registry; dispatch attempts, latency, and
// retry-count are otherwise left unrecorded.
func (d *Dispatcher) WithMetrics(reg *metrics.Registry) *Dispatcher {
	d.metrics = reg
	return d
}

// Config bundles the knobs Dispatcher needs from internal/config.
type Config struct {
	MaxNotifierRetries int
	Workers            int // 0 means one worker per subscription
	MaxWorkers         int
}

func NewDispatcher(
	webhook *deliver.WebhookTask,
	queueTask *deliver.QueueTask,
	messages storage.MessageController,
	queues storage.QueueController,
	monitors monitor.Controller,
	cfg Config,
) *Dispatcher {
	return &Dispatcher{
		webhook:            webhook,
		queueTask:          queueTask,
		messages:           messages,
		queues:             queues,
		monitors:           monitors,
		maxNotifierRetries: cfg.MaxNotifierRetries,
		workers:            cfg.Workers,
		maxWorkers:         cfg.MaxWorkers,
	}
}

type job struct {
	sub topic.Subscription
}

// Dispatch delivers messages to every subscription of topic under bounded
// concurrency. It returns once every subscription's attempt sequence has
// completed; monitor updates are what downstream callers observe, not a
// per-dispatch return value. Callers that want fire-and-forget semantics
// run Dispatch in its own goroutine; this keeps Dispatch itself
// synchronous and easy to test while subscriptions still deliver
// concurrently.
func (d *Dispatcher) Dispatch(ctx context.Context, project, topicName string, messages []storage.Message, subs []topic.Subscription) {
	if len(subs) == 0 {
		return
	}

	workers := d.workers
	if workers <= 0 {
		workers = len(subs)
	}
	if d.maxWorkers > 0 && workers > d.maxWorkers {
		workers = d.maxWorkers
	}

	jobs := make(chan job, len(subs))
	for _, sub := range subs {
		jobs <- job{sub: sub}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				d.deliverOne(ctx, project, topicName, messages, j.sub)
			}
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) deliverOne(ctx context.Context, project, topicName string, messages []storage.Message, sub topic.Subscription) {
	log := obs.Logger(ctx)

	task, err := deliver.NewTaskFor(sub.Subscriber, d.webhook, d.queueTask)
	if err != nil {
		log.Warn().Str("subscriber", sub.Subscriber).Err(err).Msg("unrecognized subscriber scheme, skipping")
		d.reportOutcome(ctx, project, topicName, messages, false)
		return
	}

	policy := d.policyFor(sub)
	dctx := deliver.Context{
		Project:     project,
		Messages:    d.messages,
		Queues:      d.queues,
		Monitors:    d.monitors,
		SourceTopic: topicName,
	}

	scheme := subscriberScheme(sub.Subscriber)
	start := time.Now()
	outcome := retry.Do(ctx, policy, d.maxNotifierRetries, func(ctx context.Context, attempt int) error {
		return task.Execute(ctx, dctx, sub, messages)
	})

	if d.metrics != nil {
		d.metrics.DispatchLatency.WithLabelValues(scheme).Observe(time.Since(start).Seconds())
		d.metrics.RetryAttempts.WithLabelValues(policy.String()).Observe(float64(outcome.Attempts))
		outcomeLabel := "delivered"
		if !outcome.Delivered {
			outcomeLabel = "exhausted"
		}
		d.metrics.DispatchAttempts.WithLabelValues(scheme, outcomeLabel).Inc()
	}

	if !outcome.Delivered {
		log.Warn().Str("subscriber", sub.Subscriber).Int("attempts", outcome.Attempts).Err(outcome.LastErr).Msg("delivery exhausted retries")
	}
	d.reportOutcome(ctx, project, topicName, messages, outcome.Delivered)
}

// subscriberScheme extracts the scheme label ("http", "https", "queue", or
// "unknown") used on dispatch metrics.
func subscriberScheme(subscriber string) string {
	if idx := strings.Index(subscriber, "://"); idx > 0 {
		return subscriber[:idx]
	}
	return "unknown"
}

func (d *Dispatcher) policyFor(sub topic.Subscription) retry.Policy {
	raw, ok := sub.Options["push_policy"]
	if !ok {
		return retry.NoRetry
	}
	s, ok := raw.(string)
	if !ok {
		return retry.NoRetry
	}
	switch s {
	case "BACKOFF_RETRY":
		return retry.BackoffRetry
	case "EXPONENTIAL_DECAY_RETRY":
		return retry.ExponentialDecay
	default:
		return retry.NoRetry
	}
}

// reportOutcome emits the generic subscribe_messages update the dispatcher
// applies uniformly after the retry engine returns: success=true for
// a delivered batch, success=false for an exhausted one. Task-specific
// secondary updates (e.g. the queue task's send_messages for its
// destination) are emitted by the task itself.
func (d *Dispatcher) reportOutcome(ctx context.Context, project, topicName string, messages []storage.Message, success bool) {
	if d.monitors == nil {
		return
	}
	var totalBytes int64
	for _, m := range messages {
		totalBytes += int64(m.Size())
	}
	if err := d.monitors.Update(ctx, project, topicName, monitor.SubscribeMessages, success, len(messages), totalBytes); err != nil {
		obs.Logger(ctx).Error().Err(err).Str("topic", topicName).Msg("monitor update for subscribe_messages failed")
	}
}
