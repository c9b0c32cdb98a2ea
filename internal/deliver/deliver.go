// Package deliver implements the delivery tasks (C2): webhook and
// queue-reinjection, each rendering a message batch to a subscriber and
// reporting outcome. All webhook destinations share one HTTP client (its
// transport pools connections per host); each destination host gets its
// own internal/net/ratelimit limiter for throttling and its own
// sony/gobreaker circuit breaker so a chronically-down subscriber stops
// being hammered across dispatch calls.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eayunstack/notifyqueue/internal/monitor"
	"github.com/eayunstack/notifyqueue/internal/net/ratelimit"
	"github.com/eayunstack/notifyqueue/internal/obs"
	"github.com/eayunstack/notifyqueue/internal/storage"
	"github.com/eayunstack/notifyqueue/internal/topic"
)

// Context carries the collaborators and tenant identity a Task needs to
// execute: references to the message, queue, and monitor controllers, the
// tenant project id, the client id, and the originating topic.
type Context struct {
	Project   string
	ClientID  string
	Messages  storage.MessageController
	Queues    storage.QueueController
	Monitors  monitor.Controller
	SourceTopic string
}

// Task is a delivery strategy: render a message batch to a subscriber and
// report an error on any failure. An error on any message fails the whole
// batch — the retry engine re-attempts the entire batch.
type Task interface {
	Execute(ctx context.Context, dctx Context, sub topic.Subscription, messages []storage.Message) error
}

// NewTaskFor classifies a subscriber URI's scheme and returns the matching
// task, or an error for an unrecognized scheme. An unknown scheme counts
// as a permanent failure, with no retry.
func NewTaskFor(subscriber string, webhook *WebhookTask, queueTask *QueueTask) (Task, error) {
	switch {
	case strings.HasPrefix(subscriber, "http://"), strings.HasPrefix(subscriber, "https://"):
		return webhook, nil
	case strings.HasPrefix(subscriber, "queue://"):
		return queueTask, nil
	default:
		return nil, fmt.Errorf("deliver: unrecognized subscriber scheme %q", subscriber)
	}
}

// WebhookTask posts a message batch to subscription.subscriber as an HTTP
// request, honoring post_headers and post_data template options.
type WebhookTask struct {
	limiter  *ratelimit.Limiter
	breakers *breakerPool
	client   *http.Client
}

func NewWebhookTask(timeout time.Duration, rps float64, burst int) *WebhookTask {
	return &WebhookTask{
		limiter:  ratelimit.NewLimiter(rps, burst),
		breakers: newBreakerPool(),
		client:   &http.Client{Timeout: timeout},
	}
}

const templatePlaceholder = "$zaqar_message$"

func (t *WebhookTask) Execute(ctx context.Context, dctx Context, sub topic.Subscription, messages []storage.Message) error {
	host, err := hostOf(sub.Subscriber)
	if err != nil {
		return err
	}

	if err := t.limiter.Wait(ctx, host); err != nil {
		return fmt.Errorf("deliver: webhook rate limit wait: %w", err)
	}

	breaker := t.breakers.get(host)

	headers := map[string]string{"Content-Type": "application/json"}
	if raw, ok := sub.Options["post_headers"]; ok {
		if m, ok := raw.(map[string]interface{}); ok {
			for k, v := range m {
				if s, ok := v.(string); ok {
					headers[k] = s
				}
			}
		}
	}

	var postData string
	if raw, ok := sub.Options["post_data"]; ok {
		if s, ok := raw.(string); ok {
			postData = s
		}
	}

	for _, msg := range messages {
		msg.QueueName = sub.Topic

		body, err := renderBody(postData, msg)
		if err != nil {
			return err
		}

		_, err = breaker.Execute(func() (interface{}, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Subscriber, bytes.NewReader(body))
			if err != nil {
				return nil, err
			}
			for k, v := range headers {
				req.Header.Set(k, v)
			}
			resp, err := t.client.Do(req)
			if err != nil {
				return nil, err
			}
			defer resp.Body.Close()
			io.Copy(io.Discard, resp.Body)
			if resp.StatusCode >= 300 {
				return nil, fmt.Errorf("deliver: webhook %s returned status %d", sub.Subscriber, resp.StatusCode)
			}
			return nil, nil
		})
		if err != nil {
			obs.Logger(ctx).Warn().Str("subscriber", sub.Subscriber).Err(err).Msg("webhook delivery attempt failed")
			return err
		}
	}
	return nil
}

func renderBody(template string, msg storage.Message) ([]byte, error) {
	if template == "" {
		return msg.Body, nil
	}
	if !strings.Contains(template, templatePlaceholder) {
		return []byte(template), nil
	}
	serialized, err := json.Marshal(json.RawMessage(msg.Body))
	if err != nil {
		serialized, err = json.Marshal(string(msg.Body))
		if err != nil {
			return nil, fmt.Errorf("deliver: serialize message body: %w", err)
		}
	}
	return []byte(strings.ReplaceAll(template, templatePlaceholder, string(serialized))), nil
}

func hostOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("deliver: parse subscriber url: %w", err)
	}
	return u.Host, nil
}

// breakerPool lazily creates one gobreaker.CircuitBreaker per host.
type breakerPool struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerPool() *breakerPool {
	return &breakerPool{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

func (p *breakerPool) get(host string) *gobreaker.CircuitBreaker {
	p.mu.Lock()
	defer p.mu.Unlock()

	if b, ok := p.breakers[host]; ok {
		return b
	}
	b := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	p.breakers[host] = b
	return b
}

// QueueTask posts a message batch into a destination queue, stamping each
// message with the destination's TTL defaults. On success
// it additionally emits a send_messages monitor update for the destination
// queue, beyond the generic subscribe_messages update the dispatcher
// applies uniformly.
type QueueTask struct{}

func NewQueueTask() *QueueTask { return &QueueTask{} }

func (t *QueueTask) Execute(ctx context.Context, dctx Context, sub topic.Subscription, messages []storage.Message) error {
	queueName, err := lastSegment(sub.Subscriber)
	if err != nil {
		return err
	}

	// Abort on metadata lookup failure instead of proceeding with a
	// zero-value queue_meta.
	meta, err := dctx.Queues.GetMetadata(ctx, queueName, dctx.Project)
	if err != nil {
		return fmt.Errorf("deliver: queue metadata lookup for %q failed: %w", queueName, err)
	}

	ttl := meta.DefaultMessageTTL
	if ttl == 0 {
		ttl = 3600
	}

	stamped := make([]storage.Message, len(messages))
	var totalBytes int64
	for i, msg := range messages {
		msg.TTL = ttl
		msg.DelayTTL = meta.DelayTTL
		stamped[i] = msg
		totalBytes += int64(msg.Size())
	}

	if _, err := dctx.Messages.Post(ctx, queueName, stamped, dctx.Project, dctx.ClientID); err != nil {
		return fmt.Errorf("deliver: post to queue %q: %w", queueName, err)
	}

	if dctx.Monitors != nil {
		if err := dctx.Monitors.Update(ctx, dctx.Project, queueName, monitor.SendMessages, false, len(stamped), totalBytes); err != nil {
			obs.Logger(ctx).Error().Err(err).Str("queue", queueName).Msg("monitor update for queue delivery failed")
		}
	}
	return nil
}

// lastSegment extracts the queue name from a "queue://project/name"
// subscriber URI, taking the path's final segment.
func lastSegment(subscriber string) (string, error) {
	u, err := url.Parse(subscriber)
	if err != nil {
		return "", fmt.Errorf("deliver: parse queue subscriber %q: %w", subscriber, err)
	}
	path := strings.Trim(u.Path, "/")
	if path == "" {
		return "", fmt.Errorf("deliver: malformed queue subscriber %q", subscriber)
	}
	parts := strings.Split(path, "/")
	return parts[len(parts)-1], nil
}
