package deliver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eayunstack/notifyqueue/internal/storage"
	"github.com/eayunstack/notifyqueue/internal/topic"
)

func TestNewTaskFor_Classification(t *testing.T) {
	webhook := NewWebhookTask(time.Second, 10, 10)
	queueTask := NewQueueTask()

	task, err := NewTaskFor("https://example.com/hook", webhook, queueTask)
	require.NoError(t, err)
	assert.Same(t, Task(webhook), task)

	task, err = NewTaskFor("queue://p1/q1", webhook, queueTask)
	require.NoError(t, err)
	assert.Same(t, Task(queueTask), task)

	_, err = NewTaskFor("ftp://example.com", webhook, queueTask)
	assert.Error(t, err)
}

func TestRenderBody_TemplateSubstitution(t *testing.T) {
	body, err := renderBody(`{"wrapped":$zaqar_message$}`, storage.Message{Body: []byte(`{"a":1}`)})
	require.NoError(t, err)
	assert.Contains(t, string(body), `"a":1`)
}

func TestRenderBody_NoTemplateUsesMessageBodyVerbatim(t *testing.T) {
	body, err := renderBody("", storage.Message{Body: []byte("raw")})
	require.NoError(t, err)
	assert.Equal(t, "raw", string(body))
}

func TestWebhookTask_Execute_HeaderMerge(t *testing.T) {
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	task := NewWebhookTask(2*time.Second, 1000, 1000)
	sub := topic.Subscription{
		Subscriber: srv.URL,
		Topic:      "t1",
		Options: map[string]interface{}{
			"post_headers": map[string]interface{}{"X-Custom": "yes"},
		},
	}
	err := task.Execute(context.Background(), Context{}, sub, []storage.Message{{Body: []byte("hi")}})
	require.NoError(t, err)
	assert.Equal(t, "yes", gotHeader)
}

func TestWebhookTask_Execute_NonOKFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	task := NewWebhookTask(2*time.Second, 1000, 1000)
	sub := topic.Subscription{Subscriber: srv.URL, Options: map[string]interface{}{}}
	err := task.Execute(context.Background(), Context{}, sub, []storage.Message{{Body: []byte("hi")}})
	assert.Error(t, err)
}

func TestQueueTask_Execute_AbortsOnMetadataLookupFailure(t *testing.T) {
	mem := storage.NewMemory()
	task := NewQueueTask()
	sub := topic.Subscription{Subscriber: "queue://p1/missing-queue"}
	dctx := Context{Project: "p1", Messages: mem, Queues: mem}

	err := task.Execute(context.Background(), dctx, sub, []storage.Message{{Body: []byte("x")}})
	assert.Error(t, err)
}

func TestQueueTask_Execute_StampsTTLFromDestination(t *testing.T) {
	mem := storage.NewMemory()
	require.NoError(t, mem.Create(context.Background(), "q1", "p1"))

	task := NewQueueTask()
	sub := topic.Subscription{Subscriber: "queue://p1/q1"}
	dctx := Context{Project: "p1", Messages: mem, Queues: mem}

	err := task.Execute(context.Background(), dctx, sub, []storage.Message{{Body: []byte("x")}})
	require.NoError(t, err)

	count, err := mem.Count(context.Background(), "q1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, claimed, err := mem.Claims().Create(context.Background(), "q1", storage.QueueMetadata{}, "p1", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, 3600, claimed[0].Msg.TTL)
	assert.Equal(t, 0, claimed[0].Msg.DelayTTL)
}

func TestLastSegment(t *testing.T) {
	name, err := lastSegment("queue://p1/q1")
	require.NoError(t, err)
	assert.Equal(t, "q1", name)

	_, err = lastSegment("queue://")
	assert.Error(t, err)
}
