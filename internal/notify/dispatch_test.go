package notify_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eayunstack/notifyqueue/internal/deliver"
	"github.com/eayunstack/notifyqueue/internal/monitor"
	"github.com/eayunstack/notifyqueue/internal/monitor/memstore"
	"github.com/eayunstack/notifyqueue/internal/notify"
	"github.com/eayunstack/notifyqueue/internal/storage"
	"github.com/eayunstack/notifyqueue/internal/topic"
)

func TestDispatch_TwoHTTPSubscribersBothSucceed(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mon := memstore.New()
	mem := storage.NewMemory()
	dispatcher := notify.NewDispatcher(
		deliver.NewWebhookTask(2*time.Second, 1000, 1000),
		deliver.NewQueueTask(),
		mem, mem, mon,
		notify.Config{MaxNotifierRetries: 3, Workers: 2},
	)

	subs := []topic.Subscription{
		{ID: "s1", Project: "p1", Topic: "t1", Subscriber: srv.URL, Options: map[string]interface{}{}},
		{ID: "s2", Project: "p1", Topic: "t1", Subscriber: srv.URL, Options: map[string]interface{}{}},
	}
	msgs := []storage.Message{{Body: []byte(`{"hello":"world"}`)}}

	dispatcher.Dispatch(context.Background(), "p1", "t1", msgs, subs)

	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))

	rec, err := mon.Get(context.Background(), monitor.Key{Project: "p1", Type: monitor.TypeTopic, Name: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Counts[monitor.FieldSMC])
	assert.Equal(t, int64(0), rec.Counts[monitor.FieldTSMC])
}

func TestDispatch_UnknownSchemeCountsAsFailureNoRetry(t *testing.T) {
	mon := memstore.New()
	mem := storage.NewMemory()
	dispatcher := notify.NewDispatcher(
		deliver.NewWebhookTask(time.Second, 1000, 1000),
		deliver.NewQueueTask(),
		mem, mem, mon,
		notify.Config{MaxNotifierRetries: 3, Workers: 1},
	)

	subs := []topic.Subscription{
		{ID: "s1", Project: "p1", Topic: "t1", Subscriber: "ftp://example.com/x", Options: map[string]interface{}{}},
	}
	msgs := []storage.Message{{Body: []byte("x")}}

	dispatcher.Dispatch(context.Background(), "p1", "t1", msgs, subs)

	rec, err := mon.Get(context.Background(), monitor.Key{Project: "p1", Type: monitor.TypeTopic, Name: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Counts[monitor.FieldTSMC])
}

func TestDispatch_QueueSubscriberDeliversIntoDestination(t *testing.T) {
	mon := memstore.New()
	mem := storage.NewMemory()
	require.NoError(t, mem.Create(context.Background(), "q1", "p1"))

	dispatcher := notify.NewDispatcher(
		deliver.NewWebhookTask(time.Second, 1000, 1000),
		deliver.NewQueueTask(),
		mem, mem, mon,
		notify.Config{MaxNotifierRetries: 3, Workers: 1},
	)

	subs := []topic.Subscription{
		{ID: "s1", Project: "p1", Topic: "t1", Subscriber: "queue://p1/q1", Options: map[string]interface{}{}},
	}
	msgs := []storage.Message{{Body: []byte("payload")}}

	dispatcher.Dispatch(context.Background(), "p1", "t1", msgs, subs)

	topicRec, err := mon.Get(context.Background(), monitor.Key{Project: "p1", Type: monitor.TypeTopic, Name: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), topicRec.Counts[monitor.FieldSMC])

	count, err := mem.Count(context.Background(), "q1", "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
