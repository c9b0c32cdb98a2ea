package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eayunstack/notifyqueue/internal/consume"
	"github.com/eayunstack/notifyqueue/internal/httpapi"
	"github.com/eayunstack/notifyqueue/internal/monitor"
	"github.com/eayunstack/notifyqueue/internal/monitor/memstore"
	"github.com/eayunstack/notifyqueue/internal/storage"
	"github.com/eayunstack/notifyqueue/internal/topic"
	topicmemstore "github.com/eayunstack/notifyqueue/internal/topic/memstore"
)

type fakeMonitorCreator struct{ monitors monitor.Controller }

func (f fakeMonitorCreator) CreateTopicMonitor(ctx context.Context, project, name string) error {
	err := f.monitors.Create(ctx, monitor.Key{Project: project, Type: monitor.TypeTopic, Name: name})
	if err != nil && err != monitor.ErrAlreadyExists {
		return err
	}
	return nil
}

func newTestServer(t *testing.T) *httpapi.Server {
	t.Helper()
	monitors := memstore.New()
	topicSvc := topic.NewService(topicmemstore.New(), fakeMonitorCreator{monitors: monitors}, topic.Defaults{
		MaxPostSize:       262144,
		DefaultMessageTTL: 3600,
	})
	messages := storage.NewMemory()
	consumeSvc := consume.NewService(messages, messages, messages.Claims(), monitors)

	return httpapi.NewServer(httpapi.ServerConfig{Host: "127.0.0.1", Port: 0, ReadTimeout: 5 * time.Second}, httpapi.Deps{
		Consume:  consumeSvc,
		Topics:   topicSvc,
		Monitors: monitors,
		Logger:   zerolog.New(io.Discard),
	}, nil)
}

func doRequest(t *testing.T, srv *httpapi.Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-Project-Id", "proj1")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func TestTopicLifecycle_CreateGetPatchDelete(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPut, "/v2/topics/t1", map[string]interface{}{"custom": "x"})
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = doRequest(t, srv, http.MethodGet, "/v2/topics/t1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
	assert.Equal(t, "x", got["custom"])
	assert.Equal(t, float64(3600), got["_default_message_ttl"])

	req, err := json.Marshal([]map[string]interface{}{{"op": "add", "path": "/label", "value": "prod"}})
	require.NoError(t, err)
	patchReq := httptest.NewRequest(http.MethodPatch, "/v2/topics/t1", bytes.NewReader(req))
	patchReq.Header.Set("X-Project-Id", "proj1")
	patchReq.Header.Set("Content-Type", "application/openstack-messaging-v2.0-json-patch")
	patchRR := httptest.NewRecorder()
	srv.Router().ServeHTTP(patchRR, patchReq)
	require.Equal(t, http.StatusOK, patchRR.Code)

	rr = doRequest(t, srv, http.MethodDelete, "/v2/topics/t1", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, srv, http.MethodGet, "/v2/topics/t1", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTopicPatch_WrongContentTypeRejected(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPut, "/v2/topics/t1", nil)

	req := httptest.NewRequest(http.MethodPatch, "/v2/topics/t1", bytes.NewReader([]byte(`[]`)))
	req.Header.Set("X-Project-Id", "proj1")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)
	assert.Equal(t, "application/openstack-messaging-v2.0-json-patch", rr.Header().Get("Accept-Patch"))
}

func TestSubscriptionLifecycle_CreateListDelete(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPut, "/v2/topics/t1", nil)

	rr := doRequest(t, srv, http.MethodPost, "/v2/topics/t1/subscriptions", map[string]interface{}{
		"subscriber": "http://example.com/hook",
		"ttl":        3600,
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	subID, _ := created["subscription_id"].(string)
	require.NotEmpty(t, subID)

	rr = doRequest(t, srv, http.MethodGet, "/v2/topics/t1/subscriptions", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var list map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Len(t, list["subscriptions"], 1)

	rr = doRequest(t, srv, http.MethodDelete, "/v2/topics/t1/subscriptions/"+subID, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = doRequest(t, srv, http.MethodGet, "/v2/topics/t1/subscriptions/"+subID, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestTopicPublish_NoSubscribersStillAccepted(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPut, "/v2/topics/t1", nil)

	rr := doRequest(t, srv, http.MethodPost, "/v2/topics/t1/messages", map[string]interface{}{
		"messages": []map[string]interface{}{{"body": map[string]string{"hello": "world"}}},
	})
	assert.Equal(t, http.StatusCreated, rr.Code)
}

func TestTopicPublish_EmptyBatchRejected(t *testing.T) {
	srv := newTestServer(t)
	doRequest(t, srv, http.MethodPut, "/v2/topics/t1", nil)

	rr := doRequest(t, srv, http.MethodPost, "/v2/topics/t1/messages", map[string]interface{}{
		"messages": []map[string]interface{}{},
	})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
