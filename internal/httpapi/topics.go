package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/eayunstack/notifyqueue/internal/apierr"
	"github.com/eayunstack/notifyqueue/internal/monitor"
	"github.com/eayunstack/notifyqueue/internal/obs"
	"github.com/eayunstack/notifyqueue/internal/storage"
	"github.com/eayunstack/notifyqueue/internal/topic"
)

// patchContentType is the media type PATCH bodies must declare; anything
// else gets 415 + Accept-Patch.
const patchContentType = "application/openstack-messaging-v2.0-json-patch"

// handleTopicsList implements `GET /v2/topics`.
func (s *Server) handleTopicsList(w http.ResponseWriter, r *http.Request) {
	project := projectOf(r)
	marker := trimmedQueryParam(r, "marker")
	limit := 10
	if raw := trimmedQueryParam(r, "limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	topics, next, err := s.deps.Topics.ListTopics(r.Context(), project, marker, limit)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(topics))
	for _, t := range topics {
		out = append(out, renderTopic(t))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"topics": out,
		"marker": next,
	})
}

// handleTopicGet implements `GET /v2/topics/{name}`.
func (s *Server) handleTopicGet(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	t, err := s.deps.Topics.GetTopic(r.Context(), projectOf(r), name)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderTopic(t))
}

// handleTopicPut implements `PUT /v2/topics/{name}`: create with an
// optional metadata body.
func (s *Server) handleTopicPut(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	metadata := map[string]interface{}{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&metadata); err != nil {
			writeError(w, apierr.Validation("malformed request body: %v", err), http.StatusBadRequest)
			return
		}
	}

	t, err := s.deps.Topics.CreateTopic(r.Context(), projectOf(r), name, metadata)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, renderTopic(t))
}

// handleTopicPatch implements `PATCH /v2/topics/{name}`: an RFC-6902
// subset, guarded by a dedicated Content-Type.
func (s *Server) handleTopicPatch(w http.ResponseWriter, r *http.Request) {
	if ct := r.Header.Get("Content-Type"); ct != patchContentType {
		w.Header().Set("Accept-Patch", patchContentType)
		writeError(w, apierr.UnsupportedMedia("Content-Type must be %s", patchContentType), http.StatusUnsupportedMediaType)
		return
	}

	var rawOps []struct {
		Op    string      `json:"op"`
		Path  string      `json:"path"`
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&rawOps); err != nil {
		writeError(w, apierr.Validation("malformed patch body: %v", err), http.StatusBadRequest)
		return
	}

	ops := make([]topic.PatchOp, 0, len(rawOps))
	for _, op := range rawOps {
		ops = append(ops, topic.PatchOp{
			Op:    op.Op,
			Path:  trimLeadingSlash(op.Path),
			Value: op.Value,
		})
	}

	name := mux.Vars(r)["name"]
	t, err := s.deps.Topics.PatchMetadata(r.Context(), projectOf(r), name, ops)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderTopic(t))
}

// handleTopicPublish implements `POST /v2/topics/{name}/messages`: the
// publish ingress that feeds the notification dispatcher. It records the
// publish on the topic's monitor, looks up current subscribers, and hands
// the batch to the dispatcher for delivery.
func (s *Server) handleTopicPublish(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	project := projectOf(r)

	var body struct {
		Messages []struct {
			Body json.RawMessage `json:"body"`
			TTL  int             `json:"ttl"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validation("malformed request body: %v", err), http.StatusBadRequest)
		return
	}
	if len(body.Messages) == 0 {
		writeError(w, apierr.Validation("messages array must not be empty"), http.StatusBadRequest)
		return
	}

	messages := make([]storage.Message, 0, len(body.Messages))
	var totalBytes int64
	for _, m := range body.Messages {
		msg := storage.Message{Body: []byte(m.Body), TTL: m.TTL}
		messages = append(messages, msg)
		totalBytes += int64(msg.Size())
	}

	if s.deps.Monitors != nil {
		if err := s.deps.Monitors.Update(r.Context(), project, name, monitor.PublishMessages, true, len(messages), totalBytes); err != nil {
			writeErr(w, apierr.Unavailable(err))
			return
		}
	}

	subs, err := s.deps.Topics.ListSubscriptions(r.Context(), project, name)
	if err != nil {
		writeErr(w, err)
		return
	}

	if s.deps.Dispatcher != nil && len(subs) > 0 {
		ctx := obs.WithLogger(context.Background(), *obs.Logger(r.Context()))
		go s.deps.Dispatcher.Dispatch(ctx, project, name, messages, subs)
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"resources": []string{}})
}

// handleTopicDelete implements `DELETE /v2/topics/{name}`.
func (s *Server) handleTopicDelete(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.deps.Topics.DeleteTopic(r.Context(), projectOf(r), name); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func renderTopic(t topic.Topic) map[string]interface{} {
	out := map[string]interface{}{
		"name":          t.Name,
		"message_count": t.MessageCount,
	}
	for k, v := range t.Metadata {
		out[k] = v
	}
	return out
}

// trimLeadingSlash converts an RFC-6902 JSON Pointer path ("/foo") into a
// top-level key name; only top-level metadata keys are addressable.
func trimLeadingSlash(path string) string {
	if len(path) > 0 && path[0] == '/' {
		return path[1:]
	}
	return path
}

