package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/eayunstack/notifyqueue/internal/apierr"
	"github.com/eayunstack/notifyqueue/internal/topic"
)

// handleSubscriptionsList implements `GET /v2/topics/{name}/subscriptions`.
func (s *Server) handleSubscriptionsList(w http.ResponseWriter, r *http.Request) {
	topicName := mux.Vars(r)["name"]
	subs, err := s.deps.Topics.ListSubscriptions(r.Context(), projectOf(r), topicName)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(subs))
	for _, sub := range subs {
		out = append(out, renderSubscription(sub))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"subscriptions": out})
}

// handleSubscriptionCreate implements `POST /v2/topics/{name}/subscriptions`.
func (s *Server) handleSubscriptionCreate(w http.ResponseWriter, r *http.Request) {
	topicName := mux.Vars(r)["name"]
	project := projectOf(r)

	var body struct {
		Subscriber string                 `json:"subscriber"`
		Options    map[string]interface{} `json:"options"`
		TTL        int                    `json:"ttl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, apierr.Validation("malformed request body: %v", err), http.StatusBadRequest)
		return
	}
	if body.Subscriber == "" {
		writeError(w, apierr.Validation("subscriber is required"), http.StatusBadRequest)
		return
	}

	sub := topic.Subscription{
		ID:         uuid.NewString(),
		Project:    project,
		Topic:      topicName,
		Subscriber: body.Subscriber,
		Options:    body.Options,
		TTL:        body.TTL,
	}
	if err := s.deps.Topics.CreateSubscription(r.Context(), sub); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"subscription_id": sub.ID})
}

// handleSubscriptionGet implements
// `GET /v2/topics/{name}/subscriptions/{subscription_id}`.
func (s *Server) handleSubscriptionGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sub, err := s.deps.Topics.GetSubscription(r.Context(), projectOf(r), vars["name"], vars["subscription_id"])
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, renderSubscription(sub))
}

// handleSubscriptionDelete implements
// `DELETE /v2/topics/{name}/subscriptions/{subscription_id}`.
func (s *Server) handleSubscriptionDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := s.deps.Topics.DeleteSubscription(r.Context(), projectOf(r), vars["name"], vars["subscription_id"]); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func renderSubscription(sub topic.Subscription) map[string]interface{} {
	return map[string]interface{}{
		"id":         sub.ID,
		"subscriber": sub.Subscriber,
		"options":    sub.Options,
		"ttl":        sub.TTL,
	}
}
