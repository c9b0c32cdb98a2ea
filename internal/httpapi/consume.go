package httpapi

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
)

// handleConsumeGet implements `GET /v2/queues/{q}/messages/consume`:
// creates a claim, optionally auto-deletes, returns 201 with the claimed
// messages and a Location header, or 204 if the queue was empty.
func (s *Server) handleConsumeGet(w http.ResponseWriter, r *http.Request) {
	queue := mux.Vars(r)["queue"]
	project := projectOf(r)

	autoDelete := trimmedQueryParam(r, "auto_delete") == "1" || trimmedQueryParam(r, "auto_delete") == "true"
	limit := 0
	if raw := trimmedQueryParam(r, "limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, err, http.StatusBadRequest)
			return
		}
		limit = n
	}

	result, err := s.deps.Consume.Consume(r.Context(), project, queue, limit, autoDelete)
	if err != nil {
		writeErr(w, err)
		return
	}

	if len(result.Messages) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	messages := make([]map[string]interface{}, 0, len(result.Messages))
	for _, m := range result.Messages {
		messages = append(messages, map[string]interface{}{
			"id":     base64.RawURLEncoding.EncodeToString([]byte(m.Handle)),
			"href":   r.URL.Path + "/" + m.Handle,
			"ttl":    m.Msg.TTL,
			"body":   string(m.Msg.Body),
			"claim_id": result.ClaimID,
		})
	}

	w.Header().Set("Location", strings.TrimSuffix(r.URL.Path, "/")+"/"+result.ClaimID)
	writeJSON(w, http.StatusCreated, map[string]interface{}{"messages": messages})
}

// handleConsumeBulkDelete implements `DELETE /v2/queues/{q}/messages/consume?ids=`.
func (s *Server) handleConsumeBulkDelete(w http.ResponseWriter, r *http.Request) {
	queue := mux.Vars(r)["queue"]
	project := projectOf(r)

	raw := trimmedQueryParam(r, "ids")
	if raw == "" {
		writeError(w, errMissingIDs, http.StatusBadRequest)
		return
	}
	ids := strings.Split(raw, ",")

	deleted, err := s.deps.Consume.BulkDelete(r.Context(), project, queue, ids)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(deleted) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": deleted})
}

// handleConsumeSingleDelete implements `DELETE /v2/queues/{q}/messages/consume/{handle}`.
func (s *Server) handleConsumeSingleDelete(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	queue, handle := vars["queue"], vars["handle"]
	project := projectOf(r)

	if err := s.deps.Consume.DeleteSingle(r.Context(), project, queue, handle); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func projectOf(r *http.Request) string {
	if p := r.Header.Get("X-Project-Id"); p != "" {
		return p
	}
	return "default"
}

var errMissingIDs = missingParamError("ids")

type missingParamError string

func (e missingParamError) Error() string { return "missing required query parameter: " + string(e) }
