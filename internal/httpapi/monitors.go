package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/eayunstack/notifyqueue/internal/apierr"
	"github.com/eayunstack/notifyqueue/internal/monitor"
)

// handleMonitorsList implements `GET /v2/monitors`. Query: marker, limit,
// all, m_type.
func (s *Server) handleMonitorsList(w http.ResponseWriter, r *http.Request) {
	opts := monitor.ListOptions{
		Project: projectOf(r),
		Marker:  trimmedQueryParam(r, "marker"),
		Limit:   10,
	}
	if raw := trimmedQueryParam(r, "limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			opts.Limit = n
		}
	}
	if raw := trimmedQueryParam(r, "all"); raw == "1" || raw == "true" {
		opts.AllProject = true
	}
	if raw := trimmedQueryParam(r, "m_type"); raw != "" {
		opts.Type = monitor.Type(raw)
	}

	page, err := s.deps.Monitors.List(r.Context(), opts)
	if err != nil {
		writeErr(w, err)
		return
	}

	out := make([]map[string]interface{}, 0, len(page.Records))
	for _, rec := range page.Records {
		out = append(out, renderMonitor(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"monitors": out,
		"marker":   page.NextMarker,
	})
}

// handleMonitorGet implements `GET /v2/monitors/{m_type}/{name}`.
func (s *Server) handleMonitorGet(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	key := monitor.Key{Project: projectOf(r), Type: monitor.Type(vars["m_type"]), Name: vars["name"]}

	rec, err := s.deps.Monitors.Get(r.Context(), key)
	if err != nil {
		if err == monitor.ErrNotFound {
			writeErr(w, apierr.NotFound("monitor"))
			return
		}
		writeErr(w, apierr.Unavailable(err))
		return
	}
	writeJSON(w, http.StatusOK, renderMonitor(rec))
}

func renderMonitor(rec monitor.Record) map[string]interface{} {
	values := map[string]interface{}{}
	for k, v := range rec.Counts {
		values[k] = v
	}
	for k, v := range rec.KBytes {
		values[k] = v
	}
	if rec.Key.Type == monitor.TypeQueue {
		values["active_msgs"] = clampNonNegative(rec.ActiveMsgs)
		values["inactive_msgs"] = clampNonNegative(rec.InactiveMsgs)
		values["delayed_msgs"] = clampNonNegative(rec.DelayedMsgs)
		values["deleted_msgs"] = clampNonNegative(rec.DeletedMsgs)
	}
	return map[string]interface{}{
		"key":    rec.Key.String(),
		"values": values,
	}
}

// clampNonNegative floors a derived queue count at zero for display.
func clampNonNegative(n int64) int64 {
	if n < 0 {
		return 0
	}
	return n
}
