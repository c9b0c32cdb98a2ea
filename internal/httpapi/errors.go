package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/eayunstack/notifyqueue/internal/apierr"
)

// statusFor maps the apierr taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch apierr.KindOf(err) {
	case apierr.KindValidation:
		return http.StatusBadRequest
	case apierr.KindNotFound:
		return http.StatusNotFound
	case apierr.KindConflict:
		return http.StatusConflict
	case apierr.KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusServiceUnavailable
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeError(w, err, statusFor(err))
}

// writeError writes err as a JSON body. For an *apierr.Error only its
// short Message is written; the wrapped cause is not sent to the caller.
func writeError(w http.ResponseWriter, err error, status int) {
	msg := err.Error()
	var apiErr *apierr.Error
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
