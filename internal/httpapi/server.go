// Package httpapi is the HTTP transport surface (prefix /v2): queue
// consume, monitors, and topic CRUD + PATCH. Built around a gorilla/mux
// router with a request-id/logging/timeout/CORS middleware chain, and a
// context-carried zerolog logger (internal/obs) rather than package-level
// logging.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/eayunstack/notifyqueue/internal/consume"
	"github.com/eayunstack/notifyqueue/internal/metrics"
	"github.com/eayunstack/notifyqueue/internal/monitor"
	"github.com/eayunstack/notifyqueue/internal/notify"
	"github.com/eayunstack/notifyqueue/internal/obs"
	"github.com/eayunstack/notifyqueue/internal/topic"
)

// Deps bundles the services the HTTP surface dispatches to.
type Deps struct {
	Consume    *consume.Service
	Topics     *topic.Service
	Monitors   monitor.Controller
	Dispatcher *notify.Dispatcher
	Metrics    *metrics.Registry
	Logger     zerolog.Logger
}

// ServerConfig holds the listener's host, port, and timeout settings.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Server struct {
	router *mux.Router
	server *http.Server
	deps   Deps
	config ServerConfig
	stream *MonitorStream
}

// NewServer builds the HTTP surface. It always wraps deps.Monitors with
// WrapWithStream itself, so pass an unwrapped controller. If stream is nil,
// a new MonitorStream is created; pass one explicitly to share an existing
// broadcaster.
func NewServer(cfg ServerConfig, deps Deps, stream *MonitorStream) *Server {
	if stream == nil {
		stream = NewMonitorStream()
	}
	deps.Monitors = WrapWithStream(deps.Monitors, stream)
	s := &Server{
		router: mux.NewRouter(),
		deps:   deps,
		config: cfg,
		stream: stream,
	}
	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.timeoutMiddleware)
	s.router.Use(s.corsMiddleware)

	v2 := s.router.PathPrefix("/v2").Subrouter()

	v2.HandleFunc("/queues/{queue}/messages/consume", s.handleConsumeGet).Methods(http.MethodGet)
	v2.HandleFunc("/queues/{queue}/messages/consume", s.handleConsumeBulkDelete).Methods(http.MethodDelete)
	v2.HandleFunc("/queues/{queue}/messages/consume/{handle}", s.handleConsumeSingleDelete).Methods(http.MethodDelete)

	v2.HandleFunc("/monitors", s.handleMonitorsList).Methods(http.MethodGet)
	v2.HandleFunc("/monitors/{m_type}/{name}", s.handleMonitorGet).Methods(http.MethodGet)
	v2.HandleFunc("/monitors/stream", s.stream.handleWebsocket).Methods(http.MethodGet)

	v2.HandleFunc("/topics", s.handleTopicsList).Methods(http.MethodGet)
	v2.HandleFunc("/topics/{name}/messages", s.handleTopicPublish).Methods(http.MethodPost)
	v2.HandleFunc("/topics/{name}/subscriptions", s.handleSubscriptionsList).Methods(http.MethodGet)
	v2.HandleFunc("/topics/{name}/subscriptions", s.handleSubscriptionCreate).Methods(http.MethodPost)
	v2.HandleFunc("/topics/{name}/subscriptions/{subscription_id}", s.handleSubscriptionGet).Methods(http.MethodGet)
	v2.HandleFunc("/topics/{name}/subscriptions/{subscription_id}", s.handleSubscriptionDelete).Methods(http.MethodDelete)
	v2.HandleFunc("/topics/{name}", s.handleTopicGet).Methods(http.MethodGet)
	v2.HandleFunc("/topics/{name}", s.handleTopicPut).Methods(http.MethodPut)
	v2.HandleFunc("/topics/{name}", s.handleTopicPatch).Methods(http.MethodPatch)
	v2.HandleFunc("/topics/{name}", s.handleTopicDelete).Methods(http.MethodDelete)

	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, fmt.Errorf("not found"), http.StatusNotFound)
	})
}

// Router exposes the underlying handler for tests that want to drive
// requests through the full middleware and routing chain without binding
// a listening socket.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) ListenAndServe() error { return s.server.ListenAndServe() }

func (s *Server) Shutdown(ctx context.Context) error { return s.server.Shutdown(ctx) }

type ctxKeyRequestID struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID{}, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID, _ := r.Context().Value(ctxKeyRequestID{}).(string)

		lg := s.deps.Logger.With().Str("request_id", requestID).Logger()
		ctx := obs.WithLogger(r.Context(), lg)

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		lg.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.ReadTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept-Patch")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func trimmedQueryParam(r *http.Request, name string) string {
	return strings.TrimSpace(r.URL.Query().Get(name))
}
