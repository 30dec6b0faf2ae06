package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/equityrun/equityrun/internal/models"
)

type requestIDKey struct{}

// Server is the discovery HTTP surface.
type Server struct {
	router  *mux.Router
	server  *http.Server
	gateway *Gateway
}

// ServerConfig holds the listener knobs.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns production listener defaults. WriteTimeout
// must exceed the synchronous fallback cap or the handler gets cut off
// mid-scan.
func DefaultServerConfig(host string, port int) ServerConfig {
	return ServerConfig{
		Host:         host,
		Port:         port,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// NewServer builds the router and wires every route.
func NewServer(cfg ServerConfig, g *Gateway) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		gateway: g,
	}
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	api := s.router.PathPrefix("/discovery").Subrouter()
	api.Use(jsonContentTypeMiddleware)
	api.HandleFunc("/candidates", s.handleCandidates).Methods("GET")
	api.HandleFunc("/candidates/last", s.handleLast).Methods("GET")
	api.HandleFunc("/candidates/trade-ready", s.handleTradeReady).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/trigger", s.handleTrigger).Methods("POST")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	s.router.Handle("/metrics", s.gateway.metrics.Handler()).Methods("GET")
	s.router.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	// mux only emits 405 on a method mismatch when this handler is set, and
	// subrouters do not inherit it.
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
	api.MethodNotAllowedHandler = http.HandlerFunc(s.handleMethodNotAllowed)
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the listener until shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Gateway listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Gateway shutting down")
	return s.server.Shutdown(ctx)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		elapsed := time.Since(start)
		s.gateway.metrics.HTTPDuration.
			WithLabelValues(r.URL.Path, strconv.Itoa(wrapper.status)).
			Observe(elapsed.Seconds())

		log.Info().
			Str("request_id", requestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("elapsed", elapsed).
			Msg("Request handled")
	})
}

func jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	strategy := strategyParam(r)
	limit := intParam(r, "limit")
	force := boolParam(r, "force_refresh")

	code, body := s.gateway.Candidates(r.Context(), strategy, limit, force, false)
	writeJSON(w, r, code, body)
}

func (s *Server) handleTradeReady(w http.ResponseWriter, r *http.Request) {
	code, body := s.gateway.Candidates(r.Context(), strategyParam(r), intParam(r, "limit"), boolParam(r, "force_refresh"), true)
	writeJSON(w, r, code, body)
}

func (s *Server) handleLast(w http.ResponseWriter, r *http.Request) {
	code, body := s.gateway.Last(r.Context(), strategyParam(r), intParam(r, "limit"))
	writeJSON(w, r, code, body)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	code, body := s.gateway.Status(r.Context(), r.URL.Query().Get("job_id"))
	writeJSON(w, r, code, body)
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	code, body := s.gateway.Trigger(r.Context(), strategyParam(r), intParam(r, "limit"))
	writeJSON(w, r, code, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	code, body := s.gateway.Health(r.Context())
	writeJSON(w, r, code, body)
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, r, http.StatusNotFound, ErrorResponse{
		ErrorKind: "NotFound",
		Message:   fmt.Sprintf("no route %s %s", r.Method, r.URL.Path),
	})
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, r, http.StatusMethodNotAllowed, ErrorResponse{
		ErrorKind: "MethodNotAllowed",
		Message:   fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path),
	})
}

func strategyParam(r *http.Request) string {
	if s := r.URL.Query().Get("strategy"); s != "" {
		return s
	}
	return "hybrid_v1"
}

func intParam(r *http.Request, name string) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func boolParam(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	return v == "true" || v == "1"
}

// writeJSON stamps the envelope fields onto the body and renders it.
func writeJSON(w http.ResponseWriter, r *http.Request, code int, body any) {
	env := Envelope{
		EngineVersion: models.EngineVersion,
		SchemaVersion: models.SchemaVersion,
		Timestamp:     time.Now().UTC(),
		RequestID:     requestID(r.Context()),
	}
	switch b := body.(type) {
	case CandidatesResponse:
		b.Envelope = env
		body = b
	case StatusResponse:
		b.Envelope = env
		body = b
	case TriggerResponse:
		b.Envelope = env
		body = b
	case HealthResponse:
		b.Envelope = env
		body = b
	case ErrorResponse:
		b.Envelope = env
		body = b
	}

	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Response encode failed")
	}
}
