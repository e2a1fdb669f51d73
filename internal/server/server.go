// Package server exposes the chat pipeline over HTTP.
//
// Routes:
//
//	POST /chat     run one chat request, answer {text, audio, lipsync}
//	GET  /healthz  liveness
//	GET  /readyz   readiness (tools resolvable, workspace writable, breakers closed)
//	GET  /metrics  Prometheus exposition
//
// Clients only ever see two error bodies: "Invalid request body" for a
// rejected request and "Internal Server Error" for any pipeline failure. The
// full failure is logged with the request ID and failing stage.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/talkback/internal/health"
	"github.com/MrWong99/talkback/internal/observe"
	"github.com/MrWong99/talkback/internal/pipeline"
)

// DefaultMaxBodyBytes caps /chat request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Client-facing error messages.
const (
	msgInvalidBody = "Invalid request body"
	msgTooLarge    = "Request body too large"
	msgInternal    = "Internal Server Error"
)

// Chatter runs one chat request. *pipeline.Pipeline satisfies it.
type Chatter interface {
	Run(ctx context.Context, req pipeline.ChatRequest) (*pipeline.ChatResponse, error)
}

var _ Chatter = (*pipeline.Pipeline)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithCORSOrigin sets the single allowed browser origin.
func WithCORSOrigin(origin string) Option {
	return func(s *Server) { s.corsOrigin = origin }
}

// WithMaxBodyBytes overrides [DefaultMaxBodyBytes].
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) { s.maxBody = n }
}

// WithHealth mounts /healthz and /readyz from h.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithMetricsHandler mounts h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metricsHandler = h }
}

// WithMetrics records HTTP metrics to m instead of [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server routes HTTP requests to the chat pipeline.
type Server struct {
	chat           Chatter
	corsOrigin     string
	maxBody        int64
	health         *health.Handler
	metricsHandler http.Handler
	metrics        *observe.Metrics
	handler        http.Handler
}

// New builds a Server around chat.
func New(chat Chatter, opts ...Option) *Server {
	s := &Server{chat: chat, maxBody: DefaultMaxBodyBytes}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /chat", s.handleChat)
	if s.health != nil {
		s.health.Register(mux)
	}
	if s.metricsHandler != nil {
		mux.Handle("GET /metrics", s.metricsHandler)
	}

	var h http.Handler = mux
	if s.corsOrigin != "" {
		h = cors(s.corsOrigin, h)
	}
	s.handler = observe.Middleware(s.metrics)(h)
	return s
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := observe.Logger(ctx)

	var req pipeline.ChatRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("chat request body too large", "limit", tooLarge.Limit)
			writeError(w, http.StatusRequestEntityTooLarge, msgTooLarge)
			return
		}
		log.Debug("chat request body rejected", "err", err)
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	log.Debug("chat request received", "user_input", req.UserInput)

	resp, err := s.chat.Run(ctx, req)
	if err != nil {
		var valErr *pipeline.ValidationError
		if errors.As(err, &valErr) {
			log.Debug("chat request invalid", "field", valErr.Field, "reason", valErr.Reason)
			writeError(w, http.StatusBadRequest, msgInvalidBody)
			return
		}
		attrs := []any{"kind", pipeline.ErrorKind(err), "err", err}
		var stageErr *pipeline.StageError
		if errors.As(err, &stageErr) {
			attrs = append(attrs, "request_id", stageErr.RequestID, "stage", string(stageErr.Stage))
		}
		if ctx.Err() != nil {
			log.Info("chat request abandoned by client", attrs...)
		} else {
			log.Error("chat request failed", attrs...)
		}
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}

	w.Header().Set("X-Request-ID", resp.RequestID)
	writeJSON(w, http.StatusOK, resp)
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}
