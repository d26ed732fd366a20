package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/hospital-agent/internal/agent"
	"github.com/MimeLyc/hospital-agent/internal/audit"
	"github.com/MimeLyc/hospital-agent/internal/llm"
	"github.com/MimeLyc/hospital-agent/internal/monitor"
	"github.com/MimeLyc/hospital-agent/pkg/log"
)

const (
	serviceMessage = "Smart Hospital AI Agent API is running"
	serviceVersion = "1.0.0"

	// DefaultMaxBodyBytes bounds /chat request bodies. A returned history
	// carries raw tool payloads, so the bound sits well above what one
	// gateway call may return.
	DefaultMaxBodyBytes = 64 << 20
)

// DataSource serves the direct hospital-data passthrough.
type DataSource interface {
	Passthrough(ctx context.Context, name, rawQuery string) (json.RawMessage, error)
}

type healthReporter interface {
	Snapshot() monitor.Snapshot
}

type auditLog interface {
	Latest(ctx context.Context, limit int) ([]audit.Record, error)
}

// ProviderInfo describes the configured completion provider without its key.
type ProviderInfo struct {
	Provider      string `json:"provider"`
	Model         string `json:"model"`
	KeyConfigured bool   `json:"key_configured"`
}

type Server struct {
	agent     agent.Agent
	chatError error
	data      DataSource
	health    healthReporter
	audit     auditLog

	provider ProviderInfo
	pinger   llm.Pinger

	maxBodyBytes int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithAgent(a agent.Agent) Option {
	return func(s *Server) {
		s.agent = a
	}
}

// WithChatDisabled keeps the server up for health and data routes while
// /chat answers 503 with reason.
func WithChatDisabled(reason error) Option {
	return func(s *Server) {
		s.chatError = reason
	}
}

func WithHealth(h healthReporter) Option {
	return func(s *Server) {
		s.health = h
	}
}

func WithAuditLog(l auditLog) Option {
	return func(s *Server) {
		s.audit = l
	}
}

// WithProvider enables /debug/provider. pinger may be nil when no client
// could be built.
func WithProvider(info ProviderInfo, pinger llm.Pinger) Option {
	return func(s *Server) {
		s.provider = info
		s.pinger = pinger
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes. Non-positive values are ignored.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBodyBytes = n
		}
	}
}

func NewServer(data DataSource, opts ...Option) *Server {
	s := &Server{
		data:         data,
		mux:          http.NewServeMux(),
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return requestID(s.mux)
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) chatEnabled() bool {
	return s.agent != nil && s.chatError == nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleHealth)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/chat", s.handleChat)
	s.mux.HandleFunc("/hospital-data/", s.handleHospitalData)
	s.mux.HandleFunc("/debug/provider", s.handleProviderCheck)
	s.mux.HandleFunc("/debug/tool-calls", s.handleToolCalls)
}

// requestID tags every request with an id, reusing the caller's when given.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		reqLog := log.With().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("duration", time.Since(start)).
			Logger()
		reqLog.Debug().Msg("request served")
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
