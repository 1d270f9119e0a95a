// Package api serves the demux HTTP API over HTTPS and HTTP/3: one-shot
// demux of a request body, job pool and ingest session status, and SRT
// pull management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/tsdemux/internal/certs"
	"github.com/zsiec/tsdemux/internal/ingest"
	"github.com/zsiec/tsdemux/internal/ingest/srt"
	"github.com/zsiec/tsdemux/internal/jobs"
)

// Defaults for Config fields left zero.
const (
	DefaultMaxBodyBytes = 64 << 20
	DefaultDemuxTimeout = 30 * time.Second
)

// JobRunner is the part of *jobs.Pool the API uses.
type JobRunner interface {
	Submit(buf []byte, offset, length int) *jobs.Job
	Stats() jobs.Stats
	Pending() []uint64
}

// SessionLister is the part of *ingest.Registry the API uses.
type SessionLister interface {
	Get(key string) (*ingest.Session, bool)
	List() []*ingest.Session
}

// SRTPullFunc initiates an SRT caller-mode pull.
type SRTPullFunc func(req srt.PullRequest) error

// SRTStopFunc stops an active SRT pull by stream key.
type SRTStopFunc func(streamKey string) error

// SRTListFunc returns all active SRT pulls.
type SRTListFunc func() []srt.PullRequest

// Config holds the API server configuration.
type Config struct {
	// Addr is the UDP address of the HTTP/3 listener.
	Addr string
	Cert *certs.CertInfo
	Jobs JobRunner
	// Ingest is optional; without it the ingest routes report no sessions.
	Ingest SessionLister

	SRTPull SRTPullFunc
	SRTStop SRTStopFunc
	SRTList SRTListFunc

	MaxBodyBytes int64
	// DemuxTimeout bounds how long POST /api/demux waits for its job.
	DemuxTimeout time.Duration
	Log          *slog.Logger
}

// Server serves the API. The same routes are available from Handler, for
// a TCP listener, and from Start over HTTP/3.
type Server struct {
	config Config
	log    *slog.Logger
	h3     *http3.Server
}

// NewServer creates a Server. It returns an error if required fields are
// missing.
func NewServer(config Config) (*Server, error) {
	if config.Cert == nil {
		return nil, errors.New("api: Cert is required")
	}
	if config.Addr == "" {
		return nil, errors.New("api: Addr is required")
	}
	if config.Jobs == nil {
		return nil, errors.New("api: Jobs is required")
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.DemuxTimeout <= 0 {
		config.DemuxTimeout = DefaultDemuxTimeout
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		config: config,
		log:    log.With("component", "api"),
	}
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.h3 = &http3.Server{
		Addr:      config.Addr,
		Handler:   corsMiddleware(mux),
		TLSConfig: config.Cert.TLSConfig(),
		QUICConfig: &quic.Config{
			MaxIdleTimeout: 30 * time.Second,
		},
	}
	return s, nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/demux", s.handleDemux)
	mux.HandleFunc("GET /api/jobs", s.handleJobs)
	mux.HandleFunc("GET /api/ingest", s.handleIngestList)
	mux.HandleFunc("GET /api/ingest/{key}", s.handleIngestGet)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	mux.HandleFunc("GET /api/srt-pull", s.handleSRTPullList)
	mux.HandleFunc("POST /api/srt-pull", s.handleSRTPullCreate)
	mux.HandleFunc("DELETE /api/srt-pull", s.handleSRTPullStop)
	mux.HandleFunc("OPTIONS /api/srt-pull", s.handleSRTPullOptions)
}

// Handler returns the API for a TCP listener. Responses advertise the
// HTTP/3 endpoint through Alt-Svc.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return corsMiddleware(s.altSvcMiddleware(mux))
}

func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
			s.log.Debug("alt-svc header", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// Start launches the HTTP/3 listener and blocks until the context is
// cancelled or a fatal error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("HTTP/3 API server listening", "addr", s.config.Addr)

	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("api: HTTP/3 server: %w", err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
