package srt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/tsdemux/internal/ingest"
)

// latencyNs is the SRT latency setting in nanoseconds (120ms).
const latencyNs = 120_000_000

// Server accepts incoming SRT publish connections and feeds them into the
// ingest registry.
type Server struct {
	log      *slog.Logger
	addr     string
	registry *ingest.Registry
}

// NewServer creates an SRT server that listens on addr and registers
// incoming streams with registry. If log is nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// admit decides at handshake time whether a publish may proceed. Publishers
// must name a stream, and a key that is already ingesting is refused before
// any data flows.
func (s *Server) admit(req srtgo.ConnRequest) srtgo.RejectReason {
	if req.StreamID == "" {
		return srtgo.RejPeer
	}
	if _, busy := s.registry.Get(extractStreamKey(req.StreamID)); busy {
		s.log.Warn("refusing publish for busy stream key", "stream_id", req.StreamID)
		return srtgo.RejPeer
	}
	return 0
}

// Start accepts SRT publish connections until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("srt: listen on %s: %w", s.addr, err)
	}
	l.SetAcceptRejectFunc(s.admit)
	s.log.Info("listening", "addr", s.addr)

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		switch {
		case err == nil:
			go s.serve(ctx, conn)
		case ctx.Err() != nil:
			return nil
		default:
			s.log.Warn("accept error", "error", err)
		}
	}
}

// serve ingests one accepted connection. The key may have been claimed
// between the handshake and registration, in which case the connection is
// dropped.
func (s *Server) serve(ctx context.Context, conn *srtgo.Conn) {
	key := extractStreamKey(conn.StreamID())
	remote := conn.RemoteAddr().String()

	f, err := attach(s.registry, key, remote, conn, s.log)
	if err != nil {
		s.log.Warn("rejecting publish", "stream_key", key, "remote", remote, "error", err)
		conn.Close()
		return
	}
	s.log.Info("publish", "stream_key", key, "remote", remote)
	f.run(ctx)
}

// extractStreamKey maps an SRT stream id to an ingest key: leading "/" and
// "live/" are trimmed and an empty id becomes "default".
func extractStreamKey(streamID string) string {
	key := strings.TrimPrefix(strings.TrimPrefix(streamID, "/"), "live/")
	if key == "" {
		return "default"
	}
	return key
}
