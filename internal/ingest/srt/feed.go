package srt

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/zsiec/tsdemux/internal/ingest"
)

// readBufferSize is the read buffer for SRT socket reads: ten standard
// 1316-byte SRT payloads of seven TS packets each.
const readBufferSize = 1316 * 10

// feed binds one SRT connection, accepted or dialed, to the ingest session
// registered under its stream key.
type feed struct {
	key      string
	conn     io.ReadCloser
	session  *ingest.Session
	w        io.WriteCloser
	registry *ingest.Registry
	log      *slog.Logger
}

// attach registers key and returns the feed that will carry conn into the
// new session. It fails when key is already being ingested.
func attach(registry *ingest.Registry, key, remote string, conn io.ReadCloser, log *slog.Logger) (*feed, error) {
	session, w, err := registry.Register(key)
	if err != nil {
		return nil, err
	}
	session.SetRemoteAddr(remote)
	return &feed{
		key:      key,
		conn:     conn,
		session:  session,
		w:        w,
		registry: registry,
		log:      log.With("stream_key", key),
	}, nil
}

// run copies the connection into the session until the peer stops sending,
// the session refuses data or ctx is done. It then closes the connection,
// unregisters the session and returns its final stats.
func (f *feed) run(ctx context.Context) ingest.Stats {
	stop := context.AfterFunc(ctx, func() { f.conn.Close() })
	defer stop()

	copyInput(ctx, f.conn, f.w, f.log)
	f.conn.Close()

	// Unregister flushes the packet-aligned tail as a last segment.
	f.registry.Unregister(f.key)
	st := f.session.Stats()
	f.log.Info("feed ended",
		"bytes", st.BytesReceived,
		"segments", st.SegmentsSubmitted,
		"dropped", st.DroppedBytes,
		"uptime_ms", st.UptimeMs,
	)
	return st
}

// copyInput copies reads from r into w until either fails or ctx is done.
func copyInput(ctx context.Context, r io.Reader, w io.Writer, log *slog.Logger) {
	buf := make([]byte, readBufferSize)
	for ctx.Err() == nil {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				log.Debug("segment write error", "error", werr)
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debug("read error", "error", err)
			}
			return
		}
	}
}
