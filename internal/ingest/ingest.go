// Package ingest manages live transport stream inputs. Each input is a
// session whose byte stream is cut into packet-aligned segments, and every
// segment is demuxed as one job.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/tsdemux/internal/jobs"
	"github.com/zsiec/tsdemux/internal/mpegts"
)

// PacketSize is the MPEG-TS packet size segments are aligned to.
const PacketSize = 188

// DefaultSegmentSize is used when no segment size is configured.
const DefaultSegmentSize = 1000 * PacketSize

// ErrDuplicate is returned by Register when a session with the key exists.
var ErrDuplicate = errors.New("ingest: stream key already registered")

// Submitter queues a demux pass. *jobs.Pool satisfies it.
type Submitter interface {
	Submit(buf []byte, offset, length int) *jobs.Job
}

// Stats captures the health of an ingest session, exposed via the API.
type Stats struct {
	BytesReceived     int64                `json:"bytesReceived"`
	ReadCount         int64                `json:"readCount"`
	ConnectedAt       int64                `json:"connectedAt"`
	UptimeMs          int64                `json:"uptimeMs"`
	RemoteAddr        string               `json:"remoteAddr"`
	SegmentsSubmitted int64                `json:"segmentsSubmitted"`
	SegmentsSucceeded int64                `json:"segmentsSucceeded"`
	SegmentsFailed    int64                `json:"segmentsFailed"`
	DroppedBytes      int64                `json:"droppedBytes"`
	LastErrorCode     int                  `json:"lastErrorCode,omitempty"`
	LastStreams       []jobs.StreamSummary `json:"lastStreams,omitempty"`
}

// Session is one active input. Bytes written to its writer are collected
// into segments of the registry's segment size and submitted for demuxing.
// Segments are demuxed independently, so a segment only reports streams
// if it carries a PAT and PMT of its own.
type Session struct {
	Key       string
	StartedAt time.Time

	log         *slog.Logger
	submit      Submitter
	segmentSize int

	// mu guards the segment being filled and closed.
	mu      sync.Mutex
	segment []byte
	closed  bool
	tracked sync.WaitGroup

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
	submitted     atomic.Int64
	succeeded     atomic.Int64
	failed        atomic.Int64
	dropped       atomic.Int64
	lastErrorCode atomic.Int64
	lastStreams   atomic.Pointer[[]jobs.StreamSummary]
}

// SetRemoteAddr stores the remote address of the input for diagnostics.
func (s *Session) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	st := Stats{
		BytesReceived:     s.bytesReceived.Load(),
		ReadCount:         s.readCount.Load(),
		ConnectedAt:       s.StartedAt.UnixMilli(),
		UptimeMs:          time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:        addr,
		SegmentsSubmitted: s.submitted.Load(),
		SegmentsSucceeded: s.succeeded.Load(),
		SegmentsFailed:    s.failed.Load(),
		DroppedBytes:      s.dropped.Load(),
		LastErrorCode:     int(s.lastErrorCode.Load()),
	}
	if last := s.lastStreams.Load(); last != nil {
		st.LastStreams = *last
	}
	return st
}

// Wait blocks until every submitted segment of the session has completed.
func (s *Session) Wait() {
	s.tracked.Wait()
}

// Write appends p to the current segment, submitting each segment as it
// fills. It implements io.Writer for the session's input.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	s.bytesReceived.Add(int64(len(p)))
	s.readCount.Add(1)

	n := len(p)
	for len(p) > 0 {
		if s.segment == nil {
			s.segment = make([]byte, 0, s.segmentSize)
		}
		c := min(len(p), s.segmentSize-len(s.segment))
		s.segment = append(s.segment, p[:c]...)
		p = p[c:]
		if len(s.segment) == s.segmentSize {
			s.submitSegment(s.segment)
			s.segment = nil
		}
	}
	return n, nil
}

// Close submits the packet-aligned part of the pending segment and drops
// a trailing partial packet.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	aligned := len(s.segment) - len(s.segment)%PacketSize
	if aligned > 0 {
		s.submitSegment(s.segment[:aligned])
	}
	if rest := len(s.segment) - aligned; rest > 0 {
		s.dropped.Add(int64(rest))
		s.log.Warn("dropping partial packet at end of input", "bytes", rest)
	}
	s.segment = nil
	return nil
}

// submitSegment hands seg to the submitter. seg is not touched afterwards.
func (s *Session) submitSegment(seg []byte) {
	job := s.submit.Submit(seg, 0, len(seg))
	s.submitted.Add(1)

	s.tracked.Add(1)
	go func() {
		defer s.tracked.Done()
		<-job.Done()
		res, err := job.Result()
		if err != nil {
			s.failed.Add(1)
			s.lastErrorCode.Store(int64(mpegts.CodeOf(err)))
			s.log.Debug("segment failed", "job", job.ID(), "error", err)
			return
		}
		s.succeeded.Add(1)
		if len(res.Streams) > 0 {
			sum := jobs.Summarize(res)
			s.lastStreams.Store(&sum)
		}
	}()
}

// Registry tracks active ingest sessions by stream key. It is the
// rendezvous point between the SRT layer and the job pool.
type Registry struct {
	log         *slog.Logger
	submit      Submitter
	segmentSize int

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry submitting segments of segmentSize bytes,
// rounded down to a whole number of packets, to submit. A segmentSize
// below one packet selects DefaultSegmentSize. If log is nil,
// slog.Default() is used.
func NewRegistry(submit Submitter, segmentSize int, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if segmentSize < PacketSize {
		segmentSize = DefaultSegmentSize
	}
	return &Registry{
		log:         log.With("component", "ingest"),
		submit:      submit,
		segmentSize: segmentSize - segmentSize%PacketSize,
		sessions:    make(map[string]*Session),
	}
}

// SegmentSize returns the effective segment size in bytes.
func (r *Registry) SegmentSize() int {
	return r.segmentSize
}

// Register creates a session for key and returns it together with the
// writer its input must be copied into. A key can only be registered once
// until it is unregistered.
func (r *Registry) Register(key string) (*Session, io.WriteCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[key]; ok {
		r.log.Warn("stream already exists, rejecting duplicate", "key", key)
		return nil, nil, fmt.Errorf("%w: %q", ErrDuplicate, key)
	}

	s := &Session{
		Key:         key,
		StartedAt:   time.Now(),
		log:         r.log.With("stream", key),
		submit:      r.submit,
		segmentSize: r.segmentSize,
	}
	r.sessions[key] = s
	r.log.Info("session registered", "key", key)
	return s, s, nil
}

// Unregister removes a session by key and closes its writer.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	s, ok := r.sessions[key]
	if ok {
		delete(r.sessions, key)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
		r.log.Info("session removed", "key", key)
	}
}

// Get returns the session for key, or false if not found.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[key]
	return s, ok
}

// List returns all active sessions ordered by key.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Session, 0, len(r.sessions))
	for _, k := range slices.Sorted(maps.Keys(r.sessions)) {
		out = append(out, r.sessions[k])
	}
	return out
}
