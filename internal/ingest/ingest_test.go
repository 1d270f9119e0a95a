package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/zsiec/tsdemux/internal/jobs"
	"github.com/zsiec/tsdemux/internal/mpegts"
	"github.com/zsiec/tsdemux/test/tools/tsutil"
)

// recordingSubmitter forwards to a running pool and keeps every segment.
type recordingSubmitter struct {
	pool *jobs.Pool

	mu       sync.Mutex
	segments [][]byte
}

func newRecordingSubmitter(t *testing.T) *recordingSubmitter {
	t.Helper()
	pool := jobs.NewPool(jobs.PoolConfig{Workers: 2})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &recordingSubmitter{pool: pool}
}

func (r *recordingSubmitter) Submit(buf []byte, offset, length int) *jobs.Job {
	r.mu.Lock()
	r.segments = append(r.segments, buf[offset:offset+length])
	r.mu.Unlock()
	return r.pool.Submit(buf, offset, length)
}

func (r *recordingSubmitter) Segments() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.segments
}

// programStream returns five packets: PAT, PMT and three video PES.
func programStream() []byte {
	prog := tsutil.Program{
		Number:  1,
		PMTPID:  0x1000,
		Streams: []tsutil.ElementaryStream{{StreamType: tsutil.StreamTypeH264, PID: 0x100}},
	}
	m := tsutil.NewMuxer()
	m.WritePAT(prog)
	m.WritePMT(prog)
	for i := range 3 {
		dts := 90000 + uint64(i)*3003
		m.WritePES(0x100, tsutil.StreamIDVideo, tsutil.PTSDTS(dts+3003, dts), []byte{0x00, 0x00, 0x01, 0x09, 0xF0})
	}
	return m.Bytes()
}

func waitSession(t *testing.T, s *Session) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("segments did not complete")
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newRecordingSubmitter(t), 0, nil)
	session, w, err := r.Register("test-stream")
	if err != nil {
		t.Fatal(err)
	}
	if session.Key != "test-stream" {
		t.Fatalf("got key %q, want %q", session.Key, "test-stream")
	}
	if w == nil {
		t.Fatal("writer is nil")
	}

	got, ok := r.Get("test-stream")
	if !ok {
		t.Fatal("Get returned false for registered session")
	}
	if got != session {
		t.Fatal("Get returned different session pointer")
	}
}

func TestRegistryDuplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newRecordingSubmitter(t), 0, nil)
	if _, _, err := r.Register("cam"); err != nil {
		t.Fatal(err)
	}
	s, w, err := r.Register("cam")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if s != nil || w != nil {
		t.Error("duplicate Register should return nil session and writer")
	}

	r.Unregister("cam")
	if _, _, err := r.Register("cam"); err != nil {
		t.Errorf("register after unregister: %v", err)
	}
}

func TestRegistryGetMissing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newRecordingSubmitter(t), 0, nil)
	if _, ok := r.Get("nonexistent"); ok {
		t.Fatal("Get returned true for missing session")
	}
	// Should not panic.
	r.Unregister("nonexistent")
}

func TestRegistryList(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newRecordingSubmitter(t), 0, nil)
	for _, k := range []string{"stream-c", "stream-a", "stream-b"} {
		r.Register(k)
	}
	sessions := r.List()
	if len(sessions) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(sessions))
	}
	for i, want := range []string{"stream-a", "stream-b", "stream-c"} {
		if sessions[i].Key != want {
			t.Errorf("session %d = %q, want %q", i, sessions[i].Key, want)
		}
	}
}

func TestRegistrySegmentSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want int
	}{
		{0, DefaultSegmentSize},
		{-1, DefaultSegmentSize},
		{100, DefaultSegmentSize},
		{188, 188},
		{200, 188},
		{1000, 940},
	}
	for _, tc := range tests {
		if got := NewRegistry(nil, tc.in, nil).SegmentSize(); got != tc.want {
			t.Errorf("NewRegistry(%d).SegmentSize() = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestSessionSegmentsAreAligned(t *testing.T) {
	t.Parallel()

	sub := newRecordingSubmitter(t)
	r := NewRegistry(sub, 1000, nil)
	session, w, err := r.Register("aligned")
	if err != nil {
		t.Fatal(err)
	}

	input := bytes.Repeat([]byte{0x47}, 3*940+2*188+50)
	for chunk := range slicesOf(input, 77) {
		if _, err := w.Write(chunk); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(sub.Segments()); got != 3 {
		t.Fatalf("segments before close = %d, want 3", got)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	waitSession(t, session)

	segs := sub.Segments()
	if len(segs) != 4 {
		t.Fatalf("segments = %d, want 4", len(segs))
	}
	var joined []byte
	for i, seg := range segs {
		if len(seg)%PacketSize != 0 {
			t.Errorf("segment %d has %d bytes", i, len(seg))
		}
		joined = append(joined, seg...)
	}
	if len(segs[3]) != 2*188 {
		t.Errorf("last segment = %d bytes, want %d", len(segs[3]), 2*188)
	}
	if !bytes.Equal(joined, input[:len(input)-50]) {
		t.Error("segments do not reproduce the input")
	}

	st := session.Stats()
	if st.BytesReceived != int64(len(input)) || st.DroppedBytes != 50 || st.SegmentsSubmitted != 4 {
		t.Errorf("stats = %+v", st)
	}
}

// slicesOf yields consecutive chunks of b of at most n bytes.
func slicesOf(b []byte, n int) func(yield func([]byte) bool) {
	return func(yield func([]byte) bool) {
		for len(b) > 0 {
			c := min(n, len(b))
			if !yield(b[:c]) {
				return
			}
			b = b[c:]
		}
	}
}

func TestSessionDemuxesSegments(t *testing.T) {
	t.Parallel()

	stream := programStream()
	r := NewRegistry(newRecordingSubmitter(t), len(stream), nil)
	session, w, err := r.Register("live")
	if err != nil {
		t.Fatal(err)
	}
	session.SetRemoteAddr("192.168.1.1:5000")

	for range 2 {
		if _, err := w.Write(stream); err != nil {
			t.Fatal(err)
		}
	}
	waitSession(t, session)

	st := session.Stats()
	if st.SegmentsSubmitted != 2 || st.SegmentsSucceeded != 2 || st.SegmentsFailed != 0 {
		t.Fatalf("stats = %+v", st)
	}
	if st.RemoteAddr != "192.168.1.1:5000" {
		t.Errorf("RemoteAddr = %q", st.RemoteAddr)
	}
	if len(st.LastStreams) != 1 || st.LastStreams[0].Codec != "h264" || st.LastStreams[0].Packets != 2 {
		t.Errorf("last streams = %+v", st.LastStreams)
	}

	bad := bytes.Clone(stream)
	bad[2*PacketSize+3] |= 0x80
	if _, err := w.Write(bad); err != nil {
		t.Fatal(err)
	}
	waitSession(t, session)

	st = session.Stats()
	if st.SegmentsFailed != 1 || st.LastErrorCode != int(mpegts.CodeScrambled) {
		t.Errorf("after scrambled segment: stats = %+v", st)
	}
}

func TestSessionWriteAfterClose(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newRecordingSubmitter(t), 0, nil)
	_, w, err := r.Register("s1")
	if err != nil {
		t.Fatal(err)
	}
	r.Unregister("s1")

	if _, err := w.Write([]byte{0x47}); !errors.Is(err, io.ErrClosedPipe) {
		t.Fatalf("err = %v, want io.ErrClosedPipe", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
}

func TestSessionUptime(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newRecordingSubmitter(t), 0, nil)
	session, _, _ := r.Register("s1")

	// Sleep briefly to ensure uptime is measurable.
	time.Sleep(10 * time.Millisecond)

	st := session.Stats()
	if st.UptimeMs < 10 {
		t.Fatalf("UptimeMs = %d, expected at least 10", st.UptimeMs)
	}
	if st.ConnectedAt == 0 {
		t.Fatal("ConnectedAt is zero")
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := NewRegistry(newRecordingSubmitter(t), 0, nil)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("stream-%d", n)
			if _, w, err := r.Register(key); err == nil {
				w.Write(programStream())
			}
			r.Get(key)
			r.List()
			r.Unregister(key)
		}(i)
	}

	wg.Wait()
}
