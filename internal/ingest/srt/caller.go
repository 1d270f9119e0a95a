package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/tsdemux/internal/ingest"
)

// dialTimeout bounds how long Pull waits for the remote listener.
const dialTimeout = 10 * time.Second

// PullRequest describes a remote SRT source to pull from.
type PullRequest struct {
	Address   string `json:"address"`
	StreamKey string `json:"streamKey"`
	StreamID  string `json:"streamId,omitempty"`
}

// Validate checks the required fields of r.
func (r PullRequest) Validate() error {
	if r.Address == "" {
		return errors.New("srt: address is required")
	}
	if r.StreamKey == "" {
		return errors.New("srt: streamKey is required")
	}
	return nil
}

// streamID returns the SRT stream id to announce, defaulting to
// "live/<key>".
func (r PullRequest) streamID() string {
	if r.StreamID != "" {
		return r.StreamID
	}
	return "live/" + r.StreamKey
}

type activePull struct {
	req    PullRequest
	cancel context.CancelFunc
}

// Caller pulls transport streams from remote SRT listeners into the ingest
// registry. At most one pull runs per stream key.
type Caller struct {
	log      *slog.Logger
	registry *ingest.Registry

	mu    sync.Mutex
	pulls map[string]*activePull
}

// NewCaller creates a Caller that registers pulled streams with registry.
// If log is nil, slog.Default() is used.
func NewCaller(registry *ingest.Registry, log *slog.Logger) *Caller {
	if log == nil {
		log = slog.Default()
	}
	return &Caller{
		log:      log.With("component", "srt-caller"),
		registry: registry,
		pulls:    make(map[string]*activePull),
	}
}

// claim reserves streamKey for a pull. The returned context is cancelled
// by Stop.
func (c *Caller) claim(ctx context.Context, req PullRequest) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pulls[req.StreamKey]; ok {
		return nil, fmt.Errorf("srt: pull already active for stream key %q", req.StreamKey)
	}
	pullCtx, cancel := context.WithCancel(ctx)
	c.pulls[req.StreamKey] = &activePull{req: req, cancel: cancel}
	return pullCtx, nil
}

// release frees streamKey and cancels its pull context.
func (c *Caller) release(streamKey string) {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	delete(c.pulls, streamKey)
	c.mu.Unlock()
	if ok {
		ap.cancel()
	}
}

// Pull dials the remote SRT listener and returns once the connection is up
// or has failed. Streaming continues in the background until the remote
// stops sending, Stop is called or ctx is cancelled.
func (c *Caller) Pull(ctx context.Context, req PullRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	pullCtx, err := c.claim(ctx, req)
	if err != nil {
		return err
	}

	c.log.Info("dialing", "address", req.Address, "stream_key", req.StreamKey)
	conn, err := dial(pullCtx, req)
	if err != nil {
		c.release(req.StreamKey)
		return err
	}

	f, err := attach(c.registry, req.StreamKey, req.Address, conn, c.log)
	if err != nil {
		c.release(req.StreamKey)
		conn.Close()
		return err
	}
	c.log.Info("connected", "address", req.Address, "stream_key", req.StreamKey)

	go func() {
		defer c.release(req.StreamKey)
		f.run(pullCtx)
	}()
	return nil
}

// dial connects to req.Address within dialTimeout. A connection that
// completes after dial gave up is closed.
func dial(ctx context.Context, req PullRequest) (*srtgo.Conn, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = latencyNs
	cfg.StreamID = req.streamID()

	type result struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := srtgo.Dial(req.Address, cfg)
		ch <- result{conn, err}
	}()

	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("srt: dial %s: %w", req.Address, res.err)
		}
		return res.conn, nil
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("srt: dial %s timed out after %s", req.Address, dialTimeout)
		}
		return nil, ctx.Err()
	}
}

// Stop cancels the active pull for streamKey. The pull's session is
// unregistered once its connection has closed.
func (c *Caller) Stop(streamKey string) error {
	c.mu.Lock()
	ap, ok := c.pulls[streamKey]
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("srt: no active pull for stream key %q", streamKey)
	}
	ap.cancel()
	return nil
}

// ActivePulls returns the active pulls ordered by stream key.
func (c *Caller) ActivePulls() []PullRequest {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PullRequest, 0, len(c.pulls))
	for _, k := range slices.Sorted(maps.Keys(c.pulls)) {
		out = append(out, c.pulls[k].req)
	}
	return out
}
