// Package jobs runs demux passes on a bounded pool of worker goroutines.
// Each submitted buffer becomes one job with its own id and exactly one
// completion, successful or not.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tsdemux/internal/mpegts"
)

// ErrClosed is the error of a job submitted after the pool was closed.
var ErrClosed = &mpegts.Error{Code: mpegts.CodePoolClosed}

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Workers bounds the number of passes running at once. Defaults to 1.
	Workers int
	// QueueSize is the number of submitted jobs that may wait for a
	// worker before Submit blocks. Defaults to 4*Workers.
	QueueSize int
	Log       *slog.Logger
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Workers    int   `json:"workers"`
	QueueDepth int   `json:"queueDepth"`
	Submitted  int64 `json:"submitted"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
	Pending    int64 `json:"pending"`
}

// Pool runs jobs on at most Workers goroutines. Jobs may be submitted
// before Run is called; they wait in the queue.
type Pool struct {
	log     *slog.Logger
	workers int

	queue   chan *Job
	running atomic.Bool

	// mu guards closed and serializes Close against Submit sends.
	mu      sync.RWMutex
	closed  bool
	pending sync.Map // uint64 -> *Job

	nextID    atomic.Uint64
	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// NewPool creates a Pool. If cfg.Log is nil, slog.Default() is used.
func NewPool(cfg PoolConfig) *Pool {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	workers := max(cfg.Workers, 1)
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4 * workers
	}
	return &Pool{
		log:     log.With("component", "jobs"),
		workers: workers,
		queue:   make(chan *Job, queueSize),
	}
}

// Submit queues a demux pass over buf[offset:offset+length] and returns its
// job. Ownership of buf passes to the pool: the caller must not modify it
// afterwards, since results alias it. Submit blocks while the queue is
// full. After Close the job completes immediately with ErrClosed.
func (p *Pool) Submit(buf []byte, offset, length int) *Job {
	j := &Job{
		id:     p.nextID.Add(1),
		buf:    buf,
		offset: offset,
		length: length,
		queued: time.Now(),
		done:   make(chan struct{}),
	}
	p.submitted.Add(1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		p.complete(j, nil, ErrClosed)
		return j
	}
	p.pending.Store(j.id, j)
	p.inFlight.Add(1)
	p.queue <- j
	p.mu.RUnlock()

	p.log.Debug("job submitted", "job", j.id, "bytes", length)
	return j
}

// Close stops accepting jobs. Jobs already queued still run. Close is
// idempotent.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// Run starts the workers and blocks until the pool is closed, either by
// Close or by ctx being done, and every queued job has completed. Run may
// only be called once.
func (p *Pool) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return errors.New("jobs: pool already running")
	}
	stop := context.AfterFunc(ctx, p.Close)
	defer stop()

	p.log.Info("worker pool started", "workers", p.workers, "queue", cap(p.queue))

	var g errgroup.Group
	g.SetLimit(p.workers)
	for j := range p.queue {
		g.Go(func() error {
			p.process(j)
			return nil
		})
	}
	err := g.Wait()

	p.log.Info("worker pool stopped",
		"succeeded", p.succeeded.Load(),
		"failed", p.failed.Load(),
	)
	return err
}

func (p *Pool) process(j *Job) {
	start := time.Now()
	res, err := mpegts.Demux(j.buf, j.offset, j.length)
	j.buf = nil

	if err != nil {
		p.log.Warn("demux failed",
			"job", j.id,
			"code", int(mpegts.CodeOf(err)),
			"error", err,
		)
	} else {
		p.log.Debug("demux done",
			"job", j.id,
			"streams", len(res.Streams),
			"queued", start.Sub(j.queued),
			"took", time.Since(start),
		)
	}

	p.pending.Delete(j.id)
	p.inFlight.Add(-1)
	p.complete(j, res, err)
}

func (p *Pool) complete(j *Job, res *mpegts.Result, err error) {
	if err != nil {
		p.failed.Add(1)
	} else {
		p.succeeded.Add(1)
	}
	j.res, j.err = res, err
	close(j.done)
}

// Pending returns the ids of jobs that were accepted but have not
// completed, in ascending order.
func (p *Pool) Pending() []uint64 {
	var ids []uint64
	p.pending.Range(func(k, _ any) bool {
		ids = append(ids, k.(uint64))
		return true
	})
	slices.Sort(ids)
	return ids
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:    p.workers,
		QueueDepth: len(p.queue),
		Submitted:  p.submitted.Load(),
		Succeeded:  p.succeeded.Load(),
		Failed:     p.failed.Load(),
		Pending:    p.inFlight.Load(),
	}
}
