package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/zsiec/tsdemux/internal/mpegts"
)

// ErrPending is returned by Result while the job has not completed.
var ErrPending = errors.New("jobs: job pending")

// Job is one demux pass. It completes exactly once.
type Job struct {
	id     uint64
	buf    []byte
	offset int
	length int
	queued time.Time

	done chan struct{}
	res  *mpegts.Result
	err  error
}

// ID returns the job id. Ids are assigned in submission order starting
// at 1.
func (j *Job) ID() uint64 {
	return j.id
}

// Done returns a channel that is closed when the job completes.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job completes or ctx is done. ctx only bounds the
// wait; the job keeps running. A failed pass returns an *mpegts.Error.
func (j *Job) Wait(ctx context.Context) (*mpegts.Result, error) {
	select {
	case <-j.done:
		return j.res, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Result returns the outcome of the job without blocking, or ErrPending if
// it has not completed yet.
func (j *Job) Result() (*mpegts.Result, error) {
	select {
	case <-j.done:
		return j.res, j.err
	default:
		return nil, ErrPending
	}
}
