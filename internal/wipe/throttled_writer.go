package wipe

import (
	"context"
	"io"
	"sync"

	"golang.org/x/time/rate"
)

const throttleBurst = 1024 * 1024 // 1MB

// ThrottledWriter limits write throughput. Safe for concurrent use.
// A zero or negative speed disables throttling.
type ThrottledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
	mu      sync.Mutex
	closed  bool
}

// NewThrottledWriter wraps w with a limit in MB/s.
func NewThrottledWriter(ctx context.Context, w io.Writer, maxSpeedMBps float64) *ThrottledWriter {
	tw := &ThrottledWriter{ctx: ctx, w: w}
	if maxSpeedMBps > 0 {
		bytesPerSec := maxSpeedMBps * 1024 * 1024
		tw.limiter = rate.NewLimiter(rate.Limit(bytesPerSec), throttleBurst)
	}
	return tw
}

// Write blocks until the token bucket admits the data. Waiting is aborted
// when the writer's context is cancelled.
func (tw *ThrottledWriter) Write(data []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return 0, io.ErrClosedPipe
	}
	if tw.limiter == nil {
		return tw.w.Write(data)
	}

	written := 0
	for written < len(data) {
		end := written + throttleBurst
		if end > len(data) {
			end = len(data)
		}
		if err := tw.limiter.WaitN(tw.ctx, end-written); err != nil {
			return written, err
		}
		n, err := tw.w.Write(data[written:end])
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// Limited reports whether a limit is active.
func (tw *ThrottledWriter) Limited() bool {
	return tw.limiter != nil
}

// Close detaches the writer; the underlying file stays owned by the caller.
func (tw *ThrottledWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.closed = true
	return nil
}
