package wipe

import (
	"time"

	"github.com/cockroachdb/errors"
)

// ErrCancelled marks a run stopped by the controller. The result is still
// returned alongside it.
var ErrCancelled = errors.New("wipe cancelled")

// WipeResult is the outcome of one wipe pass.
type WipeResult struct {
	Method       Method        `json:"method" yaml:"method"`
	Success      bool          `json:"success" yaml:"success"`
	Cancelled    bool          `json:"cancelled" yaml:"cancelled"`
	DiskFull     bool          `json:"disk_full" yaml:"disk_full"`
	BytesWritten uint64        `json:"bytes_written" yaml:"bytes_written"`
	FilesWritten uint64        `json:"files_written" yaml:"files_written"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
	SpeedMBps    float64       `json:"speed_mbps" yaml:"speed_mbps"`
	Error        string        `json:"error,omitempty" yaml:"error,omitempty"`
}

func (r *WipeResult) finish(start time.Time) {
	r.Duration = time.Since(start)
	if secs := r.Duration.Seconds(); secs > 0 {
		r.SpeedMBps = float64(r.BytesWritten) / (1024 * 1024) / secs
	}
}

// Fraction is written/total clamped to [0,1]. With an unknown total any
// progress counts as done.
func Fraction(written, total uint64) float64 {
	if total == 0 {
		if written > 0 {
			return 1
		}
		return 0
	}
	f := float64(written) / float64(total)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// ETA for the remaining bytes at rate bytes/sec; zero when unknown.
func ETA(written, total uint64, bytesPerSec float64) time.Duration {
	if bytesPerSec <= 0 || written >= total {
		return 0
	}
	secs := float64(total-written) / bytesPerSec
	return time.Duration(secs * float64(time.Second))
}
