package control

import (
	"context"
	"sync/atomic"
	"time"
)

// Flags are the pause/cancel switches shared between the controlling
// goroutine and a worker. All access is atomic.
type Flags struct {
	running   atomic.Bool
	paused    atomic.Bool
	cancelled atomic.Bool
}

func (f *Flags) SetRunning(v bool) { f.running.Store(v) }
func (f *Flags) Running() bool     { return f.running.Load() }

func (f *Flags) Pause()  { f.paused.Store(true) }
func (f *Flags) Resume() { f.paused.Store(false) }

// TogglePause flips the paused flag and returns the new value.
func (f *Flags) TogglePause() bool {
	for {
		old := f.paused.Load()
		if f.paused.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

func (f *Flags) Paused() bool { return f.paused.Load() }

func (f *Flags) Cancel()         { f.cancelled.Store(true) }
func (f *Flags) Cancelled() bool { return f.cancelled.Load() }

// State is what a worker polls between units of work.
type State interface {
	Paused() bool
	Cancelled() bool
}

// None is a State that is never paused or cancelled.
var None State = none{}

type none struct{}

func (none) Paused() bool    { return false }
func (none) Cancelled() bool { return false }

// Stopped reports whether the worker should stop before its next unit of work.
func Stopped(ctx context.Context, st State) bool {
	return st.Cancelled() || ctx.Err() != nil
}

// WaitWhilePaused polls every interval while st is paused. It returns false
// when the wait ended because of cancellation.
func WaitWhilePaused(ctx context.Context, st State, interval time.Duration) bool {
	for st.Paused() {
		if Stopped(ctx, st) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(interval):
		}
	}
	return !Stopped(ctx, st)
}

// Sleep waits for d unless ctx or st cancels first.
func Sleep(ctx context.Context, st State, d time.Duration) bool {
	if d <= 0 {
		return !Stopped(ctx, st)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return !Stopped(ctx, st)
	}
}
