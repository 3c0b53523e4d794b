package control

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTogglePause(t *testing.T) {
	var f Flags
	assert.True(t, f.TogglePause())
	assert.True(t, f.Paused())
	assert.False(t, f.TogglePause())
	assert.False(t, f.Paused())
}

func TestWaitWhilePausedReturnsOnResume(t *testing.T) {
	var f Flags
	f.Pause()
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Resume()
	}()
	assert.True(t, WaitWhilePaused(context.Background(), &f, 5*time.Millisecond))
}

func TestWaitWhilePausedStopsOnCancel(t *testing.T) {
	var f Flags
	f.Pause()
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Cancel()
	}()
	assert.False(t, WaitWhilePaused(context.Background(), &f, 5*time.Millisecond))
}

func TestSleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Sleep(ctx, None, time.Hour))
	assert.True(t, Sleep(context.Background(), None, 0))
	assert.True(t, Sleep(context.Background(), None, time.Millisecond))
}
