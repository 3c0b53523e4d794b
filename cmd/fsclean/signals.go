package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"freespace_cleaner/internal/session"
	"freespace_cleaner/internal/ui"
)

// watchSignals maps SIGINT/SIGTERM to a bounded stop and SIGUSR1 to
// pause/resume. The returned channel yields the error of a stop that
// timed out.
func watchSignals(ctx context.Context, s *session.Session, console *ui.Console, joinTimeout time.Duration) <-chan error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	stopFailed := make(chan error, 1)

	go func() {
		defer signal.Stop(sigChan)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.Done():
				return
			case sig := <-sigChan:
				if sig == syscall.SIGUSR1 {
					if s.TogglePause() {
						console.Warn("paused, send SIGUSR1 again to resume")
					} else {
						console.Warn("resumed")
					}
					continue
				}

				logger.Log("WARN", "Signal received, stopping", "signal", sig.String())
				console.Warn("stopping, removing filler files...")
				go func() {
					if err := s.Stop(stopTimeout(joinTimeout)); err != nil {
						select {
						case stopFailed <- err:
						default:
						}
					}
				}()
			}
		}
	}()

	return stopFailed
}

func isTerminal(f *os.File) bool {
	_, err := unix.IoctlGetTermios(int(f.Fd()), unix.TCGETS)
	return err == nil
}
