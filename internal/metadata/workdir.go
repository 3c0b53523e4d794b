package metadata

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ErrWorkDirUnavailable means no writable work directory could be created
// within the retry budget.
var ErrWorkDirUnavailable = errors.New("metadata work directory unavailable")

const probeName = ".probe"

// probeWritable writes and deletes a small file in dir. Failing media can
// report a successful mkdir for a directory that is not actually writable.
func probeWritable(dir string) error {
	path := filepath.Join(dir, probeName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return errors.Wrap(err, "create probe file")
	}
	if _, err := f.Write([]byte("probe")); err != nil {
		f.Close()
		os.Remove(path)
		return errors.Wrap(err, "write probe file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return errors.Wrap(err, "sync probe file")
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return errors.Wrap(err, "close probe file")
	}
	if err := os.Remove(path); err != nil {
		return errors.Wrap(err, "remove probe file")
	}
	return nil
}

// createWorkDir makes a randomly named directory under mountPoint and proves
// it writable, retrying with exponential backoff.
func (c *Cleaner) createWorkDir(ctx context.Context, mountPoint string) (string, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.RetryDelay
	eb.MaxInterval = 10 * c.opts.RetryDelay
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := c.opts.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)

	var dir string
	attempt := 0
	op := func() error {
		attempt++
		candidate := filepath.Join(mountPoint, c.opts.WorkDirPrefix+uuid.NewString()[:13])
		if err := os.Mkdir(candidate, 0700); err != nil {
			return errors.Wrapf(err, "create %s", candidate)
		}
		if err := c.probe(candidate); err != nil {
			_ = os.RemoveAll(candidate)
			return errors.Wrapf(err, "probe %s", candidate)
		}
		dir = candidate
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Log("WARN", "Work directory attempt failed", "mount", mountPoint,
			"attempt", attempt, "retry_in", wait, "error", err)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "after %d attempts", attempt), ErrWorkDirUnavailable)
	}
	return dir, nil
}
