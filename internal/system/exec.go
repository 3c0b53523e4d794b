package system

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"freespace_cleaner/internal/logging"
)

// ErrCommandTimeout is returned when a command outlives its timeout.
var ErrCommandTimeout = errors.New("command timed out")

// Runner executes external tools. Implementations return stdout even when
// the command fails, so callers can salvage partial output.
type Runner interface {
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)
}

// ExecRunner runs real processes without a shell.
type ExecRunner struct {
	Logger *logging.EnterpriseLogger
}

func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	rc := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		rc, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmdStr := name + " " + strings.Join(args, " ")
	r.Logger.Log("DEBUG", "Starting command", "command", cmdStr, "timeout", timeout)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(rc, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	if err != nil {
		if rc.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			r.Logger.Log("WARN", "Command timed out", "command", cmdStr, "elapsed", time.Since(start))
			return stdout.Bytes(), errors.Wrapf(ErrCommandTimeout, "%s after %s", name, timeout)
		}
		r.Logger.Log("WARN", "Command failed", "command", cmdStr, "error", err,
			"stderr", strings.TrimSpace(stderr.String()))
		return stdout.Bytes(), errors.Wrapf(err, "%s failed", name)
	}

	r.Logger.Log("DEBUG", "Command finished", "command", cmdStr, "elapsed", time.Since(start), "bytes", stdout.Len())
	return stdout.Bytes(), nil
}
