package metadata

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"freespace_cleaner/internal/config"
	"freespace_cleaner/internal/control"
	"freespace_cleaner/internal/events"
	"freespace_cleaner/internal/logging"
	"freespace_cleaner/internal/system"
)

var (
	ErrCancelled     = errors.New("metadata clean cancelled")
	ErrTooManyErrors = errors.New("too many consecutive file errors")
	ErrMediaFailure  = errors.New("media failure during metadata clean")
)

var fillerHeader = []byte("FREESPACE-CLEANER METADATA FILLER\n")

const (
	fillerNameLength = 240
	fillerNameStem   = "metadata_filler_"
)

// FSKind groups filesystem type names by metadata layout.
type FSKind int

const (
	FSOther FSKind = iota
	FSNTFS
	FSExFAT
)

// KindOf maps a filesystem type name. An unresolved fuseblk is taken to be
// ntfs-3g; system.Prober replaces it with the blkid type when it can.
func KindOf(fstype string) FSKind {
	switch strings.ToLower(fstype) {
	case "ntfs", "ntfs3", "ntfs-3g", "fuseblk":
		return FSNTFS
	case "exfat":
		return FSExFAT
	default:
		return FSOther
	}
}

func (k FSKind) String() string {
	switch k {
	case FSNTFS:
		return "ntfs"
	case FSExFAT:
		return "exfat"
	default:
		return "other"
	}
}

type CleanerOptions struct {
	WorkDirPrefix        string
	RetryAttempts        int
	RetryDelay           time.Duration
	RateLimitPerSec      float64
	ProgressEvery        int
	EntrySize            int
	ExfatFinalRatio      float64
	MaxConsecutiveErrors int
	PauseInterval        time.Duration
}

func CleanerOptionsFromConfig(cfg *config.Config) CleanerOptions {
	return CleanerOptions{
		WorkDirPrefix:        cfg.Wipe.WorkDirName + "_meta_",
		RetryAttempts:        cfg.Metadata.RetryAttempts,
		RetryDelay:           cfg.Metadata.RetryDelay,
		RateLimitPerSec:      cfg.Metadata.RateLimitPerSec,
		ProgressEvery:        cfg.Metadata.ProgressEvery,
		EntrySize:            cfg.Metadata.EntrySize,
		ExfatFinalRatio:      cfg.Metadata.ExfatFinalRatio,
		MaxConsecutiveErrors: cfg.Metadata.MaxConsecutiveErrors,
		PauseInterval:        cfg.Wipe.PauseInterval,
	}
}

// CleanResult summarises one Clean call. Cleaned is false whenever metadata
// cleaning was skipped or cut short; that never aborts a session.
type CleanResult struct {
	Cleaned      bool          `json:"cleaned" yaml:"cleaned"`
	MountPoint   string        `json:"mount_point" yaml:"mount_point"`
	FSType       string        `json:"fs_type" yaml:"fs_type"`
	Target       int           `json:"target" yaml:"target"`
	FilesCreated int           `json:"files_created" yaml:"files_created"`
	FilesRemoved int           `json:"files_removed" yaml:"files_removed"`
	DiskFull     bool          `json:"disk_full" yaml:"disk_full"`
	MediaFailure bool          `json:"media_failure" yaml:"media_failure"`
	Cancelled    bool          `json:"cancelled" yaml:"cancelled"`
	Reason       string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Scan         *ScanResult   `json:"scan,omitempty" yaml:"scan,omitempty"`
	Duration     time.Duration `json:"duration" yaml:"duration"`
}

// Cleaner overwrites slack metadata by creating and deleting filler files.
type Cleaner struct {
	opts    CleanerOptions
	policy  TargetPolicy
	scanner *Scanner
	logger  *logging.EnterpriseLogger

	probe      func(dir string) error
	createFile func(path string, data []byte) error
	removeFile func(path string) error
}

func NewCleaner(opts CleanerOptions, policy TargetPolicy, scanner *Scanner, logger *logging.EnterpriseLogger) *Cleaner {
	return &Cleaner{
		opts:       opts,
		policy:     policy,
		scanner:    scanner,
		logger:     logger,
		probe:      probeWritable,
		createFile: writeFiller,
		removeFile: os.Remove,
	}
}

func writeFiller(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		// Keep the partial file on disk; the caller tracks and removes it.
		return err
	}
	return f.Close()
}

// churnState is shared by the phases of one Clean call.
type churnState struct {
	ctx     context.Context
	ctl     control.State
	sink    events.Sink
	drive   system.DriveInfo
	dir     string
	content []byte
	limiter *rate.Limiter
	result  *CleanResult

	tracked   []string
	seq       int
	doneSteps int
	allSteps  int
	start     time.Time
}

// Clean runs the churn for the drive's filesystem. The returned error is
// ErrCancelled on cancellation and nil otherwise; skips and media failures
// are reported in the result and as MetadataCleanFailure events.
func (c *Cleaner) Clean(ctx context.Context, drive system.DriveInfo, ctl control.State, sink events.Sink) (*CleanResult, error) {
	if ctl == nil {
		ctl = control.None
	}
	if sink == nil {
		sink = events.Discard
	}
	start := time.Now()
	res := &CleanResult{MountPoint: drive.MountPoint, FSType: drive.FSType}
	defer func() { res.Duration = time.Since(start) }()

	kind := KindOf(drive.FSType)
	if kind == FSOther {
		c.fail(sink, res, fmt.Sprintf("unsupported filesystem %q", drive.FSType))
		return res, nil
	}

	if kind == FSNTFS && c.scanner != nil {
		res.Scan = c.scanner.Scan(ctx, drive.MountPoint, sink)
	}
	if control.Stopped(ctx, ctl) {
		res.Cancelled = true
		return res, ErrCancelled
	}
	res.Target = c.policy.TargetCount(res.Scan, drive.TotalBytes)

	dir, err := c.createWorkDir(ctx, drive.MountPoint)
	if err != nil {
		if control.Stopped(ctx, ctl) {
			res.Cancelled = true
			return res, ErrCancelled
		}
		c.logger.Log("ERROR", "Skipping metadata clean", "mount", drive.MountPoint, "error", err)
		c.fail(sink, res, "could not create a writable work directory: "+err.Error())
		return res, nil
	}

	st := &churnState{
		ctx:     ctx,
		ctl:     ctl,
		sink:    sink,
		drive:   drive,
		dir:     dir,
		content: c.fillerContent(res.Scan),
		result:  res,
		start:   start,
	}
	if drive.DriveType.Throttled() && c.opts.RateLimitPerSec > 0 {
		st.limiter = rate.NewLimiter(rate.Limit(c.opts.RateLimitPerSec), 1)
	}
	defer c.cleanup(st)

	c.logger.Log("INFO", "Starting metadata clean", "mount", drive.MountPoint, "fs", kind.String(),
		"target", res.Target, "drive_type", drive.DriveType, "rate_limited", st.limiter != nil)

	switch kind {
	case FSExFAT:
		err = c.cleanExfat(st)
	default:
		st.allSteps = res.Target
		err = c.churn(st, res.Target)
	}

	switch {
	case errors.Is(err, ErrCancelled):
		res.Cancelled = true
		return res, ErrCancelled
	case errors.Is(err, ErrMediaFailure):
		res.MediaFailure = true
		c.fail(sink, res, err.Error())
		return res, nil
	case err != nil:
		c.fail(sink, res, err.Error())
		return res, nil
	}

	res.Cleaned = true
	c.emitProgress(st)
	c.logger.Log("INFO", "Metadata clean finished", "mount", drive.MountPoint,
		"files", res.FilesCreated, "disk_full", res.DiskFull, "elapsed", time.Since(start))
	return res, nil
}

func (c *Cleaner) fail(sink events.Sink, res *CleanResult, reason string) {
	res.Cleaned = false
	res.Reason = reason
	sink.Emit(events.MetadataCleanFailure{MountPoint: res.MountPoint, Reason: reason})
}

// fillerContent is the header plus one MFT entry's worth of bytes.
func (c *Cleaner) fillerContent(scan *ScanResult) []byte {
	size := c.opts.EntrySize
	if scan != nil && scan.EntrySize > 0 {
		size = int(scan.EntrySize)
	}
	return append(bytes.Clone(fillerHeader), make([]byte, size)...)
}

// fillerName is a fixed-length name so each file occupies the most
// directory and index space the filesystem allows.
func fillerName(seq int) string {
	suffix := fmt.Sprintf("_%010d", seq)
	pad := fillerNameLength - len(suffix)
	prefix := strings.Repeat(fillerNameStem, pad/len(fillerNameStem)+1)[:pad]
	return prefix + suffix
}

// churn creates count filler files. Disk full ends the phase successfully.
func (c *Cleaner) churn(st *churnState, count int) error {
	every := c.opts.ProgressEvery
	if every <= 0 {
		every = 50
	}
	consecutive := 0

	for i := 0; i < count; i++ {
		if st.ctl.Paused() {
			st.sink.Emit(events.PhaseChange{Phase: events.PhasePaused})
			if !control.WaitWhilePaused(st.ctx, st.ctl, c.opts.PauseInterval) {
				return ErrCancelled
			}
			st.sink.Emit(events.PhaseChange{Phase: events.PhaseCleaningMetadata})
		}
		if control.Stopped(st.ctx, st.ctl) {
			return ErrCancelled
		}
		if st.limiter != nil {
			if err := st.limiter.Wait(st.ctx); err != nil {
				return ErrCancelled
			}
		}

		path := filepath.Join(st.dir, fillerName(st.seq))
		st.seq++
		err := c.createFile(path, st.content)
		if err == nil || !os.IsNotExist(err) {
			// Partially written files still occupy entries.
			st.tracked = append(st.tracked, path)
		}
		st.doneSteps++

		switch {
		case err == nil:
			st.result.FilesCreated++
			consecutive = 0
		case system.IsDiskFullError(err):
			st.result.DiskFull = true
			c.logger.Log("INFO", "Volume full during metadata churn", "mount", st.drive.MountPoint,
				"files", st.result.FilesCreated)
			return nil
		case system.IsMediaError(err):
			c.logger.Log("ERROR", "Media failure during metadata churn", "mount", st.drive.MountPoint, "error", err)
			return errors.Mark(errors.Wrap(err, "create filler"), ErrMediaFailure)
		default:
			consecutive++
			c.logger.Log("WARN", "Filler file failed", "path", path, "error", err)
			if c.opts.MaxConsecutiveErrors > 0 && consecutive >= c.opts.MaxConsecutiveErrors {
				return errors.Mark(errors.Wrapf(err, "%d consecutive failures", consecutive), ErrTooManyErrors)
			}
		}

		if st.doneSteps%every == 0 {
			c.emitProgress(st)
		}
	}
	return nil
}

func (c *Cleaner) emitProgress(st *churnState) {
	elapsed := time.Since(st.start).Seconds()
	var perSec float64
	if elapsed > 0 {
		perSec = float64(st.doneSteps) / elapsed
	}
	var eta time.Duration
	if perSec > 0 && st.allSteps > st.doneSteps {
		eta = time.Duration(float64(st.allSteps-st.doneSteps) / perSec * float64(time.Second))
	}
	fraction := 1.0
	if st.allSteps > 0 {
		fraction = min(1.0, float64(st.doneSteps)/float64(st.allSteps))
	}
	st.sink.Emit(events.Progress{
		Phase:        events.PhaseCleaningMetadata,
		Fraction:     fraction,
		Rate:         perSec,
		RateUnit:     "files/s",
		ETA:          eta,
		FilesWritten: uint64(st.result.FilesCreated),
	})
}

// removeTracked deletes every tracked file, continuing past failures.
// Files that could not be removed stay tracked.
func (c *Cleaner) removeTracked(st *churnState) error {
	var result *multierror.Error
	var left []string
	for _, path := range st.tracked {
		err := c.removeFile(path)
		switch {
		case err == nil:
			st.result.FilesRemoved++
		case os.IsNotExist(err):
		default:
			result = multierror.Append(result, err)
			left = append(left, path)
		}
	}
	st.tracked = left
	return result.ErrorOrNil()
}

// cleanup runs on every exit path of Clean, including panics.
func (c *Cleaner) cleanup(st *churnState) {
	if err := c.removeTracked(st); err != nil {
		c.logger.Log("WARN", "Some filler files could not be removed", "dir", st.dir, "error", err)
	}
	if err := os.Remove(st.dir); err != nil && !os.IsNotExist(err) {
		if err := os.RemoveAll(st.dir); err != nil {
			c.logger.Log("ERROR", "Failed to remove metadata work directory", "dir", st.dir, "error", err)
			return
		}
	}
	c.logger.Log("DEBUG", "Metadata work directory removed", "dir", st.dir, "files_removed", st.result.FilesRemoved)
}
