package wipe

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"freespace_cleaner/internal/config"
	"freespace_cleaner/internal/control"
	"freespace_cleaner/internal/events"
	"freespace_cleaner/internal/logging"
	"freespace_cleaner/internal/system"
)

// Options are the engine's tunables, normally taken from config.
type Options struct {
	ChunkSize        int64
	MaxFileSize      int64
	WorkDirName      string
	ProgressInterval time.Duration
	SpaceInterval    time.Duration
	PauseInterval    time.Duration
	// MaxSpeedMBps limits writes to rotational and USB media. Zero is unlimited.
	MaxSpeedMBps float64
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunkSize:        cfg.Wipe.ChunkSize,
		MaxFileSize:      cfg.Wipe.MaxFileSize,
		WorkDirName:      cfg.Wipe.WorkDirName,
		ProgressInterval: cfg.Wipe.ProgressInterval,
		SpaceInterval:    cfg.Wipe.SpaceInterval,
		PauseInterval:    cfg.Wipe.PauseInterval,
		MaxSpeedMBps:     cfg.Wipe.MaxSpeedMBpsExternal,
	}
}

// WipeFile is what the engine writes filler data to.
type WipeFile interface {
	io.Writer
	io.Closer
	Sync() error
}

type (
	fileOpener func(path string) (WipeFile, error)
	usageFunc  func(path string) (free, total uint64, err error)
)

func openFile(path string) (WipeFile, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
}

// Engine fills a volume's free space with pattern files, then removes them.
type Engine struct {
	opts   Options
	logger *logging.EnterpriseLogger
	gen    *PatternGenerator

	open  fileOpener
	usage usageFunc
}

func NewEngine(opts Options, gen *PatternGenerator, logger *logging.EnterpriseLogger) *Engine {
	if gen == nil {
		gen = NewPatternGenerator()
	}
	return &Engine{
		opts:   opts,
		logger: logger,
		gen:    gen,
		open:   openFile,
		usage:  system.DiskUsage,
	}
}

// run is the state of one Engine.Run call.
type run struct {
	e      *Engine
	ctx    context.Context
	drive  system.DriveInfo
	method Method
	ctl    control.State
	sink   events.Sink

	workDir    string
	target     uint64
	result     *WipeResult
	start      time.Time
	lastTick   time.Time
	lastBytes  uint64
	lastSpace  time.Time
	throttleMB float64
}

// Run writes pattern files under the drive's work directory until the
// volume is full, the controller cancels, or a non-space error occurs.
// The work directory it creates is removed on every exit path. Disk full is success.
func (e *Engine) Run(ctx context.Context, drive system.DriveInfo, method Method, ctl control.State, sink events.Sink) (*WipeResult, error) {
	if ctl == nil {
		ctl = control.None
	}
	if sink == nil {
		sink = events.Discard
	}
	if e.opts.ChunkSize <= 0 || e.opts.MaxFileSize < e.opts.ChunkSize {
		return nil, errors.Newf("invalid chunk/file size %d/%d", e.opts.ChunkSize, e.opts.MaxFileSize)
	}

	r := &run{
		e:      e,
		ctx:    ctx,
		drive:  drive,
		method: method,
		ctl:    ctl,
		sink:   sink,
		result: &WipeResult{Method: method},
		start:  time.Now(),
	}
	r.lastTick, r.lastSpace = r.start, r.start
	if drive.DriveType.Throttled() {
		r.throttleMB = e.opts.MaxSpeedMBps
	}

	r.target = drive.FreeBytes
	if r.target == 0 {
		if free, _, uerr := e.usage(drive.MountPoint); uerr == nil {
			r.target = free
		}
	}

	// Each run owns a freshly created directory; only that one is removed.
	r.workDir = filepath.Join(drive.MountPoint, e.opts.WorkDirName+"_"+uuid.NewString()[:13])
	if err := os.Mkdir(r.workDir, 0700); err != nil {
		if system.IsDiskFullError(err) {
			r.result.Success, r.result.DiskFull = true, true
			r.result.finish(r.start)
			return r.result, nil
		}
		return nil, errors.Wrapf(err, "create work directory %s", r.workDir)
	}
	defer func() {
		if rmErr := os.RemoveAll(r.workDir); rmErr != nil {
			e.logger.Log("ERROR", "Failed to remove work directory", "dir", r.workDir, "error", rmErr)
		}
	}()

	e.logger.Log("INFO", "Starting free space wipe", "mount", drive.MountPoint, "method", method,
		"free_bytes", r.target, "drive_type", drive.DriveType, "throttle_mbps", r.throttleMB)

	err := r.loop()
	r.result.finish(r.start)
	r.emitProgress()

	switch {
	case err == nil:
		r.result.Success = true
		e.logger.Log("INFO", "Free space wipe finished", "mount", drive.MountPoint,
			"bytes_written", r.result.BytesWritten, "files", r.result.FilesWritten,
			"duration", r.result.Duration, "speed_mbps", r.result.SpeedMBps)
		return r.result, nil
	case errors.Is(err, ErrCancelled):
		r.result.Cancelled = true
		e.logger.Log("INFO", "Free space wipe cancelled", "mount", drive.MountPoint,
			"bytes_written", r.result.BytesWritten)
		return r.result, err
	default:
		r.result.Error = err.Error()
		e.logger.Log("ERROR", "Free space wipe failed", "mount", drive.MountPoint, "error", err)
		return r.result, err
	}
}

func (r *run) loop() error {
	chunkSize := int(r.e.opts.ChunkSize)
	buf := GetBuffer(chunkSize)
	defer PutBuffer(buf)
	if r.method != MethodRandom {
		if err := r.e.gen.Fill(r.method, buf); err != nil {
			return err
		}
	}

	for {
		if r.stopped() {
			return ErrCancelled
		}
		done, err := r.writeFile(buf)
		if err != nil || done {
			return err
		}
	}
}

func (r *run) stopped() bool {
	return control.Stopped(r.ctx, r.ctl)
}

// writeFile fills one file up to MaxFileSize. done is true once the volume is full.
func (r *run) writeFile(buf []byte) (done bool, err error) {
	path := filepath.Join(r.workDir, r.e.gen.RandomFilename())
	f, err := r.e.open(path)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		if system.IsDiskFullError(err) {
			r.result.DiskFull = true
			return true, nil
		}
		return false, errors.Wrapf(err, "create %s", path)
	}
	defer f.Close()

	w := io.Writer(f)
	if r.throttleMB > 0 {
		tw := NewThrottledWriter(r.ctx, f, r.throttleMB)
		defer tw.Close()
		w = tw
	}

	var fileBytes int64
	for fileBytes < r.e.opts.MaxFileSize {
		if r.ctl.Paused() {
			r.sink.Emit(events.PhaseChange{Phase: events.PhasePaused})
			if !control.WaitWhilePaused(r.ctx, r.ctl, r.e.opts.PauseInterval) {
				return false, ErrCancelled
			}
			r.sink.Emit(events.PhaseChange{Phase: events.PhaseWiping})
		}
		if r.stopped() {
			return false, ErrCancelled
		}

		chunk := buf
		if rest := r.e.opts.MaxFileSize - fileBytes; rest < int64(len(chunk)) {
			chunk = chunk[:rest]
		}
		if r.method == MethodRandom {
			_ = r.e.gen.Fill(MethodRandom, chunk)
		}

		n, werr := w.Write(chunk)
		fileBytes += int64(n)
		r.result.BytesWritten += uint64(n)
		r.tick()

		if werr != nil {
			if system.IsDiskFullError(werr) {
				r.result.DiskFull = true
				r.result.FilesWritten++
				return true, nil
			}
			if r.stopped() {
				return false, ErrCancelled
			}
			return false, errors.Wrapf(werr, "write %s", path)
		}
	}

	if err := f.Sync(); err != nil {
		if system.IsDiskFullError(err) {
			r.result.DiskFull = true
			r.result.FilesWritten++
			return true, nil
		}
		return false, errors.Wrapf(err, "sync %s", path)
	}
	r.result.FilesWritten++
	return false, nil
}

func (r *run) tick() {
	now := time.Now()
	if now.Sub(r.lastTick) >= r.e.opts.ProgressInterval {
		r.emitProgressAt(now)
	}
	if now.Sub(r.lastSpace) >= r.e.opts.SpaceInterval {
		r.lastSpace = now
		if free, _, err := r.e.usage(r.drive.MountPoint); err == nil {
			r.sink.Emit(events.SpaceUpdate{MountPoint: r.drive.MountPoint, FreeBytes: free})
		}
	}
}

func (r *run) emitProgress() {
	r.emitProgressAt(time.Now())
}

// Rate is measured over the window since the previous report.
func (r *run) emitProgressAt(now time.Time) {
	window := now.Sub(r.lastTick).Seconds()
	delta := r.result.BytesWritten - r.lastBytes
	var bytesPerSec float64
	if window > 0 {
		bytesPerSec = float64(delta) / window
	}
	r.lastTick, r.lastBytes = now, r.result.BytesWritten

	r.sink.Emit(events.Progress{
		Phase:        events.PhaseWiping,
		Fraction:     Fraction(r.result.BytesWritten, r.target),
		Rate:         bytesPerSec / (1024 * 1024),
		RateUnit:     "MB/s",
		ETA:          ETA(r.result.BytesWritten, r.target, bytesPerSec),
		BytesWritten: r.result.BytesWritten,
		FilesWritten: r.result.FilesWritten,
	})
}
