package session

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"freespace_cleaner/internal/config"
	"freespace_cleaner/internal/control"
	"freespace_cleaner/internal/events"
	"freespace_cleaner/internal/logging"
	"freespace_cleaner/internal/metadata"
	"freespace_cleaner/internal/system"
	"freespace_cleaner/internal/wipe"
)

var (
	ErrAlreadyStarted = errors.New("session already started")
	ErrJoinTimeout    = errors.New("worker did not stop within timeout")
)

type Mode string

const (
	ModeFull         Mode = "full"
	ModeMetadataOnly Mode = "metadata-only"
	ModeFreeSpace    Mode = "free-space"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeFull, ModeMetadataOnly, ModeFreeSpace:
		return m, nil
	default:
		return "", errors.Newf("unknown session mode: %s", s)
	}
}

type Options struct {
	Mode         Mode
	Method       wipe.Method
	AutoRestart  bool
	CycleMethods bool
	RestartDelay time.Duration
	// MaxPasses bounds auto-restart; zero runs until cancelled.
	MaxPasses   int
	JoinTimeout time.Duration
	EventBuffer int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Mode:         ModeFull,
		Method:       wipe.Method(cfg.Wipe.Method),
		AutoRestart:  cfg.Wipe.AutoRestart,
		CycleMethods: cfg.Wipe.CycleMethods,
		RestartDelay: cfg.Wipe.RestartDelay,
		MaxPasses:    cfg.Wipe.MaxPasses,
		JoinTimeout:  cfg.Wipe.JoinTimeout,
		EventBuffer:  256,
	}
}

// Wiper is the free-space pass, normally *wipe.Engine.
type Wiper interface {
	Run(ctx context.Context, drive system.DriveInfo, method wipe.Method, ctl control.State, sink events.Sink) (*wipe.WipeResult, error)
}

// MetadataCleaner is normally *metadata.Cleaner.
type MetadataCleaner interface {
	Clean(ctx context.Context, drive system.DriveInfo, ctl control.State, sink events.Sink) (*metadata.CleanResult, error)
}

type Deps struct {
	Wiper   Wiper
	Cleaner MetadataCleaner
	// Probe refreshes the drive snapshot between passes. Optional.
	Probe  func(mountPoint string) (system.DriveInfo, error)
	Logger *logging.EnterpriseLogger
}

// State is a point-in-time copy of the session's progress.
type State struct {
	Phase        events.Phase
	BytesWritten uint64
	FilesWritten uint64
	StartTime    time.Time
	Cancelled    bool
	Paused       bool
	Pass         int
	Method       wipe.Method
}

// Summary is the outcome of a finished session.
type Summary struct {
	ID           string                `json:"id" yaml:"id"`
	Mode         Mode                  `json:"mode" yaml:"mode"`
	Drive        system.DriveInfo      `json:"drive" yaml:"drive"`
	Metadata     *metadata.CleanResult `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Passes       []*wipe.WipeResult    `json:"passes,omitempty" yaml:"passes,omitempty"`
	BytesWritten uint64                `json:"bytes_written" yaml:"bytes_written"`
	FilesWritten uint64                `json:"files_written" yaml:"files_written"`
	Success      bool                  `json:"success" yaml:"success"`
	Cancelled    bool                  `json:"cancelled" yaml:"cancelled"`
	Reason       string                `json:"reason,omitempty" yaml:"reason,omitempty"`
	StartTime    time.Time             `json:"start_time" yaml:"start_time"`
	EndTime      time.Time             `json:"end_time" yaml:"end_time"`
}

// Session runs at most one worker at a time against one drive and relays
// its events, in order, over a bounded channel. The channel is closed right
// after the Completion event. Consumers must drain Events until then.
type Session struct {
	id     string
	opts   Options
	drive  system.DriveInfo
	deps   Deps
	logger *logging.EnterpriseLogger

	flags   control.Flags
	started atomic.Bool

	events      chan events.Event
	abandoned   chan struct{}
	abandonOnce sync.Once
	done        chan struct{}

	mu      sync.Mutex
	cancel  context.CancelFunc
	state   State
	summary Summary

	// Totals of finished passes; state adds the running pass on top.
	baseBytes uint64
	baseFiles uint64
}

func New(drive system.DriveInfo, opts Options, deps Deps) *Session {
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 256
	}
	if opts.Mode == "" {
		opts.Mode = ModeFull
	}
	if opts.Method == "" {
		opts.Method = wipe.MethodZeros
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		opts:      opts,
		drive:     drive,
		deps:      deps,
		logger:    deps.Logger,
		events:    make(chan events.Event, opts.EventBuffer),
		abandoned: make(chan struct{}),
		done:      make(chan struct{}),
		state:     State{Phase: events.PhaseIdle, Method: opts.Method},
		summary:   Summary{ID: id, Mode: opts.Mode, Drive: drive},
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Events() <-chan events.Event { return s.events }

// Start launches the worker. A session runs once.
func (s *Session) Start(ctx context.Context) error {
	switch s.opts.Mode {
	case ModeFull, ModeFreeSpace:
		if s.deps.Wiper == nil {
			return errors.New("session needs a wiper")
		}
	}
	if s.opts.Mode == ModeMetadataOnly && s.deps.Cleaner == nil {
		return errors.New("metadata-only session needs a cleaner")
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.flags.SetRunning(true)

	s.mu.Lock()
	s.cancel = cancel
	s.state.StartTime = time.Now()
	s.summary.StartTime = s.state.StartTime
	s.mu.Unlock()

	if s.opts.AutoRestart && (s.drive.DriveType == system.DriveSSD || s.drive.DriveType == system.DriveUSBSSD) {
		s.logger.Log("WARN", "Repeated passes on solid state media add write wear", "mount", s.drive.MountPoint,
			"drive_type", s.drive.DriveType)
	}
	s.logger.Log("INFO", "Session started", "session", s.id, "mode", s.opts.Mode, "mount", s.drive.MountPoint,
		"method", s.opts.Method, "auto_restart", s.opts.AutoRestart, "cycle", s.opts.CycleMethods)

	go s.run(runCtx, cancel)
	return nil
}

func (s *Session) Pause() {
	s.flags.Pause()
	s.logger.Log("INFO", "Session paused", "session", s.id)
}

func (s *Session) Resume() {
	s.flags.Resume()
	s.logger.Log("INFO", "Session resumed", "session", s.id)
}

// TogglePause flips pause and reports whether the session is now paused.
func (s *Session) TogglePause() bool {
	paused := s.flags.TogglePause()
	s.logger.Log("INFO", "Session pause toggled", "session", s.id, "paused", paused)
	return paused
}

// Cancel asks the worker to stop after its current unit of work. The
// worker still runs its cleanup and emits Completion.
func (s *Session) Cancel() {
	if s.flags.Cancelled() {
		return
	}
	s.flags.Cancel()
	s.flags.Resume()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	if !s.state.Phase.Terminal() {
		s.state.Phase = events.PhaseCancelling
	}
	s.mu.Unlock()
	s.logger.Log("INFO", "Session cancel requested", "session", s.id)
}

// Wait blocks until the worker has finished and returns its summary.
func (s *Session) Wait() Summary {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Done is closed once the worker has exited.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop cancels and waits up to timeout for the worker. On timeout pending
// events are dropped so the worker can finish on its own.
func (s *Session) Stop(timeout time.Duration) error {
	s.Cancel()
	if !s.started.Load() {
		return nil
	}
	if timeout <= 0 {
		timeout = s.opts.JoinTimeout
	}
	select {
	case <-s.done:
		return nil
	case <-time.After(timeout):
		s.abandonOnce.Do(func() { close(s.abandoned) })
		s.logger.Log("ERROR", "Worker did not stop in time", "session", s.id, "timeout", timeout)
		return errors.Wrapf(ErrJoinTimeout, "after %s", timeout)
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	st := s.state
	s.mu.Unlock()
	st.Paused = s.flags.Paused()
	st.Cancelled = s.flags.Cancelled()
	return st
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Emit is the sink handed to workers. It folds progress into State and
// forwards the event, blocking while the channel is full.
func (s *Session) Emit(ev events.Event) {
	s.mu.Lock()
	switch e := ev.(type) {
	case events.Progress:
		if e.Phase == events.PhaseWiping {
			s.state.BytesWritten = s.baseBytes + e.BytesWritten
			s.state.FilesWritten = s.baseFiles + e.FilesWritten
		}
	case events.PhaseChange:
		if !s.state.Phase.Terminal() && (s.state.Phase != events.PhaseCancelling || e.Phase.Terminal()) {
			s.state.Phase = e.Phase
		}
	}
	s.mu.Unlock()

	select {
	case s.events <- ev:
	case <-s.abandoned:
	}
}

func (s *Session) setPhase(p events.Phase) {
	s.Emit(events.PhaseChange{Phase: p})
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc) {
	defer close(s.done)
	defer cancel()

	completion := s.execute(ctx)

	phase := events.PhaseComplete
	if !completion.Success && !completion.Cancelled {
		phase = events.PhaseFailed
	}
	if completion.Cancelled {
		s.setPhase(events.PhaseCancelling)
	}
	s.setPhase(phase)
	s.flags.SetRunning(false)

	s.mu.Lock()
	s.summary.Success = completion.Success
	s.summary.Cancelled = completion.Cancelled
	s.summary.Reason = completion.Reason
	s.summary.EndTime = time.Now()
	s.summary.BytesWritten = s.baseBytes
	s.summary.FilesWritten = s.baseFiles
	s.mu.Unlock()

	s.logger.Log("INFO", "Session finished", "session", s.id, "success", completion.Success,
		"cancelled", completion.Cancelled, "reason", completion.Reason)
	s.Emit(completion)
	close(s.events)
}

// execute converts worker panics into a failed completion. Components run
// their own deferred cleanup while the panic unwinds.
func (s *Session) execute(ctx context.Context) (completion events.Completion) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Log("ERROR", "Worker panicked", "session", s.id, "panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			completion = events.Completion{Success: false, Reason: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	switch s.opts.Mode {
	case ModeMetadataOnly:
		return s.runMetadata(ctx, true)
	case ModeFull:
		if s.deps.Cleaner != nil && metadata.KindOf(s.drive.FSType) != metadata.FSOther {
			if c := s.runMetadata(ctx, false); c != nil {
				return *c
			}
		}
	}
	return s.runWipe(ctx)
}

func cancelled() events.Completion {
	return events.Completion{Success: false, Cancelled: true, Reason: "cancelled by user"}
}

// runMetadata returns a completion when the session must end here: always
// in metadata-only mode, otherwise only on cancellation.
func (s *Session) runMetadata(ctx context.Context, only bool) *events.Completion {
	s.setPhase(events.PhaseCleaningMetadata)
	res, err := s.deps.Cleaner.Clean(ctx, s.drive, &s.flags, s)

	s.mu.Lock()
	s.summary.Metadata = res
	s.mu.Unlock()

	if errors.Is(err, metadata.ErrCancelled) || s.flags.Cancelled() {
		c := cancelled()
		return &c
	}
	if err != nil {
		s.logger.Log("WARN", "Metadata clean returned an error", "session", s.id, "error", err)
	}
	if !only {
		return nil
	}

	c := events.Completion{Success: res != nil && res.Cleaned}
	if !c.Success {
		c.Reason = "metadata cleaning skipped"
		if res != nil && res.Reason != "" {
			c.Reason = res.Reason
		}
	}
	return &c
}

func (s *Session) runWipe(ctx context.Context) events.Completion {
	method := s.opts.Method
	drive := s.drive

	for pass := 1; ; pass++ {
		if control.Stopped(ctx, &s.flags) {
			return cancelled()
		}
		if pass > 1 && s.deps.Probe != nil {
			if fresh, err := s.deps.Probe(drive.MountPoint); err == nil {
				drive = fresh
			}
		}

		s.mu.Lock()
		s.state.Pass, s.state.Method = pass, method
		s.mu.Unlock()
		s.setPhase(events.PhaseWiping)

		res, err := s.deps.Wiper.Run(ctx, drive, method, &s.flags, s)
		if res != nil {
			s.recordPass(res)
			s.Emit(events.PassComplete{
				Pass:         pass,
				Method:       string(method),
				BytesWritten: res.BytesWritten,
				FilesWritten: res.FilesWritten,
				Duration:     res.Duration,
			})
		}
		s.emitFinalSpace(drive.MountPoint)

		switch {
		case errors.Is(err, wipe.ErrCancelled) || (err == nil && res != nil && res.Cancelled):
			return cancelled()
		case err != nil:
			return events.Completion{Success: false, Reason: err.Error()}
		}

		if !s.opts.AutoRestart || (s.opts.MaxPasses > 0 && pass >= s.opts.MaxPasses) {
			return events.Completion{Success: true}
		}
		if s.opts.CycleMethods {
			method = method.Next()
		}
		s.logger.Log("INFO", "Restarting wipe", "session", s.id, "next_pass", pass+1, "method", method,
			"delay", s.opts.RestartDelay)
		if !control.Sleep(ctx, &s.flags, s.opts.RestartDelay) {
			return cancelled()
		}
	}
}

func (s *Session) recordPass(res *wipe.WipeResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary.Passes = append(s.summary.Passes, res)
	s.baseBytes += res.BytesWritten
	s.baseFiles += res.FilesWritten
	s.state.BytesWritten = s.baseBytes
	s.state.FilesWritten = s.baseFiles
}

func (s *Session) emitFinalSpace(mountPoint string) {
	if s.deps.Probe == nil {
		return
	}
	if info, err := s.deps.Probe(mountPoint); err == nil {
		s.Emit(events.SpaceUpdate{MountPoint: mountPoint, FreeBytes: info.FreeBytes})
	}
}
