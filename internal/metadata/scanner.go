package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"freespace_cleaner/internal/config"
	"freespace_cleaner/internal/events"
	"freespace_cleaner/internal/logging"
	"freespace_cleaner/internal/system"
)

// ScanResult is the MFT census of one volume. FreeEntries never exceeds
// TotalEntries; TotalEntries == 0 means no data was available.
type ScanResult struct {
	MountPoint    string        `json:"mount_point" yaml:"mount_point"`
	Device        string        `json:"device" yaml:"device"`
	UUID          string        `json:"uuid,omitempty" yaml:"uuid,omitempty"`
	TotalEntries  uint64        `json:"total_entries" yaml:"total_entries"`
	FreeEntries   uint64        `json:"free_entries" yaml:"free_entries"`
	EntrySize     uint32        `json:"entry_size" yaml:"entry_size"`
	Fragmentation Fragmentation `json:"fragmentation" yaml:"fragmentation"`
	// Partial is set when a tool failed or timed out.
	Partial   bool      `json:"partial" yaml:"partial"`
	ScannedAt time.Time `json:"scanned_at" yaml:"scanned_at"`
}

// Available reports whether the scan produced any entry counts.
func (r *ScanResult) Available() bool {
	return r != nil && r.TotalEntries > 0
}

// ScanOutcome is delivered by ScanAsync.
type ScanOutcome struct {
	Result *ScanResult
	Cached bool
}

type ScannerOptions struct {
	FsstatPath    string
	FlsPath       string
	FsstatTimeout time.Duration
	FlsTimeout    time.Duration
	EntrySize     uint32
}

func ScannerOptionsFromConfig(cfg *config.Config) ScannerOptions {
	return ScannerOptions{
		FsstatPath:    cfg.Metadata.FsstatPath,
		FlsPath:       cfg.Metadata.FlsPath,
		FsstatTimeout: cfg.Metadata.FsstatTimeout,
		FlsTimeout:    cfg.Metadata.FlsTimeout,
		EntrySize:     uint32(cfg.Metadata.EntrySize),
	}
}

// Scanner runs fsstat and fls against a mounted volume and memoizes
// successful results per mount point and filesystem UUID.
//
// A volume without a UUID is cached under its mount point alone, so a
// different medium mounted at the same path later gets the stale entry
// until Invalidate is called.
type Scanner struct {
	opts    ScannerOptions
	runner  system.Runner
	mounts  *system.MountTable
	uuidDir string
	logger  *logging.EnterpriseLogger

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]*ScanResult
}

func NewScanner(opts ScannerOptions, runner system.Runner, mounts *system.MountTable, logger *logging.EnterpriseLogger) *Scanner {
	if mounts == nil {
		mounts = system.NewMountTable()
	}
	return &Scanner{
		opts:    opts,
		runner:  runner,
		mounts:  mounts,
		uuidDir: "/dev/disk/by-uuid",
		logger:  logger,
		cache:   make(map[string]*ScanResult),
	}
}

// CacheKey is mountPoint#uuid.
func CacheKey(mountPoint, uuid string) string {
	return filepath.Clean(mountPoint) + "#" + uuid
}

// Scan never fails: tool errors and timeouts yield an empty or partial result.
func (s *Scanner) Scan(ctx context.Context, mountPoint string, sink events.Sink) *ScanResult {
	res, _ := s.scan(ctx, mountPoint, sink)
	return res
}

// ScanAsync runs Scan on its own goroutine. The channel receives exactly one
// outcome and is then closed.
func (s *Scanner) ScanAsync(ctx context.Context, mountPoint string, sink events.Sink) <-chan ScanOutcome {
	out := make(chan ScanOutcome, 1)
	go func() {
		defer close(out)
		res, cached := s.scan(ctx, mountPoint, sink)
		out <- ScanOutcome{Result: res, Cached: cached}
	}()
	return out
}

func (s *Scanner) scan(ctx context.Context, mountPoint string, sink events.Sink) (*ScanResult, bool) {
	if sink == nil {
		sink = events.Discard
	}
	status := func(format string, args ...interface{}) {
		sink.Emit(events.ScanStatus{MountPoint: mountPoint, Message: fmt.Sprintf(format, args...)})
	}

	status("Resolving block device")
	device, err := s.mounts.Source(mountPoint)
	if err != nil {
		s.logger.Log("WARN", "Cannot resolve device for scan", "mount", mountPoint, "error", err)
		status("Scan failed: %v", err)
		return &ScanResult{MountPoint: mountPoint, Partial: true, ScannedAt: time.Now()}, false
	}

	uuid := s.lookupUUID(device)
	key := CacheKey(mountPoint, uuid)
	if cached := s.cached(key); cached != nil {
		status("Using cached scan: %d free of %d entries", cached.FreeEntries, cached.TotalEntries)
		return cached, true
	}

	v, _, shared := s.group.Do(key, func() (interface{}, error) {
		if cached := s.cached(key); cached != nil {
			return cached, nil
		}
		res := s.run(ctx, mountPoint, device, status)
		res.UUID = uuid
		// Partial scans are retried next time.
		if res.Available() && !res.Partial {
			s.mu.Lock()
			s.cache[key] = res
			s.mu.Unlock()
		}
		return res, nil
	})
	res := v.(*ScanResult)
	if shared {
		s.logger.Log("DEBUG", "Joined in-flight scan", "mount", mountPoint, "key", key)
	}
	return res, false
}

func (s *Scanner) run(ctx context.Context, mountPoint, device string, status func(string, ...interface{})) *ScanResult {
	res := &ScanResult{MountPoint: mountPoint, Device: device, EntrySize: s.opts.EntrySize}
	start := time.Now()

	status("Reading MFT statistics")
	out, err := s.runner.Run(ctx, s.opts.FsstatTimeout, s.opts.FsstatPath, device)
	total, entrySize := ParseFsstat(out)
	if err != nil {
		s.logger.Log("WARN", "fsstat failed", "device", device, "error", err)
		res.Partial = true
	}
	res.TotalEntries = total
	if entrySize > 0 {
		res.EntrySize = entrySize
	}
	if total == 0 {
		status("No MFT data available for %s", device)
		res.Partial = true
		res.ScannedAt = time.Now()
		return res
	}

	status("Counting deleted entries")
	out, err = s.runner.Run(ctx, s.opts.FlsTimeout, s.opts.FlsPath, "-r", "-d", "-p", device)
	if err != nil {
		// Partial fls output undercounts; the caller falls back to the total.
		s.logger.Log("WARN", "fls failed", "device", device, "error", err)
		res.Partial = true
	} else {
		res.FreeEntries = min(CountDeletedEntries(out), res.TotalEntries)
	}

	res.Fragmentation = FragmentationFor(res.FreeEntries, res.TotalEntries)
	res.ScannedAt = time.Now()
	status("Scan complete: %d free of %d entries (%s)", res.FreeEntries, res.TotalEntries, res.Fragmentation)
	s.logger.Log("INFO", "MFT scan finished", "mount", mountPoint, "device", device,
		"total", res.TotalEntries, "free", res.FreeEntries, "entry_size", res.EntrySize,
		"fragmentation", res.Fragmentation.String(), "elapsed", time.Since(start))
	return res
}

func (s *Scanner) cached(key string) *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache[key]
}

// lookupUUID finds the by-uuid link pointing at device; empty if none.
func (s *Scanner) lookupUUID(device string) string {
	entries, err := os.ReadDir(s.uuidDir)
	if err != nil {
		return ""
	}
	want, err := filepath.EvalSymlinks(device)
	if err != nil {
		want = device
	}
	for _, e := range entries {
		target, err := filepath.EvalSymlinks(filepath.Join(s.uuidDir, e.Name()))
		if err == nil && target == want {
			return e.Name()
		}
	}
	return ""
}

// Invalidate drops every cached scan of mountPoint.
func (s *Scanner) Invalidate(mountPoint string) {
	prefix := filepath.Clean(mountPoint) + "#"
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.cache {
		if strings.HasPrefix(key, prefix) {
			delete(s.cache, key)
		}
	}
}

func (s *Scanner) Purge() {
	s.mu.Lock()
	s.cache = make(map[string]*ScanResult)
	s.mu.Unlock()
}
