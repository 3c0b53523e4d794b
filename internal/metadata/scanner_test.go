package metadata

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"freespace_cleaner/internal/events"
	"freespace_cleaner/internal/logging"
	"freespace_cleaner/internal/system"
)

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	a := m.Called(name, args)
	var out []byte
	if v := a.Get(0); v != nil {
		out = v.([]byte)
	}
	return out, a.Error(1)
}

const testMount = "/mnt/win"

func testMountTable(t *testing.T) *system.MountTable {
	p := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(p, []byte("/dev/sdb1 /mnt/win ntfs3 rw 0 0\nsysfs /sys sysfs rw 0 0\n"), 0644))
	return &system.MountTable{Path: p}
}

func testScannerOptions() ScannerOptions {
	return ScannerOptions{
		FsstatPath:    "fsstat",
		FlsPath:       "fls",
		FsstatTimeout: 30 * time.Second,
		FlsTimeout:    2 * time.Minute,
		EntrySize:     1024,
	}
}

func newTestScanner(t *testing.T, runner system.Runner) *Scanner {
	s := NewScanner(testScannerOptions(), runner, testMountTable(t), logging.NewNop())
	s.uuidDir = t.TempDir()
	return s
}

var flsArgs = []string{"-r", "-d", "-p", "/dev/sdb1"}

func TestScanParsesAndCaches(t *testing.T) {
	runner := &mockRunner{}
	runner.On("fsstat", []string{"/dev/sdb1"}).Return([]byte(ntfsFsstat), nil).Once()
	runner.On("fls", flsArgs).Return([]byte(flsOutput), nil).Once()

	s := newTestScanner(t, runner)
	rec := &events.Recorder{}

	res := s.Scan(context.Background(), testMount, rec)
	require.True(t, res.Available())
	assert.Equal(t, uint64(100000), res.TotalEntries)
	assert.Equal(t, uint64(4), res.FreeEntries)
	assert.Equal(t, uint32(1024), res.EntrySize)
	assert.Equal(t, "/dev/sdb1", res.Device)
	assert.False(t, res.Partial)
	assert.Equal(t, FragmentationLow, res.Fragmentation)

	again := s.Scan(context.Background(), testMount, rec)
	assert.Same(t, res, again)
	runner.AssertExpectations(t)
	runner.AssertNumberOfCalls(t, "Run", 2)

	var msgs []string
	for _, ev := range rec.Events() {
		if st, ok := ev.(events.ScanStatus); ok {
			assert.Equal(t, testMount, st.MountPoint)
			msgs = append(msgs, st.Message)
		}
	}
	require.GreaterOrEqual(t, len(msgs), 5)
	assert.Equal(t, "Resolving block device", msgs[0])
	assert.Equal(t, "Reading MFT statistics", msgs[1])
	assert.Equal(t, "Counting deleted entries", msgs[2])
	assert.True(t, strings.HasPrefix(msgs[3], "Scan complete"))
	assert.True(t, strings.HasPrefix(msgs[len(msgs)-1], "Using cached scan"))
}

func TestScanFsstatFailureIsNotCached(t *testing.T) {
	runner := &mockRunner{}
	runner.On("fsstat", []string{"/dev/sdb1"}).Return(nil, errors.New("exec: fsstat not found"))

	s := newTestScanner(t, runner)
	res := s.Scan(context.Background(), testMount, nil)
	assert.False(t, res.Available())
	assert.True(t, res.Partial)
	assert.Zero(t, res.FreeEntries)

	s.Scan(context.Background(), testMount, nil)
	runner.AssertNumberOfCalls(t, "Run", 2)
	runner.AssertNotCalled(t, "Run", "fls", flsArgs)
}

func TestScanFlsTimeoutLeavesFreeAtZero(t *testing.T) {
	runner := &mockRunner{}
	runner.On("fsstat", []string{"/dev/sdb1"}).Return([]byte(ntfsFsstat), nil)
	runner.On("fls", flsArgs).Return([]byte("r/r * 12-128-1:\tx\n"), errors.Wrap(system.ErrCommandTimeout, "fls"))

	s := newTestScanner(t, runner)
	res := s.Scan(context.Background(), testMount, nil)
	assert.Equal(t, uint64(100000), res.TotalEntries)
	assert.Zero(t, res.FreeEntries)
	assert.True(t, res.Partial)

	again := s.Scan(context.Background(), testMount, nil)
	assert.NotSame(t, res, again)
	runner.AssertNumberOfCalls(t, "Run", 4)
}

func TestScanRetriesAfterPartialResult(t *testing.T) {
	runner := &mockRunner{}
	runner.On("fsstat", []string{"/dev/sdb1"}).Return([]byte(ntfsFsstat), nil)
	runner.On("fls", flsArgs).Return(nil, errors.Wrap(system.ErrCommandTimeout, "fls")).Once()
	runner.On("fls", flsArgs).Return([]byte(flsOutput), nil).Once()

	s := newTestScanner(t, runner)
	first := s.Scan(context.Background(), testMount, nil)
	assert.True(t, first.Partial)
	assert.Zero(t, first.FreeEntries)

	second := s.Scan(context.Background(), testMount, nil)
	assert.False(t, second.Partial)
	assert.Equal(t, uint64(4), second.FreeEntries)

	third := s.Scan(context.Background(), testMount, nil)
	assert.Same(t, second, third)
	runner.AssertNumberOfCalls(t, "Run", 4)
}

func TestScanClampsFreeToTotal(t *testing.T) {
	runner := &mockRunner{}
	runner.On("fsstat", []string{"/dev/sdb1"}).Return([]byte("Size of MFT Entries: 4096 bytes\nRange: 0 - 2\n"), nil)
	runner.On("fls", flsArgs).Return([]byte(flsOutput), nil)

	res := newTestScanner(t, runner).Scan(context.Background(), testMount, nil)
	assert.Equal(t, uint64(3), res.TotalEntries)
	assert.Equal(t, uint64(3), res.FreeEntries)
	assert.Equal(t, uint32(4096), res.EntrySize)
	assert.Equal(t, FragmentationSevere, res.Fragmentation)
}

func TestScanUnknownMount(t *testing.T) {
	runner := &mockRunner{}
	s := newTestScanner(t, runner)
	res := s.Scan(context.Background(), "/sys", nil)
	assert.False(t, res.Available())
	runner.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
}

// blockingRunner holds fsstat until released and counts invocations.
type blockingRunner struct {
	release chan struct{}
	fsstat  atomic.Int32
	fls     atomic.Int32
}

func (b *blockingRunner) Run(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	switch name {
	case "fsstat":
		b.fsstat.Add(1)
		<-b.release
		return []byte(ntfsFsstat), nil
	default:
		b.fls.Add(1)
		return []byte(flsOutput), nil
	}
}

func TestScanDeduplicatesConcurrentRequests(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	s := newTestScanner(t, runner)

	var wg sync.WaitGroup
	results := make([]*ScanResult, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = s.Scan(context.Background(), testMount, nil)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(runner.release)
	wg.Wait()

	assert.Equal(t, int32(1), runner.fsstat.Load())
	assert.Equal(t, int32(1), runner.fls.Load())
	for _, r := range results {
		assert.Equal(t, uint64(4), r.FreeEntries)
	}
}

func TestScanInvalidateAndPurge(t *testing.T) {
	runner := &mockRunner{}
	runner.On("fsstat", []string{"/dev/sdb1"}).Return([]byte(ntfsFsstat), nil)
	runner.On("fls", flsArgs).Return([]byte(flsOutput), nil)
	s := newTestScanner(t, runner)

	s.Scan(context.Background(), testMount, nil)
	s.Scan(context.Background(), testMount, nil)
	runner.AssertNumberOfCalls(t, "Run", 2)

	s.Invalidate(testMount)
	s.Scan(context.Background(), testMount, nil)
	runner.AssertNumberOfCalls(t, "Run", 4)

	s.Purge()
	s.Scan(context.Background(), testMount, nil)
	runner.AssertNumberOfCalls(t, "Run", 6)
}

func TestScanAsync(t *testing.T) {
	runner := &mockRunner{}
	runner.On("fsstat", []string{"/dev/sdb1"}).Return([]byte(ntfsFsstat), nil)
	runner.On("fls", flsArgs).Return([]byte(flsOutput), nil)
	s := newTestScanner(t, runner)

	out := <-s.ScanAsync(context.Background(), testMount, nil)
	require.NotNil(t, out.Result)
	assert.False(t, out.Cached)
	assert.Equal(t, uint64(4), out.Result.FreeEntries)

	ch := s.ScanAsync(context.Background(), testMount, nil)
	out = <-ch
	assert.True(t, out.Cached)
	_, open := <-ch
	assert.False(t, open)
}

func TestLookupUUID(t *testing.T) {
	s := newTestScanner(t, &mockRunner{})
	dev := filepath.Join(t.TempDir(), "sdb1")
	require.NoError(t, os.WriteFile(dev, nil, 0644))
	require.NoError(t, os.Symlink(dev, filepath.Join(s.uuidDir, "6A1C-22F0")))

	assert.Equal(t, "6A1C-22F0", s.lookupUUID(dev))
	assert.Equal(t, "", s.lookupUUID("/dev/does-not-exist"))
	assert.Equal(t, "/mnt/win#6A1C-22F0", CacheKey("/mnt/win/", "6A1C-22F0"))
}
