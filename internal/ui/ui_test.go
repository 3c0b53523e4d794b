package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"freespace_cleaner/internal/events"
	"freespace_cleaner/internal/metadata"
	"freespace_cleaner/internal/session"
	"freespace_cleaner/internal/system"
	"freespace_cleaner/internal/wipe"
)

func TestFormatETA(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0 min., 0 sec."},
		{59 * time.Second, "0 min., 59 sec."},
		{61*time.Second + 900*time.Millisecond, "1 min., 1 sec."},
		{time.Hour + 2*time.Minute + 3*time.Second, "1 hour, 2 min., 3 sec."},
		{3*time.Hour + 5*time.Second, "3 hours, 0 min., 5 sec."},
		{-time.Second, "0 min., 0 sec."},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatETA(tt.in), tt.in.String())
	}
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.0 KB", FormatBytes(1024))
	assert.Equal(t, "1.5 GB", FormatBytes(3*1024*1024*1024/2))
	assert.Equal(t, "2.5 GB", FormatGB(5*1024*1024*1024/2))
}

func TestDriveLabel(t *testing.T) {
	d := system.DriveInfo{MountPoint: "/mnt/data", DeviceName: "sdb1", DriveType: system.DriveHDD, FreeBytes: 2 * 1024 * 1024 * 1024}
	assert.Equal(t, "/mnt/data (sdb1 - HDD) - 2.0 GB free", DriveLabel(d))
}

func TestProgressLine(t *testing.T) {
	line := ProgressLine(events.Progress{Fraction: 0.5, Rate: 12.34, RateUnit: "MB/s", ETA: 90 * time.Second})
	assert.Contains(t, line, "[###############...............]")
	assert.Contains(t, line, "50.0%")
	assert.Contains(t, line, "Rate: 12.3 MB/s")
	assert.Contains(t, line, "Est Time Remaining: 1 min., 30 sec.")
}

func TestRenderDrives(t *testing.T) {
	out := RenderDrives([]system.DriveInfo{
		{MountPoint: "/mnt/usb", DeviceName: "sdc1", DriveType: system.DriveUSBHDD, FSType: "exfat", TotalBytes: 1 << 30, FreeBytes: 1 << 29},
	})
	for _, want := range []string{"Mount", "/mnt/usb", "sdc1", "USB HDD", "exfat", "0.5 GB"} {
		assert.Contains(t, out, want)
	}
	assert.Contains(t, RenderDrives(nil), "No user mounted drives")
}

func TestRenderScan(t *testing.T) {
	out := RenderScan(&metadata.ScanResult{MountPoint: "/mnt/win", Device: "/dev/sdb1", TotalEntries: 1000,
		FreeEntries: 300, Fragmentation: metadata.FragmentationHigh, Partial: true})
	assert.Contains(t, out, "/dev/sdb1")
	assert.Contains(t, out, "High")
	assert.Contains(t, out, "Scan incomplete")

	assert.Contains(t, RenderScan(&metadata.ScanResult{MountPoint: "/mnt/win"}), "fallback target")
	assert.Contains(t, RenderScan(nil), "unavailable")
}

func TestConsoleInPlaceProgress(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, true)
	c.Emit(events.Progress{Fraction: 0.1, RateUnit: "MB/s"})
	c.Emit(events.Progress{Fraction: 0.2, RateUnit: "MB/s"})
	c.Emit(events.Completion{Success: false, Cancelled: true, Reason: "cancelled by user"})

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "\r"))
	assert.Contains(t, out, "20.0%")
	assert.True(t, strings.HasSuffix(out, "Cancelled: cancelled by user\n"))
	// the completion starts on a fresh line
	assert.Contains(t, out, "Est Time Remaining: 0 min., 0 sec.\n")
}

func TestConsolePlainOutput(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false)
	c.Emit(events.PassComplete{Pass: 2, Method: "random", BytesWritten: 2048, Duration: 3 * time.Second})
	c.Emit(events.MetadataCleanFailure{MountPoint: "/mnt/x", Reason: "work dir"})
	c.Emit(events.SpaceUpdate{MountPoint: "/mnt/x", FreeBytes: 1 << 30})
	c.Warn("ssd wear")

	out := buf.String()
	assert.Contains(t, out, "Pass 2 (random) finished: 2.0 KB in 3s")
	assert.Contains(t, out, "Metadata cleaning failed on /mnt/x: work dir")
	assert.Contains(t, out, "/mnt/x: 1.0 GB free")
	assert.Contains(t, out, "WARNING: ssd wear")
	assert.NotContains(t, out, "\r")
}

func TestRenderSummary(t *testing.T) {
	start := time.Now()
	out := RenderSummary(session.Summary{
		ID:           "sess-1",
		Mode:         session.ModeFull,
		Drive:        system.DriveInfo{MountPoint: "/mnt/data", DeviceName: "sdb1", DriveType: system.DriveHDD},
		Metadata:     &metadata.CleanResult{Cleaned: false, Reason: "unsupported filesystem"},
		Passes:       []*wipe.WipeResult{{Method: wipe.MethodZeros}, {Method: wipe.MethodRandom}},
		BytesWritten: 4096,
		FilesWritten: 2,
		Success:      true,
		StartTime:    start,
		EndTime:      start.Add(65 * time.Second),
	})
	assert.Contains(t, out, "sess-1")
	assert.Contains(t, out, "skipped: unsupported filesystem")
	assert.Contains(t, out, "2 (zeros, random)")
	assert.Contains(t, out, "4.0 KB in 2 files")
	assert.Contains(t, out, "1m5s")
}

func TestRenderDiagnostics(t *testing.T) {
	out := RenderDiagnostics(&system.Diagnostics{
		OS: "linux", Arch: "amd64", Overall: "WARNING",
		Results: []system.DiagnosticResult{
			{Test: system.TestPermissions, Status: system.StatusWarn, Message: "not root"},
			{Test: system.TestSysfs, Status: system.StatusPass, Message: "3 block devices visible"},
		},
	})
	assert.Contains(t, out, "linux/amd64")
	assert.Contains(t, out, "not root")
	assert.Contains(t, out, "Overall: WARNING")
}
