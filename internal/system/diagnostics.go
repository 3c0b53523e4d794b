package system

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// DiagnosticTest names one check.
type DiagnosticTest string

const (
	TestPermissions DiagnosticTest = "permissions"
	TestTools       DiagnosticTest = "tools"
	TestSysfs       DiagnosticTest = "sysfs"
	TestMount       DiagnosticTest = "mount"
	TestWrite       DiagnosticTest = "write"
)

// Result statuses.
const (
	StatusPass = "PASS"
	StatusWarn = "WARN"
	StatusFail = "FAIL"
)

// DiagnosticResult is the outcome of one check.
type DiagnosticResult struct {
	Test     DiagnosticTest `json:"test" yaml:"test"`
	Status   string         `json:"status" yaml:"status"`
	Message  string         `json:"message" yaml:"message"`
	Duration time.Duration  `json:"duration" yaml:"duration"`
}

// Diagnostics is the outcome of a diagnostics run.
type Diagnostics struct {
	StartTime time.Time          `json:"start_time" yaml:"start_time"`
	Duration  time.Duration      `json:"duration" yaml:"duration"`
	Overall   string             `json:"overall" yaml:"overall"` // HEALTHY, WARNING, CRITICAL
	OS        string             `json:"os" yaml:"os"`
	Arch      string             `json:"arch" yaml:"arch"`
	Results   []DiagnosticResult `json:"results" yaml:"results"`
}

// DiagnosticsRunner checks whether this host can run a cleaning session:
// privileges, forensic tools, sysfs access and, when a mount point is
// given, that the volume accepts and releases files.
type DiagnosticsRunner struct {
	Runner     Runner
	Prober     *Prober
	Tools      []string
	SysRoot    string
	MountPoint string
	WorkDir    string

	geteuid func() int
}

func NewDiagnosticsRunner(runner Runner, prober *Prober, tools []string, mountPoint, workDir string) *DiagnosticsRunner {
	return &DiagnosticsRunner{
		Runner:     runner,
		Prober:     prober,
		Tools:      tools,
		SysRoot:    "/sys",
		MountPoint: mountPoint,
		WorkDir:    workDir,
		geteuid:    os.Geteuid,
	}
}

// Run executes every applicable check.
func (d *DiagnosticsRunner) Run(ctx context.Context) (*Diagnostics, error) {
	diag := &Diagnostics{
		StartTime: time.Now(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}

	tests := []DiagnosticTest{TestPermissions, TestTools, TestSysfs}
	if d.MountPoint != "" {
		tests = append(tests, TestMount, TestWrite)
	}

	for _, test := range tests {
		if err := ctx.Err(); err != nil {
			return diag, err
		}
		diag.Results = append(diag.Results, d.runTest(ctx, test))
	}

	diag.Duration = time.Since(diag.StartTime)
	diag.Overall = overallStatus(diag.Results)
	return diag, nil
}

func (d *DiagnosticsRunner) runTest(ctx context.Context, test DiagnosticTest) DiagnosticResult {
	start := time.Now()
	result := DiagnosticResult{Test: test}

	switch test {
	case TestPermissions:
		result.Status, result.Message = d.testPermissions()
	case TestTools:
		result.Status, result.Message = d.testTools(ctx)
	case TestSysfs:
		result.Status, result.Message = d.testSysfs()
	case TestMount:
		result.Status, result.Message = d.testMount()
	case TestWrite:
		result.Status, result.Message = d.testWrite()
	}

	result.Duration = time.Since(start)
	return result
}

func (d *DiagnosticsRunner) testPermissions() (string, string) {
	if d.geteuid() == 0 {
		return StatusPass, "running as root"
	}
	return StatusWarn, "not root: metadata scans and protected mounts may fail"
}

func (d *DiagnosticsRunner) testTools(ctx context.Context) (string, string) {
	var missing, found []string
	for _, tool := range d.Tools {
		path, err := exec.LookPath(tool)
		if err != nil {
			missing = append(missing, tool)
			continue
		}
		// sleuthkit tools print their version with -V
		out, _ := d.Runner.Run(ctx, 5*time.Second, path, "-V")
		version := strings.TrimSpace(string(bytes.SplitN(out, []byte("\n"), 2)[0]))
		if version == "" {
			version = path
		}
		found = append(found, version)
	}

	if len(missing) > 0 {
		return StatusWarn, fmt.Sprintf("missing %s: NTFS targets fall back to size tiers", strings.Join(missing, ", "))
	}
	return StatusPass, strings.Join(found, "; ")
}

func (d *DiagnosticsRunner) testSysfs() (string, string) {
	entries, err := os.ReadDir(filepath.Join(d.SysRoot, "block"))
	if err != nil {
		return StatusWarn, "cannot read sysfs, drive types will be Unknown"
	}
	return StatusPass, fmt.Sprintf("%d block devices visible", len(entries))
}

func (d *DiagnosticsRunner) testMount() (string, string) {
	info, err := d.Prober.ProbeDrive(d.MountPoint)
	if err != nil {
		return StatusFail, fmt.Sprintf("statfs %s: %v", d.MountPoint, err)
	}
	if info.FreeBytes == 0 {
		return StatusWarn, fmt.Sprintf("%s has no free space", d.MountPoint)
	}
	return StatusPass, fmt.Sprintf("%s on %s (%s, %s), %d bytes free", d.MountPoint, info.DeviceName, info.FSType,
		info.DriveType, info.FreeBytes)
}

// testWrite creates, reads back and removes a small file inside a private
// directory on the target volume.
func (d *DiagnosticsRunner) testWrite() (string, string) {
	dir := filepath.Join(d.MountPoint, d.WorkDir+"_diag")
	if err := os.Mkdir(dir, 0700); err != nil && !os.IsExist(err) {
		return StatusFail, fmt.Sprintf("cannot create %s: %v", dir, err)
	}
	defer os.RemoveAll(dir)

	testFile := filepath.Join(dir, "probe.tmp")
	testData := make([]byte, 4096)
	for i := range testData {
		testData[i] = byte(i % 256)
	}
	if err := writeSynced(testFile, testData); err != nil {
		return StatusFail, err.Error()
	}

	readData, err := os.ReadFile(testFile)
	if err != nil {
		return StatusFail, fmt.Sprintf("read back failed: %v", err)
	}
	if !bytes.Equal(readData, testData) {
		return StatusFail, "read back data differs from written data"
	}
	if err := os.Remove(testFile); err != nil {
		return StatusFail, fmt.Sprintf("cannot remove probe file: %v", err)
	}
	return StatusPass, "create, write, sync and delete work"
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return errors.Wrap(err, "create probe file")
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrap(err, "write probe file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrap(err, "sync probe file")
	}
	return f.Close()
}

// overallStatus maps the worst result to HEALTHY, WARNING or CRITICAL.
func overallStatus(results []DiagnosticResult) string {
	status := "HEALTHY"
	for _, r := range results {
		switch r.Status {
		case StatusFail:
			return "CRITICAL"
		case StatusWarn:
			status = "WARNING"
		}
	}
	return status
}
