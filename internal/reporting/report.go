package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"freespace_cleaner/internal/config"
	"freespace_cleaner/internal/session"
	"freespace_cleaner/internal/system"
)

const Version = "1.0.0"

// Process exit codes.
const (
	ExitSuccess = 0
	ExitError   = 1
	ExitWarning = 2
)

// Report describes one run.
type Report struct {
	RunID     string                 `json:"run_id" yaml:"run_id"`
	Version   string                 `json:"version" yaml:"version"`
	Hostname  string                 `json:"hostname" yaml:"hostname"`
	Timestamp time.Time              `json:"timestamp" yaml:"timestamp"`
	Config    map[string]interface{} `json:"config" yaml:"config"`
	Profile   string                 `json:"profile,omitempty" yaml:"profile,omitempty"`
	DryRun    bool                   `json:"dry_run" yaml:"dry_run"`
	Session   SessionReport          `json:"session" yaml:"session"`
	Findings  []Finding              `json:"findings,omitempty" yaml:"findings,omitempty"`
	ExitCode  int                    `json:"exit_code" yaml:"exit_code"`
	Duration  string                 `json:"duration" yaml:"duration"`
}

// SessionReport describes one cleaning session.
type SessionReport struct {
	ID           string           `json:"id" yaml:"id"`
	Mode         string           `json:"mode" yaml:"mode"`
	Method       string           `json:"method" yaml:"method"`
	Status       string           `json:"status" yaml:"status"`
	Drive        system.DriveInfo `json:"drive" yaml:"drive"`
	Passes       []PassReport     `json:"passes,omitempty" yaml:"passes,omitempty"`
	Metadata     *MetadataReport  `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	BytesWritten uint64           `json:"bytes_written" yaml:"bytes_written"`
	FilesWritten uint64           `json:"files_written" yaml:"files_written"`
	AverageSpeed float64          `json:"average_speed_mbps" yaml:"average_speed_mbps"`
	Reason       string           `json:"reason,omitempty" yaml:"reason,omitempty"`
	StartTime    time.Time        `json:"start_time" yaml:"start_time"`
	EndTime      time.Time        `json:"end_time" yaml:"end_time"`
}

type PassReport struct {
	Pass         int     `json:"pass" yaml:"pass"`
	Method       string  `json:"method" yaml:"method"`
	BytesWritten uint64  `json:"bytes_written" yaml:"bytes_written"`
	FilesWritten uint64  `json:"files_written" yaml:"files_written"`
	Duration     string  `json:"duration" yaml:"duration"`
	SpeedMBps    float64 `json:"speed_mbps" yaml:"speed_mbps"`
	DiskFull     bool    `json:"disk_full" yaml:"disk_full"`
	Error        string  `json:"error,omitempty" yaml:"error,omitempty"`
}

type MetadataReport struct {
	Cleaned       bool   `json:"cleaned" yaml:"cleaned"`
	FSType        string `json:"fs_type" yaml:"fs_type"`
	Target        int    `json:"target" yaml:"target"`
	FilesCreated  int    `json:"files_created" yaml:"files_created"`
	FilesRemoved  int    `json:"files_removed" yaml:"files_removed"`
	TotalEntries  uint64 `json:"total_entries,omitempty" yaml:"total_entries,omitempty"`
	FreeEntries   uint64 `json:"free_entries,omitempty" yaml:"free_entries,omitempty"`
	Fragmentation string `json:"fragmentation,omitempty" yaml:"fragmentation,omitempty"`
	PartialScan   bool   `json:"partial_scan,omitempty" yaml:"partial_scan,omitempty"`
	Reason        string `json:"reason,omitempty" yaml:"reason,omitempty"`
	Duration      string `json:"duration" yaml:"duration"`
}

// ExitCodeFor maps a finished session to the process exit code:
// cancellation and skipped metadata cleaning are warnings.
func ExitCodeFor(sum session.Summary) int {
	switch {
	case sum.Cancelled:
		return ExitWarning
	case sum.Success:
		if sum.Metadata != nil && !sum.Metadata.Cleaned {
			return ExitWarning
		}
		return ExitSuccess
	case sum.Mode == session.ModeMetadataOnly && sum.Metadata != nil && !sum.Metadata.MediaFailure:
		return ExitWarning
	default:
		return ExitError
	}
}

func statusFor(code int, sum session.Summary) string {
	switch {
	case sum.Cancelled:
		return "cancelled"
	case code == ExitSuccess:
		return "completed"
	case code == ExitWarning:
		return "partial"
	default:
		return "failed"
	}
}

// GenerateReport builds the report for a finished session.
func GenerateReport(sum session.Summary, cfg *config.Config, profile string, dryRun bool) *Report {
	hostname, _ := os.Hostname()
	code := ExitCodeFor(sum)

	report := &Report{
		RunID:     uuid.NewString(),
		Version:   Version,
		Hostname:  hostname,
		Timestamp: sum.StartTime,
		Config:    configToMap(cfg),
		Profile:   profile,
		DryRun:    dryRun,
		ExitCode:  code,
		Duration:  sum.EndTime.Sub(sum.StartTime).Round(time.Millisecond).String(),
	}

	sr := SessionReport{
		ID:           sum.ID,
		Mode:         string(sum.Mode),
		Method:       cfg.Wipe.Method,
		Status:       statusFor(code, sum),
		Drive:        sum.Drive,
		BytesWritten: sum.BytesWritten,
		FilesWritten: sum.FilesWritten,
		Reason:       sum.Reason,
		StartTime:    sum.StartTime,
		EndTime:      sum.EndTime,
	}

	var totalSpeed float64
	for i, p := range sum.Passes {
		sr.Passes = append(sr.Passes, PassReport{
			Pass:         i + 1,
			Method:       string(p.Method),
			BytesWritten: p.BytesWritten,
			FilesWritten: p.FilesWritten,
			Duration:     p.Duration.Round(time.Millisecond).String(),
			SpeedMBps:    p.SpeedMBps,
			DiskFull:     p.DiskFull,
			Error:        p.Error,
		})
		totalSpeed += p.SpeedMBps
	}
	if len(sum.Passes) > 0 {
		sr.Method = string(sum.Passes[0].Method)
		sr.AverageSpeed = totalSpeed / float64(len(sum.Passes))
	}

	if m := sum.Metadata; m != nil {
		mr := &MetadataReport{
			Cleaned:      m.Cleaned,
			FSType:       m.FSType,
			Target:       m.Target,
			FilesCreated: m.FilesCreated,
			FilesRemoved: m.FilesRemoved,
			Reason:       m.Reason,
			Duration:     m.Duration.Round(time.Millisecond).String(),
		}
		if m.Scan != nil {
			mr.TotalEntries = m.Scan.TotalEntries
			mr.FreeEntries = m.Scan.FreeEntries
			mr.Fragmentation = m.Scan.Fragmentation.String()
			mr.PartialScan = m.Scan.Partial
		}
		sr.Metadata = mr
	}

	report.Session = sr
	report.Findings = Analyze(sum, cfg)
	return report
}

// SaveReport writes the report under reporting.local_path and returns the file path.
// Disabled reporting returns "" and no error.
func SaveReport(report *Report, cfg *config.Config) (string, error) {
	if !cfg.Reporting.Enabled {
		return "", nil
	}

	if err := os.MkdirAll(cfg.Reporting.LocalPath, 0755); err != nil {
		return "", errors.Wrap(err, "failed to create reports directory")
	}

	format := cfg.Reporting.Format
	data, err := Encode(report, format)
	if err != nil {
		return "", err
	}

	filename := fmt.Sprintf("fsclean_report_%s_%s.%s", report.Timestamp.Format("20060102_150405"),
		report.RunID[:8], format)
	path := filepath.Join(cfg.Reporting.LocalPath, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrapf(err, "failed to write report %s", path)
	}

	return path, nil
}

// Encode serializes the report as json or yaml.
func Encode(report *Report, format string) ([]byte, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(report, "", "  ")
		return data, errors.Wrap(err, "failed to marshal report")
	case "yaml":
		data, err := yaml.Marshal(report)
		return data, errors.Wrap(err, "failed to marshal report")
	default:
		return nil, errors.Newf("unsupported report format: %s", format)
	}
}

// configToMap flattens Config for serialization.
func configToMap(cfg *config.Config) map[string]interface{} {
	return map[string]interface{}{
		"security": map[string]interface{}{
			"require_root":     cfg.Security.RequireRoot,
			"allow_root_fs":    cfg.Security.AllowRootFS,
			"protected_mounts": cfg.Security.ProtectedMounts,
			"excluded_mounts":  cfg.Security.ExcludedMounts,
		},
		"wipe": map[string]interface{}{
			"method":                  cfg.Wipe.Method,
			"chunk_size":              cfg.Wipe.ChunkSize,
			"max_file_size":           cfg.Wipe.MaxFileSize,
			"auto_restart":            cfg.Wipe.AutoRestart,
			"cycle_methods":           cfg.Wipe.CycleMethods,
			"max_passes":              cfg.Wipe.MaxPasses,
			"max_speed_mbps_external": cfg.Wipe.MaxSpeedMBpsExternal,
		},
		"metadata": map[string]interface{}{
			"rate_limit_per_sec": cfg.Metadata.RateLimitPerSec,
			"min_target":         cfg.Metadata.MinTarget,
			"max_target":         cfg.Metadata.MaxTarget,
			"fallback_target":    cfg.Metadata.FallbackTarget,
			"exfat_final_ratio":  cfg.Metadata.ExfatFinalRatio,
		},
		"logging": map[string]interface{}{
			"level": cfg.Logging.Level,
			"file":  cfg.Logging.File,
		},
	}
}
