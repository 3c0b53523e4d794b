package reporting

import (
	"fmt"

	"freespace_cleaner/internal/config"
	"freespace_cleaner/internal/session"
	"freespace_cleaner/internal/system"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Finding is an observation about a run that the operator should act on.
type Finding struct {
	ID             string   `json:"id" yaml:"id"`
	Severity       Severity `json:"severity" yaml:"severity"`
	Title          string   `json:"title" yaml:"title"`
	Recommendation string   `json:"recommendation,omitempty" yaml:"recommendation,omitempty"`
}

// Analyze derives findings from a session summary.
func Analyze(sum session.Summary, cfg *config.Config) []Finding {
	var out []Finding
	add := func(sev Severity, title, rec string) {
		out = append(out, Finding{ID: fmt.Sprintf("F%03d", len(out)+1), Severity: sev, Title: title, Recommendation: rec})
	}

	if len(sum.Passes) > 1 && (sum.Drive.DriveType == system.DriveSSD || sum.Drive.DriveType == system.DriveUSBSSD) {
		add(SeverityWarning, fmt.Sprintf("%d passes written to solid state media", len(sum.Passes)),
			"Prefer a single pass on SSDs; wear leveling makes extra passes ineffective")
	}

	if m := sum.Metadata; m != nil {
		switch {
		case m.MediaFailure:
			add(SeverityCritical, "I/O errors while cleaning metadata on "+sum.Drive.MountPoint,
				"Check the drive health before reusing it")
		case !m.Cleaned && !m.Cancelled:
			add(SeverityWarning, "Metadata cleaning skipped: "+m.Reason, "")
		}
		if m.Scan != nil && m.Scan.Partial {
			add(SeverityInfo, "Metadata scan was incomplete; target count used fallback values",
				"Install sleuthkit (fsstat, fls) and run as root for exact counts")
		}
	}

	if !sum.Success && !sum.Cancelled && sum.Mode != session.ModeMetadataOnly {
		add(SeverityCritical, "Free space wipe did not finish: "+sum.Reason, "Re-run the wipe after fixing the error")
	}

	for _, p := range sum.Passes {
		if !p.DiskFull && p.Error == "" && !p.Cancelled {
			add(SeverityInfo, "A pass ended before the volume filled up", "")
			break
		}
	}

	if cfg != nil && cfg.Wipe.MaxSpeedMBpsExternal > 0 && sum.Drive.DriveType.Throttled() {
		add(SeverityInfo, fmt.Sprintf("Write speed was capped at %.0f MB/s", cfg.Wipe.MaxSpeedMBpsExternal), "")
	}

	return out
}
