package ui

import (
	"fmt"
	"strings"
	"time"

	"freespace_cleaner/internal/system"
)

// FormatETA renders a remaining time as "H hours, M min., S sec." or,
// under an hour, "M min., S sec.".
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	hours := total / 3600
	mins := (total % 3600) / 60
	secs := total % 60

	if hours > 0 {
		unit := "hours"
		if hours == 1 {
			unit = "hour"
		}
		return fmt.Sprintf("%d %s, %d min., %d sec.", hours, unit, mins, secs)
	}
	return fmt.Sprintf("%d min., %d sec.", mins, secs)
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit && exp < 4; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTP"[exp])
}

// FormatGB is the drive selector's free-space notation.
func FormatGB(bytes uint64) string {
	return fmt.Sprintf("%.1f GB", float64(bytes)/(1024*1024*1024))
}

// DriveLabel: "/mnt/data (sdb1 - HDD) - 12.3 GB free".
func DriveLabel(d system.DriveInfo) string {
	name := d.DeviceName
	if name == "" {
		name = "unknown"
	}
	return fmt.Sprintf("%s (%s - %s) - %s free", d.MountPoint, name, d.DriveType, FormatGB(d.FreeBytes))
}

func progressBar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float64(width))
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
