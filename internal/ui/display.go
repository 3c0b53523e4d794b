package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"freespace_cleaner/internal/events"
	"freespace_cleaner/internal/metadata"
	"freespace_cleaner/internal/system"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("99"))

	rowStyle = lipgloss.NewStyle().
			PaddingRight(2)

	driveTypeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	freeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	mutedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203")).
			Bold(true)

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Bold(true)
)

// RenderDrives lists drives as an aligned table.
func RenderDrives(drives []system.DriveInfo) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Drives"))
	b.WriteString("\n")

	if len(drives) == 0 {
		b.WriteString(mutedStyle.Render("No user mounted drives found"))
		b.WriteString("\n")
		return b.String()
	}

	headers := []string{"#", "Mount", "Device", "Type", "FS", "Size", "Free"}
	rows := make([][]string, 0, len(drives))
	for i, d := range drives {
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			d.MountPoint,
			d.DeviceName,
			string(d.DriveType),
			d.FSType,
			FormatBytes(d.TotalBytes),
			FormatGB(d.FreeBytes),
		})
	}

	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, r := range rows {
		for i, cell := range r {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	b.WriteString(renderRow(headers, widths, func(int) lipgloss.Style { return headerStyle }))
	b.WriteString("\n")
	for _, r := range rows {
		b.WriteString(renderRow(r, widths, func(col int) lipgloss.Style {
			switch col {
			case 3:
				return driveTypeStyle
			case 6:
				return freeStyle
			default:
				return rowStyle
			}
		}))
		b.WriteString("\n")
	}
	return b.String()
}

func renderRow(cells []string, widths []int, style func(col int) lipgloss.Style) string {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = style(i).Width(widths[i] + 2).Render(cell)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

// RenderDriveInfo is the single drive view of the info command.
func RenderDriveInfo(d system.DriveInfo) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(DriveLabel(d)))
	b.WriteString("\n")
	line := func(k, v string) {
		b.WriteString(fmt.Sprintf("  %-12s %s\n", k+":", v))
	}
	line("Mount", d.MountPoint)
	line("Device", d.DeviceName)
	line("Type", string(d.DriveType))
	line("Filesystem", d.FSType)
	line("Total", FormatBytes(d.TotalBytes))
	line("Used", FormatBytes(d.UsedBytes()))
	line("Free", FormatBytes(d.FreeBytes))
	if kind := metadata.KindOf(d.FSType); kind != metadata.FSOther {
		line("Metadata", "cleanable ("+kind.String()+")")
	}
	return b.String()
}

// RenderScan shows the metadata scan.
func RenderScan(res *metadata.ScanResult) string {
	if res == nil {
		return mutedStyle.Render("Metadata scan unavailable") + "\n"
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("Metadata scan of " + res.MountPoint))
	b.WriteString("\n")
	if !res.Available() {
		b.WriteString(warnStyle.Render("No entry counts available; the fallback target will be used"))
		b.WriteString("\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Device:", res.Device))
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "Total entries:", res.TotalEntries))
	b.WriteString(fmt.Sprintf("  %-14s %d\n", "Free entries:", res.FreeEntries))
	b.WriteString(fmt.Sprintf("  %-14s %s\n", "Fragmentation:", res.Fragmentation))
	if res.Partial {
		b.WriteString(warnStyle.Render("  Scan incomplete: deleted entry count unknown"))
		b.WriteString("\n")
	}
	return b.String()
}

// ProgressLine renders one progress event on a single line.
func ProgressLine(p events.Progress) string {
	return fmt.Sprintf("%s %5.1f%%  Rate: %.1f %s  Est Time Remaining: %s",
		progressBar(p.Fraction, 30), p.Fraction*100, p.Rate, p.RateUnit, FormatETA(p.ETA))
}

func statusMark(success, cancelled bool) string {
	switch {
	case success:
		return okStyle.Render("✓")
	case cancelled:
		return warnStyle.Render("⚠")
	default:
		return errorStyle.Render("✗")
	}
}

// RenderDiagnostics lists diagnostic results with their status.
func RenderDiagnostics(d *system.Diagnostics) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Diagnostics (%s/%s)", d.OS, d.Arch)))
	b.WriteString("\n")
	for _, r := range d.Results {
		var status string
		switch r.Status {
		case system.StatusPass:
			status = okStyle.Render(r.Status)
		case system.StatusWarn:
			status = warnStyle.Render(r.Status)
		default:
			status = errorStyle.Render(r.Status)
		}
		b.WriteString(fmt.Sprintf("  %-4s  %-12s %s\n", status, r.Test, r.Message))
	}
	b.WriteString(fmt.Sprintf("\nOverall: %s\n", d.Overall))
	return b.String()
}
