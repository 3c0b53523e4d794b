package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"freespace_cleaner/internal/events"
	"freespace_cleaner/internal/session"
)

var (
	summaryBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("86")).
			Padding(0, 2)

	summaryTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("214"))
)

// Console prints session events to a terminal. Progress lines are
// rewritten in place; everything else gets its own line.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	inPlace bool
	pending bool
}

// NewConsole returns a Console. inPlace enables carriage-return updates
// and should be off when out is not a terminal.
func NewConsole(out io.Writer, inPlace bool) *Console {
	return &Console{out: out, inPlace: inPlace}
}

func (c *Console) Emit(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e := ev.(type) {
	case events.Progress:
		line := ProgressLine(e)
		if c.inPlace {
			fmt.Fprintf(c.out, "\r%s", line)
			c.pending = true
			return
		}
		fmt.Fprintln(c.out, line)
	case events.PhaseChange:
		c.println(mutedStyle.Render("Phase: " + e.Phase.String()))
	case events.ScanStatus:
		c.println(mutedStyle.Render(e.Message))
	case events.SpaceUpdate:
		c.println(fmt.Sprintf("%s: %s free", e.MountPoint, FormatGB(e.FreeBytes)))
	case events.PassComplete:
		c.println(fmt.Sprintf("Pass %d (%s) finished: %s in %s", e.Pass, e.Method, FormatBytes(e.BytesWritten),
			e.Duration.Round(time.Second)))
	case events.MetadataCleanFailure:
		c.println(warnStyle.Render("Metadata cleaning failed on " + e.MountPoint + ": " + e.Reason))
	case events.Completion:
		msg := "Completed"
		switch {
		case e.Cancelled:
			msg = "Cancelled"
		case !e.Success:
			msg = "Failed"
		}
		if e.Reason != "" {
			msg += ": " + e.Reason
		}
		c.println(statusMark(e.Success, e.Cancelled) + " " + msg)
	}
}

func (c *Console) println(s string) {
	if c.pending {
		fmt.Fprintln(c.out)
		c.pending = false
	}
	fmt.Fprintln(c.out, s)
}

// Warn prints a highlighted warning line.
func (c *Console) Warn(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.println(warnStyle.Render("WARNING: " + msg))
}

// RenderSummary boxes the outcome of a session.
func RenderSummary(sum session.Summary) string {
	var b strings.Builder
	b.WriteString(summaryTitleStyle.Render(statusMark(sum.Success, sum.Cancelled) + " " + DriveLabel(sum.Drive)))
	b.WriteString("\n\n")

	item := func(k, v string) {
		b.WriteString(fmt.Sprintf("%-16s %s\n", k+":", v))
	}
	item("Session", sum.ID)
	item("Mode", string(sum.Mode))
	if m := sum.Metadata; m != nil {
		if m.Cleaned {
			item("Metadata", fmt.Sprintf("%d filler files (%s)", m.FilesCreated, m.FSType))
		} else {
			item("Metadata", "skipped: "+m.Reason)
		}
	}
	if len(sum.Passes) > 0 {
		methods := make([]string, len(sum.Passes))
		for i, p := range sum.Passes {
			methods[i] = string(p.Method)
		}
		item("Passes", fmt.Sprintf("%d (%s)", len(sum.Passes), strings.Join(methods, ", ")))
		item("Written", fmt.Sprintf("%s in %d files", FormatBytes(sum.BytesWritten), sum.FilesWritten))
	}
	item("Duration", sum.EndTime.Sub(sum.StartTime).Round(time.Second).String())
	if sum.Reason != "" {
		item("Reason", sum.Reason)
	}

	return summaryBoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}
