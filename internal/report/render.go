package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/nadmax/sendbatch/internal/command"
)

var (
	colorSuccess = lipgloss.Color("#50C878")
	colorWarning = lipgloss.Color("#FFB347")
	colorError   = lipgloss.Color("#FF6961")
	colorMuted   = lipgloss.Color("#808080")
	colorTitle   = lipgloss.Color("#C4B5FD")
)

var (
	styleTitle = lipgloss.NewStyle().Bold(true).Foreground(colorTitle)
	styleOK    = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleErr   = lipgloss.NewStyle().Foreground(colorError).Bold(true)
	styleDim   = lipgloss.NewStyle().Foreground(colorMuted)
	styleLabel = lipgloss.NewStyle().Width(18)
)

// Banner describes the run before any command is started.
type Banner struct {
	RunID     string
	StartedAt time.Time
	File      string
	Commands  int
	Workers   int
	Retries   int
	DryRun    bool
	LogPath   string
}

func RenderBanner(w io.Writer, b Banner) {
	mode := styleOK.Render("LIVE")
	if b.DryRun {
		mode = styleWarn.Render("DRY RUN")
	}

	var sb strings.Builder
	sb.WriteString(styleTitle.Render("sendbatch") + " " + mode + "\n")
	sb.WriteString(row("Run ID", b.RunID))
	if !b.StartedAt.IsZero() {
		sb.WriteString(row("Started", b.StartedAt.Format(time.RFC3339)))
	}
	sb.WriteString(row("Input", b.File))
	sb.WriteString(row("Commands", fmt.Sprintf("%d", b.Commands)))
	sb.WriteString(row("Workers", fmt.Sprintf("%d", b.Workers)))
	sb.WriteString(row("Max retries", fmt.Sprintf("%d", b.Retries)))
	if b.LogPath != "" {
		sb.WriteString(row("Result log", b.LogPath))
	}

	_, _ = io.WriteString(w, sb.String())
}

// RenderSample lists the first n commands, followed by a count of the rest.
func RenderSample(w io.Writer, batch *command.Batch, n int) {
	sample := batch.Sample(n)
	if len(sample) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString(styleTitle.Render("Commands") + "\n")
	for _, rec := range sample {
		fmt.Fprintf(&sb, "  %s %s\n", styleDim.Render(fmt.Sprintf("%4d", rec.LineNumber)), rec.RawText)
	}
	if more := len(batch.Records) - len(sample); more > 0 {
		sb.WriteString(styleDim.Render(fmt.Sprintf("  ... and %d more", more)) + "\n")
	}
	if len(batch.Rejected) > 0 {
		sb.WriteString(styleWarn.Render(fmt.Sprintf("  %d line(s) rejected", len(batch.Rejected))) + "\n")
		for _, rej := range batch.Rejected {
			sb.WriteString(styleDim.Render("    "+rej.Error()) + "\n")
		}
	}
	if batch.Duplicates > 0 {
		sb.WriteString(styleDim.Render(fmt.Sprintf("  %d duplicate line(s) ignored", batch.Duplicates)) + "\n")
	}

	_, _ = io.WriteString(w, sb.String())
}

func RenderSummary(w io.Writer, s Summary) {
	var sb strings.Builder
	sb.WriteString("\n" + styleTitle.Render("Run summary") + "\n")
	sb.WriteString(row("Total", fmt.Sprintf("%d", s.Total)))
	sb.WriteString(row("Succeeded", styleOK.Render(fmt.Sprintf("%d", s.Succeeded))))
	if s.Failed > 0 {
		sb.WriteString(row("Failed", styleErr.Render(fmt.Sprintf("%d", s.Failed))))
	} else {
		sb.WriteString(row("Failed", fmt.Sprintf("%d", s.Failed)))
	}
	if s.DryRun || s.Skipped > 0 {
		sb.WriteString(row("Skipped (dry run)", styleWarn.Render(fmt.Sprintf("%d", s.Skipped))))
	}
	if s.Cancelled > 0 {
		sb.WriteString(row("Never started", styleWarn.Render(fmt.Sprintf("%d", s.Cancelled))))
	}
	sb.WriteString(row("Attempts", fmt.Sprintf("%d", s.Attempts)))
	sb.WriteString(row("Retries", fmt.Sprintf("%d", s.Retries)))
	sb.WriteString(row("Wall time", s.WallTime))
	if s.LogPath != "" {
		sb.WriteString(row("Result log", s.LogPath))
	}
	if s.SinkErrors > 0 {
		sb.WriteString(row("Sink errors", styleErr.Render(fmt.Sprintf("%d", s.SinkErrors))))
	}

	if len(s.FailedJobs) > 0 {
		sb.WriteString(styleErr.Render("Failed jobs") + "\n")
		for _, job := range s.FailedJobs {
			sb.WriteString("  " + job + "\n")
		}
	}

	_, _ = io.WriteString(w, sb.String())
}

func row(label, value string) string {
	return "  " + styleLabel.Render(label) + styleDim.Render(":") + " " + value + "\n"
}
