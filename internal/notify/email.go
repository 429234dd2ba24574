// Package notify sends the end-of-run summary to operators.
package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/nadmax/sendbatch/internal/report"
)

type Notifier interface {
	Notify(ctx context.Context, s report.Summary) error
}

type SendGridNotifier struct {
	client   *sendgrid.Client
	fromName string
	from     string
	to       []string
}

func NewSendGridNotifier(apiKey, from string, to []string) (*SendGridNotifier, error) {
	if apiKey == "" {
		return nil, errors.New("missing SendGrid API key")
	}
	if len(to) == 0 {
		return nil, errors.New("missing recipient")
	}

	return &SendGridNotifier{
		client:   sendgrid.NewSendClient(apiKey),
		fromName: "sendbatch",
		from:     from,
		to:       to,
	}, nil
}

// SetEndpoint points the client at another mail send URL.
func (n *SendGridNotifier) SetEndpoint(url string) {
	n.client.BaseURL = url
}

func (n *SendGridNotifier) Notify(ctx context.Context, s report.Summary) error {
	msg := n.Message(s)

	response, err := n.client.SendWithContext(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to send summary email: %w", err)
	}
	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: status %d", response.StatusCode)
	}

	slog.Info("summary email sent", "to", strings.Join(n.to, ","), "status", response.StatusCode)
	return nil
}

func (n *SendGridNotifier) Message(s report.Summary) *mail.SGMailV3 {
	from := mail.NewEmail(n.fromName, n.from)
	first := mail.NewEmail("", n.to[0])
	msg := mail.NewSingleEmail(from, Subject(s), first, PlainBody(s), HTMLBody(s))

	for _, addr := range n.to[1:] {
		msg.Personalizations[0].AddTos(mail.NewEmail("", addr))
	}

	return msg
}

func Subject(s report.Summary) string {
	run := s.RunID
	if len(run) > 8 {
		run = run[:8]
	}

	switch {
	case s.Failed > 0:
		return fmt.Sprintf("[sendbatch] run %s: %d of %d commands failed", run, s.Failed, s.Total)
	case s.DryRun:
		return fmt.Sprintf("[sendbatch] run %s: dry run of %d commands", run, s.Total)
	default:
		return fmt.Sprintf("[sendbatch] run %s: all %d commands succeeded", run, s.Total)
	}
}

func PlainBody(s report.Summary) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Run ID:     %s\n", s.RunID)
	fmt.Fprintf(&sb, "Total:      %d\n", s.Total)
	fmt.Fprintf(&sb, "Succeeded:  %d\n", s.Succeeded)
	fmt.Fprintf(&sb, "Failed:     %d\n", s.Failed)
	if s.Skipped > 0 {
		fmt.Fprintf(&sb, "Skipped:    %d\n", s.Skipped)
	}
	fmt.Fprintf(&sb, "Attempts:   %d\n", s.Attempts)
	fmt.Fprintf(&sb, "Retries:    %d\n", s.Retries)
	fmt.Fprintf(&sb, "Wall time:  %s\n", s.WallTime)
	if s.LogPath != "" {
		fmt.Fprintf(&sb, "Result log: %s\n", s.LogPath)
	}

	if len(s.FailedJobs) > 0 {
		sb.WriteString("\nFailed jobs:\n")
		for _, job := range s.FailedJobs {
			fmt.Fprintf(&sb, "  %s\n", job)
		}
	}

	return sb.String()
}

func HTMLBody(s report.Summary) string {
	var sb strings.Builder

	sb.WriteString("<h3>sendbatch run summary</h3>\n<table>\n")
	rows := [][2]string{
		{"Run ID", s.RunID},
		{"Total", fmt.Sprint(s.Total)},
		{"Succeeded", fmt.Sprint(s.Succeeded)},
		{"Failed", fmt.Sprint(s.Failed)},
		{"Attempts", fmt.Sprint(s.Attempts)},
		{"Wall time", s.WallTime},
	}
	for _, row := range rows {
		fmt.Fprintf(&sb, "<tr><td>%s</td><td>%s</td></tr>\n", row[0], html.EscapeString(row[1]))
	}
	sb.WriteString("</table>\n")

	if len(s.FailedJobs) > 0 {
		sb.WriteString("<h4>Failed jobs</h4>\n<ul>\n")
		for _, job := range s.FailedJobs {
			fmt.Fprintf(&sb, "<li>%s</li>\n", html.EscapeString(job))
		}
		sb.WriteString("</ul>\n")
	}

	return sb.String()
}
