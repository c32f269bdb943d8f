package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"

	"irkit/collectors"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))
)

func statusStyle(s collectors.Status) lipgloss.Style {
	switch s {
	case collectors.StatusOK:
		return successStyle
	case collectors.StatusPartial:
		return warningStyle
	}
	return errorStyle
}

func printBanner(w io.Writer, hostname string, mode collectors.Mode, sessionID string) {
	fmt.Fprintln(w, bannerStyle.Render("irkit - incident response artifact collection"))
	fmt.Fprintf(w, "%s %s\n", infoStyle.Render("Hostname:"), hostname)
	fmt.Fprintf(w, "%s %s\n", infoStyle.Render("Mode:    "), mode)
	fmt.Fprintf(w, "%s %s\n\n", infoStyle.Render("Session: "), sessionID)
}

func printRecord(w io.Writer, index, total int, rec collectors.Record) {
	fmt.Fprintf(w, "[%d/%d] %-22s %s (%d rows, %s)\n",
		index, total, rec.CollectorID,
		statusStyle(rec.Status).Render(string(rec.Status)),
		len(rec.Payload), rec.Duration().Round(time.Millisecond),
	)
	if rec.Error != "" {
		fmt.Fprintf(w, "        %s\n", rec.Error)
	}
}
