package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/JonMunkholm/tabload/internal/core"
)

// styledOutput reports whether f is a terminal that wants color. CI and
// NO_COLOR opt out.
func styledOutput(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" || os.Getenv("CI") != "" {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

type reportStyles struct {
	Title     lipgloss.Style
	Succeeded lipgloss.Style
	Partial   lipgloss.Style
	Failed    lipgloss.Style
	Muted     lipgloss.Style
}

func defaultReportStyles() reportStyles {
	return reportStyles{
		Title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		Succeeded: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		Partial:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		Failed:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")),
		Muted:     lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// plainStyles renders every style as the bare string.
func plainStyles() reportStyles {
	s := lipgloss.NewStyle()
	return reportStyles{Title: s, Succeeded: s, Partial: s, Failed: s, Muted: s}
}

func (s reportStyles) status(st core.Status) lipgloss.Style {
	switch st {
	case core.StatusSucceeded:
		return s.Succeeded
	case core.StatusPartial:
		return s.Partial
	default:
		return s.Failed
	}
}

// maxListed caps the skipped rows and warnings printed per resource.
const maxListed = 10

func printReport(w io.Writer, report *core.LoadReport, styles reportStyles) {
	attempted, inserted, skipped := report.Totals()

	fmt.Fprintln(w, styles.Title.Render(report.Package))
	fmt.Fprintln(w, styles.Muted.Render(fmt.Sprintf("%d rows attempted, %d inserted, %d skipped in %s",
		attempted, inserted, skipped, report.Duration.Round(time.Millisecond))))
	fmt.Fprintln(w)

	for _, rr := range report.Resources {
		fmt.Fprintf(w, "%s %s", styles.status(rr.Status).Render(fmt.Sprintf("%-9s", rr.Status)), rr.Resource)
		if rr.Table != "" {
			fmt.Fprintf(w, " -> %s (%s)", rr.Table, rr.Outcome)
		}
		fmt.Fprintln(w)

		indent := "          "
		if rr.Status != core.StatusFailed || rr.RowsAttempted > 0 {
			fmt.Fprintf(w, "%s%d attempted, %d inserted, %d skipped, %d values nulled\n",
				indent, rr.RowsAttempted, rr.RowsInserted, rr.RowsSkipped, len(rr.Warnings))
		}
		if rr.Error != "" {
			msg := rr.Error
			if rr.ErrorCode != "" {
				msg += " (" + rr.ErrorCode + ")"
			}
			fmt.Fprintln(w, indent+styles.Failed.Render(msg))
		}
		for _, sw := range rr.SchemaWarnings {
			fmt.Fprintln(w, indent+styles.Muted.Render("schema: "+sw))
		}

		lines := make([]string, 0, len(rr.Skipped)+len(rr.Warnings))
		for _, s := range rr.Skipped {
			lines = append(lines, s.Error())
		}
		for _, cw := range rr.Warnings {
			lines = append(lines, cw.Error())
		}
		for i, line := range lines {
			if i == maxListed {
				fmt.Fprintln(w, indent+styles.Muted.Render(fmt.Sprintf("... %d more", len(lines)-maxListed)))
				break
			}
			fmt.Fprintln(w, indent+styles.Muted.Render(line))
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// progressPrinter writes a line whenever a resource finishes.
func progressPrinter(w io.Writer, styles reportStyles) core.ProgressFunc {
	var mu sync.Mutex
	return func(p core.Progress) {
		mu.Lock()
		defer mu.Unlock()
		switch p.Phase {
		case core.PhaseComplete:
			fmt.Fprintf(w, "%s %s: %d rows\n", styles.Succeeded.Render("loaded"), p.Resource, p.Inserted)
		case core.PhaseFailed:
			fmt.Fprintf(w, "%s %s: %s\n", styles.Failed.Render("failed"), p.Resource, strings.TrimSpace(p.Error))
		}
	}
}
