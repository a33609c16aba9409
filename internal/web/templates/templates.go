// Package templates renders the HTML pages of the load server.
package templates

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/tabload/internal/core"
)

const style = `body{font-family:system-ui,sans-serif;margin:2rem;color:#1f2933}
table{border-collapse:collapse;margin:1rem 0}
th,td{border:1px solid #cbd2d9;padding:.3rem .6rem;text-align:left}
th{background:#f5f7fa}
.succeeded{color:#207227}.partial{color:#b44d12}.failed{color:#ab091e}
.alert{border:1px solid #ab091e;background:#ffe3e3;padding:.8rem;margin:1rem 0}
code{font-size:.9em}`

// Layout wraps body in the shared page chrome.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw("<!DOCTYPE html><html lang=\"en\"><head><meta charset=\"utf-8\"><title>")
		p.text(title)
		p.raw(" · tabload</title><style>" + style + "</style></head><body>")
		if p.err != nil {
			return p.err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		p.raw("</body></html>")
		return p.err
	})
}

// LoadsPage lists the tracked loads, newest first.
func LoadsPage(loads []core.LoadStatus, limiter core.LimiterStatus) templ.Component {
	return Layout("Loads", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw("<h1>Loads</h1><p>")
		p.text(fmt.Sprintf("%d of %d load slots in use", limiter.Active, limiter.MaxConcurrent))
		p.raw("</p>")
		if len(loads) == 0 {
			p.raw("<p>No loads yet.</p>")
			return p.err
		}
		p.raw("<table><thead><tr><th>Load</th><th>Descriptor</th><th>State</th><th>Started</th></tr></thead><tbody>")
		for _, l := range loads {
			p.raw("<tr><td><a href=\"")
			p.text(string(templ.URL("/loads/" + l.ID)))
			p.raw("\"><code>")
			p.text(l.ID)
			p.raw("</code></a></td><td>")
			p.text(l.Ref)
			p.raw("</td><td>")
			p.text(string(l.State))
			p.raw("</td><td>")
			p.text(l.StartedAt.Format(time.RFC3339))
			p.raw("</td></tr>")
		}
		p.raw("</tbody></table>")
		return p.err
	}))
}

// LoadPage shows one load and, once finished, its report.
func LoadPage(status core.LoadStatus) templ.Component {
	return Layout("Load "+status.ID, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw("<h1>Load <code>")
		p.text(status.ID)
		p.raw("</code></h1><p>")
		p.text(status.Ref)
		p.raw(" · ")
		p.text(string(status.State))
		if status.Requester != nil && status.Requester.IPAddress != "" {
			p.raw(" · requested from ")
			p.text(status.Requester.IPAddress)
		}
		p.raw("</p>")
		if p.err != nil {
			return p.err
		}

		if status.Error != nil {
			if err := ErrorAlert(status.Error.Message, status.Error.Action, status.Error.Code).Render(ctx, w); err != nil {
				return err
			}
		}

		if status.Report == nil {
			p.raw("<h2>Progress</h2><table><thead><tr><th>Resource</th><th>Phase</th><th>Rows</th><th>Inserted</th><th>Read</th></tr></thead><tbody>")
			names := make([]string, 0, len(status.Progress))
			for name := range status.Progress {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				pr := status.Progress[name]
				p.raw("<tr><td>")
				p.text(pr.Resource)
				p.raw("</td><td>")
				p.text(string(pr.Phase))
				p.raw("</td><td>")
				p.text(fmt.Sprint(pr.Rows))
				p.raw("</td><td>")
				p.text(fmt.Sprint(pr.Inserted))
				p.raw("</td><td>")
				p.text(fmt.Sprintf("%d%%", pr.Percent()))
				p.raw("</td></tr>")
			}
			p.raw("</tbody></table>")
			return p.err
		}
		return Report(*status.Report).Render(ctx, w)
	}))
}

// Report renders a finished load report.
func Report(report core.LoadReport) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		attempted, inserted, skipped := report.Totals()
		p.raw("<h2>")
		p.text(report.Package)
		p.raw("</h2><p>")
		p.text(fmt.Sprintf("%d rows attempted, %d inserted, %d skipped in %s",
			attempted, inserted, skipped, report.Duration.Round(time.Millisecond)))
		p.raw("</p>")

		p.raw("<table><thead><tr><th>Resource</th><th>Table</th><th>Outcome</th><th>Status</th><th>Attempted</th><th>Inserted</th><th>Skipped</th><th>Warnings</th><th>Error</th></tr></thead><tbody>")
		for _, rr := range report.Resources {
			p.raw("<tr><td>")
			p.text(rr.Resource)
			p.raw("</td><td><code>")
			p.text(rr.Table)
			p.raw("</code></td><td>")
			p.text(string(rr.Outcome))
			p.raw("</td><td class=\"")
			p.text(string(rr.Status))
			p.raw("\">")
			p.text(string(rr.Status))
			p.raw("</td><td>")
			p.text(fmt.Sprint(rr.RowsAttempted))
			p.raw("</td><td>")
			p.text(fmt.Sprint(rr.RowsInserted))
			p.raw("</td><td>")
			p.text(fmt.Sprint(rr.RowsSkipped))
			p.raw("</td><td>")
			p.text(fmt.Sprint(len(rr.Warnings)))
			p.raw("</td><td>")
			if rr.ErrorCode != "" {
				p.text(rr.Error + " (" + rr.ErrorCode + ")")
			}
			p.raw("</td></tr>")
		}
		p.raw("</tbody></table>")

		for _, rr := range report.Resources {
			if len(rr.Skipped) == 0 && len(rr.Warnings) == 0 && len(rr.SchemaWarnings) == 0 {
				continue
			}
			p.raw("<h3>")
			p.text(rr.Resource)
			p.raw("</h3><ul>")
			for _, sw := range rr.SchemaWarnings {
				p.raw("<li>")
				p.text(sw)
				p.raw("</li>")
			}
			for _, s := range rr.Skipped {
				p.raw("<li>")
				p.text(s.Error())
				p.raw("</li>")
			}
			for _, cw := range rr.Warnings {
				p.raw("<li>")
				p.text(cw.Error())
				p.raw("</li>")
			}
			p.raw("</ul>")
		}
		return p.err
	})
}

// ErrorAlert renders a user message with its support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &printer{w: w}
		p.raw("<div class=\"alert\" role=\"alert\"><strong>")
		p.text(message)
		p.raw("</strong>")
		if action != "" {
			p.raw("<p>")
			p.text(action)
			p.raw("</p>")
		}
		p.raw("<small>Code: ")
		p.text(code)
		p.raw("</small></div>")
		return p.err
	})
}

// printer keeps the first write error so components can write freely.
type printer struct {
	w   io.Writer
	err error
}

func (p *printer) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *printer) text(s string) {
	p.raw(templ.EscapeString(strings.TrimSpace(s)))
}
