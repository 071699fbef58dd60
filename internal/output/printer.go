// Package output renders heartbeat results for the terminal.
//
// Every command writes through a [Printer]; tests construct one with
// [NewPrinterWithWriter] and assert on the buffer.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"heartbeat/internal/checks"
	"heartbeat/internal/dispatch"
	"heartbeat/internal/pipeline"
	"heartbeat/internal/registry"
	"heartbeat/internal/store"
)

// Printer writes styled output.
type Printer struct {
	out      io.Writer
	style    styles
	maxWidth int
}

// NewPrinter creates a Printer on stdout.
func NewPrinter() *Printer {
	return NewPrinterWithWriter(os.Stdout)
}

// NewPrinterWithWriter creates a Printer on w. The color profile is detected
// from w, so a buffer gets plain text.
func NewPrinterWithWriter(w io.Writer) *Printer {
	return &Printer{out: w, style: newStyles(lipgloss.NewRenderer(w)), maxWidth: 60}
}

// SetMaxWidth bounds table cells. Zero disables truncation.
func (p *Printer) SetMaxWidth(n int) {
	p.maxWidth = n
}

// Writer returns the underlying writer.
func (p *Printer) Writer() io.Writer {
	return p.out
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) {
	fmt.Fprintln(p.out, p.style.success.Render("✓ "+fmt.Sprintf(format, args...)))
}

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) {
	fmt.Fprintln(p.out, p.style.err.Render("✗ "+fmt.Sprintf(format, args...)))
}

// Info prints a plain line.
func (p *Printer) Info(format string, args ...any) {
	fmt.Fprintln(p.out, p.style.text.Render(fmt.Sprintf(format, args...)))
}

// DispatchResult prints a dispatch summary.
func (p *Printer) DispatchResult(res dispatch.Result) {
	title := "Dispatch"
	if res.DryRun {
		title = "Dispatch (dry run)"
	}
	fmt.Fprintln(p.out, p.style.header.Render(title))

	if len(res.Dispatched) > 0 {
		rows := make([][]string, 0, len(res.Dispatched))
		for _, d := range res.Dispatched {
			state := "completed"
			switch {
			case res.DryRun:
				state = "would run"
			case !d.Completed:
				state = "failed"
			}
			rows = append(rows, []string{d.ID, d.Title, state, fmt.Sprint(d.ExitCode), d.Duration.Round(time.Second).String()})
		}
		p.table([]string{"ITEM", "TITLE", "STATE", "EXIT", "DURATION"}, rows)
	}
	for _, s := range res.Skipped {
		id := s.ID
		if id == "" {
			id = "-"
		}
		fmt.Fprintln(p.out, p.style.warn.Render(fmt.Sprintf("○ skipped %s: %s", id, s.Reason)))
	}
	for _, e := range res.Errors {
		p.Error("%s: %s", e.ID, e.Error)
	}

	summary := fmt.Sprintf("Dispatched: %d | Skipped: %d | Errors: %d", len(res.Dispatched), len(res.Skipped), len(res.Errors))
	fmt.Fprintln(p.out, p.style.box.Render(summary))
}

// Items prints work items as a table.
func (p *Printer) Items(items []store.WorkItem) {
	if len(items) == 0 {
		p.Info("No work items.")
		return
	}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		rows = append(rows, []string{it.ID, it.Priority.String(), string(it.Status), it.Project, it.Source, it.Title})
	}
	p.table([]string{"ID", "PRI", "STATUS", "PROJECT", "SOURCE", "TITLE"}, rows)
}

// Item prints one work item with its events.
func (p *Printer) Item(item *store.WorkItem, events []store.Event) {
	fmt.Fprintln(p.out, p.style.title.Render(item.ID+"  "+item.Title))
	p.field("Status", string(item.Status))
	p.field("Priority", item.Priority.String())
	p.field("Project", item.Project)
	p.field("Source", item.Source)
	p.field("Source ref", item.SourceRef)
	p.field("Claimed by", item.ClaimedBy)
	p.field("Last error", item.LastError)
	p.field("Created", item.CreatedAt.Local().Format(time.DateTime))
	if len(item.Metadata) > 0 {
		p.field("Metadata", string(item.Metadata))
	}
	if item.Description != "" {
		fmt.Fprintln(p.out)
		fmt.Fprintln(p.out, item.Description)
	}
	if len(events) > 0 {
		fmt.Fprintln(p.out)
		p.Events(events)
	}
}

func (p *Printer) field(name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(p.out, "%s %s\n", p.style.subtle.Render(fmt.Sprintf("%-11s", name+":")), value)
}

// Events prints event log entries.
func (p *Printer) Events(events []store.Event) {
	if len(events) == 0 {
		p.Info("No events.")
		return
	}
	rows := make([][]string, 0, len(events))
	for _, e := range events {
		rows = append(rows, []string{e.Timestamp.Local().Format(time.DateTime), e.Type, e.WorkItemID, e.Summary})
	}
	p.table([]string{"TIME", "TYPE", "ITEM", "SUMMARY"}, rows)
}

// Agents prints the active agent census.
func (p *Printer) Agents(sessions []store.AgentSession, now time.Time) {
	fmt.Fprintln(p.out, p.style.header.Render(fmt.Sprintf("Active agents: %d", len(sessions))))
	if len(sessions) == 0 {
		return
	}
	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		rows = append(rows, []string{s.SessionID, s.WorkItemID, now.Sub(s.StartedAt).Round(time.Second).String()})
	}
	p.table([]string{"SESSION", "ITEM", "RUNNING"}, rows)
}

// Lineage prints a feature's pipeline history.
func (p *Printer) Lineage(l pipeline.Lineage, g *pipeline.Graph) {
	state := "in progress"
	switch {
	case len(l.Steps) == 0:
		state = "not started"
	case l.Done(g):
		state = "done"
	case l.Stalled(g):
		state = "stalled"
	}
	fmt.Fprintln(p.out, p.style.header.Render(fmt.Sprintf("Feature %s (%s)", l.FeatureID, state)))
	if len(l.Steps) == 0 {
		return
	}
	rows := make([][]string, 0, len(l.Steps))
	for _, s := range l.Steps {
		rows = append(rows, []string{s.ItemID, s.Phase, fmt.Sprint(s.RetryCount), string(s.Status), firstLine(s.Feedback)})
	}
	p.table([]string{"ITEM", "PHASE", "RETRY", "STATUS", "FEEDBACK"}, rows)
}

// Checks prints checklist results.
func (p *Printer) Checks(results []checks.CheckResult) {
	for _, r := range results {
		line := fmt.Sprintf("%s: %s", r.Name, r.Summary)
		switch r.Status {
		case checks.StatusOK:
			p.Success("%s", line)
		case checks.StatusWarn:
			fmt.Fprintln(p.out, p.style.warn.Render("! "+line))
		default:
			p.Error("%s", line)
		}
	}
}

// Projects prints the project registry.
func (p *Printer) Projects(projects []registry.Project) {
	if len(projects) == 0 {
		p.Info("No projects registered.")
		return
	}
	rows := make([][]string, 0, len(projects))
	for _, pr := range projects {
		rows = append(rows, []string{pr.ID, pr.Name, pr.LocalPath, pr.Branch()})
	}
	p.table([]string{"ID", "NAME", "PATH", "BRANCH"}, rows)
}

// Swept prints the worktrees removed by a sweep.
func (p *Printer) Swept(paths []string) {
	if len(paths) == 0 {
		p.Info("No stale worktrees.")
		return
	}
	for _, path := range paths {
		p.Success("removed %s", path)
	}
}

func (p *Printer) table(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}
	if p.maxWidth > 0 {
		for i := range widths {
			if widths[i] > p.maxWidth {
				widths[i] = p.maxWidth
			}
		}
	}

	var sb strings.Builder
	cells := make([]string, len(headers))
	for i, h := range headers {
		cells[i] = p.style.header.Render(padRight(h, widths[i]))
	}
	sb.WriteString(strings.Join(cells, "  ") + "\n")

	for _, row := range rows {
		for i := range headers {
			val := ""
			if i < len(row) {
				val = row[i]
			}
			if widths[i] >= 2 && len(val) > widths[i] {
				val = val[:widths[i]-1] + "…"
			}
			cells[i] = p.style.text.Render(padRight(val, widths[i]))
		}
		sb.WriteString(strings.TrimRight(strings.Join(cells, "  "), " ") + "\n")
	}
	fmt.Fprint(p.out, sb.String())
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
