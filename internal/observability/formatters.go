// Package observability provides metrics and formatted CLI output for
// ingestion runs.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jonathan/planning-ingest/internal/types"
)

const (
	// boxWidth is the width of formatted output boxes
	boxWidth = 72
	// maxItemsToShow bounds list output
	maxItemsToShow = 10
)

// Printer writes human-readable run reports
type Printer struct {
	out io.Writer
}

// NewPrinter creates a Printer that writes to out
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a titled box
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)
	for _, line := range strings.Split(content, "\n") {
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, truncate(line, boxWidth-4))
	}
	fmt.Fprintf(p.out, "└%s┘\n", border)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// PrintProgress writes one progress line
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintProgress(step, category, message string) {
	if category == "" {
		fmt.Fprintf(p.out, "  %s: %s\n", step, message)
		return
	}
	fmt.Fprintf(p.out, "  [%s] %s: %s\n", category, step, message)
}

// PrintRun outputs a run header followed by its step table
func (p *Printer) PrintRun(run *types.Run, doc *types.Document, runSteps []types.RunStep, reused bool) {
	if run == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Run:       %s\n", run.ID)
	fmt.Fprintf(&sb, "Status:    %s\n", strings.ToUpper(run.Status))
	fmt.Fprintf(&sb, "Pipeline:  %s\n", run.PipelineVersion)
	if doc != nil {
		fmt.Fprintf(&sb, "Document:  %s (%s)\n", doc.Filename, doc.ID)
		cycle := doc.PlanCycle
		if cycle == "" {
			cycle = "-"
		}
		fmt.Fprintf(&sb, "Authority: %s  cycle %s\n", doc.Authority, cycle)
		if reused {
			sb.WriteString("Reused:    existing document, completed stages skipped\n")
		}
	}
	if run.CompletedAt != nil {
		fmt.Fprintf(&sb, "Elapsed:   %s\n", run.CompletedAt.Sub(run.CreatedAt).Round(time.Millisecond))
	}
	if run.ErrorMessage != nil {
		fmt.Fprintf(&sb, "Error:     %s\n", *run.ErrorMessage)
	}
	p.printBox("INGESTION RUN", strings.TrimSuffix(sb.String(), "\n"))

	if len(runSteps) > 0 {
		p.printBox("STEPS", stepTable(runSteps))
	}
}

func stepTable(runSteps []types.RunStep) string {
	var sb strings.Builder
	for i, st := range runSteps {
		dur := "-"
		if st.DurationMs != nil {
			dur = (time.Duration(*st.DurationMs) * time.Millisecond).String()
		}
		fmt.Fprintf(&sb, "%s %-22s %-8s %8s", statusMark(st.Status), st.Step, st.Status, dur)
		if note := stepNote(st); note != "" {
			fmt.Fprintf(&sb, "  %s", note)
		}
		if i < len(runSteps)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func statusMark(status string) string {
	switch status {
	case types.StepStatusSuccess:
		return "✓"
	case types.StepStatusSkipped:
		return "-"
	case types.StepStatusFailed:
		return "✗"
	case types.StepStatusRunning:
		return "…"
	default:
		return " "
	}
}

// stepNote is the skip reason or error of a step
func stepNote(st types.RunStep) string {
	if st.ErrorMessage != nil {
		return *st.ErrorMessage
	}
	if reason, ok := st.Summary["reason"].(string); ok {
		return reason
	}
	return ""
}

// PrintRuns outputs a list of runs, newest first
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintRuns(runs []types.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(p.out, "No runs found.")
		return
	}
	var sb strings.Builder
	for i, r := range runs {
		fmt.Fprintf(&sb, "%s  %-8s %s", r.ID, r.Status, r.CreatedAt.UTC().Format(time.DateTime))
		if i < len(runs)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox(fmt.Sprintf("RUNS (%d)", len(runs)), sb.String())
}

// PrintToolRuns outputs provenance records grouped by tool
func (p *Printer) PrintToolRuns(toolRuns []types.ToolRun) {
	if len(toolRuns) == 0 {
		return
	}

	type tally struct {
		ok, failed int
		low        int
	}
	byTool := map[string]*tally{}
	for _, tr := range toolRuns {
		t := byTool[tr.Tool]
		if t == nil {
			t = &tally{}
			byTool[tr.Tool] = t
		}
		if tr.Status == types.ToolRunStatusError {
			t.failed++
		} else {
			t.ok++
		}
		if tr.ConfidenceHint != nil && *tr.ConfidenceHint == types.ConfidenceLow {
			t.low++
		}
	}
	tools := make([]string, 0, len(byTool))
	for name := range byTool {
		tools = append(tools, name)
	}
	sort.Strings(tools)

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d tool runs\n\n", len(toolRuns))
	for i, name := range tools {
		if i == maxItemsToShow {
			fmt.Fprintf(&sb, "... and %d more tools", len(tools)-maxItemsToShow)
			break
		}
		t := byTool[name]
		fmt.Fprintf(&sb, "%-28s ok %-4d failed %-4d low-confidence %d", name, t.ok, t.failed, t.low)
		if i < len(tools)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox("PROVENANCE", sb.String())
}

// LayerLine is one GIS layer in a report
type LayerLine struct {
	Name     string
	Features int
	Missing  bool
}

// PrintLayers outputs the result of a GIS ingestion
func (p *Printer) PrintLayers(authority string, skipped bool, deactivated int, layers []LayerLine) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Authority: %s\n", authority)
	if skipped {
		sb.WriteString("Active features exist; nothing ingested (use --force)")
		p.printBox("GIS LAYERS", sb.String())
		return
	}
	if deactivated > 0 {
		fmt.Fprintf(&sb, "Deactivated %d previous rows\n", deactivated)
	}
	sb.WriteString("\n")
	for i, l := range layers {
		state := fmt.Sprintf("%d features", l.Features)
		if l.Missing {
			state = "no source, profiled only"
		}
		fmt.Fprintf(&sb, "• %-36s %s", l.Name, state)
		if i < len(layers)-1 {
			sb.WriteString("\n")
		}
	}
	p.printBox("GIS LAYERS", sb.String())
}
