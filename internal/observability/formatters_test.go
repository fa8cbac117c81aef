package observability

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/planning-ingest/internal/types"
)

func ptr[T any](v T) *T { return &v }

func TestPrintRun(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	run := &types.Run{
		ID:              uuid.New(),
		PipelineVersion: "1.0.0",
		Status:          types.RunStatusPartial,
		CreatedAt:       created,
		CompletedAt:     ptr(created.Add(1500 * time.Millisecond)),
	}
	doc := &types.Document{ID: uuid.New(), Authority: "camden", PlanCycle: "2025", Filename: "local-plan.pdf"}
	runSteps := []types.RunStep{
		{Step: "parse", Status: types.StepStatusSuccess, DurationMs: ptr(1200)},
		{Step: "segmentation", Status: types.StepStatusFailed, ErrorMessage: ptr("provider unavailable")},
		{Step: "vectorization", Status: types.StepStatusSkipped, Summary: map[string]any{"reason": "dependency_failed"}},
	}

	p.PrintRun(run, doc, runSteps, true)
	out := buf.String()

	assert.Contains(t, out, "INGESTION RUN")
	assert.Contains(t, out, "PARTIAL")
	assert.Contains(t, out, "local-plan.pdf")
	assert.Contains(t, out, "camden  cycle 2025")
	assert.Contains(t, out, "Reused:")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "✓ parse")
	assert.Contains(t, out, "provider unavailable")
	assert.Contains(t, out, "dependency_failed")
}

func TestPrintRun_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintRun(nil, nil, nil, false)
	assert.Empty(t, buf.String())
}

func TestPrintRuns(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRuns(nil)
	assert.Contains(t, buf.String(), "No runs found")

	buf.Reset()
	p.PrintRuns([]types.Run{
		{ID: uuid.New(), Status: types.RunStatusSuccess},
		{ID: uuid.New(), Status: types.RunStatusError},
	})
	assert.Contains(t, buf.String(), "RUNS (2)")
	assert.Contains(t, buf.String(), "error")
}

func TestPrintToolRuns(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintToolRuns([]types.ToolRun{
		{Tool: "document_parse", Status: types.ToolRunStatusSuccess},
		{Tool: "segmentation", Status: types.ToolRunStatusSuccess, ConfidenceHint: ptr(types.ConfidenceLow)},
		{Tool: "segmentation", Status: types.ToolRunStatusError},
	})
	out := buf.String()
	assert.Contains(t, out, "3 tool runs")
	assert.Contains(t, out, "document_parse")
	assert.Regexp(t, `segmentation\s+ok 1\s+failed 1\s+low-confidence 1`, out)

	// document_parse sorts first
	assert.Less(t, strings.Index(out, "document_parse"), strings.Index(out, "segmentation"))
}

func TestPrintLayers(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintLayers("camden", false, 4, []LayerLine{
		{Name: "Conservation Areas", Features: 12},
		{Name: "Article 4", Missing: true},
	})
	out := buf.String()
	assert.Contains(t, out, "Deactivated 4")
	assert.Contains(t, out, "12 features")
	assert.Contains(t, out, "no source, profiled only")
	assert.NotContains(t, out, "...")

	buf.Reset()
	p.PrintLayers("camden", true, 0, nil)
	assert.Contains(t, buf.String(), "--force")
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)
	p.PrintProgress("parse", "ingestion", "started")
	p.PrintProgress("run", "", "success")
	assert.Equal(t, "  [ingestion] parse: started\n  run: success\n", buf.String())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdef...", truncate("abcdefghijklmnop", 9))
	assert.Equal(t, "ééé...", truncate("éééééééééé", 6))
}
