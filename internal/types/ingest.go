// Package types provides type definitions for structured data used throughout the planning-ingest system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// Run statuses
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusPartial = "partial"
	RunStatusError   = "error"
)

// Step statuses
const (
	StepStatusPending = "pending"
	StepStatusRunning = "running"
	StepStatusSuccess = "success"
	StepStatusSkipped = "skipped"
	StepStatusFailed  = "failed"
)

// Tool run statuses
const (
	ToolRunStatusRunning = "running"
	ToolRunStatusSuccess = "success"
	ToolRunStatusError   = "error"
)

// Batch statuses
const (
	BatchStatusRunning   = "running"
	BatchStatusCompleted = "completed"
	BatchStatusFailed    = "failed"
)

// IngestBatch is one upload or authority-pack operation
type IngestBatch struct {
	ID          uuid.UUID  `json:"id"`
	Authority   string     `json:"authority"`
	Source      string     `json:"source"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Run is one pipeline execution over a batch. Model bindings are fixed at creation.
type Run struct {
	ID              uuid.UUID         `json:"id"`
	BatchID         uuid.UUID         `json:"batch_id"`
	DocumentID      *uuid.UUID        `json:"document_id,omitempty"`
	PipelineVersion string            `json:"pipeline_version"`
	Models          map[string]string `json:"models,omitempty"`
	Status          string            `json:"status"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// Terminal reports whether the run reached a final status
func (r *Run) Terminal() bool {
	return r.Status == RunStatusSuccess || r.Status == RunStatusPartial || r.Status == RunStatusError
}

// RunStep is the execution record of one named stage in a run, unique per (run, step).
type RunStep struct {
	ID           uuid.UUID      `json:"id"`
	RunID        uuid.UUID      `json:"run_id"`
	Step         string         `json:"step"`
	Category     string         `json:"category"`
	Status       string         `json:"status"`
	Attempts     int            `json:"attempts"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	EndedAt      *time.Time     `json:"ended_at,omitempty"`
	DurationMs   *int           `json:"duration_ms,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	Summary      map[string]any `json:"summary,omitempty"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Done reports whether downstream steps may rely on this step
func (s *RunStep) Done() bool {
	return s != nil && (s.Status == StepStatusSuccess || s.Status == StepStatusSkipped)
}

// ToolRun is the provenance record of one externally computed operation
type ToolRun struct {
	ID              uuid.UUID      `json:"id"`
	Tool            string         `json:"tool"`
	BatchID         *uuid.UUID     `json:"batch_id,omitempty"`
	RunID           *uuid.UUID     `json:"run_id,omitempty"`
	Inputs          map[string]any `json:"inputs"`
	Outputs         map[string]any `json:"outputs,omitempty"`
	Status          string         `json:"status"`
	ConfidenceHint  *string        `json:"confidence_hint,omitempty"`
	UncertaintyNote *string        `json:"uncertainty_note,omitempty"`
	StartedAt       time.Time      `json:"started_at"`
	EndedAt         *time.Time     `json:"ended_at,omitempty"`
}
