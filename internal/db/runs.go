package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/planning-ingest/internal/types"
)

// -----------------------------------------------------------------------------
// Batches and Runs
// -----------------------------------------------------------------------------

// CreateBatch creates a new ingest batch
func (db *DB) CreateBatch(ctx context.Context, authority, source string) (*types.IngestBatch, error) {
	b := types.IngestBatch{Authority: authority, Source: source, Status: types.BatchStatusRunning}
	err := db.pool.QueryRow(ctx,
		`INSERT INTO ingest_batches (authority, source, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at`,
		authority, source, b.Status,
	).Scan(&b.ID, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	return &b, nil
}

// CompleteBatch marks a batch terminal
func (db *DB) CompleteBatch(ctx context.Context, batchID uuid.UUID, status string) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE ingest_batches SET status = $1, completed_at = NOW() WHERE id = $2`,
		status, batchID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete batch: %w", err)
	}
	return nil
}

// CreateRun creates a new pipeline run with fixed model bindings
func (db *DB) CreateRun(ctx context.Context, batchID uuid.UUID, pipelineVersion string, models map[string]string) (*types.Run, error) {
	modelsJSON, err := marshalJSON(models)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal models: %w", err)
	}

	run := types.Run{BatchID: batchID, PipelineVersion: pipelineVersion, Models: models, Status: types.RunStatusRunning}
	err = db.pool.QueryRow(ctx,
		`INSERT INTO ingest_runs (batch_id, pipeline_version, models, status)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		batchID, pipelineVersion, modelsJSON, run.Status,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	return &run, nil
}

// SetRunDocument binds the run to its document
func (db *DB) SetRunDocument(ctx context.Context, runID, documentID uuid.UUID) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE ingest_runs SET document_id = $1 WHERE id = $2`,
		documentID, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to set run document: %w", err)
	}
	return nil
}

const runColumns = `id, batch_id, document_id, pipeline_version, models, status, error_message, created_at, completed_at`

func scanRun(row pgx.Row) (*types.Run, error) {
	var run types.Run
	var modelsJSON []byte
	if err := row.Scan(&run.ID, &run.BatchID, &run.DocumentID, &run.PipelineVersion, &modelsJSON,
		&run.Status, &run.ErrorMessage, &run.CreatedAt, &run.CompletedAt); err != nil {
		return nil, err
	}
	if modelsJSON != nil {
		_ = json.Unmarshal(modelsJSON, &run.Models)
	}
	return &run, nil
}

// GetRun retrieves a run by ID
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error) {
	run, err := scanRun(db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM ingest_runs WHERE id = $1`, runID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// UpdateRunStatus sets the run status; terminal statuses stamp completed_at
func (db *DB) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status string, errorMsg *string) error {
	var completedAt *time.Time
	next := types.Run{Status: status}
	if next.Terminal() {
		now := time.Now()
		completedAt = &now
	}

	_, err := db.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, error_message = $2, completed_at = $3 WHERE id = $4`,
		status, errorMsg, completedAt, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}
	return nil
}

// ListRuns retrieves recent runs
func (db *DB) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+runColumns+` FROM ingest_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// -----------------------------------------------------------------------------
// Run Steps Methods
// -----------------------------------------------------------------------------

const stepColumns = `id, run_id, step, category, status, attempts, started_at, ended_at,
	duration_ms, error_message, summary, updated_at`

func scanStep(row pgx.Row) (*types.RunStep, error) {
	var step types.RunStep
	var summaryJSON []byte
	if err := row.Scan(&step.ID, &step.RunID, &step.Step, &step.Category, &step.Status, &step.Attempts,
		&step.StartedAt, &step.EndedAt, &step.DurationMs, &step.ErrorMessage, &summaryJSON, &step.UpdatedAt); err != nil {
		return nil, err
	}
	if summaryJSON != nil {
		_ = json.Unmarshal(summaryJSON, &step.Summary)
	}
	return &step, nil
}

// StartRunStep upserts the step as running. Re-entering a step keeps its row
// and bumps the attempt count.
func (db *DB) StartRunStep(ctx context.Context, runID uuid.UUID, stepName, category string) (*types.RunStep, error) {
	step, err := scanStep(db.pool.QueryRow(ctx,
		`INSERT INTO run_steps (run_id, step, category, status, attempts, started_at)
		 VALUES ($1, $2, $3, $4, 1, NOW())
		 ON CONFLICT (run_id, step) DO UPDATE
		 SET status = EXCLUDED.status, category = EXCLUDED.category,
		     attempts = run_steps.attempts + 1, started_at = NOW(), ended_at = NULL,
		     duration_ms = NULL, error_message = NULL, updated_at = NOW()
		 RETURNING `+stepColumns,
		runID, stepName, category, types.StepStatusRunning,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to start run step %s: %w", stepName, err)
	}
	return step, nil
}

// FinishRunStep records a terminal step status
func (db *DB) FinishRunStep(ctx context.Context, runID uuid.UUID, stepName, category, status string, summary map[string]any, errorMsg *string) error {
	summaryJSON, err := marshalJSON(summary)
	if err != nil {
		return fmt.Errorf("failed to marshal step summary: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO run_steps (run_id, step, category, status, summary, error_message, ended_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (run_id, step) DO UPDATE
		 SET status = EXCLUDED.status, summary = EXCLUDED.summary,
		     error_message = EXCLUDED.error_message, ended_at = NOW(),
		     duration_ms = CASE WHEN run_steps.started_at IS NULL THEN NULL
		                   ELSE (EXTRACT(EPOCH FROM (NOW() - run_steps.started_at)) * 1000)::INT END,
		     updated_at = NOW()`,
		runID, stepName, category, status, summaryJSON, errorMsg,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run step %s: %w", stepName, err)
	}
	return nil
}

// GetRunStep retrieves a run step by run_id and step name
func (db *DB) GetRunStep(ctx context.Context, runID uuid.UUID, stepName string) (*types.RunStep, error) {
	step, err := scanStep(db.pool.QueryRow(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1 AND step = $2`,
		runID, stepName,
	))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run step: %w", err)
	}
	return step, nil
}

// ListRunSteps retrieves all steps for a run in the order they were first entered
func (db *DB) ListRunSteps(ctx context.Context, runID uuid.UUID) ([]types.RunStep, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = $1 ORDER BY COALESCE(started_at, ended_at, updated_at)`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	defer rows.Close()

	var steps []types.RunStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run step: %w", err)
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

// -----------------------------------------------------------------------------
// Tool Runs Methods
// -----------------------------------------------------------------------------

// InsertToolRun records the start of a provider call
func (db *DB) InsertToolRun(ctx context.Context, tr *types.ToolRun) error {
	inputsJSON, err := marshalJSON(tr.Inputs)
	if err != nil {
		return fmt.Errorf("failed to marshal tool run inputs: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO tool_runs (id, tool, batch_id, run_id, inputs, status, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tr.ID, tr.Tool, tr.BatchID, tr.RunID, inputsJSON, tr.Status, tr.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tool run: %w", err)
	}
	return nil
}

// MergeToolRunOutputs merges outputs into a running tool run (heartbeats)
func (db *DB) MergeToolRunOutputs(ctx context.Context, id uuid.UUID, outputs map[string]any) error {
	outputsJSON, err := marshalJSON(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal tool run outputs: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE tool_runs SET outputs = COALESCE(outputs, '{}'::jsonb) || $1::jsonb
		 WHERE id = $2 AND status = 'running'`,
		outputsJSON, id,
	)
	if err != nil {
		return fmt.Errorf("failed to merge tool run outputs: %w", err)
	}
	return nil
}

// FinishToolRun finalizes a tool run. Rows that already left running are not touched.
func (db *DB) FinishToolRun(ctx context.Context, id uuid.UUID, status string, outputs map[string]any, confidence, uncertainty *string) error {
	outputsJSON, err := marshalJSON(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal tool run outputs: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`UPDATE tool_runs
		 SET status = $1, outputs = COALESCE(outputs, '{}'::jsonb) || COALESCE($2::jsonb, '{}'::jsonb),
		     confidence_hint = $3, uncertainty_note = $4, ended_at = NOW()
		 WHERE id = $5 AND status = 'running'`,
		status, outputsJSON, confidence, uncertainty, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish tool run: %w", err)
	}
	return nil
}

const toolRunColumns = `id, tool, batch_id, run_id, inputs, outputs, status, confidence_hint, uncertainty_note, started_at, ended_at`

func scanToolRun(row pgx.Row) (*types.ToolRun, error) {
	var tr types.ToolRun
	var inputsJSON, outputsJSON []byte
	if err := row.Scan(&tr.ID, &tr.Tool, &tr.BatchID, &tr.RunID, &inputsJSON, &outputsJSON, &tr.Status,
		&tr.ConfidenceHint, &tr.UncertaintyNote, &tr.StartedAt, &tr.EndedAt); err != nil {
		return nil, err
	}
	if inputsJSON != nil {
		_ = json.Unmarshal(inputsJSON, &tr.Inputs)
	}
	if outputsJSON != nil {
		_ = json.Unmarshal(outputsJSON, &tr.Outputs)
	}
	return &tr, nil
}

// GetToolRun retrieves a tool run by ID
func (db *DB) GetToolRun(ctx context.Context, id uuid.UUID) (*types.ToolRun, error) {
	tr, err := scanToolRun(db.pool.QueryRow(ctx, `SELECT `+toolRunColumns+` FROM tool_runs WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get tool run: %w", err)
	}
	return tr, nil
}

// ListToolRuns lists the provenance rows of a run
func (db *DB) ListToolRuns(ctx context.Context, runID uuid.UUID) ([]types.ToolRun, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+toolRunColumns+` FROM tool_runs WHERE run_id = $1 ORDER BY started_at`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool runs: %w", err)
	}
	defer rows.Close()

	var out []types.ToolRun
	for rows.Next() {
		tr, err := scanToolRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tool run: %w", err)
		}
		out = append(out, *tr)
	}
	return out, rows.Err()
}
