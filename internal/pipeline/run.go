// Package pipeline provides the high-level orchestration of document ingestion runs.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/planning-ingest/internal/observability"
	"github.com/jonathan/planning-ingest/internal/pipeline/steps"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/stages"
	"github.com/jonathan/planning-ingest/internal/types"
)

// Version is recorded on every run
const Version = "1.0.0"

var (
	// ErrDocumentLocked is returned when another run holds the document
	ErrDocumentLocked = errors.New("document is locked by another run")
	// ErrRunNotFound is returned by Resume for unknown run ids
	ErrRunNotFound = errors.New("run not found")
)

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Step     string `json:"step"`
	Category string `json:"category"`
	Message  string `json:"message"`
	RunID    string `json:"run_id,omitempty"`
	Content  any    `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// RunRequest describes one document to ingest
type RunRequest struct {
	Authority   string `validate:"required"`
	PlanCycle   string
	Source      string
	Filename    string `validate:"required"`
	ContentType string
	Data        []byte `validate:"required,min=1"`
	Metadata    types.DocumentMetadata
	// BatchID joins an existing batch. The caller then owns its completion.
	BatchID *uuid.UUID
}

// Result is the state of a run after the driver returns
type Result struct {
	Run      *types.Run
	Document *types.Document
	Steps    []types.RunStep
	// Reused is set when the document already existed for this authority and cycle.
	Reused bool
}

// Driver executes the ingestion stages of a run in order
type Driver struct {
	deps       *stages.Deps
	stages     map[string]stages.Stage
	metrics    *observability.Metrics
	models     map[string]string
	logger     *slog.Logger
	validate   *validator.Validate
	onProgress ProgressCallback
}

// Option configures a Driver
type Option func(*Driver)

// WithMetrics records stage and run outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithModels sets the model bindings recorded on new runs
func WithModels(models map[string]string) Option {
	return func(d *Driver) { d.models = models }
}

// WithProgress registers a progress callback
func WithProgress(cb ProgressCallback) Option {
	return func(d *Driver) { d.onProgress = cb }
}

// NewDriver creates a driver over the standard stage set
func NewDriver(deps *stages.Deps, opts ...Option) *Driver {
	d := &Driver{
		deps:     deps,
		logger:   deps.Logger,
		validate: validator.New(),
		stages:   make(map[string]stages.Stage, len(steps.StepOrder)),
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	for _, s := range []stages.Stage{
		stages.Parse{},
		stages.CanonicalLoad{},
		stages.Segmentation{},
		stages.Vectorization{},
		stages.Georeference{},
		stages.StructuralExtraction{},
		stages.LinkDiscovery{},
		stages.Embedding{},
		stages.GraphAssembly{},
	} {
		d.stages[s.Name()] = s
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// emitter returns the progress function for one run
func (d *Driver) emitter(runID uuid.UUID, extra ProgressCallback) func(step, category, message string, content any) {
	return func(step, category, message string, content any) {
		event := ProgressEvent{
			Step:     step,
			Category: category,
			Message:  message,
			RunID:    runID.String(),
			Content:  content,
		}
		if d.onProgress != nil {
			d.onProgress(event)
		}
		if extra != nil {
			extra(event)
		}
	}
}

// ----------------------------------------------------------------------------
// Entry points
// ----------------------------------------------------------------------------

// Admission is a registered run whose stages have not been executed yet
type Admission struct {
	Run      *types.Run
	Document *types.Document
	Reused   bool
	ownBatch bool
}

// Run registers the document and runs every stage. Stage failures are
// recorded on the run, not returned; the error is for bookkeeping failures.
func (d *Driver) Run(ctx context.Context, req RunRequest) (*Result, error) {
	a, err := d.Admit(ctx, req)
	if err != nil {
		return nil, err
	}
	return d.Execute(ctx, a, nil)
}

// Admit creates the batch, run and document for a request without running
// any stage.
func (d *Driver) Admit(ctx context.Context, req RunRequest) (*Admission, error) {
	if err := d.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid run request: %w", err)
	}
	s := d.deps.Store

	ownBatch := req.BatchID == nil
	var batchID uuid.UUID
	if ownBatch {
		source := req.Source
		if source == "" {
			source = "upload"
		}
		batch, err := s.CreateBatch(ctx, req.Authority, source)
		if err != nil {
			return nil, fmt.Errorf("failed to create batch: %w", err)
		}
		batchID = batch.ID
	} else {
		batchID = *req.BatchID
	}

	run, err := s.CreateRun(ctx, batchID, Version, d.models)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	doc, created, err := d.registerDocument(ctx, req, batchID, run.ID)
	if err != nil {
		d.finishRun(ctx, run, types.RunStatusError, err.Error(), nil)
		d.completeBatch(ctx, ownBatch, batchID, types.RunStatusError)
		return nil, err
	}
	if err := s.SetRunDocument(ctx, run.ID, doc.ID); err != nil {
		return nil, fmt.Errorf("failed to attach document to run: %w", err)
	}
	run.DocumentID = &doc.ID

	return &Admission{Run: run, Document: doc, Reused: !created, ownBatch: ownBatch}, nil
}

// Execute runs the stages of an admitted run. progress, when set, receives
// this run's events in addition to the driver-wide callback.
func (d *Driver) Execute(ctx context.Context, a *Admission, progress ProgressCallback) (*Result, error) {
	res, err := d.execute(ctx, a.Run, a.Document, progress)
	if res != nil {
		res.Reused = a.Reused
		d.completeBatch(ctx, a.ownBatch, a.Run.BatchID, res.Run.Status)
	}
	return res, err
}

// Resume re-enters an existing run. Completed steps are left alone and every
// other step runs again against its sentinel.
func (d *Driver) Resume(ctx context.Context, runID uuid.UUID, progress ProgressCallback) (*Result, error) {
	s := d.deps.Store
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if run.DocumentID == nil {
		return nil, fmt.Errorf("run %s has no document", runID)
	}
	doc, err := s.GetDocument(ctx, *run.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s not found", *run.DocumentID)
	}
	if err := s.UpdateRunStatus(ctx, run.ID, types.RunStatusRunning, nil); err != nil {
		return nil, fmt.Errorf("failed to reopen run: %w", err)
	}
	run.Status = types.RunStatusRunning

	res, err := d.execute(ctx, run, doc, progress)
	if res != nil {
		d.completeBatch(ctx, true, run.BatchID, res.Run.Status)
	}
	return res, err
}

// RunBatch ingests several documents of one authority under a shared batch
// with at most limit runs in flight. One document failing does not stop the
// others; results are index-aligned with reqs.
func (d *Driver) RunBatch(ctx context.Context, authority, source string, reqs []RunRequest, limit int) ([]*Result, error) {
	batch, err := d.deps.Store.CreateBatch(ctx, authority, source)
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	results := make([]*Result, len(reqs))
	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := range reqs {
		req := reqs[i]
		req.Authority = authority
		req.Source = source
		req.BatchID = &batch.ID
		g.Go(func() error {
			res, err := d.Run(ctx, req)
			results[i] = res
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", req.Filename, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	status := types.BatchStatusCompleted
	for _, r := range results {
		if r == nil || r.Run.Status == types.RunStatusError {
			status = types.BatchStatusFailed
			break
		}
	}
	if err := d.deps.Store.CompleteBatch(context.WithoutCancel(ctx), batch.ID, status); err != nil {
		errs = append(errs, fmt.Errorf("failed to complete batch: %w", err))
	}
	return results, errors.Join(errs...)
}

// ----------------------------------------------------------------------------
// Execution
// ----------------------------------------------------------------------------

func (d *Driver) execute(ctx context.Context, run *types.Run, doc *types.Document, progress ProgressCallback) (*Result, error) {
	s := d.deps.Store
	emit := d.emitter(run.ID, progress)
	// Step and run bookkeeping survives cancellation of the run itself.
	bctx := context.WithoutCancel(ctx)
	logger := d.logger.With("run_id", run.ID, "document_id", doc.ID)

	release, ok, err := s.TryLockDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock document: %w", err)
	}
	if !ok {
		d.finishRun(bctx, run, types.RunStatusError, ErrDocumentLocked.Error(), emit)
		return d.result(bctx, run, doc), ErrDocumentLocked
	}
	defer release()

	rc := &stages.RunContext{Deps: d.deps, Run: run, Document: doc}
	var (
		degraded bool
		fatal    string
	)

	for _, def := range steps.StepOrder {
		prior, err := s.GetRunStep(bctx, run.ID, def.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to load step %s: %w", def.Name, err)
		}
		if steps.Complete(prior) {
			emit(def.Name, def.Category, "already complete", prior.Summary)
			continue
		}

		if err := steps.ValidateDependencies(bctx, s, run.ID, def.Name); err != nil {
			var depErr *steps.DependencyError
			if !errors.As(err, &depErr) {
				return nil, err
			}
			if def.Required {
				msg := err.Error()
				d.finishStep(bctx, run.ID, def, types.StepStatusFailed, nil, &msg, 0)
				fatal = fmt.Sprintf("%s: %s", def.Name, msg)
				break
			}
			summary := map[string]any{
				"reason":  stages.ReasonDependencyFailed,
				"missing": depErr.MissingDependencies,
			}
			d.finishStep(bctx, run.ID, def, types.StepStatusSkipped, summary, nil, 0)
			degraded = true
			emit(def.Name, def.Category, "skipped: "+stages.ReasonDependencyFailed, summary)
			continue
		}

		missingOptional, err := steps.MissingOptional(bctx, s, run.ID, def.Name)
		if err != nil {
			return nil, err
		}

		if _, err := s.StartRunStep(bctx, run.ID, def.Name, def.Category); err != nil {
			return nil, fmt.Errorf("failed to start step %s: %w", def.Name, err)
		}
		emit(def.Name, def.Category, "started", nil)

		start := time.Now()
		out, runErr := d.stages[def.Name].Run(ctx, rc)
		elapsed := time.Since(start)

		if runErr != nil {
			msg := runErr.Error()
			summary := map[string]any{"error_class": providers.Classify(runErr)}
			d.finishStep(bctx, run.ID, def, types.StepStatusFailed, summary, &msg, elapsed)
			emit(def.Name, def.Category, "failed: "+msg, summary)
			logger.Warn("stage failed", "step", def.Name, "required", def.Required, "error", runErr)

			if def.Required || ctx.Err() != nil {
				fatal = fmt.Sprintf("%s: %s", def.Name, msg)
				break
			}
			degraded = true
			continue
		}

		if len(missingOptional) > 0 {
			if out.Summary == nil {
				out.Summary = map[string]any{}
			}
			out.Summary["missing_optional"] = missingOptional
		}
		status := types.StepStatusSuccess
		message := "completed"
		if out.Skipped {
			status = types.StepStatusSkipped
			message = "skipped: " + out.Reason
		}
		d.finishStep(bctx, run.ID, def, status, out.Summary, nil, elapsed)
		emit(def.Name, def.Category, message, out.Summary)
		logger.Info("stage finished", "step", def.Name, "status", status, "elapsed", elapsed)
	}

	switch {
	case fatal != "":
		d.finishRun(bctx, run, types.RunStatusError, fatal, emit)
	case degraded:
		d.finishRun(bctx, run, types.RunStatusPartial, "", emit)
	default:
		d.finishRun(bctx, run, types.RunStatusSuccess, "", emit)
	}
	return d.result(bctx, run, doc), nil
}

// registerDocument stores the raw bytes and upserts the document row. A
// document already known by content hash is reused and the new copy dropped.
func (d *Driver) registerDocument(ctx context.Context, req RunRequest, batchID, runID uuid.UUID) (*types.Document, bool, error) {
	sum := sha256.Sum256(req.Data)
	filename := path.Base(filepath.ToSlash(req.Filename))
	contentType := req.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(filename))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := &types.Document{
		ID:          uuid.New(),
		Authority:   req.Authority,
		PlanCycle:   req.PlanCycle,
		BatchID:     batchID,
		RunID:       &runID,
		Filename:    filename,
		ContentType: contentType,
		ContentHash: "sha256:" + hex.EncodeToString(sum[:]),
		SizeBytes:   int64(len(req.Data)),
		Metadata:    req.Metadata,
	}
	doc.RawBlobPath = doc.BlobPrefix(d.deps.Options.Domain) + "/raw/" + filename

	if _, err := d.deps.Blob.Put(ctx, doc.RawBlobPath, req.Data, contentType, map[string]string{
		"content_hash": doc.ContentHash,
	}); err != nil {
		return nil, false, fmt.Errorf("failed to store raw document: %w", err)
	}

	stored, created, err := d.deps.Store.UpsertDocument(ctx, doc)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert document: %w", err)
	}
	if !created {
		if err := d.deps.Blob.Delete(ctx, doc.RawBlobPath); err != nil {
			d.logger.Warn("failed to remove duplicate raw blob", "path", doc.RawBlobPath, "error", err)
		}
	}
	return stored, created, nil
}

func (d *Driver) finishStep(ctx context.Context, runID uuid.UUID, def steps.StepDefinition, status string, summary map[string]any, errMsg *string, elapsed time.Duration) {
	if err := d.deps.Store.FinishRunStep(ctx, runID, def.Name, def.Category, status, summary, errMsg); err != nil {
		d.logger.Error("failed to record step", "run_id", runID, "step", def.Name, "error", err)
	}
	d.metrics.StageFinished(def.Name, status, elapsed)
}

func (d *Driver) finishRun(ctx context.Context, run *types.Run, status, errMsg string, emit func(step, category, message string, content any)) {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	if err := d.deps.Store.UpdateRunStatus(ctx, run.ID, status, msg); err != nil {
		d.logger.Error("failed to record run status", "run_id", run.ID, "error", err)
	}
	run.Status = status
	run.ErrorMessage = msg
	d.metrics.RunFinished(status)
	if emit != nil {
		emit("run", "", status, run.ErrorMessage)
	}
}

func (d *Driver) completeBatch(ctx context.Context, own bool, batchID uuid.UUID, runStatus string) {
	if !own {
		return
	}
	status := types.BatchStatusCompleted
	if runStatus == types.RunStatusError {
		status = types.BatchStatusFailed
	}
	if err := d.deps.Store.CompleteBatch(context.WithoutCancel(ctx), batchID, status); err != nil {
		d.logger.Error("failed to complete batch", "batch_id", batchID, "error", err)
	}
}

func (d *Driver) result(ctx context.Context, run *types.Run, doc *types.Document) *Result {
	res := &Result{Run: run, Document: doc}
	if fresh, err := d.deps.Store.GetRun(ctx, run.ID); err == nil && fresh != nil {
		res.Run = fresh
	}
	stepRows, err := d.deps.Store.ListRunSteps(ctx, run.ID)
	if err != nil {
		d.logger.Warn("failed to list run steps", "run_id", run.ID, "error", err)
	}
	res.Steps = stepRows
	return res
}
