package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/fetch"
	"github.com/jonathan/planning-ingest/internal/pipeline"
	"github.com/jonathan/planning-ingest/internal/pipeline/steps"
	"github.com/jonathan/planning-ingest/internal/server/middleware"
	"github.com/jonathan/planning-ingest/internal/types"
)

// RunCreateRequest is the JSON form of POST /runs. Uploads use multipart
// with the same field names and the document in "file".
type RunCreateRequest struct {
	Authority string                 `json:"authority"`
	PlanCycle string                 `json:"plan_cycle,omitempty"`
	URL       string                 `json:"url"`
	Filename  string                 `json:"filename,omitempty"`
	Metadata  types.DocumentMetadata `json:"metadata,omitempty"`
}

// RunCreateResponse is returned when a run has been admitted
type RunCreateResponse struct {
	RunID      string `json:"run_id"`
	BatchID    string `json:"batch_id"`
	DocumentID string `json:"document_id"`
	Status     string `json:"status"`
	Reused     bool   `json:"reused"`
	CreatedAt  string `json:"created_at"`
}

// RunStepsStatus groups step names by what the run can do next
type RunStepsStatus struct {
	Completed []string `json:"completed"`
	Available []string `json:"available"`
	Blocked   []string `json:"blocked"`
}

// RunStepsSummary counts steps by status
type RunStepsSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Running   int `json:"running"`
	Pending   int `json:"pending"`
}

// RunDetailResponse is GET /runs/{id}
type RunDetailResponse struct {
	Run      *types.Run      `json:"run"`
	Document *types.Document `json:"document,omitempty"`
	Steps    []types.RunStep `json:"steps"`
	Summary  RunStepsSummary `json:"summary"`
	Progress RunStepsStatus  `json:"progress"`
}

// handleCreateRun admits a document and executes the run in the background
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRunRequest(r)
	if err != nil {
		s.failure(w, err)
		return
	}

	admission, err := s.driver.Admit(r.Context(), req)
	if err != nil {
		s.failure(w, err)
		return
	}
	operator, _ := middleware.GetOperator(r)
	runID := admission.Run.ID
	s.logger.Info("run admitted", "run_id", runID, "operator", operator, "authority", req.Authority, "reused", admission.Reused)

	s.goRun(func(ctx context.Context) {
		res, err := s.driver.Execute(ctx, admission, nil)
		s.logOutcome(runID, res, err)
	})

	s.jsonResponse(w, http.StatusAccepted, admittedResponse(admission))
}

// handleCreateRunStream admits a document and executes it within the
// request, streaming progress as SSE. A client disconnect cancels the run,
// which stays resumable.
func (s *Server) handleCreateRunStream(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseRunRequest(r)
	if err != nil {
		s.failure(w, err)
		return
	}
	admission, err := s.driver.Admit(r.Context(), req)
	if err != nil {
		s.failure(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := sse.WriteEvent("admitted", admittedResponse(admission)); err != nil {
		s.logger.Warn("failed to write SSE event", "error", err)
	}

	res, err := s.driver.Execute(r.Context(), admission, func(e pipeline.ProgressEvent) {
		if err := sse.WriteEvent("step", e); err != nil {
			s.logger.Debug("failed to write SSE event", "run_id", e.RunID, "error", err)
		}
	})
	s.logOutcome(admission.Run.ID, res, err)
	if err != nil {
		sse.WriteError(err.Error())
		return
	}
	sse.WriteComplete(res.Run.ID.String(), res.Run.Status)
}

// handleResumeRun re-enters a terminal run in the background. A run still
// marked running is refused unless force is set, which recovers runs whose
// process died.
func (s *Server) handleResumeRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := s.runID(w, r)
	if !ok {
		return
	}
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		s.failure(w, fmt.Errorf("failed to load run: %w", err))
		return
	}
	if run == nil {
		s.failure(w, &ErrNotFound{Kind: "run", ID: runID.String()})
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if !run.Terminal() && !force {
		s.failure(w, &ErrRunActive{RunID: runID.String()})
		return
	}

	operator, _ := middleware.GetOperator(r)
	s.logger.Info("run resume requested", "run_id", runID, "operator", operator, "previous_status", run.Status)
	s.goRun(func(ctx context.Context) {
		res, err := s.driver.Resume(ctx, runID, nil)
		s.logOutcome(runID, res, err)
	})

	s.jsonResponse(w, http.StatusAccepted, map[string]string{
		"run_id":          runID.String(),
		"previous_status": run.Status,
		"status":          types.RunStatusRunning,
	})
}

// handleListRuns lists recent runs, newest first
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.failure(w, &ErrValidation{Field: "limit", Message: "must be between 1 and 500"})
			return
		}
		limit = n
	}
	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.failure(w, fmt.Errorf("failed to list runs: %w", err))
		return
	}
	if runs == nil {
		runs = []types.Run{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

// handleGetRun returns a run with its document and step progress
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	resp := RunDetailResponse{Run: run}
	if run.DocumentID != nil {
		doc, err := s.store.GetDocument(ctx, *run.DocumentID)
		if err != nil {
			s.failure(w, fmt.Errorf("failed to load document: %w", err))
			return
		}
		resp.Document = doc
	}

	runSteps, err := s.store.ListRunSteps(ctx, run.ID)
	if err != nil {
		s.failure(w, fmt.Errorf("failed to list steps: %w", err))
		return
	}
	resp.Steps = nonNil(runSteps)
	resp.Summary = summarize(runSteps)

	available, err := steps.GetAvailableSteps(ctx, s.store, run.ID)
	if err != nil {
		s.failure(w, fmt.Errorf("failed to get available steps: %w", err))
		return
	}
	blocked, err := steps.GetBlockedSteps(ctx, s.store, run.ID)
	if err != nil {
		s.failure(w, fmt.Errorf("failed to get blocked steps: %w", err))
		return
	}
	resp.Progress = RunStepsStatus{
		Completed: completed(runSteps),
		Available: nonNil(available),
		Blocked:   nonNil(blocked),
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleListRunSteps returns the step records of a run in execution order
func (s *Server) handleListRunSteps(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	runSteps, err := s.store.ListRunSteps(r.Context(), run.ID)
	if err != nil {
		s.failure(w, fmt.Errorf("failed to list steps: %w", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"run_id":  run.ID,
		"status":  run.Status,
		"steps":   nonNil(runSteps),
		"summary": summarize(runSteps),
	})
}

// handleListToolRuns returns the provenance records of a run
func (s *Server) handleListToolRuns(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	toolRuns, err := s.store.ListToolRuns(r.Context(), run.ID)
	if err != nil {
		s.failure(w, fmt.Errorf("failed to list tool runs: %w", err))
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"run_id":    run.ID,
		"tool_runs": nonNil(toolRuns),
	})
}

// ----------------------------------------------------------------------------
// Helpers
// ----------------------------------------------------------------------------

func (s *Server) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.failure(w, &ErrValidation{Field: "id", Message: "must be a UUID"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*types.Run, bool) {
	id, ok := s.runID(w, r)
	if !ok {
		return nil, false
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		s.failure(w, fmt.Errorf("failed to load run: %w", err))
		return nil, false
	}
	if run == nil {
		s.failure(w, &ErrNotFound{Kind: "run", ID: id.String()})
		return nil, false
	}
	return run, true
}

// parseRunRequest reads a multipart upload or a JSON URL submission
func (s *Server) parseRunRequest(r *http.Request) (pipeline.RunRequest, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		return s.parseUpload(r)
	case "application/json", "":
		return s.parseURLSubmission(r)
	default:
		return pipeline.RunRequest{}, &ErrValidation{Field: "content-type", Message: "must be multipart/form-data or application/json"}
	}
}

func (s *Server) parseUpload(r *http.Request) (pipeline.RunRequest, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return pipeline.RunRequest{}, &ErrValidation{Field: "body", Message: err.Error()}
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return pipeline.RunRequest{}, &ErrValidation{Field: "file", Message: "is required"}
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return pipeline.RunRequest{}, fmt.Errorf("failed to read upload: %w", err)
	}

	req := pipeline.RunRequest{
		Authority:   strings.TrimSpace(r.FormValue("authority")),
		PlanCycle:   strings.TrimSpace(r.FormValue("plan_cycle")),
		Source:      "upload",
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
		Metadata: types.DocumentMetadata{
			Title:        r.FormValue("title"),
			DocumentType: r.FormValue("document_type"),
			SiteAddress:  r.FormValue("site_address"),
			TargetCRS:    r.FormValue("target_crs"),
		},
	}
	if raw := r.FormValue("metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.Metadata); err != nil {
			return pipeline.RunRequest{}, &ErrValidation{Field: "metadata", Message: "must be a JSON object"}
		}
	}
	return req, checkRequired(req)
}

func (s *Server) parseURLSubmission(r *http.Request) (pipeline.RunRequest, error) {
	var body RunCreateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		return pipeline.RunRequest{}, &ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if body.URL == "" {
		return pipeline.RunRequest{}, &ErrValidation{Field: "url", Message: "is required"}
	}
	if body.Authority == "" {
		return pipeline.RunRequest{}, &ErrValidation{Field: "authority", Message: "is required"}
	}

	res, err := fetch.URL(r.Context(), body.URL, s.fetch)
	if err != nil {
		return pipeline.RunRequest{}, err
	}
	filename := body.Filename
	if filename == "" {
		filename = res.Filename
	}
	req := pipeline.RunRequest{
		Authority:   body.Authority,
		PlanCycle:   body.PlanCycle,
		Source:      "url",
		Filename:    filename,
		ContentType: res.ContentType,
		Data:        res.Body,
		Metadata:    body.Metadata,
	}
	return req, checkRequired(req)
}

func checkRequired(req pipeline.RunRequest) error {
	switch {
	case req.Authority == "":
		return &ErrValidation{Field: "authority", Message: "is required"}
	case req.Filename == "":
		return &ErrValidation{Field: "filename", Message: "is required"}
	case len(req.Data) == 0:
		return &ErrValidation{Field: "file", Message: "is empty"}
	}
	return nil
}

func admittedResponse(a *pipeline.Admission) RunCreateResponse {
	return RunCreateResponse{
		RunID:      a.Run.ID.String(),
		BatchID:    a.Run.BatchID.String(),
		DocumentID: a.Document.ID.String(),
		Status:     a.Run.Status,
		Reused:     a.Reused,
		CreatedAt:  a.Run.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) logOutcome(runID uuid.UUID, res *pipeline.Result, err error) {
	switch {
	case err != nil && errors.Is(err, pipeline.ErrDocumentLocked):
		s.logger.Warn("run not executed, document locked", "run_id", runID)
	case err != nil:
		s.logger.Error("run failed", "run_id", runID, "error", err)
	case res != nil:
		s.logger.Info("run finished", "run_id", runID, "status", res.Run.Status)
	}
}

func summarize(runSteps []types.RunStep) RunStepsSummary {
	sum := RunStepsSummary{Total: len(steps.StepOrder)}
	for _, st := range runSteps {
		switch st.Status {
		case types.StepStatusSuccess:
			sum.Succeeded++
		case types.StepStatusSkipped:
			sum.Skipped++
		case types.StepStatusFailed:
			sum.Failed++
		case types.StepStatusRunning:
			sum.Running++
		}
	}
	sum.Pending = sum.Total - sum.Succeeded - sum.Skipped - sum.Failed - sum.Running
	return sum
}

func completed(runSteps []types.RunStep) []string {
	out := []string{}
	for i := range runSteps {
		if steps.Complete(&runSteps[i]) {
			out = append(out, runSteps[i].Step)
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
