// Package server provides the HTTP API for starting and inspecting
// ingestion runs.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/planning-ingest/internal/fetch"
	"github.com/jonathan/planning-ingest/internal/pipeline"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrNotFound indicates a missing run or step
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ErrRunActive indicates the run is still executing and cannot be resumed
type ErrRunActive struct {
	RunID string
}

func (e *ErrRunActive) Error() string {
	return fmt.Sprintf("run %s is still running", e.RunID)
}

// HTTPStatus returns the HTTP status code for an error
func HTTPStatus(err error) int {
	var (
		verr    *ErrValidation
		nf      *ErrNotFound
		active  *ErrRunActive
		fields  validator.ValidationErrors
		fetchEr *fetch.Error
	)
	switch {
	case errors.As(err, &verr), errors.As(err, &fields):
		return http.StatusBadRequest
	case errors.As(err, &nf), errors.Is(err, pipeline.ErrRunNotFound):
		return http.StatusNotFound
	case errors.As(err, &active), errors.Is(err, pipeline.ErrDocumentLocked):
		return http.StatusConflict
	case errors.As(err, &fetchEr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
