package server

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"

	"github.com/jonathan/planning-ingest/internal/fetch"
	"github.com/jonathan/planning-ingest/internal/pipeline"
)

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "validation error: authority - is required", (&ErrValidation{Field: "authority", Message: "is required"}).Error())
	assert.Equal(t, "run not found: abc", (&ErrNotFound{Kind: "run", ID: "abc"}).Error())
	assert.Equal(t, "run abc is still running", (&ErrRunActive{RunID: "abc"}).Error())
}

func TestHTTPStatus(t *testing.T) {
	type req struct {
		Authority string `validate:"required"`
	}
	verr := validator.New().Struct(req{})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &ErrValidation{Field: "file"}, http.StatusBadRequest},
		{"wrapped validator", fmt.Errorf("invalid run request: %w", verr), http.StatusBadRequest},
		{"not found", &ErrNotFound{Kind: "run"}, http.StatusNotFound},
		{"driver not found", fmt.Errorf("%w: x", pipeline.ErrRunNotFound), http.StatusNotFound},
		{"active", &ErrRunActive{}, http.StatusConflict},
		{"locked", pipeline.ErrDocumentLocked, http.StatusConflict},
		{"fetch", &fetch.Error{URL: "http://x", Message: "HTTP 404"}, http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
