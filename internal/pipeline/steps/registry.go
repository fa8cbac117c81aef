// Package steps provides step definitions and dependency validation
// for the ingestion pipeline.
package steps

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/stages"
	"github.com/jonathan/planning-ingest/internal/store"
	"github.com/jonathan/planning-ingest/internal/types"
)

// Step categories
const (
	CategoryIngestion = "ingestion"
	CategoryVisual    = "visual"
	CategoryPolicy    = "policy"
	CategoryIndexing  = "indexing"
)

// StepDefinition defines metadata for a pipeline step. A required step that
// fails ends the run; an optional one degrades it to partial.
type StepDefinition struct {
	Name         string
	Category     string
	Required     bool
	Dependencies []string
	// Optional dependencies run earlier but never block the step; ones that
	// did not complete are reported in the step summary.
	Optional []string
}

// StepOrder is the pipeline, in execution order
var StepOrder = []StepDefinition{
	{
		Name:     stages.StepParse,
		Category: CategoryIngestion,
		Required: true,
	},
	{
		Name:         stages.StepCanonicalLoad,
		Category:     CategoryIngestion,
		Required:     true,
		Dependencies: []string{stages.StepParse},
	},
	{
		Name:         stages.StepSegmentation,
		Category:     CategoryVisual,
		Dependencies: []string{stages.StepCanonicalLoad},
	},
	{
		Name:         stages.StepVectorization,
		Category:     CategoryVisual,
		Dependencies: []string{stages.StepSegmentation},
	},
	{
		Name:         stages.StepGeoreference,
		Category:     CategoryVisual,
		Dependencies: []string{stages.StepCanonicalLoad},
		Optional:     []string{stages.StepSegmentation},
	},
	{
		Name:         stages.StepStructuralExtraction,
		Category:     CategoryPolicy,
		Required:     true,
		Dependencies: []string{stages.StepCanonicalLoad},
	},
	{
		Name:         stages.StepLinkDiscovery,
		Category:     CategoryPolicy,
		Dependencies: []string{stages.StepStructuralExtraction},
	},
	{
		Name:         stages.StepEmbedding,
		Category:     CategoryIndexing,
		Required:     true,
		Dependencies: []string{stages.StepCanonicalLoad},
		Optional:     []string{stages.StepStructuralExtraction},
	},
	{
		Name:         stages.StepGraphAssembly,
		Category:     CategoryIndexing,
		Required:     true,
		Dependencies: []string{stages.StepCanonicalLoad},
		Optional:     []string{stages.StepStructuralExtraction, stages.StepLinkDiscovery},
	},
}

// StepRegistry indexes StepOrder by name
var StepRegistry = func() map[string]StepDefinition {
	m := make(map[string]StepDefinition, len(StepOrder))
	for _, def := range StepOrder {
		m[def.Name] = def
	}
	return m
}()

// DependencyError represents a dependency validation error
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("missing dependencies: %v", e.MissingDependencies)
}

// ValidateDependencies checks that every required dependency of a step is
// success or skipped.
func ValidateDependencies(ctx context.Context, s store.StepStore, runID uuid.UUID, stepName string) error {
	def, ok := StepRegistry[stepName]
	if !ok {
		return fmt.Errorf("unknown step: %s", stepName)
	}

	var missing []string
	for _, dep := range def.Dependencies {
		step, err := s.GetRunStep(ctx, runID, dep)
		if err != nil {
			return fmt.Errorf("failed to check dependency %s: %w", dep, err)
		}
		if !step.Done() || SkippedForDependency(step) {
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return &DependencyError{
			Step:                stepName,
			MissingDependencies: missing,
		}
	}
	return nil
}

// MissingOptional returns the optional dependencies of a step that did not
// complete in this run
func MissingOptional(ctx context.Context, s store.StepStore, runID uuid.UUID, stepName string) ([]string, error) {
	def, ok := StepRegistry[stepName]
	if !ok {
		return nil, fmt.Errorf("unknown step: %s", stepName)
	}
	var missing []string
	for _, dep := range def.Optional {
		step, err := s.GetRunStep(ctx, runID, dep)
		if err != nil {
			return nil, fmt.Errorf("failed to check optional dependency %s: %w", dep, err)
		}
		if !Complete(step) {
			missing = append(missing, dep)
		}
	}
	return missing, nil
}

// SkippedForDependency reports whether a step was skipped because one of its
// own dependencies failed. Such a step is not complete.
func SkippedForDependency(step *types.RunStep) bool {
	if step == nil || step.Status != types.StepStatusSkipped {
		return false
	}
	reason, _ := step.Summary["reason"].(string)
	return reason == stages.ReasonDependencyFailed
}

// Complete reports whether a step needs no further execution in this run
func Complete(step *types.RunStep) bool {
	return step.Done() && !SkippedForDependency(step)
}

// GetAvailableSteps returns the incomplete steps whose dependencies are met
func GetAvailableSteps(ctx context.Context, s store.StepStore, runID uuid.UUID) ([]string, error) {
	var available []string
	for _, def := range StepOrder {
		existing, err := s.GetRunStep(ctx, runID, def.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check step %s: %w", def.Name, err)
		}
		if Complete(existing) || (existing != nil && existing.Status == types.StepStatusRunning) {
			continue
		}
		if err := ValidateDependencies(ctx, s, runID, def.Name); err != nil {
			continue
		}
		available = append(available, def.Name)
	}
	return available, nil
}

// GetBlockedSteps returns the incomplete steps whose dependencies are not met
func GetBlockedSteps(ctx context.Context, s store.StepStore, runID uuid.UUID) ([]string, error) {
	var blocked []string
	for _, def := range StepOrder {
		existing, err := s.GetRunStep(ctx, runID, def.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to check step %s: %w", def.Name, err)
		}
		if Complete(existing) || (existing != nil && existing.Status == types.StepStatusRunning) {
			continue
		}
		if err := ValidateDependencies(ctx, s, runID, def.Name); err != nil {
			blocked = append(blocked, def.Name)
		}
	}
	return blocked, nil
}
