// Package stages implements the ingestion pipeline stages. Every stage is
// idempotent: it checks its sentinel before calling a provider and reports
// Skipped when the work is already done.
package stages

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/store"
	"github.com/jonathan/planning-ingest/internal/types"
)

// Step names, in pipeline order
const (
	StepParse                = "parse"
	StepCanonicalLoad        = "canonical_load"
	StepSegmentation         = "segmentation"
	StepVectorization        = "vectorization"
	StepGeoreference         = "georeference"
	StepStructuralExtraction = "structural_extraction"
	StepLinkDiscovery        = "link_discovery"
	StepEmbedding            = "embedding"
	StepGraphAssembly        = "graph_assembly"
)

// Skip reasons recorded in step summaries
const (
	ReasonSentinel         = "already_done"
	ReasonNoVisualAssets   = "no_visual_assets"
	ReasonNoMasks          = "no_masks"
	ReasonNoEligibleAssets = "no_eligible_assets"
	ReasonNoSections       = "no_sections"
	ReasonNoUnits          = "nothing_to_embed"
	ReasonDependencyFailed = "dependency_failed"
)

// Outcome is what a stage reports to the driver
type Outcome struct {
	Skipped bool
	Reason  string
	Summary map[string]any
}

// Stage is one named pipeline phase
type Stage interface {
	Name() string
	Run(ctx context.Context, rc *RunContext) (Outcome, error)
}

// Options tune stage behavior
type Options struct {
	// Domain is the first segment of every blob path.
	Domain string
	// AssetConcurrency bounds per-asset parallelism in segmentation and vectorization.
	AssetConcurrency int
	EmbedBatchSize   int
	SegmentPrompts   []string
	// MaxExtractionChars caps the block text sent for structural extraction.
	MaxExtractionChars int
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{
		Domain:             "planning",
		AssetConcurrency:   4,
		EmbedBatchSize:     64,
		SegmentPrompts:     []string{"site boundary", "redline", "building footprint"},
		MaxExtractionChars: 60000,
	}
}

// Deps are the collaborators shared by all runs
type Deps struct {
	Store         store.Store
	Blob          providers.BlobStore
	Parser        providers.DocumentParser
	Segmenter     providers.Segmenter
	Vectorizer    providers.Vectorizer
	Georeferencer providers.Georeferencer
	LLM           providers.StructuredLLM
	VLM           providers.VisionLLM
	Embedder      providers.Embedder
	Ledger        *provenance.Ledger
	Logger        *slog.Logger
	Options       Options
}

// RunContext is the per-run view a stage executes against
type RunContext struct {
	*Deps
	Run      *types.Run
	Document *types.Document
}

// Refs ties ledger rows to the current run
func (rc *RunContext) Refs() provenance.Refs {
	batch, run := rc.Run.BatchID, rc.Run.ID
	return provenance.Refs{BatchID: &batch, RunID: &run}
}

// Prefix is the blob prefix of the current document
func (rc *RunContext) Prefix() string {
	return rc.Document.BlobPrefix(rc.Options.Domain)
}

func (rc *RunContext) logger() *slog.Logger {
	l := rc.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With("run_id", rc.Run.ID, "document_id", rc.Document.ID)
}

func (rc *RunContext) concurrency() int {
	if rc.Options.AssetConcurrency > 0 {
		return rc.Options.AssetConcurrency
	}
	return 1
}

// requireProvider returns a ConfigError when a provider was not configured
func requireProvider(provider string, configured bool) error {
	if configured {
		return nil
	}
	return &providers.ConfigError{Provider: provider, Message: "provider is not configured"}
}

func skipped(reason string, summary map[string]any) Outcome {
	if summary == nil {
		summary = map[string]any{}
	}
	summary["reason"] = reason
	return Outcome{Skipped: true, Reason: reason, Summary: summary}
}

// ----------------------------------------------------------------------------
// Errors
// ----------------------------------------------------------------------------

// StageError wraps a failure inside a stage with the step that raised it
type StageError struct {
	Step    string
	Message string
	Cause   error
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Step, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

func fail(step, message string, cause error) error {
	return &StageError{Step: step, Message: message, Cause: cause}
}

// ----------------------------------------------------------------------------
// Evidence references
// ----------------------------------------------------------------------------

// PageRef is the evidence ref of a page
func PageRef(doc *types.Document, page int) string {
	return fmt.Sprintf("%s::page::%d", doc.NodeRef(), page)
}

// ChunkRef is the evidence ref of a chunk
func ChunkRef(doc *types.Document, seq int) string {
	return fmt.Sprintf("%s::chunk::%d", doc.NodeRef(), seq)
}

// AssetRef is the evidence ref of a visual asset
func AssetRef(doc *types.Document, seq int) string {
	return fmt.Sprintf("%s::asset::%d", doc.NodeRef(), seq)
}

// RegionRef is the evidence ref of a mask region within an asset
func RegionRef(assetRef string, maskID uuid.UUID) string {
	return fmt.Sprintf("%s::region::%s", assetRef, maskID)
}
