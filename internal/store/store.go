// Package store defines the persistence contract for ingestion runs and their artifacts.
//
// Identity artifacts (documents, embeddings, graph nodes) are upserted and no-op
// on conflict. Stage-local artifacts (pages, chunks, masks, vector paths) are
// plain inserts; the calling stage checks its sentinel before writing.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/types"
)

// RunStore persists batches and runs
type RunStore interface {
	CreateBatch(ctx context.Context, authority, source string) (*types.IngestBatch, error)
	CompleteBatch(ctx context.Context, batchID uuid.UUID, status string) error
	CreateRun(ctx context.Context, batchID uuid.UUID, pipelineVersion string, models map[string]string) (*types.Run, error)
	SetRunDocument(ctx context.Context, runID, documentID uuid.UUID) error
	// GetRun returns nil, nil when the run does not exist.
	GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error)
	// UpdateRunStatus sets completed_at for terminal statuses and clears it for running.
	UpdateRunStatus(ctx context.Context, runID uuid.UUID, status string, errorMsg *string) error
	ListRuns(ctx context.Context, limit int) ([]types.Run, error)
}

// StepStore persists run steps, unique per (run, step)
type StepStore interface {
	// StartRunStep upserts the step as running and increments its attempt count.
	StartRunStep(ctx context.Context, runID uuid.UUID, step, category string) (*types.RunStep, error)
	// FinishRunStep upserts a terminal status, summary and error text and sets ended_at.
	FinishRunStep(ctx context.Context, runID uuid.UUID, step, category, status string, summary map[string]any, errorMsg *string) error
	// GetRunStep returns nil, nil when the step was never entered.
	GetRunStep(ctx context.Context, runID uuid.UUID, step string) (*types.RunStep, error)
	ListRunSteps(ctx context.Context, runID uuid.UUID) ([]types.RunStep, error)
}

// ToolRunStore is the provenance ledger's backing table. Rows are only
// updated while their status is still running.
type ToolRunStore interface {
	InsertToolRun(ctx context.Context, tr *types.ToolRun) error
	MergeToolRunOutputs(ctx context.Context, id uuid.UUID, outputs map[string]any) error
	FinishToolRun(ctx context.Context, id uuid.UUID, status string, outputs map[string]any, confidence, uncertainty *string) error
	GetToolRun(ctx context.Context, id uuid.UUID) (*types.ToolRun, error)
	ListToolRuns(ctx context.Context, runID uuid.UUID) ([]types.ToolRun, error)
}

// DocumentStore persists documents and parse bundles
type DocumentStore interface {
	// UpsertDocument inserts doc unless one with the same (authority, plan cycle,
	// content hash) exists, in which case the existing row is returned with created=false.
	UpsertDocument(ctx context.Context, doc *types.Document) (stored *types.Document, created bool, err error)
	GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	// InsertParseBundle is a no-op when the document already has a bundle.
	InsertParseBundle(ctx context.Context, pb *types.ParseBundle) error
	GetParseBundle(ctx context.Context, documentID uuid.UUID) (*types.ParseBundle, error)
}

// CanonicalStore persists the canonical text of a document
type CanonicalStore interface {
	CountPages(ctx context.Context, documentID uuid.UUID) (int, error)
	// SaveCanonical writes pages, chunks, visual assets and evidence refs
	// atomically; pages present means the whole set is present.
	SaveCanonical(ctx context.Context, set *types.CanonicalSet) error
	ListChunks(ctx context.Context, documentID uuid.UUID) ([]types.Chunk, error)
	// InsertEvidenceRefs ignores refs that already exist.
	InsertEvidenceRefs(ctx context.Context, refs []types.EvidenceRef) error
}

// VisualStore persists visual assets, masks, regions, vector paths and transforms
type VisualStore interface {
	ListVisualAssets(ctx context.Context, documentID uuid.UUID) ([]types.VisualAsset, error)
	UpdateVisualAssetMetadata(ctx context.Context, assetID uuid.UUID, meta types.VisualAssetMetadata) error

	// SaveSegmentation writes an asset's masks, regions, region evidence and
	// mask count atomically.
	SaveSegmentation(ctx context.Context, seg *types.AssetSegmentation) error
	ListMasks(ctx context.Context, documentID uuid.UUID) ([]types.SegmentationMask, error)
	ListRegions(ctx context.Context, assetID uuid.UUID) ([]types.VisualAssetRegion, error)

	// SaveVectorization writes a mask's vector paths and records their count
	// on the mask atomically.
	SaveVectorization(ctx context.Context, maskID uuid.UUID, paths []types.VectorPath) error
	ListVectorPaths(ctx context.Context, documentID uuid.UUID) ([]types.VectorPath, error)

	InsertTransform(ctx context.Context, t *types.Transform) error
	// GetTransform returns the latest transform for the asset, or nil.
	GetTransform(ctx context.Context, assetID uuid.UUID) (*types.Transform, error)
}

// PolicyStore persists extracted policy structure
type PolicyStore interface {
	CountPolicySections(ctx context.Context, documentID uuid.UUID) (int, error)
	SavePolicyStructure(ctx context.Context, ps *types.PolicyStructure) error
	LoadPolicyStructure(ctx context.Context, documentID uuid.UUID) (*types.PolicyStructure, error)
}

// EmbeddingStore persists unit embeddings
type EmbeddingStore interface {
	// UpsertUnitEmbeddings ignores rows whose (unit type, unit id, model id)
	// already exists and returns how many were inserted.
	UpsertUnitEmbeddings(ctx context.Context, embs []types.UnitEmbedding) (int, error)
	EmbeddedUnits(ctx context.Context, unitType, modelID string, unitIDs []uuid.UUID) (map[uuid.UUID]bool, error)
	CountUnitEmbeddings(ctx context.Context, unitType, modelID string) (int, error)
}

// GraphStore persists link proposals and the knowledge graph
type GraphStore interface {
	InsertLinkProposals(ctx context.Context, proposals []types.LinkProposal) error
	ListLinkProposals(ctx context.Context, documentID uuid.UUID) ([]types.LinkProposal, error)

	// UpsertKGNodes ignores existing ids and returns the ids actually inserted.
	UpsertKGNodes(ctx context.Context, nodes []types.KGNode) ([]string, error)
	// InsertKGEdges appends; edges are never deduplicated.
	InsertKGEdges(ctx context.Context, edges []types.KGEdge) error
	// ListKGNodes lists nodes of one type, or all nodes when nodeType is empty.
	ListKGNodes(ctx context.Context, nodeType string) ([]types.KGNode, error)
	// ListKGEdges lists edges touching nodeID, or all edges when nodeID is empty.
	ListKGEdges(ctx context.Context, nodeID string) ([]types.KGEdge, error)
	MaterializedProposals(ctx context.Context, proposalIDs []uuid.UUID) (map[uuid.UUID]bool, error)
}

// SpatialStore persists GIS features and layer profiles
type SpatialStore interface {
	CountActiveSpatialFeatures(ctx context.Context, authority string) (int, error)
	DeactivateSpatialFeatures(ctx context.Context, authority string) (int, error)
	InsertSpatialFeatures(ctx context.Context, features []types.SpatialFeature) error
	ListSpatialFeatures(ctx context.Context, authority, kind string) ([]types.SpatialFeature, error)
}

// Locker serializes pipeline execution per document
type Locker interface {
	// TryLockDocument returns ok=false when another run holds the document.
	TryLockDocument(ctx context.Context, documentID uuid.UUID) (release func(), ok bool, err error)
}

// Store is the full persistence contract
type Store interface {
	RunStore
	StepStore
	ToolRunStore
	DocumentStore
	CanonicalStore
	VisualStore
	PolicyStore
	EmbeddingStore
	GraphStore
	SpatialStore
	Locker
}
