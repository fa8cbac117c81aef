package memstore

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/types"
)

func TestUpsertDocument_DedupByHash(t *testing.T) {
	s := New()
	ctx := context.Background()

	doc := &types.Document{Authority: "camden", ContentHash: "abc", Filename: "a.pdf"}
	first, created, err := s.UpsertDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := s.UpsertDocument(ctx, &types.Document{Authority: "camden", ContentHash: "abc", Filename: "b.pdf"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "a.pdf", second.Filename)

	other, created, err := s.UpsertDocument(ctx, &types.Document{Authority: "camden", PlanCycle: "2024", ContentHash: "abc"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestRunStep_UniquePerRunAndName(t *testing.T) {
	s := New()
	ctx := context.Background()
	runID := uuid.New()

	_, err := s.StartRunStep(ctx, runID, "parse", "ingest")
	require.NoError(t, err)
	require.NoError(t, s.FinishRunStep(ctx, runID, "parse", "ingest", types.StepStatusFailed, nil, strPtr("boom")))

	step, err := s.StartRunStep(ctx, runID, "parse", "ingest")
	require.NoError(t, err)
	assert.Equal(t, 2, step.Attempts)
	assert.Nil(t, step.ErrorMessage)

	require.NoError(t, s.FinishRunStep(ctx, runID, "parse", "ingest", types.StepStatusSuccess, map[string]any{"pages": 1}, nil))

	steps, err := s.ListRunSteps(ctx, runID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, types.StepStatusSuccess, steps[0].Status)
	assert.NotNil(t, steps[0].EndedAt)
	assert.NotNil(t, steps[0].DurationMs)
}

func TestToolRun_ImmutableOnceFinalized(t *testing.T) {
	s := New()
	ctx := context.Background()
	id := uuid.New()

	require.NoError(t, s.InsertToolRun(ctx, &types.ToolRun{ID: id, Tool: "parse", Status: types.ToolRunStatusRunning}))
	require.NoError(t, s.MergeToolRunOutputs(ctx, id, map[string]any{"heartbeat_at": "t1"}))
	require.NoError(t, s.FinishToolRun(ctx, id, types.ToolRunStatusSuccess, map[string]any{"pages": 3}, nil, nil))

	require.NoError(t, s.MergeToolRunOutputs(ctx, id, map[string]any{"heartbeat_at": "t2"}))
	require.NoError(t, s.FinishToolRun(ctx, id, types.ToolRunStatusError, nil, nil, nil))

	tr, err := s.GetToolRun(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.ToolRunStatusSuccess, tr.Status)
	assert.Equal(t, "t1", tr.Outputs["heartbeat_at"])
	assert.Equal(t, 3, tr.Outputs["pages"])
}

func TestUpsertUnitEmbeddings_Unique(t *testing.T) {
	s := New()
	ctx := context.Background()
	unit := uuid.New()

	emb := types.UnitEmbedding{UnitType: types.UnitChunk, UnitID: unit, ModelID: "m1", Dim: 2, Vector: []float32{1, 2}}

	n, err := s.UpsertUnitEmbeddings(ctx, []types.UnitEmbedding{emb})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.UpsertUnitEmbeddings(ctx, []types.UnitEmbedding{emb})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	count, err := s.CountUnitEmbeddings(ctx, types.UnitChunk, "m1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	emb.ModelID = "m2"
	n, err = s.UpsertUnitEmbeddings(ctx, []types.UnitEmbedding{emb})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKGNodesIgnoreExisting_EdgesAppend(t *testing.T) {
	s := New()
	ctx := context.Background()

	inserted, err := s.UpsertKGNodes(ctx, []types.KGNode{{ID: "doc::1", Type: "Document"}, {ID: "chunk::1", Type: "Chunk"}})
	require.NoError(t, err)
	assert.Len(t, inserted, 2)

	inserted, err = s.UpsertKGNodes(ctx, []types.KGNode{{ID: "doc::1", Type: "Document"}})
	require.NoError(t, err)
	assert.Empty(t, inserted)

	edge := types.KGEdge{Src: "doc::1", Dst: "chunk::1", Type: "CONTAINS"}
	require.NoError(t, s.InsertKGEdges(ctx, []types.KGEdge{edge}))
	require.NoError(t, s.InsertKGEdges(ctx, []types.KGEdge{edge}))

	edges, err := s.ListKGEdges(ctx, "chunk::1")
	require.NoError(t, err)
	assert.Len(t, edges, 2)
}

func TestTryLockDocument(t *testing.T) {
	s := New()
	ctx := context.Background()
	doc := uuid.New()

	release, ok, err := s.TryLockDocument(ctx, doc)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.TryLockDocument(ctx, doc)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()

	release2, ok, err := s.TryLockDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestSpatialFeatures_Deactivate(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.InsertSpatialFeatures(ctx, []types.SpatialFeature{
		{ID: uuid.New(), Authority: "camden", Kind: types.SpatialKindFeature, Active: true},
		{ID: uuid.New(), Authority: "camden", Kind: types.SpatialKindLayerProfile, Active: true},
		{ID: uuid.New(), Authority: "islington", Kind: types.SpatialKindFeature, Active: true},
	}))

	n, err := s.CountActiveSpatialFeatures(ctx, "camden")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeactivateSpatialFeatures(ctx, "camden")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountActiveSpatialFeatures(ctx, "camden")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	profiles, err := s.ListSpatialFeatures(ctx, "islington", types.SpatialKindFeature)
	require.NoError(t, err)
	assert.Len(t, profiles, 1)
}

func strPtr(s string) *string { return &s }

func TestSaveSegmentation_UnknownAssetWritesNothing(t *testing.T) {
	s := New()
	ctx := context.Background()
	docID := uuid.New()
	asset := types.VisualAsset{ID: uuid.New(), DocumentID: docID, PageNumber: 1}
	require.NoError(t, s.SaveCanonical(ctx, &types.CanonicalSet{
		Pages:        []types.Page{{ID: uuid.New(), DocumentID: docID, PageNumber: 1}},
		VisualAssets: []types.VisualAsset{asset},
	}))

	mask := types.SegmentationMask{ID: uuid.New(), AssetID: asset.ID, DocumentID: docID}
	err := s.SaveSegmentation(ctx, &types.AssetSegmentation{AssetID: uuid.New(), Masks: []types.SegmentationMask{mask}})
	require.Error(t, err)
	masks, err := s.ListMasks(ctx, docID)
	require.NoError(t, err)
	assert.Empty(t, masks)

	n := 1
	require.NoError(t, s.SaveSegmentation(ctx, &types.AssetSegmentation{
		AssetID:  asset.ID,
		Metadata: types.VisualAssetMetadata{MaskCount: &n},
		Masks:    []types.SegmentationMask{mask},
	}))
	assets, err := s.ListVisualAssets(ctx, docID)
	require.NoError(t, err)
	require.NotNil(t, assets[0].Metadata.MaskCount)
	assert.Equal(t, 1, *assets[0].Metadata.MaskCount)

	require.Error(t, s.SaveVectorization(ctx, uuid.New(), nil))
	require.NoError(t, s.SaveVectorization(ctx, mask.ID, nil))
	masks, err = s.ListMasks(ctx, docID)
	require.NoError(t, err)
	require.NotNil(t, masks[0].VectorCount)
	assert.Zero(t, *masks[0].VectorCount)
}
