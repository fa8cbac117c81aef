package stages

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/providers/fake"
	"github.com/jonathan/planning-ingest/internal/store/memstore"
	"github.com/jonathan/planning-ingest/internal/types"
)

var errConnReset = errors.New("connection reset")

// flakyStore fails each armed write once, then delegates to the memory store
type flakyStore struct {
	*memstore.Store
	mu    sync.Mutex
	armed map[string]bool
}

func newFlakyStore(st *memstore.Store, writes ...string) *flakyStore {
	f := &flakyStore{Store: st, armed: map[string]bool{}}
	for _, w := range writes {
		f.armed[w] = true
	}
	return f
}

func (f *flakyStore) trip(write string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.armed[write] {
		f.armed[write] = false
		return errConnReset
	}
	return nil
}

func (f *flakyStore) SaveCanonical(ctx context.Context, set *types.CanonicalSet) error {
	if err := f.trip("canonical"); err != nil {
		return err
	}
	return f.Store.SaveCanonical(ctx, set)
}

func (f *flakyStore) SaveSegmentation(ctx context.Context, seg *types.AssetSegmentation) error {
	if err := f.trip("segmentation"); err != nil {
		return err
	}
	return f.Store.SaveSegmentation(ctx, seg)
}

func (f *flakyStore) SaveVectorization(ctx context.Context, maskID uuid.UUID, paths []types.VectorPath) error {
	if err := f.trip("vectorization"); err != nil {
		return err
	}
	return f.Store.SaveVectorization(ctx, maskID, paths)
}

func (f *flakyStore) InsertKGEdges(ctx context.Context, edges []types.KGEdge) error {
	if err := f.trip("edges"); err != nil {
		return err
	}
	return f.Store.InsertKGEdges(ctx, edges)
}

func TestCanonicalLoad_RetryAfterFailedWriteLoadsEverything(t *testing.T) {
	h := newHarness(t, types.DocumentMetadata{})
	h.rc.Parser = &fake.Parser{Bundle: assetBundle(t, "Site plan", "site_plan")}
	_, err := Parse{}.Run(t.Context(), h.rc)
	require.NoError(t, err)

	h.rc.Store = newFlakyStore(h.store, "canonical")
	_, err = CanonicalLoad{}.Run(t.Context(), h.rc)
	require.ErrorIs(t, err, errConnReset)

	pages, err := h.store.CountPages(t.Context(), h.rc.Document.ID)
	require.NoError(t, err)
	assert.Zero(t, pages)
	chunks, err := h.store.ListChunks(t.Context(), h.rc.Document.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	out, err := CanonicalLoad{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	assert.False(t, out.Skipped)

	chunks, err = h.store.ListChunks(t.Context(), h.rc.Document.ID)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	assets, err := h.store.ListVisualAssets(t.Context(), h.rc.Document.ID)
	require.NoError(t, err)
	assert.Len(t, assets, 1)

	out, err = CanonicalLoad{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, ReasonSentinel, out.Reason)
}

func TestSegmentation_RetryAfterFailedWriteStoresAllMasks(t *testing.T) {
	h := newHarness(t, types.DocumentMetadata{})
	h.withBundle(t, assetBundle(t, "Site plan", "site_plan"))
	seg := &fake.Segmenter{Masks: []providers.SegmentMask{
		{MaskPNGBase64: blockMaskBase64(t, 16, 0, 0, 4), Label: "a", Score: 0.9},
		{MaskPNGBase64: blockMaskBase64(t, 16, 6, 6, 4), Label: "b", Score: 0.8},
		{MaskPNGBase64: blockMaskBase64(t, 16, 10, 10, 4), Label: "c", Score: 0.7},
	}}
	h.rc.Segmenter = seg
	h.rc.Store = newFlakyStore(h.store, "segmentation")

	_, err := Segmentation{}.Run(t.Context(), h.rc)
	require.ErrorIs(t, err, errConnReset)
	stored, err := h.store.ListMasks(t.Context(), h.rc.Document.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)

	out, err := Segmentation{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, 3, out.Summary["masks"])

	stored, err = h.store.ListMasks(t.Context(), h.rc.Document.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assets, err := h.store.ListVisualAssets(t.Context(), h.rc.Document.ID)
	require.NoError(t, err)
	require.NotNil(t, assets[0].Metadata.MaskCount)
	assert.Equal(t, 3, *assets[0].Metadata.MaskCount)

	out, err = Segmentation{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, 2, seg.Calls())
}

func TestVectorization_EmptyResultIsRecorded(t *testing.T) {
	h := segmentedHarness(t, types.DocumentMetadata{})
	vec := &fake.Vectorizer{GeoJSON: `{"type":"FeatureCollection","features":[]}`}
	h.rc.Vectorizer = vec

	out, err := Vectorization{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Summary["vector_paths"])

	ms, err := h.store.ListMasks(t.Context(), h.rc.Document.ID)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	require.NotNil(t, ms[0].VectorCount)
	assert.Zero(t, *ms[0].VectorCount)

	out, err = Vectorization{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	assert.Equal(t, 1, vec.Calls())
}

func TestVectorization_RetryAfterFailedWrite(t *testing.T) {
	h := segmentedHarness(t, types.DocumentMetadata{})
	vec := &fake.Vectorizer{GeoJSON: `{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[4,0],[4,3],[0,3],[0,0]]]}}
	]}`}
	h.rc.Vectorizer = vec
	h.rc.Store = newFlakyStore(h.store, "vectorization")

	_, err := Vectorization{}.Run(t.Context(), h.rc)
	require.ErrorIs(t, err, errConnReset)

	out, err := Vectorization{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Summary["vector_paths"])

	paths, err := h.store.ListVectorPaths(t.Context(), h.rc.Document.ID)
	require.NoError(t, err)
	assert.Len(t, paths, 1)
	assert.Equal(t, 2, vec.Calls())
}

func TestGraphAssembly_RetryAfterFailedEdgeWrite(t *testing.T) {
	h := segmentedHarness(t, types.DocumentMetadata{})
	h.rc.LLM = &fake.LLM{Answers: map[string]string{"PolicyStructure": policyAnswer, "LinkProposals": `{"links":[]}`}}
	_, err := StructuralExtraction{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	_, err = LinkDiscovery{}.Run(t.Context(), h.rc)
	require.NoError(t, err)

	h.rc.Store = newFlakyStore(h.store, "edges")
	_, err = GraphAssembly{}.Run(t.Context(), h.rc)
	require.ErrorIs(t, err, errConnReset)

	nodes, err := h.store.ListKGNodes(t.Context(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, nodes, "nodes were upserted before the edge write failed")
	edges, err := h.store.ListKGEdges(t.Context(), "")
	require.NoError(t, err)
	assert.Empty(t, edges)

	out, err := GraphAssembly{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	assert.False(t, out.Skipped)
	assert.Equal(t, 0, out.Summary["nodes_inserted"])
	assert.Equal(t, 7, out.Summary["structural_edges"])
	assert.Equal(t, 1, out.Summary["link_edges"])

	edges, err = h.store.ListKGEdges(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, edges, 8)

	out, err = GraphAssembly{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	assert.True(t, out.Skipped)
	edges, err = h.store.ListKGEdges(t.Context(), "")
	require.NoError(t, err)
	assert.Len(t, edges, 8)
}
