package stages

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/providers/blob"
	"github.com/jonathan/planning-ingest/internal/providers/fake"
	"github.com/jonathan/planning-ingest/internal/store/memstore"
	"github.com/jonathan/planning-ingest/internal/types"
)

type harness struct {
	store *memstore.Store
	blob  *blob.FS
	rc    *RunContext
}

func newHarness(t *testing.T, meta types.DocumentMetadata) *harness {
	t.Helper()
	ctx := t.Context()

	st := memstore.New()
	bs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)

	batch, err := st.CreateBatch(ctx, "camden", "upload")
	require.NoError(t, err)
	run, err := st.CreateRun(ctx, batch.ID, "test", map[string]string{"embedding": "fake-embedding"})
	require.NoError(t, err)

	doc, _, err := st.UpsertDocument(ctx, &types.Document{
		ID:          uuid.New(),
		Authority:   "camden",
		PlanCycle:   "2025",
		BatchID:     batch.ID,
		Filename:    "local-plan.txt",
		ContentType: "text/plain",
		RawBlobPath: "raw/local-plan.txt",
		ContentHash: "sha256:test",
		Metadata:    meta,
	})
	require.NoError(t, err)
	_, err = bs.Put(ctx, doc.RawBlobPath, []byte("LOCAL PLAN\nPolicy H1 Housing\nNew homes will be supported."), "text/plain", nil)
	require.NoError(t, err)

	opts := DefaultOptions()
	opts.AssetConcurrency = 2
	deps := &Deps{
		Store:   st,
		Blob:    bs,
		Ledger:  provenance.New(st, nil),
		Options: opts,
	}
	return &harness{store: st, blob: bs, rc: &RunContext{Deps: deps, Run: run, Document: doc}}
}

// withBundle runs Parse and CanonicalLoad against a fixed bundle
func (h *harness) withBundle(t *testing.T, b *types.Bundle) {
	t.Helper()
	h.rc.Parser = &fake.Parser{Bundle: b}
	_, err := Parse{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
	_, err = CanonicalLoad{}.Run(t.Context(), h.rc)
	require.NoError(t, err)
}

func headingBundle() *types.Bundle {
	return &types.Bundle{
		SchemaVersion: "test-1",
		Pages:         []types.BundlePage{{PageNumber: 1, Text: "Policy H1 Housing"}},
		LayoutBlocks: []types.LayoutBlock{
			{ID: "b1", PageNumber: 1, Type: types.BlockHeading, Text: "Policy H1 Housing", SectionPath: "Policy H1 Housing"},
		},
	}
}

func assetBundle(t *testing.T, caption, assetType string) *types.Bundle {
	b := headingBundle()
	b.VisualAssets = []types.BundleVisualAsset{{
		ID:          "a1",
		PageNumber:  1,
		ImageBase64: base64.StdEncoding.EncodeToString(solidPNG(t, 16, 16)),
		ContentType: "image/png",
		Caption:     caption,
		AssetType:   assetType,
	}}
	return b
}

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: 200, G: 10, B: 10, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// blockMaskBase64 is a size x size alpha mask with a side x side block at (x0, y0)
func blockMaskBase64(t *testing.T, size, x0, y0, side int) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := y0; y < y0+side; y++ {
		for x := x0; x < x0+side; x++ {
			img.Set(x, y, color.NRGBA{A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

const policyAnswer = `{
  "sections": [{
    "code": "H1",
    "title": "Policy H1 Housing",
    "text": "New homes will be supported.",
    "page_number": 1,
    "speech_act": {"act": "permission"},
    "clauses": [{"ref": "a", "text": "At least 35% affordable housing.", "speech_act": {"act": "requirement"}}],
    "definitions": [{"term": "Affordable housing", "definition": "Housing for sale or rent below market levels."}],
    "targets": [{"description": "Deliver 1,000 homes", "metric": "homes", "value": "1000", "deadline": "2030"}],
    "monitoring_hooks": [{"indicator": "Net additional dwellings", "source": "Annual monitoring report", "frequency": "annual"}]
  }]
}`
