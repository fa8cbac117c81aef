package stages

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/planning-ingest/internal/geometry"
	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/types"
)

// Vectorization turns every mask not yet vectorized into one VectorPath per
// returned feature. Each mask records its feature count, zero included, so a
// mask is vectorized once. Masks of one asset run sequentially; assets run in
// parallel.
type Vectorization struct{}

func (Vectorization) Name() string { return StepVectorization }

func (Vectorization) Run(ctx context.Context, rc *RunContext) (Outcome, error) {
	all, err := rc.Store.ListMasks(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list masks: %w", err)
	}
	if len(all) == 0 {
		return skipped(ReasonNoMasks, nil), nil
	}

	pages := make(map[uuid.UUID]int)
	assets, err := rc.Store.ListVisualAssets(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list visual assets: %w", err)
	}
	for _, a := range assets {
		pages[a.ID] = a.PageNumber
	}

	byAsset := make(map[uuid.UUID][]types.SegmentationMask)
	var order []uuid.UUID
	pending := 0
	for _, m := range all {
		if m.VectorCount != nil {
			continue
		}
		if _, ok := byAsset[m.AssetID]; !ok {
			order = append(order, m.AssetID)
		}
		byAsset[m.AssetID] = append(byAsset[m.AssetID], m)
		pending++
	}
	if pending == 0 {
		return skipped(ReasonSentinel, map[string]any{"masks": len(all)}), nil
	}
	if err := requireProvider("vectorization", rc.Vectorizer != nil); err != nil {
		return Outcome{}, err
	}

	var (
		mu    sync.Mutex
		paths int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.concurrency())
	for _, assetID := range order {
		g.Go(func() error {
			for _, m := range byAsset[assetID] {
				n, err := vectorizeMask(gctx, rc, m, pages[assetID])
				if err != nil {
					return fmt.Errorf("mask %s: %w", m.ID, err)
				}
				mu.Lock()
				paths += n
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}

	return Outcome{Summary: map[string]any{
		"masks":        len(all),
		"vectorized":   pending,
		"vector_paths": paths,
	}}, nil
}

func vectorizeMask(ctx context.Context, rc *RunContext, m types.SegmentationMask, page int) (int, error) {
	obj, err := rc.Blob.Get(ctx, m.BlobPath)
	if err != nil {
		return 0, fmt.Errorf("failed to read mask image: %w", err)
	}
	img := providers.Image{Data: obj.Data, MIMEType: "image/png"}

	type vectorized struct {
		result *providers.VectorizeResult
		fc     *geojson.FeatureCollection
	}
	call := provenance.Call{
		Tool: "vectorization",
		Inputs: map[string]any{
			"mask_id":  m.ID.String(),
			"asset_id": m.AssetID.String(),
			"label":    m.Label,
			"image":    img,
		},
		Refs:        rc.Refs(),
		LongRunning: true,
	}
	out, toolID, err := provenance.Track(ctx, rc.Ledger, call,
		func(ctx context.Context) (vectorized, error) {
			r, err := rc.Vectorizer.Vectorize(ctx, providers.VectorizeRequest{Image: img, Prompts: []string{m.Label}})
			if err != nil {
				return vectorized{}, err
			}
			if err := providers.ValidateOutput("vectorization", r); err != nil {
				return vectorized{}, err
			}
			fc, err := geometry.DecodeFeatureCollection(r.FeaturesGeoJSON)
			if err != nil {
				return vectorized{}, &providers.MalformedOutputError{
					Provider: "vectorization",
					Message:  "invalid feature collection",
					RawText:  string(r.FeaturesGeoJSON),
					Cause:    err,
				}
			}
			return vectorized{result: r, fc: fc}, nil
		},
		func(v vectorized) provenance.Result {
			return provenance.Result{
				Outputs:     map[string]any{"features": len(v.fc.Features)},
				Uncertainty: v.result.Limitations,
			}
		})
	if err != nil {
		return 0, err
	}

	maskBox := geometry.FromArray(m.BBox)
	paths := make([]types.VectorPath, 0, len(out.fc.Features))
	for _, f := range out.fc.Features {
		meta := types.VectorPathMetadata{
			Properties:  f.Properties,
			Confidence:  out.result.Confidence,
			Limitations: out.result.Limitations,
			BBoxSource:  types.BBoxFromMask,
			ToolRunID:   &toolID,
		}
		box := maskBox
		if b, ok := geometry.PolygonBounds(f.Geometry); ok {
			box = b
			meta.BBoxSource = types.BBoxFromGeometry
		}
		paths = append(paths, types.VectorPath{
			ID:         uuid.New(),
			DocumentID: m.DocumentID,
			AssetID:    m.AssetID,
			MaskID:     m.ID,
			RunID:      rc.Run.ID,
			PageNumber: page,
			Geometry:   geojson.NewGeometry(f.Geometry),
			BBox:       box,
			Metadata:   meta,
		})
	}
	if err := rc.Store.SaveVectorization(ctx, m.ID, paths); err != nil {
		return 0, fmt.Errorf("failed to save vector paths: %w", err)
	}
	return len(paths), nil
}
