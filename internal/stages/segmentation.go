package stages

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/planning-ingest/internal/masks"
	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/types"
)

// Segmentation asks the Segmenter for masks on every visual asset not yet
// segmented. An asset's masks and its mask count are saved in one store write,
// so the recorded count alone marks the asset done, including zero.
type Segmentation struct{}

func (Segmentation) Name() string { return StepSegmentation }

func (Segmentation) Run(ctx context.Context, rc *RunContext) (Outcome, error) {
	assets, err := rc.Store.ListVisualAssets(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list visual assets: %w", err)
	}
	if len(assets) == 0 {
		return skipped(ReasonNoVisualAssets, nil), nil
	}

	var pending []types.VisualAsset
	for _, a := range assets {
		if a.Metadata.MaskCount == nil {
			pending = append(pending, a)
		}
	}
	if len(pending) == 0 {
		return skipped(ReasonSentinel, map[string]any{"visual_assets": len(assets)}), nil
	}
	if err := requireProvider("segmentation", rc.Segmenter != nil); err != nil {
		return Outcome{}, err
	}

	var (
		mu         sync.Mutex
		totalMasks int
		regions    int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rc.concurrency())
	for _, asset := range pending {
		g.Go(func() error {
			m, r, err := segmentAsset(gctx, rc, asset)
			if err != nil {
				return fmt.Errorf("asset %s: %w", asset.ID, err)
			}
			mu.Lock()
			totalMasks += m
			regions += r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Outcome{}, err
	}

	return Outcome{Summary: map[string]any{
		"visual_assets": len(assets),
		"segmented":     len(pending),
		"masks":         totalMasks,
		"regions":       regions,
	}}, nil
}

func segmentAsset(ctx context.Context, rc *RunContext, asset types.VisualAsset) (int, int, error) {
	obj, err := rc.Blob.Get(ctx, asset.BlobPath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read asset image: %w", err)
	}
	img := providers.Image{Data: obj.Data, MIMEType: obj.ContentType}

	call := provenance.Call{
		Tool: "segmentation",
		Inputs: map[string]any{
			"asset_id":  asset.ID.String(),
			"blob_path": asset.BlobPath,
			"image":     img,
			"prompts":   rc.Options.SegmentPrompts,
		},
		Refs: rc.Refs(),
	}
	res, _, err := provenance.Track(ctx, rc.Ledger, call,
		func(ctx context.Context) (*providers.SegmentResult, error) {
			r, err := rc.Segmenter.Segment(ctx, providers.SegmentRequest{Image: img, Prompts: rc.Options.SegmentPrompts})
			if err != nil {
				return nil, err
			}
			return r, providers.ValidateOutput("segmentation", r)
		},
		func(r *providers.SegmentResult) provenance.Result {
			out := map[string]any{"mask_count": len(r.Masks)}
			if r.Confidence != nil {
				out["confidence"] = *r.Confidence
			}
			return provenance.Result{Outputs: out}
		})
	if err != nil {
		return 0, 0, err
	}

	// A source image we cannot decode still gets masks, just no regions.
	src, _, decodeErr := image.Decode(bytes.NewReader(obj.Data))
	if decodeErr != nil {
		rc.logger().Warn("cannot decode asset image, regions not cropped", "asset_id", asset.ID, "error", decodeErr)
	}

	n := len(res.Masks)
	seg := &types.AssetSegmentation{AssetID: asset.ID, Metadata: asset.Metadata}
	seg.Metadata.MaskCount = &n
	for i, sm := range res.Masks {
		if err := buildMask(ctx, rc, asset, src, sm, seg); err != nil {
			return 0, 0, fmt.Errorf("mask %d: %w", i, err)
		}
	}
	if err := rc.Store.SaveSegmentation(ctx, seg); err != nil {
		return 0, 0, fmt.Errorf("failed to save segmentation: %w", err)
	}
	return n, len(seg.Regions), nil
}

// buildMask stores the blobs for one provider mask and adds its mask row,
// cropped region and region evidence to seg.
func buildMask(ctx context.Context, rc *RunContext, asset types.VisualAsset, src image.Image, sm providers.SegmentMask, seg *types.AssetSegmentation) error {
	decoded, err := masks.DecodePNGBase64(sm.MaskPNGBase64)
	if err != nil {
		return &providers.MalformedOutputError{Provider: "segmentation", Message: "undecodable mask", Cause: err}
	}
	bin := masks.AlphaMask(decoded)

	var bbox [4]float64
	if len(sm.BBox) == 4 {
		bbox = masks.NormalizeBBox([4]float64{sm.BBox[0], sm.BBox[1], sm.BBox[2], sm.BBox[3]})
	} else if b, ok := masks.BBoxOf(bin); ok {
		bbox = b
	}

	pngData, err := masks.EncodeAlphaPNG(bin)
	if err != nil {
		return err
	}
	maskID := uuid.New()
	maskPath := fmt.Sprintf("%s/masks/%s/%s.png", rc.Prefix(), asset.ID, maskID)
	if _, err := rc.Blob.Put(ctx, maskPath, pngData, "image/png", map[string]string{
		"asset_id": asset.ID.String(),
		"label":    sm.Label,
	}); err != nil {
		return fmt.Errorf("failed to store mask: %w", err)
	}

	seg.Masks = append(seg.Masks, types.SegmentationMask{
		ID:         maskID,
		AssetID:    asset.ID,
		DocumentID: rc.Document.ID,
		RunID:      rc.Run.ID,
		Label:      sm.Label,
		BlobPath:   maskPath,
		RLE:        masks.EncodeRLE(bin),
		BBox:       bbox,
		Confidence: sm.Score,
	})

	if src == nil {
		return nil
	}
	crop, err := masks.Crop(src, bbox)
	if err != nil {
		rc.logger().Warn("mask bbox outside image, region not cropped", "asset_id", asset.ID, "bbox", bbox)
		return nil
	}
	regionPath := fmt.Sprintf("%s/regions/%s/%s.png", rc.Prefix(), asset.ID, maskID)
	if _, err := rc.Blob.Put(ctx, regionPath, crop, "image/png", map[string]string{"mask_id": maskID.String()}); err != nil {
		return fmt.Errorf("failed to store region: %w", err)
	}
	ref := RegionRef(asset.EvidenceRef, maskID)
	seg.Regions = append(seg.Regions, types.VisualAssetRegion{
		ID:          uuid.New(),
		AssetID:     asset.ID,
		MaskID:      maskID,
		BBox:        bbox,
		BlobPath:    regionPath,
		EvidenceRef: ref,
	})
	seg.EvidenceRefs = append(seg.EvidenceRefs, types.EvidenceRef{
		ID:         uuid.New(),
		DocumentID: rc.Document.ID,
		Ref:        ref,
		Kind:       types.EvidenceRegion,
		PageNumber: asset.PageNumber,
		FragmentID: maskID.String(),
		Locator:    fmt.Sprintf("bbox=%v", bbox),
	})
	return nil
}
