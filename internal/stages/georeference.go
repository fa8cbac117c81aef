package stages

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/prompts"
	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/schemas"
	"github.com/jonathan/planning-ingest/internal/types"
)

// DefaultTargetCRS is used when the document names no coordinate system
const DefaultTargetCRS = "EPSG:27700"

// Georeference eligibility reason codes
const (
	ReasonNoCanonicalFacts     = "no_canonical_facts"
	ReasonUnclassified         = "unclassified"
	ReasonNonMapType           = "non_map_asset_type"
	ReasonNotMapLike           = "not_map_like"
	ReasonAlreadyGeoreferenced = "already_georeferenced"
	reasonEligible             = "eligible"
)

const (
	assetTypeOther          = "other"
	classificationSourceVLM = "vlm"
	redlineLabel            = "redline"
	boundaryLabel           = "boundary"
)

var nonMapTypes = map[string]bool{
	"photo":         true,
	"photograph":    true,
	"aerial_photo":  true,
	"render":        true,
	"rendering":     true,
	"visualisation": true,
	"elevation":     true,
	"section":       true,
	"street_scene":  true,
	"floor_plan":    true,
	"chart":         true,
	"table":         true,
	"logo":          true,
	"diagram":       true,
}

var mapLikeTypes = map[string]bool{
	"site_plan":             true,
	"location_plan":         true,
	"block_plan":            true,
	"map":                   true,
	"policies_map":          true,
	"proposals_map":         true,
	"constraints_map":       true,
	"constraint_plan":       true,
	"landscape_plan":        true,
	"flood_map":             true,
	"flood_risk_map":        true,
	"heritage_map":          true,
	"conservation_area_map": true,
	"constraint_diagram":    true,
	"landscape_diagram":     true,
	"flood_diagram":         true,
	"heritage_diagram":      true,
}

// NormalizeAssetType lowercases and joins words with underscores
func NormalizeAssetType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '/'
	}), "_")
}

// Eligibility decides whether an asset may be georeferenced. It returns
// "eligible" or the reason code for skipping.
func Eligibility(doc *types.Document, assetType string) string {
	if !doc.Metadata.HasCanonicalFacts() {
		return ReasonNoCanonicalFacts
	}
	t := NormalizeAssetType(assetType)
	switch {
	case t == "":
		return ReasonUnclassified
	case nonMapTypes[t]:
		return ReasonNonMapType
	case !mapLikeTypes[t]:
		return ReasonNotMapLike
	}
	return reasonEligible
}

// Georeference places map-like assets in the document's target CRS.
// Unclassified assets are classified by the VLM first when one is configured.
type Georeference struct{}

func (Georeference) Name() string { return StepGeoreference }

func (Georeference) Run(ctx context.Context, rc *RunContext) (Outcome, error) {
	assets, err := rc.Store.ListVisualAssets(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list visual assets: %w", err)
	}
	if len(assets) == 0 {
		return skipped(ReasonNoVisualAssets, nil), nil
	}

	reasons := map[string]string{}
	var eligible []types.VisualAsset
	classified := 0
	for _, a := range assets {
		if rc.Document.Metadata.HasCanonicalFacts() && a.Metadata.AssetType() == "" && rc.VLM != nil {
			meta, err := classifyAsset(ctx, rc, a)
			if err != nil {
				if providers.IsConfig(err) || ctx.Err() != nil {
					return Outcome{}, err
				}
				rc.logger().Warn("asset classification failed", "asset_id", a.ID, "error", err)
			} else {
				a.Metadata = meta
				classified++
			}
		}

		reason := Eligibility(rc.Document, a.Metadata.AssetType())
		if reason == reasonEligible {
			existing, err := rc.Store.GetTransform(ctx, a.ID)
			if err != nil {
				return Outcome{}, fmt.Errorf("failed to get transform: %w", err)
			}
			if existing != nil {
				reason = ReasonAlreadyGeoreferenced
			}
		}
		if reason == reasonEligible {
			eligible = append(eligible, a)
			continue
		}
		reasons[a.ID.String()] = reason
	}

	summary := map[string]any{
		"visual_assets":  len(assets),
		"classified":     classified,
		"skipped_assets": reasons,
		"reason_counts":  countReasons(reasons),
	}
	if len(eligible) == 0 {
		reason := ReasonNoEligibleAssets
		if allReasons(reasons, ReasonAlreadyGeoreferenced) {
			reason = ReasonSentinel
		}
		return skipped(reason, summary), nil
	}
	if err := requireProvider("georeference", rc.Georeferencer != nil); err != nil {
		return Outcome{}, err
	}

	maskList, err := rc.Store.ListMasks(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list masks: %w", err)
	}

	var transforms []string
	for _, a := range eligible {
		t, err := georeferenceAsset(ctx, rc, a, redlineMask(maskList, a.ID))
		if err != nil {
			return Outcome{}, fmt.Errorf("asset %s: %w", a.ID, err)
		}
		transforms = append(transforms, t.ID.String())
	}
	summary["georeferenced"] = len(transforms)
	summary["transforms"] = transforms
	return Outcome{Summary: summary}, nil
}

// redlineMask picks the mask labelled as the site boundary, if any
func redlineMask(all []types.SegmentationMask, assetID uuid.UUID) *types.SegmentationMask {
	var best *types.SegmentationMask
	for i := range all {
		m := &all[i]
		if m.AssetID != assetID {
			continue
		}
		label := strings.ToLower(m.Label)
		if !strings.Contains(label, redlineLabel) && !strings.Contains(label, boundaryLabel) {
			continue
		}
		if best == nil || m.Confidence > best.Confidence {
			best = m
		}
	}
	return best
}

func georeferenceAsset(ctx context.Context, rc *RunContext, a types.VisualAsset, redline *types.SegmentationMask) (*types.Transform, error) {
	obj, err := rc.Blob.Get(ctx, a.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read asset image: %w", err)
	}
	meta := rc.Document.Metadata
	crs := meta.TargetCRS
	if crs == "" {
		crs = DefaultTargetCRS
	}
	req := providers.GeorefRequest{
		Image:       providers.Image{Data: obj.Data, MIMEType: obj.ContentType},
		TargetCRS:   crs,
		SiteAddress: meta.SiteAddress,
		SitePoint:   meta.SitePoint,
		SiteBBox:    meta.SiteBBox,
	}
	inputs := map[string]any{
		"asset_id":   a.ID.String(),
		"target_crs": crs,
		"image":      req.Image,
		"asset_type": a.Metadata.AssetType(),
	}
	if redline != nil {
		m, err := rc.Blob.Get(ctx, redline.BlobPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read redline mask: %w", err)
		}
		req.RedlineMask = &providers.Image{Data: m.Data, MIMEType: "image/png"}
		inputs["redline_mask_id"] = redline.ID.String()
	}

	call := provenance.Call{Tool: "georeference", Inputs: inputs, Refs: rc.Refs(), LongRunning: true}
	res, toolID, err := provenance.Track(ctx, rc.Ledger, call,
		func(ctx context.Context) (*providers.GeorefResult, error) {
			r, err := rc.Georeferencer.Georeference(ctx, req)
			if err != nil {
				return nil, err
			}
			return r, providers.ValidateOutput("georeference", r)
		},
		func(r *providers.GeorefResult) provenance.Result {
			out := map[string]any{"control_points": r.ControlPoints}
			hint := ""
			if r.RMSError != nil {
				out["rms_error"] = *r.RMSError
				hint = rmsConfidence(*r.RMSError)
			}
			return provenance.Result{Outputs: out, Confidence: hint}
		})
	if err != nil {
		return nil, err
	}

	t := &types.Transform{
		ID:            uuid.New(),
		AssetID:       a.ID,
		RunID:         rc.Run.ID,
		TargetCRS:     crs,
		RMSError:      res.RMSError,
		ControlPoints: res.ControlPoints,
		ToolRunID:     &toolID,
	}
	copy(t.Affine[:], res.Affine)
	if redline != nil {
		t.RedlineMaskID = &redline.ID
	}
	w, h := res.ImageWidth, res.ImageHeight
	if w == 0 || h == 0 {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(obj.Data)); err == nil {
			w, h = float64(cfg.Width), float64(cfg.Height)
		}
	}
	if w > 0 && h > 0 {
		frame := t.FrameOf(w, h)
		t.Frame = &frame
	}
	if err := rc.Store.InsertTransform(ctx, t); err != nil {
		return nil, fmt.Errorf("failed to insert transform: %w", err)
	}

	updated := a.Metadata
	updated.Georef = &types.GeorefSummary{TransformID: t.ID, TargetCRS: crs, RMSError: res.RMSError}
	if err := rc.Store.UpdateVisualAssetMetadata(ctx, a.ID, updated); err != nil {
		return nil, fmt.Errorf("failed to update asset metadata: %w", err)
	}
	return t, nil
}

// rmsConfidence maps a residual error in CRS units (metres for EPSG:27700) to a hint
func rmsConfidence(rms float64) string {
	switch {
	case rms <= 5:
		return types.ConfidenceHigh
	case rms <= 25:
		return types.ConfidenceMedium
	default:
		return types.ConfidenceLow
	}
}

type assetClassification struct {
	AssetType   string   `json:"asset_type"`
	Confidence  *float64 `json:"confidence,omitempty"`
	Description string   `json:"description,omitempty"`
}

// classifyAsset asks the VLM for an asset type and merges it into the asset metadata
func classifyAsset(ctx context.Context, rc *RunContext, a types.VisualAsset) (types.VisualAssetMetadata, error) {
	obj, err := rc.Blob.Get(ctx, a.BlobPath)
	if err != nil {
		return a.Metadata, fmt.Errorf("failed to read asset image: %w", err)
	}
	caption := a.Metadata.Caption
	if caption == "" {
		caption = "(none)"
	}
	var out assetClassification
	err = generate(ctx, rc, structuredCall{
		tool:   "asset_classification",
		schema: schemas.AssetClassification,
		prompt: prompts.MustRender(prompts.ClassifyAsset, map[string]string{
			"Caption":    caption,
			"AssetTypes": strings.Join(knownAssetTypes(), ", "),
		}),
		images: []providers.Image{{Data: obj.Data, MIMEType: obj.ContentType}},
		inputs: map[string]any{"asset_id": a.ID.String()},
	}, &out)
	if err != nil {
		return a.Metadata, err
	}

	meta := a.Metadata
	classification := map[string]any{}
	for k, v := range meta.Classification {
		classification[k] = v
	}
	assetType := NormalizeAssetType(out.AssetType)
	if assetType == "" {
		assetType = assetTypeOther
	}
	classification["asset_type"] = assetType
	classification["source"] = classificationSourceVLM
	if out.Confidence != nil {
		classification["confidence"] = *out.Confidence
	}
	if out.Description != "" {
		classification["description"] = out.Description
	}
	meta.Classification = classification
	if err := rc.Store.UpdateVisualAssetMetadata(ctx, a.ID, meta); err != nil {
		return a.Metadata, fmt.Errorf("failed to save classification: %w", err)
	}
	return meta, nil
}

func knownAssetTypes() []string {
	out := make([]string, 0, len(mapLikeTypes)+len(nonMapTypes))
	for t := range mapLikeTypes {
		out = append(out, t)
	}
	for t := range nonMapTypes {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func countReasons(reasons map[string]string) map[string]int {
	out := map[string]int{}
	for _, r := range reasons {
		out[r]++
	}
	return out
}

func allReasons(reasons map[string]string, want string) bool {
	if len(reasons) == 0 {
		return false
	}
	for _, r := range reasons {
		if r != want {
			return false
		}
	}
	return true
}
