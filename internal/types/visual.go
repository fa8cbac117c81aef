// Package types provides type definitions for structured data used throughout the planning-ingest system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/jonathan/planning-ingest/internal/geometry"
	"github.com/jonathan/planning-ingest/internal/masks"
)

// VisualAsset is an image or figure extracted from a document
type VisualAsset struct {
	ID          uuid.UUID           `json:"id"`
	DocumentID  uuid.UUID           `json:"document_id"`
	Seq         int                 `json:"seq"`
	PageNumber  int                 `json:"page_number"`
	BlobPath    string              `json:"blob_path"`
	EvidenceRef string              `json:"evidence_ref"`
	Metadata    VisualAssetMetadata `json:"metadata"`
}

// VisualAssetMetadata is enriched in place by later stages. Classification is
// open-ended provider output.
type VisualAssetMetadata struct {
	Caption        string         `json:"caption,omitempty"`
	Classification map[string]any `json:"classification,omitempty"`
	Georef         *GeorefSummary `json:"georef,omitempty"`
	MaskCount      *int           `json:"mask_count,omitempty"`
}

// AssetType returns classification.asset_type, or "" when unclassified
func (m VisualAssetMetadata) AssetType() string {
	if m.Classification == nil {
		return ""
	}
	s, _ := m.Classification["asset_type"].(string)
	return s
}

// GeorefSummary is merged into asset metadata after georeferencing
type GeorefSummary struct {
	TransformID uuid.UUID `json:"transform_id"`
	TargetCRS   string    `json:"target_crs"`
	RMSError    *float64  `json:"rms_error,omitempty"`
}

// SegmentationMask is one immutable mask produced for a visual asset
type SegmentationMask struct {
	ID         uuid.UUID  `json:"id"`
	AssetID    uuid.UUID  `json:"asset_id"`
	DocumentID uuid.UUID  `json:"document_id"`
	RunID      uuid.UUID  `json:"run_id"`
	Label      string     `json:"label"`
	BlobPath   string     `json:"blob_path"`
	RLE        masks.RLE  `json:"rle"`
	BBox       [4]float64 `json:"bbox"`
	Confidence float64    `json:"confidence"`
	// VectorCount is the number of vector paths derived from the mask, nil
	// until vectorized.
	VectorCount *int      `json:"vector_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// AssetSegmentation is everything segmentation writes for one asset
type AssetSegmentation struct {
	AssetID      uuid.UUID
	Metadata     VisualAssetMetadata
	Masks        []SegmentationMask
	Regions      []VisualAssetRegion
	EvidenceRefs []EvidenceRef
}

// VisualAssetRegion is the cropped region behind a mask
type VisualAssetRegion struct {
	ID          uuid.UUID  `json:"id"`
	AssetID     uuid.UUID  `json:"asset_id"`
	MaskID      uuid.UUID  `json:"mask_id"`
	BBox        [4]float64 `json:"bbox"`
	BlobPath    string     `json:"blob_path"`
	EvidenceRef string     `json:"evidence_ref"`
}

// VectorPath is a vector geometry derived from a mask
type VectorPath struct {
	ID         uuid.UUID          `json:"id"`
	DocumentID uuid.UUID          `json:"document_id"`
	AssetID    uuid.UUID          `json:"asset_id"`
	MaskID     uuid.UUID          `json:"mask_id"`
	RunID      uuid.UUID          `json:"run_id"`
	PageNumber int                `json:"page_number"`
	Geometry   *geojson.Geometry  `json:"geometry"`
	BBox       geometry.BBox      `json:"bbox"`
	Metadata   VectorPathMetadata `json:"metadata"`
}

// BBox sources for vector paths
const (
	BBoxFromGeometry = "geometry"
	BBoxFromMask     = "mask"
)

// VectorPathMetadata describes how a path was derived
type VectorPathMetadata struct {
	Properties  map[string]any `json:"properties,omitempty"`
	Confidence  *float64       `json:"confidence,omitempty"`
	Limitations string         `json:"limitations,omitempty"`
	BBoxSource  string         `json:"bbox_source"`
	ToolRunID   *uuid.UUID     `json:"tool_run_id,omitempty"`
}

// Transform is a pixel-to-world coordinate transform for a visual asset
type Transform struct {
	ID            uuid.UUID      `json:"id"`
	AssetID       uuid.UUID      `json:"asset_id"`
	RunID         uuid.UUID      `json:"run_id"`
	TargetCRS     string         `json:"target_crs"`
	Affine        [6]float64     `json:"affine"`
	RMSError      *float64       `json:"rms_error,omitempty"`
	ControlPoints int            `json:"control_points"`
	Frame         *geometry.BBox `json:"frame,omitempty"`
	RedlineMaskID *uuid.UUID     `json:"redline_mask_id,omitempty"`
	ToolRunID     *uuid.UUID     `json:"tool_run_id,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Apply maps a pixel coordinate through the affine transform
// [a, b, c, d, e, f]: X = a*x + b*y + c, Y = d*x + e*y + f.
func (t *Transform) Apply(x, y float64) (float64, float64) {
	a := t.Affine
	return a[0]*x + a[1]*y + a[2], a[3]*x + a[4]*y + a[5]
}

// FrameOf projects a pixel box into world coordinates
func (t *Transform) FrameOf(width, height float64) geometry.BBox {
	box := geometry.EmptyBBox()
	for _, c := range [][2]float64{{0, 0}, {width, 0}, {0, height}, {width, height}} {
		x, y := t.Apply(c[0], c[1])
		box = box.Extend(x, y)
	}
	return box
}
