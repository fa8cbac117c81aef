// Package providers defines the contracts the ingestion engine consumes for
// blob storage, parsing, segmentation, vectorization, georeferencing, LLM/VLM
// inference, embeddings and GPU role scheduling.
package providers

import (
	"context"
	"encoding/json"

	"github.com/jonathan/planning-ingest/internal/geometry"
	"github.com/jonathan/planning-ingest/internal/types"
)

// BlobObject describes a stored object. Data is only populated by Get.
type BlobObject struct {
	Path        string            `json:"path"`
	ETag        string            `json:"etag"`
	Size        int64             `json:"size"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Data        []byte            `json:"-"`
}

// BlobStore is object storage keyed by slash-separated paths
type BlobStore interface {
	Put(ctx context.Context, path string, data []byte, contentType string, metadata map[string]string) (*BlobObject, error)
	Get(ctx context.Context, path string) (*BlobObject, error)
	Delete(ctx context.Context, path string) error
	Exists(ctx context.Context, path string) (bool, error)
}

// ParseRequest is the input to a DocumentParser
type ParseRequest struct {
	BlobPath    string
	Data        []byte
	Filename    string
	ContentType string
	Options     map[string]any
}

// DocumentParser turns raw document bytes into a parse bundle
type DocumentParser interface {
	Parse(ctx context.Context, req ParseRequest) (*types.Bundle, error)
}

// Image is an image payload sent to a model
type Image struct {
	Data     []byte
	MIMEType string
}

// SegmentRequest is the input to a Segmenter
type SegmentRequest struct {
	Image   Image
	Prompts []string
	Options map[string]any
}

// SegmentMask is one mask returned by segmentation. BBox may be corner or
// width/height form.
type SegmentMask struct {
	MaskPNGBase64 string    `json:"mask_png_base64" validate:"required"`
	Label         string    `json:"label"`
	Score         float64   `json:"score"`
	BBox          []float64 `json:"bbox,omitempty" validate:"omitempty,len=4"`
}

// SegmentResult is the segmentation output
type SegmentResult struct {
	Masks      []SegmentMask `json:"masks" validate:"dive"`
	Confidence *float64      `json:"confidence,omitempty"`
}

// Segmenter produces masks for an image
type Segmenter interface {
	Segment(ctx context.Context, req SegmentRequest) (*SegmentResult, error)
}

// VectorizeRequest is the input to a Vectorizer
type VectorizeRequest struct {
	Image   Image
	Prompts []string
	Options map[string]any
}

// VectorizeResult carries the raw feature collection; callers decode it strictly.
type VectorizeResult struct {
	FeaturesGeoJSON json.RawMessage `json:"features_geojson" validate:"required"`
	Confidence      *float64        `json:"confidence,omitempty"`
	Limitations     string          `json:"limitations,omitempty"`
}

// Vectorizer turns a raster mask into vector geometry
type Vectorizer interface {
	Vectorize(ctx context.Context, req VectorizeRequest) (*VectorizeResult, error)
}

// Message is one chat message
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting when the provider supplies it
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// StructuredRequest asks a model for JSON output. Schema is an optional JSON Schema document.
type StructuredRequest struct {
	Messages []Message
	Schema   string
	Options  map[string]any
}

// StructuredResult is a model answer. JSON is nil when RawText could not be parsed.
type StructuredResult struct {
	JSON    json.RawMessage `json:"json,omitempty"`
	RawText string          `json:"raw_text"`
	ModelID string          `json:"model_id"`
	Usage   Usage           `json:"usage"`
}

// StructuredLLM generates structured text output
type StructuredLLM interface {
	GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResult, error)
}

// VisionLLM generates structured output from text plus images
type VisionLLM interface {
	GenerateStructuredVision(ctx context.Context, req StructuredRequest, images []Image) (*StructuredResult, error)
}

// Embedder computes embeddings for a batch of texts
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// GeorefRequest is the input to a Georeferencer
type GeorefRequest struct {
	Image       Image
	TargetCRS   string
	RedlineMask *Image
	SiteAddress string
	SitePoint   *[2]float64
	SiteBBox    *geometry.BBox
}

// GeorefResult is an affine pixel-to-world transform
type GeorefResult struct {
	Affine        []float64 `json:"affine" validate:"required,len=6"`
	RMSError      *float64  `json:"rms_error,omitempty"`
	ControlPoints int       `json:"control_points"`
	ImageWidth    float64   `json:"image_width,omitempty"`
	ImageHeight   float64   `json:"image_height,omitempty"`
}

// Georeferencer places an image in a coordinate reference system
type Georeferencer interface {
	Georeference(ctx context.Context, req GeorefRequest) (*GeorefResult, error)
}

// RoleScheduler grants exclusive use of a GPU-bound model role
type RoleScheduler interface {
	Ensure(ctx context.Context, role string) (baseURL string, err error)
	Stop(ctx context.Context, role string) error
}

// GPU-bound roles
const (
	RoleSegmentation = "segmentation"
	RoleVectorize    = "vectorization"
	RoleLLM          = "llm"
	RoleVLM          = "vlm"
)
