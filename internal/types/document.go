// Package types provides type definitions for structured data used throughout the planning-ingest system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/geometry"
)

// Document is a canonical source document, unique per (authority, plan cycle, content hash).
type Document struct {
	ID          uuid.UUID        `json:"id"`
	Authority   string           `json:"authority"`
	PlanCycle   string           `json:"plan_cycle,omitempty"`
	BatchID     uuid.UUID        `json:"batch_id"`
	RunID       *uuid.UUID       `json:"run_id,omitempty"`
	Filename    string           `json:"filename"`
	ContentType string           `json:"content_type"`
	RawBlobPath string           `json:"raw_blob_path"`
	ContentHash string           `json:"content_hash"`
	SizeBytes   int64            `json:"size_bytes"`
	Metadata    DocumentMetadata `json:"metadata"`
	CreatedAt   time.Time        `json:"created_at"`
}

// DocumentMetadata holds caller-supplied facts about the document. Site facts
// are the canonical facts georeferencing depends on.
type DocumentMetadata struct {
	Title        string         `json:"title,omitempty"`
	DocumentType string         `json:"document_type,omitempty"`
	SiteAddress  string         `json:"site_address,omitempty"`
	SitePoint    *[2]float64    `json:"site_point,omitempty"`
	SiteBBox     *geometry.BBox `json:"site_bbox,omitempty"`
	TargetCRS    string         `json:"target_crs,omitempty"`
}

// HasCanonicalFacts reports whether any site location is known
func (m DocumentMetadata) HasCanonicalFacts() bool {
	return m.SiteAddress != "" || m.SitePoint != nil || m.SiteBBox != nil
}

// BlobPrefix returns the object-storage prefix for the document:
// <domain>/<authority>/<plan-cycle|none>/<document-id>
func (d *Document) BlobPrefix(domain string) string {
	cycle := d.PlanCycle
	if cycle == "" {
		cycle = "none"
	}
	return fmt.Sprintf("%s/%s/%s/%s", domain, d.Authority, cycle, d.ID)
}

// NodeRef is the evidence reference root for the document
func (d *Document) NodeRef() string {
	return "doc::" + d.ID.String()
}

// ParseBundle is the stored output of document parsing; one per document.
type ParseBundle struct {
	ID            uuid.UUID  `json:"id"`
	DocumentID    uuid.UUID  `json:"document_id"`
	RunID         *uuid.UUID `json:"run_id,omitempty"`
	SchemaVersion string     `json:"schema_version"`
	BlobPath      string     `json:"blob_path"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Bundle is the parser's structured output
type Bundle struct {
	SchemaVersion   string              `json:"schema_version" validate:"required"`
	Pages           []BundlePage        `json:"pages" validate:"dive"`
	LayoutBlocks    []LayoutBlock       `json:"layout_blocks" validate:"dive"`
	VisualAssets    []BundleVisualAsset `json:"visual_assets" validate:"dive"`
	EvidenceRefs    []BundleEvidenceRef `json:"evidence_refs,omitempty" validate:"dive"`
	ParseBundlePath string              `json:"parse_bundle_path,omitempty"`
}

// BundlePage is one page of parsed text
type BundlePage struct {
	PageNumber int     `json:"page_number" validate:"min=1"`
	Text       string  `json:"text"`
	Width      float64 `json:"width,omitempty"`
	Height     float64 `json:"height,omitempty"`
}

// Layout block types
const (
	BlockHeading   = "heading"
	BlockParagraph = "paragraph"
	BlockList      = "list"
	BlockTable     = "table"
	BlockCaption   = "caption"
)

// LayoutBlock is a structural text fragment
type LayoutBlock struct {
	ID          string      `json:"id,omitempty"`
	PageNumber  int         `json:"page_number" validate:"min=1"`
	Type        string      `json:"type" validate:"required"`
	Text        string      `json:"text"`
	SectionPath string      `json:"section_path,omitempty"`
	BBox        *[4]float64 `json:"bbox,omitempty"`
}

// BundleVisualAsset is an image the parser found. Either BlobPath or
// ImageBase64 carries the pixels.
type BundleVisualAsset struct {
	ID          string      `json:"id,omitempty"`
	PageNumber  int         `json:"page_number" validate:"min=1"`
	BlobPath    string      `json:"blob_path,omitempty"`
	ImageBase64 string      `json:"image_base64,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Caption     string      `json:"caption,omitempty"`
	AssetType   string      `json:"asset_type,omitempty"`
	BBox        *[4]float64 `json:"bbox,omitempty"`
}

// BundleEvidenceRef points at a parser fragment
type BundleEvidenceRef struct {
	FragmentID string `json:"fragment_id" validate:"required"`
	Kind       string `json:"kind"`
	PageNumber int    `json:"page_number"`
	Locator    string `json:"locator,omitempty"`
}

// Page is one page of a document
type Page struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	PageNumber int       `json:"page_number"`
	Text       string    `json:"text"`
	Width      float64   `json:"width,omitempty"`
	Height     float64   `json:"height,omitempty"`
}

// Chunk is an immutable structural text unit
type Chunk struct {
	ID          uuid.UUID `json:"id"`
	DocumentID  uuid.UUID `json:"document_id"`
	Seq         int       `json:"seq"`
	PageNumber  int       `json:"page_number"`
	SectionPath string    `json:"section_path,omitempty"`
	BlockType   string    `json:"block_type"`
	Text        string    `json:"text"`
	EvidenceRef string    `json:"evidence_ref"`
}

// CanonicalSet is everything canonical load writes for one document
type CanonicalSet struct {
	Pages        []Page
	Chunks       []Chunk
	VisualAssets []VisualAsset
	EvidenceRefs []EvidenceRef
}

// Evidence kinds
const (
	EvidencePage   = "page"
	EvidenceChunk  = "chunk"
	EvidenceAsset  = "asset"
	EvidenceRegion = "region"
)

// EvidenceRef is a stable pointer from a derived fact back to its source fragment
type EvidenceRef struct {
	ID         uuid.UUID `json:"id"`
	DocumentID uuid.UUID `json:"document_id"`
	Ref        string    `json:"ref"`
	Kind       string    `json:"kind"`
	PageNumber int       `json:"page_number,omitempty"`
	FragmentID string    `json:"fragment_id,omitempty"`
	Locator    string    `json:"locator,omitempty"`
}
