// Package types provides type definitions for structured data used throughout the planning-ingest system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/jonathan/planning-ingest/internal/geometry"
)

// Spatial feature kinds
const (
	SpatialKindFeature      = "feature"
	SpatialKindLayerProfile = "layer_profile"
)

// Confidence hints
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
)

// SpatialFeature is a GIS feature or a layer profile summarizing a whole layer
type SpatialFeature struct {
	ID             uuid.UUID          `json:"id"`
	Authority      string             `json:"authority"`
	Kind           string             `json:"kind"`
	LayerName      string             `json:"layer_name"`
	GeometryType   string             `json:"geometry_type,omitempty"`
	Geometry       *geojson.Geometry  `json:"geometry,omitempty"`
	BBox           *geometry.BBox     `json:"bbox,omitempty"`
	Properties     map[string]any     `json:"properties,omitempty"`
	Profile        *LayerProfile      `json:"profile,omitempty"`
	ConfidenceHint string             `json:"confidence_hint"`
	LimitationNote string             `json:"limitation_note,omitempty"`
	Active         bool               `json:"active"`
	ToolRunID      *uuid.UUID         `json:"tool_run_id,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

// LayerProfile summarizes one GIS layer
type LayerProfile struct {
	SourcePath     string         `json:"source_path,omitempty"`
	FeatureCount   int            `json:"feature_count"`
	GeometryTypes  []string       `json:"geometry_types"`
	AttributeKeys  []string       `json:"attribute_keys"`
	BBox           *geometry.BBox `json:"bbox,omitempty"`
	Interpretation string         `json:"interpretation,omitempty"`
}
