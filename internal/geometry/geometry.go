// Package geometry decodes GeoJSON with orb and provides the bounding-box
// arithmetic used by vector paths, georeferenced frames and GIS features.
package geometry

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// BBox is an axis-aligned bounding box in absolute corner form.
type BBox struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// EmptyBBox returns a box that any merge will replace.
func EmptyBBox() BBox {
	return BBox{
		MinX: math.Inf(1),
		MinY: math.Inf(1),
		MaxX: math.Inf(-1),
		MaxY: math.Inf(-1),
	}
}

// Valid reports whether the box contains at least one point.
func (b BBox) Valid() bool {
	return b.MinX <= b.MaxX && b.MinY <= b.MaxY
}

// Extend grows the box to include the point (x, y).
func (b BBox) Extend(x, y float64) BBox {
	return BBox{
		MinX: math.Min(b.MinX, x),
		MinY: math.Min(b.MinY, y),
		MaxX: math.Max(b.MaxX, x),
		MaxY: math.Max(b.MaxY, y),
	}
}

// Merge returns the union of two boxes. Invalid boxes are ignored.
func (b BBox) Merge(o BBox) BBox {
	if !o.Valid() {
		return b
	}
	if !b.Valid() {
		return o
	}
	return BBox{
		MinX: math.Min(b.MinX, o.MinX),
		MinY: math.Min(b.MinY, o.MinY),
		MaxX: math.Max(b.MaxX, o.MaxX),
		MaxY: math.Max(b.MaxY, o.MaxY),
	}
}

// Width returns MaxX - MinX
func (b BBox) Width() float64 { return b.MaxX - b.MinX }

// Height returns MaxY - MinY
func (b BBox) Height() float64 { return b.MaxY - b.MinY }

// Array returns the box as [x0, y0, x1, y1].
func (b BBox) Array() [4]float64 {
	return [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

// FromBound converts an orb bound
func FromBound(b orb.Bound) BBox {
	return BBox{MinX: b.Min.X(), MinY: b.Min.Y(), MaxX: b.Max.X(), MaxY: b.Max.Y()}
}

// FromArray builds a box from [x0, y0, x1, y1] without normalization.
func FromArray(a [4]float64) BBox {
	return BBox{MinX: a[0], MinY: a[1], MaxX: a[2], MaxY: a[3]}
}

// MalformedGeometryError is returned when provider or file output does not
// have the expected GeoJSON shape.
type MalformedGeometryError struct {
	Message string
	Index   int
	Cause   error
}

func (e *MalformedGeometryError) Error() string {
	prefix := "malformed geometry"
	if e.Index >= 0 {
		prefix = fmt.Sprintf("malformed geometry at feature %d", e.Index)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *MalformedGeometryError) Unwrap() error {
	return e.Cause
}
