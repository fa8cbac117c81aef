package geometry

import (
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Bounds returns the bounding box of any geometry. Collections merge the
// bounds of their children. ok is false when there are no coordinates.
func Bounds(g orb.Geometry) (BBox, bool) {
	switch g := g.(type) {
	case nil:
		return BBox{}, false
	case orb.Collection:
		box := EmptyBBox()
		for _, child := range g {
			if cb, ok := Bounds(child); ok {
				box = box.Merge(cb)
			}
		}
		return box, box.Valid()
	}
	b := g.Bound()
	if b.IsEmpty() {
		return BBox{}, false
	}
	return FromBound(b), true
}

// PolygonBounds bounds only Polygon and MultiPolygon geometries; every other
// type is reported as unsupported.
func PolygonBounds(g orb.Geometry) (BBox, bool) {
	switch g := g.(type) {
	case orb.Polygon:
		return Bounds(g)
	case orb.MultiPolygon:
		box := EmptyBBox()
		for _, p := range g {
			if pb, ok := Bounds(p); ok {
				box = box.Merge(pb)
			}
		}
		return box, box.Valid()
	}
	return BBox{}, false
}

// DecodeFeatureCollection strictly decodes a GeoJSON feature collection.
// A missing features list, or any feature without a geometry or coordinates,
// aborts the decode with a MalformedGeometryError, as does anything orb rejects.
func DecodeFeatureCollection(data []byte) (*geojson.FeatureCollection, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, &MalformedGeometryError{Message: "invalid feature collection", Index: -1, Cause: err}
	}
	if fc.Features == nil {
		return nil, &MalformedGeometryError{Message: "missing features", Index: -1}
	}
	for i, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			return nil, &MalformedGeometryError{Message: "missing geometry", Index: i}
		}
		if _, isCollection := f.Geometry.(orb.Collection); isCollection {
			continue
		}
		if _, ok := Bounds(f.Geometry); !ok {
			return nil, &MalformedGeometryError{Message: fmt.Sprintf("%s without coordinates", f.Geometry.GeoJSONType()), Index: i}
		}
	}
	return fc, nil
}
