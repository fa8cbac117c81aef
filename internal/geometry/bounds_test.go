package geometry

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var rect = orb.Polygon{orb.Ring{{0, 0}, {4, 0}, {4, 3}, {0, 3}, {0, 0}}}

func TestPolygonBounds(t *testing.T) {
	box, ok := PolygonBounds(rect)
	require.True(t, ok)
	assert.Equal(t, BBox{MinX: 0, MinY: 0, MaxX: 4, MaxY: 3}, box)

	box, ok = Bounds(rect)
	require.True(t, ok)
	assert.Equal(t, BBox{MinX: 0, MinY: 0, MaxX: 4, MaxY: 3}, box)
}

func TestPolygonBounds_MultiPolygon(t *testing.T) {
	g := orb.MultiPolygon{
		{{{0, 0}, {1, 0}, {1, 1}, {0, 0}}},
		{{{5, -2}, {7, -2}, {7, 9}, {5, -2}}},
	}

	box, ok := PolygonBounds(g)
	require.True(t, ok)
	assert.Equal(t, BBox{MinX: 0, MinY: -2, MaxX: 7, MaxY: 9}, box)
}

func TestPolygonBounds_UnsupportedType(t *testing.T) {
	_, ok := PolygonBounds(orb.LineString{{0, 0}, {2, 2}})
	assert.False(t, ok)

	_, ok = PolygonBounds(orb.Point{1, 1})
	assert.False(t, ok)
}

func TestBounds_Collection(t *testing.T) {
	g := orb.Collection{
		orb.Point{10, 10},
		rect,
		orb.Collection{orb.LineString{{-1, 5}, {2, 12}}},
		orb.Polygon{},
	}

	box, ok := Bounds(g)
	require.True(t, ok)
	assert.Equal(t, BBox{MinX: -1, MinY: 0, MaxX: 10, MaxY: 12}, box)
}

func TestBounds_Empty(t *testing.T) {
	_, ok := Bounds(orb.Collection{})
	assert.False(t, ok)

	_, ok = Bounds(nil)
	assert.False(t, ok)

	_, ok = Bounds(orb.Polygon{})
	assert.False(t, ok)

	box, ok := Bounds(orb.Point{3, 4})
	require.True(t, ok)
	assert.Equal(t, BBox{MinX: 3, MinY: 4, MaxX: 3, MaxY: 4}, box)
}

func TestBBoxMerge(t *testing.T) {
	a := BBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	b := BBox{MinX: -1, MinY: 0.5, MaxX: 0.5, MaxY: 3}

	assert.Equal(t, BBox{MinX: -1, MinY: 0, MaxX: 1, MaxY: 3}, a.Merge(b))
	assert.Equal(t, a, a.Merge(EmptyBBox()))
	assert.Equal(t, a, EmptyBBox().Merge(a))
}

func TestFromBound(t *testing.T) {
	b := orb.Bound{Min: orb.Point{-1, 2}, Max: orb.Point{3, 4}}
	assert.Equal(t, BBox{MinX: -1, MinY: 2, MaxX: 3, MaxY: 4}, FromBound(b))
}

func TestDecodeFeatureCollection(t *testing.T) {
	data := []byte(`{"type":"FeatureCollection","features":[
		{"type":"Feature","geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]},"properties":{"name":"a"}}
	]}`)

	fc, err := DecodeFeatureCollection(data)
	require.NoError(t, err)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "a", fc.Features[0].Properties["name"])
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.GeoJSONType())
}

func TestDecodeFeatureCollection_Empty(t *testing.T) {
	fc, err := DecodeFeatureCollection([]byte(`{"type":"FeatureCollection","features":[]}`))
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
}

func TestDecodeFeatureCollection_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		index int
	}{
		{"invalid json", `{"features":`, -1},
		{"missing features", `{"type":"FeatureCollection"}`, -1},
		{"features not a list", `{"type":"FeatureCollection","features":{"a":1}}`, -1},
		{"missing geometry", `{"type":"FeatureCollection","features":[{"type":"Feature","properties":{}}]}`, 0},
		{"null geometry", `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[0,0]}},{"type":"Feature","geometry":null}]}`, 1},
		{"empty polygon", `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon","coordinates":[]}}]}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFeatureCollection([]byte(tt.data))
			require.Error(t, err)
			var mErr *MalformedGeometryError
			require.ErrorAs(t, err, &mErr)
			assert.Equal(t, tt.index, mErr.Index)
		})
	}

	_, err := DecodeFeatureCollection([]byte(`{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Polygon"}}]}`))
	var mErr *MalformedGeometryError
	assert.ErrorAs(t, err, &mErr, "a geometry without coordinates is malformed")
}
