package masks

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func block(size, x0, y0, side int) *Binary {
	m := NewBinary(size, size)
	for y := y0; y < y0+side; y++ {
		for x := x0; x < x0+side; x++ {
			m.Set(x, y, true)
		}
	}
	return m
}

func TestNormalizeBBox(t *testing.T) {
	tests := []struct {
		name string
		in   [4]float64
		want [4]float64
	}{
		{"width height form", [4]float64{10, 10, 5, 5}, [4]float64{10, 10, 15, 15}},
		{"corner form", [4]float64{10, 10, 50, 50}, [4]float64{10, 10, 50, 50}},
		{"only y degenerate", [4]float64{2, 20, 8, 4}, [4]float64{2, 20, 10, 24}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeBBox(tt.in))
		})
	}
}

func TestRLERoundTrip(t *testing.T) {
	m := block(8, 2, 2, 4)

	rle := EncodeRLE(m)
	assert.Equal(t, 8, rle.Width)
	assert.Equal(t, 8, rle.Height)
	// 2 rows + 2 pixels of background, then 4 on / 4 off per row
	assert.Equal(t, []int{18, 4, 4, 4, 4, 4, 4, 4, 18}, rle.Counts)

	decoded, err := DecodeRLE(rle)
	require.NoError(t, err)
	assert.Equal(t, m.Pix, decoded.Pix)
	assert.Equal(t, 16, decoded.Area())
}

func TestEncodeRLE_ForegroundFirst(t *testing.T) {
	m := NewBinary(2, 1)
	m.Set(0, 0, true)

	rle := EncodeRLE(m)
	assert.Equal(t, []int{0, 1, 1}, rle.Counts)
}

func TestDecodeRLE_Invalid(t *testing.T) {
	_, err := DecodeRLE(RLE{Width: 2, Height: 2, Counts: []int{1, 1}})
	assert.Error(t, err)

	_, err = DecodeRLE(RLE{Width: 2, Height: 2, Counts: []int{3, 3}})
	assert.Error(t, err)

	_, err = DecodeRLE(RLE{Width: 2, Height: 2, Counts: []int{-1, 5}})
	assert.Error(t, err)
}

func TestAlphaPNGRoundTrip(t *testing.T) {
	m := block(8, 2, 2, 4)

	data, err := EncodeAlphaPNG(m)
	require.NoError(t, err)

	img, err := DecodePNGBase64("data:image/png;base64," + base64.StdEncoding.EncodeToString(data))
	require.NoError(t, err)

	back := AlphaMask(img)
	assert.Equal(t, m.Pix, back.Pix)
}

func TestAlphaMask_OpaqueUsesLuminance(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 3, 1))
	img.SetGray(1, 0, color.Gray{Y: 255})

	m := AlphaMask(img)
	assert.Equal(t, []bool{false, true, false}, m.Pix)
}

func TestBBoxOf(t *testing.T) {
	box, ok := BBoxOf(block(8, 2, 3, 4))
	require.True(t, ok)
	assert.Equal(t, [4]float64{2, 3, 6, 7}, box)

	_, ok = BBoxOf(NewBinary(4, 4))
	assert.False(t, ok)
}

func TestCrop(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	data, err := Crop(src, [4]float64{2, 2, 6, 5})
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())

	_, err = Crop(src, [4]float64{20, 20, 30, 30})
	assert.Error(t, err)
}
