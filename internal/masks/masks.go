// Package masks handles binary segmentation masks: bbox normalization, alpha-channel
// PNG encoding, run-length encoding and region cropping.
package masks

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
	"strings"
)

// Binary is a row-major foreground mask
type Binary struct {
	Width  int
	Height int
	Pix    []bool
}

// NewBinary allocates an all-background mask
func NewBinary(width, height int) *Binary {
	return &Binary{Width: width, Height: height, Pix: make([]bool, width*height)}
}

// At reports whether (x, y) is foreground
func (b *Binary) At(x, y int) bool {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return false
	}
	return b.Pix[y*b.Width+x]
}

// Set marks (x, y) as foreground or background
func (b *Binary) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= b.Width || y >= b.Height {
		return
	}
	b.Pix[y*b.Width+x] = v
}

// Area returns the number of foreground pixels
func (b *Binary) Area() int {
	n := 0
	for _, p := range b.Pix {
		if p {
			n++
		}
	}
	return n
}

// NormalizeBBox converts a provider bbox to absolute corners. Providers send
// either [x0, y0, x1, y1] or [x, y, w, h]; when x1 <= x0 or y1 <= y0 the last
// two values are read as width and height.
func NormalizeBBox(b [4]float64) [4]float64 {
	x0, y0, x1, y1 := b[0], b[1], b[2], b[3]
	if x1 <= x0 || y1 <= y0 {
		return [4]float64{x0, y0, x0 + x1, y0 + y1}
	}
	return b
}

// DecodePNGBase64 decodes a base64 PNG, tolerating a data: URI prefix.
func DecodePNGBase64(s string) (image.Image, error) {
	if i := strings.Index(s, ","); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mask base64: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode mask png: %w", err)
	}
	return img, nil
}

// AlphaMask reads the alpha channel of img; alpha > 0 is foreground. Fully
// opaque images carry no mask in alpha, so their luminance is used instead.
func AlphaMask(img image.Image) *Binary {
	bounds := img.Bounds()
	m := NewBinary(bounds.Dx(), bounds.Dy())

	opaque := true
	if o, ok := img.(interface{ Opaque() bool }); ok {
		opaque = o.Opaque()
	}

	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			c := img.At(bounds.Min.X+x, bounds.Min.Y+y)
			if opaque {
				g := color.GrayModel.Convert(c).(color.Gray)
				m.Pix[y*m.Width+x] = g.Y > 0
				continue
			}
			_, _, _, a := c.RGBA()
			m.Pix[y*m.Width+x] = a > 0
		}
	}
	return m
}

// EncodeAlphaPNG writes the mask as a white image whose alpha channel is the mask.
func EncodeAlphaPNG(m *Binary) ([]byte, error) {
	img := image.NewNRGBA(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if m.Pix[y*m.Width+x] {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode mask png: %w", err)
	}
	return buf.Bytes(), nil
}

// BBoxOf returns the tight [x0, y0, x1, y1] bounds of the foreground, with
// exclusive upper corners. ok is false for an empty mask.
func BBoxOf(m *Binary) ([4]float64, bool) {
	minX, minY := m.Width, m.Height
	maxX, maxY := -1, -1
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			if !m.Pix[y*m.Width+x] {
				continue
			}
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}
	if maxX < 0 {
		return [4]float64{}, false
	}
	return [4]float64{float64(minX), float64(minY), float64(maxX + 1), float64(maxY + 1)}, true
}

// Crop cuts the corner-form bbox out of img and returns it as PNG bytes.
// The box is clamped to the image; an empty intersection is an error.
func Crop(img image.Image, bbox [4]float64) ([]byte, error) {
	b := img.Bounds()
	r := image.Rect(
		b.Min.X+int(math.Floor(bbox[0])),
		b.Min.Y+int(math.Floor(bbox[1])),
		b.Min.X+int(math.Ceil(bbox[2])),
		b.Min.Y+int(math.Ceil(bbox[3])),
	).Intersect(b)
	if r.Empty() {
		return nil, fmt.Errorf("crop box %v outside image %v", bbox, b)
	}

	dst := image.NewNRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
