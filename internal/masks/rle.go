package masks

import "fmt"

// RLE is a row-major run-length encoding of a binary mask. Counts alternate
// background and foreground runs, starting with background, so the first
// count is zero when the first pixel is foreground.
type RLE struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Counts []int `json:"counts"`
}

// EncodeRLE scans the mask row-major and emits alternating run lengths.
func EncodeRLE(m *Binary) RLE {
	rle := RLE{Width: m.Width, Height: m.Height}
	current := false
	run := 0
	for _, p := range m.Pix {
		if p != current {
			rle.Counts = append(rle.Counts, run)
			current = p
			run = 0
		}
		run++
	}
	rle.Counts = append(rle.Counts, run)
	return rle
}

// DecodeRLE expands counts back into a mask. The counts must cover exactly
// Width*Height pixels.
func DecodeRLE(rle RLE) (*Binary, error) {
	if rle.Width < 0 || rle.Height < 0 {
		return nil, fmt.Errorf("invalid rle dimensions %dx%d", rle.Width, rle.Height)
	}
	m := NewBinary(rle.Width, rle.Height)
	pos := 0
	fg := false
	for _, c := range rle.Counts {
		if c < 0 {
			return nil, fmt.Errorf("negative rle count %d", c)
		}
		if pos+c > len(m.Pix) {
			return nil, fmt.Errorf("rle counts exceed %d pixels", len(m.Pix))
		}
		if fg {
			for i := pos; i < pos+c; i++ {
				m.Pix[i] = true
			}
		}
		pos += c
		fg = !fg
	}
	if pos != len(m.Pix) {
		return nil, fmt.Errorf("rle counts cover %d of %d pixels", pos, len(m.Pix))
	}
	return m, nil
}
