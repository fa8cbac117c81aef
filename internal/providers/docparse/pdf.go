package docparse

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/jonathan/planning-ingest/internal/types"
)

func parsePDF(ctx context.Context, data []byte) (*types.Bundle, error) {
	conf := model.NewDefaultConfiguration()
	pdf, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("pdfcpu read: %w", err)
	}

	bundle := &types.Bundle{}
	for pageNr := 1; pageNr <= pdf.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		lines := pageLines(pdf, pageNr)
		bundle.Pages = append(bundle.Pages, types.BundlePage{
			PageNumber: pageNr,
			Text:       strings.Join(lines, "\n"),
		})
		bundle.LayoutBlocks = append(bundle.LayoutBlocks, blocksFromLines(pageNr, lines)...)
		bundle.VisualAssets = append(bundle.VisualAssets, pageImages(pdf, pageNr)...)
	}
	if len(bundle.Pages) == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}
	return bundle, nil
}

func pageLines(pdf *model.Context, pageNr int) []string {
	r, err := pdfcpu.ExtractPageContent(pdf, pageNr)
	if err != nil || r == nil {
		return nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil
	}
	return streamLines(data)
}

// pageImages returns the embedded images of a page. Undecodable images are
// left out; they are not worth failing the parse for.
func pageImages(pdf *model.Context, pageNr int) []types.BundleVisualAsset {
	imgs, err := pdfcpu.ExtractPageImages(pdf, pageNr, false)
	if err != nil {
		return nil
	}
	var out []types.BundleVisualAsset
	for _, img := range imgs {
		raw, err := io.ReadAll(img)
		if err != nil || len(raw) == 0 {
			continue
		}
		out = append(out, types.BundleVisualAsset{
			PageNumber:  pageNr,
			ImageBase64: base64.StdEncoding.EncodeToString(raw),
			ContentType: "image/" + strings.TrimPrefix(strings.ToLower(img.FileType), "."),
			Caption:     img.Name,
		})
	}
	return out
}

var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// streamLines reads text-showing operators out of a content stream. Tj, TJ
// and ' show strings; Td, TD and T* start a new line.
func streamLines(data []byte) []string {
	var (
		lines []string
		cur   strings.Builder
	)
	newline := func() {
		if s := strings.Join(strings.Fields(cur.String()), " "); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		switch {
		case len(line) == 0:
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				cur.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			newline()
			for _, m := range pdfStringRe.FindAllSubmatch(line, -1) {
				cur.WriteString(decodePDFString(m[1]))
			}
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")), bytes.Equal(line, []byte("T*")):
			newline()
		case bytes.Equal(line, []byte("ET")):
			newline()
		}
	}
	newline()
	return lines
}

// decodePDFString handles the escape sequences of a PDF literal string
func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch c := raw[i]; c {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(c)
		default:
			if c < '0' || c > '7' {
				sb.WriteByte(c)
				continue
			}
			val := int(c - '0')
			for n := 0; n < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; n++ {
				i++
				val = val*8 + int(raw[i]-'0')
			}
			sb.WriteByte(byte(val))
		}
	}
	return sb.String()
}
