package docparse

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/jonathan/planning-ingest/internal/fetch"
	"github.com/jonathan/planning-ingest/internal/types"
)

const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, table, figure, img"

// parseHTML treats an HTML page as a single page. Headings drive section paths.
// Only inline data: images become visual assets.
func parseHTML(data []byte) (*types.Bundle, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	main := fetch.MainSelection(doc, fetch.PolicyDocumentSelectors())

	var (
		blocks   []types.LayoutBlock
		assets   []types.BundleVisualAsset
		headings []string
	)
	main.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		tag := goquery.NodeName(s)
		switch tag {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			text := fetch.CleanWhitespace(s.Text())
			if text == "" {
				return
			}
			level := int(tag[1] - '0')
			if len(headings) >= level {
				headings = headings[:level-1]
			}
			headings = append(headings, text)
			blocks = append(blocks, types.LayoutBlock{PageNumber: 1, Type: types.BlockHeading, Text: text, SectionPath: strings.Join(headings, " > ")})
		case "p", "li", "table":
			// nested blocks are reported by their own element
			if tag == "p" && s.ParentsFiltered("li, table, figure").Length() > 0 {
				return
			}
			if tag == "li" && s.ParentsFiltered("table").Length() > 0 {
				return
			}
			text := fetch.CleanWhitespace(s.Text())
			if text == "" {
				return
			}
			blocks = append(blocks, types.LayoutBlock{PageNumber: 1, Type: htmlBlockType(tag), Text: text, SectionPath: strings.Join(headings, " > ")})
		case "figure":
			if caption := fetch.CleanWhitespace(s.Find("figcaption").Text()); caption != "" {
				blocks = append(blocks, types.LayoutBlock{PageNumber: 1, Type: types.BlockCaption, Text: caption, SectionPath: strings.Join(headings, " > ")})
			}
		case "img":
			if asset, ok := dataImage(s); ok {
				assets = append(assets, asset)
			}
		}
	})

	text := make([]string, 0, len(blocks))
	for _, b := range blocks {
		text = append(text, b.Text)
	}
	return &types.Bundle{
		Pages:        []types.BundlePage{{PageNumber: 1, Text: strings.Join(text, "\n")}},
		LayoutBlocks: blocks,
		VisualAssets: assets,
	}, nil
}

func htmlBlockType(tag string) string {
	switch tag {
	case "li":
		return types.BlockList
	case "table":
		return types.BlockTable
	default:
		return types.BlockParagraph
	}
}

// dataImage decodes <img src="data:image/png;base64,...">
func dataImage(s *goquery.Selection) (types.BundleVisualAsset, bool) {
	src, _ := s.Attr("src")
	header, payload, ok := strings.Cut(strings.TrimPrefix(src, "data:"), ",")
	if !ok || !strings.HasPrefix(src, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return types.BundleVisualAsset{}, false
	}
	caption, _ := s.Attr("alt")
	if fc := fetch.CleanWhitespace(s.Closest("figure").Find("figcaption").Text()); fc != "" {
		caption = fc
	}
	return types.BundleVisualAsset{
		PageNumber:  1,
		ImageBase64: payload,
		ContentType: strings.TrimSuffix(header, ";base64"),
		Caption:     caption,
	}, true
}
