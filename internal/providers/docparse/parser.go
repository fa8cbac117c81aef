// Package docparse is a local DocumentParser for PDFs, HTML pages, images and
// plain text. It produces the same bundle shape as the remote parse service.
package docparse

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/types"
)

// SchemaVersion is stamped on every bundle this parser emits
const SchemaVersion = "local-1"

var _ providers.DocumentParser = (*Parser)(nil)

// Parser dispatches on content type
type Parser struct{}

// New creates a local parser
func New() *Parser {
	return &Parser{}
}

// Parse implements providers.DocumentParser
func (p *Parser) Parse(ctx context.Context, req providers.ParseRequest) (*types.Bundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		bundle *types.Bundle
		err    error
	)
	switch kind := detectKind(req); kind {
	case "pdf":
		bundle, err = parsePDF(ctx, req.Data)
	case "html":
		bundle, err = parseHTML(req.Data)
	case "image":
		bundle = parseImage(req)
	default:
		bundle = parseText(string(req.Data))
	}
	if err != nil {
		return nil, &providers.MalformedOutputError{Provider: "docparse", Message: fmt.Sprintf("failed to parse %s", req.Filename), Cause: err}
	}
	bundle.SchemaVersion = SchemaVersion
	assignIDs(bundle)
	return bundle, nil
}

// detectKind prefers the declared content type, then the extension, then sniffing
func detectKind(req providers.ParseRequest) string {
	ct := req.ContentType
	if ct == "" {
		ct = mime.TypeByExtension(strings.ToLower(filepath.Ext(req.Filename)))
	}
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(req.Data)
	}
	mediaType, _, _ := mime.ParseMediaType(ct)
	switch {
	case mediaType == "application/pdf":
		return "pdf"
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return "html"
	case strings.HasPrefix(mediaType, "image/"):
		return "image"
	default:
		return "text"
	}
}

func parseImage(req providers.ParseRequest) *types.Bundle {
	ct := req.ContentType
	if ct == "" {
		ct = http.DetectContentType(req.Data)
	}
	return &types.Bundle{
		Pages: []types.BundlePage{{PageNumber: 1}},
		VisualAssets: []types.BundleVisualAsset{{
			PageNumber:  1,
			BlobPath:    req.BlobPath,
			ImageBase64: imageBase64(req),
			ContentType: ct,
			Caption:     strings.TrimSuffix(req.Filename, filepath.Ext(req.Filename)),
		}},
	}
}

// The raw blob already holds the pixels when a path is known
func imageBase64(req providers.ParseRequest) string {
	if req.BlobPath != "" {
		return ""
	}
	return base64.StdEncoding.EncodeToString(req.Data)
}

// parseText splits plain text into pages on form feeds and blocks on blank lines
func parseText(text string) *types.Bundle {
	bundle := &types.Bundle{}
	for i, pageText := range strings.Split(text, "\f") {
		pageNr := i + 1
		bundle.Pages = append(bundle.Pages, types.BundlePage{PageNumber: pageNr, Text: strings.TrimSpace(pageText)})
		bundle.LayoutBlocks = append(bundle.LayoutBlocks, blocksFromLines(pageNr, strings.Split(pageText, "\n"))...)
	}
	return bundle
}

var (
	numberedHeadingRe = regexp.MustCompile(`^(\d+(\.\d+)*\.?|[A-Z]{1,3}\d+[A-Za-z]?:?)\s+\S`)
	policyHeadingRe   = regexp.MustCompile(`(?i)^(policy|chapter|section|part|appendix)\s+[A-Z0-9]`)
	listItemRe        = regexp.MustCompile(`^([-*•]|\(?[a-z0-9]{1,3}[).])\s+`)
)

// blocksFromLines groups lines into heading, list and paragraph blocks.
// Consecutive paragraph lines are joined until a blank line or a heading.
func blocksFromLines(pageNr int, lines []string) []types.LayoutBlock {
	var (
		blocks  []types.LayoutBlock
		para    []string
		section string
	)
	flush := func() {
		if len(para) == 0 {
			return
		}
		blocks = append(blocks, types.LayoutBlock{
			PageNumber:  pageNr,
			Type:        types.BlockParagraph,
			Text:        strings.Join(para, " "),
			SectionPath: section,
		})
		para = nil
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		switch {
		case line == "":
			flush()
		case isHeading(line):
			flush()
			section = line
			blocks = append(blocks, types.LayoutBlock{PageNumber: pageNr, Type: types.BlockHeading, Text: line, SectionPath: section})
		case listItemRe.MatchString(line):
			flush()
			blocks = append(blocks, types.LayoutBlock{PageNumber: pageNr, Type: types.BlockList, Text: line, SectionPath: section})
		default:
			para = append(para, line)
		}
	}
	flush()
	return blocks
}

func isHeading(line string) bool {
	if len(line) > 120 || strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return false
	}
	if policyHeadingRe.MatchString(line) || numberedHeadingRe.MatchString(line) {
		return true
	}
	letters, upper := 0, 0
	for _, r := range line {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	return letters >= 4 && upper == letters
}

// assignIDs gives every block and asset a stable fragment id and registers
// an evidence ref for it
func assignIDs(b *types.Bundle) {
	b.EvidenceRefs = b.EvidenceRefs[:0]
	for _, p := range b.Pages {
		b.EvidenceRefs = append(b.EvidenceRefs, types.BundleEvidenceRef{
			FragmentID: "p" + strconv.Itoa(p.PageNumber),
			Kind:       types.EvidencePage,
			PageNumber: p.PageNumber,
		})
	}
	for i := range b.LayoutBlocks {
		blk := &b.LayoutBlocks[i]
		if blk.ID == "" {
			blk.ID = fmt.Sprintf("b%d", i)
		}
		b.EvidenceRefs = append(b.EvidenceRefs, types.BundleEvidenceRef{
			FragmentID: blk.ID,
			Kind:       types.EvidenceChunk,
			PageNumber: blk.PageNumber,
			Locator:    blk.SectionPath,
		})
	}
	for i := range b.VisualAssets {
		a := &b.VisualAssets[i]
		if a.ID == "" {
			a.ID = fmt.Sprintf("a%d", i)
		}
		b.EvidenceRefs = append(b.EvidenceRefs, types.BundleEvidenceRef{
			FragmentID: a.ID,
			Kind:       types.EvidenceAsset,
			PageNumber: a.PageNumber,
		})
	}
}
