package stages

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/fetch"
	"github.com/jonathan/planning-ingest/internal/types"
)

// CanonicalLoad persists pages, chunks, visual assets and evidence refs from
// the stored bundle in one store write. Sentinel: the document has pages.
type CanonicalLoad struct{}

func (CanonicalLoad) Name() string { return StepCanonicalLoad }

func (CanonicalLoad) Run(ctx context.Context, rc *RunContext) (Outcome, error) {
	n, err := rc.Store.CountPages(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to count pages: %w", err)
	}
	if n > 0 {
		return skipped(ReasonSentinel, map[string]any{"pages": n}), nil
	}

	bundle, err := loadBundle(ctx, rc)
	if err != nil {
		return Outcome{}, fail(StepCanonicalLoad, "failed to load bundle", err)
	}
	if len(bundle.Pages) == 0 {
		return Outcome{}, fail(StepCanonicalLoad, "bundle has no pages", nil)
	}

	locators := make(map[string]string, len(bundle.EvidenceRefs))
	for _, r := range bundle.EvidenceRefs {
		locators[r.FragmentID] = r.Locator
	}

	doc := rc.Document
	var refs []types.EvidenceRef
	addRef := func(ref, kind string, page int, fragment string) {
		refs = append(refs, types.EvidenceRef{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			Ref:        ref,
			Kind:       kind,
			PageNumber: page,
			FragmentID: fragment,
			Locator:    locators[fragment],
		})
	}

	pages := make([]types.Page, 0, len(bundle.Pages))
	for _, p := range bundle.Pages {
		pages = append(pages, types.Page{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			PageNumber: p.PageNumber,
			Text:       p.Text,
			Width:      p.Width,
			Height:     p.Height,
		})
		addRef(PageRef(doc, p.PageNumber), types.EvidencePage, p.PageNumber, fmt.Sprintf("p%d", p.PageNumber))
	}

	var chunks []types.Chunk
	for _, b := range bundle.LayoutBlocks {
		text := fetch.CleanWhitespace(b.Text)
		if text == "" {
			continue
		}
		seq := len(chunks)
		ref := ChunkRef(doc, seq)
		chunks = append(chunks, types.Chunk{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			Seq:         seq,
			PageNumber:  b.PageNumber,
			SectionPath: b.SectionPath,
			BlockType:   b.Type,
			Text:        text,
			EvidenceRef: ref,
		})
		addRef(ref, types.EvidenceChunk, b.PageNumber, b.ID)
	}

	assets := make([]types.VisualAsset, 0, len(bundle.VisualAssets))
	for i, va := range bundle.VisualAssets {
		path, err := assetBlob(ctx, rc, i, va)
		if err != nil {
			return Outcome{}, fail(StepCanonicalLoad, fmt.Sprintf("failed to store visual asset %d", i), err)
		}
		if path == "" {
			rc.logger().Warn("visual asset has no pixels, dropping", "index", i, "page", va.PageNumber)
			continue
		}
		seq := len(assets)
		ref := AssetRef(doc, seq)
		meta := types.VisualAssetMetadata{Caption: strings.TrimSpace(va.Caption)}
		if va.AssetType != "" {
			meta.Classification = map[string]any{"asset_type": va.AssetType, "source": "parser"}
		}
		assets = append(assets, types.VisualAsset{
			ID:          uuid.New(),
			DocumentID:  doc.ID,
			Seq:         seq,
			PageNumber:  va.PageNumber,
			BlobPath:    path,
			EvidenceRef: ref,
			Metadata:    meta,
		})
		addRef(ref, types.EvidenceAsset, va.PageNumber, va.ID)
	}

	if err := rc.Store.SaveCanonical(ctx, &types.CanonicalSet{
		Pages:        pages,
		Chunks:       chunks,
		VisualAssets: assets,
		EvidenceRefs: refs,
	}); err != nil {
		return Outcome{}, fmt.Errorf("failed to save canonical set: %w", err)
	}

	return Outcome{Summary: map[string]any{
		"pages":         len(pages),
		"chunks":        len(chunks),
		"visual_assets": len(assets),
		"evidence_refs": len(refs),
	}}, nil
}

// assetBlob returns the blob holding the asset's pixels, storing inline
// base64 payloads under the document prefix first.
func assetBlob(ctx context.Context, rc *RunContext, index int, va types.BundleVisualAsset) (string, error) {
	if va.BlobPath != "" {
		return va.BlobPath, nil
	}
	if va.ImageBase64 == "" {
		return "", nil
	}
	data, err := base64.StdEncoding.DecodeString(va.ImageBase64)
	if err != nil {
		return "", fmt.Errorf("invalid base64 payload: %w", err)
	}
	ct := va.ContentType
	if ct == "" {
		ct = "image/png"
	}
	ext := ".bin"
	if exts, _ := mime.ExtensionsByType(ct); len(exts) > 0 {
		ext = exts[0]
	}
	path := fmt.Sprintf("%s/assets/asset_%03d%s", rc.Prefix(), index, ext)
	if _, err := rc.Blob.Put(ctx, path, data, ct, map[string]string{
		"document_id": rc.Document.ID.String(),
		"page_number": fmt.Sprint(va.PageNumber),
	}); err != nil {
		return "", err
	}
	return path, nil
}
