package stages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/types"
)

// ParseBundleFile is the object name of the stored bundle under the document prefix
const ParseBundleFile = "parse_bundle.json"

// Parse sends the raw document to the DocumentParser and stores the bundle.
// Sentinel: a ParseBundle row exists for the document.
type Parse struct{}

func (Parse) Name() string { return StepParse }

func (Parse) Run(ctx context.Context, rc *RunContext) (Outcome, error) {
	existing, err := rc.Store.GetParseBundle(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to check parse bundle: %w", err)
	}
	if existing != nil {
		return skipped(ReasonSentinel, map[string]any{"blob_path": existing.BlobPath}), nil
	}
	if err := requireProvider("document_parser", rc.Parser != nil); err != nil {
		return Outcome{}, err
	}

	raw, err := rc.Blob.Get(ctx, rc.Document.RawBlobPath)
	if err != nil {
		return Outcome{}, fail(StepParse, "failed to read raw document", err)
	}

	call := provenance.Call{
		Tool: "document_parser",
		Inputs: map[string]any{
			"document_id":  rc.Document.ID.String(),
			"blob_path":    rc.Document.RawBlobPath,
			"filename":     rc.Document.Filename,
			"content_type": rc.Document.ContentType,
			"file":         raw.Data,
		},
		Refs:        rc.Refs(),
		LongRunning: true,
	}
	bundle, _, err := provenance.Track(ctx, rc.Ledger, call,
		func(ctx context.Context) (*types.Bundle, error) {
			b, err := rc.Parser.Parse(ctx, providers.ParseRequest{
				BlobPath:    rc.Document.RawBlobPath,
				Data:        raw.Data,
				Filename:    rc.Document.Filename,
				ContentType: rc.Document.ContentType,
			})
			if err != nil {
				return nil, err
			}
			if err := providers.ValidateOutput("document_parser", b); err != nil {
				return nil, err
			}
			if len(b.Pages) == 0 {
				return nil, &providers.MalformedOutputError{Provider: "document_parser", Message: "bundle has no pages"}
			}
			return b, nil
		},
		func(b *types.Bundle) provenance.Result {
			return provenance.Result{Outputs: map[string]any{
				"schema_version": b.SchemaVersion,
				"pages":          len(b.Pages),
				"layout_blocks":  len(b.LayoutBlocks),
				"visual_assets":  len(b.VisualAssets),
			}}
		})
	if err != nil {
		return Outcome{}, err
	}

	path := rc.Prefix() + "/" + ParseBundleFile
	bundle.ParseBundlePath = path
	data, err := json.Marshal(bundle)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to encode parse bundle: %w", err)
	}
	if _, err := rc.Blob.Put(ctx, path, data, "application/json", map[string]string{
		"document_id":    rc.Document.ID.String(),
		"schema_version": bundle.SchemaVersion,
	}); err != nil {
		return Outcome{}, fail(StepParse, "failed to store parse bundle", err)
	}

	runID := rc.Run.ID
	if err := rc.Store.InsertParseBundle(ctx, &types.ParseBundle{
		ID:            uuid.New(),
		DocumentID:    rc.Document.ID,
		RunID:         &runID,
		SchemaVersion: bundle.SchemaVersion,
		BlobPath:      path,
		Status:        "ready",
	}); err != nil {
		return Outcome{}, fmt.Errorf("failed to save parse bundle: %w", err)
	}

	return Outcome{Summary: map[string]any{
		"blob_path":     path,
		"pages":         len(bundle.Pages),
		"layout_blocks": len(bundle.LayoutBlocks),
		"visual_assets": len(bundle.VisualAssets),
	}}, nil
}

// loadBundle reads the stored bundle of the current document
func loadBundle(ctx context.Context, rc *RunContext) (*types.Bundle, error) {
	pb, err := rc.Store.GetParseBundle(ctx, rc.Document.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get parse bundle: %w", err)
	}
	if pb == nil {
		return nil, fmt.Errorf("document %s has no parse bundle", rc.Document.ID)
	}
	obj, err := rc.Blob.Get(ctx, pb.BlobPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read parse bundle %s: %w", pb.BlobPath, err)
	}
	var bundle types.Bundle
	if err := json.Unmarshal(obj.Data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to decode parse bundle %s: %w", pb.BlobPath, err)
	}
	return &bundle, nil
}
