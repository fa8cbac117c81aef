package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/planning-ingest/internal/types"
)

// -----------------------------------------------------------------------------
// Visual Assets Methods
// -----------------------------------------------------------------------------

// insertVisualAssets writes visual assets inside a canonical load transaction
func insertVisualAssets(ctx context.Context, tx pgx.Tx, assets []types.VisualAsset) error {
	for _, a := range assets {
		metaJSON, err := marshalJSON(a.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO visual_assets (id, document_id, seq, page_number, blob_path, evidence_ref, metadata)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			a.ID, a.DocumentID, a.Seq, a.PageNumber, a.BlobPath, a.EvidenceRef, metaJSON,
		); err != nil {
			return err
		}
	}
	return nil
}

// ListVisualAssets lists the visual assets of a document
func (db *DB) ListVisualAssets(ctx context.Context, documentID uuid.UUID) ([]types.VisualAsset, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, document_id, seq, page_number, blob_path, evidence_ref, metadata
		 FROM visual_assets WHERE document_id = $1 ORDER BY seq`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list visual assets: %w", err)
	}
	defer rows.Close()

	var out []types.VisualAsset
	for rows.Next() {
		var a types.VisualAsset
		var metaJSON []byte
		if err := rows.Scan(&a.ID, &a.DocumentID, &a.Seq, &a.PageNumber, &a.BlobPath, &a.EvidenceRef, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan visual asset: %w", err)
		}
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &a.Metadata)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateVisualAssetMetadata replaces the metadata of an asset
func (db *DB) UpdateVisualAssetMetadata(ctx context.Context, assetID uuid.UUID, meta types.VisualAssetMetadata) error {
	metaJSON, err := marshalJSON(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal asset metadata: %w", err)
	}
	result, err := db.pool.Exec(ctx, `UPDATE visual_assets SET metadata = $1 WHERE id = $2`, metaJSON, assetID)
	if err != nil {
		return fmt.Errorf("failed to update asset metadata: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("visual asset not found: %s", assetID)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Segmentation Methods
// -----------------------------------------------------------------------------

// SaveSegmentation writes every mask, region and region evidence ref of one
// asset together with its recorded mask count, in one transaction.
func (db *DB) SaveSegmentation(ctx context.Context, seg *types.AssetSegmentation) error {
	metaJSON, err := marshalJSON(seg.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal asset metadata: %w", err)
	}
	return db.inTx(ctx, "segmentation", func(tx pgx.Tx) error {
		for _, m := range seg.Masks {
			rleJSON, err := json.Marshal(m.RLE)
			if err != nil {
				return fmt.Errorf("failed to marshal rle: %w", err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO segmentation_masks (id, asset_id, document_id, run_id, label, blob_path, rle, bbox, confidence)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				m.ID, m.AssetID, m.DocumentID, m.RunID, m.Label, m.BlobPath, rleJSON,
				bboxSlice(m.BBox), m.Confidence,
			); err != nil {
				return err
			}
		}
		for _, r := range seg.Regions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO visual_asset_regions (id, asset_id, mask_id, bbox, blob_path, evidence_ref)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				r.ID, r.AssetID, r.MaskID, bboxSlice(r.BBox), r.BlobPath, r.EvidenceRef,
			); err != nil {
				return err
			}
		}
		if err := insertEvidenceRefs(ctx, tx, seg.EvidenceRefs); err != nil {
			return err
		}
		result, err := tx.Exec(ctx, `UPDATE visual_assets SET metadata = $1 WHERE id = $2`, metaJSON, seg.AssetID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("visual asset not found: %s", seg.AssetID)
		}
		return nil
	})
}

// ListMasks lists the masks of a document
func (db *DB) ListMasks(ctx context.Context, documentID uuid.UUID) ([]types.SegmentationMask, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, asset_id, document_id, run_id, label, blob_path, rle, bbox, confidence, vector_count, created_at
		 FROM segmentation_masks WHERE document_id = $1 ORDER BY created_at`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list masks: %w", err)
	}
	defer rows.Close()

	var out []types.SegmentationMask
	for rows.Next() {
		var m types.SegmentationMask
		var rleJSON []byte
		var bbox []float64
		if err := rows.Scan(&m.ID, &m.AssetID, &m.DocumentID, &m.RunID, &m.Label, &m.BlobPath, &rleJSON,
			&bbox, &m.Confidence, &m.VectorCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mask: %w", err)
		}
		_ = json.Unmarshal(rleJSON, &m.RLE)
		m.BBox = bboxArray(bbox)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListRegions lists the regions cut from an asset
func (db *DB) ListRegions(ctx context.Context, assetID uuid.UUID) ([]types.VisualAssetRegion, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, asset_id, mask_id, bbox, blob_path, evidence_ref
		 FROM visual_asset_regions WHERE asset_id = $1`,
		assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list regions: %w", err)
	}
	defer rows.Close()

	var out []types.VisualAssetRegion
	for rows.Next() {
		var r types.VisualAssetRegion
		var bbox []float64
		if err := rows.Scan(&r.ID, &r.AssetID, &r.MaskID, &bbox, &r.BlobPath, &r.EvidenceRef); err != nil {
			return nil, fmt.Errorf("failed to scan region: %w", err)
		}
		r.BBox = bboxArray(bbox)
		out = append(out, r)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Vector Paths and Transforms Methods
// -----------------------------------------------------------------------------

// SaveVectorization writes the vector paths derived from one mask and records
// how many there were on the mask, in one transaction. A zero count marks a
// mask that vectorized to nothing.
func (db *DB) SaveVectorization(ctx context.Context, maskID uuid.UUID, paths []types.VectorPath) error {
	return db.inTx(ctx, "vector paths", func(tx pgx.Tx) error {
		for _, p := range paths {
			geomJSON, err := json.Marshal(p.Geometry)
			if err != nil {
				return err
			}
			bboxJSON, err := json.Marshal(p.BBox)
			if err != nil {
				return err
			}
			metaJSON, err := marshalJSON(p.Metadata)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO vector_paths (id, document_id, asset_id, mask_id, run_id, page_number, geometry, bbox, metadata)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				p.ID, p.DocumentID, p.AssetID, p.MaskID, p.RunID, p.PageNumber, geomJSON, bboxJSON, metaJSON,
			); err != nil {
				return err
			}
		}
		result, err := tx.Exec(ctx, `UPDATE segmentation_masks SET vector_count = $1 WHERE id = $2`, len(paths), maskID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return fmt.Errorf("mask not found: %s", maskID)
		}
		return nil
	})
}

// ListVectorPaths lists the vector paths of a document
func (db *DB) ListVectorPaths(ctx context.Context, documentID uuid.UUID) ([]types.VectorPath, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, document_id, asset_id, mask_id, run_id, page_number, geometry, bbox, metadata
		 FROM vector_paths WHERE document_id = $1`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list vector paths: %w", err)
	}
	defer rows.Close()

	var out []types.VectorPath
	for rows.Next() {
		var p types.VectorPath
		var geomJSON, bboxJSON, metaJSON []byte
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.AssetID, &p.MaskID, &p.RunID, &p.PageNumber,
			&geomJSON, &bboxJSON, &metaJSON); err != nil {
			return nil, fmt.Errorf("failed to scan vector path: %w", err)
		}
		_ = json.Unmarshal(geomJSON, &p.Geometry)
		_ = json.Unmarshal(bboxJSON, &p.BBox)
		if metaJSON != nil {
			_ = json.Unmarshal(metaJSON, &p.Metadata)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// InsertTransform records a georeferencing transform
func (db *DB) InsertTransform(ctx context.Context, t *types.Transform) error {
	frameJSON, err := marshalJSON(t.Frame)
	if err != nil {
		return fmt.Errorf("failed to marshal frame: %w", err)
	}
	_, err = db.pool.Exec(ctx,
		`INSERT INTO transforms (id, asset_id, run_id, target_crs, affine, rms_error, control_points,
		                         frame, redline_mask_id, tool_run_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		t.ID, t.AssetID, t.RunID, t.TargetCRS, t.Affine[:], t.RMSError, t.ControlPoints,
		frameJSON, t.RedlineMaskID, t.ToolRunID,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transform: %w", err)
	}
	return nil
}

// GetTransform retrieves the most recent transform of an asset
func (db *DB) GetTransform(ctx context.Context, assetID uuid.UUID) (*types.Transform, error) {
	var t types.Transform
	var affine []float64
	var frameJSON []byte
	err := db.pool.QueryRow(ctx,
		`SELECT id, asset_id, run_id, target_crs, affine, rms_error, control_points, frame,
		        redline_mask_id, tool_run_id, created_at
		 FROM transforms WHERE asset_id = $1 ORDER BY created_at DESC LIMIT 1`,
		assetID,
	).Scan(&t.ID, &t.AssetID, &t.RunID, &t.TargetCRS, &affine, &t.RMSError, &t.ControlPoints, &frameJSON,
		&t.RedlineMaskID, &t.ToolRunID, &t.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get transform: %w", err)
	}
	copy(t.Affine[:], affine)
	if frameJSON != nil {
		_ = json.Unmarshal(frameJSON, &t.Frame)
	}
	return &t, nil
}
