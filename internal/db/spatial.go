package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/planning-ingest/internal/types"
)

// -----------------------------------------------------------------------------
// Spatial Features Methods
// -----------------------------------------------------------------------------

// CountActiveSpatialFeatures counts active features and profiles of an authority
func (db *DB) CountActiveSpatialFeatures(ctx context.Context, authority string) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM spatial_features WHERE authority = $1 AND active`, authority,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count spatial features: %w", err)
	}
	return n, nil
}

// DeactivateSpatialFeatures retires every active feature of an authority
func (db *DB) DeactivateSpatialFeatures(ctx context.Context, authority string) (int, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE spatial_features SET active = FALSE WHERE authority = $1 AND active`, authority)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate spatial features: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// InsertSpatialFeatures inserts features and layer profiles
func (db *DB) InsertSpatialFeatures(ctx context.Context, features []types.SpatialFeature) error {
	return db.inTx(ctx, "spatial features", func(tx pgx.Tx) error {
		for _, f := range features {
			geomJSON, err := marshalJSON(f.Geometry)
			if err != nil {
				return err
			}
			bboxJSON, err := marshalJSON(f.BBox)
			if err != nil {
				return err
			}
			propsJSON, err := marshalJSON(f.Properties)
			if err != nil {
				return err
			}
			profileJSON, err := marshalJSON(f.Profile)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO spatial_features (id, authority, kind, layer_name, geometry_type, geometry, bbox,
				                               properties, profile, confidence_hint, limitation_note, active, tool_run_id)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
				f.ID, f.Authority, f.Kind, f.LayerName, f.GeometryType, geomJSON, bboxJSON,
				propsJSON, profileJSON, f.ConfidenceHint, f.LimitationNote, f.Active, f.ToolRunID,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListSpatialFeatures lists active features of an authority, optionally of one kind
func (db *DB) ListSpatialFeatures(ctx context.Context, authority, kind string) ([]types.SpatialFeature, error) {
	query := `SELECT id, authority, kind, layer_name, geometry_type, geometry, bbox, properties, profile,
	                 confidence_hint, limitation_note, active, tool_run_id, created_at
	          FROM spatial_features WHERE authority = $1 AND active`
	args := []any{authority}
	if kind != "" {
		query += ` AND kind = $2`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list spatial features: %w", err)
	}
	defer rows.Close()

	var out []types.SpatialFeature
	for rows.Next() {
		var f types.SpatialFeature
		var geomJSON, bboxJSON, propsJSON, profileJSON []byte
		if err := rows.Scan(&f.ID, &f.Authority, &f.Kind, &f.LayerName, &f.GeometryType, &geomJSON, &bboxJSON,
			&propsJSON, &profileJSON, &f.ConfidenceHint, &f.LimitationNote, &f.Active, &f.ToolRunID, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan spatial feature: %w", err)
		}
		if geomJSON != nil {
			_ = json.Unmarshal(geomJSON, &f.Geometry)
		}
		if bboxJSON != nil {
			_ = json.Unmarshal(bboxJSON, &f.BBox)
		}
		if propsJSON != nil {
			_ = json.Unmarshal(propsJSON, &f.Properties)
		}
		if profileJSON != nil {
			_ = json.Unmarshal(profileJSON, &f.Profile)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
