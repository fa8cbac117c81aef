package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/jonathan/planning-ingest/internal/types"
)

// -----------------------------------------------------------------------------
// Unit Embeddings Methods
// -----------------------------------------------------------------------------

// UpsertUnitEmbeddings inserts embeddings keyed by (unit type, unit id, model id).
// Existing keys are left untouched so re-embedding with the same model is a no-op.
func (db *DB) UpsertUnitEmbeddings(ctx context.Context, embs []types.UnitEmbedding) (int, error) {
	inserted := 0
	err := db.inTx(ctx, "unit embeddings", func(tx pgx.Tx) error {
		for _, e := range embs {
			tag, err := tx.Exec(ctx,
				`INSERT INTO unit_embeddings (unit_type, unit_id, model_id, dim, embedding)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (unit_type, unit_id, model_id) DO NOTHING`,
				e.UnitType, e.UnitID, e.ModelID, e.Dim, pgvector.NewVector(e.Vector),
			)
			if err != nil {
				return err
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// EmbeddedUnits reports which of unitIDs already have an embedding for the model
func (db *DB) EmbeddedUnits(ctx context.Context, unitType, modelID string, unitIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool)
	if len(unitIDs) == 0 {
		return out, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT unit_id FROM unit_embeddings
		 WHERE unit_type = $1 AND model_id = $2 AND unit_id = ANY($3)`,
		unitType, modelID, unitIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to check embedded units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan unit id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}

// CountUnitEmbeddings counts embeddings of one unit type for a model
func (db *DB) CountUnitEmbeddings(ctx context.Context, unitType, modelID string) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM unit_embeddings WHERE unit_type = $1 AND model_id = $2`,
		unitType, modelID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unit embeddings: %w", err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Link Proposals Methods
// -----------------------------------------------------------------------------

// InsertLinkProposals records proposals from a link-discovery pass
func (db *DB) InsertLinkProposals(ctx context.Context, proposals []types.LinkProposal) error {
	return db.inTx(ctx, "link proposals", func(tx pgx.Tx) error {
		for _, p := range proposals {
			if _, err := tx.Exec(ctx,
				`INSERT INTO link_proposals (id, document_id, run_id, kind, source_type, source_id, target_type,
				                             target_id, relation, resolve_method, confidence, rationale, evidence_ref, accepted)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				p.ID, p.DocumentID, p.RunID, p.Kind, p.SourceType, p.SourceID, p.TargetType,
				p.TargetID, p.Relation, p.ResolveMethod, p.Confidence, p.Rationale, p.EvidenceRef, p.Accepted,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListLinkProposals lists the proposals of a document
func (db *DB) ListLinkProposals(ctx context.Context, documentID uuid.UUID) ([]types.LinkProposal, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, document_id, run_id, kind, source_type, source_id, target_type, target_id, relation,
		        resolve_method, confidence, rationale, evidence_ref, accepted, created_at
		 FROM link_proposals WHERE document_id = $1 ORDER BY created_at`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list link proposals: %w", err)
	}
	defer rows.Close()

	var out []types.LinkProposal
	for rows.Next() {
		var p types.LinkProposal
		if err := rows.Scan(&p.ID, &p.DocumentID, &p.RunID, &p.Kind, &p.SourceType, &p.SourceID, &p.TargetType,
			&p.TargetID, &p.Relation, &p.ResolveMethod, &p.Confidence, &p.Rationale, &p.EvidenceRef,
			&p.Accepted, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan link proposal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------
// Knowledge Graph Methods
// -----------------------------------------------------------------------------

// UpsertKGNodes inserts nodes that do not exist yet and returns their ids
func (db *DB) UpsertKGNodes(ctx context.Context, nodes []types.KGNode) ([]string, error) {
	var inserted []string
	err := db.inTx(ctx, "kg nodes", func(tx pgx.Tx) error {
		for _, n := range nodes {
			propsJSON, err := marshalJSON(n.Props)
			if err != nil {
				return err
			}
			var id string
			err = tx.QueryRow(ctx,
				`INSERT INTO kg_nodes (id, type, props, canonical_fk)
				 VALUES ($1, $2, $3, $4)
				 ON CONFLICT (id) DO NOTHING
				 RETURNING id`,
				n.ID, n.Type, propsJSON, n.CanonicalFK,
			).Scan(&id)
			if err == pgx.ErrNoRows {
				continue
			}
			if err != nil {
				return err
			}
			inserted = append(inserted, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inserted, nil
}

// InsertKGEdges appends edges
func (db *DB) InsertKGEdges(ctx context.Context, edges []types.KGEdge) error {
	return db.inTx(ctx, "kg edges", func(tx pgx.Tx) error {
		for _, e := range edges {
			propsJSON, err := marshalJSON(e.Props)
			if err != nil {
				return err
			}
			id := e.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO kg_edges (id, src, dst, type, class, resolve_method, confidence, rationale,
				                       evidence_ref, proposal_id, run_id, props)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
				id, e.Src, e.Dst, e.Type, e.Class, e.ResolveMethod, e.Confidence, e.Rationale,
				e.EvidenceRef, e.ProposalID, e.RunID, propsJSON,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListKGNodes lists nodes of one type, or every node when nodeType is empty
func (db *DB) ListKGNodes(ctx context.Context, nodeType string) ([]types.KGNode, error) {
	query := `SELECT id, type, props, canonical_fk, created_at FROM kg_nodes`
	args := []any{}
	if nodeType != "" {
		query += ` WHERE type = $1`
		args = append(args, nodeType)
	}
	query += ` ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list kg nodes: %w", err)
	}
	defer rows.Close()

	var out []types.KGNode
	for rows.Next() {
		var n types.KGNode
		var propsJSON []byte
		if err := rows.Scan(&n.ID, &n.Type, &propsJSON, &n.CanonicalFK, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan kg node: %w", err)
		}
		if propsJSON != nil {
			_ = json.Unmarshal(propsJSON, &n.Props)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListKGEdges lists edges touching nodeID, or every edge when nodeID is empty
func (db *DB) ListKGEdges(ctx context.Context, nodeID string) ([]types.KGEdge, error) {
	query := `SELECT id, src, dst, type, class, resolve_method, confidence, rationale, evidence_ref,
	                 proposal_id, run_id, props, created_at
	          FROM kg_edges`
	args := []any{}
	if nodeID != "" {
		query += ` WHERE src = $1 OR dst = $1`
		args = append(args, nodeID)
	}
	query += ` ORDER BY created_at`

	rows, err := db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list kg edges: %w", err)
	}
	defer rows.Close()

	var out []types.KGEdge
	for rows.Next() {
		var e types.KGEdge
		var propsJSON []byte
		if err := rows.Scan(&e.ID, &e.Src, &e.Dst, &e.Type, &e.Class, &e.ResolveMethod, &e.Confidence,
			&e.Rationale, &e.EvidenceRef, &e.ProposalID, &e.RunID, &propsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan kg edge: %w", err)
		}
		if propsJSON != nil {
			_ = json.Unmarshal(propsJSON, &e.Props)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MaterializedProposals reports which proposals already produced an edge
func (db *DB) MaterializedProposals(ctx context.Context, proposalIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	out := make(map[uuid.UUID]bool)
	if len(proposalIDs) == 0 {
		return out, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT proposal_id FROM kg_edges WHERE proposal_id = ANY($1)`, proposalIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to check materialized proposals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan proposal id: %w", err)
		}
		out[id] = true
	}
	return out, rows.Err()
}
