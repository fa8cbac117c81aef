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
// Documents and Parse Bundles
// -----------------------------------------------------------------------------

const documentColumns = `id, authority, plan_cycle, batch_id, run_id, filename, content_type,
	raw_blob_path, content_hash, size_bytes, metadata, created_at`

func scanDocument(row pgx.Row) (*types.Document, error) {
	var d types.Document
	var metaJSON []byte
	if err := row.Scan(&d.ID, &d.Authority, &d.PlanCycle, &d.BatchID, &d.RunID, &d.Filename, &d.ContentType,
		&d.RawBlobPath, &d.ContentHash, &d.SizeBytes, &metaJSON, &d.CreatedAt); err != nil {
		return nil, err
	}
	if metaJSON != nil {
		_ = json.Unmarshal(metaJSON, &d.Metadata)
	}
	return &d, nil
}

// UpsertDocument inserts a document keyed by (authority, plan cycle, content hash).
// A concurrent or earlier insert of the same content wins and is returned.
func (db *DB) UpsertDocument(ctx context.Context, doc *types.Document) (*types.Document, bool, error) {
	metaJSON, err := marshalJSON(doc.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal document metadata: %w", err)
	}
	id := doc.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	stored, err := scanDocument(db.pool.QueryRow(ctx,
		`INSERT INTO documents (id, authority, plan_cycle, batch_id, run_id, filename, content_type,
		                        raw_blob_path, content_hash, size_bytes, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING `+documentColumns,
		id, doc.Authority, doc.PlanCycle, doc.BatchID, doc.RunID, doc.Filename, doc.ContentType,
		doc.RawBlobPath, doc.ContentHash, doc.SizeBytes, metaJSON,
	))
	if err == nil {
		return stored, true, nil
	}
	if !isUniqueViolation(err, "documents_identity") {
		return nil, false, fmt.Errorf("failed to insert document: %w", err)
	}

	stored, err = scanDocument(db.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE authority = $1 AND plan_cycle = $2 AND content_hash = $3`,
		doc.Authority, doc.PlanCycle, doc.ContentHash,
	))
	if err != nil {
		return nil, false, fmt.Errorf("failed to load existing document: %w", err)
	}
	return stored, false, nil
}

// GetDocument retrieves a document by ID
func (db *DB) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	d, err := scanDocument(db.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return d, nil
}

// InsertParseBundle records the parse bundle; the first bundle for a document wins
func (db *DB) InsertParseBundle(ctx context.Context, pb *types.ParseBundle) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO parse_bundles (document_id, run_id, schema_version, blob_path, status)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (document_id) DO NOTHING`,
		pb.DocumentID, pb.RunID, pb.SchemaVersion, pb.BlobPath, pb.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to insert parse bundle: %w", err)
	}
	return nil
}

// GetParseBundle retrieves the parse bundle of a document
func (db *DB) GetParseBundle(ctx context.Context, documentID uuid.UUID) (*types.ParseBundle, error) {
	var pb types.ParseBundle
	err := db.pool.QueryRow(ctx,
		`SELECT id, document_id, run_id, schema_version, blob_path, status, created_at
		 FROM parse_bundles WHERE document_id = $1`,
		documentID,
	).Scan(&pb.ID, &pb.DocumentID, &pb.RunID, &pb.SchemaVersion, &pb.BlobPath, &pb.Status, &pb.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get parse bundle: %w", err)
	}
	return &pb, nil
}

// -----------------------------------------------------------------------------
// Canonical Text Methods
// -----------------------------------------------------------------------------

// CountPages returns the number of pages stored for a document
func (db *DB) CountPages(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pages WHERE document_id = $1`, documentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return n, nil
}

// SaveCanonical writes the pages, chunks, visual assets and evidence refs of
// a document in one transaction, so a document either has its whole canonical
// set or no pages at all.
func (db *DB) SaveCanonical(ctx context.Context, set *types.CanonicalSet) error {
	return db.inTx(ctx, "canonical set", func(tx pgx.Tx) error {
		for _, c := range set.Chunks {
			if _, err := tx.Exec(ctx,
				`INSERT INTO chunks (id, document_id, seq, page_number, section_path, block_type, text, evidence_ref)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				c.ID, c.DocumentID, c.Seq, c.PageNumber, c.SectionPath, c.BlockType, c.Text, c.EvidenceRef,
			); err != nil {
				return err
			}
		}
		if err := insertVisualAssets(ctx, tx, set.VisualAssets); err != nil {
			return err
		}
		if err := insertEvidenceRefs(ctx, tx, set.EvidenceRefs); err != nil {
			return err
		}
		for _, p := range set.Pages {
			if _, err := tx.Exec(ctx,
				`INSERT INTO pages (id, document_id, page_number, text, width, height)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				p.ID, p.DocumentID, p.PageNumber, p.Text, p.Width, p.Height,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListChunks lists the chunks of a document in reading order
func (db *DB) ListChunks(ctx context.Context, documentID uuid.UUID) ([]types.Chunk, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, document_id, seq, page_number, section_path, block_type, text, evidence_ref
		 FROM chunks WHERE document_id = $1 ORDER BY seq`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var out []types.Chunk
	for rows.Next() {
		var c types.Chunk
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Seq, &c.PageNumber, &c.SectionPath, &c.BlockType, &c.Text, &c.EvidenceRef); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// InsertEvidenceRefs registers evidence references, skipping ones already known
func (db *DB) InsertEvidenceRefs(ctx context.Context, refs []types.EvidenceRef) error {
	return db.inTx(ctx, "evidence refs", func(tx pgx.Tx) error {
		return insertEvidenceRefs(ctx, tx, refs)
	})
}

func insertEvidenceRefs(ctx context.Context, tx pgx.Tx, refs []types.EvidenceRef) error {
	for _, r := range refs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO evidence_refs (id, document_id, ref, kind, page_number, fragment_id, locator)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (ref) DO NOTHING`,
			r.ID, r.DocumentID, r.Ref, r.Kind, r.PageNumber, r.FragmentID, r.Locator,
		); err != nil {
			return err
		}
	}
	return nil
}

// inTx runs fn in a transaction and wraps any failure with what was being written
func (db *DB) inTx(ctx context.Context, what string, fn func(tx pgx.Tx) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return fmt.Errorf("failed to insert %s: %w", what, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", what, err)
	}
	return nil
}
