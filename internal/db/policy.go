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
// Policy Structure Methods
// -----------------------------------------------------------------------------

// CountPolicySections returns the number of extracted sections of a document
func (db *DB) CountPolicySections(ctx context.Context, documentID uuid.UUID) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM policy_sections WHERE document_id = $1`, documentID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count policy sections: %w", err)
	}
	return n, nil
}

// SavePolicyStructure writes sections, clauses, definitions, targets and
// monitoring hooks in one transaction
func (db *DB) SavePolicyStructure(ctx context.Context, ps *types.PolicyStructure) error {
	return db.inTx(ctx, "policy structure", func(tx pgx.Tx) error {
		for _, s := range ps.Sections {
			actJSON, _ := json.Marshal(s.SpeechAct)
			if _, err := tx.Exec(ctx,
				`INSERT INTO policy_sections (id, document_id, run_id, seq, code, title, text, page_number, speech_act, evidence_ref)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
				s.ID, s.DocumentID, s.RunID, s.Seq, s.Code, s.Title, s.Text, s.PageNumber, actJSON, s.EvidenceRef,
			); err != nil {
				return err
			}
		}
		for _, c := range ps.Clauses {
			actJSON, _ := json.Marshal(c.SpeechAct)
			if _, err := tx.Exec(ctx,
				`INSERT INTO policy_clauses (id, section_id, document_id, seq, ref, text, speech_act)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				c.ID, c.SectionID, c.DocumentID, c.Seq, c.Ref, c.Text, actJSON,
			); err != nil {
				return err
			}
		}
		for _, d := range ps.Definitions {
			if _, err := tx.Exec(ctx,
				`INSERT INTO policy_definitions (id, document_id, section_id, term, definition)
				 VALUES ($1, $2, $3, $4, $5)`,
				d.ID, d.DocumentID, d.SectionID, d.Term, d.Definition,
			); err != nil {
				return err
			}
		}
		for _, t := range ps.Targets {
			if _, err := tx.Exec(ctx,
				`INSERT INTO policy_targets (id, document_id, section_id, description, metric, value, deadline)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				t.ID, t.DocumentID, t.SectionID, t.Description, t.Metric, t.Value, t.Deadline,
			); err != nil {
				return err
			}
		}
		for _, h := range ps.Hooks {
			if _, err := tx.Exec(ctx,
				`INSERT INTO monitoring_hooks (id, document_id, section_id, indicator, source, frequency)
				 VALUES ($1, $2, $3, $4, $5, $6)`,
				h.ID, h.DocumentID, h.SectionID, h.Indicator, h.Source, h.Frequency,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadPolicyStructure reads back everything structural extraction stored for a document
func (db *DB) LoadPolicyStructure(ctx context.Context, documentID uuid.UUID) (*types.PolicyStructure, error) {
	ps := &types.PolicyStructure{}

	rows, err := db.pool.Query(ctx,
		`SELECT id, document_id, run_id, seq, code, title, text, page_number, speech_act, evidence_ref
		 FROM policy_sections WHERE document_id = $1 ORDER BY seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy sections: %w", err)
	}
	for rows.Next() {
		var s types.PolicySection
		var actJSON []byte
		if err := rows.Scan(&s.ID, &s.DocumentID, &s.RunID, &s.Seq, &s.Code, &s.Title, &s.Text,
			&s.PageNumber, &actJSON, &s.EvidenceRef); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan policy section: %w", err)
		}
		_ = json.Unmarshal(actJSON, &s.SpeechAct)
		ps.Sections = append(ps.Sections, s)
	}
	rows.Close()

	rows, err = db.pool.Query(ctx,
		`SELECT id, section_id, document_id, seq, ref, text, speech_act
		 FROM policy_clauses WHERE document_id = $1 ORDER BY seq`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy clauses: %w", err)
	}
	for rows.Next() {
		var c types.PolicyClause
		var actJSON []byte
		if err := rows.Scan(&c.ID, &c.SectionID, &c.DocumentID, &c.Seq, &c.Ref, &c.Text, &actJSON); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan policy clause: %w", err)
		}
		_ = json.Unmarshal(actJSON, &c.SpeechAct)
		ps.Clauses = append(ps.Clauses, c)
	}
	rows.Close()

	rows, err = db.pool.Query(ctx,
		`SELECT id, document_id, section_id, term, definition FROM policy_definitions WHERE document_id = $1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy definitions: %w", err)
	}
	for rows.Next() {
		var d types.PolicyDefinition
		if err := rows.Scan(&d.ID, &d.DocumentID, &d.SectionID, &d.Term, &d.Definition); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan policy definition: %w", err)
		}
		ps.Definitions = append(ps.Definitions, d)
	}
	rows.Close()

	rows, err = db.pool.Query(ctx,
		`SELECT id, document_id, section_id, description, metric, value, deadline FROM policy_targets WHERE document_id = $1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy targets: %w", err)
	}
	for rows.Next() {
		var t types.PolicyTarget
		if err := rows.Scan(&t.ID, &t.DocumentID, &t.SectionID, &t.Description, &t.Metric, &t.Value, &t.Deadline); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan policy target: %w", err)
		}
		ps.Targets = append(ps.Targets, t)
	}
	rows.Close()

	rows, err = db.pool.Query(ctx,
		`SELECT id, document_id, section_id, indicator, source, frequency FROM monitoring_hooks WHERE document_id = $1`, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load monitoring hooks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var h types.MonitoringHook
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.SectionID, &h.Indicator, &h.Source, &h.Frequency); err != nil {
			return nil, fmt.Errorf("failed to scan monitoring hook: %w", err)
		}
		ps.Hooks = append(ps.Hooks, h)
	}

	return ps, rows.Err()
}
