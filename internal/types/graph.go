// Package types provides type definitions for structured data used throughout the planning-ingest system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// KGNode is a persisted knowledge-graph vertex. ID has the form <type>::<uuid>.
type KGNode struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Props       map[string]any `json:"props,omitempty"`
	CanonicalFK string         `json:"canonical_fk"`
	CreatedAt   time.Time      `json:"created_at"`
}

// KGEdge is a persisted, append-only relationship
type KGEdge struct {
	ID            uuid.UUID      `json:"id"`
	Src           string         `json:"src"`
	Dst           string         `json:"dst"`
	Type          string         `json:"type"`
	Class         string         `json:"class"`
	ResolveMethod string         `json:"resolve_method"`
	Confidence    *float64       `json:"confidence,omitempty"`
	Rationale     string         `json:"rationale,omitempty"`
	EvidenceRef   string         `json:"evidence_ref,omitempty"`
	ProposalID    *uuid.UUID     `json:"proposal_id,omitempty"`
	RunID         *uuid.UUID     `json:"run_id,omitempty"`
	Props         map[string]any `json:"props,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Link kinds
const (
	LinkVisualPolicy  = "visual_policy"
	LinkSpatialPolicy = "spatial_policy"
)

// Resolve methods
const (
	ResolveLLM       = "llm"
	ResolveLexical   = "lexical"
	ResolveStructure = "structure"
)

// LinkProposal is a candidate relation found by a link-discovery pass
type LinkProposal struct {
	ID            uuid.UUID `json:"id"`
	DocumentID    uuid.UUID `json:"document_id"`
	RunID         uuid.UUID `json:"run_id"`
	Kind          string    `json:"kind"`
	SourceType    string    `json:"source_type"`
	SourceID      uuid.UUID `json:"source_id"`
	TargetType    string    `json:"target_type"`
	TargetID      uuid.UUID `json:"target_id"`
	Relation      string    `json:"relation"`
	ResolveMethod string    `json:"resolve_method"`
	Confidence    float64   `json:"confidence"`
	Rationale     string    `json:"rationale,omitempty"`
	EvidenceRef   string    `json:"evidence_ref,omitempty"`
	Accepted      bool      `json:"accepted"`
	CreatedAt     time.Time `json:"created_at"`
}
