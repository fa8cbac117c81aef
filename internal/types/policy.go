// Package types provides type definitions for structured data used throughout the planning-ingest system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"time"

	"github.com/google/uuid"
)

// SpeechAct describes what kind of statement a policy unit makes
type SpeechAct struct {
	Act      string `json:"act,omitempty"` // requirement, permission, prohibition, aspiration, definition
	Strength string `json:"strength,omitempty"`
	Actor    string `json:"actor,omitempty"`
}

// PolicySection is an extracted planning-policy section
type PolicySection struct {
	ID          uuid.UUID `json:"id"`
	DocumentID  uuid.UUID `json:"document_id"`
	RunID       uuid.UUID `json:"run_id"`
	Seq         int       `json:"seq"`
	Code        string    `json:"code,omitempty"`
	Title       string    `json:"title"`
	Text        string    `json:"text"`
	PageNumber  int       `json:"page_number,omitempty"`
	SpeechAct   SpeechAct `json:"speech_act"`
	EvidenceRef string    `json:"evidence_ref,omitempty"`
}

// PolicyClause is a numbered clause within a section
type PolicyClause struct {
	ID         uuid.UUID `json:"id"`
	SectionID  uuid.UUID `json:"section_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Seq        int       `json:"seq"`
	Ref        string    `json:"ref,omitempty"`
	Text       string    `json:"text"`
	SpeechAct  SpeechAct `json:"speech_act"`
}

// PolicyDefinition is a defined term
type PolicyDefinition struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID uuid.UUID  `json:"document_id"`
	SectionID  *uuid.UUID `json:"section_id,omitempty"`
	Term       string     `json:"term"`
	Definition string     `json:"definition"`
}

// PolicyTarget is a measurable target a policy sets
type PolicyTarget struct {
	ID          uuid.UUID  `json:"id"`
	DocumentID  uuid.UUID  `json:"document_id"`
	SectionID   *uuid.UUID `json:"section_id,omitempty"`
	Description string     `json:"description"`
	Metric      string     `json:"metric,omitempty"`
	Value       string     `json:"value,omitempty"`
	Deadline    string     `json:"deadline,omitempty"`
}

// MonitoringHook is an indicator used to monitor a policy
type MonitoringHook struct {
	ID         uuid.UUID  `json:"id"`
	DocumentID uuid.UUID  `json:"document_id"`
	SectionID  *uuid.UUID `json:"section_id,omitempty"`
	Indicator  string     `json:"indicator"`
	Source     string     `json:"source,omitempty"`
	Frequency  string     `json:"frequency,omitempty"`
}

// PolicyStructure is everything structural extraction persists for a document
type PolicyStructure struct {
	Sections    []PolicySection    `json:"sections"`
	Clauses     []PolicyClause     `json:"clauses"`
	Definitions []PolicyDefinition `json:"definitions"`
	Targets     []PolicyTarget     `json:"targets"`
	Hooks       []MonitoringHook   `json:"monitoring_hooks"`
}

// Embedding unit types
const (
	UnitChunk         = "chunk"
	UnitVisualAsset   = "visual_asset"
	UnitPolicySection = "policy_section"
	UnitPolicyClause  = "policy_clause"
)

// UnitEmbedding is unique per (unit type, unit id, model id)
type UnitEmbedding struct {
	UnitType  string    `json:"unit_type"`
	UnitID    uuid.UUID `json:"unit_id"`
	ModelID   string    `json:"model_id"`
	Dim       int       `json:"dim"`
	Vector    []float32 `json:"vector"`
	CreatedAt time.Time `json:"created_at"`
}
