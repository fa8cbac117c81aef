package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/prompts"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/schemas"
	"github.com/jonathan/planning-ingest/internal/types"
)

// extractedPolicy mirrors the policy_structure schema
type extractedPolicy struct {
	Sections []struct {
		Code       string          `json:"code"`
		Title      string          `json:"title"`
		Text       string          `json:"text"`
		PageNumber int             `json:"page_number"`
		SpeechAct  types.SpeechAct `json:"speech_act"`
		Clauses    []struct {
			Ref       string          `json:"ref"`
			Text      string          `json:"text"`
			SpeechAct types.SpeechAct `json:"speech_act"`
		} `json:"clauses"`
		Definitions []struct {
			Term       string `json:"term"`
			Definition string `json:"definition"`
		} `json:"definitions"`
		Targets []struct {
			Description string `json:"description"`
			Metric      string `json:"metric"`
			Value       string `json:"value"`
			Deadline    string `json:"deadline"`
		} `json:"targets"`
		Hooks []struct {
			Indicator string `json:"indicator"`
			Source    string `json:"source"`
			Frequency string `json:"frequency"`
		} `json:"monitoring_hooks"`
	} `json:"sections"`
}

// StructuralExtraction asks the LLM for the document's policy structure.
// Sentinel: the document has policy sections. An answer that is not valid
// JSON is recorded with its raw text and the step succeeds with zero sections.
type StructuralExtraction struct{}

func (StructuralExtraction) Name() string { return StepStructuralExtraction }

func (StructuralExtraction) Run(ctx context.Context, rc *RunContext) (Outcome, error) {
	n, err := rc.Store.CountPolicySections(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to count policy sections: %w", err)
	}
	if n > 0 {
		return skipped(ReasonSentinel, map[string]any{"sections": n}), nil
	}

	chunks, err := rc.Store.ListChunks(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list chunks: %w", err)
	}
	if len(chunks) == 0 {
		return skipped(ReasonNoUnits, map[string]any{"chunks": 0}), nil
	}

	blocks, truncated := aggregateBlocks(chunks, rc.Options.MaxExtractionChars)
	title := rc.Document.Metadata.Title
	if title == "" {
		title = rc.Document.Filename
	}

	var out extractedPolicy
	err = generate(ctx, rc, structuredCall{
		tool:   "structural_extraction",
		schema: schemas.PolicyStructure,
		prompt: prompts.MustRender(prompts.ExtractPolicyStructure, map[string]string{
			"Title":     title,
			"Authority": rc.Document.Authority,
			"Blocks":    blocks,
		}),
		inputs: map[string]any{
			"document_id": rc.Document.ID.String(),
			"chunks":      len(chunks),
			"truncated":   truncated,
		},
	}, &out)
	if err != nil {
		var malformed *providers.MalformedOutputError
		if errors.As(err, &malformed) {
			rc.logger().Warn("policy extraction answer unusable, recording raw text", "error", err)
			return Outcome{Summary: map[string]any{
				"sections": 0,
				"raw_text": malformed.RawText,
				"error":    err.Error(),
			}}, nil
		}
		return Outcome{}, err
	}

	ps := buildPolicy(rc, chunks, &out)
	if len(ps.Sections) > 0 {
		if err := rc.Store.SavePolicyStructure(ctx, ps); err != nil {
			return Outcome{}, fmt.Errorf("failed to save policy structure: %w", err)
		}
	}
	return Outcome{Summary: map[string]any{
		"sections":         len(ps.Sections),
		"clauses":          len(ps.Clauses),
		"definitions":      len(ps.Definitions),
		"targets":          len(ps.Targets),
		"monitoring_hooks": len(ps.Hooks),
		"truncated":        truncated,
	}}, nil
}

// aggregateBlocks renders chunks as "[page N] [section] text" lines up to limit characters
func aggregateBlocks(chunks []types.Chunk, limit int) (string, bool) {
	var sb strings.Builder
	for _, c := range chunks {
		line := fmt.Sprintf("[page %d]", c.PageNumber)
		if c.SectionPath != "" {
			line += " [" + c.SectionPath + "]"
		}
		line += " " + strings.ReplaceAll(c.Text, "\n", " ") + "\n"
		if limit > 0 && sb.Len()+len(line) > limit {
			return sb.String(), true
		}
		sb.WriteString(line)
	}
	return sb.String(), false
}

func buildPolicy(rc *RunContext, chunks []types.Chunk, out *extractedPolicy) *types.PolicyStructure {
	docID := rc.Document.ID
	ps := &types.PolicyStructure{}
	for i, s := range out.Sections {
		if strings.TrimSpace(s.Title) == "" {
			continue
		}
		sec := types.PolicySection{
			ID:          uuid.New(),
			DocumentID:  docID,
			RunID:       rc.Run.ID,
			Seq:         i,
			Code:        strings.TrimSpace(s.Code),
			Title:       strings.TrimSpace(s.Title),
			Text:        s.Text,
			PageNumber:  s.PageNumber,
			SpeechAct:   s.SpeechAct,
			EvidenceRef: sectionEvidence(rc.Document, chunks, s.Title, s.PageNumber),
		}
		ps.Sections = append(ps.Sections, sec)
		sectionID := sec.ID

		for j, c := range s.Clauses {
			ps.Clauses = append(ps.Clauses, types.PolicyClause{
				ID:         uuid.New(),
				SectionID:  sectionID,
				DocumentID: docID,
				Seq:        j,
				Ref:        c.Ref,
				Text:       c.Text,
				SpeechAct:  c.SpeechAct,
			})
		}
		for _, d := range s.Definitions {
			ps.Definitions = append(ps.Definitions, types.PolicyDefinition{
				ID: uuid.New(), DocumentID: docID, SectionID: &sectionID,
				Term: d.Term, Definition: d.Definition,
			})
		}
		for _, t := range s.Targets {
			ps.Targets = append(ps.Targets, types.PolicyTarget{
				ID: uuid.New(), DocumentID: docID, SectionID: &sectionID,
				Description: t.Description, Metric: t.Metric, Value: t.Value, Deadline: t.Deadline,
			})
		}
		for _, h := range s.Hooks {
			ps.Hooks = append(ps.Hooks, types.MonitoringHook{
				ID: uuid.New(), DocumentID: docID, SectionID: &sectionID,
				Indicator: h.Indicator, Source: h.Source, Frequency: h.Frequency,
			})
		}
	}
	return ps
}

// sectionEvidence points a section at the heading chunk carrying its title,
// else at its page.
func sectionEvidence(doc *types.Document, chunks []types.Chunk, title string, page int) string {
	want := strings.ToLower(strings.TrimSpace(title))
	for _, c := range chunks {
		if c.BlockType == types.BlockHeading && strings.Contains(strings.ToLower(c.Text), want) {
			return c.EvidenceRef
		}
	}
	if page > 0 {
		return PageRef(doc, page)
	}
	return ""
}
