package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/types"
)

type embedUnit struct {
	id   uuid.UUID
	text string
}

// Embedding embeds chunks, captioned visual assets, policy sections and
// clauses, one provider call per batch of one unit type. Units already
// embedded for the model are skipped; the upsert ignores any that race in.
type Embedding struct{}

func (Embedding) Name() string { return StepEmbedding }

func (Embedding) Run(ctx context.Context, rc *RunContext) (Outcome, error) {
	units, err := collectUnits(ctx, rc)
	if err != nil {
		return Outcome{}, err
	}
	total := 0
	for _, us := range units {
		total += len(us)
	}
	if total == 0 {
		return skipped(ReasonNoUnits, nil), nil
	}
	if err := requireProvider("embedding", rc.Embedder != nil); err != nil {
		return Outcome{}, err
	}
	model := rc.Embedder.Model()

	pending := map[string][]embedUnit{}
	pendingTotal := 0
	for _, unitType := range unitOrder {
		us := units[unitType]
		if len(us) == 0 {
			continue
		}
		ids := make([]uuid.UUID, len(us))
		for i, u := range us {
			ids[i] = u.id
		}
		done, err := rc.Store.EmbeddedUnits(ctx, unitType, model, ids)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed to check embedded %s units: %w", unitType, err)
		}
		for _, u := range us {
			if !done[u.id] {
				pending[unitType] = append(pending[unitType], u)
			}
		}
		pendingTotal += len(pending[unitType])
	}
	if pendingTotal == 0 {
		return skipped(ReasonSentinel, map[string]any{"units": total, "model_id": model}), nil
	}

	size := rc.Options.EmbedBatchSize
	if size <= 0 {
		size = 64
	}
	inserted := map[string]int{}
	batches := 0
	for _, unitType := range unitOrder {
		us := pending[unitType]
		for start := 0; start < len(us); start += size {
			end := min(start+size, len(us))
			n, err := embedBatch(ctx, rc, unitType, us[start:end])
			if err != nil {
				return Outcome{}, fmt.Errorf("%s batch at %d: %w", unitType, start, err)
			}
			inserted[unitType] += n
			batches++
		}
	}

	return Outcome{Summary: map[string]any{
		"model_id": model,
		"units":    total,
		"pending":  pendingTotal,
		"batches":  batches,
		"inserted": inserted,
	}}, nil
}

var unitOrder = []string{types.UnitChunk, types.UnitVisualAsset, types.UnitPolicySection, types.UnitPolicyClause}

func collectUnits(ctx context.Context, rc *RunContext) (map[string][]embedUnit, error) {
	units := map[string][]embedUnit{}

	chunks, err := rc.Store.ListChunks(ctx, rc.Document.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	for _, c := range chunks {
		text := c.Text
		if c.SectionPath != "" {
			text = c.SectionPath + "\n" + text
		}
		units[types.UnitChunk] = append(units[types.UnitChunk], embedUnit{c.ID, text})
	}

	assets, err := rc.Store.ListVisualAssets(ctx, rc.Document.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list visual assets: %w", err)
	}
	for _, a := range assets {
		text := strings.TrimSpace(a.Metadata.Caption)
		if d, ok := a.Metadata.Classification["description"].(string); ok && d != "" {
			text = strings.TrimSpace(text + "\n" + d)
		}
		if text == "" {
			continue
		}
		units[types.UnitVisualAsset] = append(units[types.UnitVisualAsset], embedUnit{a.ID, text})
	}

	policy, err := rc.Store.LoadPolicyStructure(ctx, rc.Document.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load policy structure: %w", err)
	}
	for _, s := range policy.Sections {
		text := strings.TrimSpace(strings.Join([]string{s.Code, s.Title, s.Text}, " "))
		units[types.UnitPolicySection] = append(units[types.UnitPolicySection], embedUnit{s.ID, text})
	}
	for _, c := range policy.Clauses {
		units[types.UnitPolicyClause] = append(units[types.UnitPolicyClause], embedUnit{c.ID, c.Text})
	}
	return units, nil
}

func embedBatch(ctx context.Context, rc *RunContext, unitType string, batch []embedUnit) (int, error) {
	texts := make([]string, len(batch))
	chars := 0
	for i, u := range batch {
		texts[i] = u.text
		chars += len(u.text)
	}
	model, dim := rc.Embedder.Model(), rc.Embedder.Dimension()

	call := provenance.Call{
		Tool:   "embedding",
		Inputs: map[string]any{"unit_type": unitType, "units": len(batch), "chars": chars, "model_id": model},
		Refs:   rc.Refs(),
	}
	vectors, _, err := provenance.Track(ctx, rc.Ledger, call,
		func(ctx context.Context) ([][]float32, error) {
			v, err := rc.Embedder.EmbedBatch(ctx, texts)
			if err != nil {
				return nil, err
			}
			if len(v) != len(texts) {
				return nil, &providers.MalformedOutputError{Provider: "embedding", Message: fmt.Sprintf("got %d vectors for %d texts", len(v), len(texts))}
			}
			for i := range v {
				if dim > 0 && len(v[i]) != dim {
					return nil, &providers.MalformedOutputError{Provider: "embedding", Message: fmt.Sprintf("vector %d has dimension %d, want %d", i, len(v[i]), dim)}
				}
			}
			return v, nil
		},
		func(v [][]float32) provenance.Result {
			return provenance.Result{Outputs: map[string]any{"vectors": len(v)}}
		})
	if err != nil {
		return 0, err
	}

	rows := make([]types.UnitEmbedding, len(batch))
	for i, u := range batch {
		rows[i] = types.UnitEmbedding{
			UnitType: unitType,
			UnitID:   u.id,
			ModelID:  model,
			Dim:      len(vectors[i]),
			Vector:   vectors[i],
		}
	}
	n, err := rc.Store.UpsertUnitEmbeddings(ctx, rows)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert embeddings: %w", err)
	}
	return n, nil
}
