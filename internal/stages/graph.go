package stages

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/kg"
	"github.com/jonathan/planning-ingest/internal/types"
)

// GraphAssembly derives the knowledge graph from persisted artifacts. Nodes
// are upserted. A structural edge is written unless the same (src, dst, type)
// edge is already stored, so re-assembly completes an interrupted pass without
// repeating anything. Link edges are appended for accepted proposals that no
// earlier assembly materialized.
type GraphAssembly struct{}

func (GraphAssembly) Name() string { return StepGraphAssembly }

func (GraphAssembly) Run(ctx context.Context, rc *RunContext) (Outcome, error) {
	in, err := graphInput(ctx, rc)
	if err != nil {
		return Outcome{}, err
	}
	g := kg.Assemble(in)
	runID := rc.Run.ID
	nodes, edges := g.Rows(&runID)

	inserted, err := rc.Store.UpsertKGNodes(ctx, nodes)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to upsert graph nodes: %w", err)
	}
	existing, err := storedStructuralEdges(ctx, rc, edges)
	if err != nil {
		return Outcome{}, err
	}

	var toWrite []types.KGEdge
	structural, links := 0, 0
	for _, e := range edges {
		switch {
		case e.Class == kg.ClassLink:
			links++
		case !existing[structuralKey(e)]:
			structural++
		default:
			continue
		}
		toWrite = append(toWrite, e)
	}

	if len(inserted) == 0 && len(toWrite) == 0 {
		return skipped(ReasonSentinel, map[string]any{"nodes": len(nodes)}), nil
	}
	if len(toWrite) > 0 {
		if err := rc.Store.InsertKGEdges(ctx, toWrite); err != nil {
			return Outcome{}, fmt.Errorf("failed to insert graph edges: %w", err)
		}
	}

	kinds := map[string]int{}
	for _, n := range nodes {
		kinds[n.Type]++
	}
	return Outcome{Summary: map[string]any{
		"nodes":            len(nodes),
		"nodes_inserted":   len(inserted),
		"structural_edges": structural,
		"link_edges":       links,
		"node_kinds":       kinds,
	}}, nil
}

type edgeKey struct{ src, dst, typ string }

func structuralKey(e types.KGEdge) edgeKey { return edgeKey{e.Src, e.Dst, e.Type} }

// storedStructuralEdges loads the structural edges already leaving every
// source node the assembled graph writes from.
func storedStructuralEdges(ctx context.Context, rc *RunContext, edges []types.KGEdge) (map[edgeKey]bool, error) {
	sources := map[string]bool{}
	for _, e := range edges {
		if e.Class != kg.ClassLink {
			sources[e.Src] = true
		}
	}
	out := map[edgeKey]bool{}
	for src := range sources {
		stored, err := rc.Store.ListKGEdges(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("failed to list graph edges: %w", err)
		}
		for _, e := range stored {
			if e.Class != kg.ClassLink && e.Src == src {
				out[structuralKey(e)] = true
			}
		}
	}
	return out, nil
}

func graphInput(ctx context.Context, rc *RunContext) (kg.Input, error) {
	in := kg.Input{Document: rc.Document}
	var err error

	if in.Chunks, err = rc.Store.ListChunks(ctx, rc.Document.ID); err != nil {
		return in, fmt.Errorf("failed to list chunks: %w", err)
	}
	if in.VisualAssets, err = rc.Store.ListVisualAssets(ctx, rc.Document.ID); err != nil {
		return in, fmt.Errorf("failed to list visual assets: %w", err)
	}
	if in.Policy, err = rc.Store.LoadPolicyStructure(ctx, rc.Document.ID); err != nil {
		return in, fmt.Errorf("failed to load policy structure: %w", err)
	}
	if in.Proposals, err = rc.Store.ListLinkProposals(ctx, rc.Document.ID); err != nil {
		return in, fmt.Errorf("failed to list link proposals: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(in.Proposals))
	spatialIDs := map[uuid.UUID]bool{}
	for _, p := range in.Proposals {
		ids = append(ids, p.ID)
		if p.Kind == types.LinkSpatialPolicy {
			spatialIDs[p.SourceID] = true
		}
	}
	if len(ids) > 0 {
		if in.Materialized, err = rc.Store.MaterializedProposals(ctx, ids); err != nil {
			return in, fmt.Errorf("failed to check materialized proposals: %w", err)
		}
	}

	// Only spatial features a proposal points at belong to this document's graph.
	if len(spatialIDs) > 0 {
		features, err := rc.Store.ListSpatialFeatures(ctx, rc.Document.Authority, "")
		if err != nil {
			return in, fmt.Errorf("failed to list spatial features: %w", err)
		}
		for _, f := range features {
			if spatialIDs[f.ID] {
				in.Spatial = append(in.Spatial, f)
			}
		}
	}
	return in, nil
}
