package kg

import (
	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/types"
)

// Input is everything already persisted for one document
type Input struct {
	Document     *types.Document
	Chunks       []types.Chunk
	VisualAssets []types.VisualAsset
	Policy       *types.PolicyStructure
	Spatial      []types.SpatialFeature
	Proposals    []types.LinkProposal
	// Materialized lists proposals that already have edges; they are not
	// emitted again.
	Materialized map[uuid.UUID]bool
}

// Assemble derives the graph. It is a pure function of its input: every
// entity yields one node, every non-root node one structural edge to its
// parent, and every accepted, unmaterialized proposal one link edge.
func Assemble(in Input) *Graph {
	g := New()
	if in.Document == nil {
		return g
	}

	doc := g.AddNode(KindDocument, in.Document.ID, map[string]any{
		"authority": in.Document.Authority,
		"filename":  in.Document.Filename,
		"title":     in.Document.Metadata.Title,
	})

	for _, c := range in.Chunks {
		slot := g.AddNode(KindChunk, c.ID, map[string]any{
			"seq":          c.Seq,
			"page_number":  c.PageNumber,
			"block_type":   c.BlockType,
			"section_path": c.SectionPath,
			"evidence_ref": c.EvidenceRef,
		})
		g.AddEdge(structural(doc, slot, EdgeContains, c.EvidenceRef))
	}

	for _, a := range in.VisualAssets {
		props := map[string]any{
			"page_number":  a.PageNumber,
			"blob_path":    a.BlobPath,
			"caption":      a.Metadata.Caption,
			"evidence_ref": a.EvidenceRef,
		}
		if t := a.Metadata.AssetType(); t != "" {
			props["asset_type"] = t
		}
		slot := g.AddNode(KindVisualAsset, a.ID, props)
		g.AddEdge(structural(doc, slot, EdgeContains, a.EvidenceRef))
	}

	if in.Policy != nil {
		addPolicy(g, doc, in.Policy)
	}

	for _, f := range in.Spatial {
		g.AddNode(KindSpatialFeature, f.ID, map[string]any{
			"authority":     f.Authority,
			"kind":          f.Kind,
			"layer_name":    f.LayerName,
			"geometry_type": f.GeometryType,
		})
	}

	for _, p := range in.Proposals {
		if !p.Accepted || in.Materialized[p.ID] {
			continue
		}
		addProposal(g, p)
	}
	return g
}

func addPolicy(g *Graph, doc int, ps *types.PolicyStructure) {
	sections := make(map[uuid.UUID]int, len(ps.Sections))
	for _, s := range ps.Sections {
		slot := g.AddNode(KindPolicySection, s.ID, map[string]any{
			"code":       s.Code,
			"title":      s.Title,
			"speech_act": s.SpeechAct.Act,
		})
		sections[s.ID] = slot
		g.AddEdge(structural(doc, slot, EdgeContains, s.EvidenceRef))
	}

	// parent is the owning section when known, else the document
	parent := func(sectionID *uuid.UUID) int {
		if sectionID != nil {
			if slot, ok := sections[*sectionID]; ok {
				return slot
			}
		}
		return doc
	}

	for _, c := range ps.Clauses {
		slot := g.AddNode(KindPolicyClause, c.ID, map[string]any{
			"ref":        c.Ref,
			"speech_act": c.SpeechAct.Act,
		})
		g.AddEdge(structural(parent(&c.SectionID), slot, EdgeContains, ""))
	}
	for _, d := range ps.Definitions {
		slot := g.AddNode(KindPolicyDefinition, d.ID, map[string]any{"term": d.Term})
		g.AddEdge(structural(parent(d.SectionID), slot, EdgeDefines, ""))
	}
	for _, t := range ps.Targets {
		slot := g.AddNode(KindPolicyTarget, t.ID, map[string]any{"metric": t.Metric, "value": t.Value, "deadline": t.Deadline})
		g.AddEdge(structural(parent(t.SectionID), slot, EdgeSets, ""))
	}
	for _, h := range ps.Hooks {
		slot := g.AddNode(KindMonitoringHook, h.ID, map[string]any{"indicator": h.Indicator, "frequency": h.Frequency})
		g.AddEdge(structural(parent(h.SectionID), slot, EdgeMonitors, ""))
	}
}

// addProposal emits one link edge. Proposals whose endpoints are not in the
// graph are dropped.
func addProposal(g *Graph, p types.LinkProposal) {
	srcKind, ok := KindForUnit(p.SourceType)
	if !ok {
		return
	}
	dstKind, ok := KindForUnit(p.TargetType)
	if !ok {
		return
	}
	src, ok := g.Lookup(NodeIDFor(srcKind, p.SourceID))
	if !ok {
		return
	}
	dst, ok := g.Lookup(NodeIDFor(dstKind, p.TargetID))
	if !ok {
		return
	}

	relation := p.Relation
	if relation == "" {
		relation = "ILLUSTRATES"
	}
	confidence := p.Confidence
	proposalID := p.ID
	g.AddEdge(Edge{
		Src:           src,
		Dst:           dst,
		Type:          relation,
		Class:         ClassLink,
		ResolveMethod: p.ResolveMethod,
		Confidence:    &confidence,
		Rationale:     p.Rationale,
		EvidenceRef:   p.EvidenceRef,
		ProposalID:    &proposalID,
	})
}

func structural(src, dst int, edgeType, evidence string) Edge {
	return Edge{
		Src:           src,
		Dst:           dst,
		Type:          edgeType,
		Class:         ClassStructural,
		ResolveMethod: types.ResolveStructure,
		EvidenceRef:   evidence,
	}
}
