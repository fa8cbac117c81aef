package kg

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/types"
)

func fixture() Input {
	doc := &types.Document{ID: uuid.New(), Authority: "testshire", Filename: "plan.pdf"}
	section := types.PolicySection{ID: uuid.New(), DocumentID: doc.ID, Code: "H1", Title: "Housing Mix"}
	asset := types.VisualAsset{ID: uuid.New(), DocumentID: doc.ID, Metadata: types.VisualAssetMetadata{
		Caption:        "Site plan",
		Classification: map[string]any{"asset_type": "site_plan"},
	}}
	return Input{
		Document:     doc,
		Chunks:       []types.Chunk{{ID: uuid.New(), DocumentID: doc.ID, Text: "Policy H1"}},
		VisualAssets: []types.VisualAsset{asset},
		Policy: &types.PolicyStructure{
			Sections:    []types.PolicySection{section},
			Clauses:     []types.PolicyClause{{ID: uuid.New(), SectionID: section.ID, Text: "30% affordable"}},
			Definitions: []types.PolicyDefinition{{ID: uuid.New(), SectionID: &section.ID, Term: "Affordable housing"}},
		},
		Proposals: []types.LinkProposal{{
			ID:            uuid.New(),
			SourceType:    types.UnitVisualAsset,
			SourceID:      asset.ID,
			TargetType:    types.UnitPolicySection,
			TargetID:      section.ID,
			ResolveMethod: types.ResolveLLM,
			Confidence:    0.8,
			Rationale:     "caption mentions housing site",
			Accepted:      true,
		}},
	}
}

func TestNodeIDFor(t *testing.T) {
	id := uuid.MustParse("7d0b5d7e-8a43-4b8f-9a3e-2f1d5c6b7a80")
	assert.Equal(t, NodeID("doc::7d0b5d7e-8a43-4b8f-9a3e-2f1d5c6b7a80"), NodeIDFor(KindDocument, id))
	assert.Equal(t, NodeID("policy_section::7d0b5d7e-8a43-4b8f-9a3e-2f1d5c6b7a80"), NodeIDFor(KindPolicySection, id))

	prefix, got, err := ParseNodeID(NodeIDFor(KindVisualAsset, id))
	require.NoError(t, err)
	assert.Equal(t, "visual_asset", prefix)
	assert.Equal(t, id, got)

	_, _, err = ParseNodeID("nope")
	assert.Error(t, err)
}

func TestAssemble_MinimalDocument(t *testing.T) {
	doc := &types.Document{ID: uuid.New()}
	g := Assemble(Input{Document: doc, Chunks: []types.Chunk{{ID: uuid.New(), DocumentID: doc.ID}}})

	assert.Len(t, g.NodesOfKind(KindDocument), 1)
	assert.Len(t, g.NodesOfKind(KindChunk), 1)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, EdgeContains, g.Edges[0].Type)
	assert.Equal(t, ClassStructural, g.Edges[0].Class)
}

func TestAssemble_Full(t *testing.T) {
	in := fixture()
	g := Assemble(in)

	assert.Len(t, g.Nodes, 6)
	// doc->chunk, doc->asset, doc->section, section->clause, section->definition, asset->section link
	require.Len(t, g.Edges, 6)

	link := g.Edges[len(g.Edges)-1]
	assert.Equal(t, ClassLink, link.Class)
	assert.Equal(t, types.ResolveLLM, link.ResolveMethod)
	require.NotNil(t, link.Confidence)
	assert.InDelta(t, 0.8, *link.Confidence, 1e-9)
	assert.Equal(t, NodeIDFor(KindVisualAsset, in.VisualAssets[0].ID), g.Nodes[link.Src].ID)
	assert.Equal(t, NodeIDFor(KindPolicySection, in.Policy.Sections[0].ID), g.Nodes[link.Dst].ID)

	sectionSlot, ok := g.Lookup(NodeIDFor(KindPolicySection, in.Policy.Sections[0].ID))
	require.True(t, ok)
	assert.Len(t, g.Neighbors(sectionSlot), 2)

	asset, ok := g.Node(NodeIDFor(KindVisualAsset, in.VisualAssets[0].ID))
	require.True(t, ok)
	assert.Equal(t, "site_plan", asset.Props["asset_type"])
}

func TestAssemble_ProposalFiltering(t *testing.T) {
	in := fixture()
	accepted := in.Proposals[0]

	rejected := accepted
	rejected.ID = uuid.New()
	rejected.Accepted = false

	dangling := accepted
	dangling.ID = uuid.New()
	dangling.TargetID = uuid.New()

	in.Proposals = []types.LinkProposal{accepted, rejected, dangling}
	assert.Len(t, linkEdges(Assemble(in)), 1)

	in.Materialized = map[uuid.UUID]bool{accepted.ID: true}
	assert.Empty(t, linkEdges(Assemble(in)))
}

func TestAssemble_DuplicateProposalsYieldTwoEdges(t *testing.T) {
	in := fixture()
	dup := in.Proposals[0]
	dup.ID = uuid.New()
	in.Proposals = append(in.Proposals, dup)

	assert.Len(t, linkEdges(Assemble(in)), 2)
}

func TestAddNode_Idempotent(t *testing.T) {
	g := New()
	id := uuid.New()
	a := g.AddNode(KindChunk, id, nil)
	b := g.AddNode(KindChunk, id, map[string]any{"x": 1})
	assert.Equal(t, a, b)
	assert.Len(t, g.Nodes, 1)
}

func TestRows(t *testing.T) {
	runID := uuid.New()
	nodes, edges := Assemble(fixture()).Rows(&runID)
	require.Len(t, nodes, 6)
	assert.Equal(t, "Document", nodes[0].Type)
	assert.Contains(t, nodes[0].ID, "doc::")
	for _, e := range edges {
		assert.Equal(t, &runID, e.RunID)
		assert.NotEqual(t, uuid.Nil, e.ID)
	}
}

func TestAssemble_NoDocument(t *testing.T) {
	assert.Empty(t, Assemble(Input{}).Nodes)
}

func linkEdges(g *Graph) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Class == ClassLink {
			out = append(out, e)
		}
	}
	return out
}
