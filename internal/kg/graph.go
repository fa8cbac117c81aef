// Package kg assembles the knowledge graph from persisted ingestion artifacts.
//
// The graph is an arena of nodes and edges plus an index from node id to arena
// slot. Node ids are <type>::<uuid>, so the mapping from a relational row to
// its vertex can be recomputed at any time.
package kg

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/types"
)

// Kind is a node type
type Kind string

// Node kinds
const (
	KindDocument         Kind = "Document"
	KindChunk            Kind = "Chunk"
	KindVisualAsset      Kind = "VisualAsset"
	KindPolicySection    Kind = "PolicySection"
	KindPolicyClause     Kind = "PolicyClause"
	KindPolicyDefinition Kind = "PolicyDefinition"
	KindPolicyTarget     Kind = "PolicyTarget"
	KindMonitoringHook   Kind = "MonitoringHook"
	KindSpatialFeature   Kind = "SpatialFeature"
)

var prefixes = map[Kind]string{
	KindDocument:         "doc",
	KindChunk:            "chunk",
	KindVisualAsset:      "visual_asset",
	KindPolicySection:    "policy_section",
	KindPolicyClause:     "policy_clause",
	KindPolicyDefinition: "policy_definition",
	KindPolicyTarget:     "policy_target",
	KindMonitoringHook:   "monitoring_hook",
	KindSpatialFeature:   "spatial_feature",
}

// unitKinds maps embedding/link unit types to node kinds
var unitKinds = map[string]Kind{
	types.UnitChunk:         KindChunk,
	types.UnitVisualAsset:   KindVisualAsset,
	types.UnitPolicySection: KindPolicySection,
	types.UnitPolicyClause:  KindPolicyClause,
	"spatial_feature":       KindSpatialFeature,
}

// NodeID is a namespaced vertex id
type NodeID string

// NodeIDFor derives the node id of an entity
func NodeIDFor(kind Kind, id uuid.UUID) NodeID {
	prefix, ok := prefixes[kind]
	if !ok {
		prefix = strings.ToLower(string(kind))
	}
	return NodeID(prefix + "::" + id.String())
}

// KindForUnit maps a unit type such as "policy_section" to its node kind
func KindForUnit(unitType string) (Kind, bool) {
	k, ok := unitKinds[unitType]
	return k, ok
}

// ParseNodeID splits a node id into its prefix and entity id
func ParseNodeID(id NodeID) (prefix string, entity uuid.UUID, err error) {
	p, rest, ok := strings.Cut(string(id), "::")
	if !ok {
		return "", uuid.Nil, fmt.Errorf("invalid node id %q", id)
	}
	entity, err = uuid.Parse(rest)
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("invalid node id %q: %w", id, err)
	}
	return p, entity, nil
}

// Edge classes
const (
	ClassStructural = "structural"
	ClassLink       = "link"
)

// Edge types
const (
	EdgeContains = "CONTAINS"
	EdgeDefines  = "DEFINES"
	EdgeSets     = "SETS_TARGET"
	EdgeMonitors = "MONITORED_BY"
)

// Node is a vertex in the arena
type Node struct {
	ID          NodeID
	Kind        Kind
	CanonicalFK uuid.UUID
	Props       map[string]any
}

// Edge is a relationship in the arena. Endpoints are arena slots.
type Edge struct {
	Src, Dst      int
	Type          string
	Class         string
	ResolveMethod string
	Confidence    *float64
	Rationale     string
	EvidenceRef   string
	ProposalID    *uuid.UUID
}

// Graph is an arena of nodes and edges with an id index
type Graph struct {
	Nodes []Node
	Edges []Edge
	index map[NodeID]int
}

// New creates an empty graph
func New() *Graph {
	return &Graph{index: make(map[NodeID]int)}
}

// AddNode inserts a node unless its id is already present and returns its slot
func (g *Graph) AddNode(kind Kind, id uuid.UUID, props map[string]any) int {
	nid := NodeIDFor(kind, id)
	if slot, ok := g.index[nid]; ok {
		return slot
	}
	g.Nodes = append(g.Nodes, Node{ID: nid, Kind: kind, CanonicalFK: id, Props: props})
	slot := len(g.Nodes) - 1
	g.index[nid] = slot
	return slot
}

// Lookup returns the arena slot of a node id
func (g *Graph) Lookup(id NodeID) (int, bool) {
	slot, ok := g.index[id]
	return slot, ok
}

// Node returns the node with the given id
func (g *Graph) Node(id NodeID) (*Node, bool) {
	slot, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return &g.Nodes[slot], true
}

// AddEdge appends an edge; edges are never deduplicated
func (g *Graph) AddEdge(e Edge) {
	g.Edges = append(g.Edges, e)
}

// NodesOfKind returns the nodes of one kind in insertion order
func (g *Graph) NodesOfKind(kind Kind) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

// Neighbors returns the slots reachable over outgoing edges of slot
func (g *Graph) Neighbors(slot int) []int {
	var out []int
	for _, e := range g.Edges {
		if e.Src == slot {
			out = append(out, e.Dst)
		}
	}
	return out
}

// Rows converts the arena into persistable node and edge rows
func (g *Graph) Rows(runID *uuid.UUID) ([]types.KGNode, []types.KGEdge) {
	nodes := make([]types.KGNode, len(g.Nodes))
	for i, n := range g.Nodes {
		nodes[i] = types.KGNode{
			ID:          string(n.ID),
			Type:        string(n.Kind),
			Props:       n.Props,
			CanonicalFK: n.CanonicalFK.String(),
		}
	}
	edges := make([]types.KGEdge, len(g.Edges))
	for i, e := range g.Edges {
		edges[i] = types.KGEdge{
			ID:            uuid.New(),
			Src:           string(g.Nodes[e.Src].ID),
			Dst:           string(g.Nodes[e.Dst].ID),
			Type:          e.Type,
			Class:         e.Class,
			ResolveMethod: e.ResolveMethod,
			Confidence:    e.Confidence,
			Rationale:     e.Rationale,
			EvidenceRef:   e.EvidenceRef,
			ProposalID:    e.ProposalID,
			RunID:         runID,
		}
	}
	return nodes, edges
}
