// Package memstore is an in-memory store.Store with the same uniqueness rules as
// the Postgres store. It backs tests and --dry-run local runs.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/store"
	"github.com/jonathan/planning-ingest/internal/types"
)

var _ store.Store = (*Store)(nil)

type docKey struct {
	authority, cycle, hash string
}

type embKey struct {
	unitType string
	unitID   uuid.UUID
	modelID  string
}

// Store is an in-memory implementation of store.Store
type Store struct {
	mu     sync.RWMutex
	writes int

	batches   map[uuid.UUID]types.IngestBatch
	runs      map[uuid.UUID]types.Run
	runOrder  []uuid.UUID
	steps     map[uuid.UUID][]types.RunStep
	toolRuns  []types.ToolRun
	documents map[uuid.UUID]types.Document
	docIndex  map[docKey]uuid.UUID
	bundles   map[uuid.UUID]types.ParseBundle

	pages      []types.Page
	chunks     []types.Chunk
	evidence   map[string]types.EvidenceRef
	assets     []types.VisualAsset
	masks      []types.SegmentationMask
	regions    []types.VisualAssetRegion
	vectors    []types.VectorPath
	transforms []types.Transform
	policy     map[uuid.UUID]*types.PolicyStructure
	embeddings map[embKey]types.UnitEmbedding
	proposals  []types.LinkProposal
	nodes      map[string]types.KGNode
	nodeOrder  []string
	edges      []types.KGEdge
	spatial    []types.SpatialFeature
	locks      map[uuid.UUID]bool
}

// New creates an empty store
func New() *Store {
	return &Store{
		batches:    make(map[uuid.UUID]types.IngestBatch),
		runs:       make(map[uuid.UUID]types.Run),
		steps:      make(map[uuid.UUID][]types.RunStep),
		documents:  make(map[uuid.UUID]types.Document),
		docIndex:   make(map[docKey]uuid.UUID),
		bundles:    make(map[uuid.UUID]types.ParseBundle),
		evidence:   make(map[string]types.EvidenceRef),
		policy:     make(map[uuid.UUID]*types.PolicyStructure),
		embeddings: make(map[embKey]types.UnitEmbedding),
		nodes:      make(map[string]types.KGNode),
		locks:      make(map[uuid.UUID]bool),
	}
}

// Writes returns the number of mutating calls that changed state
func (s *Store) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

// -----------------------------------------------------------------------------
// Batches and runs
// -----------------------------------------------------------------------------

func (s *Store) CreateBatch(ctx context.Context, authority, source string) (*types.IngestBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := types.IngestBatch{
		ID:        uuid.New(),
		Authority: authority,
		Source:    source,
		Status:    types.BatchStatusRunning,
		CreatedAt: time.Now(),
	}
	s.batches[b.ID] = b
	s.writes++
	return &b, nil
}

func (s *Store) CompleteBatch(ctx context.Context, batchID uuid.UUID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[batchID]
	if !ok {
		return fmt.Errorf("batch not found: %s", batchID)
	}
	now := time.Now()
	b.Status = status
	b.CompletedAt = &now
	s.batches[batchID] = b
	s.writes++
	return nil
}

func (s *Store) CreateRun(ctx context.Context, batchID uuid.UUID, pipelineVersion string, models map[string]string) (*types.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := types.Run{
		ID:              uuid.New(),
		BatchID:         batchID,
		PipelineVersion: pipelineVersion,
		Models:          models,
		Status:          types.RunStatusRunning,
		CreatedAt:       time.Now(),
	}
	s.runs[r.ID] = r
	s.runOrder = append(s.runOrder, r.ID)
	s.writes++
	return &r, nil
}

func (s *Store) SetRunDocument(ctx context.Context, runID, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	r.DocumentID = &documentID
	s.runs[runID] = r
	s.writes++
	return nil
}

func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *Store) UpdateRunStatus(ctx context.Context, runID uuid.UUID, status string, errorMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run not found: %s", runID)
	}
	r.Status = status
	r.ErrorMessage = errorMsg
	r.CompletedAt = nil
	if r.Terminal() {
		now := time.Now()
		r.CompletedAt = &now
	}
	s.runs[runID] = r
	s.writes++
	return nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]types.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Run
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		out = append(out, s.runs[s.runOrder[i]])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Run steps
// -----------------------------------------------------------------------------

func (s *Store) stepIndex(runID uuid.UUID, step string) int {
	for i, st := range s.steps[runID] {
		if st.Step == step {
			return i
		}
	}
	return -1
}

func (s *Store) StartRunStep(ctx context.Context, runID uuid.UUID, step, category string) (*types.RunStep, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	i := s.stepIndex(runID, step)
	if i < 0 {
		s.steps[runID] = append(s.steps[runID], types.RunStep{ID: uuid.New(), RunID: runID, Step: step})
		i = len(s.steps[runID]) - 1
	}
	st := &s.steps[runID][i]
	st.Category = category
	st.Status = types.StepStatusRunning
	st.Attempts++
	st.StartedAt = &now
	st.EndedAt = nil
	st.DurationMs = nil
	st.ErrorMessage = nil
	st.UpdatedAt = now
	s.writes++
	out := *st
	return &out, nil
}

func (s *Store) FinishRunStep(ctx context.Context, runID uuid.UUID, step, category, status string, summary map[string]any, errorMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	i := s.stepIndex(runID, step)
	if i < 0 {
		s.steps[runID] = append(s.steps[runID], types.RunStep{ID: uuid.New(), RunID: runID, Step: step, Category: category})
		i = len(s.steps[runID]) - 1
	}
	st := &s.steps[runID][i]
	st.Status = status
	st.Summary = summary
	st.ErrorMessage = errorMsg
	st.EndedAt = &now
	st.UpdatedAt = now
	if st.StartedAt != nil {
		d := int(now.Sub(*st.StartedAt).Milliseconds())
		st.DurationMs = &d
	}
	s.writes++
	return nil
}

func (s *Store) GetRunStep(ctx context.Context, runID uuid.UUID, step string) (*types.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.stepIndex(runID, step)
	if i < 0 {
		return nil, nil
	}
	out := s.steps[runID][i]
	return &out, nil
}

func (s *Store) ListRunSteps(ctx context.Context, runID uuid.UUID) ([]types.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.RunStep(nil), s.steps[runID]...), nil
}

// -----------------------------------------------------------------------------
// Tool runs
// -----------------------------------------------------------------------------

func (s *Store) toolRun(id uuid.UUID) *types.ToolRun {
	for i := range s.toolRuns {
		if s.toolRuns[i].ID == id {
			return &s.toolRuns[i]
		}
	}
	return nil
}

func (s *Store) InsertToolRun(ctx context.Context, tr *types.ToolRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.toolRun(tr.ID) != nil {
		return fmt.Errorf("tool run already exists: %s", tr.ID)
	}
	s.toolRuns = append(s.toolRuns, *tr)
	s.writes++
	return nil
}

func (s *Store) MergeToolRunOutputs(ctx context.Context, id uuid.UUID, outputs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := s.toolRun(id)
	if tr == nil || tr.Status != types.ToolRunStatusRunning {
		return nil
	}
	tr.Outputs = mergeMaps(tr.Outputs, outputs)
	s.writes++
	return nil
}

func (s *Store) FinishToolRun(ctx context.Context, id uuid.UUID, status string, outputs map[string]any, confidence, uncertainty *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := s.toolRun(id)
	if tr == nil || tr.Status != types.ToolRunStatusRunning {
		return nil
	}
	now := time.Now()
	tr.Status = status
	tr.Outputs = mergeMaps(tr.Outputs, outputs)
	tr.ConfidenceHint = confidence
	tr.UncertaintyNote = uncertainty
	tr.EndedAt = &now
	s.writes++
	return nil
}

func (s *Store) GetToolRun(ctx context.Context, id uuid.UUID) (*types.ToolRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr := s.toolRun(id)
	if tr == nil {
		return nil, nil
	}
	out := *tr
	out.Outputs = mergeMaps(nil, tr.Outputs)
	return &out, nil
}

func (s *Store) ListToolRuns(ctx context.Context, runID uuid.UUID) ([]types.ToolRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ToolRun
	for _, tr := range s.toolRuns {
		if tr.RunID != nil && *tr.RunID == runID {
			out = append(out, tr)
		}
	}
	return out, nil
}

func mergeMaps(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		out[k] = v
	}
	return out
}

// -----------------------------------------------------------------------------
// Documents and parse bundles
// -----------------------------------------------------------------------------

func (s *Store) UpsertDocument(ctx context.Context, doc *types.Document) (*types.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey{doc.Authority, doc.PlanCycle, doc.ContentHash}
	if id, ok := s.docIndex[key]; ok {
		existing := s.documents[id]
		return &existing, false, nil
	}
	d := *doc
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	s.documents[d.ID] = d
	s.docIndex[key] = d.ID
	s.writes++
	return &d, true, nil
}

func (s *Store) GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *Store) InsertParseBundle(ctx context.Context, pb *types.ParseBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bundles[pb.DocumentID]; ok {
		return nil
	}
	b := *pb
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	s.bundles[pb.DocumentID] = b
	s.writes++
	return nil
}

func (s *Store) GetParseBundle(ctx context.Context, documentID uuid.UUID) (*types.ParseBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[documentID]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

// -----------------------------------------------------------------------------
// Canonical text
// -----------------------------------------------------------------------------

func (s *Store) CountPages(ctx context.Context, documentID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.pages {
		if p.DocumentID == documentID {
			n++
		}
	}
	return n, nil
}

func (s *Store) SaveCanonical(ctx context.Context, set *types.CanonicalSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, set.Chunks...)
	s.assets = append(s.assets, set.VisualAssets...)
	for _, r := range set.EvidenceRefs {
		if _, ok := s.evidence[r.Ref]; !ok {
			s.evidence[r.Ref] = r
		}
	}
	s.pages = append(s.pages, set.Pages...)
	s.writes++
	return nil
}

func (s *Store) ListChunks(ctx context.Context, documentID uuid.UUID) ([]types.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Chunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (s *Store) InsertEvidenceRefs(ctx context.Context, refs []types.EvidenceRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := false
	for _, r := range refs {
		if _, ok := s.evidence[r.Ref]; ok {
			continue
		}
		s.evidence[r.Ref] = r
		changed = true
	}
	if changed {
		s.writes++
	}
	return nil
}

// EvidenceRefCount returns the number of stored evidence references
func (s *Store) EvidenceRefCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.evidence)
}

// -----------------------------------------------------------------------------
// Visual assets, masks, vectors, transforms
// -----------------------------------------------------------------------------

func (s *Store) ListVisualAssets(ctx context.Context, documentID uuid.UUID) ([]types.VisualAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.VisualAsset
	for _, a := range s.assets {
		if a.DocumentID == documentID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) UpdateVisualAssetMetadata(ctx context.Context, assetID uuid.UUID, meta types.VisualAssetMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.assets {
		if s.assets[i].ID == assetID {
			s.assets[i].Metadata = meta
			s.writes++
			return nil
		}
	}
	return fmt.Errorf("visual asset not found: %s", assetID)
}

func (s *Store) SaveSegmentation(ctx context.Context, seg *types.AssetSegmentation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i := range s.assets {
		if s.assets[i].ID == seg.AssetID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("visual asset not found: %s", seg.AssetID)
	}
	now := time.Now()
	for _, m := range seg.Masks {
		m.CreatedAt = now
		s.masks = append(s.masks, m)
	}
	s.regions = append(s.regions, seg.Regions...)
	for _, r := range seg.EvidenceRefs {
		if _, ok := s.evidence[r.Ref]; !ok {
			s.evidence[r.Ref] = r
		}
	}
	s.assets[idx].Metadata = seg.Metadata
	s.writes++
	return nil
}

func (s *Store) ListMasks(ctx context.Context, documentID uuid.UUID) ([]types.SegmentationMask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.SegmentationMask
	for _, m := range s.masks {
		if m.DocumentID == documentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) ListRegions(ctx context.Context, assetID uuid.UUID) ([]types.VisualAssetRegion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.VisualAssetRegion
	for _, r := range s.regions {
		if r.AssetID == assetID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) SaveVectorization(ctx context.Context, maskID uuid.UUID, paths []types.VectorPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.masks {
		if s.masks[i].ID == maskID {
			n := len(paths)
			s.masks[i].VectorCount = &n
			s.vectors = append(s.vectors, paths...)
			s.writes++
			return nil
		}
	}
	return fmt.Errorf("mask not found: %s", maskID)
}

func (s *Store) ListVectorPaths(ctx context.Context, documentID uuid.UUID) ([]types.VectorPath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.VectorPath
	for _, v := range s.vectors {
		if v.DocumentID == documentID {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *Store) InsertTransform(ctx context.Context, t *types.Transform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr := *t
	tr.CreatedAt = time.Now()
	s.transforms = append(s.transforms, tr)
	s.writes++
	return nil
}

func (s *Store) GetTransform(ctx context.Context, assetID uuid.UUID) (*types.Transform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.transforms) - 1; i >= 0; i-- {
		if s.transforms[i].AssetID == assetID {
			t := s.transforms[i]
			return &t, nil
		}
	}
	return nil, nil
}

// -----------------------------------------------------------------------------
// Policy structure
// -----------------------------------------------------------------------------

func (s *Store) CountPolicySections(ctx context.Context, documentID uuid.UUID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if ps, ok := s.policy[documentID]; ok {
		return len(ps.Sections), nil
	}
	return 0, nil
}

func (s *Store) SavePolicyStructure(ctx context.Context, ps *types.PolicyStructure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sec := range ps.Sections {
		cur := s.policyFor(sec.DocumentID)
		cur.Sections = append(cur.Sections, sec)
	}
	for _, c := range ps.Clauses {
		cur := s.policyFor(c.DocumentID)
		cur.Clauses = append(cur.Clauses, c)
	}
	for _, d := range ps.Definitions {
		cur := s.policyFor(d.DocumentID)
		cur.Definitions = append(cur.Definitions, d)
	}
	for _, t := range ps.Targets {
		cur := s.policyFor(t.DocumentID)
		cur.Targets = append(cur.Targets, t)
	}
	for _, h := range ps.Hooks {
		cur := s.policyFor(h.DocumentID)
		cur.Hooks = append(cur.Hooks, h)
	}
	s.writes++
	return nil
}

func (s *Store) policyFor(documentID uuid.UUID) *types.PolicyStructure {
	ps, ok := s.policy[documentID]
	if !ok {
		ps = &types.PolicyStructure{}
		s.policy[documentID] = ps
	}
	return ps
}

func (s *Store) LoadPolicyStructure(ctx context.Context, documentID uuid.UUID) (*types.PolicyStructure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ps, ok := s.policy[documentID]
	if !ok {
		return &types.PolicyStructure{}, nil
	}
	out := types.PolicyStructure{
		Sections:    append([]types.PolicySection(nil), ps.Sections...),
		Clauses:     append([]types.PolicyClause(nil), ps.Clauses...),
		Definitions: append([]types.PolicyDefinition(nil), ps.Definitions...),
		Targets:     append([]types.PolicyTarget(nil), ps.Targets...),
		Hooks:       append([]types.MonitoringHook(nil), ps.Hooks...),
	}
	return &out, nil
}

// -----------------------------------------------------------------------------
// Embeddings
// -----------------------------------------------------------------------------

func (s *Store) UpsertUnitEmbeddings(ctx context.Context, embs []types.UnitEmbedding) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, e := range embs {
		key := embKey{e.UnitType, e.UnitID, e.ModelID}
		if _, ok := s.embeddings[key]; ok {
			continue
		}
		e.CreatedAt = time.Now()
		s.embeddings[key] = e
		inserted++
	}
	if inserted > 0 {
		s.writes++
	}
	return inserted, nil
}

func (s *Store) EmbeddedUnits(ctx context.Context, unitType, modelID string, unitIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]bool)
	for _, id := range unitIDs {
		if _, ok := s.embeddings[embKey{unitType, id, modelID}]; ok {
			out[id] = true
		}
	}
	return out, nil
}

func (s *Store) CountUnitEmbeddings(ctx context.Context, unitType, modelID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for k := range s.embeddings {
		if k.unitType == unitType && k.modelID == modelID {
			n++
		}
	}
	return n, nil
}

// -----------------------------------------------------------------------------
// Link proposals and knowledge graph
// -----------------------------------------------------------------------------

func (s *Store) InsertLinkProposals(ctx context.Context, proposals []types.LinkProposal) error {
	if len(proposals) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.proposals = append(s.proposals, proposals...)
	s.writes++
	return nil
}

func (s *Store) ListLinkProposals(ctx context.Context, documentID uuid.UUID) ([]types.LinkProposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.LinkProposal
	for _, p := range s.proposals {
		if p.DocumentID == documentID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) UpsertKGNodes(ctx context.Context, nodes []types.KGNode) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted []string
	for _, n := range nodes {
		if _, ok := s.nodes[n.ID]; ok {
			continue
		}
		n.CreatedAt = time.Now()
		s.nodes[n.ID] = n
		s.nodeOrder = append(s.nodeOrder, n.ID)
		inserted = append(inserted, n.ID)
	}
	if len(inserted) > 0 {
		s.writes++
	}
	return inserted, nil
}

func (s *Store) InsertKGEdges(ctx context.Context, edges []types.KGEdge) error {
	if len(edges) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, e := range edges {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.CreatedAt = now
		s.edges = append(s.edges, e)
	}
	s.writes++
	return nil
}

func (s *Store) ListKGNodes(ctx context.Context, nodeType string) ([]types.KGNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.KGNode
	for _, id := range s.nodeOrder {
		n := s.nodes[id]
		if nodeType == "" || n.Type == nodeType {
			out = append(out, n)
		}
	}
	return out, nil
}

func (s *Store) ListKGEdges(ctx context.Context, nodeID string) ([]types.KGEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.KGEdge
	for _, e := range s.edges {
		if nodeID == "" || e.Src == nodeID || e.Dst == nodeID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) MaterializedProposals(ctx context.Context, proposalIDs []uuid.UUID) (map[uuid.UUID]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	want := make(map[uuid.UUID]bool, len(proposalIDs))
	for _, id := range proposalIDs {
		want[id] = true
	}
	out := make(map[uuid.UUID]bool)
	for _, e := range s.edges {
		if e.ProposalID != nil && want[*e.ProposalID] {
			out[*e.ProposalID] = true
		}
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Spatial features
// -----------------------------------------------------------------------------

func (s *Store) CountActiveSpatialFeatures(ctx context.Context, authority string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, f := range s.spatial {
		if f.Authority == authority && f.Active {
			n++
		}
	}
	return n, nil
}

func (s *Store) DeactivateSpatialFeatures(ctx context.Context, authority string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for i := range s.spatial {
		if s.spatial[i].Authority == authority && s.spatial[i].Active {
			s.spatial[i].Active = false
			n++
		}
	}
	if n > 0 {
		s.writes++
	}
	return n, nil
}

func (s *Store) InsertSpatialFeatures(ctx context.Context, features []types.SpatialFeature) error {
	if len(features) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, f := range features {
		f.CreatedAt = now
		s.spatial = append(s.spatial, f)
	}
	s.writes++
	return nil
}

func (s *Store) ListSpatialFeatures(ctx context.Context, authority, kind string) ([]types.SpatialFeature, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.SpatialFeature
	for _, f := range s.spatial {
		if f.Authority != authority || !f.Active {
			continue
		}
		if kind != "" && f.Kind != kind {
			continue
		}
		out = append(out, f)
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Locking
// -----------------------------------------------------------------------------

func (s *Store) TryLockDocument(ctx context.Context, documentID uuid.UUID) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[documentID] {
		return nil, false, nil
	}
	s.locks[documentID] = true
	var once sync.Once
	release := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.locks, documentID)
			s.mu.Unlock()
		})
	}
	return release, true, nil
}
