package stages

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/jonathan/planning-ingest/internal/prompts"
	"github.com/jonathan/planning-ingest/internal/schemas"
	"github.com/jonathan/planning-ingest/internal/types"
)

// AcceptThreshold is the minimum confidence for a proposal to become an edge
const AcceptThreshold = 0.5

// Relations proposed by link discovery
const (
	RelationIllustrates = "ILLUSTRATES"
	RelationAppliesTo   = "APPLIES_TO"
)

var policyCodePattern = regexp.MustCompile(`(?i)\bpolicy\s+([A-Z]{1,4}\s?\d+[A-Za-z]?)\b`)

type proposedLinks struct {
	Links []struct {
		Asset      int     `json:"asset"`
		Section    int     `json:"section"`
		Relation   string  `json:"relation"`
		Confidence float64 `json:"confidence"`
		Rationale  string  `json:"rationale"`
	} `json:"links"`
}

// LinkDiscovery proposes visual-to-policy links (captions citing a policy
// code, then LLM matching of captions to section titles) and spatial-to-policy
// links (layer names cited in section text). Sentinel: the run already stored
// proposals for the document.
type LinkDiscovery struct{}

func (LinkDiscovery) Name() string { return StepLinkDiscovery }

func (LinkDiscovery) Run(ctx context.Context, rc *RunContext) (Outcome, error) {
	existing, err := rc.Store.ListLinkProposals(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list link proposals: %w", err)
	}
	for _, p := range existing {
		if p.RunID == rc.Run.ID {
			return skipped(ReasonSentinel, map[string]any{"proposals": len(existing)}), nil
		}
	}

	policy, err := rc.Store.LoadPolicyStructure(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load policy structure: %w", err)
	}
	if len(policy.Sections) == 0 {
		return skipped(ReasonNoSections, nil), nil
	}
	assets, err := rc.Store.ListVisualAssets(ctx, rc.Document.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list visual assets: %w", err)
	}
	layers, err := rc.Store.ListSpatialFeatures(ctx, rc.Document.Authority, types.SpatialKindLayerProfile)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to list layer profiles: %w", err)
	}
	if len(assets) == 0 && len(layers) == 0 {
		return skipped(ReasonNoVisualAssets, nil), nil
	}

	proposals := lexicalVisualLinks(rc, assets, policy.Sections)
	proposals = append(proposals, spatialLinks(rc, layers, policy.Sections)...)

	llmLinks := 0
	if rc.LLM != nil && len(assets) > 0 {
		found, err := llmVisualLinks(ctx, rc, assets, policy.Sections)
		if err != nil {
			return Outcome{}, err
		}
		llmLinks = len(found)
		proposals = append(proposals, found...)
	}

	if len(proposals) > 0 {
		if err := rc.Store.InsertLinkProposals(ctx, proposals); err != nil {
			return Outcome{}, fmt.Errorf("failed to insert link proposals: %w", err)
		}
	}
	accepted := 0
	for _, p := range proposals {
		if p.Accepted {
			accepted++
		}
	}
	return Outcome{Summary: map[string]any{
		"proposals": len(proposals),
		"accepted":  accepted,
		"llm":       llmLinks,
	}}, nil
}

func (rc *RunContext) proposal(kind, srcType string, src uuid.UUID, dst uuid.UUID, relation, method string, confidence float64, rationale, evidence string) types.LinkProposal {
	return types.LinkProposal{
		ID:            uuid.New(),
		DocumentID:    rc.Document.ID,
		RunID:         rc.Run.ID,
		Kind:          kind,
		SourceType:    srcType,
		SourceID:      src,
		TargetType:    types.UnitPolicySection,
		TargetID:      dst,
		Relation:      relation,
		ResolveMethod: method,
		Confidence:    confidence,
		Rationale:     rationale,
		EvidenceRef:   evidence,
		Accepted:      confidence >= AcceptThreshold,
	}
}

// lexicalVisualLinks links assets whose caption cites a section's policy code
func lexicalVisualLinks(rc *RunContext, assets []types.VisualAsset, sections []types.PolicySection) []types.LinkProposal {
	byCode := map[string]types.PolicySection{}
	for _, s := range sections {
		if s.Code != "" {
			byCode[normalizeCode(s.Code)] = s
		}
	}
	var out []types.LinkProposal
	for _, a := range assets {
		seen := map[uuid.UUID]bool{}
		for _, m := range policyCodePattern.FindAllStringSubmatch(a.Metadata.Caption, -1) {
			s, ok := byCode[normalizeCode(m[1])]
			if !ok || seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, rc.proposal(types.LinkVisualPolicy, types.UnitVisualAsset, a.ID, s.ID,
				RelationIllustrates, types.ResolveLexical, 1.0,
				fmt.Sprintf("caption cites %s", m[0]), a.EvidenceRef))
		}
	}
	return out
}

// spatialLinks links layer profiles to sections whose text names the layer
func spatialLinks(rc *RunContext, layers []types.SpatialFeature, sections []types.PolicySection) []types.LinkProposal {
	var out []types.LinkProposal
	for _, l := range layers {
		name := strings.ToLower(strings.NewReplacer("_", " ", "-", " ").Replace(l.LayerName))
		if len(name) < 4 {
			continue
		}
		for _, s := range sections {
			if strings.Contains(strings.ToLower(s.Title+" "+s.Text), name) {
				out = append(out, rc.proposal(types.LinkSpatialPolicy, "spatial_feature", l.ID, s.ID,
					RelationAppliesTo, types.ResolveLexical, 0.8,
					fmt.Sprintf("section mentions layer %q", l.LayerName), s.EvidenceRef))
			}
		}
	}
	return out
}

func llmVisualLinks(ctx context.Context, rc *RunContext, assets []types.VisualAsset, sections []types.PolicySection) ([]types.LinkProposal, error) {
	var assetLines, sectionLines strings.Builder
	for i, a := range assets {
		caption := a.Metadata.Caption
		if caption == "" {
			caption = "(no caption)"
		}
		fmt.Fprintf(&assetLines, "%d. page %d, type %s: %s\n", i, a.PageNumber, orDash(a.Metadata.AssetType()), caption)
	}
	for i, s := range sections {
		fmt.Fprintf(&sectionLines, "%d. %s %s\n", i, s.Code, s.Title)
	}

	var out proposedLinks
	err := generate(ctx, rc, structuredCall{
		tool:   "link_discovery",
		schema: schemas.LinkProposals,
		prompt: prompts.MustRender(prompts.ProposeLinks, map[string]string{
			"Assets":   assetLines.String(),
			"Sections": sectionLines.String(),
		}),
		inputs: map[string]any{"assets": len(assets), "sections": len(sections)},
	}, &out)
	if err != nil {
		return nil, err
	}

	var proposals []types.LinkProposal
	for _, l := range out.Links {
		if l.Asset < 0 || l.Asset >= len(assets) || l.Section < 0 || l.Section >= len(sections) {
			rc.logger().Warn("link proposal out of range, dropping", "asset", l.Asset, "section", l.Section)
			continue
		}
		relation := strings.ToUpper(strings.TrimSpace(l.Relation))
		if relation == "" {
			relation = RelationIllustrates
		}
		a := assets[l.Asset]
		proposals = append(proposals, rc.proposal(types.LinkVisualPolicy, types.UnitVisualAsset, a.ID, sections[l.Section].ID,
			relation, types.ResolveLLM, l.Confidence, l.Rationale, a.EvidenceRef))
	}
	return proposals, nil
}

func normalizeCode(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "policy"), " ", ""))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
