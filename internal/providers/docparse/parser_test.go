package docparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/types"
)

func TestParse_PlainText(t *testing.T) {
	text := "POLICY H1: HOUSING MIX\nDevelopment must provide\na mix of homes.\n\n- at least 30% affordable\n\fChapter 2 Design\nBuildings should respond to context."

	b, err := New().Parse(context.Background(), providers.ParseRequest{Data: []byte(text), Filename: "plan.txt"})
	require.NoError(t, err)

	assert.Equal(t, SchemaVersion, b.SchemaVersion)
	require.Len(t, b.Pages, 2)
	require.Len(t, b.LayoutBlocks, 5)

	assert.Equal(t, types.BlockHeading, b.LayoutBlocks[0].Type)
	assert.Equal(t, types.BlockParagraph, b.LayoutBlocks[1].Type)
	assert.Equal(t, "Development must provide a mix of homes.", b.LayoutBlocks[1].Text)
	assert.Equal(t, "POLICY H1: HOUSING MIX", b.LayoutBlocks[1].SectionPath)
	assert.Equal(t, types.BlockList, b.LayoutBlocks[2].Type)
	assert.Equal(t, 2, b.LayoutBlocks[3].PageNumber)
	assert.Equal(t, types.BlockHeading, b.LayoutBlocks[3].Type)

	// 2 pages + 5 blocks
	assert.Len(t, b.EvidenceRefs, 7)
	assert.Equal(t, "b0", b.LayoutBlocks[0].ID)
}

func TestParse_HTML(t *testing.T) {
	html := `<html><body>
		<nav>Home</nav>
		<main>
			<h1>Local Plan</h1>
			<h2>Policy E3 Flood Risk</h2>
			<p>Proposals in flood zone 3 will be refused.</p>
			<ul><li>Sequential test applies</li></ul>
			<figure>
				<img src="data:image/png;base64,iVBORw0KGgo=" alt="map">
				<figcaption>Figure 1 Flood zones</figcaption>
			</figure>
		</main>
	</body></html>`

	b, err := New().Parse(context.Background(), providers.ParseRequest{Data: []byte(html), ContentType: "text/html; charset=utf-8"})
	require.NoError(t, err)
	require.Len(t, b.Pages, 1)
	assert.NotContains(t, b.Pages[0].Text, "Home")

	kinds := make([]string, 0, len(b.LayoutBlocks))
	for _, blk := range b.LayoutBlocks {
		kinds = append(kinds, blk.Type)
	}
	assert.Equal(t, []string{types.BlockHeading, types.BlockHeading, types.BlockParagraph, types.BlockList, types.BlockCaption}, kinds)
	assert.Equal(t, "Local Plan > Policy E3 Flood Risk", b.LayoutBlocks[2].SectionPath)

	require.Len(t, b.VisualAssets, 1)
	assert.Equal(t, "image/png", b.VisualAssets[0].ContentType)
	assert.Equal(t, "Figure 1 Flood zones", b.VisualAssets[0].Caption)
}

func TestParse_ImageIsSingleAsset(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n0000")
	b, err := New().Parse(context.Background(), providers.ParseRequest{Data: png, Filename: "site-plan.png", BlobPath: "raw/site-plan.png"})
	require.NoError(t, err)
	require.Len(t, b.VisualAssets, 1)
	assert.Equal(t, "raw/site-plan.png", b.VisualAssets[0].BlobPath)
	assert.Empty(t, b.VisualAssets[0].ImageBase64)
	assert.Equal(t, "site-plan", b.VisualAssets[0].Caption)
	assert.Empty(t, b.LayoutBlocks)
}

func TestParse_BrokenPDFIsMalformed(t *testing.T) {
	_, err := New().Parse(context.Background(), providers.ParseRequest{Data: []byte("%PDF-1.7 garbage"), ContentType: "application/pdf"})
	require.Error(t, err)
	assert.True(t, providers.IsMalformed(err))
}

func TestStreamLines(t *testing.T) {
	stream := []byte("BT\n/F1 12 Tf\n72 700 Td\n(Policy H1) Tj\n0 -14 Td\n[(Housing ) -20 (Mix)] TJ\nT*\n(flood\\040zone) Tj\nET\n")
	assert.Equal(t, []string{"Policy H1", "Housing Mix", "flood zone"}, streamLines(stream))
}

func TestIsHeading(t *testing.T) {
	assert.True(t, isHeading("Policy H1 Housing"))
	assert.True(t, isHeading("3.2 Design principles"))
	assert.True(t, isHeading("STRATEGIC OBJECTIVES"))
	assert.False(t, isHeading("Development must provide homes."))
	assert.False(t, isHeading("a normal sentence without ending"))
}
