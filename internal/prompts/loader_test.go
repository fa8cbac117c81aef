package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	p, err := Render(ExtractPolicyStructure, map[string]string{
		"Title":     "Camden Local Plan",
		"Authority": "camden",
		"Blocks":    "[page 1] [Housing] Policy H1",
	})
	require.NoError(t, err)
	assert.Contains(t, p.System, "planning policy")
	assert.Contains(t, p.User, "Document: Camden Local Plan")
	assert.Contains(t, p.User, "Authority: camden")
	assert.Contains(t, p.User, "[page 1] [Housing] Policy H1")
	assert.NotContains(t, p.User, "{{.")
}

func TestRender_UnknownPrompt(t *testing.T) {
	_, err := Render("nonexistent", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestRender_MissingData(t *testing.T) {
	_, err := Render(ClassifyAsset, map[string]string{"Caption": "Figure 3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{{.AssetTypes}}")
}

func TestMustRender_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustRender("nonexistent", nil)
	})
}

func TestEveryPromptRenders(t *testing.T) {
	data := map[string]map[string]string{
		ExtractPolicyStructure: {"Title": "t", "Authority": "a", "Blocks": "b"},
		ClassifyAsset:          {"Caption": "c", "AssetTypes": "site_plan, other"},
		ProposeLinks:           {"Assets": "0. map", "Sections": "0. H1 Housing"},
	}

	names, err := Names()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{ExtractPolicyStructure, ClassifyAsset, ProposeLinks}, names)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			p, err := Render(name, data[name])
			require.NoError(t, err)
			assert.NotEmpty(t, p.System)
			assert.NotEmpty(t, p.User)
		})
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		name     string
		template string
		data     map[string]string
		want     string
	}{
		{"single", "Hello {{.Name}}", map[string]string{"Name": "Camden"}, "Hello Camden"},
		{"repeated", "{{.A}}-{{.A}}", map[string]string{"A": "x"}, "x-x"},
		{"unknown key left alone", "{{.B}}", map[string]string{"A": "x"}, "{{.B}}"},
		{"value not re-expanded", "{{.A}}", map[string]string{"A": "{{.B}}", "B": "y"}, "{{.B}}"},
		{"nil data", "plain", nil, "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Format(tt.template, tt.data))
		})
	}
}
