package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultGeminiConfig(t *testing.T) {
	config := DefaultGeminiConfig()

	assert.Equal(t, ProviderGemini, config.Provider)
	assert.Equal(t, "gemini-2.5-flash-lite", config.GetModel(TierLite))
	assert.Equal(t, "gemini-2.5-flash", config.GetModel(TierStandard))
	assert.Equal(t, "gemini-2.5-pro", config.GetModel(TierAdvanced))
	assert.Equal(t, 768, config.EmbeddingDimension)
}

func TestGetModel(t *testing.T) {
	tests := []struct {
		name   string
		models map[ModelTier]string
		tier   ModelTier
		want   string
	}{
		{"exact", map[ModelTier]string{TierAdvanced: "pro", TierStandard: "flash"}, TierAdvanced, "pro"},
		{"falls back to standard", map[ModelTier]string{TierStandard: "flash", TierLite: "lite"}, TierAdvanced, "flash"},
		{"falls back to lite", map[ModelTier]string{TierLite: "lite"}, "unknown", "lite"},
		{"empty model skipped", map[ModelTier]string{TierAdvanced: "", TierLite: "lite"}, TierAdvanced, "lite"},
		{"nothing configured", map[ModelTier]string{}, TierAdvanced, ""},
		{"nil map", nil, TierStandard, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Config{Models: tt.models}
			assert.Equal(t, tt.want, c.GetModel(tt.tier))
		})
	}
}

func TestBindings(t *testing.T) {
	b := DefaultGeminiConfig().Bindings()
	assert.Equal(t, "gemini", b["provider"])
	assert.Equal(t, "gemini-2.5-flash", b["llm_standard"])
	assert.Equal(t, "text-embedding-004", b["embedding"])
}

func TestTierOf(t *testing.T) {
	assert.Equal(t, TierStandard, tierOf(nil))
	assert.Equal(t, TierLite, tierOf(map[string]any{"tier": "lite"}))
	assert.Equal(t, TierAdvanced, tierOf(map[string]any{"tier": TierAdvanced}))
	assert.Equal(t, TierStandard, tierOf(map[string]any{"tier": 3}))
}
