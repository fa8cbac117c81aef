// Package llm implements the structured LLM, vision LLM and embedding providers.
// Gemini is the hosted default; OpenAI-compatible endpoints serve local models
// placed by the GPU role scheduler.
package llm

// ModelTier selects a model by how demanding the task is
type ModelTier string

// Tiers. Stages ask for a tier through the "tier" request option.
const (
	TierLite     ModelTier = "lite"     // asset classification, link proposals
	TierStandard ModelTier = "standard" // structural extraction
	TierAdvanced ModelTier = "advanced" // long policy documents
)

// fallbackTiers is tried in order when the requested tier has no model
var fallbackTiers = []ModelTier{TierStandard, TierLite}

// Provider names an LLM backend
type Provider string

const (
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI is any OpenAI-compatible chat completions endpoint.
	ProviderOpenAI Provider = "openai"
)

// Config binds each tier to a model, plus the embedding model
type Config struct {
	Provider           Provider
	Models             map[ModelTier]string
	EmbeddingModel     string
	EmbeddingDimension int
	// BaseURL is the fallback endpoint for OpenAI-compatible providers when
	// the role scheduler assigns none.
	BaseURL string
}

// DefaultGeminiConfig returns the hosted Gemini defaults
func DefaultGeminiConfig() *Config {
	return &Config{
		Provider: ProviderGemini,
		Models: map[ModelTier]string{
			TierLite:     "gemini-2.5-flash-lite",
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		EmbeddingModel:     "text-embedding-004",
		EmbeddingDimension: 768,
	}
}

// GetModel returns the model for tier, falling back to the standard and then
// the lite model. It returns "" when nothing is configured.
func (c *Config) GetModel(tier ModelTier) string {
	if m := c.Models[tier]; m != "" {
		return m
	}
	for _, t := range fallbackTiers {
		if m := c.Models[t]; m != "" {
			return m
		}
	}
	return ""
}

// Bindings lists the model ids a run is pinned to
func (c *Config) Bindings() map[string]string {
	out := map[string]string{"provider": string(c.Provider)}
	for tier, model := range c.Models {
		out["llm_"+string(tier)] = model
	}
	if c.EmbeddingModel != "" {
		out["embedding"] = c.EmbeddingModel
	}
	return out
}

// tierOf reads the requested tier from request options, defaulting to standard
func tierOf(options map[string]any) ModelTier {
	if s, ok := options["tier"].(string); ok && s != "" {
		return ModelTier(s)
	}
	if t, ok := options["tier"].(ModelTier); ok && t != "" {
		return t
	}
	return TierStandard
}
