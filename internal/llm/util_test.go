package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/schemas"
)

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"json code block", "```json\n{\"key\": \"value\"}\n```", `{"key": "value"}`},
		{"generic code block", "```\n{\"key\": \"value\"}\n```", `{"key": "value"}`},
		{"code block with language", "```javascript\n{\"key\": \"value\"}\n```", `{"key": "value"}`},
		{"plain JSON", `{"key": "value"}`, `{"key": "value"}`},
		{"preamble before object", "As requested, here is the JSON:\n{\"policy\": \"H1\"}", `{"policy": "H1"}`},
		{"trailing chatter", `{"policy": "H1"} Let me know if you need more.`, `{"policy": "H1"}`},
		{"array first", `Here: [{"id": 1}, {"id": 2}]`, `[{"id": 1}, {"id": 2}]`},
		{"no JSON", "sorry, I cannot help", "sorry, I cannot help"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CleanJSONBlock(tt.input))
		})
	}
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"outer": {"inner": "value"}}`, ExtractJSONObject(`{"outer": {"inner": "value"}}`))
	assert.Equal(t, `{"template": "Hello {name}!"}`, ExtractJSONObject(`{"template": "Hello {name}!"} tail`))
	assert.Equal(t, `{"q": "say \"}\""}`, ExtractJSONObject(`{"q": "say \"}\""}`))
	assert.Equal(t, "", ExtractJSONObject(""))
	assert.Equal(t, "", ExtractJSONObject("not json"))
	assert.Equal(t, "", ExtractJSONObject(`{"unterminated": 1`))
}

func TestExtractJSONArray(t *testing.T) {
	assert.Equal(t, `[[1, 2], [3, 4]]`, ExtractJSONArray(`[[1, 2], [3, 4]]`))
	assert.Equal(t, `[1, 2, 3]`, ExtractJSONArray(`[1, 2, 3] extra stuff`))
	assert.Equal(t, "", ExtractJSONArray("not array"))
}

func TestBuildPrompt(t *testing.T) {
	system, user := BuildPrompt(providers.StructuredRequest{
		Messages: []providers.Message{
			{Role: "system", Content: "You extract planning policy."},
			{Role: "user", Content: "Policy H1 text"},
		},
		Schema: `{"type":"object"}`,
	})
	assert.Equal(t, "You extract planning policy.", system)
	assert.Contains(t, user, "Policy H1 text")
	assert.Contains(t, user, `{"type":"object"}`)
	assert.Contains(t, user, "Return ONLY valid JSON")

	_, user = BuildPrompt(providers.StructuredRequest{Messages: []providers.Message{{Role: "user", Content: "hi"}}})
	assert.Equal(t, "hi", user)
}

func TestDecodeStructured(t *testing.T) {
	schema, err := schemas.Get(schemas.AssetClassification)
	require.NoError(t, err)

	res, err := DecodeStructured("gemini", "m1", "```json\n{\"asset_type\":\"site_plan\"}\n```", schema, providers.Usage{PromptTokens: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"asset_type":"site_plan"}`, string(res.JSON))
	assert.Equal(t, "m1", res.ModelID)
	assert.Equal(t, 3, res.Usage.PromptTokens)

	_, err = DecodeStructured("gemini", "m1", "I think it is a photo", schema, providers.Usage{})
	require.Error(t, err)
	assert.True(t, providers.IsMalformed(err))
	raw, ok := providers.RawTextOf(err)
	assert.True(t, ok)
	assert.Equal(t, "I think it is a photo", raw)

	_, err = DecodeStructured("gemini", "m1", `{"confidence": 0.4}`, schema, providers.Usage{})
	assert.True(t, providers.IsMalformed(err), "missing asset_type fails the schema")
}

func TestImageFormat(t *testing.T) {
	assert.Equal(t, "png", imageFormat("image/png"))
	assert.Equal(t, "jpeg", imageFormat("image/jpg"))
	assert.Equal(t, "jpeg", imageFormat(""))
}

func TestClassifyOpenAIError(t *testing.T) {
	err := classifyOpenAIError(assertErr("API returned unexpected status code: 503: overloaded"))
	assert.True(t, providers.IsTransient(err))

	err = classifyOpenAIError(assertErr("API returned unexpected status code: 400: bad request"))
	assert.False(t, providers.IsTransient(err))
}

func TestOpenAIClient_RequiresEndpoint(t *testing.T) {
	c := NewOpenAIClient(&Config{Provider: ProviderOpenAI, Models: map[ModelTier]string{TierStandard: "qwen"}}, "")
	_, err := c.GenerateStructured(t.Context(), providers.StructuredRequest{})
	assert.True(t, providers.IsConfig(err))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
