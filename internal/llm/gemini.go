package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/jonathan/planning-ingest/internal/providers"
)

var (
	_ providers.StructuredLLM = (*GeminiClient)(nil)
	_ providers.VisionLLM     = (*GeminiClient)(nil)
	_ providers.Embedder      = (*GeminiClient)(nil)
)

// GeminiClient implements the structured, vision and embedding providers over Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, &providers.ConfigError{Provider: "gemini", Message: "API key is required"}
	}
	if config == nil {
		config = DefaultGeminiConfig()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// GenerateStructured implements providers.StructuredLLM
func (c *GeminiClient) GenerateStructured(ctx context.Context, req providers.StructuredRequest) (*providers.StructuredResult, error) {
	return c.generate(ctx, req, nil)
}

// GenerateStructuredVision implements providers.VisionLLM
func (c *GeminiClient) GenerateStructuredVision(ctx context.Context, req providers.StructuredRequest, images []providers.Image) (*providers.StructuredResult, error) {
	return c.generate(ctx, req, images)
}

func (c *GeminiClient) generate(ctx context.Context, req providers.StructuredRequest, images []providers.Image) (*providers.StructuredResult, error) {
	modelName := c.config.GetModel(tierOf(req.Options))
	if modelName == "" {
		return nil, &providers.ConfigError{Provider: "gemini", Message: fmt.Sprintf("no model configured for tier %s", tierOf(req.Options))}
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(0.1) // Low temperature for consistent output
	model.ResponseMIMEType = "application/json"

	system, user := BuildPrompt(req)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	parts := make([]genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.ImageData(imageFormat(img.MIMEType), img.Data))
	}
	parts = append(parts, genai.Text(user))

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, classifyGeminiError(err)
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, &providers.MalformedOutputError{Provider: "gemini", Message: err.Error()}
	}

	var usage providers.Usage
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return DecodeStructured("gemini", modelName, text, req.Schema, usage)
}

// EmbedBatch implements providers.Embedder with one batch request
func (c *GeminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	em := c.client.EmbeddingModel(c.config.EmbeddingModel)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, &providers.MalformedOutputError{Provider: "gemini", Message: fmt.Sprintf("count mismatch: got %d, want %d", len(res.Embeddings), len(texts))}
	}

	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if dim := c.config.EmbeddingDimension; dim > 0 && len(e.Values) != dim {
			return nil, &providers.MalformedOutputError{Provider: "gemini", Message: fmt.Sprintf("embedding %d dimension mismatch: got %d, want %d", i, len(e.Values), dim)}
		}
		out[i] = e.Values
	}
	return out, nil
}

// Model returns the embedding model name
func (c *GeminiClient) Model() string {
	return c.config.EmbeddingModel
}

// Dimension returns the expected embedding dimension
func (c *GeminiClient) Dimension() int {
	return c.config.EmbeddingDimension
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

// imageFormat maps a MIME type to the format genai.ImageData expects
func imageFormat(mimeType string) string {
	f := strings.TrimPrefix(strings.ToLower(mimeType), "image/")
	switch f {
	case "", "jpg":
		return "jpeg"
	default:
		return f
	}
}

func classifyGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		if gerr.Code == http.StatusTooManyRequests || gerr.Code >= 500 {
			return &providers.TransientError{Provider: "gemini", StatusCode: gerr.Code, Message: gerr.Message, Cause: err}
		}
		if gerr.Code == http.StatusUnauthorized || gerr.Code == http.StatusForbidden {
			return &providers.ConfigError{Provider: "gemini", Message: gerr.Message}
		}
		return fmt.Errorf("gemini rejected request: %w", err)
	}
	if providers.IsTransient(err) {
		return &providers.TransientError{Provider: "gemini", Message: "request failed", Cause: err}
	}
	return fmt.Errorf("failed to generate content: %w", err)
}
