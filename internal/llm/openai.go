package llm

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/jonathan/planning-ingest/internal/providers"
)

var (
	_ providers.StructuredLLM = (*OpenAIClient)(nil)
	_ providers.VisionLLM     = (*OpenAIClient)(nil)
	_ providers.Embedder      = (*OpenAIClient)(nil)
)

// localToken is sent to self-hosted endpoints that ignore auth; the client
// library refuses to start without one.
const localToken = "local"

// OpenAIClient talks to OpenAI-compatible endpoints through langchaingo. The
// endpoint is the one the role scheduler assigned to the call, falling back to
// Config.BaseURL.
type OpenAIClient struct {
	config *Config
	token  string

	mu      sync.Mutex
	clients map[string]*openai.LLM
}

// NewOpenAIClient creates a client; token may be empty for local servers
func NewOpenAIClient(config *Config, token string) *OpenAIClient {
	if token == "" {
		token = localToken
	}
	return &OpenAIClient{config: config, token: token, clients: map[string]*openai.LLM{}}
}

// clientFor returns the langchaingo client for the call's endpoint and model
func (c *OpenAIClient) clientFor(ctx context.Context, model string) (*openai.LLM, error) {
	baseURL := providers.EndpointFrom(ctx)
	if baseURL == "" {
		baseURL = c.config.BaseURL
	}
	if baseURL == "" {
		return nil, &providers.ConfigError{Provider: "openai", Message: "base URL is not configured and no role endpoint was assigned"}
	}

	key := baseURL + "|" + model
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client, nil
	}

	opts := []openai.Option{
		openai.WithToken(c.token),
		openai.WithBaseURL(baseURL),
		openai.WithModel(model),
	}
	if c.config.EmbeddingModel != "" {
		opts = append(opts, openai.WithEmbeddingModel(c.config.EmbeddingModel))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, &providers.ConfigError{Provider: "openai", Message: fmt.Sprintf("create client: %v", err)}
	}
	c.clients[key] = client
	return client, nil
}

// GenerateStructured implements providers.StructuredLLM
func (c *OpenAIClient) GenerateStructured(ctx context.Context, req providers.StructuredRequest) (*providers.StructuredResult, error) {
	return c.generate(ctx, req, nil)
}

// GenerateStructuredVision implements providers.VisionLLM
func (c *OpenAIClient) GenerateStructuredVision(ctx context.Context, req providers.StructuredRequest, images []providers.Image) (*providers.StructuredResult, error) {
	return c.generate(ctx, req, images)
}

func (c *OpenAIClient) generate(ctx context.Context, req providers.StructuredRequest, images []providers.Image) (*providers.StructuredResult, error) {
	model := c.config.GetModel(tierOf(req.Options))
	if model == "" {
		return nil, &providers.ConfigError{Provider: "openai", Message: fmt.Sprintf("no model configured for tier %s", tierOf(req.Options))}
	}
	client, err := c.clientFor(ctx, model)
	if err != nil {
		return nil, err
	}

	resp, err := client.GenerateContent(ctx, buildMessages(req, images), llms.WithTemperature(0.1), llms.WithJSONMode())
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &providers.MalformedOutputError{Provider: "openai", Message: "no response choices"}
	}

	choice := resp.Choices[0]
	usage := providers.Usage{
		PromptTokens:     intFrom(choice.GenerationInfo["PromptTokens"]),
		CompletionTokens: intFrom(choice.GenerationInfo["CompletionTokens"]),
	}
	return DecodeStructured("openai", model, choice.Content, req.Schema, usage)
}

func buildMessages(req providers.StructuredRequest, images []providers.Image) []llms.MessageContent {
	system, user := BuildPrompt(req)
	var messages []llms.MessageContent
	if system != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}

	parts := make([]llms.ContentPart, 0, len(images)+1)
	for _, img := range images {
		mime := img.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		parts = append(parts, llms.BinaryPart(mime, img.Data))
	}
	parts = append(parts, llms.TextPart(user))
	return append(messages, llms.MessageContent{Role: llms.ChatMessageTypeHuman, Parts: parts})
}

// EmbedBatch implements providers.Embedder
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	client, err := c.clientFor(ctx, c.config.GetModel(TierLite))
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, &providers.ConfigError{Provider: "openai", Message: fmt.Sprintf("create embedder: %v", err)}
	}

	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	if len(vectors) != len(texts) {
		return nil, &providers.MalformedOutputError{Provider: "openai", Message: fmt.Sprintf("count mismatch: got %d, want %d", len(vectors), len(texts))}
	}
	for i, v := range vectors {
		if dim := c.config.EmbeddingDimension; dim > 0 && len(v) != dim {
			return nil, &providers.MalformedOutputError{Provider: "openai", Message: fmt.Sprintf("embedding %d dimension mismatch: got %d, want %d", i, len(v), dim)}
		}
	}
	return vectors, nil
}

// Model returns the embedding model name
func (c *OpenAIClient) Model() string {
	return c.config.EmbeddingModel
}

// Dimension returns the expected embedding dimension
func (c *OpenAIClient) Dimension() int {
	return c.config.EmbeddingDimension
}

var statusCodeRe = regexp.MustCompile(`status code:? (\d{3})`)

func classifyOpenAIError(err error) error {
	if providers.IsTransient(err) {
		return &providers.TransientError{Provider: "openai", Message: "request failed", Cause: err}
	}
	if m := statusCodeRe.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		if code == 429 || code >= 500 {
			return &providers.TransientError{Provider: "openai", StatusCode: code, Cause: err}
		}
	}
	return fmt.Errorf("openai request failed: %w", err)
}

func intFrom(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
