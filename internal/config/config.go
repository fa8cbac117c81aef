// Package config provides configuration loading and validation for the
// ingestion CLI and server.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/jonathan/planning-ingest/internal/llm"
	"github.com/jonathan/planning-ingest/internal/stages"
)

// Endpoint is one HTTP model service
type Endpoint struct {
	URL     string        `yaml:"url" validate:"omitempty,url"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// ProvidersConfig locates the external model services. An empty URL leaves
// the provider unconfigured; stages needing it then fail with a config error.
type ProvidersConfig struct {
	Parser        Endpoint `yaml:"parser"`
	Segmentation  Endpoint `yaml:"segmentation"`
	Vectorization Endpoint `yaml:"vectorization"`
	Georeference  Endpoint `yaml:"georeference"`
	Scheduler     Endpoint `yaml:"scheduler"`

	// LocalParser parses PDF and HTML in-process when no parser URL is set.
	LocalParser    bool          `yaml:"local_parser"`
	DefaultTimeout time.Duration `yaml:"default_timeout" validate:"gte=0"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" validate:"gte=0"`
}

// LLMConfig selects the language, vision and embedding models
type LLMConfig struct {
	Provider           string            `yaml:"provider" validate:"oneof=gemini openai"`
	APIKey             string            `yaml:"api_key"`
	BaseURL            string            `yaml:"base_url" validate:"omitempty,url"`
	Models             map[string]string `yaml:"models"`
	EmbeddingModel     string            `yaml:"embedding_model"`
	EmbeddingDimension int               `yaml:"embedding_dimension" validate:"gte=0"`
	// Role is the scheduler role acquired before local model calls.
	Role string `yaml:"role"`
}

// PipelineConfig tunes stage execution
type PipelineConfig struct {
	Domain             string        `yaml:"domain" validate:"required"`
	AssetConcurrency   int           `yaml:"asset_concurrency" validate:"gte=1,lte=64"`
	BatchConcurrency   int           `yaml:"batch_concurrency" validate:"gte=1,lte=64"`
	EmbedBatchSize     int           `yaml:"embed_batch_size" validate:"gte=1,lte=2048"`
	MaxExtractionChars int           `yaml:"max_extraction_chars" validate:"gte=1000"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval" validate:"gte=0"`
	SegmentPrompts     []string      `yaml:"segment_prompts"`
}

// LogConfig configures logging output
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	// File receives JSON logs in addition to text on stderr. Empty disables it.
	File string `yaml:"file"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port      int     `yaml:"port" validate:"gte=1,lte=65535"`
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" validate:"gte=0"`
}

// Config is the full configuration
type Config struct {
	DatabaseURL string          `yaml:"database_url"`
	BlobRoot    string          `yaml:"blob_root" validate:"required"`
	Providers   ProvidersConfig `yaml:"providers"`
	LLM         LLMConfig       `yaml:"llm"`
	Pipeline    PipelineConfig  `yaml:"pipeline"`
	Log         LogConfig       `yaml:"log"`
	Server      ServerConfig    `yaml:"server"`
}

// Default returns the configuration used before file and environment values apply
func Default() *Config {
	opts := stages.DefaultOptions()
	gem := llm.DefaultGeminiConfig()
	models := make(map[string]string, len(gem.Models))
	for tier, m := range gem.Models {
		models[string(tier)] = m
	}
	return &Config{
		BlobRoot: "./data/blobs",
		Providers: ProvidersConfig{
			LocalParser:    true,
			DefaultTimeout: 120 * time.Second,
			AcquireTimeout: 5 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:           string(llm.ProviderGemini),
			Models:             models,
			EmbeddingModel:     gem.EmbeddingModel,
			EmbeddingDimension: gem.EmbeddingDimension,
			Role:               "llm",
		},
		Pipeline: PipelineConfig{
			Domain:             opts.Domain,
			AssetConcurrency:   opts.AssetConcurrency,
			BatchConcurrency:   2,
			EmbedBatchSize:     opts.EmbedBatchSize,
			MaxExtractionChars: opts.MaxExtractionChars,
			HeartbeatInterval:  30 * time.Second,
			SegmentPrompts:     opts.SegmentPrompts,
		},
		Log:    LogConfig{Level: "info"},
		Server: ServerConfig{Port: 8080, RateLimit: 5, RateBurst: 10},
	}
}

// Load builds the configuration from defaults, the YAML file at path (if
// any) and the environment, in that order, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// applyEnv overrides file values with environment variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DATABASE_URL", &c.DatabaseURL)
	str("BLOB_ROOT", &c.BlobRoot)
	str("PARSER_URL", &c.Providers.Parser.URL)
	str("SEGMENTATION_URL", &c.Providers.Segmentation.URL)
	str("VECTORIZATION_URL", &c.Providers.Vectorization.URL)
	str("GEOREFERENCE_URL", &c.Providers.Georeference.URL)
	str("SCHEDULER_URL", &c.Providers.Scheduler.URL)
	str("LLM_PROVIDER", &c.LLM.Provider)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	str("GEMINI_API_KEY", &c.LLM.APIKey)
	str("EMBEDDING_MODEL", &c.LLM.EmbeddingModel)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FILE", &c.Log.File)

	ints := []struct {
		key string
		dst *int
	}{
		{"PORT", &c.Server.Port},
		{"ASSET_CONCURRENCY", &c.Pipeline.AssetConcurrency},
		{"BATCH_CONCURRENCY", &c.Pipeline.BatchConcurrency},
		{"EMBEDDING_DIMENSION", &c.LLM.EmbeddingDimension},
	}
	for _, e := range ints {
		v, ok := lookup(e.key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", e.key, err)
		}
		*e.dst = n
	}

	if v, ok := lookup("PROVIDER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid PROVIDER_TIMEOUT: %w", err)
		}
		c.Providers.DefaultTimeout = d
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if c.LLM.Provider == string(llm.ProviderOpenAI) && c.LLM.BaseURL == "" && c.Providers.Scheduler.URL == "" {
		return errors.New("config error: openai provider needs llm.base_url or a scheduler")
	}
	return nil
}

// LLMSettings converts the LLM section into the client configuration
func (c *Config) LLMSettings() *llm.Config {
	models := make(map[llm.ModelTier]string, len(c.LLM.Models))
	for tier, m := range c.LLM.Models {
		models[llm.ModelTier(tier)] = m
	}
	return &llm.Config{
		Provider:           llm.Provider(c.LLM.Provider),
		Models:             models,
		EmbeddingModel:     c.LLM.EmbeddingModel,
		EmbeddingDimension: c.LLM.EmbeddingDimension,
		BaseURL:            c.LLM.BaseURL,
	}
}

// StageOptions converts the pipeline section into stage options
func (c *Config) StageOptions() stages.Options {
	opts := stages.DefaultOptions()
	opts.Domain = c.Pipeline.Domain
	opts.AssetConcurrency = c.Pipeline.AssetConcurrency
	opts.EmbedBatchSize = c.Pipeline.EmbedBatchSize
	opts.MaxExtractionChars = c.Pipeline.MaxExtractionChars
	if len(c.Pipeline.SegmentPrompts) > 0 {
		opts.SegmentPrompts = c.Pipeline.SegmentPrompts
	}
	return opts
}

// EndpointTimeout returns the endpoint timeout, or the provider default
func (c *Config) EndpointTimeout(e Endpoint) time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return c.Providers.DefaultTimeout
}
