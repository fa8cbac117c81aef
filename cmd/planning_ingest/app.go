package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jonathan/planning-ingest/internal/config"
	"github.com/jonathan/planning-ingest/internal/db"
	"github.com/jonathan/planning-ingest/internal/llm"
	"github.com/jonathan/planning-ingest/internal/observability"
	"github.com/jonathan/planning-ingest/internal/pipeline"
	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/providers/blob"
	"github.com/jonathan/planning-ingest/internal/providers/docparse"
	"github.com/jonathan/planning-ingest/internal/providers/fake"
	"github.com/jonathan/planning-ingest/internal/providers/httpapi"
	"github.com/jonathan/planning-ingest/internal/stages"
	"github.com/jonathan/planning-ingest/internal/store"
	"github.com/jonathan/planning-ingest/internal/store/memstore"
)

// appOptions selects how the application is assembled
type appOptions struct {
	configPath string
	verbose    bool
	// dryRun keeps everything in memory and replaces model services with
	// deterministic offline implementations.
	dryRun bool
	out    io.Writer
}

// app is the assembled ingestion engine
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	store   store.Store
	deps    *stages.Deps
	driver  *pipeline.Driver
	printer *observability.Printer

	closers []func() error
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	return assemble(ctx, cfg, opts)
}

// assemble wires a loaded configuration into a driver
func assemble(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	if opts.out == nil {
		opts.out = os.Stdout
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	logger, closeLog := config.SetupLogger(cfg.Log, os.Stderr)

	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewMetrics(),
		printer: observability.NewPrinter(opts.out),
		closers: []func() error{closeLog},
	}

	if opts.dryRun || cfg.DatabaseURL == "" {
		if !opts.dryRun {
			logger.Warn("DATABASE_URL not set, using in-memory store; nothing will be persisted")
		}
		a.store = memstore.New()
	} else {
		database, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { database.Close(); return nil })
		a.store = database
	}

	blobRoot := cfg.BlobRoot
	if opts.dryRun {
		dir, err := os.MkdirTemp("", "planning-ingest-*")
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create temp blob root: %w", err)
		}
		a.closers = append(a.closers, func() error { return os.RemoveAll(dir) })
		blobRoot = dir
	}
	blobs, err := blob.NewFS(blobRoot)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.deps = &stages.Deps{
		Store: a.store,
		Blob:  blobs,
		Ledger: provenance.New(a.store, logger,
			provenance.WithMetrics(a.metrics),
			provenance.WithHeartbeatInterval(cfg.Pipeline.HeartbeatInterval),
		),
		Logger:  logger,
		Options: cfg.StageOptions(),
	}
	if opts.dryRun {
		offlineProviders(a.deps)
	} else if err := a.wireProviders(ctx); err != nil {
		a.Close()
		return nil, err
	}

	driverOpts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithModels(a.modelBindings()),
	}
	if opts.verbose {
		driverOpts = append(driverOpts, pipeline.WithProgress(func(e pipeline.ProgressEvent) {
			a.printer.PrintProgress(e.Step, e.Category, e.Message)
		}))
	}
	a.driver = pipeline.NewDriver(a.deps, driverOpts...)
	return a, nil
}

// wireProviders binds every configured model service. Unconfigured services
// stay nil; the stages needing them fail with a configuration error.
func (a *app) wireProviders(ctx context.Context) error {
	cfg := a.cfg
	p := cfg.Providers
	endpoint := func(e config.Endpoint) httpapi.Endpoint {
		return httpapi.Endpoint{BaseURL: e.URL, Token: e.Token, Timeout: cfg.EndpointTimeout(e)}
	}

	var gate *providers.Gate
	if p.Scheduler.URL != "" {
		gate = &providers.Gate{
			Scheduler: httpapi.NewScheduler(endpoint(p.Scheduler)),
			Timeout:   p.AcquireTimeout,
		}
	}

	switch {
	case p.Parser.URL != "":
		a.deps.Parser = httpapi.NewParser(endpoint(p.Parser))
	case p.LocalParser:
		a.deps.Parser = docparse.New()
	}

	if p.Segmentation.URL != "" {
		var seg providers.Segmenter = httpapi.NewSegmenter(endpoint(p.Segmentation))
		if gate != nil {
			seg = &providers.GatedSegmenter{Gate: gate, Role: stages.StepSegmentation, Inner: seg}
		}
		a.deps.Segmenter = seg
	}
	if p.Vectorization.URL != "" {
		var vec providers.Vectorizer = httpapi.NewVectorizer(endpoint(p.Vectorization))
		if gate != nil {
			vec = &providers.GatedVectorizer{Gate: gate, Role: stages.StepVectorization, Inner: vec}
		}
		a.deps.Vectorizer = vec
	}
	if p.Georeference.URL != "" {
		a.deps.Georeferencer = httpapi.NewGeoreferencer(endpoint(p.Georeference))
	}

	settings := cfg.LLMSettings()
	switch settings.Provider {
	case llm.ProviderGemini:
		if cfg.LLM.APIKey == "" {
			a.logger.Warn("GEMINI_API_KEY not set; extraction, link discovery and embedding will fail")
			return nil
		}
		client, err := llm.NewGeminiClient(ctx, settings, cfg.LLM.APIKey)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.deps.LLM, a.deps.VLM, a.deps.Embedder = client, client, client
	case llm.ProviderOpenAI:
		client := llm.NewOpenAIClient(settings, cfg.LLM.APIKey)
		a.deps.LLM, a.deps.VLM, a.deps.Embedder = client, client, client
		if gate != nil {
			a.deps.LLM = &providers.GatedLLM{Gate: gate, Role: cfg.LLM.Role, Inner: client}
			a.deps.VLM = &providers.GatedVLM{Gate: gate, Role: cfg.LLM.Role, Inner: client}
		}
	}
	return nil
}

// offlineProviders binds the local parser and deterministic stand-ins so a
// document can be taken through every stage without model services.
// Georeferencing stays unbound; it needs real site data.
func offlineProviders(deps *stages.Deps) {
	model := &fake.LLM{
		Answers: map[string]string{"PolicyStructure": `{"sections": []}`},
		Default: `{"links": []}`,
	}
	deps.Parser = docparse.New()
	deps.Segmenter = &fake.Segmenter{}
	deps.Vectorizer = &fake.Vectorizer{GeoJSON: `{"type":"FeatureCollection","features":[]}`}
	deps.LLM = model
	deps.VLM = model
	deps.Embedder = &fake.Embedder{}
}

// modelBindings are recorded on every run
func (a *app) modelBindings() map[string]string {
	out := a.cfg.LLMSettings().Bindings()
	if a.deps.Embedder != nil {
		out["embedding"] = a.deps.Embedder.Model()
	}
	return out
}

// Close releases every resource in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
