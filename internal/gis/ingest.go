// Package gis loads an authority's GIS layers into spatial features and
// layer profiles.
package gis

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/jonathan/planning-ingest/internal/fetch"
	"github.com/jonathan/planning-ingest/internal/geometry"
	"github.com/jonathan/planning-ingest/internal/provenance"
	"github.com/jonathan/planning-ingest/internal/store"
	"github.com/jonathan/planning-ingest/internal/types"
)

// ToolName is the ledger tool of one layer load
const ToolName = "gis_layer_ingest"

// Store is what layer ingestion writes to
type Store interface {
	store.RunStore
	store.SpatialStore
}

// LayerSource names one layer and where its GeoJSON lives
type LayerSource struct {
	Name string `validate:"required"`
	Path string `validate:"required_without=URL"`
	URL  string `validate:"omitempty,url"`
	// Interpretation is carried on the layer profile for later link discovery.
	Interpretation string
}

// LayerResult reports what one layer contributed
type LayerResult struct {
	Name      string
	Features  int
	Missing   bool
	ToolRunID uuid.UUID
}

// Result reports one authority ingestion
type Result struct {
	Authority string
	// Skipped is set when active features existed and the run was not forced.
	Skipped     bool
	Active      int
	Deactivated int
	Layers      []LayerResult
}

// Ingester loads layers for an authority
type Ingester struct {
	store    Store
	ledger   *provenance.Ledger
	fetch    *fetch.Options
	logger   *slog.Logger
	validate *validator.Validate
}

// NewIngester creates an ingester. fetchOpts may be nil.
func NewIngester(s Store, ledger *provenance.Ledger, fetchOpts *fetch.Options, logger *slog.Logger) *Ingester {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingester{
		store:    s,
		ledger:   ledger,
		fetch:    fetchOpts,
		logger:   logger,
		validate: validator.New(),
	}
}

// layer is a loaded source before it is written
type layer struct {
	src       LayerSource
	fc        *geojson.FeatureCollection
	missing   string
	toolRunID uuid.UUID
}

// IngestAuthority loads every layer and writes one feature row per feature
// plus one profile row per layer. It does nothing when the authority already
// has active features, unless force is set, in which case those features are
// deactivated first. Every layer is loaded before anything is written, so a
// malformed layer leaves the authority untouched.
func (in *Ingester) IngestAuthority(ctx context.Context, authority string, layers []LayerSource, force bool) (*Result, error) {
	if authority == "" {
		return nil, errors.New("authority is required")
	}
	for i := range layers {
		if err := in.validate.Struct(layers[i]); err != nil {
			return nil, fmt.Errorf("invalid layer %d: %w", i, err)
		}
	}

	active, err := in.store.CountActiveSpatialFeatures(ctx, authority)
	if err != nil {
		return nil, fmt.Errorf("failed to count spatial features: %w", err)
	}
	res := &Result{Authority: authority, Active: active}
	if active > 0 && !force {
		in.logger.Info("spatial features already ingested, skipping", "authority", authority, "active", active)
		res.Skipped = true
		return res, nil
	}

	batch, err := in.store.CreateBatch(ctx, authority, "gis")
	if err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}
	refs := provenance.Refs{BatchID: &batch.ID}

	loaded := make([]*layer, 0, len(layers))
	for _, src := range layers {
		l, id, err := provenance.Track(ctx, in.ledger, provenance.Call{
			Tool: ToolName,
			Inputs: map[string]any{
				"authority": authority,
				"layer":     src.Name,
				"path":      src.Path,
				"url":       src.URL,
			},
			Refs: refs,
		}, func(ctx context.Context) (*layer, error) {
			return in.load(ctx, src)
		}, describe)
		if err != nil {
			in.completeBatch(ctx, batch.ID, types.BatchStatusFailed)
			return nil, fmt.Errorf("layer %s: %w", src.Name, err)
		}
		l.toolRunID = id
		loaded = append(loaded, l)
	}

	if force && active > 0 {
		n, err := in.store.DeactivateSpatialFeatures(ctx, authority)
		if err != nil {
			in.completeBatch(ctx, batch.ID, types.BatchStatusFailed)
			return nil, fmt.Errorf("failed to deactivate spatial features: %w", err)
		}
		res.Deactivated = n
	}

	for _, l := range loaded {
		rows := l.rows(authority)
		if err := in.store.InsertSpatialFeatures(ctx, rows); err != nil {
			in.completeBatch(ctx, batch.ID, types.BatchStatusFailed)
			return nil, fmt.Errorf("failed to insert layer %s: %w", l.src.Name, err)
		}
		res.Layers = append(res.Layers, LayerResult{
			Name:      l.src.Name,
			Features:  len(rows) - 1,
			Missing:   l.missing != "",
			ToolRunID: l.toolRunID,
		})
		in.logger.Info("layer ingested", "authority", authority, "layer", l.src.Name, "features", len(rows)-1, "missing", l.missing != "")
	}

	in.completeBatch(ctx, batch.ID, types.BatchStatusCompleted)
	return res, nil
}

// load reads the layer. An unavailable source is not an error: the layer is
// still profiled, with the reason recorded.
func (in *Ingester) load(ctx context.Context, src LayerSource) (*layer, error) {
	l := &layer{src: src}

	var data []byte
	if src.Path != "" {
		b, err := os.ReadFile(src.Path)
		if errors.Is(err, fs.ErrNotExist) {
			l.missing = fmt.Sprintf("source file %s is not available; layer profiled without features", src.Path)
			return l, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read layer file: %w", err)
		}
		data = b
	} else {
		r, err := fetch.URL(ctx, src.URL, in.fetch)
		if err != nil {
			l.missing = fmt.Sprintf("source %s could not be retrieved (%v); layer profiled without features", src.URL, err)
			return l, nil
		}
		data = r.Body
	}

	fc, err := geometry.DecodeFeatureCollection(data)
	if err != nil {
		return nil, err
	}
	l.fc = fc
	return l, nil
}

func describe(l *layer) provenance.Result {
	if l.missing != "" {
		return provenance.Result{
			Outputs:     map[string]any{"features": 0, "missing": true},
			Confidence:  types.ConfidenceLow,
			Uncertainty: l.missing,
		}
	}
	return provenance.Result{
		Outputs:    map[string]any{"features": len(l.fc.Features)},
		Confidence: types.ConfidenceHigh,
	}
}

// rows builds the feature rows followed by the layer profile row
func (l *layer) rows(authority string) []types.SpatialFeature {
	runID := l.toolRunID
	profile := &types.LayerProfile{
		SourcePath:     l.src.Path,
		GeometryTypes:  []string{},
		AttributeKeys:  []string{},
		Interpretation: l.src.Interpretation,
	}
	if profile.SourcePath == "" {
		profile.SourcePath = l.src.URL
	}

	var out []types.SpatialFeature
	if l.fc != nil {
		geomTypes := map[string]bool{}
		keys := map[string]bool{}
		layerBox := geometry.EmptyBBox()

		for _, f := range l.fc.Features {
			row := types.SpatialFeature{
				ID:             uuid.New(),
				Authority:      authority,
				Kind:           types.SpatialKindFeature,
				LayerName:      l.src.Name,
				GeometryType:   f.Geometry.GeoJSONType(),
				Geometry:       geojson.NewGeometry(f.Geometry),
				Properties:     f.Properties,
				ConfidenceHint: types.ConfidenceHigh,
				Active:         true,
				ToolRunID:      &runID,
			}
			if box, ok := geometry.Bounds(f.Geometry); ok {
				row.BBox = &box
				layerBox = layerBox.Merge(box)
			}
			geomTypes[f.Geometry.GeoJSONType()] = true
			for k := range f.Properties {
				keys[k] = true
			}
			out = append(out, row)
		}

		profile.FeatureCount = len(l.fc.Features)
		profile.GeometryTypes = sortedKeys(geomTypes)
		profile.AttributeKeys = sortedKeys(keys)
		if layerBox.Valid() {
			profile.BBox = &layerBox
		}
	}

	prof := types.SpatialFeature{
		ID:             uuid.New(),
		Authority:      authority,
		Kind:           types.SpatialKindLayerProfile,
		LayerName:      l.src.Name,
		BBox:           profile.BBox,
		Profile:        profile,
		ConfidenceHint: types.ConfidenceHigh,
		Active:         true,
		ToolRunID:      &runID,
	}
	if l.missing != "" {
		prof.ConfidenceHint = types.ConfidenceLow
		prof.LimitationNote = l.missing
	}
	return append(out, prof)
}

func (in *Ingester) completeBatch(ctx context.Context, id uuid.UUID, status string) {
	if err := in.store.CompleteBatch(context.WithoutCancel(ctx), id, status); err != nil {
		in.logger.Warn("failed to complete batch", "batch_id", id, "error", err)
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
