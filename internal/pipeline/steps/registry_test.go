package steps

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/stages"
	"github.com/jonathan/planning-ingest/internal/store/memstore"
	"github.com/jonathan/planning-ingest/internal/types"
)

func TestStepOrder(t *testing.T) {
	var names []string
	for _, def := range StepOrder {
		names = append(names, def.Name)
	}
	assert.Equal(t, []string{
		"parse", "canonical_load", "segmentation", "vectorization", "georeference",
		"structural_extraction", "link_discovery", "embedding", "graph_assembly",
	}, names)
}

func TestStepOrder_DependenciesComeFirst(t *testing.T) {
	seen := map[string]bool{}
	for _, def := range StepOrder {
		for _, dep := range append(append([]string{}, def.Dependencies...), def.Optional...) {
			assert.True(t, seen[dep], "%s depends on %s which runs later", def.Name, dep)
		}
		seen[def.Name] = true
	}
}

func TestStepRegistryRequired(t *testing.T) {
	optional := map[string]bool{
		stages.StepSegmentation:  true,
		stages.StepVectorization: true,
		stages.StepGeoreference:  true,
		stages.StepLinkDiscovery: true,
	}
	for name, def := range StepRegistry {
		assert.Equal(t, !optional[name], def.Required, name)
		assert.NotEmpty(t, def.Category)
	}
}

func TestDependencyError(t *testing.T) {
	err := &DependencyError{
		Step:                "test_step",
		MissingDependencies: []string{"dep1", "dep2"},
	}

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing dependencies")
	assert.Equal(t, "test_step", err.Step)
	assert.Equal(t, []string{"dep1", "dep2"}, err.MissingDependencies)
}

func TestValidateDependencies_UnknownStep(t *testing.T) {
	err := ValidateDependencies(context.Background(), memstore.New(), [16]byte{}, "unknown_step")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")
}

func TestValidateDependencies(t *testing.T) {
	ctx := t.Context()
	s := memstore.New()
	batch, err := s.CreateBatch(ctx, "camden", "test")
	require.NoError(t, err)
	run, err := s.CreateRun(ctx, batch.ID, "test", nil)
	require.NoError(t, err)

	err = ValidateDependencies(ctx, s, run.ID, stages.StepCanonicalLoad)
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{stages.StepParse}, depErr.MissingDependencies)

	require.NoError(t, s.FinishRunStep(ctx, run.ID, stages.StepParse, CategoryIngestion, types.StepStatusSkipped, map[string]any{"reason": "already_done"}, nil))
	assert.NoError(t, ValidateDependencies(ctx, s, run.ID, stages.StepCanonicalLoad))

	require.NoError(t, s.FinishRunStep(ctx, run.ID, stages.StepSegmentation, CategoryVisual, types.StepStatusSkipped,
		map[string]any{"reason": stages.ReasonDependencyFailed}, nil))
	assert.Error(t, ValidateDependencies(ctx, s, run.ID, stages.StepVectorization))

	available, err := GetAvailableSteps(ctx, s, run.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{stages.StepCanonicalLoad}, available)

	blocked, err := GetBlockedSteps(ctx, s, run.ID)
	require.NoError(t, err)
	assert.Contains(t, blocked, stages.StepSegmentation)
	assert.Contains(t, blocked, stages.StepGraphAssembly)
	assert.NotContains(t, blocked, stages.StepParse)
}

func TestMissingOptional(t *testing.T) {
	ctx := t.Context()
	s := memstore.New()
	batch, err := s.CreateBatch(ctx, "camden", "test")
	require.NoError(t, err)
	run, err := s.CreateRun(ctx, batch.ID, "test", nil)
	require.NoError(t, err)

	require.NoError(t, s.FinishRunStep(ctx, run.ID, stages.StepCanonicalLoad, CategoryIngestion, types.StepStatusSuccess, nil, nil))
	msg := "segmenter unavailable"
	require.NoError(t, s.FinishRunStep(ctx, run.ID, stages.StepSegmentation, CategoryVisual, types.StepStatusFailed, nil, &msg))

	require.NoError(t, ValidateDependencies(ctx, s, run.ID, stages.StepGeoreference))
	missing, err := MissingOptional(ctx, s, run.ID, stages.StepGeoreference)
	require.NoError(t, err)
	assert.Equal(t, []string{stages.StepSegmentation}, missing)

	require.NoError(t, s.FinishRunStep(ctx, run.ID, stages.StepStructuralExtraction, CategoryPolicy, types.StepStatusSuccess, nil, nil))
	missing, err = MissingOptional(ctx, s, run.ID, stages.StepEmbedding)
	require.NoError(t, err)
	assert.Empty(t, missing)

	_, err = MissingOptional(ctx, s, run.ID, "unknown_step")
	assert.Error(t, err)
}
