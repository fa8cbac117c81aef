package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/config"
	"github.com/jonathan/planning-ingest/internal/server"
)

// TestMain loads .env if available
func TestMain(m *testing.M) {
	_ = godotenv.Load()
	os.Exit(m.Run())
}

// execute runs the root command with args and returns its stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestIngest_RequiresAuthority(t *testing.T) {
	path := writeFile(t, "plan.txt", "Policy H1\nHousing delivery.")
	_, err := execute(t, "ingest", "--dry-run", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authority")
}

func TestIngest_RequiresInput(t *testing.T) {
	_, err := execute(t, "ingest", "--authority", "camden", "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provide at least one file or --url")
}

func TestIngest_URLWithFiles(t *testing.T) {
	path := writeFile(t, "plan.txt", "text")
	_, err := execute(t, "ingest", "--authority", "camden", "--dry-run", "--url", "https://example.org/plan.pdf", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be combined")
}

func TestIngest_MissingFile(t *testing.T) {
	_, err := execute(t, "ingest", "--authority", "camden", "--dry-run", filepath.Join(t.TempDir(), "nope.txt"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestIngest_DryRun(t *testing.T) {
	t.Setenv("LOG_FILE", "")
	path := writeFile(t, "local-plan.txt", "Policy H1 Housing\nThe council will deliver 1,000 homes.\n\nPolicy D1 Design\nDevelopment must respect local character.")

	out, err := execute(t, "ingest", "--authority", "camden", "--plan-cycle", "2024-2039", "--dry-run", path)
	require.NoError(t, err)
	assert.Contains(t, out, "INGESTION RUN")
	assert.Contains(t, out, "STEPS")
	assert.Contains(t, out, "local-plan.txt")
}

func TestIngest_DryRunBatch(t *testing.T) {
	t.Setenv("LOG_FILE", "")
	a := writeFile(t, "a.txt", "Policy A1\nFirst policy text.")
	b := writeFile(t, "b.txt", "Policy B1\nSecond policy text.")

	out, err := execute(t, "ingest", "--authority", "camden", "--dry-run", "-c", "2", a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "INGESTION RUN"))
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "b.txt")
}

func TestResume_InvalidID(t *testing.T) {
	_, err := execute(t, "resume", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run id")
}

func TestRuns_InvalidID(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BLOB_ROOT", t.TempDir())
	_, err := execute(t, "runs", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid run id")
}

func TestRuns_EmptyStore(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BLOB_ROOT", t.TempDir())
	out, err := execute(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "No runs found.")
}

func TestMigrate_RequiresDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := execute(t, "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "cli-test-secret-0123456789")
	t.Setenv("JWT_ISSUER", "")
	t.Setenv("JWT_EXPIRATION_HOURS", "")

	out, err := execute(t, "token", "alice")
	require.NoError(t, err)

	cfg, err := config.NewJWTConfig()
	require.NoError(t, err)
	claims, err := server.NewJWTService(cfg).ValidateToken(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.GetOperator())
}

func TestToken_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := execute(t, "token", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestServe_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLayerSources(t *testing.T) {
	layers, err := layerSources(
		[]string{"/data/conservation_areas.geojson"},
		[]string{"flood_zones=https://example.org/flood.geojson"},
		[]string{"flood_zones=Environment Agency flood zone 3"},
	)
	require.NoError(t, err)
	require.Len(t, layers, 2)
	assert.Equal(t, "conservation_areas", layers[0].Name)
	assert.Equal(t, "/data/conservation_areas.geojson", layers[0].Path)
	assert.Empty(t, layers[0].Interpretation)
	assert.Equal(t, "flood_zones", layers[1].Name)
	assert.Equal(t, "https://example.org/flood.geojson", layers[1].URL)
	assert.Equal(t, "Environment Agency flood zone 3", layers[1].Interpretation)
}

func TestLayerSources_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		paths []string
		urls  []string
		notes []string
		want  string
	}{
		{name: "no layers", want: "at least one layer"},
		{name: "url without name", urls: []string{"https://example.org/x.geojson"}, want: "want name=url"},
		{name: "empty url", urls: []string{"x="}, want: "want name=url"},
		{name: "bad interpretation", paths: []string{"x.geojson"}, notes: []string{"=text"}, want: "want name=text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := layerSources(tt.paths, tt.urls, tt.notes)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGIS_IngestsLayerFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("BLOB_ROOT", t.TempDir())
	t.Setenv("LOG_FILE", "")
	path := writeFile(t, "conservation_areas.geojson", `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "properties": {"name": "Camden Square"},
     "geometry": {"type": "Polygon", "coordinates": [[[-0.13,51.54],[-0.12,51.54],[-0.12,51.55],[-0.13,51.55],[-0.13,51.54]]]}}
  ]
}`)

	out, err := execute(t, "gis", "camden", path)
	require.NoError(t, err)
	assert.Contains(t, out, "GIS LAYERS")
	assert.Contains(t, out, "conservation_areas")
}
