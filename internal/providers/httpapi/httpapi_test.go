package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/planning-ingest/internal/providers"
)

func serveJSON(t *testing.T, path string, check func(body map[string]any), answer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if check != nil {
			check(body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(answer))
	}))
}

func TestParser_Parse(t *testing.T) {
	srv := serveJSON(t, "/parse", func(body map[string]any) {
		assert.Equal(t, "plan.pdf", body["filename"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("%PDF")), body["file_base64"])
	}, `{"schema_version":"1","pages":[{"page_number":1,"text":"Policy H1"}],
		"layout_blocks":[{"page_number":1,"type":"heading","text":"Policy H1"}],"visual_assets":[]}`)
	defer srv.Close()

	p := NewParser(Endpoint{BaseURL: srv.URL})
	b, err := p.Parse(context.Background(), providers.ParseRequest{Data: []byte("%PDF"), Filename: "plan.pdf"})
	require.NoError(t, err)
	require.Len(t, b.Pages, 1)
	assert.Equal(t, "heading", b.LayoutBlocks[0].Type)
}

func TestParser_InvalidBundleIsMalformed(t *testing.T) {
	srv := serveJSON(t, "/parse", nil, `{"pages":[]}`)
	defer srv.Close()

	_, err := NewParser(Endpoint{BaseURL: srv.URL}).Parse(context.Background(), providers.ParseRequest{})
	require.Error(t, err)
	assert.True(t, providers.IsMalformed(err), "missing schema_version")
}

func TestSegmenter_BadBBoxIsMalformed(t *testing.T) {
	srv := serveJSON(t, "/segment", func(body map[string]any) {
		img := body["image"].(map[string]any)
		assert.Equal(t, "image/png", img["mime_type"])
	}, `{"masks":[{"mask_png_base64":"AAAA","label":"redline","score":0.9,"bbox":[1,2,3]}]}`)
	defer srv.Close()

	_, err := NewSegmenter(Endpoint{BaseURL: srv.URL}).Segment(context.Background(),
		providers.SegmentRequest{Image: providers.Image{Data: []byte{1}, MIMEType: "image/png"}})
	require.Error(t, err)
	assert.True(t, providers.IsMalformed(err))
}

func TestVectorizer_Vectorize(t *testing.T) {
	srv := serveJSON(t, "/vectorize", nil, `{"features_geojson":{"type":"FeatureCollection","features":[]},"limitations":"coarse"}`)
	defer srv.Close()

	out, err := NewVectorizer(Endpoint{BaseURL: srv.URL}).Vectorize(context.Background(), providers.VectorizeRequest{})
	require.NoError(t, err)
	assert.Equal(t, "coarse", out.Limitations)
	assert.Contains(t, string(out.FeaturesGeoJSON), "FeatureCollection")
}

func TestGeoreferencer_RequiresSixCoefficients(t *testing.T) {
	srv := serveJSON(t, "/georeference", func(body map[string]any) {
		assert.Equal(t, "EPSG:27700", body["target_crs"])
		assert.NotNil(t, body["redline_mask"])
	}, `{"affine":[1,0,0,0,-1,0,5]}`)
	defer srv.Close()

	_, err := NewGeoreferencer(Endpoint{BaseURL: srv.URL}).Georeference(context.Background(), providers.GeorefRequest{
		TargetCRS:   "EPSG:27700",
		RedlineMask: &providers.Image{Data: []byte{1}},
	})
	assert.True(t, providers.IsMalformed(err))
}

func TestScheduler_EnsureAndStop(t *testing.T) {
	var stopped bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/roles/vlm/ensure":
			_, _ = w.Write([]byte(`{"base_url":"http://gpu-1:8000"}`))
		case "/roles/vlm/stop":
			stopped = true
			_, _ = w.Write([]byte(`{}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := NewScheduler(Endpoint{BaseURL: srv.URL})
	url, err := s.Ensure(context.Background(), providers.RoleVLM)
	require.NoError(t, err)
	assert.Equal(t, "http://gpu-1:8000", url)
	require.NoError(t, s.Stop(context.Background(), providers.RoleVLM))
	assert.True(t, stopped)
}

func TestGatedSegmenter_UsesAssignedEndpoint(t *testing.T) {
	gpu := serveJSON(t, "/segment", nil, `{"masks":[]}`)
	defer gpu.Close()
	sched := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"base_url": gpu.URL})
	}))
	defer sched.Close()

	seg := &providers.GatedSegmenter{
		Gate:  &providers.Gate{Scheduler: NewScheduler(Endpoint{BaseURL: sched.URL})},
		Role:  providers.RoleSegmentation,
		Inner: NewSegmenter(Endpoint{}),
	}
	out, err := seg.Segment(context.Background(), providers.SegmentRequest{})
	require.NoError(t, err)
	assert.Empty(t, out.Masks)
}

func TestMissingBaseURLIsConfigError(t *testing.T) {
	_, err := NewSegmenter(Endpoint{}).Segment(context.Background(), providers.SegmentRequest{})
	assert.True(t, providers.IsConfig(err))
}
