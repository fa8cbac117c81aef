package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_MissingBaseURL(t *testing.T) {
	c := &HTTPClient{Provider: "segmentation"}
	err := c.Call(context.Background(), "/segment", map[string]any{}, nil)
	require.Error(t, err)
	assert.True(t, IsConfig(err))
	assert.Equal(t, "config", Classify(err))
}

func TestHTTPClient_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		class    string
		wantCode int
	}{
		{name: "server error is transient", status: 503, body: "down", class: "transient", wantCode: 503},
		{name: "rate limit is transient", status: 429, body: "slow down", class: "transient", wantCode: 429},
		{name: "garbage body is malformed", status: 200, body: "<html>", class: "malformed"},
		{name: "client error is plain", status: 400, body: "bad", class: "error"},
		{name: "valid json", status: 200, body: `{"ok":true}`, class: "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/v1/segment", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := &HTTPClient{Provider: "segmentation", BaseURL: srv.URL + "/v1/"}
			var out map[string]any
			err := c.Call(context.Background(), "/segment", map[string]any{"x": 1}, &out)
			assert.Equal(t, tt.class, Classify(err))

			if tt.wantCode != 0 {
				var te *TransientError
				require.True(t, errors.As(err, &te))
				assert.Equal(t, tt.wantCode, te.StatusCode)
			}
			if tt.class == "ok" {
				assert.Equal(t, true, out["ok"])
			}
		})
	}
}

func TestHTTPClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := &HTTPClient{Provider: "vectorization", BaseURL: srv.URL, Timeout: 50 * time.Millisecond}
	err := c.Call(context.Background(), "vectorize", map[string]any{}, nil)
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "timed out")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "ok", Classify(nil))
	assert.Equal(t, "transient", Classify(fmt.Errorf("wrap: %w", context.DeadlineExceeded)))
	assert.Equal(t, "malformed", Classify(&MalformedOutputError{Provider: "llm", Message: "bad json"}))
	assert.Equal(t, "error", Classify(errors.New("boom")))
}

func TestValidateOutput(t *testing.T) {
	err := ValidateOutput("segmentation", &SegmentResult{Masks: []SegmentMask{{Label: "x"}}})
	require.Error(t, err)
	assert.True(t, IsMalformed(err))

	err = ValidateOutput("segmentation", &SegmentResult{Masks: []SegmentMask{{MaskPNGBase64: "AAAA", BBox: []float64{1, 2, 3}}}})
	assert.True(t, IsMalformed(err))

	assert.NoError(t, ValidateOutput("georeference", &GeorefResult{Affine: []float64{1, 0, 0, 0, 1, 0}}))
}

type slowScheduler struct {
	delay  time.Duration
	calls  []string
	failOn string
}

func (s *slowScheduler) Ensure(ctx context.Context, role string) (string, error) {
	s.calls = append(s.calls, role)
	if role == s.failOn {
		return "", &ConfigError{Provider: "scheduler", Message: "unknown role"}
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(s.delay):
		return "http://gpu/" + role, nil
	}
}

func (s *slowScheduler) Stop(context.Context, string) error { return nil }

type countingSegmenter struct{ calls int }

func (c *countingSegmenter) Segment(context.Context, SegmentRequest) (*SegmentResult, error) {
	c.calls++
	return &SegmentResult{}, nil
}

func TestGate_AcquiresBeforeCall(t *testing.T) {
	sched := &slowScheduler{}
	inner := &countingSegmenter{}
	seg := &GatedSegmenter{Gate: &Gate{Scheduler: sched, Timeout: time.Second}, Role: RoleSegmentation, Inner: inner}

	_, err := seg.Segment(context.Background(), SegmentRequest{})
	require.NoError(t, err)
	assert.Equal(t, []string{RoleSegmentation}, sched.calls)
	assert.Equal(t, 1, inner.calls)
}

func TestGate_AcquisitionTimeoutSkipsCall(t *testing.T) {
	sched := &slowScheduler{delay: time.Second}
	inner := &countingSegmenter{}
	seg := &GatedSegmenter{Gate: &Gate{Scheduler: sched, Timeout: 20 * time.Millisecond}, Role: RoleSegmentation, Inner: inner}

	_, err := seg.Segment(context.Background(), SegmentRequest{})
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.Zero(t, inner.calls)
}

func TestGate_ConfigErrorPassesThrough(t *testing.T) {
	g := &Gate{Scheduler: &slowScheduler{failOn: RoleVLM}}
	_, err := g.Acquire(context.Background(), RoleVLM)
	assert.True(t, IsConfig(err))
}

func TestGate_NilSchedulerIsOpen(t *testing.T) {
	var g *Gate
	url, err := g.Acquire(context.Background(), RoleLLM)
	require.NoError(t, err)
	assert.Empty(t, url)
}
