package providers

import (
	"context"
	"fmt"
	"time"
)

// DefaultAcquireTimeout bounds a role acquisition when the gate sets none
const DefaultAcquireTimeout = 5 * time.Minute

// Gate acquires a GPU-bound model role from the scheduler before a provider
// call. Acquisition has its own timeout, separate from the call's.
// A Gate with no scheduler lets every call through.
type Gate struct {
	Scheduler RoleScheduler
	Timeout   time.Duration
}

type endpointKey struct{}

// WithEndpoint records the base URL the scheduler assigned to the current call
func WithEndpoint(ctx context.Context, baseURL string) context.Context {
	if baseURL == "" {
		return ctx
	}
	return context.WithValue(ctx, endpointKey{}, baseURL)
}

// EndpointFrom returns the scheduler-assigned base URL, if any
func EndpointFrom(ctx context.Context) string {
	s, _ := ctx.Value(endpointKey{}).(string)
	return s
}

// Acquire blocks until role is active and returns its base URL
func (g *Gate) Acquire(ctx context.Context, role string) (string, error) {
	if g == nil || g.Scheduler == nil {
		return "", nil
	}
	timeout := g.Timeout
	if timeout <= 0 {
		timeout = DefaultAcquireTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	baseURL, err := g.Scheduler.Ensure(actx, role)
	if err != nil {
		if IsConfig(err) {
			return "", err
		}
		return "", &TransientError{Provider: "scheduler", Message: fmt.Sprintf("failed to acquire role %s", role), Cause: err}
	}
	return baseURL, nil
}

// GatedSegmenter acquires the segmentation role before each call
type GatedSegmenter struct {
	Gate  *Gate
	Role  string
	Inner Segmenter
}

// Segment implements Segmenter
func (g *GatedSegmenter) Segment(ctx context.Context, req SegmentRequest) (*SegmentResult, error) {
	baseURL, err := g.Gate.Acquire(ctx, g.Role)
	if err != nil {
		return nil, err
	}
	ctx = WithEndpoint(ctx, baseURL)
	return g.Inner.Segment(ctx, req)
}

// GatedVectorizer acquires the vectorization role before each call
type GatedVectorizer struct {
	Gate  *Gate
	Role  string
	Inner Vectorizer
}

// Vectorize implements Vectorizer
func (g *GatedVectorizer) Vectorize(ctx context.Context, req VectorizeRequest) (*VectorizeResult, error) {
	baseURL, err := g.Gate.Acquire(ctx, g.Role)
	if err != nil {
		return nil, err
	}
	ctx = WithEndpoint(ctx, baseURL)
	return g.Inner.Vectorize(ctx, req)
}

// GatedLLM acquires the LLM role before each call
type GatedLLM struct {
	Gate  *Gate
	Role  string
	Inner StructuredLLM
}

// GenerateStructured implements StructuredLLM
func (g *GatedLLM) GenerateStructured(ctx context.Context, req StructuredRequest) (*StructuredResult, error) {
	baseURL, err := g.Gate.Acquire(ctx, g.Role)
	if err != nil {
		return nil, err
	}
	ctx = WithEndpoint(ctx, baseURL)
	return g.Inner.GenerateStructured(ctx, req)
}

// GatedVLM acquires the VLM role before each call
type GatedVLM struct {
	Gate  *Gate
	Role  string
	Inner VisionLLM
}

// GenerateStructuredVision implements VisionLLM
func (g *GatedVLM) GenerateStructuredVision(ctx context.Context, req StructuredRequest, images []Image) (*StructuredResult, error) {
	baseURL, err := g.Gate.Acquire(ctx, g.Role)
	if err != nil {
		return nil, err
	}
	ctx = WithEndpoint(ctx, baseURL)
	return g.Inner.GenerateStructuredVision(ctx, req, images)
}
