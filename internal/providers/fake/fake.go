// Package fake provides deterministic in-process providers for tests and
// dry runs. Every fake counts its calls and can be told to fail.
package fake

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/types"
)

// counter is embedded by every fake
type counter struct {
	mu    sync.Mutex
	calls int
}

func (c *counter) hit() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.calls
}

// Calls returns how many times the fake was invoked
func (c *counter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Parser returns a fixed bundle
type Parser struct {
	counter
	Bundle *types.Bundle
	Err    error
}

func (p *Parser) Parse(_ context.Context, _ providers.ParseRequest) (*types.Bundle, error) {
	p.hit()
	if p.Err != nil {
		return nil, p.Err
	}
	b := *p.Bundle
	return &b, nil
}

// Segmenter returns the same masks for every image
type Segmenter struct {
	counter
	Masks []providers.SegmentMask
	Err   error
}

func (s *Segmenter) Segment(_ context.Context, _ providers.SegmentRequest) (*providers.SegmentResult, error) {
	s.hit()
	if s.Err != nil {
		return nil, s.Err
	}
	return &providers.SegmentResult{Masks: append([]providers.SegmentMask(nil), s.Masks...)}, nil
}

// Vectorizer returns a fixed feature collection
type Vectorizer struct {
	counter
	GeoJSON string
	Err     error
}

func (v *Vectorizer) Vectorize(_ context.Context, _ providers.VectorizeRequest) (*providers.VectorizeResult, error) {
	v.hit()
	if v.Err != nil {
		return nil, v.Err
	}
	return &providers.VectorizeResult{FeaturesGeoJSON: json.RawMessage(v.GeoJSON), Limitations: "fake vectorizer"}, nil
}

// Georeferencer returns an identity-scaled affine transform
type Georeferencer struct {
	counter
	Affine []float64
	Err    error
	Last   providers.GeorefRequest
}

func (g *Georeferencer) Georeference(_ context.Context, req providers.GeorefRequest) (*providers.GeorefResult, error) {
	g.hit()
	g.mu.Lock()
	g.Last = req
	g.mu.Unlock()
	if g.Err != nil {
		return nil, g.Err
	}
	affine := g.Affine
	if affine == nil {
		affine = []float64{1, 0, 0, 0, -1, 0}
	}
	rms := 1.5
	return &providers.GeorefResult{Affine: affine, RMSError: &rms, ControlPoints: 4}, nil
}

// LLM answers with a fixed text chosen by the request schema, or Default
type LLM struct {
	counter
	// Answers maps a substring of the request schema to the raw answer.
	Answers map[string]string
	Default string
	Err     error
}

func (l *LLM) answer(req providers.StructuredRequest) (*providers.StructuredResult, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	raw := l.Default
	for key, a := range l.Answers {
		if key != "" && strings.Contains(req.Schema, key) {
			raw = a
			break
		}
	}
	res := &providers.StructuredResult{RawText: raw, ModelID: "fake-llm"}
	if json.Valid([]byte(raw)) {
		res.JSON = json.RawMessage(raw)
	}
	return res, nil
}

func (l *LLM) GenerateStructured(_ context.Context, req providers.StructuredRequest) (*providers.StructuredResult, error) {
	l.hit()
	return l.answer(req)
}

func (l *LLM) GenerateStructuredVision(_ context.Context, req providers.StructuredRequest, _ []providers.Image) (*providers.StructuredResult, error) {
	l.hit()
	return l.answer(req)
}

// Embedder derives a unit vector from an FNV hash of each text
type Embedder struct {
	counter
	Dim   int
	Err   error
	texts int
}

func (e *Embedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.hit()
	if e.Err != nil {
		return nil, e.Err
	}
	e.mu.Lock()
	e.texts += len(texts)
	e.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = hashVector(t, e.Dimension())
	}
	return out, nil
}

// Texts returns how many texts were embedded in total
func (e *Embedder) Texts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.texts
}

func (e *Embedder) Model() string { return "fake-embedding" }

func (e *Embedder) Dimension() int {
	if e.Dim <= 0 {
		return 8
	}
	return e.Dim
}

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	var norm float64
	for i := range v {
		h := fnv.New64a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		x := float64(h.Sum64()%2000)/1000 - 1
		v[i] = float32(x)
		norm += x * x
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}

// Scheduler grants every role at a fixed base URL and records the order
type Scheduler struct {
	counter
	BaseURL string
	Err     error
	Roles   []string
}

func (s *Scheduler) Ensure(_ context.Context, role string) (string, error) {
	s.hit()
	s.mu.Lock()
	s.Roles = append(s.Roles, role)
	s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	return s.BaseURL, nil
}

func (s *Scheduler) Stop(_ context.Context, _ string) error {
	return nil
}
