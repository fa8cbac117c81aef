// Package httpapi implements the provider contracts over JSON HTTP services.
// Images travel base64-encoded; every answer is validated before it is returned.
package httpapi

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/jonathan/planning-ingest/internal/geometry"
	"github.com/jonathan/planning-ingest/internal/providers"
	"github.com/jonathan/planning-ingest/internal/types"
)

var (
	_ providers.DocumentParser = (*Parser)(nil)
	_ providers.Segmenter      = (*Segmenter)(nil)
	_ providers.Vectorizer     = (*Vectorizer)(nil)
	_ providers.Georeferencer  = (*Georeferencer)(nil)
	_ providers.RoleScheduler  = (*Scheduler)(nil)
)

// Endpoint is the connection info shared by every client here
type Endpoint struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	HTTP    *http.Client
}

func (e Endpoint) client(provider string) *providers.HTTPClient {
	return &providers.HTTPClient{
		Provider: provider,
		BaseURL:  e.BaseURL,
		Timeout:  e.Timeout,
		Token:    e.Token,
		HTTP:     e.HTTP,
	}
}

type imagePayload struct {
	Base64   string `json:"base64"`
	MIMEType string `json:"mime_type,omitempty"`
}

func encodeImage(img providers.Image) imagePayload {
	return imagePayload{Base64: base64.StdEncoding.EncodeToString(img.Data), MIMEType: img.MIMEType}
}

// ----------------------------------------------------------------------------
// Parser
// ----------------------------------------------------------------------------

// Parser calls POST /parse
type Parser struct {
	c *providers.HTTPClient
}

// NewParser creates a document parser client
func NewParser(e Endpoint) *Parser {
	return &Parser{c: e.client("docparse")}
}

type parseRequest struct {
	BlobPath    string         `json:"blob_path"`
	Filename    string         `json:"filename"`
	ContentType string         `json:"content_type,omitempty"`
	FileBase64  string         `json:"file_base64"`
	Options     map[string]any `json:"options,omitempty"`
}

// Parse implements providers.DocumentParser
func (p *Parser) Parse(ctx context.Context, req providers.ParseRequest) (*types.Bundle, error) {
	in := parseRequest{
		BlobPath:    req.BlobPath,
		Filename:    req.Filename,
		ContentType: req.ContentType,
		FileBase64:  base64.StdEncoding.EncodeToString(req.Data),
		Options:     req.Options,
	}
	var out types.Bundle
	if err := p.c.Call(ctx, "/parse", in, &out); err != nil {
		return nil, err
	}
	if err := providers.ValidateOutput(p.c.Provider, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ----------------------------------------------------------------------------
// Segmenter
// ----------------------------------------------------------------------------

// Segmenter calls POST /segment
type Segmenter struct {
	c *providers.HTTPClient
}

// NewSegmenter creates a segmentation client
func NewSegmenter(e Endpoint) *Segmenter {
	return &Segmenter{c: e.client("segmentation")}
}

type segmentRequest struct {
	Image   imagePayload   `json:"image"`
	Prompts []string       `json:"prompts,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// Segment implements providers.Segmenter
func (s *Segmenter) Segment(ctx context.Context, req providers.SegmentRequest) (*providers.SegmentResult, error) {
	in := segmentRequest{Image: encodeImage(req.Image), Prompts: req.Prompts, Options: req.Options}
	var out providers.SegmentResult
	if err := s.c.Call(ctx, "/segment", in, &out); err != nil {
		return nil, err
	}
	if err := providers.ValidateOutput(s.c.Provider, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ----------------------------------------------------------------------------
// Vectorizer
// ----------------------------------------------------------------------------

// Vectorizer calls POST /vectorize
type Vectorizer struct {
	c *providers.HTTPClient
}

// NewVectorizer creates a vectorization client
func NewVectorizer(e Endpoint) *Vectorizer {
	return &Vectorizer{c: e.client("vectorization")}
}

// Vectorize implements providers.Vectorizer
func (v *Vectorizer) Vectorize(ctx context.Context, req providers.VectorizeRequest) (*providers.VectorizeResult, error) {
	in := segmentRequest{Image: encodeImage(req.Image), Prompts: req.Prompts, Options: req.Options}
	var out providers.VectorizeResult
	if err := v.c.Call(ctx, "/vectorize", in, &out); err != nil {
		return nil, err
	}
	if err := providers.ValidateOutput(v.c.Provider, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ----------------------------------------------------------------------------
// Georeferencer
// ----------------------------------------------------------------------------

// Georeferencer calls POST /georeference
type Georeferencer struct {
	c *providers.HTTPClient
}

// NewGeoreferencer creates a georeferencing client
func NewGeoreferencer(e Endpoint) *Georeferencer {
	return &Georeferencer{c: e.client("georeference")}
}

type georefRequest struct {
	Image       imagePayload   `json:"image"`
	TargetCRS   string         `json:"target_crs"`
	RedlineMask *imagePayload  `json:"redline_mask,omitempty"`
	SiteAddress string         `json:"site_address,omitempty"`
	SitePoint   *[2]float64    `json:"site_point,omitempty"`
	SiteBBox    *geometry.BBox `json:"site_bbox,omitempty"`
}

// Georeference implements providers.Georeferencer
func (g *Georeferencer) Georeference(ctx context.Context, req providers.GeorefRequest) (*providers.GeorefResult, error) {
	in := georefRequest{
		Image:       encodeImage(req.Image),
		TargetCRS:   req.TargetCRS,
		SiteAddress: req.SiteAddress,
		SitePoint:   req.SitePoint,
		SiteBBox:    req.SiteBBox,
	}
	if req.RedlineMask != nil {
		m := encodeImage(*req.RedlineMask)
		in.RedlineMask = &m
	}
	var out providers.GeorefResult
	if err := g.c.Call(ctx, "/georeference", in, &out); err != nil {
		return nil, err
	}
	if err := providers.ValidateOutput(g.c.Provider, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ----------------------------------------------------------------------------
// Scheduler
// ----------------------------------------------------------------------------

// Scheduler talks to the GPU model-role scheduler
type Scheduler struct {
	c *providers.HTTPClient
}

// NewScheduler creates a role scheduler client
func NewScheduler(e Endpoint) *Scheduler {
	return &Scheduler{c: e.client("scheduler")}
}

type ensureResponse struct {
	BaseURL string `json:"base_url" validate:"required,url"`
}

// Ensure blocks until the role is active and returns where it is served
func (s *Scheduler) Ensure(ctx context.Context, role string) (string, error) {
	var out ensureResponse
	if err := s.c.Call(ctx, fmt.Sprintf("/roles/%s/ensure", role), struct{}{}, &out); err != nil {
		return "", err
	}
	if err := providers.ValidateOutput(s.c.Provider, &out); err != nil {
		return "", err
	}
	return out.BaseURL, nil
}

// Stop releases the role
func (s *Scheduler) Stop(ctx context.Context, role string) error {
	return s.c.Call(ctx, fmt.Sprintf("/roles/%s/stop", role), struct{}{}, nil)
}
