// Package fetch downloads planning documents and GIS layers and locates the
// policy content of HTML pages.
package fetch

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 60 * time.Second
	// DefaultUserAgent identifies the ingester to planning portals.
	DefaultUserAgent = "Mozilla/5.0 (compatible; PlanningIngest/1.0)"
	// DefaultMaxBytes caps a single download.
	DefaultMaxBytes = 200 << 20
)

// Result holds a downloaded object.
type Result struct {
	URL         string
	Body        []byte
	Filename    string
	ContentType string
	StatusCode  int
}

// Error represents an error during URL fetching.
type Error struct {
	URL     string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the fetch behavior. The zero value uses the defaults.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	MaxBytes  int64
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() *Options {
	return &Options{
		Timeout:   DefaultTimeout,
		UserAgent: DefaultUserAgent,
		MaxBytes:  DefaultMaxBytes,
	}
}

func (o *Options) withDefaults() Options {
	out := *DefaultOptions()
	if o == nil {
		return out
	}
	if o.Timeout > 0 {
		out.Timeout = o.Timeout
	}
	if o.UserAgent != "" {
		out.UserAgent = o.UserAgent
	}
	if o.MaxBytes > 0 {
		out.MaxBytes = o.MaxBytes
	}
	out.Headers = o.Headers
	return out
}

// URL downloads the raw bytes behind a URL. Any status outside 2xx is an
// *Error; the Result is still returned so callers can inspect the status.
func URL(ctx context.Context, rawURL string, opts *Options) (*Result, error) {
	o := opts.withDefaults()
	fail := func(msg string, cause error) *Error {
		return &Error{URL: rawURL, Message: msg, Cause: cause}
	}

	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fail("invalid URL", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fail("failed to create request", err)
	}
	req.Header.Set("User-Agent", o.UserAgent)
	for k, v := range o.Headers {
		req.Header.Set(k, v)
	}

	resp, err := (&http.Client{Timeout: o.Timeout}).Do(req)
	if err != nil {
		return nil, fail("HTTP request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, o.MaxBytes+1))
	if err != nil {
		return nil, fail("failed to read response body", err)
	}
	if int64(len(body)) > o.MaxBytes {
		return nil, fail(fmt.Sprintf("response exceeds %d bytes", o.MaxBytes), nil)
	}

	res := &Result{
		URL:         rawURL,
		Body:        body,
		Filename:    filenameFor(u, resp.Header.Get("Content-Disposition")),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return res, fail(fmt.Sprintf("HTTP status %d", resp.StatusCode), nil)
	}
	return res, nil
}

// filenameFor prefers the Content-Disposition filename, then the last path segment.
func filenameFor(u *url.URL, disposition string) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
			return path.Base(params["filename"])
		}
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}

// ----------------------------------------------------------------------------
// HTML
// ----------------------------------------------------------------------------

// pageChrome is removed from every page before content selection
const pageChrome = "nav, footer, header, script, style, noscript, .cookie-banner, .popup, .breadcrumb, .skip-link"

// MainSelection strips page chrome and any noise selectors from doc, then
// returns the first element matching contentSelectors, or body.
func MainSelection(doc *goquery.Document, contentSelectors []string, noiseSelectors ...string) *goquery.Selection {
	doc.Find(pageChrome).Remove()
	if len(noiseSelectors) > 0 {
		doc.Find(strings.Join(noiseSelectors, ", ")).Remove()
	}
	for _, sel := range contentSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			return s.First()
		}
	}
	return doc.Find("body")
}

// PolicyDocumentSelectors returns selectors for local plan pages published as
// HTML, most specific first.
func PolicyDocumentSelectors() []string {
	return []string{
		".policy-content",
		".local-plan",
		"#policy",
		".document-body",
		"main",
		"article",
		".content",
		"#content",
	}
}

// CleanWhitespace trims every line and drops empty ones.
func CleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
