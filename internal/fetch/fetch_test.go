package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("%PDF-1.7"))
	}))
	defer server.Close()

	result, err := URL(context.Background(), server.URL+"/docs/local-plan.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), result.Body)
	assert.Equal(t, "local-plan.pdf", result.Filename)
	assert.Equal(t, "application/pdf", result.ContentType)
	assert.Equal(t, http.StatusOK, result.StatusCode)
}

func TestURL_ContentDispositionFilename(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="site plan.png"`)
		_, _ = w.Write([]byte("png"))
	}))
	defer server.Close()

	result, err := URL(context.Background(), server.URL+"/download?id=7", nil)
	require.NoError(t, err)
	assert.Equal(t, "site plan.png", result.Filename)
}

func TestURL_TooLarge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("0123456789"))
	}))
	defer server.Close()

	opts := DefaultOptions()
	opts.MaxBytes = 4
	_, err := URL(context.Background(), server.URL, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 4 bytes")
}

func TestURL_InvalidURL(t *testing.T) {
	_, err := URL(context.Background(), "not-a-valid-url", nil)
	require.Error(t, err)

	var fetchErr *Error
	assert.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "invalid URL")
}

func TestURL_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	result, err := URL(context.Background(), server.URL, nil)
	require.Error(t, err)
	assert.NotNil(t, result) // Result is returned even on error
	assert.Equal(t, http.StatusNotFound, result.StatusCode)

	var fetchErr *Error
	assert.ErrorAs(t, err, &fetchErr)
	assert.Contains(t, err.Error(), "404")
}

func TestURL_OptionsAndHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "planning-bot", r.Header.Get("User-Agent"))
		assert.Equal(t, "Bearer portal", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("{}"))
	}))
	defer server.Close()

	// zero fields fall back to the defaults
	result, err := URL(context.Background(), server.URL+"/layers/", &Options{
		UserAgent: "planning-bot",
		Headers:   map[string]string{"Authorization": "Bearer portal"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, result.StatusCode)
	assert.Equal(t, "layers", result.Filename)
}

func TestURL_RejectsNonHTTPSchemes(t *testing.T) {
	for _, raw := range []string{"ftp://example.org/plan.pdf", "file:///etc/passwd", "/relative/plan.pdf"} {
		t.Run(raw, func(t *testing.T) {
			_, err := URL(context.Background(), raw, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid URL")
		})
	}
}

func TestFilenameFor(t *testing.T) {
	tests := []struct {
		name        string
		rawURL      string
		disposition string
		want        string
	}{
		{"path segment", "https://example.org/docs/plan.pdf", "", "plan.pdf"},
		{"root", "https://example.org/", "", "download"},
		{"no path", "https://example.org", "", "download"},
		{"disposition wins", "https://example.org/get?id=1", `attachment; filename="Local Plan.pdf"`, "Local Plan.pdf"},
		{"disposition path stripped", "https://example.org/get", `attachment; filename="../../etc/passwd"`, "passwd"},
		{"bad disposition", "https://example.org/a.pdf", `attachment; filename=`, "a.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := url.Parse(tt.rawURL)
			require.NoError(t, err)
			assert.Equal(t, tt.want, filenameFor(u, tt.disposition))
		})
	}
}

func mainText(t *testing.T, html string, noise ...string) string {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return CleanWhitespace(MainSelection(doc, PolicyDocumentSelectors(), noise...).Text())
}

func TestMainSelection_StripsChrome(t *testing.T) {
	text := mainText(t, `
	<html>
		<body>
			<nav>Navigation</nav>
			<main>
				<h1>Policy H1: Housing Mix</h1>
				<p>Development must provide a mix of homes.</p>
			</main>
			<footer>Footer</footer>
		</body>
	</html>`)
	assert.Contains(t, text, "Housing Mix")
	assert.Contains(t, text, "mix of homes")
	assert.NotContains(t, text, "Navigation")
	assert.NotContains(t, text, "Footer")
}

func TestMainSelection_FallbackToBody(t *testing.T) {
	text := mainText(t, `<html><body><div>Some content here.</div></body></html>`)
	assert.Equal(t, "Some content here.", text)
}

func TestMainSelection_PrefersPolicyContent(t *testing.T) {
	text := mainText(t, `
	<html>
		<body>
			<main>Consultation portal</main>
			<div class="sidebar">Related consultations</div>
			<div class="policy-content">
				<h2>Policy E3</h2>
				<p>Proposals in flood zone 3 will be refused.</p>
				<aside class="sidebar">Related consultations</aside>
			</div>
		</body>
	</html>`, ".sidebar")
	assert.Contains(t, text, "Policy E3")
	assert.Contains(t, text, "flood zone 3")
	assert.NotContains(t, text, "Related consultations")
	assert.NotContains(t, text, "Consultation portal")
}

func TestCleanWhitespace(t *testing.T) {
	assert.Equal(t, "a\nb", CleanWhitespace("  a  \n\n\t\n b "))
	assert.Equal(t, "", CleanWhitespace(" \n\t "))
}
