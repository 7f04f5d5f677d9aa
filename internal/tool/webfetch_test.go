package tool

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPage = `<html><head><title>T</title><style>body{}</style><script>var x=1;</script></head>
<body><h1>Heading</h1><p>Some <b>bold</b> text.</p></body></html>`

func TestWebFetchTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/page":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(testPage))
		case "/plain":
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte("just text"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	fetch := NewWebFetchToolWithClient(srv.Client())
	toolCtx, _ := testContext(t, t.TempDir())

	t.Run("markdown", func(t *testing.T) {
		res, err := run(t, fetch, toolCtx, `{"url": "`+srv.URL+`/page", "format": "markdown"}`)
		require.NoError(t, err)
		assert.Contains(t, res.Output, "# Heading")
		assert.Contains(t, res.Output, "**bold**")
		assert.NotContains(t, res.Output, "var x")
	})

	t.Run("text", func(t *testing.T) {
		res, err := run(t, fetch, toolCtx, `{"url": "`+srv.URL+`/page", "format": "text"}`)
		require.NoError(t, err)
		assert.Contains(t, res.Output, "Heading")
		assert.NotContains(t, res.Output, "<h1>")
		assert.NotContains(t, res.Output, "body{}")
	})

	t.Run("html passthrough", func(t *testing.T) {
		res, err := run(t, fetch, toolCtx, `{"url": "`+srv.URL+`/page", "format": "html"}`)
		require.NoError(t, err)
		assert.Equal(t, testPage, res.Output)
	})

	t.Run("non html kept verbatim", func(t *testing.T) {
		res, err := run(t, fetch, toolCtx, `{"url": "`+srv.URL+`/plain"}`)
		require.NoError(t, err)
		assert.Equal(t, "just text", res.Output)
	})

	t.Run("status error", func(t *testing.T) {
		_, err := run(t, fetch, toolCtx, `{"url": "`+srv.URL+`/missing", "format": "text"}`)
		assert.ErrorContains(t, err, "404")
	})

	t.Run("bad scheme", func(t *testing.T) {
		_, err := run(t, fetch, toolCtx, `{"url": "ftp://example.com", "format": "text"}`)
		assert.Error(t, err)
	})
}

func TestCollapseBlankLines(t *testing.T) {
	assert.Equal(t, "a\n\nb", collapseBlankLines("  a  \n\n\n\n  b\n"))
}
