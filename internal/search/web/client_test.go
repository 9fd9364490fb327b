package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchWithSerpAPI(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		_, _ = io.WriteString(w, `{"organic_results":[
			{"title":"Energy Bill","link":"https://bills.parliament.uk/energy","snippet":"Second reading"},
			{"title":"Other","link":"https://example.org","snippet":"x"}
		]}`)
	}))
	defer srv.Close()

	c := NewClient(Config{SerpAPIKey: "key", SerpAPIURL: srv.URL}).
		WithQueryRewriter(func(_ context.Context, q string) (string, error) { return q + " site:parliament.uk", nil })

	results, err := c.Search(context.Background(), "energy bill", 1)
	require.NoError(t, err)

	assert.Equal(t, "energy bill site:parliament.uk", gotQuery)
	require.Len(t, results, 1)
	assert.Equal(t, "https://bills.parliament.uk/energy", results[0].URL)
}

func TestSearchWithDuckDuckGo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html><body>
			<div class="result"><a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fmembers.parliament.uk%2Fmember%2F1">Paul Holmes MP</a>
			<a class="result__snippet">Member for Hamble Valley</a></div>
			<div class="result"><a class="result__a" href="https://www.gov.uk/x">Gov</a></div>
		</body></html>`)
	}))
	defer srv.Close()

	c := NewClient(Config{DuckDuckGoURL: srv.URL}).
		WithQueryRewriter(func(context.Context, string) (string, error) { return "", errors.New("llm down") })

	results, err := c.Search(context.Background(), "Paul Holmes", 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "https://members.parliament.uk/member/1", results[0].URL)
	assert.Equal(t, "Member for Hamble Valley", results[0].Snippet)
	assert.Equal(t, "https://www.gov.uk/x", results[1].URL)
}

func TestSearchClientErrorIsNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(Config{SerpAPIKey: "bad", SerpAPIURL: srv.URL}).Search(context.Background(), "q", 3)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestExtractText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><nav>menu</nav><p>The   MP
		spoke.</p><script>var x;</script></body></html>`))
	require.NoError(t, err)

	assert.Equal(t, "The MP spoke.", ExtractText(doc, 0))
}

func TestFormatResults(t *testing.T) {
	assert.Equal(t, "No web results found.", FormatResults(nil))

	out := FormatResults([]SearchResult{{Title: "A", URL: "https://a", Snippet: "s"}})
	assert.Equal(t, "[1] A\nURL: https://a\ns", out)
}
