package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/civic-sage/backend/internal/metrics"
	"github.com/civic-sage/backend/pkg/circuitbreaker"
	"github.com/civic-sage/backend/pkg/logger"
	"github.com/civic-sage/backend/pkg/retry"
)

const (
	defaultSerpAPIURL    = "https://serpapi.com/search"
	defaultDuckDuckGoURL = "https://html.duckduckgo.com/html/"
	maxContentChars      = 5000
	userAgent            = "Mozilla/5.0 (compatible; CivicSage/1.0)"
)

// QueryRewriter turns a free-form question into a search engine query.
type QueryRewriter func(ctx context.Context, query string) (string, error)

type Config struct {
	SerpAPIKey    string
	SerpAPIURL    string
	DuckDuckGoURL string
	Timeout       time.Duration
	ScrapePages   bool
}

type Client struct {
	serpAPIKey    string
	serpAPIURL    string
	duckDuckGoURL string
	scrapePages   bool
	rewrite       QueryRewriter
	httpClient    *http.Client
	cb            *circuitbreaker.CircuitBreaker
	retryConfig   retry.Config
}

type SearchResult struct {
	Title   string
	URL     string
	Snippet string
	Content string
}

func NewClient(cfg Config) *Client {
	if cfg.SerpAPIURL == "" {
		cfg.SerpAPIURL = defaultSerpAPIURL
	}
	if cfg.DuckDuckGoURL == "" {
		cfg.DuckDuckGoURL = defaultDuckDuckGoURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		serpAPIKey:    cfg.SerpAPIKey,
		serpAPIURL:    cfg.SerpAPIURL,
		duckDuckGoURL: cfg.DuckDuckGoURL,
		scrapePages:   cfg.ScrapePages,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		cb: circuitbreaker.NewCircuitBreaker("web_search", circuitbreaker.Config{
			FailureThreshold: 5,
			Timeout:          30 * time.Second,
			Logger:           logger.Named("web_search"),
			OnStateChange:    metrics.BreakerStateChanged,
		}),
		retryConfig: retry.Config{
			MaxAttempts:  2,
			InitialDelay: 300 * time.Millisecond,
			Logger:       logger.Named("web_search"),
		},
	}
}

// WithQueryRewriter sets a hook that optimises queries before searching.
func (c *Client) WithQueryRewriter(fn QueryRewriter) *Client {
	c.rewrite = fn
	return c
}

func (c *Client) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	logger.Info("Performing web search", zap.String("query", query))

	if c.rewrite != nil {
		optimized, err := c.rewrite(ctx, query)
		if err != nil {
			logger.Warn("Failed to optimize query, using original", zap.Error(err))
		} else {
			query = optimized
		}
	}

	var results []SearchResult
	err := c.cb.Execute(ctx, func() error {
		return retry.Do(ctx, c.retryConfig, func() error {
			var err error
			if c.serpAPIKey != "" {
				results, err = c.searchWithSerpAPI(ctx, query, maxResults)
			} else {
				results, err = c.searchWithDuckDuckGo(ctx, query, maxResults)
			}
			return err
		})
	})
	if err != nil {
		return nil, err
	}

	if c.scrapePages {
		for i := range results {
			content, err := c.scrapeContent(ctx, results[i].URL)
			if err != nil {
				logger.Warn("Failed to scrape content", zap.String("url", results[i].URL), zap.Error(err))
				continue
			}
			results[i].Content = content
		}
	}

	logger.Info("Web search completed", zap.Int("results", len(results)))

	return results, nil
}

func (c *Client) searchWithSerpAPI(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	params := url.Values{}
	params.Add("q", query)
	params.Add("api_key", c.serpAPIKey)
	params.Add("num", fmt.Sprintf("%d", maxResults))
	params.Add("gl", "uk")

	body, err := c.get(ctx, c.serpAPIURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var searchResp struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := json.NewDecoder(body).Decode(&searchResp); err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse response: %w", err))
	}

	results := make([]SearchResult, 0, len(searchResp.OrganicResults))
	for _, r := range searchResp.OrganicResults {
		if len(results) == maxResults {
			break
		}
		results = append(results, SearchResult{Title: r.Title, URL: r.Link, Snippet: r.Snippet})
	}
	return results, nil
}

func (c *Client) searchWithDuckDuckGo(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	body, err := c.get(ctx, c.duckDuckGoURL+"?q="+url.QueryEscape(query))
	if err != nil {
		return nil, err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to parse HTML: %w", err))
	}

	results := make([]SearchResult, 0, maxResults)
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find("a.result__a")
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     resolveRedirect(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").Text()),
		})
		return len(results) < maxResults
	})

	return results, nil
}

// resolveRedirect unwraps DuckDuckGo's "/l/?uddg=<target>" links.
func resolveRedirect(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	if u.Scheme == "" {
		u.Scheme = "https"
	}
	return u.String()
}

func (c *Client) scrapeContent(ctx context.Context, pageURL string) (string, error) {
	body, err := c.get(ctx, pageURL)
	if err != nil {
		return "", err
	}
	defer body.Close()

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return "", err
	}

	return ExtractText(doc, maxContentChars), nil
}

// ExtractText returns the visible body text of an HTML document with
// whitespace collapsed, truncated to limit bytes when limit > 0.
func ExtractText(doc *goquery.Document, limit int) string {
	doc.Find("script, style, nav, footer, header, noscript").Remove()
	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if limit > 0 && len(text) > limit {
		text = text[:limit]
	}
	return text
}

func (c *Client) get(ctx context.Context, target string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		err := fmt.Errorf("search returned status %d", resp.StatusCode)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, retry.Permanent(err)
		}
		return nil, err
	}
	return resp.Body, nil
}

// FormatResults renders results as the plain-text tool output handed back to
// the model.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No web results found."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\nURL: %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			b.WriteString(r.Snippet)
			b.WriteByte('\n')
		}
		if r.Content != "" {
			b.WriteString(r.Content)
			b.WriteByte('\n')
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
