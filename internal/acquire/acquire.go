// Package acquire fetches web search results and turns them into JSON record
// files the ingestor can consume. It speaks the Brave Search REST API; the
// result snippets become the document text, so no page crawling is needed.
package acquire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// defaultEndpoint is the Brave web search API.
const defaultEndpoint = "https://api.search.brave.com/res/v1/web/search"

// maxResults is the per-request result cap imposed by the API.
const maxResults = 20

// Config holds connection parameters for the search API.
type Config struct {
	// APIKey is the subscription token. Required; the usual source is the
	// BRAVE_SEARCH_API_KEY env var.
	APIKey string

	// Endpoint overrides the API URL. Defaults to the Brave web search API.
	Endpoint string

	// Timeout is the per-request timeout. Defaults to 30s if zero.
	Timeout time.Duration

	// Logger is the structured logger. Defaults to slog.Default if nil.
	Logger *slog.Logger
}

// SearchResult is one hit returned by the search API.
type SearchResult struct {
	// Title is the page title.
	Title string `json:"title"`
	// URL is the page address.
	URL string `json:"url"`
	// Snippet is the result description text.
	Snippet string `json:"snippet"`
	// PublishedDate is the age string reported by the API, when present.
	PublishedDate string `json:"published_date,omitempty"`
	// Language is the detected page language, when present.
	Language string `json:"language,omitempty"`
}

// Client queries the search API.
type Client struct {
	http     *http.Client
	endpoint string
	apiKey   string
	log      *slog.Logger
}

// NewClient constructs a search API client. The API key is required.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("acquire: search API key must not be empty (set BRAVE_SEARCH_API_KEY)")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		http:     &http.Client{Timeout: cfg.Timeout},
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		log:      cfg.Logger,
	}, nil
}

// searchResponse mirrors the slice of the API response this package reads.
type searchResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
			Age         string `json:"age"`
			Language    string `json:"language"`
		} `json:"results"`
	} `json:"web"`
}

// Search runs one web search and returns the parsed results. count is capped
// at the API limit of 20; zero or negative means 10.
func (c *Client) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("acquire: query must not be empty")
	}
	if count <= 0 {
		count = 10
	}
	if count > maxResults {
		count = maxResults
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("acquire: build search request: %w", err)
	}
	q := req.URL.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", c.apiKey)

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acquire: search request failed: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
		return nil, fmt.Errorf("acquire: search returned status %d: %s",
			res.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("acquire: decode search response: %w", err)
	}

	results := make([]SearchResult, 0, len(parsed.Web.Results))
	for _, item := range parsed.Web.Results {
		results = append(results, SearchResult{
			Title:         item.Title,
			URL:           item.URL,
			Snippet:       item.Description,
			PublishedDate: item.Age,
			Language:      item.Language,
		})
	}

	c.log.Info("search completed",
		slog.String("query", query),
		slog.Int("results", len(results)),
	)
	return results, nil
}
