package websearch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNoResults means the search ran but found nothing usable.
var ErrNoResults = errors.New("websearch: no usable results")

// Searcher finds external context for a query.
type Searcher interface {
	Search(ctx context.Context, query string) (string, error)
}

const (
	defaultWikipediaURL = "https://en.wikipedia.org/w/api.php"
	defaultUserAgent    = "Parley/1.0 (https://parleyhq.github.io)"

	// Extracts are capped so a long article intro cannot crowd the
	// user's question out of the context window.
	maxExtractLen = 2500
)

// WikipediaClient fetches article intros through the MediaWiki API.
// A search query resolves to the top-ranked article title, then the
// plain-text intro extract of that article.
type WikipediaClient struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

// WikipediaOption customizes a WikipediaClient.
type WikipediaOption func(*WikipediaClient)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) WikipediaOption {
	return func(c *WikipediaClient) {
		c.httpClient = hc
	}
}

// WithBaseURL overrides the MediaWiki API endpoint.
func WithBaseURL(u string) WikipediaOption {
	return func(c *WikipediaClient) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// NewWikipediaClient creates a client for the English Wikipedia API.
func NewWikipediaClient(opts ...WikipediaOption) *WikipediaClient {
	c := &WikipediaClient{
		baseURL:    defaultWikipediaURL,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type wikiSearchResponse struct {
	Query struct {
		Search []struct {
			Title string `json:"title"`
		} `json:"search"`
	} `json:"query"`
}

type wikiExtractResponse struct {
	Query struct {
		Pages map[string]struct {
			Title   string `json:"title"`
			Extract string `json:"extract"`
		} `json:"pages"`
	} `json:"query"`
}

// Search resolves the query to its best-matching article and returns a
// source block with the intro extract. Disambiguation stubs and empty
// extracts return ErrNoResults.
func (c *WikipediaClient) Search(ctx context.Context, query string) (string, error) {
	searchParams := url.Values{
		"action":   {"query"},
		"format":   {"json"},
		"list":     {"search"},
		"srsearch": {query},
		"srlimit":  {"1"},
	}
	var searchResp wikiSearchResponse
	if err := c.get(ctx, searchParams, &searchResp); err != nil {
		return "", fmt.Errorf("wikipedia search: %w", err)
	}
	if len(searchResp.Query.Search) == 0 {
		return "", ErrNoResults
	}
	title := searchResp.Query.Search[0].Title

	extractParams := url.Values{
		"action":      {"query"},
		"format":      {"json"},
		"prop":        {"extracts"},
		"exintro":     {"1"},
		"explaintext": {"1"},
		"titles":      {title},
	}
	var extractResp wikiExtractResponse
	if err := c.get(ctx, extractParams, &extractResp); err != nil {
		return "", fmt.Errorf("wikipedia extract: %w", err)
	}

	var extract string
	for _, page := range extractResp.Query.Pages {
		extract = page.Extract
		break
	}
	if extract == "" {
		return "", ErrNoResults
	}

	// Disambiguation pages are short lists of links, useless as context.
	if strings.Contains(extract, "refer to:") && len(extract) < 200 {
		return "", ErrNoResults
	}

	if runes := []rune(extract); len(runes) > maxExtractLen {
		extract = string(runes[:maxExtractLen])
	}
	return fmt.Sprintf("Wikipedia Source (%s):\n%s", title, extract), nil
}

func (c *WikipediaClient) get(ctx context.Context, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
