package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/humboldt-lab/humboldt/internal/research"
)

// braveSearchBase is the Brave web search endpoint. Declared as a var so
// tests can substitute an httptest server.
var braveSearchBase = "https://api.search.brave.com/res/v1/web/search"

// braveMaxCount is the largest page size the API accepts.
const braveMaxCount = 20

// WebSearchAdapter queries the Brave web search API for general web results.
type WebSearchAdapter struct {
	apiKey string
	client *http.Client
}

// NewWebSearchAdapter builds the web adapter. The key is required at fetch
// time, not construction, so a keyless deployment can still register the
// adapter and surface a clean per-round provider error.
func NewWebSearchAdapter(apiKey string) *WebSearchAdapter {
	return &WebSearchAdapter{
		apiKey: apiKey,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Kind returns the provider kind this adapter serves.
func (a *WebSearchAdapter) Kind() research.ProviderKind { return research.ProviderWeb }

// braveResponse is the wire shape of a web search reply.
type braveResponse struct {
	Web struct {
		Results []braveResult `json:"results"`
	} `json:"web"`
}

type braveResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PageAge     string `json:"page_age"`
}

// Fetch runs one web search and normalizes the results.
func (a *WebSearchAdapter) Fetch(ctx context.Context, query string, limit int) ([]research.SourceRecord, error) {
	if a.apiKey == "" {
		return nil, errors.New("web search API key not configured")
	}
	if limit <= 0 {
		return nil, nil
	}
	if limit > braveMaxCount {
		limit = braveMaxCount
	}

	params := url.Values{
		"q":     {query},
		"count": {strconv.Itoa(limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, braveSearchBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("web search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("web search returned HTTP %d", resp.StatusCode)
	}

	var raw braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing web search response: %w", err)
	}

	records := make([]research.SourceRecord, 0, len(raw.Web.Results))
	for _, res := range raw.Web.Results {
		if len(records) >= limit {
			break
		}
		if res.URL == "" {
			continue
		}
		rec := research.SourceRecord{
			ID:           research.CanonicalID(research.ProviderWeb, res.URL, "", res.URL),
			ProviderKind: research.ProviderWeb,
			URL:          res.URL,
			Title:        res.Title,
			Snippet:      truncateSnippet(res.Description, maxSnippetRunes),
		}
		if ts := parsePageAge(res.PageAge); ts != nil {
			rec.PublishedAt = ts
		}
		records = append(records, rec)
	}
	return records, nil
}

// parsePageAge handles the zone-less timestamp Brave puts in page_age, plus
// the bare date some results carry.
func parsePageAge(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
