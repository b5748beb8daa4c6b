package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/humboldt-lab/humboldt/internal/research"
)

// openAlexBase is the OpenAlex Works search endpoint. Declared as a var so
// tests can substitute an httptest server.
var openAlexBase = "https://api.openalex.org/works"

// openAlexMaxPerPage is the largest page size the API accepts.
const openAlexMaxPerPage = 200

// defaultUserAgent identifies the orchestrator to upstream APIs.
const defaultUserAgent = "humboldt-orchestrator/1.0"

// openAlexClient is shared by the literature and preprint adapters; both
// query the same Works endpoint with different filters.
type openAlexClient struct {
	// mailto is sent for polite pool access.
	mailto string
	client *http.Client
}

func newOpenAlexClient(mailto string) *openAlexClient {
	return &openAlexClient{
		mailto: mailto,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *openAlexClient) fetchWorks(ctx context.Context, query string, limit int, filters []string) ([]openAlexWork, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > openAlexMaxPerPage {
		limit = openAlexMaxPerPage
	}

	params := url.Values{
		"search":   {query},
		"per_page": {strconv.Itoa(limit)},
		"page":     {"1"},
	}
	if len(filters) > 0 {
		params.Set("filter", strings.Join(filters, ","))
	}
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("OpenAlex API request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oar openAlexResponse
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return nil, fmt.Errorf("parsing OpenAlex response: %w", err)
	}
	return oar.Results, nil
}

// recordFromWork normalizes one OpenAlex work. DOI is preferred as the
// canonical identifier since OpenAlex is DOI-centric; the landing page URL
// is next, then the work's own OpenAlex URL.
func recordFromWork(kind research.ProviderKind, work openAlexWork) (research.SourceRecord, bool) {
	doi := strings.TrimPrefix(work.DOI, "https://doi.org/")
	landing := work.PrimaryLocation.LandingPageURL
	if landing == "" {
		landing = work.ID
	}
	if doi == "" && landing == "" {
		return research.SourceRecord{}, false
	}

	rec := research.SourceRecord{
		ID:           research.CanonicalID(kind, landing, doi, work.ID),
		ProviderKind: kind,
		URL:          landing,
		Title:        work.Title,
		Snippet:      truncateSnippet(reconstructAbstract(work.AbstractInvertedIndex), maxSnippetRunes),
	}

	if work.PublicationDate != "" {
		if t, err := time.Parse("2006-01-02", work.PublicationDate); err == nil {
			t = t.UTC()
			rec.PublishedAt = &t
		}
	}
	if rec.PublishedAt == nil && work.PublicationYear > 0 {
		t := time.Date(work.PublicationYear, 1, 1, 0, 0, 0, 0, time.UTC)
		rec.PublishedAt = &t
	}
	return rec, true
}

// reconstructAbstract converts OpenAlex's abstract_inverted_index back to
// plain text. The inverted index maps each word to the positions where it
// appears.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	var pairs []posWord
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}

	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	words := make([]string, len(pairs))
	for i, p := range pairs {
		words[i] = p.word
	}
	return strings.Join(words, " ")
}

// LiteratureAdapter fetches peer-reviewed articles from OpenAlex.
type LiteratureAdapter struct {
	oa *openAlexClient
}

// NewLiteratureAdapter builds the literature adapter. The mailto address is
// optional and grants OpenAlex polite pool rate limits.
func NewLiteratureAdapter(mailto string) *LiteratureAdapter {
	return &LiteratureAdapter{oa: newOpenAlexClient(mailto)}
}

// Kind returns the provider kind this adapter serves.
func (a *LiteratureAdapter) Kind() research.ProviderKind { return research.ProviderLiterature }

// Fetch searches published articles matching the query.
func (a *LiteratureAdapter) Fetch(ctx context.Context, query string, limit int) ([]research.SourceRecord, error) {
	works, err := a.oa.fetchWorks(ctx, query, limit, []string{"type:article"})
	if err != nil {
		return nil, err
	}
	records := make([]research.SourceRecord, 0, len(works))
	for _, work := range works {
		if rec, ok := recordFromWork(research.ProviderLiterature, work); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}

// OpenAlex API JSON structures.
type openAlexResponse struct {
	Meta    openAlexMeta   `json:"meta"`
	Results []openAlexWork `json:"results"`
}

type openAlexMeta struct {
	Count   int `json:"count"`
	PerPage int `json:"per_page"`
	Page    int `json:"page"`
}

type openAlexWork struct {
	ID                    string           `json:"id"`
	Title                 string           `json:"title"`
	DOI                   string           `json:"doi"`
	PublicationDate       string           `json:"publication_date"`
	PublicationYear       int              `json:"publication_year"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	PrimaryLocation       openAlexLocation `json:"primary_location"`
}

type openAlexLocation struct {
	LandingPageURL string         `json:"landing_page_url"`
	Source         openAlexSource `json:"source"`
}

type openAlexSource struct {
	DisplayName string `json:"display_name"`
	Type        string `json:"type"`
}
