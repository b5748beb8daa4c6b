package research

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL so the same source fetched through
// different providers dedupes to one key.
func NormalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("url %q has no scheme or host", rawURL)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	// Remove www. prefix for consistency
	if strings.HasPrefix(parsed.Host, "www.") {
		parsed.Host = parsed.Host[4:]
	}

	// Remove fragment
	parsed.Fragment = ""

	// Remove tracking query parameters
	if parsed.RawQuery != "" {
		q := parsed.Query()
		trackingParams := []string{
			"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
			"fbclid", "gclid", "msclkid",
			"ref", "source",
		}
		for _, param := range trackingParams {
			q.Del(param)
		}
		parsed.RawQuery = q.Encode()
	}

	// Remove trailing slash from path (including root path "/" -> "")
	if strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}

	return parsed.String(), nil
}

// CanonicalID derives the dedupe key for a fetched source. DOIs win over
// URLs so the same work surfacing from two scholarly providers collapses to
// one record; providers without stable URLs fall back to their native id.
func CanonicalID(kind ProviderKind, rawURL, doi, nativeID string) string {
	if doi != "" {
		return "doi:" + strings.ToLower(strings.TrimSpace(doi))
	}
	if rawURL != "" {
		if normalized, err := NormalizeURL(rawURL); err == nil {
			return normalized
		}
	}
	return string(kind) + ":" + nativeID
}

// MergeStats summarizes one merge pass for logging and metrics.
type MergeStats struct {
	Added              int
	Collisions         int
	SnippetsBackfilled int
	CollidedIDs        []string
}

// Set is the accumulated source set, keyed by canonical id. Order preserves
// discovery order so downstream ranking input is reproducible.
type Set struct {
	byID  map[string]SourceRecord
	order []string
}

// NewSet returns an empty source set.
func NewSet() *Set {
	return &Set{byID: make(map[string]SourceRecord)}
}

// Merge folds incoming records into the set. The first record seen for an id
// wins field by field; the only backfill is an empty snippet, and an already
// assigned relevance score is never overwritten. Merging the same batch twice
// is a no-op, so the operation is idempotent.
func (s *Set) Merge(incoming []SourceRecord) MergeStats {
	var stats MergeStats
	for _, rec := range incoming {
		if rec.ID == "" {
			continue
		}
		existing, ok := s.byID[rec.ID]
		if !ok {
			s.byID[rec.ID] = rec
			s.order = append(s.order, rec.ID)
			stats.Added++
			continue
		}
		stats.Collisions++
		stats.CollidedIDs = append(stats.CollidedIDs, rec.ID)
		if existing.Snippet == "" && rec.Snippet != "" {
			existing.Snippet = rec.Snippet
			s.byID[rec.ID] = existing
			stats.SnippetsBackfilled++
		}
	}
	return stats
}

// Len returns the number of unique sources.
func (s *Set) Len() int { return len(s.byID) }

// Get returns the record for an id.
func (s *Set) Get(id string) (SourceRecord, bool) {
	rec, ok := s.byID[id]
	return rec, ok
}

// SetScore records the ranker's relevance score for an id.
func (s *Set) SetScore(id string, score float64) bool {
	rec, ok := s.byID[id]
	if !ok {
		return false
	}
	rec.RelevanceScore = &score
	s.byID[id] = rec
	return true
}

// All returns the records in discovery order.
func (s *Set) All() []SourceRecord {
	out := make([]SourceRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// IDs returns the canonical ids in discovery order.
func (s *Set) IDs() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}
