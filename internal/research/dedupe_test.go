package research

import (
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "basic URL",
			input:    "https://example.com/path",
			expected: "https://example.com/path",
		},
		{
			name:     "remove www prefix",
			input:    "https://www.example.com/path",
			expected: "https://example.com/path",
		},
		{
			name:     "remove trailing slash",
			input:    "https://example.com/path/",
			expected: "https://example.com/path",
		},
		{
			name:     "remove fragment",
			input:    "https://example.com/path#section",
			expected: "https://example.com/path",
		},
		{
			name:     "remove utm parameters",
			input:    "https://example.com/path?utm_source=google&utm_medium=cpc&id=123",
			expected: "https://example.com/path?id=123",
		},
		{
			name:     "remove click identifiers",
			input:    "https://example.com/path?fbclid=xyz&gclid=abc&msclkid=q",
			expected: "https://example.com/path",
		},
		{
			name:     "lowercase scheme and host",
			input:    "HTTPS://EXAMPLE.COM/Path",
			expected: "https://example.com/Path",
		},
		{
			name:     "root path collapses",
			input:    "https://example.com/",
			expected: "https://example.com",
		},
		{
			name:    "no host",
			input:   "not a url",
			wantErr: true,
		},
		{
			name:    "opaque scheme",
			input:   "doi:10.1234/abc",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NormalizeURL(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", result)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestCanonicalID(t *testing.T) {
	tests := []struct {
		name     string
		kind     ProviderKind
		url      string
		doi      string
		nativeID string
		expected string
	}{
		{
			name:     "doi wins over url",
			kind:     ProviderLiterature,
			url:      "https://doi.org/10.1234/ABC",
			doi:      "10.1234/ABC",
			nativeID: "W123",
			expected: "doi:10.1234/abc",
		},
		{
			name:     "url normalized",
			kind:     ProviderWeb,
			url:      "https://www.example.com/a/?utm_source=x",
			expected: "https://example.com/a",
		},
		{
			name:     "native id fallback",
			kind:     ProviderTrials,
			nativeID: "NCT01234567",
			expected: "trials:NCT01234567",
		},
		{
			name:     "unparsable url falls back",
			kind:     ProviderPreprint,
			url:      "::::",
			nativeID: "2401.00001",
			expected: "preprint:2401.00001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CanonicalID(tt.kind, tt.url, tt.doi, tt.nativeID)
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestMergeFirstWriteWins(t *testing.T) {
	set := NewSet()

	first := SourceRecord{ID: "https://example.com/a", ProviderKind: ProviderWeb, Title: "Web title", Snippet: "web snippet"}
	stats := set.Merge([]SourceRecord{first})
	if stats.Added != 1 || stats.Collisions != 0 {
		t.Fatalf("unexpected stats for first merge: %+v", stats)
	}

	// Same id from another provider with a different title: existing wins.
	second := SourceRecord{ID: "https://example.com/a", ProviderKind: ProviderLiterature, Title: "Literature title", Snippet: "other snippet"}
	stats = set.Merge([]SourceRecord{second})
	if stats.Added != 0 || stats.Collisions != 1 {
		t.Fatalf("unexpected stats for collision: %+v", stats)
	}
	got, _ := set.Get("https://example.com/a")
	if got.Title != "Web title" || got.ProviderKind != ProviderWeb || got.Snippet != "web snippet" {
		t.Errorf("first write did not win: %+v", got)
	}
}

func TestMergeBackfillsEmptySnippetOnly(t *testing.T) {
	set := NewSet()
	set.Merge([]SourceRecord{{ID: "doi:10.1/x", Title: "No snippet yet"}})

	stats := set.Merge([]SourceRecord{{ID: "doi:10.1/x", Title: "Ignored", Snippet: "late snippet"}})
	if stats.SnippetsBackfilled != 1 {
		t.Fatalf("expected 1 backfill, got %+v", stats)
	}
	got, _ := set.Get("doi:10.1/x")
	if got.Snippet != "late snippet" {
		t.Errorf("snippet not backfilled: %+v", got)
	}
	if got.Title != "No snippet yet" {
		t.Errorf("title should not change on backfill: %+v", got)
	}

	// A non-empty snippet is never replaced.
	set.Merge([]SourceRecord{{ID: "doi:10.1/x", Snippet: "even later"}})
	got, _ = set.Get("doi:10.1/x")
	if got.Snippet != "late snippet" {
		t.Errorf("existing snippet was overwritten: %+v", got)
	}
}

func TestMergePreservesRelevanceScore(t *testing.T) {
	set := NewSet()
	set.Merge([]SourceRecord{{ID: "https://example.com/b", Title: "Scored"}})
	if !set.SetScore("https://example.com/b", 80) {
		t.Fatal("SetScore failed for known id")
	}

	rescored := 10.0
	set.Merge([]SourceRecord{{ID: "https://example.com/b", RelevanceScore: &rescored}})
	got, _ := set.Get("https://example.com/b")
	if got.RelevanceScore == nil || *got.RelevanceScore != 80 {
		t.Errorf("existing relevance score was overwritten: %+v", got)
	}
}

func TestMergeIdempotent(t *testing.T) {
	batch := []SourceRecord{
		{ID: "https://example.com/1", Title: "One"},
		{ID: "https://example.com/2", Title: "Two"},
	}

	set := NewSet()
	first := set.Merge(batch)
	second := set.Merge(batch)

	if first.Added != 2 {
		t.Fatalf("expected 2 added on first merge, got %d", first.Added)
	}
	if second.Added != 0 {
		t.Fatalf("expected 0 added on repeat merge, got %d", second.Added)
	}
	if set.Len() != 2 {
		t.Fatalf("expected 2 unique sources, got %d", set.Len())
	}
}

func TestSetKeepsDiscoveryOrder(t *testing.T) {
	set := NewSet()
	set.Merge([]SourceRecord{{ID: "c"}, {ID: "a"}})
	set.Merge([]SourceRecord{{ID: "b"}, {ID: "a"}})

	ids := set.IDs()
	if len(ids) != 3 || ids[0] != "c" || ids[1] != "a" || ids[2] != "b" {
		t.Fatalf("unexpected discovery order: %v", ids)
	}

	all := set.All()
	if len(all) != 3 || all[0].ID != "c" {
		t.Fatalf("All() does not follow discovery order: %+v", all)
	}
}

func TestMergeSkipsEmptyIDs(t *testing.T) {
	set := NewSet()
	stats := set.Merge([]SourceRecord{{ID: "", Title: "lost"}})
	if stats.Added != 0 || set.Len() != 0 {
		t.Fatalf("record without id must be skipped: %+v", stats)
	}
}
