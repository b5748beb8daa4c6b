package activities

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/humboldt-lab/humboldt/internal/providers"
	"github.com/humboldt-lab/humboldt/internal/research"
)

// stubAdapter serves canned records or a canned error.
type stubAdapter struct {
	kind    research.ProviderKind
	records []research.SourceRecord
	err     error
	limit   int
}

func (s *stubAdapter) Kind() research.ProviderKind { return s.kind }

func (s *stubAdapter) Fetch(ctx context.Context, query string, limit int) ([]research.SourceRecord, error) {
	s.limit = limit
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

func fetchActivities(t *testing.T, adapters ...providers.Adapter) *Activities {
	t.Helper()
	registry := providers.NewRegistry(zap.NewNop())
	for _, ad := range adapters {
		registry.Register(ad, providers.RegisterOptions{RatePerSecond: 1000, Burst: 10})
	}
	return NewActivities(nil, registry, nil, nil, zap.NewNop())
}

func TestFetchSourcesReturnsRecords(t *testing.T) {
	stub := &stubAdapter{
		kind: research.ProviderWeb,
		records: []research.SourceRecord{
			{ID: "https://example.org/a", ProviderKind: research.ProviderWeb, Title: "A"},
			{ID: "https://example.org/b", ProviderKind: research.ProviderWeb, Title: "B"},
		},
	}
	a := fetchActivities(t, stub)

	var out FetchSourcesResult
	in := FetchSourcesInput{Kind: research.ProviderWeb, Query: "q", Limit: 10, Round: 1}
	if err := execActivity(t, a, a.FetchSources, in, &out); err != nil {
		t.Fatalf("FetchSources: %v", err)
	}

	if out.Failed {
		t.Errorf("unexpected failure: %s", out.ErrorMessage)
	}
	if len(out.Sources) != 2 {
		t.Errorf("sources = %d, want 2", len(out.Sources))
	}
	if stub.limit != 10 {
		t.Errorf("adapter limit = %d, want 10", stub.limit)
	}
}

func TestFetchSourcesAbsorbsProviderFailure(t *testing.T) {
	a := fetchActivities(t, &stubAdapter{kind: research.ProviderTrials, err: errors.New("registry unavailable")})

	var out FetchSourcesResult
	in := FetchSourcesInput{Kind: research.ProviderTrials, Query: "q", Limit: 4, Round: 2}
	if err := execActivity(t, a, a.FetchSources, in, &out); err != nil {
		t.Fatalf("provider failure must not fail the activity, got: %v", err)
	}

	if !out.Failed {
		t.Error("result must be marked failed")
	}
	if out.ErrorMessage == "" {
		t.Error("error message must be recorded for the round result")
	}
	if len(out.Sources) != 0 {
		t.Errorf("failed provider must contribute zero sources, got %d", len(out.Sources))
	}
}

func TestFetchSourcesUnknownProvider(t *testing.T) {
	a := fetchActivities(t)

	var out FetchSourcesResult
	in := FetchSourcesInput{Kind: research.ProviderLiterature, Query: "q", Limit: 5, Round: 1}
	if err := execActivity(t, a, a.FetchSources, in, &out); err != nil {
		t.Fatalf("unknown provider must not fail the activity, got: %v", err)
	}
	if !out.Failed {
		t.Error("unknown provider must surface as a failed result")
	}
}
