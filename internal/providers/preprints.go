package providers

import (
	"context"

	"github.com/humboldt-lab/humboldt/internal/research"
)

// preprintFilter restricts OpenAlex works to repository-hosted versions,
// which is how arXiv, bioRxiv, and medRxiv papers surface there.
const preprintFilter = "primary_location.source.type:repository"

// PreprintAdapter fetches preprints from OpenAlex.
type PreprintAdapter struct {
	oa *openAlexClient
}

// NewPreprintAdapter builds the preprint adapter. The mailto address is
// optional and grants OpenAlex polite pool rate limits.
func NewPreprintAdapter(mailto string) *PreprintAdapter {
	return &PreprintAdapter{oa: newOpenAlexClient(mailto)}
}

// Kind returns the provider kind this adapter serves.
func (a *PreprintAdapter) Kind() research.ProviderKind { return research.ProviderPreprint }

// Fetch searches repository-hosted works matching the query. Preprints that
// later appear as published articles still dedupe against the literature
// provider through their shared DOI.
func (a *PreprintAdapter) Fetch(ctx context.Context, query string, limit int) ([]research.SourceRecord, error) {
	works, err := a.oa.fetchWorks(ctx, query, limit, []string{preprintFilter})
	if err != nil {
		return nil, err
	}
	records := make([]research.SourceRecord, 0, len(works))
	for _, work := range works {
		if rec, ok := recordFromWork(research.ProviderPreprint, work); ok {
			records = append(records, rec)
		}
	}
	return records, nil
}
