package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/humboldt-lab/humboldt/internal/research"
)

// clinicalTrialsBase is the ClinicalTrials.gov v2 studies endpoint. Declared
// as a var so tests can substitute an httptest server.
var clinicalTrialsBase = "https://clinicaltrials.gov/api/v2/studies"

// trialsMaxPageSize is the largest page size the API accepts.
const trialsMaxPageSize = 100

// TrialsAdapter queries the ClinicalTrials.gov v2 API for registered studies.
type TrialsAdapter struct {
	client *http.Client
}

// NewTrialsAdapter builds the clinical trials adapter. The API requires no
// key.
func NewTrialsAdapter() *TrialsAdapter {
	return &TrialsAdapter{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Kind returns the provider kind this adapter serves.
func (a *TrialsAdapter) Kind() research.ProviderKind { return research.ProviderTrials }

// ClinicalTrials.gov v2 JSON structures, trimmed to the modules we read.
type trialsResponse struct {
	Studies []trialStudy `json:"studies"`
}

type trialStudy struct {
	ProtocolSection trialProtocol `json:"protocolSection"`
}

type trialProtocol struct {
	Identification trialIdentification `json:"identificationModule"`
	Description    trialDescription    `json:"descriptionModule"`
	Status         trialStatus         `json:"statusModule"`
}

type trialIdentification struct {
	NCTID      string `json:"nctId"`
	BriefTitle string `json:"briefTitle"`
}

type trialDescription struct {
	BriefSummary string `json:"briefSummary"`
}

type trialStatus struct {
	StudyFirstPostDate trialDate `json:"studyFirstPostDateStruct"`
}

type trialDate struct {
	Date string `json:"date"`
}

// Fetch runs one study search. Records are keyed on the NCT number rather
// than a URL, so re-fetching the same trial in a later round still dedupes.
func (a *TrialsAdapter) Fetch(ctx context.Context, query string, limit int) ([]research.SourceRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > trialsMaxPageSize {
		limit = trialsMaxPageSize
	}

	params := url.Values{
		"query.term": {query},
		"pageSize":   {strconv.Itoa(limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clinicalTrialsBase+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("clinical trials request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clinical trials API returned HTTP %d", resp.StatusCode)
	}

	var raw trialsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parsing clinical trials response: %w", err)
	}

	records := make([]research.SourceRecord, 0, len(raw.Studies))
	for _, study := range raw.Studies {
		nctID := study.ProtocolSection.Identification.NCTID
		if nctID == "" {
			continue
		}
		rec := research.SourceRecord{
			ID:           research.CanonicalID(research.ProviderTrials, "", "", nctID),
			ProviderKind: research.ProviderTrials,
			URL:          "https://clinicaltrials.gov/study/" + nctID,
			Title:        study.ProtocolSection.Identification.BriefTitle,
			Snippet:      truncateSnippet(study.ProtocolSection.Description.BriefSummary, maxSnippetRunes),
		}
		if ts := parseTrialDate(study.ProtocolSection.Status.StudyFirstPostDate.Date); ts != nil {
			rec.PublishedAt = ts
		}
		records = append(records, rec)
	}
	return records, nil
}

// parseTrialDate handles the full and month-only date forms the registry
// publishes.
func parseTrialDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02", "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
