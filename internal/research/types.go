package research

import (
	"fmt"
	"strings"
	"time"
)

// Tier is the effort level a query is routed to.
type Tier string

const (
	TierFast   Tier = "fast"   // direct answer, no research rounds
	TierHybrid Tier = "hybrid" // single bounded research round
	TierDeep   Tier = "deep"   // iterative multi-round research
)

// ParseTier maps free-form model output onto a tier, defaulting to hybrid.
// Classification never escalates to deep on uncertain input.
func ParseTier(s string) Tier {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierFast:
		return TierFast
	case TierDeep:
		return TierDeep
	default:
		return TierHybrid
	}
}

// ProviderKind identifies a source provider role, not a vendor. Adapters are
// bound to kinds through the registry so new providers come in via config.
type ProviderKind string

const (
	ProviderWeb        ProviderKind = "web"        // general web search
	ProviderLiterature ProviderKind = "literature" // peer-reviewed literature
	ProviderPreprint   ProviderKind = "preprint"   // preprint servers
	ProviderTrials     ProviderKind = "trials"     // clinical trial registries
)

// SourceRecord is one retrieved source. ID is the canonical dedupe key:
// a normalized URL, a DOI, or a provider-native identifier.
type SourceRecord struct {
	ID             string       `json:"id"`
	ProviderKind   ProviderKind `json:"provider_kind"`
	URL            string       `json:"url"`
	Title          string       `json:"title"`
	Snippet        string       `json:"snippet"`
	PublishedAt    *time.Time   `json:"published_at,omitempty"`
	RelevanceScore *float64     `json:"relevance_score,omitempty"` // 0-100, set by the ranker
}

// Scored reports whether the ranker has assigned a relevance score.
func (s SourceRecord) Scored() bool { return s.RelevanceScore != nil }

// RoundResult is the aggregate outcome of one fetch round. Provider failures
// are recorded, never propagated: a failed provider contributes zero sources.
type RoundResult struct {
	RoundNumber    int                     `json:"round_number"`
	Query          string                  `json:"query"`
	NewSources     []SourceRecord          `json:"new_sources"`
	ProviderErrors map[ProviderKind]string `json:"provider_errors,omitempty"`
	DurationMs     int64                   `json:"duration_ms"`
}

// AllProvidersFailed reports whether every invoked provider errored.
func (r RoundResult) AllProvidersFailed(invoked int) bool {
	return invoked > 0 && len(r.ProviderErrors) == invoked
}

// GapAssessment is the reflector's verdict on the selected sources.
type GapAssessment struct {
	HasGap  bool   `json:"has_gap"`
	Summary string `json:"summary,omitempty"`
}

// StopReason explains why the research loop ended.
type StopReason string

const (
	StopMaxRounds          StopReason = "max_rounds_reached"
	StopNoGap              StopReason = "no_gap_found"
	StopDiminishingReturns StopReason = "diminishing_returns"
	StopProviderExhaustion StopReason = "provider_exhaustion"
)

// StopDecision is the evaluator's output for one loop iteration.
type StopDecision struct {
	ShouldContinue bool       `json:"should_continue"`
	Reason         StopReason `json:"reason,omitempty"`
}

func (d StopDecision) String() string {
	if d.ShouldContinue {
		return "continue"
	}
	return fmt.Sprintf("stop(%s)", d.Reason)
}
