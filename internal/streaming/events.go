package streaming

import (
	"encoding/json"
	"time"

	"github.com/humboldt-lab/humboldt/internal/research"
)

// Kind enumerates every event a research request can emit. The set is closed:
// each kind carries exactly one typed payload (or none), so consumers never
// see loosely shaped maps.
type Kind string

const (
	KindTierSelected       Kind = "tier_selected"
	KindRoundStarted       Kind = "round_started"
	KindRoundComplete      Kind = "round_complete"
	KindReflectionComplete Kind = "reflection_complete"
	KindSourcesReady       Kind = "sources_ready"
	KindSynthesisStarted   Kind = "synthesis_started"
	KindToken              Kind = "token"
	KindComplete           Kind = "complete"
	KindError              Kind = "error"
)

// TierSelected announces the routing decision, including fallback routing.
type TierSelected struct {
	Tier      research.Tier `json:"tier"`
	Rationale string        `json:"rationale,omitempty"`
}

// RoundStarted opens one fetch round.
type RoundStarted struct {
	Round                int    `json:"round"`
	Query                string `json:"query"`
	EstimatedSourceCount int    `json:"estimated_source_count"`
}

// RoundComplete closes one fetch round with its merge outcome.
type RoundComplete struct {
	Round            int                              `json:"round"`
	NewSourceCount   int                              `json:"new_source_count"`
	TotalSourceCount int                              `json:"total_source_count"`
	ProviderErrors   map[research.ProviderKind]string `json:"provider_errors,omitempty"`
}

// ReflectionComplete reports the gap verdict for one round.
type ReflectionComplete struct {
	Round      int    `json:"round"`
	HasGap     bool   `json:"has_gap"`
	GapSummary string `json:"gap_summary,omitempty"`
}

// SourceSummary is the compact source view sent to clients.
type SourceSummary struct {
	ID    string  `json:"id"`
	Title string  `json:"title"`
	URL   string  `json:"url"`
	Score float64 `json:"score"`
}

// SourcesReady carries the final selected sources before synthesis.
type SourcesReady struct {
	Sources []SourceSummary `json:"sources"`
}

// Token is one streamed synthesis fragment.
type Token struct {
	Text string `json:"text"`
}

// TokenUsage totals the model tokens spent on a request.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Complete is the terminal success event. Truncated marks a synthesis cut
// short by cancellation; NoExternalSources marks an answer produced without
// any retrieved source.
type Complete struct {
	FinalText         string              `json:"final_text"`
	SourceCount       int                 `json:"source_count"`
	TokenUsage        TokenUsage          `json:"token_usage"`
	StopReason        research.StopReason `json:"stop_reason,omitempty"`
	NoExternalSources bool                `json:"no_external_sources,omitempty"`
	Truncated         bool                `json:"truncated,omitempty"`
}

// ErrorInfo is the terminal failure event.
type ErrorInfo struct {
	Stage       string `json:"stage"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// Event is one entry in a request's totally ordered stream. Seq is assigned
// by the manager at publish time; exactly the payload matching Kind is set
// (synthesis_started carries none).
type Event struct {
	WorkflowID string    `json:"workflow_id"`
	Kind       Kind      `json:"kind"`
	Seq        uint64    `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`

	TierSelected       *TierSelected       `json:"tier_selected,omitempty"`
	RoundStarted       *RoundStarted       `json:"round_started,omitempty"`
	RoundComplete      *RoundComplete      `json:"round_complete,omitempty"`
	ReflectionComplete *ReflectionComplete `json:"reflection_complete,omitempty"`
	SourcesReady       *SourcesReady       `json:"sources_ready,omitempty"`
	Token              *Token              `json:"token,omitempty"`
	Complete           *Complete           `json:"complete,omitempty"`
	Error              *ErrorInfo          `json:"error,omitempty"`
}

// Terminal reports whether no further events may follow this one.
func (e Event) Terminal() bool {
	return e.Kind == KindComplete || e.Kind == KindError
}

// Marshal returns JSON for event payloads in SSE frames or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

func newEvent(workflowID string, kind Kind) Event {
	return Event{WorkflowID: workflowID, Kind: kind, Timestamp: time.Now().UTC()}
}

// NewTierSelected builds a tier_selected event.
func NewTierSelected(workflowID string, tier research.Tier, rationale string) Event {
	e := newEvent(workflowID, KindTierSelected)
	e.TierSelected = &TierSelected{Tier: tier, Rationale: rationale}
	return e
}

// NewRoundStarted builds a round_started event.
func NewRoundStarted(workflowID string, round, estimated int, query string) Event {
	e := newEvent(workflowID, KindRoundStarted)
	e.RoundStarted = &RoundStarted{Round: round, Query: query, EstimatedSourceCount: estimated}
	return e
}

// NewRoundComplete builds a round_complete event.
func NewRoundComplete(workflowID string, round, added, total int, providerErrors map[research.ProviderKind]string) Event {
	e := newEvent(workflowID, KindRoundComplete)
	e.RoundComplete = &RoundComplete{
		Round:            round,
		NewSourceCount:   added,
		TotalSourceCount: total,
		ProviderErrors:   providerErrors,
	}
	return e
}

// NewReflectionComplete builds a reflection_complete event.
func NewReflectionComplete(workflowID string, round int, hasGap bool, summary string) Event {
	e := newEvent(workflowID, KindReflectionComplete)
	e.ReflectionComplete = &ReflectionComplete{Round: round, HasGap: hasGap, GapSummary: summary}
	return e
}

// NewSourcesReady builds a sources_ready event from the selected records.
func NewSourcesReady(workflowID string, records []research.SourceRecord) Event {
	e := newEvent(workflowID, KindSourcesReady)
	summaries := make([]SourceSummary, 0, len(records))
	for _, rec := range records {
		score := 0.0
		if rec.RelevanceScore != nil {
			score = *rec.RelevanceScore
		}
		summaries = append(summaries, SourceSummary{ID: rec.ID, Title: rec.Title, URL: rec.URL, Score: score})
	}
	e.SourcesReady = &SourcesReady{Sources: summaries}
	return e
}

// NewSynthesisStarted builds a synthesis_started event.
func NewSynthesisStarted(workflowID string) Event {
	return newEvent(workflowID, KindSynthesisStarted)
}

// NewToken builds a token event.
func NewToken(workflowID, text string) Event {
	e := newEvent(workflowID, KindToken)
	e.Token = &Token{Text: text}
	return e
}

// NewComplete builds the terminal complete event.
func NewComplete(workflowID string, payload Complete) Event {
	e := newEvent(workflowID, KindComplete)
	e.Complete = &payload
	return e
}

// NewError builds the terminal error event.
func NewError(workflowID, stage, message string, recoverable bool) Event {
	e := newEvent(workflowID, KindError)
	e.Error = &ErrorInfo{Stage: stage, Message: message, Recoverable: recoverable}
	return e
}
