package workflows

import (
	"github.com/humboldt-lab/humboldt/internal/config"
	"github.com/humboldt-lab/humboldt/internal/research"
	"github.com/humboldt-lab/humboldt/internal/streaming"
)

// TaskQueue is the Temporal task queue shared by the worker and the HTTP
// submit path.
const TaskQueue = "humboldt-research"

// ResearchInput starts one research request.
type ResearchInput struct {
	Query string `json:"query"`

	// Context carries caller-supplied framing (audience, prior findings)
	// that is folded into planning and synthesis prompts.
	Context map[string]interface{} `json:"context,omitempty"`

	// TierOverride skips classification when set to a valid tier name.
	TierOverride string `json:"tier_override,omitempty"`

	// SessionID groups requests for reporting; it is recorded, never
	// interpreted.
	SessionID string `json:"session_id,omitempty"`
}

// ResearchResult is the terminal outcome of a research workflow.
type ResearchResult struct {
	WorkflowID  string        `json:"workflow_id"`
	Tier        research.Tier `json:"tier"`
	FinalText   string        `json:"final_text"`
	SourceCount int           `json:"source_count"`

	// TotalFetched counts unique sources accumulated across rounds;
	// SourceCount is the selected subset handed to synthesis.
	TotalFetched int    `json:"total_fetched,omitempty"`
	Rounds       int    `json:"rounds"`
	TokensUsed   int    `json:"tokens_used"`
	Model        string `json:"model,omitempty"`

	// StopReason is set for tiers that run the research loop.
	StopReason research.StopReason `json:"stop_reason,omitempty"`

	// NoExternalSources marks an answer synthesized without any retrieved
	// source; Truncated marks a synthesis cut short by cancellation.
	NoExternalSources bool `json:"no_external_sources,omitempty"`
	Truncated         bool `json:"truncated,omitempty"`

	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`

	// Metadata holds run facts without a field of their own (source mix,
	// provider, refined query); it is persisted with the report.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DeepResearchInput starts the bounded research loop as a child workflow.
// StreamID is the parent workflow id that keys the event stream; the child
// publishes all loop events under it so the request keeps a single totally
// ordered stream.
type DeepResearchInput struct {
	StreamID  string                 `json:"stream_id,omitempty"`
	Query     string                 `json:"query"`
	Context   map[string]interface{} `json:"context,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Tier      research.Tier          `json:"tier"`
	Policy    config.TierPolicy      `json:"policy"`

	// PriorTokens carries the parent's classification spend so the complete
	// event totals the whole request.
	PriorTokens TokenTotals `json:"prior_tokens"`
}

// DeepResearchResult is the loop outcome handed back to the router.
type DeepResearchResult struct {
	FinalText         string                 `json:"final_text"`
	SourceCount       int                    `json:"source_count"`  // sources handed to synthesis
	TotalFetched      int                    `json:"total_fetched"` // unique sources accumulated
	Rounds            int                    `json:"rounds"`
	StopReason        research.StopReason    `json:"stop_reason,omitempty"`
	NoExternalSources bool                   `json:"no_external_sources,omitempty"`
	Truncated         bool                   `json:"truncated,omitempty"`
	Model             string                 `json:"model,omitempty"`
	Tokens            TokenTotals            `json:"tokens"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// TokenTotals accumulates model token usage across a request.
type TokenTotals struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Add folds one activity's reported usage into the tally. Services that
// estimate usage report only a total.
func (t *TokenTotals) Add(input, output, total int) {
	t.InputTokens += input
	t.OutputTokens += output
	if total == 0 {
		total = input + output
	}
	t.TotalTokens += total
}

// Usage converts the tally into the stream event payload.
func (t TokenTotals) Usage() streaming.TokenUsage {
	return streaming.TokenUsage{
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		TotalTokens:  t.TotalTokens,
	}
}
