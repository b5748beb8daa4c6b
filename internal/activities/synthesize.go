package activities

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/humboldt-lab/humboldt/internal/formatting"
	"github.com/humboldt-lab/humboldt/internal/llm"
	ometrics "github.com/humboldt-lab/humboldt/internal/metrics"
	"github.com/humboldt-lab/humboldt/internal/research"
	"github.com/humboldt-lab/humboldt/internal/streaming"
)

// heartbeatEvery is the token interval between activity heartbeats. The
// heartbeat is also how a cancellation request reaches a running synthesis.
const heartbeatEvery = 16

// SynthesizeInput is the terminal synthesis request. WorkflowID keys the
// event stream the token events are published to.
type SynthesizeInput struct {
	WorkflowID string                  `json:"workflow_id"`
	Query      string                  `json:"query"`
	Context    map[string]interface{}  `json:"context,omitempty"`
	Sources    []research.SourceRecord `json:"sources"`
	Tier       research.Tier           `json:"tier"`
	ModelTier  string                  `json:"model_tier"`
	MaxTokens  int                     `json:"max_tokens"`
}

// SynthesizeResult is the final answer. Truncated marks a stream cut short
// by cancellation; the partial text is still returned. NoExternalSources
// marks an answer produced from model knowledge alone.
type SynthesizeResult struct {
	Text              string `json:"text"`
	Truncated         bool   `json:"truncated"`
	NoExternalSources bool   `json:"no_external_sources"`
	TokenCount        int    `json:"token_count"`
	TokensUsed        int    `json:"tokens_used"`
	InputTokens       int    `json:"input_tokens"`
	OutputTokens      int    `json:"output_tokens"`
	ModelUsed         string `json:"model_used"`
	Provider          string `json:"provider"`
	DurationMs        int64  `json:"duration_ms"`
}

// SynthesizeAnswer streams the cited answer, publishing one token event per
// fragment directly to the stream manager so tokens reach subscribers
// without a workflow round-trip per token. It always runs, even with zero
// sources. On cancellation it stops publishing immediately and returns the
// partial text with Truncated set, as a success: the workflow still owns the
// terminal event. A failure before any token is a real error.
func (a *Activities) SynthesizeAnswer(ctx context.Context, in SynthesizeInput) (SynthesizeResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("SynthesizeAnswer: starting",
		"workflow_id", in.WorkflowID,
		"tier", string(in.Tier),
		"sources", len(in.Sources),
		"max_tokens", in.MaxTokens,
	)

	start := time.Now()
	result := SynthesizeResult{NoExternalSources: len(in.Sources) == 0}

	tokenCount := 0
	onToken := func(token string) error {
		streaming.Get().Publish(in.WorkflowID, streaming.NewToken(in.WorkflowID, token))
		ometrics.RecordStreamEvent(string(streaming.KindToken))
		tokenCount++
		if tokenCount%heartbeatEvery == 0 {
			activity.RecordHeartbeat(ctx, tokenCount)
		}
		return nil
	}

	resp, err := a.llm.CompleteStreaming(ctx, "synthesize", llm.Request{
		Prompt:      buildSynthesisPrompt(in),
		ModelTier:   in.ModelTier,
		MaxTokens:   in.MaxTokens,
		Temperature: 0.4,
	}, onToken)

	if resp != nil {
		result.Text = resp.Text
		result.TokensUsed = resp.TokensUsed
		result.InputTokens = resp.InputTokens
		result.OutputTokens = resp.OutputTokens
		result.ModelUsed = resp.ModelUsed
		result.Provider = resp.Provider
	}
	result.TokenCount = tokenCount
	result.DurationMs = time.Since(start).Milliseconds()

	// The model's own trailing source list is replaced with one rebuilt
	// from the records it was actually given, so the inline [n] markers and
	// the listed entries always agree. Partial text keeps its list too.
	if result.Text != "" && len(in.Sources) > 0 {
		result.Text = formatting.EnsureSources(result.Text, in.Sources)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			result.Truncated = true
			logger.Info("SynthesizeAnswer: cancelled mid-stream, returning partial",
				"workflow_id", in.WorkflowID,
				"tokens_streamed", tokenCount,
				"partial_len", len(result.Text),
			)
			return result, nil
		}
		logger.Error("SynthesizeAnswer: stream failed",
			"workflow_id", in.WorkflowID,
			"tokens_streamed", tokenCount,
			"error", err,
		)
		return result, fmt.Errorf("synthesis stream failed: %w", err)
	}

	logger.Info("SynthesizeAnswer: complete",
		"workflow_id", in.WorkflowID,
		"tokens_streamed", tokenCount,
		"tokens_used", result.TokensUsed,
		"duration_ms", result.DurationMs,
	)
	return result, nil
}

func buildSynthesisPrompt(in SynthesizeInput) string {
	var sb strings.Builder
	sb.WriteString("You are a research synthesizer. Write a thorough, well-structured answer to the query")
	if len(in.Sources) > 0 {
		sb.WriteString(" grounded in the numbered sources below. Cite sources inline as [n] after each claim they support. Do not cite sources that are not listed.")
	} else {
		sb.WriteString(". No external sources were retrieved: answer from your own knowledge and state clearly that the answer is not backed by retrieved sources.")
	}
	sb.WriteString("\n\nQuery: ")
	sb.WriteString(in.Query)
	if len(in.Context) > 0 {
		sb.WriteString("\n\nCaller context:\n")
		for _, kv := range sortedContext(in.Context) {
			sb.WriteString(fmt.Sprintf("- %s: %v\n", kv.key, kv.value))
		}
	}
	if len(in.Sources) > 0 {
		sb.WriteString("\n\nSources:\n")
		for i, src := range in.Sources {
			sb.WriteString(fmt.Sprintf("[%d] %s", i+1, src.Title))
			if src.URL != "" {
				sb.WriteString(fmt.Sprintf(" (%s)", src.URL))
			}
			sb.WriteString("\n")
			if src.Snippet != "" {
				sb.WriteString(fmt.Sprintf("    %s\n", truncateStr(src.Snippet, 500)))
			}
		}
	}
	return sb.String()
}
