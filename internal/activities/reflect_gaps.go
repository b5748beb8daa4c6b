package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/humboldt-lab/humboldt/internal/llm"
	"github.com/humboldt-lab/humboldt/internal/research"
)

// ReflectGapsInput asks whether the selected sources leave the query
// under-covered.
type ReflectGapsInput struct {
	Query           string                  `json:"query"`
	FocusAreas      []string                `json:"focus_areas,omitempty"`
	Selected        []research.SourceRecord `json:"selected"`
	Round           int                     `json:"round"`
	ModelTier       string                  `json:"model_tier"`
	ReasoningBudget int                     `json:"reasoning_budget"`
}

// ReflectGapsResult is the gap verdict. Fallback marks a failed call or
// parse resolved to no-gap, which stops the loop rather than looping on an
// unreliable signal.
type ReflectGapsResult struct {
	HasGap       bool   `json:"has_gap"`
	GapSummary   string `json:"gap_summary,omitempty"`
	Fallback     bool   `json:"fallback"`
	TokensUsed   int    `json:"tokens_used"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	ModelUsed    string `json:"model_used"`
	Provider     string `json:"provider"`
}

// gapVerdict is the structured response expected from the model.
type gapVerdict struct {
	HasGap     bool   `json:"has_gap"`
	GapSummary string `json:"gap_summary"`
}

// ReflectGaps makes the one reflection call of a round, with the tier's
// reasoning budget. Best-effort: any failure resolves to hasGap=false.
func (a *Activities) ReflectGaps(ctx context.Context, in ReflectGapsInput) (ReflectGapsResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("ReflectGaps: starting",
		"round", in.Round,
		"selected", len(in.Selected),
		"reasoning_budget", in.ReasoningBudget,
	)

	var result ReflectGapsResult

	resp, err := a.llm.Complete(ctx, "reflect", llm.Request{
		Prompt:          buildReflectPrompt(in),
		ModelTier:       in.ModelTier,
		MaxTokens:       512,
		Temperature:     0.2,
		ReasoningBudget: in.ReasoningBudget,
	})
	if err != nil {
		logger.Warn("ReflectGaps: model call failed, resolving to no gap", "error", err)
		result.Fallback = true
		return result, nil
	}

	result.TokensUsed = resp.TokensUsed
	result.InputTokens = resp.InputTokens
	result.OutputTokens = resp.OutputTokens
	result.ModelUsed = resp.ModelUsed
	result.Provider = resp.Provider

	var verdict gapVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &verdict); err != nil {
		logger.Warn("ReflectGaps: unparseable verdict, resolving to no gap",
			"error", err,
			"output", truncateStr(resp.Text, 120),
		)
		result.Fallback = true
		return result, nil
	}

	result.HasGap = verdict.HasGap
	result.GapSummary = strings.TrimSpace(verdict.GapSummary)
	if result.HasGap && result.GapSummary == "" {
		// A gap with no description cannot drive refinement.
		logger.Warn("ReflectGaps: gap claimed without summary, resolving to no gap")
		result.HasGap = false
		result.Fallback = true
	}

	logger.Info("ReflectGaps: complete",
		"round", in.Round,
		"has_gap", result.HasGap,
		"tokens_used", result.TokensUsed,
	)
	return result, nil
}

func buildReflectPrompt(in ReflectGapsInput) string {
	var sb strings.Builder
	sb.WriteString(`You are a research gap reflector. Decide whether the sources below are sufficient to answer the query well, or whether a concrete information gap remains that another retrieval round could fill.

Respond with JSON only: {"has_gap": true|false, "gap_summary": "<what is missing, one or two sentences, empty when has_gap is false>"}

Only report a gap a search could realistically close. Sufficient-but-imperfect coverage is not a gap.

Query: `)
	sb.WriteString(in.Query)
	if len(in.FocusAreas) > 0 {
		sb.WriteString("\n\nFocus areas the answer must cover:\n")
		for _, area := range in.FocusAreas {
			sb.WriteString(fmt.Sprintf("- %s\n", area))
		}
	}
	sb.WriteString("\nSelected sources:\n")
	for i, src := range in.Selected {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, src.Title))
		if src.Snippet != "" {
			sb.WriteString(fmt.Sprintf("   %s\n", truncateStr(src.Snippet, 300)))
		}
	}
	return sb.String()
}
