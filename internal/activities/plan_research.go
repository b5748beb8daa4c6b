package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/humboldt-lab/humboldt/internal/llm"
)

// PlanResearchInput is the input for the planning step that opens the
// research loop.
type PlanResearchInput struct {
	Query           string                 `json:"query"`
	Context         map[string]interface{} `json:"context,omitempty"`
	ModelTier       string                 `json:"model_tier"`
	ReasoningBudget int                    `json:"reasoning_budget"`
	MaxRounds       int                    `json:"max_rounds"`
}

// ResearchPlan is the structured plan the loop runs on. RefinedQuery is the
// retrieval query for round one; FocusAreas steer reflection.
type ResearchPlan struct {
	RefinedQuery string   `json:"refined_query"`
	FocusAreas   []string `json:"focus_areas,omitempty"`
	Rationale    string   `json:"rationale,omitempty"`
}

// PlanResearchResult is the planning outcome. Fallback marks the default
// plan used when the model call or parse failed.
type PlanResearchResult struct {
	Plan         ResearchPlan `json:"plan"`
	Fallback     bool         `json:"fallback"`
	TokensUsed   int          `json:"tokens_used"`
	InputTokens  int          `json:"input_tokens"`
	OutputTokens int          `json:"output_tokens"`
	ModelUsed    string       `json:"model_used"`
	Provider     string       `json:"provider"`
}

// PlanResearch produces the research plan with one model call, the only
// planning call of the request. Planning is best-effort: any failure falls
// back to a default plan built from the original query so the loop always
// proceeds.
func (a *Activities) PlanResearch(ctx context.Context, in PlanResearchInput) (PlanResearchResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("PlanResearch: starting",
		"query", truncateStr(in.Query, 100),
		"max_rounds", in.MaxRounds,
		"reasoning_budget", in.ReasoningBudget,
	)

	result := PlanResearchResult{Plan: defaultPlan(in.Query)}

	resp, err := a.llm.Complete(ctx, "plan", llm.Request{
		Prompt:          buildPlanPrompt(in),
		ModelTier:       in.ModelTier,
		MaxTokens:       1024,
		Temperature:     0.3,
		ReasoningBudget: in.ReasoningBudget,
	})
	if err != nil {
		logger.Warn("PlanResearch: model call failed, using default plan", "error", err)
		result.Fallback = true
		return result, nil
	}

	result.TokensUsed = resp.TokensUsed
	result.InputTokens = resp.InputTokens
	result.OutputTokens = resp.OutputTokens
	result.ModelUsed = resp.ModelUsed
	result.Provider = resp.Provider

	var plan ResearchPlan
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &plan); err != nil || strings.TrimSpace(plan.RefinedQuery) == "" {
		logger.Warn("PlanResearch: unparseable plan, using default",
			"error", err,
			"output", truncateStr(resp.Text, 120),
		)
		result.Fallback = true
		return result, nil
	}

	result.Plan = plan
	logger.Info("PlanResearch: complete",
		"refined_query", truncateStr(plan.RefinedQuery, 100),
		"focus_areas", len(plan.FocusAreas),
		"tokens_used", result.TokensUsed,
	)
	return result, nil
}

// defaultPlan is the deterministic fallback when planning fails.
func defaultPlan(query string) ResearchPlan {
	return ResearchPlan{
		RefinedQuery: query,
		FocusAreas:   []string{"key findings", "methodology and evidence", "open questions"},
		Rationale:    "default plan",
	}
}

func buildPlanPrompt(in PlanResearchInput) string {
	var sb strings.Builder
	sb.WriteString(`You are a research planner. Given a query, produce a retrieval plan.

Respond with JSON only:
{"refined_query": "<search query optimized for source retrieval>", "focus_areas": ["<2-5 aspects the answer must cover>"], "rationale": "<one sentence>"}

The refined query will be sent to web search, scholarly literature, preprint and clinical trial providers. Keep it specific and keyword-dense; do not answer the question.

`)
	sb.WriteString(fmt.Sprintf("The research loop runs at most %d retrieval rounds.\n\n", in.MaxRounds))
	sb.WriteString("Query: ")
	sb.WriteString(in.Query)
	if len(in.Context) > 0 {
		sb.WriteString("\n\nCaller context:\n")
		for _, kv := range sortedContext(in.Context) {
			sb.WriteString(fmt.Sprintf("- %s: %v\n", kv.key, kv.value))
		}
	}
	return sb.String()
}
