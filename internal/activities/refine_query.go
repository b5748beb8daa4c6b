package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/humboldt-lab/humboldt/internal/llm"
)

// RefineQueryInput turns a reported gap into the next round's retrieval
// query. Invoked only when reflection found a gap.
type RefineQueryInput struct {
	Query         string `json:"query"`          // current retrieval query
	OriginalQuery string `json:"original_query"` // what the user asked
	GapSummary    string `json:"gap_summary"`
	Round         int    `json:"round"`
	ModelTier     string `json:"model_tier"`
}

// RefineQueryResult carries the next query. Changed is false when refinement
// failed and the current query is reused unchanged.
type RefineQueryResult struct {
	Query        string `json:"query"`
	Changed      bool   `json:"changed"`
	TokensUsed   int    `json:"tokens_used"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	ModelUsed    string `json:"model_used"`
	Provider     string `json:"provider"`
}

// refineVerdict is the structured response expected from the model.
type refineVerdict struct {
	Query string `json:"query"`
}

// RefineQuery rewrites the retrieval query to target the reported gap. Any
// failure keeps the current query so the next round can still run.
func (a *Activities) RefineQuery(ctx context.Context, in RefineQueryInput) (RefineQueryResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("RefineQuery: starting",
		"round", in.Round,
		"gap", truncateStr(in.GapSummary, 100),
	)

	result := RefineQueryResult{Query: in.Query}

	resp, err := a.llm.Complete(ctx, "refine", llm.Request{
		Prompt:      buildRefinePrompt(in),
		ModelTier:   in.ModelTier,
		MaxTokens:   256,
		Temperature: 0.3,
	})
	if err != nil {
		logger.Warn("RefineQuery: model call failed, keeping current query", "error", err)
		return result, nil
	}

	result.TokensUsed = resp.TokensUsed
	result.InputTokens = resp.InputTokens
	result.OutputTokens = resp.OutputTokens
	result.ModelUsed = resp.ModelUsed
	result.Provider = resp.Provider

	var verdict refineVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &verdict); err != nil || strings.TrimSpace(verdict.Query) == "" {
		logger.Warn("RefineQuery: unparseable output, keeping current query",
			"error", err,
			"output", truncateStr(resp.Text, 120),
		)
		return result, nil
	}

	next := strings.TrimSpace(verdict.Query)
	result.Changed = next != in.Query
	result.Query = next

	logger.Info("RefineQuery: complete",
		"round", in.Round,
		"changed", result.Changed,
		"query", truncateStr(next, 100),
	)
	return result, nil
}

func buildRefinePrompt(in RefineQueryInput) string {
	return fmt.Sprintf(`You are a retrieval query refiner. The previous search round left a gap; write the next search query targeting exactly that gap.

Respond with JSON only: {"query": "<next retrieval query>"}
Keep it keyword-dense and specific to the gap; do not repeat the previous query verbatim.

Original question: %s
Previous retrieval query: %s
Reported gap: %s`, in.OriginalQuery, in.Query, in.GapSummary)
}
