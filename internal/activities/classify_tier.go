package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/humboldt-lab/humboldt/internal/llm"
	"github.com/humboldt-lab/humboldt/internal/research"
)

// ClassifyTierInput is the input for tier classification
type ClassifyTierInput struct {
	Query   string                 `json:"query"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// ClassifyTierResult is the routing decision. Fallback marks a result that
// came from the deterministic default rather than the model.
type ClassifyTierResult struct {
	Tier         research.Tier `json:"tier"`
	Rationale    string        `json:"rationale,omitempty"`
	Fallback     bool          `json:"fallback"`
	TokensUsed   int           `json:"tokens_used"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	ModelUsed    string        `json:"model_used"`
	Provider     string        `json:"provider"`
}

// classifyVerdict is the structured response expected from the model.
type classifyVerdict struct {
	Tier      string `json:"tier"`
	Rationale string `json:"rationale"`
}

// ClassifyTier routes a query to a research tier with one low-cost model
// call. A failed call is retried once with a shorter prompt; a second failure
// falls back to hybrid. Classification never returns an error: routing
// failure must not block the request, and uncertainty never escalates to
// deep.
func (a *Activities) ClassifyTier(ctx context.Context, in ClassifyTierInput) (ClassifyTierResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("ClassifyTier: starting", "query", truncateStr(in.Query, 100))

	result := ClassifyTierResult{Tier: research.TierHybrid}

	resp, err := a.llm.Complete(ctx, "classify", llm.Request{
		Prompt:      buildClassifyPrompt(in.Query, in.Context),
		ModelTier:   "small",
		MaxTokens:   192,
		Temperature: 0,
	})
	if err != nil {
		logger.Warn("ClassifyTier: first attempt failed, retrying with short prompt", "error", err)
		resp, err = a.llm.Complete(ctx, "classify", llm.Request{
			Prompt:      buildClassifyPromptShort(in.Query),
			ModelTier:   "small",
			MaxTokens:   16,
			Temperature: 0,
		})
	}
	if err != nil {
		logger.Warn("ClassifyTier: classification unavailable, defaulting to hybrid", "error", err)
		result.Fallback = true
		result.Rationale = "classification unavailable"
		return result, nil
	}

	result.TokensUsed = resp.TokensUsed
	result.InputTokens = resp.InputTokens
	result.OutputTokens = resp.OutputTokens
	result.ModelUsed = resp.ModelUsed
	result.Provider = resp.Provider

	var verdict classifyVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &verdict); err == nil && verdict.Tier != "" {
		result.Tier = research.ParseTier(verdict.Tier)
		result.Rationale = verdict.Rationale
	} else {
		// Short-prompt responses and chatty models answer with a bare tier
		// name; ParseTier absorbs anything else into hybrid.
		result.Tier = research.ParseTier(firstWord(resp.Text))
		if result.Tier == research.TierHybrid && !strings.Contains(strings.ToLower(resp.Text), "hybrid") {
			result.Fallback = true
			result.Rationale = "malformed classification output"
			logger.Warn("ClassifyTier: malformed output, defaulting to hybrid",
				"output", truncateStr(resp.Text, 120),
			)
		}
	}

	logger.Info("ClassifyTier: complete",
		"tier", string(result.Tier),
		"fallback", result.Fallback,
		"tokens_used", result.TokensUsed,
	)
	return result, nil
}

func buildClassifyPrompt(query string, reqContext map[string]interface{}) string {
	var sb strings.Builder
	sb.WriteString(`You are a research effort router. Classify the query into exactly one tier:

- "fast": simple factual or definitional questions answerable from general knowledge, no retrieval needed
- "hybrid": questions that benefit from one round of source retrieval
- "deep": open-ended questions needing iterative multi-round research across scholarly sources

Respond with JSON only: {"tier": "fast|hybrid|deep", "rationale": "<one sentence>"}

Query: `)
	sb.WriteString(query)
	if len(reqContext) > 0 {
		sb.WriteString("\n\nCaller context:\n")
		for _, kv := range sortedContext(reqContext) {
			sb.WriteString(fmt.Sprintf("- %s: %v\n", kv.key, kv.value))
		}
	}
	return sb.String()
}

func buildClassifyPromptShort(query string) string {
	return fmt.Sprintf("Answer with one word, fast, hybrid or deep, for the research effort this query needs: %s", truncateStr(query, 300))
}

func firstWord(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], `."',:`)
}

// extractJSONObject pulls the first top-level JSON object out of model
// output, tolerating prose or code fences around it.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return s
	}
	return s[start : end+1]
}

type contextPair struct {
	key   string
	value interface{}
}

// sortedContext renders caller context deterministically for prompts.
func sortedContext(m map[string]interface{}) []contextPair {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]contextPair, 0, len(keys))
	for _, k := range keys {
		out = append(out, contextPair{key: k, value: m[k]})
	}
	return out
}
