package activities

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.temporal.io/sdk/activity"

	"github.com/humboldt-lab/humboldt/internal/llm"
)

// RankSourcesInput is the batched ranking request for one round. Sources
// arrive in discovery order and every one of them must come back scored.
type RankSourcesInput struct {
	Query     string         `json:"query"`
	Sources   []RankedSource `json:"sources"`
	ModelTier string         `json:"model_tier"`
	Round     int            `json:"round"`
}

// RankedSource is the compact source view sent to the ranking model.
type RankedSource struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// RankSourcesResult maps every input id to a relevance score in [0,100].
// Missing counts ids the model omitted (scored zero); Degraded marks a total
// call or parse failure resolved to all-zero scores. Ranking never errors.
type RankSourcesResult struct {
	Scores       map[string]float64 `json:"scores"`
	Missing      int                `json:"missing"`
	Degraded     bool               `json:"degraded"`
	TokensUsed   int                `json:"tokens_used"`
	InputTokens  int                `json:"input_tokens"`
	OutputTokens int                `json:"output_tokens"`
	ModelUsed    string             `json:"model_used"`
	Provider     string             `json:"provider"`
}

// rankVerdict is the structured response expected from the model.
type rankVerdict struct {
	Scores []struct {
		ID    string  `json:"id"`
		Score float64 `json:"score"`
	} `json:"scores"`
}

// RankSources scores the accumulated source set against the query with one
// batched model call at low temperature. Ids the model omits get score zero
// and a log line, never dropped; total failure degrades to all-zero scores.
func (a *Activities) RankSources(ctx context.Context, in RankSourcesInput) (RankSourcesResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("RankSources: starting",
		"round", in.Round,
		"sources", len(in.Sources),
	)

	result := RankSourcesResult{Scores: make(map[string]float64, len(in.Sources))}
	for _, src := range in.Sources {
		result.Scores[src.ID] = 0
	}
	if len(in.Sources) == 0 {
		return result, nil
	}

	resp, err := a.llm.Complete(ctx, "rank", llm.Request{
		Prompt:      buildRankPrompt(in),
		ModelTier:   in.ModelTier,
		MaxTokens:   2048,
		Temperature: 0.1,
	})
	if err != nil {
		logger.Warn("RankSources: model call failed, degrading to zero scores", "error", err)
		result.Degraded = true
		return result, nil
	}

	result.TokensUsed = resp.TokensUsed
	result.InputTokens = resp.InputTokens
	result.OutputTokens = resp.OutputTokens
	result.ModelUsed = resp.ModelUsed
	result.Provider = resp.Provider

	var verdict rankVerdict
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &verdict); err != nil || len(verdict.Scores) == 0 {
		logger.Warn("RankSources: unparseable scores, degrading to zero scores",
			"error", err,
			"output", truncateStr(resp.Text, 120),
		)
		result.Degraded = true
		return result, nil
	}

	scored := make(map[string]bool, len(verdict.Scores))
	for _, s := range verdict.Scores {
		if _, known := result.Scores[s.ID]; !known {
			// Hallucinated ids are dropped; only input ids get scores.
			logger.Debug("RankSources: ignoring unknown id from model", "id", s.ID)
			continue
		}
		result.Scores[s.ID] = clampScore(s.Score)
		scored[s.ID] = true
	}

	for _, src := range in.Sources {
		if !scored[src.ID] {
			result.Missing++
			logger.Warn("RankSources: model omitted source, scoring zero", "id", src.ID)
		}
	}

	logger.Info("RankSources: complete",
		"round", in.Round,
		"scored", len(scored),
		"missing", result.Missing,
		"tokens_used", result.TokensUsed,
	)
	return result, nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

func buildRankPrompt(in RankSourcesInput) string {
	var sb strings.Builder
	sb.WriteString(`You are a source relevance ranker. Score every source below for how well it supports answering the query, 0 (irrelevant) to 100 (directly on point).

Respond with JSON only: {"scores": [{"id": "<id>", "score": <0-100>}, ...]}
Score every listed id exactly once.

Query: `)
	sb.WriteString(in.Query)
	sb.WriteString("\n\nSources:\n")
	for i, src := range in.Sources {
		sb.WriteString(fmt.Sprintf("%d. id: %s\n   title: %s\n", i+1, src.ID, src.Title))
		if src.Snippet != "" {
			sb.WriteString(fmt.Sprintf("   snippet: %s\n", truncateStr(src.Snippet, 400)))
		}
	}
	return sb.String()
}
