package workflows

import (
	"fmt"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/humboldt-lab/humboldt/internal/activities"
	"github.com/humboldt-lab/humboldt/internal/constants"
	"github.com/humboldt-lab/humboldt/internal/metadata"
	ometrics "github.com/humboldt-lab/humboldt/internal/metrics"
	"github.com/humboldt-lab/humboldt/internal/research"
	"github.com/humboldt-lab/humboldt/internal/streaming"
	"github.com/humboldt-lab/humboldt/internal/workflows/control"
	"github.com/humboldt-lab/humboldt/internal/workflows/opts"
)

// DeepResearchWorkflow runs the bounded plan / fetch / reflect loop for the
// hybrid and deep tiers: plan once, then per round fan out provider fetches,
// merge and rank the accumulated set, reflect on gaps, and evaluate the stop
// conditions; finally synthesize from the selected sources.
//
// It runs as a child of ResearchWorkflow and publishes every loop event
// under the parent's stream id so the request keeps one totally ordered
// stream. Model activities degrade instead of failing the loop: a dead
// planner, ranker, reflector, or refiner costs quality, never the round. The
// only hard failures are an unusable allocation policy and synthesis itself.
func DeepResearchWorkflow(ctx workflow.Context, input DeepResearchInput) (DeepResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID

	streamID := input.StreamID
	if streamID == "" {
		streamID = workflowID
	}

	logger.Info("Starting DeepResearchWorkflow",
		"workflow_id", workflowID,
		"stream_id", streamID,
		"tier", string(input.Tier),
		"max_rounds", input.Policy.MaxRounds,
	)

	ctx = workflow.WithActivityOptions(ctx, opts.ResearchActivityOptions())
	emitCtx := opts.WithEmitOptions(ctx)

	// When the parent owns the stream it also owns the terminal error event;
	// SkipEmit keeps an aborting child from racing it.
	handler := &control.SignalHandler{
		WorkflowID: streamID,
		Logger:     logger,
		EmitCtx:    emitCtx,
		SkipEmit:   input.StreamID != "",
	}
	handler.Setup(ctx)
	handler.State.Tier = string(input.Tier)
	handler.State.Stage = control.StagePlanning

	policy := input.Policy
	result := DeepResearchResult{Tokens: input.PriorTokens}

	// One planning call per request. The loop can always run on the raw
	// query, so planning failures only cost focus.
	var planRes activities.PlanResearchResult
	if err := workflow.ExecuteActivity(ctx, constants.PlanResearchActivity, activities.PlanResearchInput{
		Query:           input.Query,
		Context:         input.Context,
		ModelTier:       policy.ModelTier,
		ReasoningBudget: policy.ReasoningBudget,
		MaxRounds:       policy.MaxRounds,
	}).Get(ctx, &planRes); err != nil {
		if temporal.IsCanceledError(err) {
			return result, err
		}
		logger.Warn("Planning unavailable, researching the raw query", "error", err)
		planRes = activities.PlanResearchResult{
			Plan:     activities.ResearchPlan{RefinedQuery: input.Query},
			Fallback: true,
		}
	} else {
		result.Tokens.Add(planRes.InputTokens, planRes.OutputTokens, planRes.TokensUsed)
	}
	plan := planRes.Plan

	query := strings.TrimSpace(plan.RefinedQuery)
	if query == "" {
		query = input.Query
	}

	set := research.NewSet()
	growth := make([]int, 0, policy.MaxRounds)
	var selected []research.SourceRecord
	var stop research.StopDecision
	rounds := 0

	for round := 1; ; round++ {
		handler.State.Stage = control.StageFetching
		handler.State.Round = round
		if err := handler.CheckCancelPoint(ctx); err != nil {
			return result, err
		}
		if handler.IsCancelRequested() {
			// Soft cancel: stop gathering and synthesize from what we have.
			logger.Info("Cancel requested, skipping remaining rounds", "round", round)
			break
		}

		allocation, err := research.DistributeRound(policy.Allocation, round)
		if err != nil {
			logger.Warn("Allocation policy unusable, falling back to the general provider",
				"round", round, "error", err)
			total := roundTotal(policy.Allocation, round)
			allocation, err = research.NewAllocation(
				map[research.ProviderKind]int{policy.Allocation.GeneralProvider: total}, total)
			if err != nil {
				return result, fmt.Errorf("round %d allocation: %w", round, err)
			}
		}

		emitEvent(emitCtx, streamID, streaming.NewRoundStarted(streamID, round, allocation.Total(), query))

		// Fan out one fetch per provider kind, then collect in a fixed
		// order. A failed provider becomes a round annotation, not an error.
		kinds := allocation.Kinds()
		futures := make([]workflow.Future, len(kinds))
		for i, kind := range kinds {
			futures[i] = workflow.ExecuteActivity(ctx, constants.FetchSourcesActivity, activities.FetchSourcesInput{
				Kind:  kind,
				Query: query,
				Limit: allocation.Count(kind),
				Round: round,
			})
		}

		providerErrors := make(map[research.ProviderKind]string)
		var incoming []research.SourceRecord
		for i, future := range futures {
			var fetch activities.FetchSourcesResult
			if err := future.Get(ctx, &fetch); err != nil {
				if temporal.IsCanceledError(err) {
					return result, err
				}
				logger.Warn("Provider fetch failed",
					"provider", string(kinds[i]), "round", round, "error", err)
				providerErrors[kinds[i]] = err.Error()
				continue
			}
			if fetch.Failed {
				providerErrors[kinds[i]] = fetch.ErrorMessage
				continue
			}
			incoming = append(incoming, fetch.Sources...)
		}

		stats := set.Merge(incoming)
		growth = append(growth, stats.Added)
		rounds = round
		handler.State.SourceCount = set.Len()
		ometrics.RecordMergeStats(stats.Collisions)

		emitEvent(emitCtx, streamID, streaming.NewRoundComplete(streamID, round, stats.Added, set.Len(), providerErrors))

		handler.State.Stage = control.StageRanking
		if err := handler.CheckCancelPoint(ctx); err != nil {
			return result, err
		}

		// Rank the whole accumulated set so earlier finds compete with new
		// ones. A ranker outage zeroes scores; selection still happens.
		if set.Len() > 0 {
			records := set.All()
			compact := make([]activities.RankedSource, 0, len(records))
			for _, rec := range records {
				compact = append(compact, activities.RankedSource{
					ID:      rec.ID,
					Title:   rec.Title,
					Snippet: rec.Snippet,
				})
			}
			var rankRes activities.RankSourcesResult
			if err := workflow.ExecuteActivity(ctx, constants.RankSourcesActivity, activities.RankSourcesInput{
				Query:     input.Query,
				Sources:   compact,
				ModelTier: policy.ModelTier,
				Round:     round,
			}).Get(ctx, &rankRes); err != nil {
				if temporal.IsCanceledError(err) {
					return result, err
				}
				logger.Warn("Ranking unavailable, scoring all sources zero", "round", round, "error", err)
				rankRes = activities.RankSourcesResult{Scores: make(map[string]float64, len(compact)), Degraded: true}
				for _, c := range compact {
					rankRes.Scores[c.ID] = 0
				}
			} else {
				result.Tokens.Add(rankRes.InputTokens, rankRes.OutputTokens, rankRes.TokensUsed)
			}
			for id, score := range rankRes.Scores {
				set.SetScore(id, score)
			}
			selected = research.SelectTopK(research.SortByScore(set.All()), policy.SelectionCount, policy.SelectionBudget)
			ometrics.RecordSelection(len(selected))
		}

		handler.State.Stage = control.StageReflecting
		if err := handler.CheckCancelPoint(ctx); err != nil {
			return result, err
		}

		var gap research.GapAssessment
		if set.Len() == 0 {
			// Nothing to reflect on; the gap is self-evident.
			gap = research.GapAssessment{HasGap: true, Summary: "no sources gathered yet"}
		} else {
			var reflectRes activities.ReflectGapsResult
			if err := workflow.ExecuteActivity(ctx, constants.ReflectGapsActivity, activities.ReflectGapsInput{
				Query:           input.Query,
				FocusAreas:      plan.FocusAreas,
				Selected:        selected,
				Round:           round,
				ModelTier:       policy.ModelTier,
				ReasoningBudget: policy.ReasoningBudget,
			}).Get(ctx, &reflectRes); err != nil {
				if temporal.IsCanceledError(err) {
					return result, err
				}
				logger.Warn("Reflection unavailable, assuming no gap", "round", round, "error", err)
			} else {
				result.Tokens.Add(reflectRes.InputTokens, reflectRes.OutputTokens, reflectRes.TokensUsed)
				gap = research.GapAssessment{HasGap: reflectRes.HasGap, Summary: reflectRes.GapSummary}
			}
		}

		emitEvent(emitCtx, streamID, streaming.NewReflectionComplete(streamID, round, gap.HasGap, gap.Summary))

		stop = research.EvaluateStop(research.StopInputs{
			RoundsCompleted:    round,
			MaxRounds:          policy.MaxRounds,
			HasGap:             gap.HasGap,
			GrowthHistory:      growth,
			MinGrowth:          policy.MinGrowth,
			AllProvidersFailed: len(kinds) > 0 && len(providerErrors) == len(kinds),
			TotalSources:       set.Len(),
		})
		logger.Info("Round finished",
			"round", round,
			"added", stats.Added,
			"total_sources", set.Len(),
			"has_gap", gap.HasGap,
			"decision", stop.String(),
		)
		if !stop.ShouldContinue {
			break
		}

		var refineRes activities.RefineQueryResult
		if err := workflow.ExecuteActivity(ctx, constants.RefineQueryActivity, activities.RefineQueryInput{
			Query:         query,
			OriginalQuery: input.Query,
			GapSummary:    gap.Summary,
			Round:         round,
			ModelTier:     policy.ModelTier,
		}).Get(ctx, &refineRes); err != nil {
			if temporal.IsCanceledError(err) {
				return result, err
			}
			logger.Warn("Refinement unavailable, reusing the current query", "round", round, "error", err)
		} else {
			result.Tokens.Add(refineRes.InputTokens, refineRes.OutputTokens, refineRes.TokensUsed)
			if next := strings.TrimSpace(refineRes.Query); next != "" {
				query = next
			}
		}
	}

	result.Rounds = rounds
	result.StopReason = stop.Reason
	result.TotalFetched = set.Len()

	handler.State.Stage = control.StageSynthesizing
	if err := handler.CheckCancelPoint(ctx); err != nil {
		return result, err
	}

	emitEvent(emitCtx, streamID, streaming.NewSourcesReady(streamID, selected))
	emitEvent(emitCtx, streamID, streaming.NewSynthesisStarted(streamID))

	// Synthesis streams tokens from inside the activity; the registered
	// cancel lets a mid-stream cancel signal stop it, and the activity
	// returns the partial text as a truncated result.
	synthCtx, cancelSynth := workflow.WithCancel(opts.WithSynthesisOptions(ctx))
	handler.RegisterCancel(cancelSynth)
	var synth activities.SynthesizeResult
	err := workflow.ExecuteActivity(synthCtx, constants.SynthesizeAnswerActivity, activities.SynthesizeInput{
		WorkflowID: streamID,
		Query:      input.Query,
		Context:    input.Context,
		Sources:    selected,
		Tier:       input.Tier,
		ModelTier:  policy.ModelTier,
		MaxTokens:  policy.SynthesisMaxTokens,
	}).Get(ctx, &synth)
	handler.RegisterCancel(nil)
	if err != nil {
		if temporal.IsCanceledError(err) {
			return result, err
		}
		return result, fmt.Errorf("synthesis failed: %w", err)
	}

	result.Tokens.Add(synth.InputTokens, synth.OutputTokens, synth.TokensUsed)
	result.FinalText = synth.Text
	result.SourceCount = len(selected)
	result.NoExternalSources = synth.NoExternalSources
	result.Truncated = synth.Truncated
	result.Model = synth.ModelUsed
	result.Metadata = metadata.AggregateRunMetadata(metadata.RunSummary{
		Selected:      selected,
		Provider:      synth.Provider,
		InputTokens:   result.Tokens.InputTokens,
		OutputTokens:  result.Tokens.OutputTokens,
		OriginalQuery: input.Query,
		FinalQuery:    query,
	})

	// A hard abort that landed mid-stream discards the partial answer.
	if err := handler.CheckCancelPoint(ctx); err != nil {
		return result, err
	}

	handler.State.Stage = control.StageDone
	emitEvent(emitCtx, streamID, streaming.NewComplete(streamID, streaming.Complete{
		FinalText:         synth.Text,
		SourceCount:       len(selected),
		TokenUsage:        result.Tokens.Usage(),
		StopReason:        stop.Reason,
		NoExternalSources: synth.NoExternalSources,
		Truncated:         synth.Truncated,
	}))

	logger.Info("DeepResearchWorkflow finished",
		"stream_id", streamID,
		"rounds", rounds,
		"stop_reason", string(stop.Reason),
		"selected", len(selected),
		"total_fetched", set.Len(),
		"truncated", synth.Truncated,
	)
	return result, nil
}
