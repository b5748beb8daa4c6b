package workflows

import (
	"errors"
	"fmt"
	"strings"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/humboldt-lab/humboldt/internal/activities"
	"github.com/humboldt-lab/humboldt/internal/config"
	"github.com/humboldt-lab/humboldt/internal/constants"
	"github.com/humboldt-lab/humboldt/internal/metadata"
	ometrics "github.com/humboldt-lab/humboldt/internal/metrics"
	"github.com/humboldt-lab/humboldt/internal/research"
	"github.com/humboldt-lab/humboldt/internal/streaming"
	"github.com/humboldt-lab/humboldt/internal/workflows/control"
	"github.com/humboldt-lab/humboldt/internal/workflows/opts"
)

// ResearchWorkflow is the tier router. It classifies the query (or honors a
// caller override), emits tier_selected, and then either synthesizes a
// direct answer (fast) or runs DeepResearchWorkflow as a child with the
// tier's policy (hybrid, deep). It owns the request's terminal outcome:
// exactly one complete or error event ends the stream, and the report row
// is written here regardless of how the request ended.
func ResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	logger := workflow.GetLogger(ctx)
	start := workflow.Now(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID

	logger.Info("Starting ResearchWorkflow",
		"workflow_id", workflowID,
		"query", truncateQuery(input.Query),
		"session_id", input.SessionID,
		"tier_override", input.TierOverride,
	)

	ctx = workflow.WithActivityOptions(ctx, opts.ResearchActivityOptions())
	emitCtx := opts.WithEmitOptions(ctx)

	handler := &control.SignalHandler{
		WorkflowID: workflowID,
		Logger:     logger,
		EmitCtx:    emitCtx,
	}
	handler.Setup(ctx)
	handler.State.Stage = control.StageClassifying

	result := ResearchResult{WorkflowID: workflowID}

	input.Query = strings.TrimSpace(input.Query)
	if input.Query == "" {
		result.ErrorMessage = "query must not be empty"
		emitEvent(emitCtx, workflowID, streaming.NewError(workflowID, "validation", result.ErrorMessage, false))
		return result, errors.New(result.ErrorMessage)
	}

	var tokens TokenTotals

	// Routing: the override skips classification entirely; otherwise one
	// cheap model call decides. Routing can degrade but never block.
	var tier research.Tier
	var rationale string
	if o := strings.TrimSpace(input.TierOverride); o != "" {
		if t, ok := parseTierStrict(o); ok {
			tier = t
			rationale = "caller override"
			logger.Info("Tier override honored", "tier", string(tier))
		} else {
			logger.Warn("Ignoring unknown tier override", "tier_override", o)
		}
	}
	if tier == "" {
		var classifyRes activities.ClassifyTierResult
		err := workflow.ExecuteActivity(ctx, constants.ClassifyTierActivity, activities.ClassifyTierInput{
			Query:   input.Query,
			Context: input.Context,
		}).Get(ctx, &classifyRes)
		if err != nil {
			logger.Warn("Tier classification unavailable, routing to hybrid", "error", err)
			tier = research.TierHybrid
			rationale = "classification unavailable"
		} else {
			tier = classifyRes.Tier
			rationale = classifyRes.Rationale
			tokens.Add(classifyRes.InputTokens, classifyRes.OutputTokens, classifyRes.TokensUsed)
			if classifyRes.Fallback {
				logger.Info("Classification fell back to hybrid")
			}
		}
	}
	result.Tier = tier
	handler.State.Tier = string(tier)

	emitEvent(emitCtx, workflowID, streaming.NewTierSelected(workflowID, tier, rationale))

	// Pin the tier policy for this run. Reading config through an activity
	// keeps replays deterministic across hot reloads.
	var policySnap activities.ResearchPolicySnapshot
	wfErr := workflow.ExecuteActivity(ctx, constants.GetResearchPolicyActivity, activities.GetResearchPolicyInput{
		Tier: tier,
	}).Get(ctx, &policySnap)
	if wfErr != nil {
		result.ErrorMessage = fmt.Sprintf("no policy for tier %q", tier)
		emitEvent(emitCtx, workflowID, streaming.NewError(workflowID, "routing", result.ErrorMessage, false))
	} else if err := handler.CheckCancelPoint(ctx); err != nil {
		wfErr = err
	} else if tier == research.TierFast {
		wfErr = runDirectSynthesis(ctx, emitCtx, handler, input, &result, policySnap.Policy, &tokens)
	} else {
		wfErr = runDeepResearch(ctx, emitCtx, handler, input, &result, policySnap.Policy, &tokens)
	}

	result.TokensUsed = tokens.TotalTokens
	result.DurationMs = workflow.Now(ctx).Sub(start).Milliseconds()
	result.Success = wfErr == nil
	if wfErr != nil && result.ErrorMessage == "" {
		result.ErrorMessage = wfErr.Error()
	}
	if rationale != "" {
		if result.Metadata == nil {
			result.Metadata = make(map[string]interface{}, 1)
		}
		result.Metadata["tier_rationale"] = rationale
	}
	handler.State.Stage = control.StageDone

	status := "completed"
	switch {
	case temporal.IsCanceledError(wfErr):
		status = "canceled"
	case wfErr != nil:
		status = "failed"
	}

	// Persist the report on a disconnected context so a cancelled run is
	// still recorded. Persistence failures never change the outcome.
	dctx, _ := workflow.NewDisconnectedContext(ctx)
	recordCtx := opts.WithRecordOptions(dctx)
	if err := workflow.ExecuteActivity(recordCtx, constants.RecordResearchActivity, activities.RecordResearchInput{
		WorkflowID: workflowID,
		SessionID:  input.SessionID,
		Query:      input.Query,
		Tier:       tier,
		Status:     status,
		StopReason: result.StopReason,
		FinalText:  result.FinalText,
		Truncated:  result.Truncated,
		Error:      result.ErrorMessage,
		Rounds:     result.Rounds,
		Fetched:    result.TotalFetched,
		Selected:   result.SourceCount,
		TokensUsed: result.TokensUsed,
		Model:      result.Model,
		StartedAt:  start,
		DurationMs: result.DurationMs,
		Metadata:   result.Metadata,
	}).Get(recordCtx, nil); err != nil {
		logger.Warn("Report persistence failed", "error", err)
	}

	ometrics.RecordResearchMetrics(string(tier), status, float64(result.DurationMs)/1000.0, result.Rounds, result.TokensUsed)

	logger.Info("ResearchWorkflow finished",
		"workflow_id", workflowID,
		"status", status,
		"tier", string(tier),
		"rounds", result.Rounds,
		"sources", result.SourceCount,
		"tokens_used", result.TokensUsed,
		"duration_ms", result.DurationMs,
	)
	return result, wfErr
}

// runDirectSynthesis answers a fast-tier request with a single streaming
// synthesis call and no retrieval.
func runDirectSynthesis(ctx, emitCtx workflow.Context, handler *control.SignalHandler, input ResearchInput, result *ResearchResult, policy config.TierPolicy, tokens *TokenTotals) error {
	workflowID := result.WorkflowID
	handler.State.Stage = control.StageSynthesizing

	if err := handler.CheckCancelPoint(ctx); err != nil {
		return err
	}

	emitEvent(emitCtx, workflowID, streaming.NewSynthesisStarted(workflowID))

	synthCtx, cancelSynth := workflow.WithCancel(opts.WithSynthesisOptions(ctx))
	handler.RegisterCancel(cancelSynth)
	var synth activities.SynthesizeResult
	err := workflow.ExecuteActivity(synthCtx, constants.SynthesizeAnswerActivity, activities.SynthesizeInput{
		WorkflowID: workflowID,
		Query:      input.Query,
		Context:    input.Context,
		Tier:       research.TierFast,
		ModelTier:  policy.ModelTier,
		MaxTokens:  policy.SynthesisMaxTokens,
	}).Get(ctx, &synth)
	handler.RegisterCancel(nil)
	if err != nil {
		if temporal.IsCanceledError(err) {
			return err
		}
		emitEvent(emitCtx, workflowID, streaming.NewError(workflowID, control.StageSynthesizing, err.Error(), false))
		return fmt.Errorf("synthesis failed: %w", err)
	}

	tokens.Add(synth.InputTokens, synth.OutputTokens, synth.TokensUsed)
	result.FinalText = synth.Text
	result.NoExternalSources = synth.NoExternalSources
	result.Truncated = synth.Truncated
	result.Model = synth.ModelUsed
	result.Metadata = metadata.AggregateRunMetadata(metadata.RunSummary{
		Provider:     synth.Provider,
		InputTokens:  tokens.InputTokens,
		OutputTokens: tokens.OutputTokens,
	})

	// A hard abort that landed mid-stream discards the partial answer.
	if err := handler.CheckCancelPoint(ctx); err != nil {
		return err
	}

	emitEvent(emitCtx, workflowID, streaming.NewComplete(workflowID, streaming.Complete{
		FinalText:         synth.Text,
		TokenUsage:        tokens.Usage(),
		NoExternalSources: synth.NoExternalSources,
		Truncated:         synth.Truncated,
	}))
	return nil
}

// runDeepResearch delegates the bounded research loop to the child workflow
// and maps its outcome back onto the router's result.
func runDeepResearch(ctx, emitCtx workflow.Context, handler *control.SignalHandler, input ResearchInput, result *ResearchResult, policy config.TierPolicy, tokens *TokenTotals) error {
	workflowID := result.WorkflowID
	logger := workflow.GetLogger(ctx)
	handler.State.Stage = control.StageResearching

	childID := workflowID + "-deep"
	childCtx, cancelChild := workflow.WithCancel(workflow.WithChildOptions(ctx, workflow.ChildWorkflowOptions{
		WorkflowID: childID,
	}))
	handler.RegisterChildWorkflow(childID)
	handler.RegisterAbortCancel(cancelChild)

	var deep DeepResearchResult
	err := workflow.ExecuteChildWorkflow(childCtx, DeepResearchWorkflow, DeepResearchInput{
		StreamID:    workflowID,
		Query:       input.Query,
		Context:     input.Context,
		SessionID:   input.SessionID,
		Tier:        result.Tier,
		Policy:      policy,
		PriorTokens: *tokens,
	}).Get(ctx, &deep)
	handler.RegisterAbortCancel(nil)
	handler.UnregisterChildWorkflow(childID)

	if err != nil {
		if temporal.IsCanceledError(err) {
			// The child aborted at a checkpoint without emitting; the
			// terminal error event is owned here.
			if cpErr := handler.CheckCancelPoint(ctx); cpErr != nil {
				return cpErr
			}
			emitEvent(emitCtx, workflowID, streaming.NewError(workflowID, handler.State.Stage, "research aborted", false))
			return err
		}
		logger.Error("Deep research failed", "child_workflow_id", childID, "error", err)
		emitEvent(emitCtx, workflowID, streaming.NewError(workflowID, handler.State.Stage, err.Error(), false))
		return fmt.Errorf("deep research failed: %w", err)
	}

	// The child's tally already includes PriorTokens.
	*tokens = deep.Tokens
	result.FinalText = deep.FinalText
	result.SourceCount = deep.SourceCount
	result.TotalFetched = deep.TotalFetched
	result.Rounds = deep.Rounds
	result.StopReason = deep.StopReason
	result.NoExternalSources = deep.NoExternalSources
	result.Truncated = deep.Truncated
	result.Model = deep.Model
	result.Metadata = deep.Metadata
	return nil
}
