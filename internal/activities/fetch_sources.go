package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/humboldt-lab/humboldt/internal/research"
)

// FetchSourcesInput asks one provider for up to Limit sources. The workflow
// fans one of these out per provider with nonzero allocation.
type FetchSourcesInput struct {
	Kind  research.ProviderKind `json:"kind"`
	Query string                `json:"query"`
	Limit int                   `json:"limit"`
	Round int                   `json:"round"`
}

// FetchSourcesResult is one provider's contribution to a round. A provider
// failure is data, not an activity error: Failed and ErrorMessage are set and
// Sources is empty, so a dead provider can never fail the round.
type FetchSourcesResult struct {
	Kind         research.ProviderKind   `json:"kind"`
	Sources      []research.SourceRecord `json:"sources"`
	Failed       bool                    `json:"failed"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	DurationMs   int64                   `json:"duration_ms"`
}

// FetchSources runs one time-boxed provider fetch through the registry,
// which applies the rate limiter, the circuit breaker, and a single retry at
// a shorter timeout. The timeouts come from live config so operators can
// tune them without a deploy.
func (a *Activities) FetchSources(ctx context.Context, in FetchSourcesInput) (FetchSourcesResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("FetchSources: starting",
		"provider", string(in.Kind),
		"round", in.Round,
		"limit", in.Limit,
		"query", truncateStr(in.Query, 100),
	)

	cfg := a.researchConfig()
	start := time.Now()
	records, err := a.providers.Fetch(ctx, in.Kind, in.Query, in.Limit, cfg.FetchTimeout, cfg.FetchRetryTimeout)
	result := FetchSourcesResult{
		Kind:       in.Kind,
		Sources:    records,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		result.Failed = true
		result.ErrorMessage = err.Error()
		result.Sources = nil
		logger.Warn("FetchSources: provider failed",
			"provider", string(in.Kind),
			"round", in.Round,
			"duration_ms", result.DurationMs,
			"error", err,
		)
		return result, nil
	}

	logger.Info("FetchSources: complete",
		"provider", string(in.Kind),
		"round", in.Round,
		"sources", len(records),
		"duration_ms", result.DurationMs,
	)
	return result, nil
}
