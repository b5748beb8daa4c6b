package metadata

import (
	"github.com/humboldt-lab/humboldt/internal/research"
)

// RunSummary carries the facts of a finished research run that are worth
// keeping on the stored report but have no column of their own.
type RunSummary struct {
	Selected      []research.SourceRecord
	Provider      string
	InputTokens   int
	OutputTokens  int
	OriginalQuery string
	FinalQuery    string
}

// AggregateRunMetadata builds the report metadata map. Only keys with
// something to say are set; a run that produced nothing returns nil so
// callers can skip the column entirely.
func AggregateRunMetadata(run RunSummary) map[string]interface{} {
	meta := make(map[string]interface{})

	if mix := SourceMix(run.Selected); len(mix) > 0 {
		meta["source_mix"] = mix
	}
	if run.Provider != "" {
		meta["model_provider"] = run.Provider
	}
	if run.InputTokens > 0 || run.OutputTokens > 0 {
		meta["input_tokens"] = run.InputTokens
		meta["output_tokens"] = run.OutputTokens
	}
	if run.FinalQuery != "" && run.FinalQuery != run.OriginalQuery {
		meta["refined_query"] = run.FinalQuery
	}

	if len(meta) == 0 {
		return nil
	}
	return meta
}

// SourceMix counts sources by provider kind. Records without a kind land
// under "unknown" rather than vanishing from the tally.
func SourceMix(sources []research.SourceRecord) map[string]int {
	if len(sources) == 0 {
		return nil
	}
	mix := make(map[string]int, 4)
	for _, src := range sources {
		kind := string(src.ProviderKind)
		if kind == "" {
			kind = "unknown"
		}
		mix[kind]++
	}
	return mix
}
