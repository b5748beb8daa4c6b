package workflows

import (
	"strings"

	"go.temporal.io/sdk/workflow"

	"github.com/humboldt-lab/humboldt/internal/activities"
	"github.com/humboldt-lab/humboldt/internal/constants"
	"github.com/humboldt-lab/humboldt/internal/research"
	"github.com/humboldt-lab/humboldt/internal/streaming"
)

// emitEvent publishes one stream event through the emit activity. Emission
// is awaited so events keep workflow order, but a failed emission is
// absorbed: a lost event never fails the request.
func emitEvent(emitCtx workflow.Context, workflowID string, ev streaming.Event) {
	if err := workflow.ExecuteActivity(emitCtx, constants.EmitResearchEventActivity, activities.EmitResearchEventInput{
		WorkflowID: workflowID,
		Event:      ev,
	}).Get(emitCtx, nil); err != nil {
		workflow.GetLogger(emitCtx).Debug("Event emission failed",
			"kind", string(ev.Kind),
			"error", err,
		)
	}
}

// parseTierStrict maps a caller-supplied override onto a tier. Unlike
// research.ParseTier it rejects unknown names instead of defaulting, so a
// typo falls through to classification.
func parseTierStrict(s string) (research.Tier, bool) {
	switch research.Tier(strings.ToLower(strings.TrimSpace(s))) {
	case research.TierFast:
		return research.TierFast, true
	case research.TierHybrid:
		return research.TierHybrid, true
	case research.TierDeep:
		return research.TierDeep, true
	}
	return "", false
}

// roundTotal returns the configured source total for a 1-based round, with
// the last entry repeating for deeper rounds.
func roundTotal(p research.AllocationPolicy, round int) int {
	if len(p.RoundTotals) == 0 {
		return 0
	}
	idx := round - 1
	if idx >= len(p.RoundTotals) {
		idx = len(p.RoundTotals) - 1
	}
	return p.RoundTotals[idx]
}

// truncateQuery keeps log lines readable for long queries.
func truncateQuery(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
