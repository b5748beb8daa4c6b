package activities

import (
	"context"

	"go.temporal.io/sdk/activity"

	ometrics "github.com/humboldt-lab/humboldt/internal/metrics"
	"github.com/humboldt-lab/humboldt/internal/streaming"
)

// EmitResearchEventInput carries one lifecycle event for a request's stream.
// The workflow builds the event; the sequence number is assigned here at
// publish time so one request's events form a single total order no matter
// which workflow emitted them.
type EmitResearchEventInput struct {
	WorkflowID string          `json:"workflow_id"`
	Event      streaming.Event `json:"event"`
}

// EmitResearchEvent publishes a lifecycle event to the in-process stream
// manager. Best-effort: callers invoke it with a short timeout and a single
// attempt, and a lost event never fails the research request.
func EmitResearchEvent(ctx context.Context, in EmitResearchEventInput) error {
	logger := activity.GetLogger(ctx)
	published := streaming.Get().Publish(in.WorkflowID, in.Event)
	ometrics.RecordStreamEvent(string(published.Kind))
	logger.Debug("Research event published",
		"workflow_id", in.WorkflowID,
		"kind", string(published.Kind),
		"seq", published.Seq,
	)
	return nil
}
