package opts

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// ResearchActivityOptions returns the default options for research
// activities. Model and provider calls absorb their own failures, so the
// retry policy only covers transport-level activity failures.
func ResearchActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 8 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 3,
		},
	}
}

// EmitActivityOptions returns the options for event emission: one attempt
// with a short timeout. A lost event must never stall a workflow.
func EmitActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// SynthesisActivityOptions returns the options for the streaming synthesis
// activity. The heartbeat is the channel through which cancellation reaches
// the stream; WaitForCancellation lets a cancelled activity hand back its
// truncated partial. A single attempt: the first attempt may already have
// published token events.
func SynthesisActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    30 * time.Second,
		WaitForCancellation: true,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
}

// RecordActivityOptions returns the options for the report upsert, which is
// idempotent by workflow id and safe to retry.
func RecordActivityOptions() workflow.ActivityOptions {
	return workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
}

// WithEmitOptions applies EmitActivityOptions to a context.
func WithEmitOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, EmitActivityOptions())
}

// WithSynthesisOptions applies SynthesisActivityOptions to a context.
func WithSynthesisOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, SynthesisActivityOptions())
}

// WithRecordOptions applies RecordActivityOptions to a context.
func WithRecordOptions(ctx workflow.Context) workflow.Context {
	return workflow.WithActivityOptions(ctx, RecordActivityOptions())
}
