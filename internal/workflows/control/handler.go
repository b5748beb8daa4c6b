package control

import (
	"fmt"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/humboldt-lab/humboldt/internal/activities"
	"github.com/humboldt-lab/humboldt/internal/constants"
	"github.com/humboldt-lab/humboldt/internal/streaming"
)

// SignalHandler wires cancellation and the state query into a workflow.
type SignalHandler struct {
	State      *ResearchState
	WorkflowID string
	Logger     log.Logger
	EmitCtx    workflow.Context

	// SkipEmit suppresses terminal event emission. Set on child workflows
	// whose parent owns the event stream.
	SkipEmit bool

	// Child workflow management - simple slice is safe because Temporal
	// workflows are cooperatively scheduled (single goroutine, no true
	// concurrency)
	childWorkflowIDs []string

	// cancelActive stops the in-flight synthesis activity when a cancel
	// signal arrives mid-stream.
	cancelActive workflow.CancelFunc

	// cancelOnAbort cancels the running child workflow on hard abort, so
	// an abort does not depend on the propagated signal reaching a child
	// that is still starting up.
	cancelOnAbort workflow.CancelFunc
}

// Setup registers the query handler and starts the signal receive loop.
func (h *SignalHandler) Setup(ctx workflow.Context) {
	if h.State == nil {
		h.State = &ResearchState{}
	}
	h.childWorkflowIDs = []string{}

	_ = workflow.SetQueryHandler(ctx, QueryResearchState, func() (ResearchState, error) {
		return *h.State, nil
	})

	cancelCh := workflow.GetSignalChannel(ctx, SignalCancel)
	workflow.Go(ctx, func(gCtx workflow.Context) {
		for {
			var req CancelRequest
			cancelCh.Receive(gCtx, &req)
			h.handleCancel(gCtx, req)
		}
	})
}

// RegisterChildWorkflow adds a child workflow ID for signal propagation
func (h *SignalHandler) RegisterChildWorkflow(childID string) {
	h.childWorkflowIDs = append(h.childWorkflowIDs, childID)
}

// UnregisterChildWorkflow removes a completed child workflow
func (h *SignalHandler) UnregisterChildWorkflow(childID string) {
	for i, id := range h.childWorkflowIDs {
		if id == childID {
			h.childWorkflowIDs = append(h.childWorkflowIDs[:i], h.childWorkflowIDs[i+1:]...)
			return
		}
	}
}

// RegisterCancel installs the cancel function for an in-flight activity whose
// stream should stop as soon as any cancel signal arrives. The activity is
// expected to convert the cancellation into a truncated partial result. Pass
// nil once the activity has returned.
func (h *SignalHandler) RegisterCancel(fn workflow.CancelFunc) {
	h.cancelActive = fn
}

// RegisterAbortCancel installs the cancel function for a child workflow
// context, invoked only on hard abort. Pass nil once the child has returned.
func (h *SignalHandler) RegisterAbortCancel(fn workflow.CancelFunc) {
	h.cancelOnAbort = fn
}

func (h *SignalHandler) handleCancel(ctx workflow.Context, req CancelRequest) {
	// A hard abort is sticky; a later soft cancel cannot downgrade it.
	h.State.CancelRequested = true
	h.State.HardAbort = h.State.HardAbort || req.Hard
	h.State.CancelReason = req.Reason
	h.State.CancelledBy = req.RequestedBy

	if h.Logger != nil {
		h.Logger.Info("Cancel requested",
			"reason", req.Reason,
			"hard", req.Hard,
			"requested_by", req.RequestedBy,
		)
	}

	if h.cancelActive != nil {
		h.cancelActive()
	}
	if req.Hard && h.cancelOnAbort != nil {
		h.cancelOnAbort()
	}

	h.propagateToChildren(ctx, req)
}

// propagateToChildren forwards the cancel request to registered child workflows
func (h *SignalHandler) propagateToChildren(ctx workflow.Context, req CancelRequest) {
	if len(h.childWorkflowIDs) == 0 {
		return
	}

	children := make([]string, len(h.childWorkflowIDs))
	copy(children, h.childWorkflowIDs)

	futures := make([]workflow.Future, 0, len(children))
	for _, childID := range children {
		futures = append(futures, workflow.SignalExternalWorkflow(ctx, childID, "", SignalCancel, req))
	}
	for _, f := range futures {
		_ = f.Get(ctx, nil) // Ignore errors - child may have completed
	}
}

// CheckCancelPoint returns a CanceledError when a hard abort is pending,
// emitting the terminal error event first so subscribers see a clean end of
// stream. Soft cancellation returns nil; the workflow is expected to notice
// IsCancelRequested and jump to a best-effort synthesis.
func (h *SignalHandler) CheckCancelPoint(ctx workflow.Context) error {
	if h.State == nil {
		return nil
	}

	// Workflow-level cancellation (a parent aborting its child, or a direct
	// service cancel) ends the run without a synthetic event; the owner of
	// the stream reports the failure.
	if ctx.Err() != nil {
		return temporal.NewCanceledError("workflow cancelled")
	}

	// Yield so a signal delivered just before the checkpoint is processed
	// before we read the state.
	_ = workflow.Sleep(ctx, 0)

	if !h.State.HardAbort {
		return nil
	}

	if !h.SkipEmit {
		ev := streaming.NewError(h.WorkflowID, h.State.Stage, abortMessage(h.State.CancelReason), false)
		_ = workflow.ExecuteActivity(h.EmitCtx, constants.EmitResearchEventActivity, activities.EmitResearchEventInput{
			WorkflowID: h.WorkflowID,
			Event:      ev,
		}).Get(ctx, nil)
	}

	return temporal.NewCanceledError(abortMessage(h.State.CancelReason))
}

// IsCancelRequested reports whether any cancel signal has arrived.
func (h *SignalHandler) IsCancelRequested() bool {
	return h.State != nil && h.State.CancelRequested
}

// IsHardAbort reports whether the pending cancellation is a hard abort.
func (h *SignalHandler) IsHardAbort() bool {
	return h.State != nil && h.State.HardAbort
}

func abortMessage(reason string) string {
	if reason == "" {
		return "research aborted"
	}
	return fmt.Sprintf("research aborted: %s", reason)
}
