package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	enumspb "go.temporal.io/api/enums/v1"
	failurepb "go.temporal.io/api/failure/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/humboldt-lab/humboldt/internal/auth"
)

// TimelineHandler renders a research run's Temporal history as a readable
// trace: tier routing, provider rounds and the synthesis call show up as
// activities and child workflow events with durations.
type TimelineHandler struct {
	tclient client.Client
	logger  *zap.Logger
}

// Helper types for timeline building
type scheduledActivity struct {
	Type      string
	ID        string
	Scheduled time.Time
	Started   time.Time
}

type startedTimer struct {
	ID      string
	Started time.Time
	Timeout time.Duration
}

type childRun struct {
	Type    string
	ID      string
	RunID   string
	Started time.Time
}

func NewTimelineHandler(tc client.Client, logger *zap.Logger) *TimelineHandler {
	return &TimelineHandler{tclient: tc, logger: logger}
}

func (h *TimelineHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/timeline", h.handleBuildTimeline)
}

// timelineEntry is one rendered history event.
type timelineEntry struct {
	Seq       uint64    `json:"seq"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type timelineStats struct {
	Total int    `json:"total"`
	Mode  string `json:"mode"`
}

// handleBuildTimeline: GET /timeline?workflow_id=&run_id=&mode=summary|full
func (h *TimelineHandler) handleBuildTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if requireScope(w, r, auth.ScopeResearchRead) == nil {
		return
	}

	q := r.URL.Query()
	wf := q.Get("workflow_id")
	if wf == "" {
		http.Error(w, `{"error":"workflow_id required"}`, http.StatusBadRequest)
		return
	}
	runID := q.Get("run_id")
	mode := q.Get("mode")
	if mode != "full" {
		mode = "summary"
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	events, stats, err := h.buildTimeline(ctx, wf, runID, mode)
	if err != nil {
		if _, ok := err.(*serviceerror.NotFound); ok {
			http.Error(w, `{"error":"research request not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("build timeline failed", zap.String("workflow_id", wf), zap.Error(err))
		http.Error(w, `{"error":"`+sanitizeErr(err.Error())+`"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id": wf,
		"events":      events,
		"stats":       stats,
	})
}

// buildTimeline maps Temporal history to readable entries. Mode: summary|full
func (h *TimelineHandler) buildTimeline(ctx context.Context, workflowID, runID, mode string) ([]timelineEntry, timelineStats, error) {
	it := h.tclient.GetWorkflowHistory(ctx, workflowID, runID, false, enumspb.HISTORY_EVENT_FILTER_TYPE_ALL_EVENT)
	if it == nil {
		return nil, timelineStats{}, fmt.Errorf("history iterator is nil")
	}

	acts := map[int64]*scheduledActivity{}
	timers := map[int64]*startedTimer{}
	children := map[int64]*childRun{}

	var out []timelineEntry

	add := func(t, msg string, ts time.Time, seq uint64) {
		out = append(out, timelineEntry{
			Seq:       seq,
			Type:      t,
			Message:   msg,
			Timestamp: ts,
		})
	}

	for it.HasNext() {
		e, err := it.Next()
		if err != nil {
			return nil, timelineStats{}, err
		}
		ts := e.GetEventTime().AsTime()
		switch e.EventType {
		case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_STARTED:
			add("WF_STARTED", "Research run started", ts, uint64(e.GetEventId()))
		case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_COMPLETED:
			add("WF_COMPLETED", "Research run completed", ts, uint64(e.GetEventId()))
		case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_FAILED:
			msg := "Research run failed"
			if a := e.GetWorkflowExecutionFailedEventAttributes(); a != nil && a.GetFailure() != nil {
				msg = fmt.Sprintf("Research run failed: %s", summarizeFailure(a.GetFailure()))
			}
			add("WF_FAILED", msg, ts, uint64(e.GetEventId()))
		case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_TIMED_OUT:
			add("WF_TIMEOUT", "Research run timed out", ts, uint64(e.GetEventId()))
		case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_TERMINATED:
			add("WF_TERMINATED", "Research run terminated", ts, uint64(e.GetEventId()))
		case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_CANCELED:
			add("WF_CANCELLED", "Research run cancelled", ts, uint64(e.GetEventId()))

		// Activities
		case enumspb.EVENT_TYPE_ACTIVITY_TASK_SCHEDULED:
			if a := e.GetActivityTaskScheduledEventAttributes(); a != nil {
				acts[e.GetEventId()] = &scheduledActivity{Type: a.GetActivityType().GetName(), ID: a.GetActivityId(), Scheduled: ts}
				if mode == "full" {
					add("ACT_SCHEDULED", fmt.Sprintf("Activity %s(id=%s) scheduled", a.GetActivityType().GetName(), a.GetActivityId()), ts, uint64(e.GetEventId()))
				}
			}
		case enumspb.EVENT_TYPE_ACTIVITY_TASK_STARTED:
			if a := e.GetActivityTaskStartedEventAttributes(); a != nil {
				if st := acts[a.GetScheduledEventId()]; st != nil {
					st.Started = ts
				}
				if mode == "full" {
					add("ACT_STARTED", fmt.Sprintf("Activity started (scheduled_id=%d)", a.GetScheduledEventId()), ts, uint64(e.GetEventId()))
				}
			}
		case enumspb.EVENT_TYPE_ACTIVITY_TASK_COMPLETED:
			if a := e.GetActivityTaskCompletedEventAttributes(); a != nil {
				st := acts[a.GetScheduledEventId()]
				name, id := activityNameID(st)
				add("ACT_COMPLETED", fmt.Sprintf("Activity %s(id=%s) completed in %s", name, id, activityDuration(st, ts)), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_ACTIVITY_TASK_FAILED:
			if a := e.GetActivityTaskFailedEventAttributes(); a != nil {
				st := acts[a.GetScheduledEventId()]
				name, id := activityNameID(st)
				add("ACT_FAILED", fmt.Sprintf("Activity %s(id=%s) failed in %s: %s", name, id, activityDuration(st, ts), summarizeFailure(a.GetFailure())), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_ACTIVITY_TASK_TIMED_OUT:
			if a := e.GetActivityTaskTimedOutEventAttributes(); a != nil {
				st := acts[a.GetScheduledEventId()]
				name, id := activityNameID(st)
				add("ACT_TIMEOUT", fmt.Sprintf("Activity %s(id=%s) timed out in %s", name, id, activityDuration(st, ts)), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_ACTIVITY_TASK_CANCEL_REQUESTED:
			if a := e.GetActivityTaskCancelRequestedEventAttributes(); a != nil {
				add("ACT_CANCEL_REQUESTED", fmt.Sprintf("Activity cancel requested (scheduled_id=%d)", a.GetScheduledEventId()), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_ACTIVITY_TASK_CANCELED:
			if a := e.GetActivityTaskCanceledEventAttributes(); a != nil {
				name, id := activityNameID(acts[a.GetScheduledEventId()])
				add("ACT_CANCELLED", fmt.Sprintf("Activity %s(id=%s) cancelled", name, id), ts, uint64(e.GetEventId()))
			}

		// Timers (retry backoffs and loop pacing)
		case enumspb.EVENT_TYPE_TIMER_STARTED:
			if a := e.GetTimerStartedEventAttributes(); a != nil {
				timers[e.GetEventId()] = &startedTimer{ID: a.GetTimerId(), Started: ts, Timeout: a.GetStartToFireTimeout().AsDuration()}
				if mode == "full" {
					add("TIMER_STARTED", fmt.Sprintf("Timer %s started for %s", a.GetTimerId(), a.GetStartToFireTimeout().AsDuration()), ts, uint64(e.GetEventId()))
				}
			}
		case enumspb.EVENT_TYPE_TIMER_FIRED:
			if a := e.GetTimerFiredEventAttributes(); a != nil {
				add("TIMER_FIRED", fmt.Sprintf("Timer %s fired", timerID(timers, a.GetStartedEventId())), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_TIMER_CANCELED:
			if a := e.GetTimerCanceledEventAttributes(); a != nil {
				add("TIMER_CANCELLED", fmt.Sprintf("Timer cancel (started_id=%d)", a.GetStartedEventId()), ts, uint64(e.GetEventId()))
			}

		// Signals (cancel requests arrive here)
		case enumspb.EVENT_TYPE_WORKFLOW_EXECUTION_SIGNALED:
			if a := e.GetWorkflowExecutionSignaledEventAttributes(); a != nil {
				add("SIG_RECEIVED", fmt.Sprintf("Signal received: %s", a.GetSignalName()), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_SIGNAL_EXTERNAL_WORKFLOW_EXECUTION_INITIATED:
			if a := e.GetSignalExternalWorkflowExecutionInitiatedEventAttributes(); a != nil {
				add("SIG_SENT", fmt.Sprintf("Signal sent: %s -> %s", a.GetSignalName(), a.GetWorkflowExecution().GetWorkflowId()), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_EXTERNAL_WORKFLOW_EXECUTION_SIGNALED:
			add("SIG_SENT_CONFIRMED", "External signal acknowledged", ts, uint64(e.GetEventId()))
		case enumspb.EVENT_TYPE_SIGNAL_EXTERNAL_WORKFLOW_EXECUTION_FAILED:
			add("SIG_SENT_FAILED", "External signal failed", ts, uint64(e.GetEventId()))

		// Child workflows (the deep research loop runs as a child)
		case enumspb.EVENT_TYPE_START_CHILD_WORKFLOW_EXECUTION_INITIATED:
			if a := e.GetStartChildWorkflowExecutionInitiatedEventAttributes(); a != nil {
				children[e.GetEventId()] = &childRun{Type: a.GetWorkflowType().GetName(), ID: a.GetWorkflowId()}
				if mode == "full" {
					add("CHILD_INITIATED", fmt.Sprintf("Child %s(id=%s) initiated", a.GetWorkflowType().GetName(), a.GetWorkflowId()), ts, uint64(e.GetEventId()))
				}
			}
		case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_STARTED:
			if a := e.GetChildWorkflowExecutionStartedEventAttributes(); a != nil {
				if c := children[a.GetInitiatedEventId()]; c != nil {
					c.Started = ts
					c.RunID = a.GetWorkflowExecution().GetRunId()
				}
				add("CHILD_STARTED", fmt.Sprintf("Child %s started (id=%s)", childType(children, a.GetInitiatedEventId()), childID(children, a.GetInitiatedEventId())), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_COMPLETED:
			if a := e.GetChildWorkflowExecutionCompletedEventAttributes(); a != nil {
				c := children[a.GetInitiatedEventId()]
				add("CHILD_COMPLETED", fmt.Sprintf("Child %s(id=%s) completed in %s", childType(children, a.GetInitiatedEventId()), childID(children, a.GetInitiatedEventId()), childDuration(c, ts)), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_FAILED:
			if a := e.GetChildWorkflowExecutionFailedEventAttributes(); a != nil {
				c := children[a.GetInitiatedEventId()]
				add("CHILD_FAILED", fmt.Sprintf("Child %s(id=%s) failed in %s", childType(children, a.GetInitiatedEventId()), childID(children, a.GetInitiatedEventId()), childDuration(c, ts)), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_TIMED_OUT:
			if a := e.GetChildWorkflowExecutionTimedOutEventAttributes(); a != nil {
				c := children[a.GetInitiatedEventId()]
				add("CHILD_TIMEOUT", fmt.Sprintf("Child %s(id=%s) timed out in %s", childType(children, a.GetInitiatedEventId()), childID(children, a.GetInitiatedEventId()), childDuration(c, ts)), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_CANCELED:
			if a := e.GetChildWorkflowExecutionCanceledEventAttributes(); a != nil {
				add("CHILD_CANCELLED", fmt.Sprintf("Child %s(id=%s) cancelled", childType(children, a.GetInitiatedEventId()), childID(children, a.GetInitiatedEventId())), ts, uint64(e.GetEventId()))
			}
		case enumspb.EVENT_TYPE_CHILD_WORKFLOW_EXECUTION_TERMINATED:
			if a := e.GetChildWorkflowExecutionTerminatedEventAttributes(); a != nil {
				add("CHILD_TERMINATED", fmt.Sprintf("Child %s(id=%s) terminated", childType(children, a.GetInitiatedEventId()), childID(children, a.GetInitiatedEventId())), ts, uint64(e.GetEventId()))
			}

		default:
			if mode == "full" {
				add("EVENT", e.EventType.String(), ts, uint64(e.GetEventId()))
			}
		}
	}

	// Ensure order by timestamp
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	return out, timelineStats{Total: len(out), Mode: mode}, nil
}

func activityDuration(a *scheduledActivity, end time.Time) time.Duration {
	if a == nil {
		return 0
	}
	if !a.Started.IsZero() {
		return end.Sub(a.Started)
	}
	if !a.Scheduled.IsZero() {
		return end.Sub(a.Scheduled)
	}
	return 0
}

func activityNameID(a *scheduledActivity) (string, string) {
	if a == nil {
		return "?", "?"
	}
	return a.Type, a.ID
}

// summarizeFailure caps failure messages so history payloads never flood the
// response.
func summarizeFailure(f *failurepb.Failure) string {
	if f == nil {
		return "unknown"
	}
	return sanitizeErr(f.GetMessage())
}

func timerID(timers map[int64]*startedTimer, id int64) string {
	if t := timers[id]; t != nil {
		return t.ID
	}
	return "?"
}

func childDuration(c *childRun, end time.Time) time.Duration {
	if c == nil || c.Started.IsZero() {
		return 0
	}
	return end.Sub(c.Started)
}

func childType(children map[int64]*childRun, id int64) string {
	if c := children[id]; c != nil {
		return c.Type
	}
	return "?"
}

func childID(children map[int64]*childRun, id int64) string {
	if c := children[id]; c != nil {
		return c.ID
	}
	return "?"
}
