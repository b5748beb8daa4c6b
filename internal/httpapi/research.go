package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/humboldt-lab/humboldt/internal/auth"
	"github.com/humboldt-lab/humboldt/internal/db"
	"github.com/humboldt-lab/humboldt/internal/metrics"
	"github.com/humboldt-lab/humboldt/internal/research"
	"github.com/humboldt-lab/humboldt/internal/workflows"
	"github.com/humboldt-lab/humboldt/internal/workflows/control"
)

// maxQueryChars bounds submitted queries so planner prompts stay inside
// every tier's model context.
const maxQueryChars = 4096

// ReportStore is the persistence surface the report endpoint reads from.
// *db.Store satisfies it, including as a typed nil when persistence is off.
type ReportStore interface {
	GetReport(ctx context.Context, workflowID string) (*db.ResearchReport, error)
}

// ResearchHandler exposes the research REST surface: submit, status, cancel
// and persisted reports. Handlers validate, start or signal a workflow, and
// answer quickly; everything interesting happens inside the workflow.
type ResearchHandler struct {
	temporal client.Client
	reports  ReportStore
	logger   *zap.Logger
}

func NewResearchHandler(tc client.Client, reports ReportStore, logger *zap.Logger) *ResearchHandler {
	return &ResearchHandler{temporal: tc, reports: reports, logger: logger}
}

// RegisterRoutes registers research routes on the provided mux.
func (h *ResearchHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/research", h.handleSubmit)
	mux.HandleFunc("/api/v1/research/", h.handleSubresource)
}

type submitRequest struct {
	Query        string                 `json:"query"`
	Context      map[string]interface{} `json:"context,omitempty"`
	TierOverride string                 `json:"tier_override,omitempty"`
	SessionID    string                 `json:"session_id,omitempty"`
}

// handleSubmit starts a research workflow.
// POST /api/v1/research
func (h *ResearchHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if requireScope(w, r, auth.ScopeResearchWrite) == nil {
		return
	}

	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		http.Error(w, `{"error":"query is required"}`, http.StatusBadRequest)
		return
	}
	if len([]rune(req.Query)) > maxQueryChars {
		http.Error(w, `{"error":"query too long"}`, http.StatusBadRequest)
		return
	}
	if req.TierOverride != "" && !validTier(req.TierOverride) {
		http.Error(w, `{"error":"tier_override must be fast, hybrid or deep"}`, http.StatusBadRequest)
		return
	}

	workflowID := "research-" + uuid.New().String()
	opts := client.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: workflows.TaskQueue,
	}
	input := workflows.ResearchInput{
		Query:        req.Query,
		Context:      req.Context,
		TierOverride: req.TierOverride,
		SessionID:    req.SessionID,
	}

	run, err := h.temporal.ExecuteWorkflow(r.Context(), opts, workflows.ResearchWorkflow, input)
	if err != nil {
		h.logger.Error("Failed to start research workflow",
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		http.Error(w, `{"error":"failed to start research"}`, http.StatusInternalServerError)
		return
	}

	metrics.RequestsSubmitted.Inc()
	h.logger.Info("Research request accepted",
		zap.String("workflow_id", run.GetID()),
		zap.String("run_id", run.GetRunID()),
		zap.String("tier_override", req.TierOverride),
		zap.String("session_id", req.SessionID),
	)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"workflow_id": run.GetID(),
		"stream_url":  "/stream/sse?workflow_id=" + run.GetID(),
	})
}

// handleSubresource dispatches /api/v1/research/{id}[/{action}].
func (h *ResearchHandler) handleSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/research/")
	parts := strings.SplitN(rest, "/", 2)
	workflowID := parts[0]
	if workflowID == "" {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	action := ""
	if len(parts) == 2 {
		action = strings.TrimSuffix(parts[1], "/")
	}

	switch action {
	case "":
		h.handleStatus(w, r, workflowID)
	case "cancel":
		h.handleCancel(w, r, workflowID)
	case "report":
		h.handleReport(w, r, workflowID)
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

type researchStatus struct {
	WorkflowID string                    `json:"workflow_id"`
	Status     string                    `json:"status"`
	StartedAt  *time.Time                `json:"started_at,omitempty"`
	ClosedAt   *time.Time                `json:"closed_at,omitempty"`
	Progress   *control.ResearchState    `json:"progress,omitempty"`
	Result     *workflows.ResearchResult `json:"result,omitempty"`
}

// handleStatus reports run state without blocking on the workflow.
// GET /api/v1/research/{id}
func (h *ResearchHandler) handleStatus(w http.ResponseWriter, r *http.Request, workflowID string) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if requireScope(w, r, auth.ScopeResearchRead) == nil {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	desc, err := h.temporal.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		if _, ok := err.(*serviceerror.NotFound); ok {
			http.Error(w, `{"error":"research request not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("Describe workflow failed",
			zap.String("workflow_id", workflowID), zap.Error(err))
		http.Error(w, `{"error":"status unavailable"}`, http.StatusBadGateway)
		return
	}
	info := desc.GetWorkflowExecutionInfo()
	if info == nil {
		http.Error(w, `{"error":"research request not found"}`, http.StatusNotFound)
		return
	}

	out := researchStatus{WorkflowID: workflowID, Status: statusLabel(info.GetStatus())}
	if ts := info.GetStartTime(); ts != nil {
		t := ts.AsTime()
		out.StartedAt = &t
	}
	if ts := info.GetCloseTime(); ts != nil {
		t := ts.AsTime()
		out.ClosedAt = &t
	}

	switch info.GetStatus() {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING:
		// Live progress via the state query, best-effort.
		if resp, qErr := h.temporal.QueryWorkflow(ctx, workflowID, "", control.QueryResearchState); qErr == nil {
			var st control.ResearchState
			if gErr := resp.Get(&st); gErr == nil {
				out.Progress = &st
			}
		} else {
			h.logger.Debug("State query failed",
				zap.String("workflow_id", workflowID), zap.Error(qErr))
		}
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		var result workflows.ResearchResult
		if gErr := h.temporal.GetWorkflow(ctx, workflowID, "").Get(ctx, &result); gErr != nil {
			h.logger.Warn("Failed to fetch completed workflow result",
				zap.String("workflow_id", workflowID), zap.Error(gErr))
		} else {
			out.Result = &result
		}
	}

	writeJSON(w, http.StatusOK, out)
}

type cancelRequest struct {
	Reason string `json:"reason,omitempty"`
	Hard   bool   `json:"hard,omitempty"`
}

// handleCancel signals a running workflow to stop.
// POST /api/v1/research/{id}/cancel
func (h *ResearchHandler) handleCancel(w http.ResponseWriter, r *http.Request, workflowID string) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	uc := requireScope(w, r, auth.ScopeResearchWrite)
	if uc == nil {
		return
	}

	// Body is optional; an empty POST is a plain soft cancel.
	var req cancelRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	// Hard abort abandons the run with no answer; that is an operator
	// action, not a caller one.
	if req.Hard {
		if err := auth.RequireScopes(r.Context(), auth.ScopeResearchAdmin); err != nil {
			http.Error(w, `{"error":"`+sanitizeErr(err.Error())+`"}`, http.StatusForbidden)
			return
		}
	}

	payload := control.CancelRequest{
		Reason:      req.Reason,
		RequestedBy: uc.Subject,
		Hard:        req.Hard,
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := h.temporal.SignalWorkflow(ctx, workflowID, "", control.SignalCancel, payload); err != nil {
		if _, ok := err.(*serviceerror.NotFound); ok {
			http.Error(w, `{"error":"research request not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to signal workflow",
			zap.String("workflow_id", workflowID),
			zap.String("signal", control.SignalCancel),
			zap.Error(err))
		http.Error(w, `{"error":"failed to signal workflow"}`, http.StatusBadGateway)
		return
	}

	h.logger.Info("Cancel requested",
		zap.String("workflow_id", workflowID),
		zap.Bool("hard", req.Hard),
		zap.String("requested_by", uc.Subject))

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "cancel_requested",
		"workflow_id": workflowID,
		"hard":        req.Hard,
	})
}

// reportView is the client-facing shape of a persisted report row.
type reportView struct {
	WorkflowID      string                 `json:"workflow_id"`
	SessionID       string                 `json:"session_id,omitempty"`
	Query           string                 `json:"query"`
	Tier            string                 `json:"tier"`
	Status          string                 `json:"status"`
	StopReason      string                 `json:"stop_reason,omitempty"`
	FinalText       string                 `json:"final_text"`
	Truncated       bool                   `json:"truncated,omitempty"`
	ErrorMessage    string                 `json:"error_message,omitempty"`
	Rounds          int                    `json:"rounds"`
	SourcesFetched  int                    `json:"sources_fetched"`
	SourcesSelected int                    `json:"sources_selected"`
	TokensUsed      int                    `json:"tokens_used"`
	Model           string                 `json:"model,omitempty"`
	StartedAt       time.Time              `json:"started_at"`
	CompletedAt     time.Time              `json:"completed_at"`
	DurationMs      int64                  `json:"duration_ms"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// handleReport returns the persisted report for a finished request.
// GET /api/v1/research/{id}/report
func (h *ResearchHandler) handleReport(w http.ResponseWriter, r *http.Request, workflowID string) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if requireScope(w, r, auth.ScopeResearchRead) == nil {
		return
	}
	if h.reports == nil {
		// Persistence disabled; indistinguishable from an unknown id.
		http.Error(w, `{"error":"report not found"}`, http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	report, err := h.reports.GetReport(ctx, workflowID)
	if err != nil {
		h.logger.Error("Report lookup failed",
			zap.String("workflow_id", workflowID), zap.Error(err))
		http.Error(w, `{"error":"report lookup failed"}`, http.StatusInternalServerError)
		return
	}
	if report == nil {
		http.Error(w, `{"error":"report not found"}`, http.StatusNotFound)
		return
	}

	view := reportView{
		WorkflowID:      report.WorkflowID,
		SessionID:       report.SessionID,
		Query:           report.Query,
		Tier:            report.Tier,
		Status:          report.Status,
		StopReason:      report.StopReason,
		FinalText:       report.FinalText,
		Truncated:       report.Truncated,
		Rounds:          report.Rounds,
		SourcesFetched:  report.SourcesFetched,
		SourcesSelected: report.SourcesSelected,
		TokensUsed:      report.TokensUsed,
		Model:           report.Model,
		StartedAt:       report.StartedAt,
		CompletedAt:     report.CompletedAt,
		DurationMs:      report.DurationMs,
		Metadata:        report.Metadata,
	}
	if report.ErrorMessage != nil {
		view.ErrorMessage = *report.ErrorMessage
	}
	writeJSON(w, http.StatusOK, view)
}

// statusLabel maps Temporal execution status onto API status strings.
func statusLabel(s enumspb.WorkflowExecutionStatus) string {
	switch s {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING,
		enumspb.WORKFLOW_EXECUTION_STATUS_CONTINUED_AS_NEW:
		return "running"
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		return "completed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_FAILED:
		return "failed"
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "canceled"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return "terminated"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "timed_out"
	default:
		return "unknown"
	}
}

func validTier(s string) bool {
	switch research.Tier(s) {
	case research.TierFast, research.TierHybrid, research.TierDeep:
		return true
	}
	return false
}

// requireScope resolves the caller identity and enforces one scope, writing
// the error response itself. A nil return means the response is already sent.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) *auth.UserContext {
	uc, err := auth.GetUserContext(r.Context())
	if err != nil {
		http.Error(w, `{"error":"authentication required"}`, http.StatusUnauthorized)
		return nil
	}
	if err := auth.RequireScopes(r.Context(), scope); err != nil {
		http.Error(w, `{"error":"`+sanitizeErr(err.Error())+`"}`, http.StatusForbidden)
		return nil
	}
	return uc
}

// writeJSON writes a JSON response with status and content-type.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sanitizeErr trims error messages for safe client output (UTF-8 safe).
func sanitizeErr(s string) string {
	runes := []rune(s)
	if len(runes) > 200 {
		return string(runes[:200])
	}
	return s
}
