package activities

import (
	"context"
	"time"

	"go.temporal.io/sdk/activity"

	"github.com/humboldt-lab/humboldt/internal/db"
	ometrics "github.com/humboldt-lab/humboldt/internal/metrics"
	"github.com/humboldt-lab/humboldt/internal/research"
)

// RecordResearchInput is the terminal report for one research request.
type RecordResearchInput struct {
	WorkflowID string                 `json:"workflow_id"`
	SessionID  string                 `json:"session_id,omitempty"`
	Query      string                 `json:"query"`
	Tier       research.Tier          `json:"tier"`
	Status     string                 `json:"status"` // completed, failed, canceled
	StopReason research.StopReason    `json:"stop_reason,omitempty"`
	FinalText  string                 `json:"final_text"`
	Truncated  bool                   `json:"truncated"`
	Error      string                 `json:"error,omitempty"`
	Rounds     int                    `json:"rounds"`
	Fetched    int                    `json:"fetched"`
	Selected   int                    `json:"selected"`
	TokensUsed int                    `json:"tokens_used"`
	Model      string                 `json:"model,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	DurationMs int64                  `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// RecordResearch writes the report row. The upsert is idempotent by
// workflow id, so the activity is safe to retry; without a configured store
// it is a no-op. Errors are returned so Temporal retries transient database
// failures, but callers absorb the final error: persistence never fails a
// request.
func (a *Activities) RecordResearch(ctx context.Context, in RecordResearchInput) error {
	logger := activity.GetLogger(ctx)

	if a.store == nil {
		logger.Debug("RecordResearch: no store configured, skipping", "workflow_id", in.WorkflowID)
		return nil
	}

	report := &db.ResearchReport{
		WorkflowID:      in.WorkflowID,
		SessionID:       in.SessionID,
		Query:           in.Query,
		Tier:            string(in.Tier),
		Status:          in.Status,
		StopReason:      string(in.StopReason),
		FinalText:       in.FinalText,
		Truncated:       in.Truncated,
		Rounds:          in.Rounds,
		SourcesFetched:  in.Fetched,
		SourcesSelected: in.Selected,
		TokensUsed:      in.TokensUsed,
		Model:           in.Model,
		StartedAt:       in.StartedAt,
		CompletedAt:     in.StartedAt.Add(time.Duration(in.DurationMs) * time.Millisecond),
		DurationMs:      in.DurationMs,
		Metadata:        db.JSONB(in.Metadata),
	}
	if in.Error != "" {
		msg := in.Error
		report.ErrorMessage = &msg
	}

	if err := a.store.SaveReport(ctx, report); err != nil {
		ometrics.RecordReportWrite("error")
		logger.Error("RecordResearch: save failed",
			"workflow_id", in.WorkflowID,
			"error", err,
		)
		return err
	}

	ometrics.RecordReportWrite("ok")
	logger.Info("RecordResearch: report saved",
		"workflow_id", in.WorkflowID,
		"status", in.Status,
		"rounds", in.Rounds,
	)
	return nil
}
