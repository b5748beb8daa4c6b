package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONB represents a PostgreSQL jsonb column
type JSONB map[string]interface{}

// Value implements the driver.Valuer interface
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// ResearchReport is one row per research request, written when the
// workflow reaches a terminal state.
type ResearchReport struct {
	ID         uuid.UUID `db:"id"`
	WorkflowID string    `db:"workflow_id"`
	SessionID  string    `db:"session_id"` // empty stored as NULL
	Query      string    `db:"query"`
	Tier       string    `db:"tier"`

	// Outcome
	Status       string  `db:"status"`      // completed, failed, canceled
	StopReason   string  `db:"stop_reason"` // research.StopReason, empty for fast tier
	FinalText    string  `db:"final_text"`
	Truncated    bool    `db:"truncated"`
	ErrorMessage *string `db:"error_message"`

	// Loop shape
	Rounds          int `db:"rounds"`
	SourcesFetched  int `db:"sources_fetched"`
	SourcesSelected int `db:"sources_selected"`

	// Model usage
	TokensUsed int    `db:"tokens_used"`
	Model      string `db:"model"`

	// Timing
	StartedAt   time.Time `db:"started_at"`
	CompletedAt time.Time `db:"completed_at"`
	DurationMs  int64     `db:"duration_ms"`

	Metadata  JSONB     `db:"metadata"`
	CreatedAt time.Time `db:"created_at"`
}
