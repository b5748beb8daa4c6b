package control

// Signal and query names for research workflow control
const (
	SignalCancel       = "cancel_v1"
	QueryResearchState = "research_state_v1"
)

// CancelRequest asks a running research request to stop. A soft cancel lets
// the workflow finish with a best-effort synthesis over whatever sources it
// has; Hard abandons the run at the next checkpoint with no answer.
type CancelRequest struct {
	Reason      string `json:"reason"`
	RequestedBy string `json:"requested_by"`
	Hard        bool   `json:"hard"`
}

// ResearchState is the live snapshot served by the research_state_v1 query.
// The workflow mutates it as it moves between stages; Temporal workflows are
// cooperatively scheduled so plain field writes are safe.
type ResearchState struct {
	Stage           string `json:"stage"`
	Tier            string `json:"tier,omitempty"`
	Round           int    `json:"round"`
	SourceCount     int    `json:"source_count"`
	CancelRequested bool   `json:"cancel_requested"`
	HardAbort       bool   `json:"hard_abort"`
	CancelReason    string `json:"cancel_reason,omitempty"`
	CancelledBy     string `json:"cancelled_by,omitempty"`
}

// Stage values reported through the state query. The router reports the
// coarse StageResearching while the research loop runs in its child; the
// child's own state carries the fine-grained loop stages.
const (
	StageClassifying  = "classifying"
	StageResearching  = "researching"
	StagePlanning     = "planning"
	StageFetching     = "fetching"
	StageRanking      = "ranking"
	StageReflecting   = "reflecting"
	StageSynthesizing = "synthesizing"
	StageDone         = "done"
)
