package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	commonpb "go.temporal.io/api/common/v1"
	enumspb "go.temporal.io/api/enums/v1"
	historypb "go.temporal.io/api/history/v1"
	"go.temporal.io/api/serviceerror"
	workflowpb "go.temporal.io/api/workflow/v1"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/converter"
	"go.uber.org/zap/zaptest"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/humboldt-lab/humboldt/internal/auth"
	"github.com/humboldt-lab/humboldt/internal/db"
	"github.com/humboldt-lab/humboldt/internal/workflows"
	"github.com/humboldt-lab/humboldt/internal/workflows/control"
)

// fakeTemporal overrides the handful of client.Client methods the handlers
// use. Anything else panics via the embedded nil interface.
type fakeTemporal struct {
	client.Client

	mu         sync.Mutex
	startOpts  client.StartWorkflowOptions
	startInput workflows.ResearchInput
	startErr   error

	signals   []signalRecord
	signalErr error

	describeResp *workflowservice.DescribeWorkflowExecutionResponse
	describeErr  error

	queryState control.ResearchState
	queryErr   error

	result workflows.ResearchResult

	history    []*historypb.HistoryEvent
	historyErr error
}

type signalRecord struct {
	workflowID string
	name       string
	payload    interface{}
}

func (f *fakeTemporal) ExecuteWorkflow(ctx context.Context, opts client.StartWorkflowOptions, wf interface{}, args ...interface{}) (client.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.startOpts = opts
	if len(args) == 1 {
		if in, ok := args[0].(workflows.ResearchInput); ok {
			f.startInput = in
		}
	}
	return &fakeRun{id: opts.ID, runID: "run-1"}, nil
}

func (f *fakeTemporal) SignalWorkflow(ctx context.Context, workflowID, runID, signalName string, arg interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signalErr != nil {
		return f.signalErr
	}
	f.signals = append(f.signals, signalRecord{workflowID: workflowID, name: signalName, payload: arg})
	return nil
}

func (f *fakeTemporal) DescribeWorkflowExecution(ctx context.Context, workflowID, runID string) (*workflowservice.DescribeWorkflowExecutionResponse, error) {
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return f.describeResp, nil
}

func (f *fakeTemporal) QueryWorkflow(ctx context.Context, workflowID, runID, queryType string, args ...interface{}) (converter.EncodedValue, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return encodedValue{v: f.queryState}, nil
}

func (f *fakeTemporal) GetWorkflow(ctx context.Context, workflowID, runID string) client.WorkflowRun {
	return &fakeRun{id: workflowID, runID: runID, result: &f.result}
}

func (f *fakeTemporal) GetWorkflowHistory(ctx context.Context, workflowID, runID string, isLongPoll bool, filterType enumspb.HistoryEventFilterType) client.HistoryEventIterator {
	return &fakeHistoryIterator{events: f.history, err: f.historyErr}
}

type fakeRun struct {
	id     string
	runID  string
	result *workflows.ResearchResult
}

func (r *fakeRun) GetID() string    { return r.id }
func (r *fakeRun) GetRunID() string { return r.runID }

func (r *fakeRun) Get(ctx context.Context, valuePtr interface{}) error {
	if out, ok := valuePtr.(*workflows.ResearchResult); ok && r.result != nil {
		*out = *r.result
	}
	return nil
}

func (r *fakeRun) GetWithOptions(ctx context.Context, valuePtr interface{}, options client.WorkflowRunGetOptions) error {
	return r.Get(ctx, valuePtr)
}

// encodedValue round-trips query results through JSON, standing in for the
// SDK's data converter.
type encodedValue struct{ v interface{} }

func (e encodedValue) HasValue() bool { return e.v != nil }

func (e encodedValue) Get(valuePtr interface{}) error {
	b, err := json.Marshal(e.v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, valuePtr)
}

type fakeHistoryIterator struct {
	events []*historypb.HistoryEvent
	pos    int
	err    error
}

func (it *fakeHistoryIterator) HasNext() bool {
	return it.err != nil || it.pos < len(it.events)
}

func (it *fakeHistoryIterator) Next() (*historypb.HistoryEvent, error) {
	if it.err != nil {
		return nil, it.err
	}
	e := it.events[it.pos]
	it.pos++
	return e, nil
}

type fakeReports struct {
	reports map[string]*db.ResearchReport
	err     error
}

func (f *fakeReports) GetReport(ctx context.Context, workflowID string) (*db.ResearchReport, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.reports[workflowID], nil
}

// withScopes attaches an authenticated caller to the request, the way the
// middleware does after validating credentials.
func withScopes(r *http.Request, scopes ...string) *http.Request {
	uc := &auth.UserContext{Subject: "tester", Role: auth.RoleUser, Scopes: scopes}
	return r.WithContext(context.WithValue(r.Context(), auth.UserContextKey, uc))
}

func newResearchMux(t *testing.T, fake *fakeTemporal, reports ReportStore) *http.ServeMux {
	t.Helper()
	mux := http.NewServeMux()
	NewResearchHandler(fake, reports, zaptest.NewLogger(t)).RegisterRoutes(mux)
	return mux
}

func describeResponse(status enumspb.WorkflowExecutionStatus, start, closed time.Time) *workflowservice.DescribeWorkflowExecutionResponse {
	info := &workflowpb.WorkflowExecutionInfo{Status: status}
	if !start.IsZero() {
		info.StartTime = timestamppb.New(start)
	}
	if !closed.IsZero() {
		info.CloseTime = timestamppb.New(closed)
	}
	return &workflowservice.DescribeWorkflowExecutionResponse{WorkflowExecutionInfo: info}
}

func TestSubmitResearch(t *testing.T) {
	fake := &fakeTemporal{}
	mux := newResearchMux(t, fake, nil)

	body := `{"query":"effects of psilocybin on treatment-resistant depression","tier_override":"deep","session_id":"sess-1"}`
	req := withScopes(httptest.NewRequest(http.MethodPost, "/api/v1/research", strings.NewReader(body)), auth.ScopeResearchWrite)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp["workflow_id"], "research-"))
	assert.Contains(t, resp["stream_url"], resp["workflow_id"])

	assert.Equal(t, workflows.TaskQueue, fake.startOpts.TaskQueue)
	assert.Equal(t, resp["workflow_id"], fake.startOpts.ID)
	assert.Equal(t, "effects of psilocybin on treatment-resistant depression", fake.startInput.Query)
	assert.Equal(t, "deep", fake.startInput.TierOverride)
	assert.Equal(t, "sess-1", fake.startInput.SessionID)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing query", `{}`, http.StatusBadRequest},
		{"blank query", `{"query":"   "}`, http.StatusBadRequest},
		{"invalid tier override", `{"query":"q","tier_override":"ultra"}`, http.StatusBadRequest},
		{"unknown field", `{"query":"q","depth":3}`, http.StatusBadRequest},
		{"query too long", `{"query":"` + strings.Repeat("a", maxQueryChars+1) + `"}`, http.StatusBadRequest},
		{"not json", `query=q`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeTemporal{}
			mux := newResearchMux(t, fake, nil)
			req := withScopes(httptest.NewRequest(http.MethodPost, "/api/v1/research", strings.NewReader(tt.body)), auth.ScopeResearchWrite)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
			assert.Empty(t, fake.startOpts.ID, "workflow must not start on invalid input")
		})
	}
}

func TestSubmitAuth(t *testing.T) {
	mux := newResearchMux(t, &fakeTemporal{}, nil)
	body := `{"query":"q"}`

	// No identity at all.
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/research", strings.NewReader(body)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Read-only caller may not submit.
	rec = httptest.NewRecorder()
	req := withScopes(httptest.NewRequest(http.MethodPost, "/api/v1/research", strings.NewReader(body)), auth.ScopeResearchRead)
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), auth.ScopeResearchWrite)
}

func TestSubmitMethodNotAllowed(t *testing.T) {
	mux := newResearchMux(t, &fakeTemporal{}, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research", nil), auth.ScopeResearchWrite))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSubmitStartFailure(t *testing.T) {
	fake := &fakeTemporal{startErr: errors.New("connection refused")}
	mux := newResearchMux(t, fake, nil)
	req := withScopes(httptest.NewRequest(http.MethodPost, "/api/v1/research", strings.NewReader(`{"query":"q"}`)), auth.ScopeResearchWrite)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCancelResearch(t *testing.T) {
	fake := &fakeTemporal{}
	mux := newResearchMux(t, fake, nil)

	req := withScopes(httptest.NewRequest(http.MethodPost, "/api/v1/research/research-abc/cancel",
		strings.NewReader(`{"reason":"changed my mind"}`)), auth.ScopeResearchWrite)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.signals, 1)
	sig := fake.signals[0]
	assert.Equal(t, "research-abc", sig.workflowID)
	assert.Equal(t, control.SignalCancel, sig.name)

	payload, ok := sig.payload.(control.CancelRequest)
	require.True(t, ok)
	assert.Equal(t, "changed my mind", payload.Reason)
	assert.Equal(t, "tester", payload.RequestedBy)
	assert.False(t, payload.Hard)
}

func TestCancelEmptyBody(t *testing.T) {
	fake := &fakeTemporal{}
	mux := newResearchMux(t, fake, nil)
	req := withScopes(httptest.NewRequest(http.MethodPost, "/api/v1/research/research-abc/cancel", nil), auth.ScopeResearchWrite)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.signals, 1)
}

func TestHardCancelRequiresAdminScope(t *testing.T) {
	fake := &fakeTemporal{}
	mux := newResearchMux(t, fake, nil)

	body := `{"reason":"runaway run","hard":true}`
	req := withScopes(httptest.NewRequest(http.MethodPost, "/api/v1/research/research-abc/cancel",
		strings.NewReader(body)), auth.ScopeResearchRead, auth.ScopeResearchWrite)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, fake.signals)

	req = withScopes(httptest.NewRequest(http.MethodPost, "/api/v1/research/research-abc/cancel",
		strings.NewReader(body)), auth.ScopeResearchWrite, auth.ScopeResearchAdmin)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, fake.signals, 1)
	payload := fake.signals[0].payload.(control.CancelRequest)
	assert.True(t, payload.Hard)
}

func TestCancelUnknownWorkflow(t *testing.T) {
	fake := &fakeTemporal{signalErr: serviceerror.NewNotFound("workflow not found")}
	mux := newResearchMux(t, fake, nil)
	req := withScopes(httptest.NewRequest(http.MethodPost, "/api/v1/research/research-nope/cancel", nil), auth.ScopeResearchWrite)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusRunning(t *testing.T) {
	start := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	fake := &fakeTemporal{
		describeResp: describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, start, time.Time{}),
		queryState: control.ResearchState{
			Stage:       control.StageFetching,
			Tier:        "deep",
			Round:       2,
			SourceCount: 31,
		},
	}
	mux := newResearchMux(t, fake, nil)

	req := withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-abc", nil), auth.ScopeResearchRead)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out researchStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "research-abc", out.WorkflowID)
	assert.Equal(t, "running", out.Status)
	require.NotNil(t, out.StartedAt)
	assert.True(t, out.StartedAt.Equal(start))
	require.NotNil(t, out.Progress)
	assert.Equal(t, control.StageFetching, out.Progress.Stage)
	assert.Equal(t, 2, out.Progress.Round)
	assert.Nil(t, out.Result)
}

func TestStatusCompleted(t *testing.T) {
	start := time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC)
	closed := start.Add(90 * time.Second)
	fake := &fakeTemporal{
		describeResp: describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED, start, closed),
		result: workflows.ResearchResult{
			WorkflowID:  "research-abc",
			Tier:        "deep",
			FinalText:   "Here is what the evidence shows.",
			SourceCount: 8,
			Rounds:      3,
			Success:     true,
		},
	}
	mux := newResearchMux(t, fake, nil)

	req := withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-abc", nil), auth.ScopeResearchRead)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out researchStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "completed", out.Status)
	require.NotNil(t, out.ClosedAt)
	require.NotNil(t, out.Result)
	assert.Equal(t, "Here is what the evidence shows.", out.Result.FinalText)
	assert.Equal(t, 8, out.Result.SourceCount)
	assert.Nil(t, out.Progress)
}

func TestStatusNotFound(t *testing.T) {
	fake := &fakeTemporal{describeErr: serviceerror.NewNotFound("workflow not found")}
	mux := newResearchMux(t, fake, nil)
	req := withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-nope", nil), auth.ScopeResearchRead)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusQueryFailureIsNotFatal(t *testing.T) {
	fake := &fakeTemporal{
		describeResp: describeResponse(enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, time.Now(), time.Time{}),
		queryErr:     errors.New("query timeout"),
	}
	mux := newResearchMux(t, fake, nil)
	req := withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-abc", nil), auth.ScopeResearchRead)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var out researchStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "running", out.Status)
	assert.Nil(t, out.Progress)
}

func TestReportEndpoint(t *testing.T) {
	errMsg := "synthesis failed"
	reports := &fakeReports{reports: map[string]*db.ResearchReport{
		"research-done": {
			WorkflowID:      "research-done",
			Query:           "coffee and longevity",
			Tier:            "hybrid",
			Status:          "completed",
			FinalText:       "Moderate consumption is associated with...",
			Rounds:          1,
			SourcesFetched:  25,
			SourcesSelected: 8,
			TokensUsed:      5200,
		},
		"research-bad": {
			WorkflowID:   "research-bad",
			Query:        "q",
			Tier:         "fast",
			Status:       "failed",
			ErrorMessage: &errMsg,
		},
	}}
	mux := newResearchMux(t, &fakeTemporal{}, reports)

	req := withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-done/report", nil), auth.ScopeResearchRead)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var view map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "research-done", view["workflow_id"])
	assert.Equal(t, float64(8), view["sources_selected"])
	assert.NotContains(t, view, "error_message")
	assert.NotContains(t, view, "session_id")

	req = withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-bad/report", nil), auth.ScopeResearchRead)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "synthesis failed", view["error_message"])

	req = withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-unknown/report", nil), auth.ScopeResearchRead)
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportPersistenceDisabled(t *testing.T) {
	mux := newResearchMux(t, &fakeTemporal{}, nil)
	req := withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-abc/report", nil), auth.ScopeResearchRead)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReportLookupError(t *testing.T) {
	mux := newResearchMux(t, &fakeTemporal{}, &fakeReports{err: errors.New("connection refused")})
	req := withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-abc/report", nil), auth.ScopeResearchRead)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestUnknownSubresource(t *testing.T) {
	mux := newResearchMux(t, &fakeTemporal{}, nil)
	req := withScopes(httptest.NewRequest(http.MethodGet, "/api/v1/research/research-abc/history", nil), auth.ScopeResearchRead)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// Silence unused-import lint when history fixtures live in timeline tests.
var _ = commonpb.ActivityType{}
