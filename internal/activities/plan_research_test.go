package activities

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/humboldt-lab/humboldt/internal/llm"
)

func TestPlanResearchParsesPlan(t *testing.T) {
	requirePortBinding(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req llm.Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.ReasoningBudget != 2048 {
			t.Errorf("reasoning_budget = %d, want 2048", req.ReasoningBudget)
		}
		_ = json.NewEncoder(w).Encode(llm.Response{
			Text:       `{"refined_query": "CRISPR delivery AAV lipid nanoparticle comparison", "focus_areas": ["efficiency", "safety"], "rationale": "split by vector"}`,
			TokensUsed: 120,
		})
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	var out PlanResearchResult
	in := PlanResearchInput{
		Query:           "compare CRISPR delivery mechanisms",
		ModelTier:       "large",
		ReasoningBudget: 2048,
		MaxRounds:       3,
	}
	if err := execActivity(t, a, a.PlanResearch, in, &out); err != nil {
		t.Fatalf("PlanResearch: %v", err)
	}

	if out.Fallback {
		t.Error("parsed plan must not be a fallback")
	}
	if out.Plan.RefinedQuery != "CRISPR delivery AAV lipid nanoparticle comparison" {
		t.Errorf("refined_query = %q", out.Plan.RefinedQuery)
	}
	if len(out.Plan.FocusAreas) != 2 {
		t.Errorf("focus_areas = %v", out.Plan.FocusAreas)
	}
}

func TestPlanResearchFallsBackOnFailure(t *testing.T) {
	requirePortBinding(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	var out PlanResearchResult
	if err := execActivity(t, a, a.PlanResearch, PlanResearchInput{Query: "the original question", ModelTier: "large"}, &out); err != nil {
		t.Fatalf("PlanResearch must not fail the loop, got: %v", err)
	}

	if !out.Fallback {
		t.Error("failed planning must be marked fallback")
	}
	if out.Plan.RefinedQuery != "the original question" {
		t.Errorf("fallback plan must keep the original query, got %q", out.Plan.RefinedQuery)
	}
	if len(out.Plan.FocusAreas) == 0 {
		t.Error("fallback plan must carry generic focus areas")
	}
}

func TestPlanResearchFallsBackOnEmptyRefinedQuery(t *testing.T) {
	requirePortBinding(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(llm.Response{Text: `{"refined_query": "  "}`})
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	var out PlanResearchResult
	if err := execActivity(t, a, a.PlanResearch, PlanResearchInput{Query: "q", ModelTier: "medium"}, &out); err != nil {
		t.Fatalf("PlanResearch: %v", err)
	}
	if !out.Fallback || out.Plan.RefinedQuery != "q" {
		t.Errorf("blank refined query must fall back, got %+v", out)
	}
}
