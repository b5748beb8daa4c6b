package activities

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/humboldt-lab/humboldt/internal/llm"
)

func rankInput(ids ...string) RankSourcesInput {
	in := RankSourcesInput{Query: "q", ModelTier: "large", Round: 1}
	for _, id := range ids {
		in.Sources = append(in.Sources, RankedSource{ID: id, Title: "title " + id})
	}
	return in
}

func TestRankSourcesScoresEveryID(t *testing.T) {
	requirePortBinding(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(llm.Response{
			Text:       `{"scores": [{"id": "a", "score": 91.5}, {"id": "b", "score": 40}]}`,
			TokensUsed: 30,
		})
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	var out RankSourcesResult
	if err := execActivity(t, a, a.RankSources, rankInput("a", "b"), &out); err != nil {
		t.Fatalf("RankSources: %v", err)
	}

	if out.Scores["a"] != 91.5 || out.Scores["b"] != 40 {
		t.Errorf("scores = %v", out.Scores)
	}
	if out.Missing != 0 || out.Degraded {
		t.Errorf("missing=%d degraded=%v, want clean result", out.Missing, out.Degraded)
	}
}

func TestRankSourcesZeroFillsOmittedIDs(t *testing.T) {
	requirePortBinding(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(llm.Response{
			Text: `{"scores": [{"id": "a", "score": 77}]}`,
		})
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	var out RankSourcesResult
	if err := execActivity(t, a, a.RankSources, rankInput("a", "b", "c"), &out); err != nil {
		t.Fatalf("RankSources: %v", err)
	}

	if out.Missing != 2 {
		t.Errorf("missing = %d, want 2", out.Missing)
	}
	if out.Scores["b"] != 0 || out.Scores["c"] != 0 {
		t.Errorf("omitted ids must score zero, got %v", out.Scores)
	}
	if out.Scores["a"] != 77 {
		t.Errorf("score a = %v, want 77", out.Scores["a"])
	}
}

func TestRankSourcesClampsAndDropsUnknownIDs(t *testing.T) {
	requirePortBinding(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(llm.Response{
			Text: `{"scores": [{"id": "a", "score": 250}, {"id": "b", "score": -10}, {"id": "ghost", "score": 50}]}`,
		})
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	var out RankSourcesResult
	if err := execActivity(t, a, a.RankSources, rankInput("a", "b"), &out); err != nil {
		t.Fatalf("RankSources: %v", err)
	}

	if out.Scores["a"] != 100 {
		t.Errorf("score a = %v, want clamped 100", out.Scores["a"])
	}
	if out.Scores["b"] != 0 {
		t.Errorf("score b = %v, want clamped 0", out.Scores["b"])
	}
	if _, ok := out.Scores["ghost"]; ok {
		t.Error("hallucinated id must not appear in scores")
	}
}

func TestRankSourcesDegradesToZeroScoresOnFailure(t *testing.T) {
	requirePortBinding(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	var out RankSourcesResult
	if err := execActivity(t, a, a.RankSources, rankInput("a", "b"), &out); err != nil {
		t.Fatalf("RankSources must never error, got: %v", err)
	}

	if !out.Degraded {
		t.Error("total failure must mark result degraded")
	}
	if out.Scores["a"] != 0 || out.Scores["b"] != 0 {
		t.Errorf("degraded scores must be zero, got %v", out.Scores)
	}
}

func TestRankSourcesEmptyInput(t *testing.T) {
	requirePortBinding(t)

	var called bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	a := newTestActivities(t, srv.URL)
	var out RankSourcesResult
	if err := execActivity(t, a, a.RankSources, RankSourcesInput{Query: "q"}, &out); err != nil {
		t.Fatalf("RankSources: %v", err)
	}

	if called {
		t.Error("empty input must not call the model")
	}
	if len(out.Scores) != 0 {
		t.Errorf("scores = %v, want empty", out.Scores)
	}
}

func TestClampScore(t *testing.T) {
	if clampScore(-5) != 0 || clampScore(150) != 100 || clampScore(55) != 55 {
		t.Error("clampScore bounds wrong")
	}
}
