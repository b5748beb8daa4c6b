package research

import (
	"testing"
)

func scored(id string, score float64, title, snippet string) SourceRecord {
	return SourceRecord{ID: id, Title: title, Snippet: snippet, RelevanceScore: &score}
}

func TestSortByScoreDescendingStable(t *testing.T) {
	records := []SourceRecord{
		scored("a", 50, "", ""),
		scored("b", 90, "", ""),
		scored("c", 50, "", ""),
		{ID: "d"}, // unscored sorts as zero
		scored("e", 90, "", ""),
	}

	sorted := SortByScore(records)

	wantOrder := []string{"b", "e", "a", "c", "d"}
	for i, id := range wantOrder {
		if sorted[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s (full: %v)", i, id, sorted[i].ID, ids(sorted))
		}
	}

	// Input slice must be untouched.
	if records[0].ID != "a" {
		t.Error("SortByScore mutated its input")
	}
}

func ids(records []SourceRecord) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestSelectTopKHonorsK(t *testing.T) {
	ranked := []SourceRecord{
		scored("a", 90, "t", "s"),
		scored("b", 80, "t", "s"),
		scored("c", 70, "t", "s"),
	}

	selected := SelectTopK(ranked, 2, 1000)
	if len(selected) != 2 || selected[0].ID != "a" || selected[1].ID != "b" {
		t.Fatalf("expected top 2 by rank, got %v", ids(selected))
	}
}

func TestSelectTopKStopsAtBudget(t *testing.T) {
	ranked := []SourceRecord{
		scored("a", 90, "1234567890", ""), // 10 bytes
		scored("b", 80, "1234567890", ""), // 10 bytes
		scored("c", 70, "12", ""),         // would fit alone, but selection stops at first overflow
	}

	selected := SelectTopK(ranked, 10, 15)
	if len(selected) != 1 || selected[0].ID != "a" {
		t.Fatalf("expected greedy stop after first record, got %v", ids(selected))
	}
}

func TestSelectTopKExactBudgetFits(t *testing.T) {
	ranked := []SourceRecord{
		scored("a", 90, "12345", "67890"), // 10 bytes
		scored("b", 80, "12345", ""),      // 5 bytes, lands exactly on budget
	}

	selected := SelectTopK(ranked, 10, 15)
	if len(selected) != 2 {
		t.Fatalf("records filling the budget exactly must be kept, got %v", ids(selected))
	}
}

func TestSelectTopKDegenerateInputs(t *testing.T) {
	ranked := []SourceRecord{scored("a", 90, "t", "s")}

	if got := SelectTopK(ranked, 0, 100); got != nil {
		t.Errorf("k=0 must select nothing, got %v", ids(got))
	}
	if got := SelectTopK(ranked, 5, 0); got != nil {
		t.Errorf("zero budget must select nothing, got %v", ids(got))
	}
	if got := SelectTopK(nil, 5, 100); got != nil {
		t.Errorf("empty ranking must select nothing, got %v", ids(got))
	}
}
