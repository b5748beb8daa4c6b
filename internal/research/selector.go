package research

import "sort"

// SortByScore orders records by relevance descending. The sort is stable so
// ties keep their discovery order and repeated runs agree.
func SortByScore(records []SourceRecord) []SourceRecord {
	out := make([]SourceRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		return scoreOf(out[i]) > scoreOf(out[j])
	})
	return out
}

func scoreOf(r SourceRecord) float64 {
	if r.RelevanceScore == nil {
		return 0
	}
	return *r.RelevanceScore
}

// SelectTopK greedily takes ranked records until k are chosen or adding the
// next one would push the cumulative title+snippet bytes past budgetBytes.
// It never exceeds the budget and is deterministic for a given ranking.
func SelectTopK(ranked []SourceRecord, k, budgetBytes int) []SourceRecord {
	if k <= 0 || budgetBytes <= 0 {
		return nil
	}
	var (
		selected []SourceRecord
		used     int
	)
	for _, rec := range ranked {
		if len(selected) == k {
			break
		}
		cost := len(rec.Title) + len(rec.Snippet)
		if used+cost > budgetBytes {
			break
		}
		selected = append(selected, rec)
		used += cost
	}
	return selected
}
