package streaming

import (
	"testing"

	"github.com/humboldt-lab/humboldt/internal/research"
)

func newTestManager(capacity int) *Manager {
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

func TestPublishAssignsTotalOrder(t *testing.T) {
	m := newTestManager(16)
	wf := "wf-order"

	for i := 0; i < 5; i++ {
		published := m.Publish(wf, NewToken(wf, "t"))
		if published.Seq != uint64(i+1) {
			t.Fatalf("expected seq %d, got %d", i+1, published.Seq)
		}
	}

	evs := m.ReplaySince(wf, 0)
	if len(evs) != 5 {
		t.Fatalf("expected 5 events, got %d", len(evs))
	}
	for i, e := range evs {
		if e.Seq != uint64(i+1) {
			t.Fatalf("replay out of order at %d: seq %d", i, e.Seq)
		}
	}
}

func TestSubscribeReceivesPublished(t *testing.T) {
	m := newTestManager(16)
	wf := "wf-sub"

	ch := m.Subscribe(wf, 4)
	defer m.Unsubscribe(wf, ch)

	m.Publish(wf, NewSynthesisStarted(wf))
	m.Publish(wf, NewToken(wf, "hello"))

	first := <-ch
	if first.Kind != KindSynthesisStarted {
		t.Fatalf("expected synthesis_started, got %s", first.Kind)
	}
	second := <-ch
	if second.Kind != KindToken || second.Token == nil || second.Token.Text != "hello" {
		t.Fatalf("unexpected token event: %+v", second)
	}
	if second.Seq <= first.Seq {
		t.Fatalf("sequence not monotonic: %d then %d", first.Seq, second.Seq)
	}
}

func TestSlowSubscriberDropsWithoutBlocking(t *testing.T) {
	m := newTestManager(16)
	wf := "wf-slow"

	ch := m.Subscribe(wf, 1)
	defer m.Unsubscribe(wf, ch)

	// Second publish overflows the subscriber buffer; Publish must not block
	// and history must still hold both events.
	m.Publish(wf, NewToken(wf, "a"))
	m.Publish(wf, NewToken(wf, "b"))

	if got := len(m.ReplaySince(wf, 0)); got != 2 {
		t.Fatalf("expected 2 events in history, got %d", got)
	}
	if got := <-ch; got.Token.Text != "a" {
		t.Fatalf("expected buffered first event, got %+v", got)
	}
}

func TestReplaySinceSkipsDelivered(t *testing.T) {
	m := newTestManager(16)
	wf := "wf-replay"

	for i := 0; i < 6; i++ {
		m.Publish(wf, NewToken(wf, "t"))
	}

	evs := m.ReplaySince(wf, 4)
	if len(evs) != 2 {
		t.Fatalf("expected 2 events after seq 4, got %d", len(evs))
	}
	if evs[0].Seq != 5 || evs[1].Seq != 6 {
		t.Fatalf("unexpected replay seqs: %d, %d", evs[0].Seq, evs[1].Seq)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	m := newTestManager(3)
	wf := "wf-ring"

	for i := 0; i < 5; i++ {
		m.Publish(wf, NewToken(wf, "t"))
	}

	evs := m.ReplaySince(wf, 0)
	if len(evs) != 3 {
		t.Fatalf("expected ring capacity 3, got %d", len(evs))
	}
	if evs[0].Seq != 3 || evs[2].Seq != 5 {
		t.Fatalf("expected seqs 3..5, got %d..%d", evs[0].Seq, evs[2].Seq)
	}
}

func TestDropStreamForgetsHistory(t *testing.T) {
	m := newTestManager(16)
	wf := "wf-drop"

	m.Publish(wf, NewToken(wf, "t"))
	m.DropStream(wf)

	if evs := m.ReplaySince(wf, 0); len(evs) != 0 {
		t.Fatalf("expected empty history after drop, got %d events", len(evs))
	}
}

func TestEventConstructorsSetOnePayload(t *testing.T) {
	wf := "wf-union"
	score := 92.5
	rec := research.SourceRecord{ID: "doi:10.1000/x", Title: "T", URL: "https://example.com", RelevanceScore: &score}

	tests := []struct {
		name  string
		event Event
		kind  Kind
		check func(Event) bool
	}{
		{"tier_selected", NewTierSelected(wf, research.TierDeep, "multi-faceted"), KindTierSelected,
			func(e Event) bool { return e.TierSelected != nil && e.TierSelected.Tier == research.TierDeep }},
		{"round_started", NewRoundStarted(wf, 2, 15, "refined query"), KindRoundStarted,
			func(e Event) bool { return e.RoundStarted != nil && e.RoundStarted.Round == 2 && e.RoundStarted.EstimatedSourceCount == 15 }},
		{"round_complete", NewRoundComplete(wf, 1, 20, 20, map[research.ProviderKind]string{research.ProviderTrials: "timeout"}), KindRoundComplete,
			func(e Event) bool { return e.RoundComplete != nil && e.RoundComplete.ProviderErrors[research.ProviderTrials] == "timeout" }},
		{"reflection_complete", NewReflectionComplete(wf, 1, true, "missing recent trials"), KindReflectionComplete,
			func(e Event) bool { return e.ReflectionComplete != nil && e.ReflectionComplete.HasGap }},
		{"sources_ready", NewSourcesReady(wf, []research.SourceRecord{rec}), KindSourcesReady,
			func(e Event) bool {
				return e.SourcesReady != nil && len(e.SourcesReady.Sources) == 1 && e.SourcesReady.Sources[0].Score == 92.5
			}},
		{"synthesis_started", NewSynthesisStarted(wf), KindSynthesisStarted,
			func(e Event) bool { return e.Token == nil && e.Complete == nil }},
		{"token", NewToken(wf, "frag"), KindToken,
			func(e Event) bool { return e.Token != nil && e.Token.Text == "frag" }},
		{"complete", NewComplete(wf, Complete{FinalText: "done", SourceCount: 7}), KindComplete,
			func(e Event) bool { return e.Complete != nil && e.Complete.SourceCount == 7 && e.Terminal() }},
		{"error", NewError(wf, "synthesizing", "model unavailable", false), KindError,
			func(e Event) bool { return e.Error != nil && e.Error.Stage == "synthesizing" && e.Terminal() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.event.Kind != tt.kind {
				t.Fatalf("expected kind %s, got %s", tt.kind, tt.event.Kind)
			}
			if tt.event.WorkflowID != wf {
				t.Fatalf("expected workflow id %s, got %s", wf, tt.event.WorkflowID)
			}
			if !tt.check(tt.event) {
				t.Fatalf("payload check failed: %+v", tt.event)
			}
		})
	}
}
