package providers

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/humboldt-lab/humboldt/internal/circuitbreaker"
	"github.com/humboldt-lab/humboldt/internal/research"
)

// fakeAdapter fails a configurable number of times before succeeding.
type fakeAdapter struct {
	kind      research.ProviderKind
	records   []research.SourceRecord
	failTimes int
	calls     int
	lastLimit int
}

func (f *fakeAdapter) Kind() research.ProviderKind { return f.kind }

func (f *fakeAdapter) Fetch(ctx context.Context, query string, limit int) ([]research.SourceRecord, error) {
	f.calls++
	f.lastLimit = limit
	if f.calls <= f.failTimes {
		return nil, errors.New("upstream unavailable")
	}
	return f.records, nil
}

func testRecords(kind research.ProviderKind, n int) []research.SourceRecord {
	records := make([]research.SourceRecord, n)
	for i := range records {
		records[i] = research.SourceRecord{
			ID:           string(kind) + ":" + strings.Repeat("x", i+1),
			ProviderKind: kind,
		}
	}
	return records
}

func newTestRegistry(t *testing.T, adapters ...Adapter) *Registry {
	t.Helper()
	r := NewRegistry(zap.NewNop())
	for _, a := range adapters {
		r.Register(a, RegisterOptions{RatePerSecond: 1000, Burst: 10})
	}
	return r
}

func TestRegistryFetchUnknownKind(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Fetch(context.Background(), research.ProviderWeb, "q", 5, time.Second, 0)
	if !errors.Is(err, ErrUnknownProvider) {
		t.Errorf("expected ErrUnknownProvider, got: %v", err)
	}
}

func TestRegistryFetchSuccess(t *testing.T) {
	fake := &fakeAdapter{kind: research.ProviderWeb, records: testRecords(research.ProviderWeb, 3)}
	r := newTestRegistry(t, fake)

	records, err := r.Fetch(context.Background(), research.ProviderWeb, "q", 7, time.Second, time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("len(records) = %d, want 3", len(records))
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1", fake.calls)
	}
	if fake.lastLimit != 7 {
		t.Errorf("limit = %d, want 7", fake.lastLimit)
	}
}

func TestRegistryRetriesOnce(t *testing.T) {
	fake := &fakeAdapter{kind: research.ProviderTrials, records: testRecords(research.ProviderTrials, 2), failTimes: 1}
	r := newTestRegistry(t, fake)

	records, err := r.Fetch(context.Background(), research.ProviderTrials, "q", 5, time.Second, time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want 2 (one retry)", fake.calls)
	}
}

func TestRegistryRetryFailureSurfaces(t *testing.T) {
	fake := &fakeAdapter{kind: research.ProviderTrials, failTimes: 5}
	r := newTestRegistry(t, fake)

	_, err := r.Fetch(context.Background(), research.ProviderTrials, "q", 5, time.Second, time.Second)
	if err == nil || !strings.Contains(err.Error(), "after retry") {
		t.Errorf("expected retry failure error, got: %v", err)
	}
	if fake.calls != 2 {
		t.Errorf("calls = %d, want exactly 2 attempts", fake.calls)
	}
}

func TestRegistryNoRetryWithoutBudget(t *testing.T) {
	fake := &fakeAdapter{kind: research.ProviderWeb, failTimes: 5}
	r := newTestRegistry(t, fake)

	_, err := r.Fetch(context.Background(), research.ProviderWeb, "q", 5, time.Second, 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if fake.calls != 1 {
		t.Errorf("calls = %d, want 1 when retry timeout is zero", fake.calls)
	}
}

func TestRegistryOpenBreakerShortCircuits(t *testing.T) {
	t.Setenv("CB_PROVIDER_FAILURE_THRESHOLD", "1")

	fake := &fakeAdapter{kind: research.ProviderLiterature, failTimes: 100}
	r := newTestRegistry(t, fake)

	// First fetch fails twice (attempt + retry) and trips the breaker.
	_, err := r.Fetch(context.Background(), research.ProviderLiterature, "q", 5, time.Second, time.Second)
	if err == nil {
		t.Fatal("expected error")
	}
	callsAfterFirst := fake.calls

	// Second fetch is rejected by the open breaker before the adapter runs,
	// and the retry path must not re-enter it either.
	_, err = r.Fetch(context.Background(), research.ProviderLiterature, "q", 5, time.Second, time.Second)
	if !errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		t.Errorf("expected open breaker error, got: %v", err)
	}
	if fake.calls != callsAfterFirst {
		t.Errorf("adapter ran %d extra times behind an open breaker", fake.calls-callsAfterFirst)
	}
}

func TestRegistryKindsSorted(t *testing.T) {
	r := newTestRegistry(t,
		&fakeAdapter{kind: research.ProviderWeb},
		&fakeAdapter{kind: research.ProviderLiterature},
		&fakeAdapter{kind: research.ProviderTrials},
	)

	kinds := r.Kinds()
	want := []research.ProviderKind{research.ProviderLiterature, research.ProviderTrials, research.ProviderWeb}
	if len(kinds) != len(want) {
		t.Fatalf("len(kinds) = %d, want %d", len(kinds), len(want))
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("kinds[%d] = %q, want %q", i, kinds[i], want[i])
		}
	}

	if !r.Has(research.ProviderWeb) {
		t.Error("Has(web) = false")
	}
	if r.Has(research.ProviderPreprint) {
		t.Error("Has(preprint) = true, nothing registered")
	}
}

func TestTruncateSnippet(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		maxRunes int
		want     string
	}{
		{"short unchanged", "hello", 10, "hello"},
		{"exact length", "hello", 5, "hello"},
		{"truncated", "hello world", 5, "hello"},
		{"multibyte safe", "héllo wörld", 7, "héllo w"},
		{"zero max keeps all", "hello", 0, "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncateSnippet(tt.in, tt.maxRunes); got != tt.want {
				t.Errorf("truncateSnippet(%q, %d) = %q, want %q", tt.in, tt.maxRunes, tt.want)
			}
		})
	}
}
