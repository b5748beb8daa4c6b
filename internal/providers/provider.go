package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/humboldt-lab/humboldt/internal/circuitbreaker"
	ometrics "github.com/humboldt-lab/humboldt/internal/metrics"
	"github.com/humboldt-lab/humboldt/internal/research"
)

// Adapter fetches sources from one provider. Implementations are stateless
// and safe for concurrent use; they normalize native results into
// SourceRecords with canonical ids and never assign relevance scores, which
// belong to the ranker.
type Adapter interface {
	Kind() research.ProviderKind
	Fetch(ctx context.Context, query string, limit int) ([]research.SourceRecord, error)
}

// ErrUnknownProvider is returned when no adapter is registered for a kind.
var ErrUnknownProvider = errors.New("unknown provider kind")

// RegisterOptions tune the per-provider guard rails.
type RegisterOptions struct {
	RatePerSecond float64 // token refill rate, 0 means 1 rps
	Burst         int     // bucket size, 0 means 2
}

type entry struct {
	adapter Adapter
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker
}

// Registry binds adapters to provider kinds and wraps every fetch with a
// rate limiter and a circuit breaker, so a misbehaving upstream degrades to
// fast failures instead of burning its timeout each round.
type Registry struct {
	mu      sync.RWMutex
	entries map[research.ProviderKind]entry
	logger  *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[research.ProviderKind]entry),
		logger:  logger,
	}
}

// Register adds an adapter for its kind, replacing any previous binding.
func (r *Registry) Register(adapter Adapter, opts RegisterOptions) {
	rps := opts.RatePerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 2
	}

	kind := adapter.Kind()
	name := string(kind)
	breaker := circuitbreaker.NewCircuitBreaker(name, circuitbreaker.GetProviderConfig().ToConfig(), r.logger)
	circuitbreaker.GlobalMetricsCollector.RegisterCircuitBreaker(name, "provider", breaker)

	r.mu.Lock()
	r.entries[kind] = entry{
		adapter: adapter,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		breaker: breaker,
	}
	r.mu.Unlock()
}

// Kinds returns the registered provider kinds in sorted order.
func (r *Registry) Kinds() []research.ProviderKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]research.ProviderKind, 0, len(r.entries))
	for kind := range r.entries {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Has reports whether a kind is registered.
func (r *Registry) Has(kind research.ProviderKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[kind]
	return ok
}

// Fetch runs one provider fetch with the registry's guard rails: rate limit,
// circuit breaker, a per-attempt timeout, and a single retry on a shorter
// timeout. Failures are returned for the caller to record; they are expected
// and never escalate beyond this provider.
func (r *Registry) Fetch(ctx context.Context, kind research.ProviderKind, query string, limit int, timeout, retryTimeout time.Duration) ([]research.SourceRecord, error) {
	r.mu.RLock()
	ent, ok := r.entries[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}

	if err := ent.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	records, err := r.attempt(ctx, ent, query, limit, timeout)
	if err == nil {
		return records, nil
	}
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) || ctx.Err() != nil || retryTimeout <= 0 {
		return nil, err
	}

	r.logger.Debug("Provider fetch failed, retrying once",
		zap.String("provider", string(kind)),
		zap.Duration("retry_timeout", retryTimeout),
		zap.Error(err),
	)
	records, retryErr := r.attempt(ctx, ent, query, limit, retryTimeout)
	if retryErr != nil {
		return nil, fmt.Errorf("fetch failed after retry: %w", retryErr)
	}
	return records, nil
}

func (r *Registry) attempt(ctx context.Context, ent entry, query string, limit int, timeout time.Duration) ([]research.SourceRecord, error) {
	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	var records []research.SourceRecord
	err := ent.breaker.Execute(attemptCtx, func() error {
		var fetchErr error
		records, fetchErr = ent.adapter.Fetch(attemptCtx, query, limit)
		return fetchErr
	})

	kind := string(ent.adapter.Kind())
	if err != nil {
		ometrics.RecordProviderFetch(kind, "error", time.Since(start).Seconds(), 0)
		return nil, err
	}
	ometrics.RecordProviderFetch(kind, "ok", time.Since(start).Seconds(), len(records))
	return records, nil
}

// maxSnippetRunes bounds stored snippets; rank and synthesis prompts only
// ever need the lead of an abstract.
const maxSnippetRunes = 500

// truncateSnippet caps snippets at maxRunes without splitting a character.
func truncateSnippet(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
