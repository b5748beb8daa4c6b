package research

import (
	"fmt"
	"sort"
)

// Allocation is the validated per-provider source budget for one round.
// Construction fails unless counts are non-negative and sum exactly to the
// requested total; callers never see a partially valid allocation.
type Allocation struct {
	counts map[ProviderKind]int
	total  int
}

// NewAllocation validates counts against the requested round total.
func NewAllocation(counts map[ProviderKind]int, requestedTotal int) (Allocation, error) {
	if requestedTotal <= 0 {
		return Allocation{}, fmt.Errorf("requested total must be positive, got %d", requestedTotal)
	}
	sum := 0
	for kind, n := range counts {
		if n < 0 {
			return Allocation{}, fmt.Errorf("negative count %d for provider %s", n, kind)
		}
		sum += n
	}
	if sum != requestedTotal {
		return Allocation{}, fmt.Errorf("allocation sums to %d, requested total is %d", sum, requestedTotal)
	}
	cp := make(map[ProviderKind]int, len(counts))
	for kind, n := range counts {
		cp[kind] = n
	}
	return Allocation{counts: cp, total: requestedTotal}, nil
}

// Count returns the budget for one provider kind.
func (a Allocation) Count(kind ProviderKind) int { return a.counts[kind] }

// Total returns the round total.
func (a Allocation) Total() int { return a.total }

// Kinds returns the provider kinds with nonzero budget, sorted for
// reproducible fan-out order.
func (a Allocation) Kinds() []ProviderKind {
	kinds := make([]ProviderKind, 0, len(a.counts))
	for kind, n := range a.counts {
		if n > 0 {
			kinds = append(kinds, kind)
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Counts returns a copy of the per-provider budgets.
func (a Allocation) Counts() map[ProviderKind]int {
	cp := make(map[ProviderKind]int, len(a.counts))
	for kind, n := range a.counts {
		cp[kind] = n
	}
	return cp
}

// AllocationPolicy drives DistributeRound. The general provider gets a fixed
// count per round; the remainder splits across specialist providers in
// proportion to their integer weights. Per-round slices index by round number
// with the last entry repeating, so a two-entry config covers any depth.
type AllocationPolicy struct {
	GeneralProvider ProviderKind         `yaml:"general_provider" mapstructure:"general_provider"`
	GeneralCounts   []int                `yaml:"general_counts" mapstructure:"general_counts"`
	RoundTotals     []int                `yaml:"round_totals" mapstructure:"round_totals"`
	Weights         map[ProviderKind]int `yaml:"weights" mapstructure:"weights"`
}

// Validate rejects policies that cannot produce a valid allocation.
func (p AllocationPolicy) Validate() error {
	if p.GeneralProvider == "" {
		return fmt.Errorf("general provider is required")
	}
	if len(p.GeneralCounts) == 0 || len(p.RoundTotals) == 0 {
		return fmt.Errorf("general_counts and round_totals must be non-empty")
	}
	for i, n := range p.RoundTotals {
		if n <= 0 {
			return fmt.Errorf("round_totals[%d] must be positive, got %d", i, n)
		}
	}
	weightSum := 0
	for kind, w := range p.Weights {
		if w < 0 {
			return fmt.Errorf("negative weight %d for provider %s", w, kind)
		}
		if kind == p.GeneralProvider {
			return fmt.Errorf("general provider %s cannot also carry a specialist weight", kind)
		}
		weightSum += w
	}
	for i, g := range p.GeneralCounts {
		if g < 0 {
			return fmt.Errorf("general_counts[%d] must be non-negative, got %d", i, g)
		}
		total := p.RoundTotals[min(i, len(p.RoundTotals)-1)]
		if g > total {
			return fmt.Errorf("general count %d exceeds round total %d", g, total)
		}
		if g < total && weightSum == 0 {
			return fmt.Errorf("round total %d leaves a specialist remainder but no weights are configured", total)
		}
	}
	return nil
}

func perRound(values []int, round int) int {
	idx := round - 1
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}

// DistributeRound computes the allocation for a 1-based round number. The
// specialist remainder uses largest-remainder rounding in integer arithmetic,
// with ties broken by weight then kind name, so the result is deterministic.
func DistributeRound(p AllocationPolicy, round int) (Allocation, error) {
	if round < 1 {
		return Allocation{}, fmt.Errorf("round must be >= 1, got %d", round)
	}
	if err := p.Validate(); err != nil {
		return Allocation{}, fmt.Errorf("invalid allocation policy: %w", err)
	}

	total := perRound(p.RoundTotals, round)
	general := perRound(p.GeneralCounts, round)
	remainder := total - general

	counts := map[ProviderKind]int{p.GeneralProvider: general}
	if remainder == 0 {
		return NewAllocation(counts, total)
	}

	kinds := make([]ProviderKind, 0, len(p.Weights))
	weightSum := 0
	for kind, w := range p.Weights {
		if w > 0 {
			kinds = append(kinds, kind)
			weightSum += w
		}
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	type share struct {
		kind ProviderKind
		frac int // numerator remainder, denominator weightSum
	}
	assigned := 0
	shares := make([]share, 0, len(kinds))
	for _, kind := range kinds {
		num := remainder * p.Weights[kind]
		counts[kind] = num / weightSum
		assigned += num / weightSum
		shares = append(shares, share{kind: kind, frac: num % weightSum})
	}

	// Hand leftover slots to the largest fractional shares.
	sort.SliceStable(shares, func(i, j int) bool {
		if shares[i].frac != shares[j].frac {
			return shares[i].frac > shares[j].frac
		}
		if p.Weights[shares[i].kind] != p.Weights[shares[j].kind] {
			return p.Weights[shares[i].kind] > p.Weights[shares[j].kind]
		}
		return shares[i].kind < shares[j].kind
	})
	for i := 0; i < remainder-assigned; i++ {
		counts[shares[i%len(shares)].kind]++
	}

	return NewAllocation(counts, total)
}
