package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"github.com/humboldt-lab/humboldt/internal/config"
	"github.com/humboldt-lab/humboldt/internal/research"
)

// GetResearchPolicyInput names the tier whose policy the workflow needs.
type GetResearchPolicyInput struct {
	Tier research.Tier `json:"tier"`
}

// ResearchPolicySnapshot is the tier policy pinned for one workflow run.
// Reading config through an activity keeps workflow decisions replay-safe:
// a hot reload changes future runs, never a running history.
type ResearchPolicySnapshot struct {
	Tier   research.Tier     `json:"tier"`
	Policy config.TierPolicy `json:"policy"`
}

// GetResearchPolicy snapshots the live policy for a tier. Specialist
// allocation weights are pruned to registered providers so a provider
// disabled in config stops receiving budget without any coordinator change;
// a round whose remainder this strands falls back in the workflow.
func (a *Activities) GetResearchPolicy(ctx context.Context, in GetResearchPolicyInput) (ResearchPolicySnapshot, error) {
	logger := activity.GetLogger(ctx)

	cfg := a.researchConfig()
	policy, ok := cfg.PolicyFor(in.Tier)
	if !ok {
		return ResearchPolicySnapshot{}, fmt.Errorf("no policy configured for tier %q", in.Tier)
	}

	if a.providers != nil && len(policy.Allocation.Weights) > 0 {
		pruned := make(map[research.ProviderKind]int, len(policy.Allocation.Weights))
		for kind, weight := range policy.Allocation.Weights {
			if a.providers.Has(kind) {
				pruned[kind] = weight
				continue
			}
			logger.Warn("GetResearchPolicy: dropping unregistered provider from allocation",
				"tier", string(in.Tier),
				"provider", string(kind),
			)
		}
		policy.Allocation.Weights = pruned
	}

	logger.Debug("GetResearchPolicy: snapshot taken",
		"tier", string(in.Tier),
		"model_tier", policy.ModelTier,
		"max_rounds", policy.MaxRounds,
	)
	return ResearchPolicySnapshot{Tier: in.Tier, Policy: policy}, nil
}
