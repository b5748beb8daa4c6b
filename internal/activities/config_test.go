package activities

import (
	"testing"

	"github.com/humboldt-lab/humboldt/internal/research"
)

func TestGetResearchPolicyPrunesUnregisteredProviders(t *testing.T) {
	a := fetchActivities(t, &stubAdapter{kind: research.ProviderWeb})

	var out ResearchPolicySnapshot
	in := GetResearchPolicyInput{Tier: research.TierDeep}
	if err := execActivity(t, a, a.GetResearchPolicy, in, &out); err != nil {
		t.Fatalf("GetResearchPolicy: %v", err)
	}

	if out.Tier != research.TierDeep {
		t.Errorf("tier = %s", out.Tier)
	}
	if out.Policy.ModelTier != "large" || out.Policy.MaxRounds != 3 {
		t.Errorf("deep policy = %s/%d rounds", out.Policy.ModelTier, out.Policy.MaxRounds)
	}
	if len(out.Policy.Allocation.Weights) != 0 {
		t.Errorf("specialist weights must be pruned to registered providers, got %v",
			out.Policy.Allocation.Weights)
	}
	if out.Policy.Allocation.GeneralProvider != research.ProviderWeb {
		t.Errorf("general provider = %s", out.Policy.Allocation.GeneralProvider)
	}
}

func TestGetResearchPolicyKeepsRegisteredWeights(t *testing.T) {
	a := fetchActivities(t,
		&stubAdapter{kind: research.ProviderWeb},
		&stubAdapter{kind: research.ProviderLiterature},
		&stubAdapter{kind: research.ProviderPreprint},
		&stubAdapter{kind: research.ProviderTrials},
	)

	var out ResearchPolicySnapshot
	if err := execActivity(t, a, a.GetResearchPolicy, GetResearchPolicyInput{Tier: research.TierDeep}, &out); err != nil {
		t.Fatalf("GetResearchPolicy: %v", err)
	}

	want := map[research.ProviderKind]int{
		research.ProviderLiterature: 8,
		research.ProviderPreprint:   3,
		research.ProviderTrials:     4,
	}
	for kind, weight := range want {
		if out.Policy.Allocation.Weights[kind] != weight {
			t.Errorf("weight[%s] = %d, want %d", kind, out.Policy.Allocation.Weights[kind], weight)
		}
	}
}

func TestGetResearchPolicyUnknownTier(t *testing.T) {
	a := fetchActivities(t, &stubAdapter{kind: research.ProviderWeb})

	var out ResearchPolicySnapshot
	if err := execActivity(t, a, a.GetResearchPolicy, GetResearchPolicyInput{Tier: research.Tier("turbo")}, &out); err == nil {
		t.Fatal("unknown tier must error")
	}
}
