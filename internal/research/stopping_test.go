package research

import (
	"testing"
)

func TestEvaluateStopPriorityOrder(t *testing.T) {
	tests := []struct {
		name         string
		in           StopInputs
		wantContinue bool
		wantReason   StopReason
	}{
		{
			name: "max rounds wins over everything",
			in: StopInputs{
				RoundsCompleted: 3, MaxRounds: 3, HasGap: true,
				GrowthHistory: []int{1, 1}, MinGrowth: 3,
				AllProvidersFailed: true, TotalSources: 0,
			},
			wantReason: StopMaxRounds,
		},
		{
			name: "no gap wins over diminishing returns",
			in: StopInputs{
				RoundsCompleted: 1, MaxRounds: 3, HasGap: false,
				GrowthHistory: []int{1, 1}, MinGrowth: 3,
			},
			wantReason: StopNoGap,
		},
		{
			name: "diminishing returns needs two low rounds",
			in: StopInputs{
				RoundsCompleted: 2, MaxRounds: 5, HasGap: true,
				GrowthHistory: []int{2, 1}, MinGrowth: 3,
				TotalSources: 3,
			},
			wantReason: StopDiminishingReturns,
		},
		{
			name: "single low round continues",
			in: StopInputs{
				RoundsCompleted: 2, MaxRounds: 5, HasGap: true,
				GrowthHistory: []int{10, 1}, MinGrowth: 3,
				TotalSources: 11,
			},
			wantContinue: true,
		},
		{
			name: "provider exhaustion requires empty accumulation",
			in: StopInputs{
				RoundsCompleted: 1, MaxRounds: 3, HasGap: true,
				GrowthHistory: []int{0}, MinGrowth: 3,
				AllProvidersFailed: true, TotalSources: 0,
			},
			wantReason: StopProviderExhaustion,
		},
		{
			name: "all failed this round but earlier sources exist",
			in: StopInputs{
				RoundsCompleted: 2, MaxRounds: 5, HasGap: true,
				GrowthHistory: []int{20, 0}, MinGrowth: 3,
				AllProvidersFailed: true, TotalSources: 20,
			},
			wantContinue: true,
		},
		{
			name: "healthy loop continues",
			in: StopInputs{
				RoundsCompleted: 1, MaxRounds: 3, HasGap: true,
				GrowthHistory: []int{20}, MinGrowth: 3,
				TotalSources: 20,
			},
			wantContinue: true,
		},
		{
			name: "disabled growth threshold never diminishes",
			in: StopInputs{
				RoundsCompleted: 2, MaxRounds: 5, HasGap: true,
				GrowthHistory: []int{0, 0}, MinGrowth: 0,
				TotalSources: 1,
			},
			wantContinue: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EvaluateStop(tt.in)
			if got.ShouldContinue != tt.wantContinue {
				t.Fatalf("ShouldContinue: expected %v, got %v (%s)", tt.wantContinue, got.ShouldContinue, got)
			}
			if !tt.wantContinue && got.Reason != tt.wantReason {
				t.Fatalf("Reason: expected %s, got %s", tt.wantReason, got.Reason)
			}
			if tt.wantContinue && got.Reason != "" {
				t.Fatalf("continuing decision must carry no reason, got %s", got.Reason)
			}
		})
	}
}

func TestParseTierNeverEscalates(t *testing.T) {
	tests := []struct {
		input    string
		expected Tier
	}{
		{"fast", TierFast},
		{"  Deep \n", TierDeep},
		{"HYBRID", TierHybrid},
		{"", TierHybrid},
		{"comprehensive", TierHybrid},
		{"fast, probably", TierHybrid},
	}

	for _, tt := range tests {
		if got := ParseTier(tt.input); got != tt.expected {
			t.Errorf("ParseTier(%q): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}
