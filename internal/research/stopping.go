package research

// StopInputs is everything the stopping evaluator looks at. It is assembled
// by the loop controller after reflection; the evaluator itself performs no
// I/O and no model calls.
type StopInputs struct {
	RoundsCompleted    int
	MaxRounds          int
	HasGap             bool
	GrowthHistory      []int // unique sources added per completed round
	MinGrowth          int   // below this counts as a diminishing round
	AllProvidersFailed bool  // every provider errored in the latest round
	TotalSources       int   // accumulated unique sources so far
}

// EvaluateStop decides whether the loop runs another round. Conditions are
// checked in fixed priority order and the first match names the reason, so
// overlapping conditions always report the same way.
func EvaluateStop(in StopInputs) StopDecision {
	if in.RoundsCompleted >= in.MaxRounds {
		return StopDecision{Reason: StopMaxRounds}
	}
	if !in.HasGap {
		return StopDecision{Reason: StopNoGap}
	}
	if diminishing(in.GrowthHistory, in.MinGrowth) {
		return StopDecision{Reason: StopDiminishingReturns}
	}
	if in.AllProvidersFailed && in.TotalSources == 0 {
		return StopDecision{Reason: StopProviderExhaustion}
	}
	return StopDecision{ShouldContinue: true}
}

// diminishing is true when the two most recent rounds both grew the source
// set by less than the threshold.
func diminishing(growth []int, minGrowth int) bool {
	if minGrowth <= 0 || len(growth) < 2 {
		return false
	}
	last := growth[len(growth)-1]
	prev := growth[len(growth)-2]
	return last < minGrowth && prev < minGrowth
}
