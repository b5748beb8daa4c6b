package constants

// Activity names used for workflow registration and execution.
// Using constants eliminates magic strings and ensures consistency.
const (
	// Routing Activities
	ClassifyTierActivity      = "ClassifyTier"
	GetResearchPolicyActivity = "GetResearchPolicy"

	// Research Loop Activities
	PlanResearchActivity = "PlanResearch"
	FetchSourcesActivity = "FetchSources"
	RankSourcesActivity  = "RankSources"
	ReflectGapsActivity  = "ReflectGaps"
	RefineQueryActivity  = "RefineQuery"

	// Synthesis Activities
	SynthesizeAnswerActivity = "SynthesizeAnswer"

	// Streaming Activities
	EmitResearchEventActivity = "EmitResearchEvent"

	// Persistence Activities
	RecordResearchActivity = "RecordResearch"
)
