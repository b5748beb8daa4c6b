package activities

import (
	"go.uber.org/zap"

	"github.com/humboldt-lab/humboldt/internal/config"
	"github.com/humboldt-lab/humboldt/internal/db"
	"github.com/humboldt-lab/humboldt/internal/llm"
	"github.com/humboldt-lab/humboldt/internal/providers"
)

// Activities struct holds dependencies for activities
type Activities struct {
	llm       *llm.Client
	providers *providers.Registry
	store     *db.Store
	config    *config.HumboldtConfigManager
	logger    *zap.Logger
}

// NewActivities creates a new activities instance with dependencies. The
// store may be nil when persistence is not configured.
func NewActivities(llmClient *llm.Client, registry *providers.Registry, store *db.Store, configManager *config.HumboldtConfigManager, logger *zap.Logger) *Activities {
	return &Activities{
		llm:       llmClient,
		providers: registry,
		store:     store,
		config:    configManager,
		logger:    logger,
	}
}

// researchConfig returns the live behavioral configuration, falling back to
// the built-in defaults when no config manager was wired (tests).
func (a *Activities) researchConfig() config.ResearchConfig {
	if a.config == nil {
		return config.DefaultHumboldtConfig().Research
	}
	return a.config.GetConfig().Research
}

// truncateStr shortens strings for log lines.
func truncateStr(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
