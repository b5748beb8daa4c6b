package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/humboldt-lab/humboldt/internal/research"
)

// HumboldtConfig represents the orchestrator's behavioral configuration. It
// loads from humboldt.yaml through the ConfigManager and hot-reloads on file
// change; connection endpoints stay in the environment (see Config).
type HumboldtConfig struct {
	// Authentication configuration
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Research tier policies and fetch budgets
	Research ResearchConfig `yaml:"research" mapstructure:"research"`

	// Streaming configuration
	Streaming StreamingConfig `yaml:"streaming" mapstructure:"streaming"`

	// Health check configuration
	Health HealthConfig `yaml:"health" mapstructure:"health"`
}

// AuthConfig contains authentication configuration
type AuthConfig struct {
	Enabled     bool              `yaml:"enabled" mapstructure:"enabled"`
	SkipAuth    bool              `yaml:"skip_auth" mapstructure:"skip_auth"` // Development mode
	JWTSecret   string            `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	TokenExpiry time.Duration     `yaml:"token_expiry" mapstructure:"token_expiry"`
	APIKeys     map[string]string `yaml:"api_keys" mapstructure:"api_keys"` // key id -> bcrypt hash of "<id>.<secret>"
}

// ResearchConfig contains the per-tier research policies plus the fetch
// budgets shared by every provider call.
type ResearchConfig struct {
	FetchTimeout      time.Duration         `yaml:"fetch_timeout" mapstructure:"fetch_timeout"`
	FetchRetryTimeout time.Duration         `yaml:"fetch_retry_timeout" mapstructure:"fetch_retry_timeout"`
	Tiers             map[string]TierPolicy `yaml:"tiers" mapstructure:"tiers"`
}

// TierPolicy is the complete behavior of one research tier. A tier defined in
// humboldt.yaml replaces the built-in policy for that tier wholesale, so a
// file entry must be complete; tiers the file does not mention keep their
// defaults.
type TierPolicy struct {
	ModelTier          string                    `yaml:"model_tier" mapstructure:"model_tier"`
	MaxRounds          int                       `yaml:"max_rounds" mapstructure:"max_rounds"`
	MinGrowth          int                       `yaml:"min_growth" mapstructure:"min_growth"`
	SelectionCount     int                       `yaml:"selection_count" mapstructure:"selection_count"`
	SelectionBudget    int                       `yaml:"selection_budget_bytes" mapstructure:"selection_budget_bytes"`
	SynthesisMaxTokens int                       `yaml:"synthesis_max_tokens" mapstructure:"synthesis_max_tokens"`
	ReasoningBudget    int                       `yaml:"reasoning_budget" mapstructure:"reasoning_budget"`
	Allocation         research.AllocationPolicy `yaml:"allocation" mapstructure:"allocation"`
}

// PolicyFor returns the policy for a tier.
func (rc ResearchConfig) PolicyFor(tier research.Tier) (TierPolicy, bool) {
	policy, ok := rc.Tiers[string(tier)]
	return policy, ok
}

// StreamingConfig contains streaming configuration (v1)
type StreamingConfig struct {
	RingCapacity int `yaml:"ring_capacity" mapstructure:"ring_capacity"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled       bool                         `yaml:"enabled" mapstructure:"enabled"`
	CheckInterval time.Duration                `yaml:"check_interval" mapstructure:"check_interval"`
	Timeout       time.Duration                `yaml:"timeout" mapstructure:"timeout"`
	Checks        map[string]HealthCheckConfig `yaml:"checks" mapstructure:"checks"`
}

// HealthCheckConfig configures an individual health check
type HealthCheckConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Critical bool          `yaml:"critical" mapstructure:"critical"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
}

// DefaultHumboldtConfig returns the built-in configuration. The tier policies
// here are the reference shapes: deep runs up to three rounds at 25/15/15
// sources, hybrid a single round of 15, fast skips retrieval entirely.
func DefaultHumboldtConfig() *HumboldtConfig {
	specialistWeights := map[research.ProviderKind]int{
		research.ProviderLiterature: 8,
		research.ProviderPreprint:   3,
		research.ProviderTrials:     4,
	}

	return &HumboldtConfig{
		Auth: AuthConfig{
			Enabled:     false,
			SkipAuth:    true,
			JWTSecret:   "change-this-to-a-secure-32-char-minimum-secret",
			TokenExpiry: 30 * time.Minute,
			APIKeys:     map[string]string{},
		},
		Research: ResearchConfig{
			FetchTimeout:      20 * time.Second,
			FetchRetryTimeout: 8 * time.Second,
			Tiers: map[string]TierPolicy{
				"fast": {
					ModelTier:          "small",
					MaxRounds:          0,
					SynthesisMaxTokens: 1024,
				},
				"hybrid": {
					ModelTier:          "medium",
					MaxRounds:          1,
					MinGrowth:          3,
					SelectionCount:     8,
					SelectionBudget:    16384,
					SynthesisMaxTokens: 2048,
					ReasoningBudget:    1024,
					Allocation: research.AllocationPolicy{
						GeneralProvider: research.ProviderWeb,
						GeneralCounts:   []int{5},
						RoundTotals:     []int{15},
						Weights:         specialistWeights,
					},
				},
				"deep": {
					ModelTier:          "large",
					MaxRounds:          3,
					MinGrowth:          3,
					SelectionCount:     15,
					SelectionBudget:    24576,
					SynthesisMaxTokens: 4096,
					ReasoningBudget:    2048,
					Allocation: research.AllocationPolicy{
						GeneralProvider: research.ProviderWeb,
						GeneralCounts:   []int{10, 5},
						RoundTotals:     []int{25, 15},
						Weights:         specialistWeights,
					},
				},
			},
		},
		Streaming: StreamingConfig{
			RingCapacity: 256,
		},
		Health: HealthConfig{
			Enabled:       true,
			CheckInterval: 30 * time.Second,
			Timeout:       5 * time.Second,
			Checks: map[string]HealthCheckConfig{
				"redis": {
					Enabled:  true,
					Critical: false,
					Timeout:  3 * time.Second,
					Interval: 30 * time.Second,
				},
				"postgres": {
					Enabled:  true,
					Critical: false,
					Timeout:  3 * time.Second,
					Interval: 30 * time.Second,
				},
				"temporal": {
					Enabled:  true,
					Critical: true,
					Timeout:  5 * time.Second,
					Interval: 30 * time.Second,
				},
				"llm-service": {
					Enabled:  true,
					Critical: true,
					Timeout:  5 * time.Second,
					Interval: 30 * time.Second,
				},
			},
		},
	}
}

// Validate checks the decoded configuration. It runs after every reload, so a
// bad file edit is rejected and the previous configuration stays live.
func (c *HumboldtConfig) Validate() error {
	if c.Streaming.RingCapacity < 1 {
		return fmt.Errorf("streaming ring capacity must be at least 1, got %d", c.Streaming.RingCapacity)
	}
	if c.Research.FetchTimeout <= 0 {
		return fmt.Errorf("research fetch_timeout must be positive, got %s", c.Research.FetchTimeout)
	}
	if c.Research.FetchRetryTimeout < 0 {
		return fmt.Errorf("research fetch_retry_timeout cannot be negative, got %s", c.Research.FetchRetryTimeout)
	}
	if c.Auth.Enabled && !c.Auth.SkipAuth {
		if len(c.Auth.JWTSecret) < 32 && len(c.Auth.APIKeys) == 0 {
			return fmt.Errorf("auth is enabled but jwt_secret is shorter than 32 chars and no api_keys are configured")
		}
	}

	for _, name := range []string{"fast", "hybrid", "deep"} {
		policy, ok := c.Research.Tiers[name]
		if !ok {
			return fmt.Errorf("research tier %q is missing", name)
		}
		if policy.ModelTier == "" {
			return fmt.Errorf("research tier %q has no model_tier", name)
		}
		if policy.MaxRounds < 0 || policy.MaxRounds > 10 {
			return fmt.Errorf("research tier %q max_rounds must be between 0 and 10, got %d", name, policy.MaxRounds)
		}
		if policy.SelectionCount < 0 {
			return fmt.Errorf("research tier %q selection_count cannot be negative, got %d", name, policy.SelectionCount)
		}
		if policy.SynthesisMaxTokens < 1 {
			return fmt.Errorf("research tier %q synthesis_max_tokens must be positive, got %d", name, policy.SynthesisMaxTokens)
		}
		if policy.MaxRounds > 0 {
			if err := policy.Allocation.Validate(); err != nil {
				return fmt.Errorf("research tier %q allocation: %w", name, err)
			}
			if policy.SelectionCount < 1 {
				return fmt.Errorf("research tier %q runs retrieval rounds but selects no sources", name)
			}
		}
	}

	return nil
}

// ValidateHumboldtConfig is the map-level validator registered with the
// ConfigManager. It catches obviously broken values before the typed decode;
// the full Validate pass runs after.
func ValidateHumboldtConfig(config map[string]interface{}) error {
	if streaming, ok := config["streaming"].(map[string]interface{}); ok {
		if capv, ok := streaming["ring_capacity"].(float64); ok && capv < 1 {
			return fmt.Errorf("streaming ring_capacity must be at least 1, got %v", capv)
		}
	}

	if auth, ok := config["auth"].(map[string]interface{}); ok {
		if secret, ok := auth["jwt_secret"].(string); ok && secret != "" && len(secret) < 32 {
			return fmt.Errorf("jwt_secret must be at least 32 characters, got %d", len(secret))
		}
	}

	if res, ok := config["research"].(map[string]interface{}); ok {
		if tiers, ok := res["tiers"].(map[string]interface{}); ok {
			for name, raw := range tiers {
				tier, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				if rounds, ok := tier["max_rounds"].(float64); ok && (rounds < 0 || rounds > 10) {
					return fmt.Errorf("tier %s max_rounds must be between 0 and 10, got %v", name, rounds)
				}
				if count, ok := tier["selection_count"].(float64); ok && count < 0 {
					return fmt.Errorf("tier %s selection_count cannot be negative, got %v", name, count)
				}
			}
		}
	}

	return nil
}

// ConfigurationCallback is called when significant configuration changes occur
type ConfigurationCallback func(oldConfig, newConfig *HumboldtConfig) error

// HumboldtConfigManager provides typed access to the orchestrator configuration
type HumboldtConfigManager struct {
	configManager *ConfigManager
	currentConfig *HumboldtConfig
	logger        *zap.Logger
	callbacks     []ConfigurationCallback
	mu            sync.RWMutex
}

// NewHumboldtConfigManager creates a typed configuration manager on top of the
// file-based one.
func NewHumboldtConfigManager(configManager *ConfigManager, logger *zap.Logger) *HumboldtConfigManager {
	return &HumboldtConfigManager{
		configManager: configManager,
		currentConfig: DefaultHumboldtConfig(),
		logger:        logger,
		callbacks:     make([]ConfigurationCallback, 0),
	}
}

// GetConfig returns the current configuration
func (hcm *HumboldtConfigManager) GetConfig() *HumboldtConfig {
	hcm.mu.RLock()
	defer hcm.mu.RUnlock()

	// Return a copy to prevent external modification
	config := *hcm.currentConfig
	return &config
}

// Initialize sets up configuration management
func (hcm *HumboldtConfigManager) Initialize() error {
	// Register validator for humboldt.yaml
	hcm.configManager.RegisterValidator("humboldt.yaml", ValidateHumboldtConfig)
	hcm.configManager.RegisterValidator("humboldt.json", ValidateHumboldtConfig)

	// Register handler for configuration changes
	hcm.configManager.RegisterHandler("humboldt.yaml", hcm.handleConfigChange)
	hcm.configManager.RegisterHandler("humboldt.json", hcm.handleConfigChange)

	// Try to load existing configuration
	if config, exists := hcm.configManager.GetConfig("humboldt.yaml"); exists {
		if err := hcm.updateConfigFromMap(config); err != nil {
			hcm.logger.Error("Failed to load humboldt.yaml", zap.Error(err))
		}
	} else if config, exists := hcm.configManager.GetConfig("humboldt.json"); exists {
		if err := hcm.updateConfigFromMap(config); err != nil {
			hcm.logger.Error("Failed to load humboldt.json", zap.Error(err))
		}
	}

	return nil
}

// handleConfigChange processes configuration changes
func (hcm *HumboldtConfigManager) handleConfigChange(event ChangeEvent) error {
	hcm.logger.Info("Humboldt configuration changed",
		zap.String("file", event.File),
		zap.String("action", event.Action),
	)

	if event.Action == "delete" {
		// Revert to default configuration
		hcm.mu.Lock()
		oldConfig := hcm.currentConfig
		hcm.currentConfig = DefaultHumboldtConfig()
		newConfig := hcm.currentConfig
		hcm.mu.Unlock()

		hcm.logger.Info("Reverted to default Humboldt configuration")
		hcm.triggerCallbacks(oldConfig, newConfig)
		return nil
	}

	return hcm.updateConfigFromMap(event.Config)
}

// updateConfigFromMap decodes a parsed config map over the defaults. Absent
// keys keep their default values; a tier entry replaces that tier completely.
func (hcm *HumboldtConfigManager) updateConfigFromMap(configMap map[string]interface{}) error {
	newConfig := DefaultHumboldtConfig()

	v := viper.New()
	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config map: %w", err)
	}
	if err := v.Unmarshal(newConfig); err != nil {
		return fmt.Errorf("failed to decode humboldt config: %w", err)
	}

	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("invalid humboldt config: %w", err)
	}

	hcm.mu.Lock()
	oldConfig := hcm.currentConfig
	hcm.currentConfig = newConfig
	hcm.mu.Unlock()

	hcm.logger.Info("Humboldt configuration updated successfully")

	hcm.notifyConfigChanges(oldConfig, newConfig)
	hcm.triggerCallbacks(oldConfig, newConfig)

	return nil
}

// notifyConfigChanges logs changes operators care about
func (hcm *HumboldtConfigManager) notifyConfigChanges(oldConfig, newConfig *HumboldtConfig) {
	if oldConfig.Streaming.RingCapacity != newConfig.Streaming.RingCapacity {
		hcm.logger.Info("Streaming ring capacity changed",
			zap.Int("old", oldConfig.Streaming.RingCapacity),
			zap.Int("new", newConfig.Streaming.RingCapacity),
		)
	}

	if oldConfig.Auth.Enabled != newConfig.Auth.Enabled || oldConfig.Auth.SkipAuth != newConfig.Auth.SkipAuth {
		hcm.logger.Info("Auth settings changed",
			zap.Bool("enabled", newConfig.Auth.Enabled),
			zap.Bool("skip_auth", newConfig.Auth.SkipAuth),
		)
	}

	for _, name := range []string{"fast", "hybrid", "deep"} {
		oldTier := oldConfig.Research.Tiers[name]
		newTier := newConfig.Research.Tiers[name]
		if oldTier.MaxRounds != newTier.MaxRounds || oldTier.ModelTier != newTier.ModelTier {
			hcm.logger.Info("Research tier policy changed",
				zap.String("tier", name),
				zap.String("model_tier", newTier.ModelTier),
				zap.Int("max_rounds", newTier.MaxRounds),
			)
		}
	}
}

// RegisterCallback registers a callback to be called when configuration changes
func (hcm *HumboldtConfigManager) RegisterCallback(callback ConfigurationCallback) {
	hcm.mu.Lock()
	defer hcm.mu.Unlock()

	hcm.callbacks = append(hcm.callbacks, callback)
	hcm.logger.Info("Configuration callback registered")
}

// triggerCallbacks calls all registered callbacks with configuration changes
func (hcm *HumboldtConfigManager) triggerCallbacks(oldConfig, newConfig *HumboldtConfig) {
	hcm.mu.RLock()
	callbacks := make([]ConfigurationCallback, len(hcm.callbacks))
	copy(callbacks, hcm.callbacks)
	hcm.mu.RUnlock()

	for i, callback := range callbacks {
		if err := callback(oldConfig, newConfig); err != nil {
			hcm.logger.Error("Configuration callback failed",
				zap.Int("callback_index", i),
				zap.Error(err),
			)
		}
	}
}
