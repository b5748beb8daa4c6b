package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// ProviderSourceConfig describes one retrieval provider: whether it is
// registered at startup, where its API key lives, and how hard we are allowed
// to hit it.
type ProviderSourceConfig struct {
	Description   string  `yaml:"description"`
	Enabled       *bool   `yaml:"enabled"` // nil means enabled
	APIKeyEnv     string  `yaml:"api_key_env"`
	Mailto        string  `yaml:"mailto"` // polite-pool contact for OpenAlex
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// IsEnabled reports whether the provider should be registered.
func (p ProviderSourceConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// APIKey resolves the provider's API key from the configured environment
// variable. Empty when no variable is configured or it is unset.
func (p ProviderSourceConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// ProviderCatalog is the complete provider configuration loaded from
// providers.yaml. Unlike humboldt.yaml this is read once at startup: adding
// or removing a provider means re-registering adapters, which is a restart.
type ProviderCatalog struct {
	Providers map[string]ProviderSourceConfig `yaml:"providers"`
}

var (
	providerCatalog     *ProviderCatalog
	providerCatalogOnce sync.Once
	providerCatalogErr  error
)

// LoadProviderCatalog loads the providers.yaml configuration file
func LoadProviderCatalog() (*ProviderCatalog, error) {
	providerCatalogOnce.Do(func() {
		providerCatalog, providerCatalogErr = loadProviderCatalogFromFile()
	})
	return providerCatalog, providerCatalogErr
}

// loadProviderCatalogFromFile loads the catalog from the config file
func loadProviderCatalogFromFile() (*ProviderCatalog, error) {
	cfgPath := os.Getenv("PROVIDERS_CONFIG_PATH")
	if cfgPath == "" {
		// Try common paths
		candidates := []string{
			"/app/config/providers.yaml",
			"config/providers.yaml",
			"../../config/providers.yaml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				cfgPath = c
				break
			}
		}
	}

	if cfgPath == "" {
		// Return default catalog if file not found
		cfg := defaultProviderCatalog()
		applyProviderDefaults(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers.yaml: %w", err)
	}

	var cfg ProviderCatalog
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse providers.yaml: %w", err)
	}

	applyProviderDefaults(&cfg)

	return &cfg, nil
}

// defaultProviderCatalog returns the built-in provider catalog
func defaultProviderCatalog() *ProviderCatalog {
	return &ProviderCatalog{
		Providers: map[string]ProviderSourceConfig{
			"web": {
				Description:   "Brave web search",
				APIKeyEnv:     "BRAVE_SEARCH_API_KEY",
				RatePerSecond: 1.0,
				Burst:         2,
			},
			"literature": {
				Description:   "OpenAlex published articles",
				RatePerSecond: 5.0,
				Burst:         10,
			},
			"preprint": {
				Description:   "OpenAlex repository-hosted preprints",
				RatePerSecond: 5.0,
				Burst:         10,
			},
			"trials": {
				Description:   "ClinicalTrials.gov study registry",
				RatePerSecond: 3.0,
				Burst:         5,
			},
		},
	}
}

// applyProviderDefaults fills in values the file left out
func applyProviderDefaults(cfg *ProviderCatalog) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderSourceConfig{}
	}
	mailto := os.Getenv("OPENALEX_MAILTO")
	for name, p := range cfg.Providers {
		if p.RatePerSecond == 0 {
			p.RatePerSecond = 1.0
		}
		if p.Burst == 0 {
			p.Burst = 2
		}
		if p.Mailto == "" && (name == "literature" || name == "preprint") {
			p.Mailto = mailto
		}
		cfg.Providers[name] = p
	}
}

// Get returns the configuration for a specific provider
func (c *ProviderCatalog) Get(name string) (ProviderSourceConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// EnabledProviders returns the names of all enabled providers
func (c *ProviderCatalog) EnabledProviders() []string {
	var names []string
	for name, p := range c.Providers {
		if p.IsEnabled() {
			names = append(names, name)
		}
	}
	return names
}

// ReloadProviderCatalog forces a reload of the provider catalog.
// This can be used for testing with a different PROVIDERS_CONFIG_PATH.
func ReloadProviderCatalog() (*ProviderCatalog, error) {
	providerCatalogOnce = sync.Once{}
	return LoadProviderCatalog()
}

// GetProviderCatalogPath returns the resolved config file path for debugging
func GetProviderCatalogPath() string {
	cfgPath := os.Getenv("PROVIDERS_CONFIG_PATH")
	if cfgPath != "" {
		return cfgPath
	}

	candidates := []string{
		"/app/config/providers.yaml",
		"config/providers.yaml",
		"../../config/providers.yaml",
	}
	for _, c := range candidates {
		absPath, _ := filepath.Abs(c)
		if _, err := os.Stat(absPath); err == nil {
			return absPath
		}
	}
	return "(using defaults)"
}
