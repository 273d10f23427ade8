// Package config defines the runtime's YAML configuration and its loader.
package config

import (
	"fmt"
	"time"

	"github.com/ampere-run/ampere/pkg/budget"
	"github.com/ampere-run/ampere/pkg/llms"
	"github.com/ampere-run/ampere/pkg/router"
)

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" koanf:"level"`
	Format string `yaml:"format,omitempty" koanf:"format"` // "text" or "json"
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// BudgetConfig selects the default envelope preset.
type BudgetConfig struct {
	DefaultPreset string `yaml:"default_preset,omitempty" koanf:"default_preset"`
}

func (c *BudgetConfig) SetDefaults() {
	if c.DefaultPreset == "" {
		c.DefaultPreset = string(budget.PresetMedium)
	}
}

func (c *BudgetConfig) Validate() error {
	if _, err := budget.LimitsForPreset(budget.Preset(c.DefaultPreset)); err != nil {
		return err
	}
	return nil
}

// RouterConfig mirrors the router's configuration in YAML form.
type RouterConfig struct {
	SLMProviders           []string `yaml:"slm_providers,omitempty" koanf:"slm_providers"`
	LLMProviders           []string `yaml:"llm_providers,omitempty" koanf:"llm_providers"`
	ComplexityThreshold    float64  `yaml:"complexity_threshold,omitempty" koanf:"complexity_threshold"`
	SLMConfidenceThreshold float64  `yaml:"slm_confidence_threshold,omitempty" koanf:"slm_confidence_threshold"`
	PreferEfficientModels  bool     `yaml:"prefer_efficient_models,omitempty" koanf:"prefer_efficient_models"`
}

// ToRouterConfig converts to the router package's config.
func (c *RouterConfig) ToRouterConfig(energy budget.EnergyConfig) router.Config {
	return router.Config{
		ProviderPriority: map[llms.Tier][]string{
			llms.TierSLM: c.SLMProviders,
			llms.TierLLM: c.LLMProviders,
		},
		ComplexityThreshold:    c.ComplexityThreshold,
		SLMConfidenceThreshold: c.SLMConfidenceThreshold,
		PreferEfficientModels:  c.PreferEfficientModels,
		Energy:                 energy,
	}
}

// ExecutorConfig tunes the task executor.
type ExecutorConfig struct {
	MaxReplanDepth    int     `yaml:"max_replan_depth,omitempty" koanf:"max_replan_depth"`
	RecoverConfidence float64 `yaml:"recover_confidence,omitempty" koanf:"recover_confidence"`
}

// DirectConfig tunes the direct executor.
type DirectConfig struct {
	MaxIterations int           `yaml:"max_iterations,omitempty" koanf:"max_iterations"`
	WallTimeout   time.Duration `yaml:"wall_timeout,omitempty" koanf:"wall_timeout"`
	WindowSize    int           `yaml:"window_size,omitempty" koanf:"window_size"`
}

// ConstitutionConfig declares the policy rule set.
type ConstitutionConfig struct {
	DenyTools        []string `yaml:"deny_tools,omitempty" koanf:"deny_tools"`
	DenyTags         []string `yaml:"deny_tags,omitempty" koanf:"deny_tags"`
	DenyArgFragments []string `yaml:"deny_arg_fragments,omitempty" koanf:"deny_arg_fragments"`
	Critical         bool     `yaml:"critical,omitempty" koanf:"critical"`
}

// ObservabilityConfig configures otel tracing and Prometheus metrics.
type ObservabilityConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled,omitempty" koanf:"tracing_enabled"`
	TracingStdout  bool   `yaml:"tracing_stdout,omitempty" koanf:"tracing_stdout"`
	MetricsEnabled bool   `yaml:"metrics_enabled,omitempty" koanf:"metrics_enabled"`
	ServiceName    string `yaml:"service_name,omitempty" koanf:"service_name"`
}

func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "ampere"
	}
}

// Config is the root runtime configuration.
type Config struct {
	Logging       LoggingConfig       `yaml:"logging,omitempty" koanf:"logging"`
	Budget        BudgetConfig        `yaml:"budget,omitempty" koanf:"budget"`
	Energy        budget.EnergyConfig `yaml:"energy,omitempty" koanf:"energy"`
	Router        RouterConfig        `yaml:"router,omitempty" koanf:"router"`
	Executor      ExecutorConfig      `yaml:"executor,omitempty" koanf:"executor"`
	Direct        DirectConfig        `yaml:"direct,omitempty" koanf:"direct"`
	Constitution  ConstitutionConfig  `yaml:"constitution,omitempty" koanf:"constitution"`
	Observability ObservabilityConfig `yaml:"observability,omitempty" koanf:"observability"`
}

// SetDefaults fills zero-valued fields of the logging, budget, and
// observability sections with their defaults. Router, executor, and direct
// settings are left as given; the packages that consume them apply defaults.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.Budget.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := c.Budget.Validate(); err != nil {
		return fmt.Errorf("budget config: %w", err)
	}
	if len(c.Router.SLMProviders) == 0 && len(c.Router.LLMProviders) == 0 {
		return fmt.Errorf("router config: at least one provider must be configured")
	}
	return nil
}
