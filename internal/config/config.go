// Package config handles configuration loading for agentcore. It supports
// XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/avandras/agentcore/internal/pipeline"
)

// Config holds all runtime configuration.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Shutdown  ShutdownConfig  `mapstructure:"shutdown"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	// Presets customizes the built-in permission presets by name.
	Presets map[string]pipeline.PresetOverride `mapstructure:"presets"`
}

// PresetOverrides converts the configured overrides to the resolver's
// keying.
func (c *Config) PresetOverrides() map[pipeline.Preset]pipeline.PresetOverride {
	if len(c.Presets) == 0 {
		return nil
	}
	out := make(map[pipeline.Preset]pipeline.PresetOverride, len(c.Presets))
	for name, override := range c.Presets {
		out[pipeline.Preset(name)] = override
	}
	return out
}

// AnthropicConfig holds model-provider settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// ExecutionConfig holds scheduling and dispatch settings.
type ExecutionConfig struct {
	// MaxParallelTasks caps concurrently running agents.
	MaxParallelTasks int `mapstructure:"max_parallel_tasks"`
	// FailureStrategy is "fail-fast" or "continue".
	FailureStrategy string `mapstructure:"failure_strategy"`
	// TaskTimeout bounds one agent dispatch.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// Preset is the default permission preset for tasks that name none.
	Preset string `mapstructure:"preset"`
	// MaxIterations caps the agent tool-use loop.
	MaxIterations int `mapstructure:"max_iterations"`
}

// BudgetConfig holds spend-governance settings.
type BudgetConfig struct {
	// MaxBudget is the global dollar cap. Zero means unlimited.
	MaxBudget float64 `mapstructure:"max_budget"`
	// WarningThreshold is the fraction of the cap that triggers warnings.
	WarningThreshold float64 `mapstructure:"warning_threshold"`
}

// ShutdownConfig holds the termination-protocol windows.
type ShutdownConfig struct {
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
}

// DedupConfig holds deduplication-cache knobs.
type DedupConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	Capacity int           `mapstructure:"capacity"`
}

// Load loads configuration with this precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY)
// 2. Project config (.agentcore.yaml in current directory or a parent)
// 3. User config (~/.config/agentcore/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.aws_region", "AWS_REGION")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Save writes the configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_bedrock", cfg.Anthropic.UseBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("execution.max_parallel_tasks", cfg.Execution.MaxParallelTasks)
	v.Set("execution.failure_strategy", cfg.Execution.FailureStrategy)
	v.Set("execution.task_timeout", cfg.Execution.TaskTimeout.String())
	v.Set("execution.preset", cfg.Execution.Preset)
	v.Set("execution.max_iterations", cfg.Execution.MaxIterations)
	v.Set("budget.max_budget", cfg.Budget.MaxBudget)
	v.Set("budget.warning_threshold", cfg.Budget.WarningThreshold)
	v.Set("shutdown.grace_period", cfg.Shutdown.GracePeriod.String())
	v.Set("shutdown.flush_timeout", cfg.Shutdown.FlushTimeout.String())
	v.Set("dedup.ttl", cfg.Dedup.TTL.String())
	v.Set("dedup.capacity", cfg.Dedup.Capacity)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("execution.max_parallel_tasks", 4)
	v.SetDefault("execution.failure_strategy", "continue")
	v.SetDefault("execution.task_timeout", "10m")
	v.SetDefault("execution.preset", "standard")
	v.SetDefault("execution.max_iterations", 25)

	v.SetDefault("budget.max_budget", 0.0)
	v.SetDefault("budget.warning_threshold", 0.80)

	v.SetDefault("shutdown.grace_period", "5s")
	v.SetDefault("shutdown.flush_timeout", "2s")

	v.SetDefault("dedup.ttl", "5m")
	v.SetDefault("dedup.capacity", 200)
}

// getUserConfigDir returns the XDG config directory for agentcore.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "agentcore")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "agentcore")
	}
	return filepath.Join(home, ".config", "agentcore")
}

// findProjectConfig searches for .agentcore.yaml in the current directory
// and its parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".agentcore.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with built-in defaults.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		Execution: ExecutionConfig{
			MaxParallelTasks: 4,
			FailureStrategy:  "continue",
			TaskTimeout:      10 * time.Minute,
			Preset:           "standard",
			MaxIterations:    25,
		},
		Budget: BudgetConfig{
			MaxBudget:        0,
			WarningThreshold: 0.80,
		},
		Shutdown: ShutdownConfig{
			GracePeriod:  5 * time.Second,
			FlushTimeout: 2 * time.Second,
		},
		Dedup: DedupConfig{
			TTL:      5 * time.Minute,
			Capacity: 200,
		},
	}
}
