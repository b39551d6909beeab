package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/registryctl/internal/providers"
)

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	defaults := DefaultConfig()
	viper.SetDefault("environments", defaults.Environments)
	viper.SetDefault("ocr_providers", defaults.OCRProviders)
	viper.SetDefault("llm_providers", defaults.LLMProviders)
	viper.SetDefault("rate_limiter", defaults.RateLimiter)
	viper.SetDefault("heartbeat", defaults.Heartbeat)
	viper.SetDefault("pipeline", defaults.Pipeline)
	viper.SetDefault("ocr_pool", defaults.OCRPool)

	viper.SetEnvPrefix("REGISTRYCTL")
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.registryctl")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	viper.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	viper.WatchConfig()
}

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	pattern := regexp.MustCompile(`\$\{([^}]+)\}`)
	return pattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Config holds registryctl configuration.
// Stored at: {home}/config.yaml
type Config struct {
	// Environments maps an environment name (prod, staging, dev) to its
	// database DSN and artifact storage bucket.
	Environments map[string]EnvironmentConfig `mapstructure:"environments" yaml:"environments"`

	// ControlPlaneDSN is the database internal/heartbeat's WorkerStatus
	// store lives in, independent of any one environment's jobqueue.Store
	// (a worker's liveness is a fact about the worker, not about whichever
	// environment it happens to be polling this tick).
	ControlPlaneDSN string `mapstructure:"control_plane_dsn" yaml:"control_plane_dsn"`

	OCRProviders map[string]OCRProviderCfg `mapstructure:"ocr_providers" yaml:"ocr_providers"`
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers"`

	RateLimiter RateLimiterConfig `mapstructure:"rate_limiter" yaml:"rate_limiter"`
	Heartbeat   HeartbeatConfig   `mapstructure:"heartbeat" yaml:"heartbeat"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline" yaml:"pipeline"`
	OCRPool     OCRPoolConfig     `mapstructure:"ocr_pool" yaml:"ocr_pool"`
}

// OCRPoolConfig sizes the OCR worker pool's capacity guard and rebalance
// cadence (internal/ocrpool).
type OCRPoolConfig struct {
	AvailableCPU      float64       `mapstructure:"available_cpu" yaml:"available_cpu"`
	AvailableRAMBytes float64       `mapstructure:"available_ram_bytes" yaml:"available_ram_bytes"`
	PerWorkerCPU      float64       `mapstructure:"per_worker_cpu" yaml:"per_worker_cpu"`
	PerWorkerRAMBytes float64       `mapstructure:"per_worker_ram_bytes" yaml:"per_worker_ram_bytes"`
	HeadroomFraction  float64       `mapstructure:"headroom_fraction" yaml:"headroom_fraction"`
	RebalanceInterval time.Duration `mapstructure:"rebalance_interval" yaml:"rebalance_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// PipelineConfig tunes the OCR pipeline and names the models it calls
// through internal/visionclient. Prompt fields carry no prompt content of
// their own in this repository: operators supply them at deploy time, the
// same way API keys are supplied via ${ENV_VAR} rather than checked in.
type PipelineConfig struct {
	MaxLinesPerPage  int     `mapstructure:"max_lines_per_page" yaml:"max_lines_per_page"`
	WindowSize       int     `mapstructure:"window_size" yaml:"window_size"`
	MaxRetries       int     `mapstructure:"max_retries" yaml:"max_retries"`
	UpscaleFactorCap float64 `mapstructure:"upscale_factor_cap" yaml:"upscale_factor_cap"`
	EnableCoherence  bool    `mapstructure:"enable_coherence" yaml:"enable_coherence"`

	LineCountModelA string `mapstructure:"line_count_model_a" yaml:"line_count_model_a"`
	LineCountModelB string `mapstructure:"line_count_model_b" yaml:"line_count_model_b"`
	ExtractionModel string `mapstructure:"extraction_model" yaml:"extraction_model"`
	CoherenceModel  string `mapstructure:"coherence_model" yaml:"coherence_model"`
	BoostModel      string `mapstructure:"boost_model" yaml:"boost_model"`

	CountLinesPrompt     string `mapstructure:"count_lines_prompt" yaml:"count_lines_prompt"`
	ExtractWindowPrompt  string `mapstructure:"extract_window_prompt" yaml:"extract_window_prompt"`
	CoherencePrompt      string `mapstructure:"coherence_prompt" yaml:"coherence_prompt"`
	BoostPrompt          string `mapstructure:"boost_prompt" yaml:"boost_prompt"`
	ExtractionSchemaPath string `mapstructure:"extraction_schema_path" yaml:"extraction_schema_path"`
}

// EnvironmentConfig describes one independent deployment environment.
type EnvironmentConfig struct {
	DSN           string             `mapstructure:"dsn" yaml:"dsn"`
	StorageBucket string             `mapstructure:"storage_bucket" yaml:"storage_bucket"`
	CDNDomain     string             `mapstructure:"cdn_domain" yaml:"cdn_domain"`
	Credentials   []CredentialConfig `mapstructure:"credentials" yaml:"credentials"`
	PollInterval  time.Duration      `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// CredentialConfig is one registry login identity available to the account
// pool for this environment. SecurityAnswer answers the personal-rights
// site's knowledge-based challenge question.
type CredentialConfig struct {
	ID             string `mapstructure:"id" yaml:"id"`
	Username       string `mapstructure:"username" yaml:"username"`
	Password       string `mapstructure:"password" yaml:"password"`
	SecurityAnswer string `mapstructure:"security_answer" yaml:"security_answer"`
}

// OCRProviderCfg mirrors providers.OCRProviderConfig with an unresolved API key.
type OCRProviderCfg struct {
	Type          string  `mapstructure:"type" yaml:"type"`
	Model         string  `mapstructure:"model" yaml:"model"`
	APIKey        string  `mapstructure:"api_key" yaml:"api_key"`
	RateLimit     float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Enabled       bool    `mapstructure:"enabled" yaml:"enabled"`
	IncludeImages bool    `mapstructure:"include_images" yaml:"include_images"`
}

// LLMProviderCfg mirrors providers.LLMProviderConfig with an unresolved API key.
type LLMProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`
	Model     string  `mapstructure:"model" yaml:"model"`
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// RateLimiterConfig configures the cross-process shared rate limiter.
type RateLimiterConfig struct {
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RPMBudget int64  `mapstructure:"rpm_budget" yaml:"rpm_budget"`
	TPMBudget int64  `mapstructure:"tpm_budget" yaml:"tpm_budget"`
}

// HeartbeatConfig configures worker liveness and the reaper sweep.
type HeartbeatConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Sweep    time.Duration `mapstructure:"sweep" yaml:"sweep"`
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		OCRProviders: make(map[string]providers.OCRProviderConfig),
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	for name, ocr := range c.OCRProviders {
		cfg.OCRProviders[name] = providers.OCRProviderConfig{
			Type:          ocr.Type,
			Model:         ocr.Model,
			APIKey:        ResolveEnvVars(ocr.APIKey),
			RateLimit:     ocr.RateLimit,
			Enabled:       ocr.Enabled,
			IncludeImages: ocr.IncludeImages,
		}
	}

	for name, llm := range c.LLMProviders {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:      llm.Type,
			Model:     llm.Model,
			APIKey:    ResolveEnvVars(llm.APIKey),
			RateLimit: llm.RateLimit,
			Enabled:   llm.Enabled,
		}
	}

	return cfg
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# registryctl configuration
# API keys and DSNs use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export MISTRAL_API_KEY=xxx OPENROUTER_API_KEY=xxx

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
