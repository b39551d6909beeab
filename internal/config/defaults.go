package config

import "time"

// DefaultConfig returns configuration with sensible defaults for local
// development. Production deployments override environments, provider API
// keys, and the rate limiter's Redis address via config file or env vars.
func DefaultConfig() *Config {
	return &Config{
		Environments: map[string]EnvironmentConfig{
			"dev": {
				DSN:           "${DEV_DATABASE_DSN}",
				StorageBucket: "registry-extracts-dev",
			},
		},
		ControlPlaneDSN: "${CONTROL_PLANE_DATABASE_DSN}",
		OCRProviders: map[string]OCRProviderCfg{
			"mistral": {
				Type:      "mistral-ocr",
				APIKey:    "${MISTRAL_API_KEY}",
				RateLimit: 6.0,
				Enabled:   true,
			},
		},
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				Model:     "anthropic/claude-3.5-sonnet",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 150.0,
				Enabled:   true,
			},
		},
		RateLimiter: RateLimiterConfig{
			RedisAddr: "${REDIS_ADDR}",
			RPMBudget: 500,
			TPMBudget: 2_000_000,
		},
		Heartbeat: HeartbeatConfig{
			Interval: 15 * time.Second,
			TTL:      90 * time.Second,
			Sweep:    30 * time.Second,
		},
		// Pipeline prompt fields are left blank; operators supply them via
		// config file or env var before running the OCR pool, the same way
		// provider API keys are never checked in.
		Pipeline: PipelineConfig{
			LineCountModelA: "mistral",
			LineCountModelB: "openrouter",
			ExtractionModel: "openrouter",
			CoherenceModel:  "openrouter",
			BoostModel:      "",
		},
		OCRPool: OCRPoolConfig{
			AvailableCPU:      4,
			AvailableRAMBytes: 8 << 30,
			PerWorkerCPU:      0.5,
			PerWorkerRAMBytes: 512 << 20,
			HeadroomFraction:  0.2,
			RebalanceInterval: 30 * time.Second,
			PollInterval:      10 * time.Second,
		},
	}
}
