// Package config provides configuration loading for the pipeline services
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Lock registry backends.
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// EngineConfig points at the execution engine's REST API.
type EngineConfig struct {
	BaseURL string   `yaml:"base_url"`
	APIKey  string   `yaml:"api_key"`
	Timeout Duration `yaml:"timeout"`
}

// LLMConfig configures the language-model client used for generation,
// document repair and the optional semantic validation stage.
type LLMConfig struct {
	APIKey            string `yaml:"api_key"`
	Model             string `yaml:"model"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// ValidationConfig tunes the validation pipeline.
type ValidationConfig struct {
	CacheTTL      Duration `yaml:"cache_ttl"`
	CacheMaxBytes int64    `yaml:"cache_max_bytes"`
}

// HealingConfig tunes the auto-healing engine.
type HealingConfig struct {
	MaxPasses int `yaml:"max_passes"`
}

// LocksConfig selects the lock registry backend. The redis backend is for
// multi-replica deployments; a single replica runs fine on memory.
type LocksConfig struct {
	Backend   string   `yaml:"backend"`
	TTL       Duration `yaml:"ttl"`
	RedisAddr string   `yaml:"redis_addr"`
}

// DeploymentConfig tunes the deployment manager.
type DeploymentConfig struct {
	PingRetries  uint64   `yaml:"ping_retries"`
	SuccessFloor float64  `yaml:"success_floor"`
	LongRunLimit Duration `yaml:"long_run_limit"`
	StaleAfter   Duration `yaml:"stale_after"`
	HistoryCap   int      `yaml:"history_cap"`
}

// ReconcilerConfig schedules the background reconciliation sweep.
type ReconcilerConfig struct {
	Schedule string `yaml:"schedule"`
}

// PipelineConfig is the structure of the pipeline.yaml file.
type PipelineConfig struct {
	Engine     EngineConfig     `yaml:"engine"`
	LLM        LLMConfig        `yaml:"llm"`
	Validation ValidationConfig `yaml:"validation"`
	Healing    HealingConfig    `yaml:"healing"`
	Locks      LocksConfig      `yaml:"locks"`
	Deployment DeploymentConfig `yaml:"deployment"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
}

// Default returns the configuration used when no file is given.
func Default() PipelineConfig {
	return PipelineConfig{
		Engine: EngineConfig{
			Timeout: Duration(30 * time.Second),
		},
		LLM: LLMConfig{
			RequestsPerMinute: 20,
		},
		Validation: ValidationConfig{
			CacheTTL:      Duration(5 * time.Minute),
			CacheMaxBytes: 16 << 20,
		},
		Healing: HealingConfig{
			MaxPasses: 3,
		},
		Locks: LocksConfig{
			Backend: LockBackendMemory,
			TTL:     Duration(5 * time.Minute),
		},
		Deployment: DeploymentConfig{
			PingRetries:  3,
			SuccessFloor: 0.8,
			LongRunLimit: Duration(15 * time.Minute),
			StaleAfter:   Duration(30 * time.Minute),
			HistoryCap:   20,
		},
		Reconciler: ReconcilerConfig{
			Schedule: "@every 5m",
		},
	}
}

// Load loads pipeline configuration from a YAML file. Fields absent from the
// file keep their defaults.
func Load(filepath string) (PipelineConfig, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return PipelineConfig{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return config, nil
}

// LoadOrDefault attempts to load configuration from file, falling back to the
// defaults if the file doesn't exist.
func LoadOrDefault(filepath string) PipelineConfig {
	config, err := Load(filepath)
	if err != nil {
		return Default()
	}

	return config
}

// Validate checks the configuration for values the services cannot run with.
func Validate(config PipelineConfig) error {
	if config.Engine.BaseURL == "" {
		return fmt.Errorf("engine.base_url is required")
	}

	if config.Engine.Timeout <= 0 {
		return fmt.Errorf("engine.timeout must be positive")
	}

	switch config.Locks.Backend {
	case LockBackendMemory:
	case LockBackendRedis:
		if config.Locks.RedisAddr == "" {
			return fmt.Errorf("locks.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown lock backend '%s'", config.Locks.Backend)
	}

	if config.Locks.TTL <= 0 {
		return fmt.Errorf("locks.ttl must be positive")
	}

	if config.Deployment.SuccessFloor <= 0 || config.Deployment.SuccessFloor > 1 {
		return fmt.Errorf("deployment.success_floor must be in (0, 1]")
	}

	if config.Deployment.HistoryCap < 0 {
		return fmt.Errorf("deployment.history_cap cannot be negative")
	}

	if config.Healing.MaxPasses <= 0 {
		return fmt.Errorf("healing.max_passes must be positive")
	}

	if config.Reconciler.Schedule == "" {
		return fmt.Errorf("reconciler.schedule is required")
	}

	return nil
}
