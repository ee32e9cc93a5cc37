// Package config loads the service configuration. Precedence is
// defaults, then the YAML file, then environment variables with the
// AGROSENSE prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/agrosense/agrosense/breaker"
	"github.com/agrosense/agrosense/memory"
	"github.com/agrosense/agrosense/planner"
	"github.com/agrosense/agrosense/router"
	"github.com/agrosense/agrosense/workflow"
)

// Config is the complete service configuration.
type Config struct {
	Server      ServerConfig               `yaml:"server"`
	LLM         LLMConfig                  `yaml:"llm"`
	Redis       memory.RedisConfig         `yaml:"redis"`
	Memory      memory.Config              `yaml:"memory"`
	Archive     ArchiveConfig              `yaml:"archive"`
	Router      router.Config              `yaml:"router"`
	Planner     planner.Config             `yaml:"planner"`
	Breaker     breaker.Config             `yaml:"breaker"`
	Executor    workflow.ExecutorConfig    `yaml:"executor"`
	Coordinator workflow.CoordinatorConfig `yaml:"coordinator"`
	Synthesizer workflow.SynthesizerConfig `yaml:"synthesizer"`
	Engine      workflow.EngineConfig      `yaml:"engine"`
	Tools       ToolsConfig                `yaml:"tools"`
	Log         LogConfig                  `yaml:"log"`
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// StreamBuffer is the per-query event channel capacity.
	StreamBuffer int `yaml:"stream_buffer"`
}

// LLMConfig holds the model provider settings.
type LLMConfig struct {
	// Provider selects the backend: "openai" or "mock".
	Provider string        `yaml:"provider"`
	APIKey   string        `yaml:"api_key"`
	BaseURL  string        `yaml:"base_url"`
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ArchiveConfig holds the turn archive settings.
type ArchiveConfig struct {
	// Path is the SQLite file; empty keeps the archive in memory.
	Path string `yaml:"path"`
	// Enabled toggles archiving entirely.
	Enabled bool `yaml:"enabled"`
}

// ToolsConfig holds the domain tool settings.
type ToolsConfig struct {
	// RateLimitRPS caps calls per second per tool towards its
	// downstream API; zero disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps"`
	RateLimitBurst int     `yaml:"rate_limit_burst"`

	WeatherBaseURL  string `yaml:"weather_base_url"`
	EphyBaseURL     string `yaml:"ephy_base_url"`
	EppoBaseURL     string `yaml:"eppo_base_url"`
	EppoAPIKey      string `yaml:"eppo_api_key"`
	FarmDataBaseURL string `yaml:"farm_data_base_url"`
	SearchBaseURL   string `yaml:"search_base_url"`
}

// LogConfig holds the logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is json or console.
	Format string `yaml:"format"`
}

// Default returns the complete default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			StreamBuffer:    256,
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  60 * time.Second,
		},
		Redis: memory.RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Memory:      memory.DefaultConfig(),
		Archive:     ArchiveConfig{Path: "agrosense.db", Enabled: true},
		Router:      router.DefaultConfig(),
		Planner:     planner.DefaultConfig(),
		Breaker:     breaker.DefaultConfig(),
		Executor:    workflow.DefaultExecutorConfig(),
		Coordinator: workflow.DefaultCoordinatorConfig(),
		Synthesizer: workflow.DefaultSynthesizerConfig(),
		Engine:      workflow.DefaultEngineConfig(),
		Tools: ToolsConfig{
			RateLimitRPS:    5,
			RateLimitBurst:  10,
			WeatherBaseURL:  "https://api.open-meteo.com",
			EphyBaseURL:     "https://ephy.anses.fr",
			EppoBaseURL:     "https://data.eppo.int",
			FarmDataBaseURL: "http://localhost:8090",
			SearchBaseURL:   "http://localhost:8888",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.LLM.Provider != "openai" && c.LLM.Provider != "mock" {
		errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
	}
	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		errs = append(errs, "llm.api_key is required for the openai provider")
	}
	if c.Router.BaseThreshold < 0 || c.Router.BaseThreshold > 1 {
		errs = append(errs, "router.base_threshold must be in [0, 1]")
	}
	if c.Router.CoActivation < c.Router.BaseThreshold {
		errs = append(errs, "router.co_activation must not be below router.base_threshold")
	}
	if c.Executor.MaxConcurrency < 0 {
		errs = append(errs, "executor.max_concurrency must not be negative")
	}
	if c.Breaker.FailureThreshold < 1 {
		errs = append(errs, "breaker.failure_threshold must be at least 1")
	}
	if c.Memory.WindowTurns < 1 {
		errs = append(errs, "memory.window_turns must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
