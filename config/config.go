package config

import (
	"os"
	"strings"
)

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Postgres and Redis configuration
//   - services.go: service modes, pipeline tuning, reaper
//   - providers.go: embedding, generation and vector index providers
//   - observability.go: metrics emission
type AppConfig struct {
	// IsDev controls development mode behavior (verbose logging, relaxed provider checks).
	IsDev bool `env:"DEV" envDefault:"false"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`
	Cache    CacheConfig

	// Services is a comma-delimited list of service modes to run in this process.
	Services string `env:"SERVICES" envDefault:"dispatcher,reaper"`

	Pipeline  PipelineConfig
	Debounce  DebounceConfig
	Reaper    ReaperConfig
	OpenAI    OpenAIConfig   `envPrefix:"OPENAI_"`
	Weaviate  WeaviateConfig `envPrefix:"WEAVIATE_"`
	Execution ExecutionConfig

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Pipeline.Sanitize()
	c.Debounce.Sanitize()
	c.Reaper.Sanitize()
	c.OpenAI.Sanitize()
	c.Weaviate.Sanitize()
	c.Execution.Sanitize()
	c.Observability.Sanitize()

	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.detectDevMode()
}

// detectDevMode falls back to APP_ENV when DEV is unset.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		appEnv := strings.ToLower(os.Getenv("APP_ENV"))
		c.IsDev = appEnv == "development" || appEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsDispatcherEnabled returns true if the dispatcher loop should run.
func (c *AppConfig) IsDispatcherEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeDispatcher]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
