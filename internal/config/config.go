// Package config loads and validates beamforged's runtime configuration:
// a typed struct populated from defaults, an optional YAML file, and
// environment variable overrides (env wins).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// OrchestratorConfig bounds the default beam-search parameters a job may
// request; the HTTP surface rejects job submissions that exceed these.
type OrchestratorConfig struct {
	MaxBeamWidth     int `yaml:"max_beam_width"`
	MaxKeepTop       int `yaml:"max_keep_top"`
	MaxIterations    int `yaml:"max_iterations"`
	DefaultEnsemble  int `yaml:"default_ensemble_size"`
	MaxBatchSize     int `yaml:"max_batch_size"`
	EventBufferLimit int `yaml:"event_buffer_limit"`
}

// LimiterConfig sets the per-capability concurrency ceiling; keys are
// capability names ("language", "image", "vision").
type LimiterConfig struct {
	Defaults map[string]int `yaml:"defaults"`
}

// RankerConfig sets the strategy-selection threshold applied to every job
// started through the HTTP surface.
type RankerConfig struct {
	AllAtOnceThreshold int `yaml:"all_at_once_threshold"`
}

// EventBusConfig configures event delivery and the optional Redis relay.
type EventBusConfig struct {
	BufferLimit    int    `yaml:"buffer_limit"`
	RedisAddr      string `yaml:"redis_addr"` // empty disables the relay
	RedisChannel   string `yaml:"redis_channel"`
	SubscriberSize int    `yaml:"subscriber_buffer_size"`
}

// JobStoreConfig configures job persistence.
type JobStoreConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "memory"
	DSN    string `yaml:"dsn"`
}

// AuthConfig configures JWT verification for the job surface. Disabled
// (Enabled=false) accepts all requests unauthenticated, for local/dev use.
type AuthConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Secret      string        `yaml:"secret"`
	Issuer      string        `yaml:"issuer"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
	// Clients maps a client id to the bcrypt hash of its shared secret,
	// checked by POST /auth/token before a JWT is issued. A client with no
	// entry here cannot exchange a secret for a token.
	Clients map[string]string `yaml:"clients"`
}

// ServerConfig configures the HTTP/WebSocket job surface.
type ServerConfig struct {
	Listen         string        `yaml:"listen"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// Config is the complete configuration for the beamforged process.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Limiter      LimiterConfig      `yaml:"limiter"`
	Ranker       RankerConfig       `yaml:"ranker"`
	EventBus     EventBusConfig     `yaml:"event_bus"`
	JobStore     JobStoreConfig     `yaml:"job_store"`
	Auth         AuthConfig         `yaml:"auth"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// Default returns the baseline configuration used when no file or
// environment overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:         "0.0.0.0:8090",
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   0, // WebSocket streams run indefinitely
			AllowedOrigins: []string{"*"},
		},
		Orchestrator: OrchestratorConfig{
			MaxBeamWidth:     16,
			MaxKeepTop:       8,
			MaxIterations:    10,
			DefaultEnsemble:  3,
			MaxBatchSize:     8,
			EventBufferLimit: 4096,
		},
		Limiter: LimiterConfig{
			Defaults: map[string]int{
				"language": 8,
				"image":    4,
				"vision":   4,
			},
		},
		Ranker: RankerConfig{
			AllAtOnceThreshold: 4,
		},
		EventBus: EventBusConfig{
			BufferLimit:    4096,
			SubscriberSize: 256,
		},
		JobStore: JobStoreConfig{
			Driver: "memory",
		},
		Auth: AuthConfig{
			Enabled:     false,
			TokenExpiry: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds a Config starting from Default, overlaying path (if
// non-empty) as YAML, then applying environment variable overrides, and
// finally validating the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// envPrefix namespaces every override to avoid colliding with unrelated
// process environment variables.
const envPrefix = "BEAMFORGE_"

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(envPrefix + key); ok {
			*dst = strings.Split(v, ",")
		}
	}

	str("SERVER_LISTEN", &cfg.Server.Listen)
	duration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	duration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	list("SERVER_ALLOWED_ORIGINS", &cfg.Server.AllowedOrigins)

	num("ORCHESTRATOR_MAX_BEAM_WIDTH", &cfg.Orchestrator.MaxBeamWidth)
	num("ORCHESTRATOR_MAX_KEEP_TOP", &cfg.Orchestrator.MaxKeepTop)
	num("ORCHESTRATOR_MAX_ITERATIONS", &cfg.Orchestrator.MaxIterations)
	num("ORCHESTRATOR_DEFAULT_ENSEMBLE", &cfg.Orchestrator.DefaultEnsemble)
	num("ORCHESTRATOR_MAX_BATCH_SIZE", &cfg.Orchestrator.MaxBatchSize)
	num("ORCHESTRATOR_EVENT_BUFFER_LIMIT", &cfg.Orchestrator.EventBufferLimit)

	if v, ok := os.LookupEnv(envPrefix + "LIMITER_LANGUAGE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limiter.Defaults["language"] = n
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "LIMITER_IMAGE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limiter.Defaults["image"] = n
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "LIMITER_VISION"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Limiter.Defaults["vision"] = n
		}
	}

	num("RANKER_ALL_AT_ONCE_THRESHOLD", &cfg.Ranker.AllAtOnceThreshold)

	num("EVENT_BUS_BUFFER_LIMIT", &cfg.EventBus.BufferLimit)
	str("EVENT_BUS_REDIS_ADDR", &cfg.EventBus.RedisAddr)
	str("EVENT_BUS_REDIS_CHANNEL", &cfg.EventBus.RedisChannel)
	num("EVENT_BUS_SUBSCRIBER_BUFFER_SIZE", &cfg.EventBus.SubscriberSize)

	str("JOB_STORE_DRIVER", &cfg.JobStore.Driver)
	str("JOB_STORE_DSN", &cfg.JobStore.DSN)

	boolean("AUTH_ENABLED", &cfg.Auth.Enabled)
	str("AUTH_SECRET", &cfg.Auth.Secret)
	str("AUTH_ISSUER", &cfg.Auth.Issuer)
	duration("AUTH_TOKEN_EXPIRY", &cfg.Auth.TokenExpiry)

	str("LOGGING_LEVEL", &cfg.Logging.Level)
	str("LOGGING_FORMAT", &cfg.Logging.Format)
}

// Validate rejects configurations the rest of the process cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Server.Listen == "":
		return fmt.Errorf("server.listen must not be empty")
	case c.Orchestrator.MaxBeamWidth < 1:
		return fmt.Errorf("orchestrator.max_beam_width must be >= 1")
	case c.Orchestrator.MaxKeepTop < 1:
		return fmt.Errorf("orchestrator.max_keep_top must be >= 1")
	case c.Orchestrator.MaxIterations < 1:
		return fmt.Errorf("orchestrator.max_iterations must be >= 1")
	case c.JobStore.Driver != "postgres" && c.JobStore.Driver != "memory":
		return fmt.Errorf("job_store.driver must be \"postgres\" or \"memory\", got %q", c.JobStore.Driver)
	case c.JobStore.Driver == "postgres" && c.JobStore.DSN == "":
		return fmt.Errorf("job_store.dsn is required when job_store.driver is \"postgres\"")
	case c.Auth.Enabled && c.Auth.Secret == "":
		return fmt.Errorf("auth.secret is required when auth.enabled is true")
	}
	for name, limit := range c.Limiter.Defaults {
		if limit < 1 {
			return fmt.Errorf("limiter.defaults[%s] must be >= 1", name)
		}
	}
	return nil
}
