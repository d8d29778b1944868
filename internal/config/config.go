// Package config loads diagramq settings from a YAML file, then lets
// environment variables and command-line flags override them.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/yokitheyo/diagramq/internal/engine"
)

const (
	BackendRedis  = "redis"
	BackendMemory = "memory"

	EnvPrefix = "DIAGRAMQ"

	defaultTemperature = 0.2
)

type Config struct {
	Server struct {
		Port            int           `yaml:"port"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Broker struct {
		Backend   string        `yaml:"backend"`
		URL       string        `yaml:"url"`
		QueueKey  string        `yaml:"queue_key"`
		KeyPrefix string        `yaml:"key_prefix"`
		QueueSize int           `yaml:"queue_size"`
		ResultTTL time.Duration `yaml:"result_ttl"`
	} `yaml:"broker"`

	Engine struct {
		Family      string  `yaml:"family"`
		Model       string  `yaml:"model"`
		URL         string  `yaml:"url"`
		Token       string  `yaml:"token"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float64 `yaml:"temperature"`
	} `yaml:"engine"`

	Worker struct {
		Concurrency   int    `yaml:"concurrency"`
		Consumer      string `yaml:"consumer"`
		ProgressEvery int    `yaml:"progress_every"`
	} `yaml:"worker"`

	Relay struct {
		Interval      time.Duration `yaml:"interval"`
		MaxFailures   int           `yaml:"max_failures"`
		NotFoundLimit int           `yaml:"not_found_limit"`
	} `yaml:"relay"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Extract struct {
		Language string `yaml:"language"`
	} `yaml:"extract"`

	// Retention only applies to the memory backend; Redis expires records
	// through Broker.ResultTTL.
	Retention struct {
		Interval time.Duration `yaml:"interval"`
		MaxAge   time.Duration `yaml:"max_age"`
	} `yaml:"retention"`
}

// LoadConfig reads path if it exists and fills in defaults. A missing file
// is not an error.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	// zero is a valid temperature, so the default goes in before the file
	// is decoded and only a present key replaces it
	cfg.Engine.Temperature = defaultTemperature

	if path != "" {
		f, err := os.Open(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			defer f.Close()
			dec := yaml.NewDecoder(f)
			if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
		}
	}

	cfg.setDefaults()
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Broker.Backend == "" {
		c.Broker.Backend = BackendRedis
	}
	if c.Broker.URL == "" {
		c.Broker.URL = "redis://localhost:6379/0"
	}
	if c.Broker.QueueKey == "" {
		c.Broker.QueueKey = "diagramq:jobs"
	}
	if c.Broker.KeyPrefix == "" {
		c.Broker.KeyPrefix = "diagramq:task:"
	}
	if c.Broker.QueueSize == 0 {
		c.Broker.QueueSize = 1024
	}
	if c.Broker.ResultTTL == 0 {
		c.Broker.ResultTTL = 24 * time.Hour
	}

	if c.Engine.Model == "" {
		c.Engine.Model = "gemma3:4b"
	}
	if c.Engine.URL == "" {
		c.Engine.URL = "http://localhost:11434"
	}
	if c.Engine.MaxTokens == 0 {
		c.Engine.MaxTokens = 1500
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 1
	}

	if c.Relay.Interval == 0 {
		c.Relay.Interval = 500 * time.Millisecond
	}
	if c.Relay.MaxFailures == 0 {
		c.Relay.MaxFailures = 10
	}
	if c.Relay.NotFoundLimit == 0 {
		c.Relay.NotFoundLimit = 3
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Extract.Language == "" {
		c.Extract.Language = "mermaid"
	}

	if c.Retention.Interval == 0 {
		c.Retention.Interval = time.Hour
	}
	if c.Retention.MaxAge == 0 {
		c.Retention.MaxAge = c.Broker.ResultTTL
	}
}

// NewViper returns a viper instance reading DIAGRAMQ_* variables, e.g.
// DIAGRAMQ_WORKER_CONCURRENCY for worker.concurrency. The variable names
// the deployment scripts already use are bound as aliases.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("broker.url", EnvPrefix+"_BROKER_URL", "REDIS_URL")
	_ = v.BindEnv("engine.model", EnvPrefix+"_ENGINE_MODEL", "MODEL_NAME")
	_ = v.BindEnv("engine.token", EnvPrefix+"_ENGINE_TOKEN", "ENGINE_TOKEN")
	return v
}

// Overlay copies every key set in v (environment or changed flag) over cfg.
func (c *Config) Overlay(v *viper.Viper) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	num := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	num("server.port", &c.Server.Port)
	dur("server.shutdown_timeout", &c.Server.ShutdownTimeout)

	str("broker.backend", &c.Broker.Backend)
	str("broker.url", &c.Broker.URL)
	str("broker.queue_key", &c.Broker.QueueKey)
	str("broker.key_prefix", &c.Broker.KeyPrefix)
	num("broker.queue_size", &c.Broker.QueueSize)
	dur("broker.result_ttl", &c.Broker.ResultTTL)

	str("engine.family", &c.Engine.Family)
	str("engine.model", &c.Engine.Model)
	str("engine.url", &c.Engine.URL)
	str("engine.token", &c.Engine.Token)
	num("engine.max_tokens", &c.Engine.MaxTokens)
	if v.IsSet("engine.temperature") {
		c.Engine.Temperature = v.GetFloat64("engine.temperature")
	}

	num("worker.concurrency", &c.Worker.Concurrency)
	str("worker.consumer", &c.Worker.Consumer)
	num("worker.progress_every", &c.Worker.ProgressEvery)

	dur("relay.interval", &c.Relay.Interval)
	num("relay.max_failures", &c.Relay.MaxFailures)
	num("relay.not_found_limit", &c.Relay.NotFoundLimit)

	str("logging.level", &c.Logging.Level)
	str("logging.format", &c.Logging.Format)

	str("extract.language", &c.Extract.Language)

	dur("retention.interval", &c.Retention.Interval)
	dur("retention.max_age", &c.Retention.MaxAge)
}

// Load reads the file at path and applies the overlay from v.
func Load(path string, v *viper.Viper) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if v != nil {
		cfg.Overlay(v)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and resolves Engine.Family from Engine.Model when
// the family is not set explicitly.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in [1, 65535], got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, fmt.Errorf("server.shutdown_timeout must not be negative"))
	}

	switch c.Broker.Backend {
	case BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("broker.backend must be %q or %q, got %q", BackendRedis, BackendMemory, c.Broker.Backend))
	}
	if c.Broker.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("broker.queue_size must not be negative"))
	}
	if c.Broker.ResultTTL < 0 {
		errs = append(errs, fmt.Errorf("broker.result_ttl must not be negative"))
	}

	if c.Engine.Family == "" {
		if family, ok := engine.DetectFamily(c.Engine.Model); ok {
			c.Engine.Family = family
		} else {
			c.Engine.Family = engine.FamilyGemma
		}
	}
	c.Engine.Family = strings.ToLower(c.Engine.Family)
	if _, err := engine.AdapterFor(c.Engine.Family); err != nil {
		errs = append(errs, fmt.Errorf("engine.family: %w", err))
	}
	if c.Engine.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("engine.max_tokens must be >= 1"))
	}
	if c.Engine.Temperature < 0 || c.Engine.Temperature > 2 {
		errs = append(errs, fmt.Errorf("engine.temperature must be in [0, 2], got %g", c.Engine.Temperature))
	}

	if c.Worker.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("worker.concurrency must be >= 1"))
	}
	if c.Worker.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("worker.progress_every must not be negative"))
	}

	if c.Relay.Interval <= 0 {
		errs = append(errs, fmt.Errorf("relay.interval must be positive"))
	}
	if c.Relay.MaxFailures < 1 || c.Relay.NotFoundLimit < 1 {
		errs = append(errs, fmt.Errorf("relay.max_failures and relay.not_found_limit must be >= 1"))
	}

	if strings.TrimSpace(c.Extract.Language) == "" {
		errs = append(errs, fmt.Errorf("extract.language must not be empty"))
	}

	return errors.Join(errs...)
}
