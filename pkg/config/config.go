// Package config provides configuration loading for the stagehand service.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the service configuration, loaded from a YAML file with
// defaults applied for anything left unset.
type Config struct {
	Namespace string `yaml:"namespace"`
	LogLevel  string `yaml:"log_level"  validate:"omitempty,oneof=debug info warn error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`

	EventBus    EventBusConfig    `yaml:"event_bus"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Store       StoreConfig       `yaml:"store"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Triggers    TriggerConfig     `yaml:"triggers"`
	Web         WebConfig         `yaml:"web"`
}

type EventBusConfig struct {
	// Provider selects the transport: gochannel for in-process, kafka for
	// distributed deployments.
	Provider string `yaml:"provider" validate:"omitempty,oneof=gochannel kafka"`
	Brokers  string `yaml:"brokers"`
}

type PersistenceConfig struct {
	// URL is the storage location, currently file://<dir>.
	URL string `yaml:"url"`
}

type StoreConfig struct {
	// DefaultStrategy picks the tier for object puts that do not name one:
	// cluster_memory, artifact or fallback.
	DefaultStrategy string `yaml:"default_strategy" validate:"omitempty,oneof=cluster_memory artifact fallback"`
	// ArtifactPath is the base directory of the artifact tier.
	ArtifactPath string `yaml:"artifact_path"`
	// ClusterMemoryURL selects the shared store backend; empty means the
	// executor's in-process memory, redis://... a redis backend.
	ClusterMemoryURL string `yaml:"cluster_memory_url"`
}

type ExecutorConfig struct {
	// Workers bounds stage parallelism; zero means one per CPU.
	Workers int `yaml:"workers" validate:"omitempty,min=0"`
	// RunTimeout and StageTimeout are default deadlines, zero disables.
	RunTimeout   time.Duration `yaml:"run_timeout"`
	StageTimeout time.Duration `yaml:"stage_timeout"`
	// HealthInterval is the probe period, HealthBudget the retry window
	// before the executor is reported unhealthy.
	HealthInterval time.Duration `yaml:"health_interval"`
	HealthBudget   time.Duration `yaml:"health_budget"`
}

type TriggerConfig struct {
	// StrictVarLookup makes a missing var path in a condition rule an
	// evaluation error instead of evaluating falsy.
	StrictVarLookup bool `yaml:"strict_var_lookup"`
}

type WebConfig struct {
	Port int `yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Namespace: "default",
		LogLevel:  "info",
		LogFormat: "text",
		EventBus:  EventBusConfig{Provider: "gochannel"},
		Persistence: PersistenceConfig{
			URL: "file://./data",
		},
		Store: StoreConfig{
			DefaultStrategy: "fallback",
			ArtifactPath:    "./artifacts",
		},
		Executor: ExecutorConfig{
			HealthInterval: 30 * time.Second,
			HealthBudget:   2 * time.Minute,
		},
		Web: WebConfig{Port: 8080},
	}
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New()

// Validate checks enum fields and ranges.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
