// Package config provides configuration management for the guessgame CLI.
//
// Settings are read from guessgame.yaml, then overridden by GUESSGAME_*
// environment variables. Command-line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Supported storage backends.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMongoDB  = "mongodb"
)

// EnvPrefix prefixes every environment variable read by the CLI.
const EnvPrefix = "GUESSGAME_"

// ConfigFileName is the default config file name
const ConfigFileName = "guessgame.yaml"

// DefaultSource is the CloudEvents source of events written by the CLI.
const DefaultSource = "com.fairtiq.guessGame"

// Config represents the guessgame CLI configuration
type Config struct {
	// Backend selects the event store: memory, sqlite, postgres or mongodb
	Backend string `yaml:"backend" env:"BACKEND"`

	// Database connection settings of the selected backend
	Database DatabaseConfig `yaml:"database" envPrefix:"DATABASE_"`

	// Redis optionally stores subscription positions and views
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`

	// Event envelope settings
	Event EventConfig `yaml:"event" envPrefix:"EVENT_"`

	// Subscription polling settings
	Subscription SubscriptionConfig `yaml:"subscription" envPrefix:"SUBSCRIPTION_"`

	// Command execution settings
	Command CommandConfig `yaml:"command" envPrefix:"COMMAND_"`

	// Kafka relay settings
	Kafka KafkaConfig `yaml:"kafka" envPrefix:"KAFKA_"`

	// SNS relay settings
	SNS SNSConfig `yaml:"sns" envPrefix:"SNS_"`

	// Metrics endpoint settings
	Metrics MetricsConfig `yaml:"metrics" envPrefix:"METRICS_"`

	// Tracing settings
	Tracing TracingConfig `yaml:"tracing" envPrefix:"TRACING_"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	// URL is the connection string, or the file path for sqlite
	URL string `yaml:"url,omitempty" env:"URL"`

	// Schema is the postgres schema to use
	Schema string `yaml:"schema" env:"SCHEMA"`

	// Name is the mongodb database name
	Name string `yaml:"name" env:"NAME"`
}

// RedisConfig contains the optional redis settings.
type RedisConfig struct {
	URL       string `yaml:"url,omitempty" env:"URL"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// EventConfig contains event envelope settings.
type EventConfig struct {
	Source string `yaml:"source" env:"SOURCE"`
}

// SubscriptionConfig contains subscription polling settings.
type SubscriptionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	BatchSize    int           `yaml:"batch_size" env:"BATCH_SIZE"`
}

// CommandConfig contains command execution settings.
type CommandConfig struct {
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
}

// KafkaConfig contains Kafka relay settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers,omitempty" env:"BROKERS" envSeparator:","`
	Topic   string   `yaml:"topic" env:"TOPIC"`
}

// SNSConfig contains SNS relay settings.
type SNSConfig struct {
	TopicARN string `yaml:"topic_arn,omitempty" env:"TOPIC_ARN"`
}

// MetricsConfig contains the metrics endpoint settings.
type MetricsConfig struct {
	// Addr is the listen address of /metrics. Empty disables the endpoint.
	Addr string `yaml:"addr,omitempty" env:"ADDR"`
}

// TracingConfig contains tracing settings.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Backend: BackendMemory,
		Database: DatabaseConfig{
			Schema: "public",
			Name:   "guessgame",
		},
		Redis: RedisConfig{
			KeyPrefix: "guessgame",
		},
		Event: EventConfig{
			Source: DefaultSource,
		},
		Subscription: SubscriptionConfig{
			PollInterval: 100 * time.Millisecond,
			BatchSize:    100,
		},
		Command: CommandConfig{
			MaxAttempts: 3,
		},
		Kafka: KafkaConfig{
			Topic: "guessgame-events",
		},
	}
}

// Load loads configuration from the specified directory
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, ConfigFileName)
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
// Keys missing from the file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	return cfg, nil
}

// ApplyEnv overrides settings with GUESSGAME_* environment variables.
// Variables that are not set leave the current value untouched.
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Save saves the configuration to the specified directory
func (c *Config) Save(dir string) error {
	path := filepath.Join(dir, ConfigFileName)
	return c.SaveFile(path)
}

// SaveFile saves the configuration to a specific file path
func (c *Config) SaveFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, append([]byte(header), data...), 0600)
}

const header = `# guessgame configuration
# Every key can be overridden with a GUESSGAME_ environment variable,
# for example GUESSGAME_BACKEND or GUESSGAME_DATABASE_URL.

`

// Exists checks if a config file exists in the directory
func Exists(dir string) bool {
	path := filepath.Join(dir, ConfigFileName)
	_, err := os.Stat(path)
	return err == nil
}

// FindConfig searches for a config file starting from dir and going up
func FindConfig(dir string) (string, *Config, error) {
	current := dir
	for {
		configPath := filepath.Join(current, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			cfg, err := LoadFile(configPath)
			if err != nil {
				return "", nil, err
			}
			return current, cfg, nil
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", nil, os.ErrNotExist
		}
		current = parent
	}
}

// Resolve loads the configuration the CLI runs with.
// An explicit path must exist. Without one the nearest guessgame.yaml above
// dir is used, falling back to defaults. Environment overrides are applied.
func Resolve(path, dir string) (*Config, error) {
	var cfg *Config
	switch {
	case path != "":
		loaded, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		_, found, err := FindConfig(dir)
		switch {
		case err == nil:
			cfg = found
		case errors.Is(err, os.ErrNotExist):
			cfg = DefaultConfig()
		default:
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() []string {
	var problems []string

	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Database.URL == "" {
			problems = append(problems, "database.url (file path) is required for sqlite backend")
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required for postgres backend")
		}
	case BackendMongoDB:
		if c.Database.URL == "" {
			problems = append(problems, "database.url is required for mongodb backend")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.name is required for mongodb backend")
		}
	case "":
		problems = append(problems, "backend is required")
	default:
		problems = append(problems, fmt.Sprintf("backend must be one of memory, sqlite, postgres, mongodb (got %q)", c.Backend))
	}

	if c.Event.Source == "" {
		problems = append(problems, "event.source is required")
	}
	if c.Subscription.PollInterval <= 0 {
		problems = append(problems, "subscription.poll_interval must be positive")
	}
	if c.Subscription.BatchSize <= 0 {
		problems = append(problems, "subscription.batch_size must be positive")
	}
	if c.Command.MaxAttempts < 1 {
		problems = append(problems, "command.max_attempts must be at least 1")
	}

	return problems
}

// ValidateKafka reports what is missing to run the Kafka relay.
func (c *Config) ValidateKafka() []string {
	var problems []string
	if len(c.Kafka.Brokers) == 0 {
		problems = append(problems, "kafka.brokers is required")
	}
	if c.Kafka.Topic == "" {
		problems = append(problems, "kafka.topic is required")
	}
	return problems
}

// ValidateSNS reports what is missing to run the SNS relay.
func (c *Config) ValidateSNS() []string {
	if c.SNS.TopicARN == "" {
		return []string{"sns.topic_arn is required"}
	}
	return nil
}
