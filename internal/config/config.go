// Package config loads YAML configuration for the broker, worker, and
// client endpoints.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Broker  BrokerConfig  `yaml:"broker"`
	Worker  WorkerConfig  `yaml:"worker"`
	Client  ClientConfig  `yaml:"client"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// BrokerConfig configures the broker's bind addresses and heartbeat.
type BrokerConfig struct {
	FrontendAddress   string        `yaml:"frontend_address"`
	BackendAddress    string        `yaml:"backend_address"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	EventLogCapacity  int           `yaml:"event_log_capacity"`
}

// WorkerConfig configures a worker's broker connection.
type WorkerConfig struct {
	BrokerAddress string `yaml:"broker_address"`
	Identity      string `yaml:"identity"`
}

// ClientConfig configures a client's broker connection and retry default.
type ClientConfig struct {
	BrokerAddress  string `yaml:"broker_address"`
	Identity       string `yaml:"identity"`
	DefaultRetries int    `yaml:"default_retries"`
}

// HTTPConfig configures the optional operational HTTP API.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoggingConfig configures log verbosity.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Silent bool   `yaml:"silent"`
}

// NewDefault returns a fully populated configuration using the
// conventional addresses and spec-mandated timing constants.
func NewDefault() *Config {
	return &Config{
		Broker: BrokerConfig{
			FrontendAddress:   "tcp://*:5555",
			BackendAddress:    "tcp://*:5556",
			HeartbeatInterval: 1 * time.Second,
			EventLogCapacity:  512,
		},
		Worker: WorkerConfig{
			BrokerAddress: "tcp://localhost:5556",
		},
		Client: ClientConfig{
			BrokerAddress:  "tcp://localhost:5555",
			DefaultRetries: 3,
		},
		HTTP: HTTPConfig{
			Enabled: false,
			Address: "127.0.0.1:8080",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Silent: true,
		},
	}
}

// Load reads and parses a YAML config file, filling unset fields with
// defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) setDefaults() {
	d := NewDefault()
	if c.Broker.FrontendAddress == "" {
		c.Broker.FrontendAddress = d.Broker.FrontendAddress
	}
	if c.Broker.BackendAddress == "" {
		c.Broker.BackendAddress = d.Broker.BackendAddress
	}
	if c.Broker.HeartbeatInterval == 0 {
		c.Broker.HeartbeatInterval = d.Broker.HeartbeatInterval
	}
	if c.Broker.EventLogCapacity == 0 {
		c.Broker.EventLogCapacity = d.Broker.EventLogCapacity
	}
	if c.Worker.BrokerAddress == "" {
		c.Worker.BrokerAddress = d.Worker.BrokerAddress
	}
	if c.Client.BrokerAddress == "" {
		c.Client.BrokerAddress = d.Client.BrokerAddress
	}
	if c.HTTP.Address == "" {
		c.HTTP.Address = d.HTTP.Address
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
}

func (c *Config) validate() error {
	if c.Broker.HeartbeatInterval < 0 {
		return fmt.Errorf("broker.heartbeat_interval must be non-negative")
	}
	if c.Broker.EventLogCapacity < 0 {
		return fmt.Errorf("broker.event_log_capacity must be non-negative")
	}
	if c.Client.DefaultRetries < -1 {
		return fmt.Errorf("client.default_retries must be -1 (unbounded) or non-negative")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level)
	}
	return nil
}
