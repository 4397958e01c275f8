// Package config loads the orchestrator's YAML configuration.
package config

import (
	"os"
	"time"

	"github.com/palantir/stacktrace"
	yaml "gopkg.in/yaml.v2"
)

// Config is the full orchestrator configuration tree
type Config struct {
	Log         LogConfig         `yaml:"log"`
	API         APIConfig         `yaml:"api"`
	Engine      EngineConfig      `yaml:"engine"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Alerting    AlertingConfig    `yaml:"alerting"`
	Tracing     TracingConfig     `yaml:"tracing"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type EngineConfig struct {
	SampleInterval  time.Duration `yaml:"sampleInterval"`
	MonitorInterval time.Duration `yaml:"monitorInterval"`
	DefaultDuration time.Duration `yaml:"defaultDuration"`
}

type PersistenceConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type AlertingConfig struct {
	// Sink is "log" or "redis"
	Sink         string `yaml:"sink"`
	RedisAddr    string `yaml:"redisAddr"`
	RedisChannel string `yaml:"redisChannel"`
}

type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		API: APIConfig{Addr: ":8089"},
		Engine: EngineConfig{
			SampleInterval:  5 * time.Second,
			MonitorInterval: 5 * time.Second,
			DefaultDuration: 60 * time.Second,
		},
		Persistence: PersistenceConfig{Enabled: false, Path: "/var/lib/havoc"},
		Alerting:    AlertingConfig{Sink: "log", RedisChannel: "havoc.alerts"},
		Tracing:     TracingConfig{Enabled: false, Endpoint: "localhost:4317"},
	}
}

// Load reads the YAML file at path over the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, stacktrace.Propagate(err, "could not read config file %s", path)
	}
	if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
		return cfg, stacktrace.Propagate(err, "could not parse config file %s", path)
	}
	return cfg, nil
}
