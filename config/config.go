package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Glassnode GlassnodeConfig `yaml:"glassnode"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Assets    []string        `yaml:"assets"`
	Metrics   []MetricConfig  `yaml:"metrics"`
	Workers   WorkersConfig   `yaml:"workers"`
	API       APIConfig       `yaml:"api"`
}

// Duration lets the YAML carry values like "30s" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type GlassnodeConfig struct {
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Interval  string   `yaml:"interval"`
	PollEvery Duration `yaml:"poll_every"`
}

type MetricConfig struct {
	Category string            `yaml:"category"`
	Name     string            `yaml:"name"`
	Params   map[string]string `yaml:"params,omitempty"`
}

// Path returns the endpoint path used both in request URLs and as the
// metric identifier throughout the system.
func (m MetricConfig) Path() string {
	return m.Category + "/" + m.Name
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WorkersConfig struct {
	PerCategory       int      `yaml:"per_category"`
	AggregationWindow Duration `yaml:"aggregation_window"`
	SignalEvery       Duration `yaml:"signal_every"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

func (p PostgresConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode)
}

func LoadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(file, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// The key almost never belongs in the file on real deployments.
	if key := os.Getenv("GLASSNODE_API_KEY"); key != "" {
		config.Glassnode.APIKey = key
	}

	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(c *Config) {
	if c.Glassnode.BaseURL == "" {
		c.Glassnode.BaseURL = "https://api.glassnode.com"
	}
	if c.Glassnode.Interval == "" {
		c.Glassnode.Interval = "24h"
	}
	if c.Glassnode.PollEvery == 0 {
		c.Glassnode.PollEvery = Duration(time.Minute)
	}
	if c.Workers.PerCategory == 0 {
		c.Workers.PerCategory = 3
	}
	if c.Workers.AggregationWindow == 0 {
		c.Workers.AggregationWindow = Duration(time.Minute)
	}
	if c.Workers.SignalEvery == 0 {
		c.Workers.SignalEvery = Duration(5 * time.Minute)
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
}
