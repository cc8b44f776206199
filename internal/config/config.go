package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds the HTTP listen settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// IndexConfig holds default HNSW build parameters applied to new collections.
type IndexConfig struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

// Config is the process-wide configuration.
type Config struct {
	Dir    string       `yaml:"dir"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Index  IndexConfig  `yaml:"index"`
}

// NewConfig returns a config with defaults rooted at dir.
func NewConfig(dir string) (*Config, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory must not be empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &Config{
		Dir: abs,
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Log: LogConfig{
			Level: "info",
		},
		Index: IndexConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       100,
		},
	}, nil
}

// LoadConfig reads a YAML config file, filling unset fields with defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	conf, err := NewConfig(".")
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if conf.Dir == "" {
		return nil, fmt.Errorf("data directory must not be empty")
	}
	return conf, nil
}

// Addr returns the host:port string for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
