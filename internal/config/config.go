// Package config provides configuration loading and structs for the nestelia proxy and clients.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug        bool               `yaml:"debug"`
	Log          LogConfig          `yaml:"log"`
	Server       ServerConfig       `yaml:"server"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Cache        CacheConfig        `yaml:"cache"`
	Stream       StreamConfig       `yaml:"stream"`
	API          APIConfig          `yaml:"api"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Search       SearchConfig       `yaml:"search"`
}

// LogConfig holds optional file logging settings.
type LogConfig struct {
	File string `yaml:"file"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// UpstreamConfig describes the content origin the proxy fronts.
type UpstreamConfig struct {
	Origin  string        `yaml:"origin"`
	Timeout time.Duration `yaml:"timeout"`
}

// CacheConfig holds cache generation and partition storage settings.
type CacheConfig struct {
	// Prefix and Version compose the partition names, e.g. "nestelia-wiki-v1".
	Prefix  string `yaml:"prefix"`
	Version string `yaml:"version"`
	// Backend selects the partition store: sqlite, memory or redis.
	Backend      string   `yaml:"backend"`
	DatabasePath string   `yaml:"database_path"`
	RedisURL     string   `yaml:"redis_url"`
	Bootstrap    []string `yaml:"bootstrap"`
	// SkipWaiting activates a freshly installed generation without waiting for SKIP_WAITING.
	SkipWaiting bool `yaml:"skip_waiting"`
}

// StreamConfig holds settings for the streaming query endpoint.
type StreamConfig struct {
	BaseURL     string `yaml:"base_url"`
	Path        string `yaml:"path"`
	MaxResults  int    `yaml:"max_results"`
	UseModelVps bool   `yaml:"use_model_vps"`
}

// APIConfig holds REST client settings.
type APIConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Timeout       time.Duration `yaml:"timeout"`
	UploadTimeout time.Duration `yaml:"upload_timeout"`
}

// ConnectivityConfig holds the origin probe settings.
type ConnectivityConfig struct {
	ProbePath string        `yaml:"probe_path"`
	Interval  time.Duration `yaml:"interval"`
}

// SearchConfig holds offline search settings.
type SearchConfig struct {
	IndexPath    string `yaml:"index_path"`
	DefaultLimit int    `yaml:"default_limit"`
	MaxLimit     int    `yaml:"max_limit"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Cache.DatabasePath = expandPath(cfg.Cache.DatabasePath, configDir)
	cfg.Search.IndexPath = expandPath(cfg.Search.IndexPath, configDir)
	if cfg.Log.File != "" {
		cfg.Log.File = expandPath(cfg.Log.File, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// PartitionNames returns the four partition names of the configured generation
// in the order app-shell, runtime, wiki-content, images.
func (c *CacheConfig) PartitionNames() [4]string {
	return [4]string{
		c.Prefix + "-" + c.Version,
		c.Prefix + "-runtime-" + c.Version,
		c.Prefix + "-wiki-" + c.Version,
		c.Prefix + "-images-" + c.Version,
	}
}

// StreamURL returns the absolute query-stream endpoint.
func (s *StreamConfig) StreamURL() string {
	return strings.TrimRight(s.BaseURL, "/") + "/" + strings.TrimLeft(s.Path, "/")
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
