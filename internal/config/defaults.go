package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Upstream.Origin == "" {
		cfg.Upstream.Origin = "http://localhost:3000"
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 30 * time.Second
	}
	if cfg.Cache.Prefix == "" {
		cfg.Cache.Prefix = "nestelia"
	}
	if cfg.Cache.Version == "" {
		cfg.Cache.Version = "v1"
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "sqlite"
	}
	if cfg.Cache.DatabasePath == "" {
		cfg.Cache.DatabasePath = "/usr/local/var/nestelia/data/cache.db"
	}
	if cfg.Cache.RedisURL == "" {
		cfg.Cache.RedisURL = "redis://localhost:6379/0"
	}
	if cfg.Cache.Bootstrap == nil {
		cfg.Cache.Bootstrap = []string{"/", "/index.html", "/manifest.json"}
	}
	if cfg.Stream.BaseURL == "" {
		cfg.Stream.BaseURL = "http://localhost:8080/api"
	}
	if cfg.Stream.Path == "" {
		cfg.Stream.Path = "/bot/query-stream"
	}
	if cfg.Stream.MaxResults == 0 {
		cfg.Stream.MaxResults = 5
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://localhost:8080/api"
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = 30 * time.Second
	}
	if cfg.API.UploadTimeout == 0 {
		cfg.API.UploadTimeout = 120 * time.Second
	}
	if cfg.Connectivity.ProbePath == "" {
		cfg.Connectivity.ProbePath = "/manifest.json"
	}
	if cfg.Connectivity.Interval == 0 {
		cfg.Connectivity.Interval = 15 * time.Second
	}
	if cfg.Search.IndexPath == "" {
		cfg.Search.IndexPath = "/usr/local/var/nestelia/data/indices/bleve"
	}
	if cfg.Search.DefaultLimit == 0 {
		cfg.Search.DefaultLimit = 10
	}
	if cfg.Search.MaxLimit == 0 {
		cfg.Search.MaxLimit = 100
	}
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
