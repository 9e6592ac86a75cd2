package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the observer.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Monitor MonitorConfig `yaml:"monitor"`
	Clients ClientsConfig `yaml:"clients"`
	Logging LoggingConfig `yaml:"logging"`
	Rules   RulesConfig   `yaml:"rules"`
	Cache   CacheConfig   `yaml:"cache"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// MonitorConfig controls the detection loop and the remediation pipeline.
type MonitorConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BaselineWindow time.Duration `yaml:"baselineWindow"`
	CurrentWindow  time.Duration `yaml:"currentWindow"`
	StepTimeout    time.Duration `yaml:"stepTimeout"`
	Environment    string        `yaml:"environment"`
}

// ClientsConfig groups the collaborator endpoints.
type ClientsConfig struct {
	Metrics    MetricsClientConfig `yaml:"metrics"`
	CodeSearch EndpointConfig      `yaml:"codeSearch"`
	Fix        EndpointConfig      `yaml:"fix"`
	PR         EndpointConfig      `yaml:"pr"`
	Notify     EndpointConfig      `yaml:"notify"`
	Ticket     TicketConfig        `yaml:"ticket"`
	Commits    CommitsConfig       `yaml:"commits"`
}

// MetricsClientConfig configures access to the time-series store.
type MetricsClientConfig struct {
	BaseURL    string        `yaml:"baseURL"`
	SeriesPath string        `yaml:"seriesPath"`
	WindowPath string        `yaml:"windowPath"`
	IngestPath string        `yaml:"ingestPath"`
	Timeout    time.Duration `yaml:"timeout"`
}

// EndpointConfig configures a single request/response collaborator.
type EndpointConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// TicketConfig configures the optional ticketing collaborator.
type TicketConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
}

// CommitsConfig configures the source-control gateway.
type CommitsConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Path    string        `yaml:"path"`
	Token   string        `yaml:"token"`
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig controls diagnosis rule-pack loading.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls in-process caching of series discovery.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	SeriesTTL time.Duration `yaml:"seriesTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("SEER_OBSERVER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Monitor: MonitorConfig{
			Interval:       60 * time.Second,
			BaselineWindow: 7 * 24 * time.Hour,
			CurrentWindow:  time.Hour,
			StepTimeout:    30 * time.Second,
			Environment:    "production",
		},
		Clients: ClientsConfig{
			Metrics: MetricsClientConfig{
				SeriesPath: "/api/v1/metrics/series",
				WindowPath: "/api/v1/metrics/window",
				IngestPath: "/api/v1/metrics/ingest",
				Timeout:    5 * time.Second,
			},
			CodeSearch: EndpointConfig{Path: "/api/v1/search", Timeout: 10 * time.Second},
			Fix:        EndpointConfig{Path: "/api/v1/fix", Timeout: 30 * time.Second},
			PR:         EndpointConfig{Path: "/api/v1/pulls", Timeout: 30 * time.Second},
			Notify:     EndpointConfig{Path: "/api/v1/notify", Timeout: 10 * time.Second},
			Ticket:     TicketConfig{Path: "/api/v1/tickets", Timeout: 15 * time.Second},
			Commits:    CommitsConfig{Path: "/api/v1/commits", Timeout: 15 * time.Second},
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:   true,
			SeriesTTL: 5 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SEER_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("SEER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("SEER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SEER_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("SEER_MONITOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Monitor.Interval = d
		}
	}
	if v := os.Getenv("SEER_MONITOR_ENVIRONMENT"); v != "" {
		cfg.Monitor.Environment = v
	}
	if v := os.Getenv("SEER_METRICS_BASE_URL"); v != "" {
		cfg.Clients.Metrics.BaseURL = v
	}
	if v := os.Getenv("SEER_CODESEARCH_BASE_URL"); v != "" {
		cfg.Clients.CodeSearch.BaseURL = v
	}
	if v := os.Getenv("SEER_FIX_BASE_URL"); v != "" {
		cfg.Clients.Fix.BaseURL = v
	}
	if v := os.Getenv("SEER_PR_BASE_URL"); v != "" {
		cfg.Clients.PR.BaseURL = v
	}
	if v := os.Getenv("SEER_NOTIFY_BASE_URL"); v != "" {
		cfg.Clients.Notify.BaseURL = v
	}
	if v := os.Getenv("SEER_TICKET_BASE_URL"); v != "" {
		cfg.Clients.Ticket.BaseURL = v
	}
	if v := os.Getenv("SEER_TICKET_ENABLED"); v != "" {
		cfg.Clients.Ticket.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SEER_COMMITS_BASE_URL"); v != "" {
		cfg.Clients.Commits.BaseURL = v
	}
	if v := os.Getenv("SEER_COMMITS_TOKEN"); v != "" {
		cfg.Clients.Commits.Token = v
	}
	if v := os.Getenv("SEER_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("SEER_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("SEER_CACHE_SERIES_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.SeriesTTL = d
		}
	}
}
