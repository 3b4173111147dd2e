// Package config loads alloyctl settings from a TOML or YAML file and the
// environment, and turns them into cluster.Manager options.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/alloy/pkg/cluster"
)

// Environment variables that override file settings.
const (
	EnvNodes       = "ALLOY_NODES" // comma-separated base URLs, replaces [[nodes]]
	EnvMode        = "ALLOY_MODE"
	EnvMaxNodes    = "ALLOY_MAX_NODES"
	EnvCallTimeout = "ALLOY_CALL_TIMEOUT"
	EnvLogLevel    = "ALLOY_LOG_LEVEL"
)

// Duration is a time.Duration written as "30s" or "5m" in config files.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText writes the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the full client configuration. LoadAware and
// RefreshBeforeDispatch map to cluster.WithLoadAware and
// cluster.WithRefreshBeforeDispatch.
type Config struct {
	Mode            string       `toml:"mode" yaml:"mode"`
	SingleStrategy  string       `toml:"single_strategy" yaml:"single_strategy"`
	Merge           string       `toml:"merge" yaml:"merge"`
	Nodes           []NodeConfig `toml:"nodes" yaml:"nodes"`
	Log             LogConfig    `toml:"log" yaml:"log"`
	Health          HealthConfig `toml:"health" yaml:"health"`
	CallTimeout     Duration     `toml:"call_timeout" yaml:"call_timeout"`
	RefreshInterval Duration     `toml:"refresh_interval" yaml:"refresh_interval"`
	MaxNodesToQuery int          `toml:"max_nodes_to_query" yaml:"max_nodes_to_query"`
	MaxParallel     int          `toml:"max_parallel" yaml:"max_parallel"`

	LoadAware             bool `toml:"load_aware" yaml:"load_aware"`
	RefreshBeforeDispatch bool `toml:"refresh_before_dispatch" yaml:"refresh_before_dispatch"`
}

// NodeConfig is one [[nodes]] entry. Weight is a pointer so that an omitted
// weight can default to 1 while an explicit 0 is kept.
type NodeConfig struct {
	Weight  *float64 `toml:"weight" yaml:"weight"`
	BaseURL string   `toml:"base_url" yaml:"base_url"`
	Name    string   `toml:"name" yaml:"name"`
	Tags    []string `toml:"tags" yaml:"tags"`
}

// HealthConfig mirrors cluster.HealthPolicy.
type HealthConfig struct {
	Decay          float64 `toml:"decay" yaml:"decay"`
	Floor          float64 `toml:"floor" yaml:"floor"`
	UnhealthyAfter int     `toml:"unhealthy_after" yaml:"unhealthy_after"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`   // debug, info, warn, error
	Format string `toml:"format" yaml:"format"` // text or json
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	policy := cluster.DefaultHealthPolicy()
	return &Config{
		Mode:            string(cluster.ModeControlledQuerying),
		SingleStrategy:  string(cluster.StrategyWeightedRandom),
		Merge:           string(cluster.MergeFirstSeen),
		MaxNodesToQuery: cluster.DefaultMaxNodesToQuery,
		MaxParallel:     cluster.DefaultMaxParallel,
		CallTimeout:     Duration{cluster.DefaultCallTimeout},
		Health: HealthConfig{
			Decay:          policy.Decay,
			Floor:          policy.Floor,
			UnhealthyAfter: policy.UnhealthyAfter,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the file at path (TOML unless the extension is .yaml or .yml),
// applies environment overrides and validates the result. An empty path
// skips the file and starts from Default.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.Getenv)
}

// LoadWithEnv is Load with an explicit environment lookup.
func LoadWithEnv(path string, getenv func(string) string) (*Config, error) {
	cfg, err := Read(path, getenv)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is LoadWithEnv without validation, for callers that apply further
// overrides (command-line flags) before calling Validate themselves.
func Read(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	default:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvNodes); v != "" {
		c.Nodes = nil
		for _, url := range strings.Split(v, ",") {
			if url = strings.TrimSpace(url); url != "" {
				c.Nodes = append(c.Nodes, NodeConfig{BaseURL: url})
			}
		}
	}
	if v := getenv(EnvMode); v != "" {
		c.Mode = v
	}
	if v := getenv(EnvMaxNodes); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxNodes, err)
		}
		c.MaxNodesToQuery = n
	}
	if v := getenv(EnvCallTimeout); v != "" {
		if err := c.CallTimeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s: %w", EnvCallTimeout, err)
		}
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks every setting that does not need the node list to be
// resolved. Node-level rules (unique URLs, weights) are enforced again by
// cluster.New.
func (c *Config) Validate() error {
	if len(c.Nodes) == 0 {
		return fmt.Errorf("no nodes configured: add [[nodes]] entries or set %s", EnvNodes)
	}
	if _, err := cluster.ParseQueryMode(c.Mode); err != nil {
		return err
	}
	if _, err := cluster.ParseSingleStrategy(c.SingleStrategy); err != nil {
		return err
	}
	if _, err := cluster.ParseMergePolicy(c.Merge); err != nil {
		return err
	}
	if c.MaxNodesToQuery < 1 {
		return fmt.Errorf("max_nodes_to_query must be at least 1, got %d", c.MaxNodesToQuery)
	}
	if c.CallTimeout.Duration <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	if c.RefreshInterval.Duration < 0 {
		return fmt.Errorf("refresh_interval must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// ClusterNodes converts the [[nodes]] entries, defaulting weights to 1.
func (c *Config) ClusterNodes() []cluster.NodeConfig {
	out := make([]cluster.NodeConfig, 0, len(c.Nodes))
	for _, n := range c.Nodes {
		weight := 1.0
		if n.Weight != nil {
			weight = *n.Weight
		}
		out = append(out, cluster.NodeConfig{
			BaseURL: n.BaseURL,
			Name:    n.Name,
			Weight:  weight,
			Tags:    n.Tags,
		})
	}
	return out
}

// ManagerOptions returns the cluster options described by the config.
// Validate must have succeeded.
func (c *Config) ManagerOptions(logger *slog.Logger) []cluster.Option {
	mode, _ := cluster.ParseQueryMode(c.Mode)
	strategy, _ := cluster.ParseSingleStrategy(c.SingleStrategy)
	merge, _ := cluster.ParseMergePolicy(c.Merge)

	opts := []cluster.Option{
		cluster.WithMode(mode),
		cluster.WithSingleStrategy(strategy),
		cluster.WithMergePolicy(merge),
		cluster.WithMaxNodesToQuery(c.MaxNodesToQuery),
		cluster.WithCallTimeout(c.CallTimeout.Duration),
		cluster.WithHealthPolicy(cluster.HealthPolicy{
			Decay:          c.Health.Decay,
			Floor:          c.Health.Floor,
			UnhealthyAfter: c.Health.UnhealthyAfter,
		}),
	}
	if c.LoadAware {
		opts = append(opts, cluster.WithLoadAware())
	}
	if c.RefreshBeforeDispatch {
		opts = append(opts, cluster.WithRefreshBeforeDispatch())
	}
	if c.MaxParallel > 0 {
		opts = append(opts, cluster.WithMaxParallel(c.MaxParallel))
	}
	if logger != nil {
		opts = append(opts, cluster.WithLogger(logger))
	}
	return opts
}

// NewManager builds a cluster.Manager from the config.
func (c *Config) NewManager(logger *slog.Logger) (*cluster.Manager, error) {
	return cluster.New(c.ClusterNodes(), c.ManagerOptions(logger)...)
}

// Logger builds the structured logger described by [log], writing to w.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var handler slog.Handler
	if strings.EqualFold(c.Log.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
	return level, nil
}
