// Package config loads the archiver configuration.
//
// Precedence, highest first: command-line flags, environment variables
// (ARCHIVER_*, with "." replaced by "_", e.g. ARCHIVER_NETWORK_LISTEN), the
// YAML config file, then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"xdao.co/archiver/internal/logging"
)

const envPrefix = "ARCHIVER"

type Config struct {
	// Dir is the root directory holding one subdirectory per archive.
	Dir string `mapstructure:"dir" yaml:"dir"`

	Root        RootConfig        `mapstructure:"root" yaml:"root"`
	Replication ReplicationConfig `mapstructure:"replication" yaml:"replication"`
	Network     NetworkConfig     `mapstructure:"network" yaml:"network"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics" yaml:"metrics"`
}

// RootConfig controls the archive that publishes the list of managed keys.
type RootConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

type ReplicationConfig struct {
	// Live keeps archives syncing with peers after the first update.
	Live bool `mapstructure:"live" yaml:"live"`
	// MaxConcurrentOpens bounds how many archives start opens at once.
	MaxConcurrentOpens int `mapstructure:"max_concurrent_opens" yaml:"max_concurrent_opens"`
}

type NetworkConfig struct {
	// Listen is the swarm's gRPC address. Empty disables serving.
	Listen string `mapstructure:"listen" yaml:"listen"`
	// Peers are swarm addresses archives sync from.
	Peers        []string      `mapstructure:"peers" yaml:"peers"`
	SyncInterval time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	RPCTimeout   time.Duration `mapstructure:"rpc_timeout" yaml:"rpc_timeout"`
	// JoinTimeout bounds each network join; zero means no limit.
	JoinTimeout time.Duration `mapstructure:"join_timeout" yaml:"join_timeout"`
}

type LoggingConfig struct {
	// Mode is one of prod, dev, nop.
	Mode string `mapstructure:"mode" yaml:"mode"`
}

type MetricsConfig struct {
	// Listen is the /metrics HTTP address. Empty disables it.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Dir:  "~/.archiver",
		Root: RootConfig{Enabled: false},
		Replication: ReplicationConfig{
			Live:               true,
			MaxConcurrentOpens: 8,
		},
		Network: NetworkConfig{
			Listen:       ":3282",
			SyncInterval: 30 * time.Second,
			DialTimeout:  5 * time.Second,
			RPCTimeout:   10 * time.Second,
			JoinTimeout:  30 * time.Second,
		},
		Logging: LoggingConfig{Mode: logging.ModeProd},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"dir":    "dir",
	"log":    "logging.mode",
	"listen": "network.listen",
	"peer":   "network.peers",
}

// Load reads configPath (which may not exist) and applies environment
// variables and any of the flags in flags that were set. An empty configPath
// uses DefaultPath. The result is validated and has Dir expanded.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath == "" {
		configPath = DefaultPath()
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	dir, err := ExpandHome(cfg.Dir)
	if err != nil {
		return nil, err
	}
	cfg.Dir = dir
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("dir", d.Dir)
	v.SetDefault("root.enabled", d.Root.Enabled)
	v.SetDefault("replication.live", d.Replication.Live)
	v.SetDefault("replication.max_concurrent_opens", d.Replication.MaxConcurrentOpens)
	v.SetDefault("network.listen", d.Network.Listen)
	v.SetDefault("network.peers", d.Network.Peers)
	v.SetDefault("network.sync_interval", d.Network.SyncInterval)
	v.SetDefault("network.dial_timeout", d.Network.DialTimeout)
	v.SetDefault("network.rpc_timeout", d.Network.RPCTimeout)
	v.SetDefault("network.join_timeout", d.Network.JoinTimeout)
	v.SetDefault("logging.mode", d.Logging.Mode)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

func (c *Config) Validate() error {
	if c.Dir == "" {
		return errors.New("config: dir is required")
	}
	if c.Replication.MaxConcurrentOpens <= 0 {
		return fmt.Errorf("config: replication.max_concurrent_opens must be positive, got %d", c.Replication.MaxConcurrentOpens)
	}
	for name, d := range map[string]time.Duration{
		"network.sync_interval": c.Network.SyncInterval,
		"network.dial_timeout":  c.Network.DialTimeout,
		"network.rpc_timeout":   c.Network.RPCTimeout,
		"network.join_timeout":  c.Network.JoinTimeout,
	} {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative, got %s", name, d)
		}
	}
	for i, p := range c.Network.Peers {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("config: network.peers[%d] is empty", i)
		}
	}
	if !logging.Valid(c.Logging.Mode) {
		return fmt.Errorf("config: logging.mode must be one of %s, got %q", strings.Join(logging.Modes, ", "), c.Logging.Mode)
	}
	return nil
}

// Save writes c to path as YAML, creating parent directories.
func Save(c *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// ExpandHome resolves a leading "~" to the user's home directory and makes
// the path absolute.
func ExpandHome(p string) (string, error) {
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("config: expand %s: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if p == "" {
		return "", nil
	}
	return filepath.Abs(p)
}

// Dir is the directory holding the default config file: $XDG_CONFIG_HOME/archiver
// or ~/.config/archiver.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "archiver")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "archiver")
}

func DefaultPath() string { return filepath.Join(Dir(), "config.yaml") }
