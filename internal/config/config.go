// Package config loads munind settings from defaults, an optional YAML file,
// MUNIND_* environment variables and command line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override
const EnvPrefix = "MUNIND"

// DefaultListen is the loopback address on the munin node port
const DefaultListen = "127.0.0.1:4949"

// Config flag scopes
const (
	ScopeSession = "session"
	ScopeProcess = "process"
)

// Config holds the agent configuration
type Config struct {
	// Listen is the host:port the munin protocol is served on
	Listen string `mapstructure:"listen" yaml:"listen"`

	// Hostname identifies the node in the banner, nodes and version replies
	Hostname string `mapstructure:"hostname" yaml:"hostname"`

	// IdleTimeout closes connections that send nothing for this long; 0 disables
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`

	// MaxConnections caps concurrently served connections; 0 is unlimited
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections"`

	// AcceptRate limits new connections per second; 0 is unlimited
	AcceptRate  float64 `mapstructure:"accept_rate" yaml:"accept_rate"`
	AcceptBurst int     `mapstructure:"accept_burst" yaml:"accept_burst"`

	// MaxLineLength bounds one command line in bytes
	MaxLineLength int `mapstructure:"max_line_length" yaml:"max_line_length"`

	// DirtyConfigScope is "session" or "process"
	DirtyConfigScope string `mapstructure:"dirtyconfig_scope" yaml:"dirtyconfig_scope"`

	// DiskPath is the filesystem reported by the disk-usage graph
	DiskPath string `mapstructure:"disk_path" yaml:"disk_path"`

	Log   LogConfig   `mapstructure:"log" yaml:"log"`
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`
	MDNS  MDNSConfig  `mapstructure:"mdns" yaml:"mdns"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// AdminConfig controls the HTTP listener for /metrics and /healthz
type AdminConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"` // empty disables
}

// MDNSConfig controls advertising the node on the local network
type MDNSConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Service string `mapstructure:"service" yaml:"service"`
}

// SetDefaults registers every key with its default value
func SetDefaults(v *viper.Viper) {
	v.SetDefault("listen", DefaultListen)
	v.SetDefault("hostname", "")
	v.SetDefault("idle_timeout", 5*time.Minute)
	v.SetDefault("max_connections", 64)
	v.SetDefault("accept_rate", 0)
	v.SetDefault("accept_burst", 16)
	v.SetDefault("max_line_length", 4096)
	v.SetDefault("dirtyconfig_scope", ScopeSession)
	v.SetDefault("disk_path", "/")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stderr")
	v.SetDefault("admin.listen", "")
	v.SetDefault("mdns.enabled", false)
	v.SetDefault("mdns.service", "_munin._tcp")
}

// Load reads configuration into v. An explicit path must exist; otherwise
// munind.yaml is looked up in /etc/munind and the working directory.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("munind")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/munind")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if cfg.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("failed to determine hostname: %w", err)
		}
		cfg.Hostname = hostname
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot use
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.Admin.Listen != "" {
		if _, _, err := net.SplitHostPort(c.Admin.Listen); err != nil {
			return fmt.Errorf("invalid admin listen address %q: %w", c.Admin.Listen, err)
		}
	}
	if strings.ContainsAny(c.Hostname, " \t\r\n") {
		return fmt.Errorf("hostname %q must not contain whitespace", c.Hostname)
	}
	if c.IdleTimeout < 0 {
		return errors.New("idle_timeout must not be negative")
	}
	if c.MaxConnections < 0 {
		return errors.New("max_connections must not be negative")
	}
	if c.AcceptRate < 0 {
		return errors.New("accept_rate must not be negative")
	}
	if c.AcceptRate > 0 && c.AcceptBurst < 1 {
		return errors.New("accept_burst must be at least 1 when accept_rate is set")
	}
	if c.MaxLineLength < 64 {
		return errors.New("max_line_length must be at least 64")
	}
	switch c.DirtyConfigScope {
	case ScopeSession, ScopeProcess:
	default:
		return fmt.Errorf("dirtyconfig_scope must be %q or %q, got %q", ScopeSession, ScopeProcess, c.DirtyConfigScope)
	}
	if c.DiskPath == "" {
		return errors.New("disk_path must not be empty")
	}
	if c.MDNS.Enabled && c.MDNS.Service == "" {
		return errors.New("mdns.service must not be empty when mdns is enabled")
	}
	return nil
}
