// Package config loads homesync settings with viper.
//
// Precedence, lowest first: defaults, the TOML file, HOMESYNC_* environment
// variables (dots become underscores, so sync.debounce_ms is
// HOMESYNC_SYNC_DEBOUNCE_MS).
package config

import (
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// FileName is the config file looked up when no path is given.
const FileName = "homesync.toml"

// Config is the full configuration.
type Config struct {
	Remote  RemoteConfig  `mapstructure:"remote"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Log     LogConfig     `mapstructure:"log"`
	Session SessionConfig `mapstructure:"session"`
	Server  ServerConfig  `mapstructure:"server"`

	// File is the config file that was read, or "".
	File string `mapstructure:"-"`
}

// RemoteConfig selects the remote state source.
type RemoteConfig struct {
	// URL of a homesync server. Empty means the local server at
	// server.addr.
	URL         string `mapstructure:"url"`
	ReconnectMS int    `mapstructure:"reconnect_ms"`
	// Devices maps generic device keys to per-home remote names,
	// e.g. lamp = "lamp1".
	Devices map[string]string `mapstructure:"devices"`
}

// CacheConfig locates the local cache.
type CacheConfig struct {
	Path   string `mapstructure:"path"`
	Memory bool   `mapstructure:"memory"`
}

// SyncConfig tunes the engine.
type SyncConfig struct {
	DebounceMS     int `mapstructure:"debounce_ms"`
	WriteTimeoutMS int `mapstructure:"write_timeout_ms"`
	ErrorBuffer    int `mapstructure:"error_buffer"`
}

// LogConfig selects the log encoder.
type LogConfig struct {
	JSON    bool `mapstructure:"json"`
	Verbose bool `mapstructure:"verbose"`
}

// SessionConfig locates the session file.
type SessionConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures `homesync serve`.
type ServerConfig struct {
	Addr               string `mapstructure:"addr"`
	Simulate           bool   `mapstructure:"simulate"`
	SimulateIntervalMS int    `mapstructure:"simulate_interval_ms"`
}

// SetDefaults registers the default value of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("remote.url", "")
	v.SetDefault("remote.reconnect_ms", 2000)
	v.SetDefault("remote.devices", map[string]string{})

	v.SetDefault("cache.path", "~/.homesync/cache.db")
	v.SetDefault("cache.memory", false)

	v.SetDefault("sync.debounce_ms", 100)
	v.SetDefault("sync.write_timeout_ms", 5000)
	v.SetDefault("sync.error_buffer", 16)

	v.SetDefault("log.json", false)
	v.SetDefault("log.verbose", false)

	v.SetDefault("session.path", "~/.homesync/session.json")

	v.SetDefault("server.addr", ":8787")
	v.SetDefault("server.simulate", false)
	v.SetDefault("server.simulate_interval_ms", 5000)
}

// Load reads the configuration. An explicit path must exist; without one
// homesync.toml is looked up in the working directory and ~/.homesync,
// and its absence is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HOMESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".homesync"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, errors.Wrap(err, "read config")
			}
		}
	}

	c, err := decode(v)
	if err != nil {
		return nil, err
	}
	c.File = v.ConfigFileUsed()
	return c, nil
}

// Default returns the configuration used when nothing is set.
func Default() (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	return decode(v)
}

// decode unmarshals v and expands the home directory in file paths.
func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	c.Cache.Path = ExpandPath(c.Cache.Path)
	c.Session.Path = ExpandPath(c.Session.Path)
	return &c, nil
}

// ExpandPath replaces a leading ~ with the home directory.
func ExpandPath(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Debounce returns the coalescing window.
func (c SyncConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMS) * time.Millisecond
}

// WriteTimeout returns the per-write deadline.
func (c SyncConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutMS) * time.Millisecond
}

// RemoteURL returns Remote.URL, or the websocket URL of the local server
// when it is empty.
func (c *Config) RemoteURL() string {
	if c.Remote.URL != "" {
		return c.Remote.URL
	}
	host, port, err := net.SplitHostPort(c.Server.Addr)
	if err != nil {
		return "ws://" + c.Server.Addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "ws://" + net.JoinHostPort(host, port)
}

// Reconnect returns the delay between dial attempts.
func (c RemoteConfig) Reconnect() time.Duration {
	return time.Duration(c.ReconnectMS) * time.Millisecond
}

// SimulateInterval returns the period of the simulated sensor feed.
func (c ServerConfig) SimulateInterval() time.Duration {
	return time.Duration(c.SimulateIntervalMS) * time.Millisecond
}
