package config

import (
	"net/url"

	"github.com/cockroachdb/errors"

	"github.com/roach88/homesync/internal/remote"
)

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Sync.DebounceMS < 0 {
		return errors.Newf("sync.debounce_ms must be >= 0, got %d", c.Sync.DebounceMS)
	}
	if c.Sync.WriteTimeoutMS <= 0 {
		return errors.Newf("sync.write_timeout_ms must be > 0, got %d", c.Sync.WriteTimeoutMS)
	}
	if c.Sync.ErrorBuffer < 1 {
		return errors.Newf("sync.error_buffer must be >= 1, got %d", c.Sync.ErrorBuffer)
	}

	if c.Remote.URL != "" {
		u, err := url.Parse(c.Remote.URL)
		if err != nil {
			return errors.Wrap(err, "remote.url")
		}
		switch u.Scheme {
		case "ws", "wss", "http", "https":
		default:
			return errors.WithHint(
				errors.Newf("remote.url has unsupported scheme %q", u.Scheme),
				"use ws://, wss://, http:// or https://",
			)
		}
		if u.Host == "" {
			return errors.Newf("remote.url %q has no host", c.Remote.URL)
		}
	}
	if c.Remote.ReconnectMS <= 0 {
		return errors.Newf("remote.reconnect_ms must be > 0, got %d", c.Remote.ReconnectMS)
	}
	if _, err := c.PathMap(); err != nil {
		return errors.Wrap(err, "remote.devices")
	}

	if !c.Cache.Memory && c.Cache.Path == "" {
		return errors.WithHint(errors.New("cache.path cannot be empty"), "set cache.memory = true to keep state in memory only")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	if c.Server.Simulate && c.Server.SimulateIntervalMS <= 0 {
		return errors.Newf("server.simulate_interval_ms must be > 0 when simulating, got %d", c.Server.SimulateIntervalMS)
	}
	return nil
}

// PathMap builds the remote path map from remote.devices.
func (c *Config) PathMap() (remote.PathMap, error) {
	return remote.NewPathMap(c.Remote.Devices)
}
