// Package config loads loom.json, the project configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "loom.json"

// Config represents the complete loom.json configuration.
type Config struct {
	// Name is the application name.
	Name string `json:"name,omitempty"`

	// Server contains the HTTP listener configuration.
	Server ServerConfig `json:"server,omitempty"`

	// Session contains session lifecycle configuration.
	Session SessionConfig `json:"session,omitempty"`

	// Log contains logging configuration.
	Log LogConfig `json:"log,omitempty"`
}

// ServerConfig contains the HTTP listener configuration.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `json:"addr,omitempty"`

	// BasePath is the deployment path (default "/app").
	BasePath string `json:"basePath,omitempty"`

	// TrustedProxies lists IPs or CIDRs whose forwarding headers are
	// honored.
	TrustedProxies []string `json:"trustedProxies,omitempty"`

	// AllowedOrigins lists origins accepted for WebSocket upgrades.
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	// SecureCookies marks the session cookie Secure.
	SecureCookies bool `json:"secureCookies,omitempty"`
}

// SessionConfig contains session lifecycle configuration.
type SessionConfig struct {
	// IdleTimeout is the idle session lifetime, e.g. "10m".
	IdleTimeout Duration `json:"idleTimeout,omitempty"`

	// BootstrapTimeout bounds the bootstrap handshake, e.g. "20s".
	BootstrapTimeout Duration `json:"bootstrapTimeout,omitempty"`

	// MaxSessions bounds total sessions, 0 means unlimited.
	MaxSessions int `json:"maxSessions,omitempty"`

	// MaxSessionsPerIP bounds sessions per client address.
	MaxSessionsPerIP int `json:"maxSessionsPerIp,omitempty"`

	// CheckAddress enables the client address hijack check.
	CheckAddress *bool `json:"checkAddress,omitempty"`

	// CheckUserAgent enables the user agent hijack check.
	CheckUserAgent *bool `json:"checkUserAgent,omitempty"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty"`

	// Format is "json" or "text".
	Format string `json:"format,omitempty"`
}

// Duration is a time.Duration that unmarshals from "10m" style
// strings.
type Duration time.Duration

// UnmarshalJSON parses a duration string.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON renders the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Load reads and parses the configuration at path. A missing file
// returns an empty config, not an error; defaults apply downstream.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigFileName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}
