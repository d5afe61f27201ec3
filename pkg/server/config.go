package server

import "time"

// Config controls the HTTP surface.
type Config struct {
	// Addr is the listen address.
	Addr string

	// BasePath is the deployment path of the application, without a
	// trailing slash.
	BasePath string

	// AllowedOrigins are origins accepted for WebSocket upgrades and
	// cross-origin requests. Empty means same-origin only.
	AllowedOrigins []string

	// TrustedProxies are IPs or CIDRs whose Forwarded headers are
	// believed for client address extraction.
	TrustedProxies []string

	// ReadTimeout and WriteTimeout bound request IO.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// SecureCookies marks the session cookie Secure. Enable behind
	// TLS.
	SecureCookies bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		BasePath:        "/app",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Clone returns a copy of the config with slices duplicated.
func (c Config) Clone() Config {
	out := c
	out.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	out.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	return out
}

// WithAddr returns a copy with the listen address set.
func (c Config) WithAddr(addr string) Config {
	c.Addr = addr
	return c
}

// WithBasePath returns a copy with the deployment path set.
func (c Config) WithBasePath(p string) Config {
	c.BasePath = p
	return c
}

// WithTrustedProxies returns a copy with the proxy allowlist set.
func (c Config) WithTrustedProxies(entries []string) Config {
	c.TrustedProxies = append([]string(nil), entries...)
	return c
}

// WithAllowedOrigins returns a copy with the origin allowlist set.
func (c Config) WithAllowedOrigins(origins []string) Config {
	c.AllowedOrigins = append([]string(nil), origins...)
	return c
}
