package session

import "time"

// Config controls session lifecycle and limits.
type Config struct {
	// IdleTimeout kills a session with no requests for this long.
	IdleTimeout time.Duration

	// BootstrapTimeout kills a session that never completes the
	// script bootstrap.
	BootstrapTimeout time.Duration

	// SweepInterval is how often the controller scans for expired
	// sessions.
	SweepInterval time.Duration

	// TombstoneTTL is how long a dead session id keeps answering
	// with a reload instead of a plain 404.
	TombstoneTTL time.Duration

	// MaxSessions bounds the total session count, 0 means unlimited.
	MaxSessions int

	// MaxSessionsPerIP bounds sessions per client address, 0 means
	// unlimited.
	MaxSessionsPerIP int

	// AckWindow is how many past update ids an ack may lag behind.
	AckWindow uint64

	// CheckAddress kills a session when the client address changes
	// between requests.
	CheckAddress bool

	// CheckUserAgent kills a session when the user agent changes
	// between requests.
	CheckUserAgent bool
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:      10 * time.Minute,
		BootstrapTimeout: 20 * time.Second,
		SweepInterval:    30 * time.Second,
		TombstoneTTL:     5 * time.Minute,
		MaxSessions:      10000,
		MaxSessionsPerIP: 50,
		AckWindow:        2,
		CheckAddress:     true,
		CheckUserAgent:   true,
	}
}

// Clone returns a copy of the config.
func (c Config) Clone() Config { return c }

// WithIdleTimeout returns a copy with the idle timeout set.
func (c Config) WithIdleTimeout(d time.Duration) Config {
	c.IdleTimeout = d
	return c
}

// WithMaxSessions returns a copy with the session limit set.
func (c Config) WithMaxSessions(n int) Config {
	c.MaxSessions = n
	return c
}

// WithMaxSessionsPerIP returns a copy with the per-address limit set.
func (c Config) WithMaxSessionsPerIP(n int) Config {
	c.MaxSessionsPerIP = n
	return c
}

// WithHijackChecks returns a copy with both anti-hijack checks set.
func (c Config) WithHijackChecks(addr, ua bool) Config {
	c.CheckAddress = addr
	c.CheckUserAgent = ua
	return c
}
