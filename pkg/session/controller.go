package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/loomdev/loom/pkg/app"
)

// Controller owns the session table. Its lock only guards the table
// itself; per-session state is guarded by each session's handler
// lock, so table operations never wait on application code.
type Controller struct {
	cfg Config
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	perIP    map[string]int

	// tombstones remembers recently dead session ids so a stale tab
	// can be told to reload instead of getting a bare not-found.
	tombstones *gocache.Cache

	stop chan struct{}
	done chan struct{}
}

// NewController creates a controller and starts its expiry sweep.
func NewController(cfg Config, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:        cfg,
		log:        logger.With("component", "controller"),
		sessions:   make(map[string]*Session),
		perIP:      make(map[string]int),
		tombstones: gocache.New(cfg.TombstoneTTL, cfg.TombstoneTTL),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Create builds a new session for env, enforcing the global and
// per-address limits.
func (c *Controller) Create(env *app.Environment) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.MaxSessions > 0 && len(c.sessions) >= c.cfg.MaxSessions {
		metricSessionsRejected.WithLabelValues("global_limit").Inc()
		return nil, ErrTooManySessions
	}
	if c.cfg.MaxSessionsPerIP > 0 && c.perIP[env.ClientIP] >= c.cfg.MaxSessionsPerIP {
		metricSessionsRejected.WithLabelValues("ip_limit").Inc()
		c.log.Warn("per-address session limit hit", "client_ip", env.ClientIP)
		return nil, ErrTooManySessions
	}

	s := New(c.cfg, env, c.log)
	s.onDead = c.onSessionDead
	c.sessions[s.cred.String()] = s
	c.perIP[env.ClientIP]++
	metricSessionsCreated.Inc()
	metricSessionsActive.Set(float64(len(c.sessions)))
	c.log.Info("session created", "session_id", s.cred.String(), "client_ip", env.ClientIP)
	return s, nil
}

// Lookup resolves a presented credential. A recently dead session
// yields ErrSessionDead so the caller can tell the client to reload;
// an unknown id yields ErrSessionNotFound.
func (c *Controller) Lookup(presented string) (*Session, error) {
	c.mu.RLock()
	s, ok := c.sessions[presented]
	c.mu.RUnlock()
	if ok {
		if err := s.Authorize(CredentialFromString(presented)); err != nil {
			return nil, err
		}
		return s, nil
	}
	if _, dead := c.tombstones.Get(presented); dead {
		return nil, ErrSessionDead
	}
	return nil, ErrSessionNotFound
}

// Len returns the number of live sessions.
func (c *Controller) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// onSessionDead runs from Session.Kill, after application teardown.
func (c *Controller) onSessionDead(s *Session, reason KillReason) {
	id := s.cred.String()
	c.mu.Lock()
	if _, ok := c.sessions[id]; ok {
		delete(c.sessions, id)
		if ip := s.clientIP; c.perIP[ip] > 1 {
			c.perIP[ip]--
		} else {
			delete(c.perIP, ip)
		}
	}
	n := len(c.sessions)
	c.mu.Unlock()

	c.tombstones.SetDefault(id, reason)
	metricSessionsKilled.WithLabelValues(reason.String()).Inc()
	metricSessionsActive.Set(float64(n))
}

func (c *Controller) sweepLoop() {
	defer close(c.done)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.sweep(now)
		}
	}
}

// sweep reaps expired sessions. A session whose lock is busy is
// skipped and re-examined next round. A session still in ExpectLoad
// when the bootstrap grace period runs out is not killed: the load
// confirmation is treated as received and the session moves to Loaded,
// falling under the idle timeout from then on.
func (c *Controller) sweep(now time.Time) {
	c.mu.RLock()
	expired := make([]*Session, 0)
	for _, s := range c.sessions {
		if s.Expired(now) {
			expired = append(expired, s)
		}
	}
	c.mu.RUnlock()

	for _, s := range expired {
		h, err := s.TryAcquire()
		if err != nil {
			continue
		}
		switch s.State() {
		case JustCreated:
			s.Kill(KillBootstrapFailed)
		case ExpectLoad:
			if err := h.ConfirmLoad(); err == nil {
				s.Touch()
			}
		default:
			s.Kill(KillTimeout)
		}
		h.Release()
	}
	if len(expired) > 0 {
		c.log.Debug("expiry sweep", "expired", len(expired))
	}
}

// Shutdown kills every session and stops the sweep loop.
func (c *Controller) Shutdown(ctx context.Context) error {
	close(c.stop)

	c.mu.RLock()
	all := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		all = append(all, s)
	}
	c.mu.RUnlock()

	for _, s := range all {
		s.Kill(KillServerShutdown)
	}

	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
