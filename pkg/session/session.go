// Package session implements the server's core: one Session per
// browser tab, a state machine gating what each request may do, a
// renderer that turns widget mutations into acknowledged update
// batches, and a dispatcher delivering client events to application
// handlers. All application code runs while a Handler holds the
// session lock, so applications never see concurrency.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/loomdev/loom/pkg/app"
	"github.com/loomdev/loom/pkg/dom"
	"github.com/loomdev/loom/pkg/httpx"
	"github.com/loomdev/loom/pkg/resource"
)

// State is the session lifecycle phase. Transitions only move
// forward; Dead is absorbing.
type State uint8

const (
	// JustCreated: the bootstrap page was served, no script ran yet.
	JustCreated State = iota
	// ExpectLoad: the script was served, waiting for the load
	// confirmation.
	ExpectLoad
	// Loaded: the client is fully interactive.
	Loaded
	// Dead: the session is terminated. Nothing revives it.
	Dead
)

// String returns the string representation of the State.
func (s State) String() string {
	switch s {
	case JustCreated:
		return "JustCreated"
	case ExpectLoad:
		return "ExpectLoad"
	case Loaded:
		return "Loaded"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// KillReason explains why a session died.
type KillReason uint8

const (
	KillTimeout KillReason = iota
	KillHijack
	KillAppQuit
	KillAppPanic
	KillServerShutdown
	KillBootstrapFailed
	KillEvicted
)

// String returns the string representation of the KillReason.
func (r KillReason) String() string {
	switch r {
	case KillTimeout:
		return "timeout"
	case KillHijack:
		return "hijack"
	case KillAppQuit:
		return "app-quit"
	case KillAppPanic:
		return "app-panic"
	case KillServerShutdown:
		return "server-shutdown"
	case KillBootstrapFailed:
		return "bootstrap-failed"
	case KillEvicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// Session is one browser tab's server-side state. All fields below mu
// are guarded by the handler lock, not mu itself; mu only guards the
// lock/state bookkeeping.
type Session struct {
	cred Credential
	cfg  Config
	log  *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	locked   bool
	state    State
	reason   KillReason
	tornDown bool
	created  time.Time
	seen     time.Time

	// resumeWaiters are handlers parked in AwaitResume; closed when
	// deferred rendering lifts or the session dies.
	resumeWaiters []chan struct{}

	// push, when set, is the live transport's callback for delivering
	// updates that became collectable outside a client request.
	push func()

	// Identity pinned at creation for anti-hijack checks.
	userAgent string
	clientIP  string

	// Guarded by the handler lock.
	env           *app.Environment
	application   app.Application
	tree          *dom.Tree
	registry      *app.Registry
	resources     *resource.Registry
	continuations *httpx.ContinuationStore
	renderer      *Renderer
	slots         *slotCache
	loops         []*modalLoop

	// onDead, if set, runs once when the session dies, after the
	// application is destroyed. Set by the controller.
	onDead func(*Session, KillReason)
}

// New creates a session in JustCreated for the given environment.
func New(cfg Config, env *app.Environment, logger *slog.Logger) *Session {
	cred := NewCredential()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cred:      cred,
		cfg:       cfg,
		log:       logger.With("component", "session", "session_id", cred.String()),
		state:     JustCreated,
		created:   time.Now(),
		seen:      time.Now(),
		userAgent: env.UserAgent,
		clientIP:  env.ClientIP,
		env:       env,
	}
	s.cond = sync.NewCond(&s.mu)
	s.tree = dom.NewTree()
	s.registry = app.NewRegistry()
	s.resources = resource.NewRegistry()
	s.continuations = httpx.NewContinuationStore()
	s.renderer = newRenderer(s.tree, cfg.AckWindow)
	s.slots = newSlotCache()
	s.tree.OnDirty = s.renderer.MarkDirty
	return s
}

// Credential returns the session's capability token.
func (s *Session) Credential() Credential { return s.cred }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Env returns the environment captured at creation.
func (s *Session) Env() *app.Environment { return s.env }

// Tree returns the session's widget tree. Callers must hold a
// Handler.
func (s *Session) Tree() *dom.Tree { return s.tree }

// Registry returns the event registry. Callers must hold a Handler.
func (s *Session) Registry() *app.Registry { return s.registry }

// Resources returns the resource registry. Callers must hold a
// Handler.
func (s *Session) Resources() *resource.Registry { return s.resources }

// Renderer returns the session's renderer. Callers must hold a
// Handler.
func (s *Session) Renderer() *Renderer { return s.renderer }

// Continuations returns the session's resource continuation store.
func (s *Session) Continuations() *httpx.ContinuationStore { return s.continuations }

// InvalidateSlot drops a learned stateless script so the next event
// relearns it. Callers must hold a Handler.
func (s *Session) InvalidateSlot(id, eventType string) {
	s.slots.Invalidate(id, eventType)
}

// DeferRendering suppresses outbound updates until a matching
// ResumeRendering; pairs nest. Application code uses it to keep a
// multi-step mutation from being flushed half done. Callers must hold
// a Handler.
func (s *Session) DeferRendering() { s.renderer.DeferRendering() }

// ResumeRendering lifts one DeferRendering. When the outermost pair
// closes, replies held open for this session are released and the live
// transport, if attached, pushes the accumulated update. Callers must
// hold a Handler.
func (s *Session) ResumeRendering() {
	s.renderer.ResumeRendering()
	if s.renderer.Deferred() {
		return
	}
	s.wakeResumeWaiters()
	s.mu.Lock()
	push := s.push
	s.mu.Unlock()
	if push != nil && s.renderer.DirtyCount() > 0 {
		push()
	}
}

func (s *Session) wakeResumeWaiters() {
	s.mu.Lock()
	ws := s.resumeWaiters
	s.resumeWaiters = nil
	s.mu.Unlock()
	for _, c := range ws {
		close(c)
	}
}

// SetPush attaches the live transport's push callback. It runs under
// the handler lock of whoever resumed rendering. Pass nil to detach.
func (s *Session) SetPush(fn func()) {
	s.mu.Lock()
	s.push = fn
	s.mu.Unlock()
}

// Touch records client activity for expiry accounting.
func (s *Session) Touch() {
	s.mu.Lock()
	s.seen = time.Now()
	s.mu.Unlock()
}

// Expired reports whether the session has outlived its timeout at
// instant now.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Dead {
		return false
	}
	if s.state == JustCreated || s.state == ExpectLoad {
		return now.Sub(s.created) > s.cfg.BootstrapTimeout
	}
	return now.Sub(s.seen) > s.cfg.IdleTimeout
}

// advance moves the state machine forward. Backward transitions are
// rejected; anything from Dead is rejected.
func (s *Session) advance(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Dead || to <= s.state {
		return ErrInvalidTransition
	}
	s.log.Debug("state transition", "from", s.state.String(), "to", to.String())
	s.state = to
	return nil
}

// CheckClient verifies the request's client identity against the one
// pinned at creation. A mismatch kills the session and returns
// ErrForbidden.
func (s *Session) CheckClient(userAgent, clientIP string) error {
	s.mu.Lock()
	uaBad := s.cfg.CheckUserAgent && userAgent != s.userAgent
	ipBad := s.cfg.CheckAddress && clientIP != s.clientIP
	s.mu.Unlock()
	if uaBad || ipBad {
		s.log.Warn("client identity changed, killing session",
			"ua_changed", uaBad, "ip_changed", ipBad)
		s.Kill(KillHijack)
		return wrapErr(s.cred.String(), "check client", ErrForbidden)
	}
	return nil
}

// Authorize compares a presented credential. ErrForbidden on
// mismatch; the session survives, unlike a hijack.
func (s *Session) Authorize(presented Credential) error {
	if !s.cred.Equal(presented) {
		return wrapErr(s.cred.String(), "authorize", ErrForbidden)
	}
	return nil
}

// Kill terminates the session. Idempotent; the first call wins. Any
// waiters on the session lock and any nested event loops wake up and
// fail. Application teardown honors the handler lock: when a handler
// is in flight, Destroy is deferred to that handler's Release instead
// of racing the code it is running.
func (s *Session) Kill(reason KillReason) {
	s.mu.Lock()
	if s.state == Dead {
		s.mu.Unlock()
		return
	}
	s.state = Dead
	s.reason = reason
	loops := s.loops
	s.loops = nil
	waiters := s.resumeWaiters
	s.resumeWaiters = nil
	busy := s.locked
	if !busy {
		s.locked = true
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	s.log.Info("session killed", "reason", reason.String())
	for _, l := range loops {
		l.abort()
	}
	for _, c := range waiters {
		close(c)
	}
	if !busy {
		s.teardown()
		s.mu.Lock()
		s.locked = false
		s.cond.Broadcast()
		s.mu.Unlock()
	}
	if s.onDead != nil {
		s.onDead(s, reason)
	}
}

// teardown destroys the application and drops pending continuations.
// Runs once; the caller must hold the handler lock.
func (s *Session) teardown() {
	s.mu.Lock()
	done := s.tornDown
	s.tornDown = true
	s.mu.Unlock()
	if done {
		return
	}
	if s.application != nil {
		s.application.Destroy()
		s.application = nil
	}
	s.continuations.Clear()
}

// Dead reports whether the session is terminated.
func (s *Session) Dead() bool { return s.State() == Dead }

// KilledBecause returns the kill reason, valid once Dead.
func (s *Session) KilledBecause() KillReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}
