package session

import (
	"context"
	"runtime/debug"

	"github.com/loomdev/loom/pkg/app"
)

// Handler is the session lock held for the duration of one request.
// Exactly one handler exists at a time; everything that touches the
// widget tree, registry, or renderer runs under one. Release returns
// the lock and is idempotent.
type Handler struct {
	s        *Session
	released bool

	// onSuspend, if set, runs when a nested event loop suspends this
	// handler, before the lock is released. The server uses it to
	// flush the in-progress response.
	onSuspend func()
}

// Acquire blocks until the session lock is free, the context is done,
// or the session dies.
func (s *Session) Acquire(ctx context.Context) (*Handler, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for s.locked {
		if s.state == Dead {
			return nil, wrapErr(s.cred.String(), "acquire", ErrSessionDead)
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.cond.Wait()
	}
	if s.state == Dead {
		return nil, wrapErr(s.cred.String(), "acquire", ErrSessionDead)
	}
	s.locked = true
	return &Handler{s: s}, nil
}

// TryAcquire takes the session lock only if it is free right now.
// Expiry sweeps use it so a busy session is never blocked on.
func (s *Session) TryAcquire() (*Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Dead {
		return nil, wrapErr(s.cred.String(), "try acquire", ErrSessionDead)
	}
	if s.locked {
		return nil, wrapErr(s.cred.String(), "try acquire", ErrNoIdleHandler)
	}
	s.locked = true
	return &Handler{s: s}, nil
}

// Session returns the held session.
func (h *Handler) Session() *Session { return h.s }

// OnSuspend registers the flush hook run when a nested loop suspends
// this handler.
func (h *Handler) OnSuspend(fn func()) { h.onSuspend = fn }

// Release returns the session lock. Idempotent. When the session died
// while this handler was in flight, the application teardown deferred
// by Kill runs here, still under the lock.
func (h *Handler) Release() {
	if h.released {
		return
	}
	h.released = true
	s := h.s
	if s.Dead() {
		s.teardown()
	}
	s.mu.Lock()
	s.locked = false
	s.cond.Broadcast()
	s.mu.Unlock()
}

// AwaitResume parks this handler until deferred rendering lifts, the
// session dies, or ctx ends, releasing the session lock while parked
// so the resuming event can be dispatched. Used to hold a reply open
// across a deferral.
func (h *Handler) AwaitResume(ctx context.Context) error {
	s := h.s
	if !s.renderer.Deferred() {
		return nil
	}
	c := make(chan struct{})
	s.mu.Lock()
	s.resumeWaiters = append(s.resumeWaiters, c)
	s.locked = false
	s.cond.Broadcast()
	s.mu.Unlock()

	select {
	case <-c:
	case <-ctx.Done():
	}

	s.mu.Lock()
	for s.locked && s.state != Dead {
		s.cond.Wait()
	}
	if s.state == Dead {
		s.mu.Unlock()
		// The lock was never reacquired; this handler is spent and its
		// Release must not touch the lock.
		h.released = true
		return wrapErr(s.cred.String(), "await resume", ErrSessionDead)
	}
	s.locked = true
	s.mu.Unlock()
	return nil
}

// InitApp creates the session's application via factory and runs its
// Init with a context bound to this session. Called once, on the
// request that starts the application. A panic in application code is
// caught here, logged, and reported as ErrAppPanic so the caller can
// kill the session and serve an error.
func (h *Handler) InitApp(factory app.Factory) (err error) {
	s := h.s
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic starting application",
				"panic", rec, "stack", string(debug.Stack()))
			err = wrapErr(s.cred.String(), "app init", ErrAppPanic)
		}
	}()
	application, err := factory(s.env)
	if err != nil {
		return wrapErr(s.cred.String(), "app factory", err)
	}
	s.application = application
	ctx := &app.Context{
		Env:  s.env,
		Tree: s.tree,
		Reg:  s.registry,
		NewLoop: func() app.ModalLoop {
			return s.newLoop(h)
		},
		DeferRendering:  s.DeferRendering,
		ResumeRendering: s.ResumeRendering,
	}
	if err := application.Init(ctx); err != nil {
		return wrapErr(s.cred.String(), "app init", err)
	}
	return nil
}

// ServeScript moves the session out of JustCreated. Only the first
// script request does this.
func (h *Handler) ServeScript() error {
	return wrapErr(h.s.cred.String(), "serve script", h.s.advance(ExpectLoad))
}

// ConfirmLoad records the client's load confirmation, completing the
// bootstrap.
func (h *Handler) ConfirmLoad() error {
	return wrapErr(h.s.cred.String(), "confirm load", h.s.advance(Loaded))
}
