package session

import (
	"context"
	"sync"
)

// modalLoop suspends the current handler until a later event quits the
// loop. While suspended, the session lock is free and other requests
// are handled normally; Run reacquires the lock before returning so
// the caller resumes under mutual exclusion. Killing the session
// aborts every suspended loop.
type modalLoop struct {
	s       *Session
	h       *Handler
	done    chan struct{}
	once    sync.Once
	aborted bool
}

func (s *Session) newLoop(h *Handler) *modalLoop {
	return &modalLoop{s: s, h: h, done: make(chan struct{})}
}

// Run suspends the handler and blocks until Quit, abort, or context
// cancellation. On success the handler holds the lock again.
func (l *modalLoop) Run(ctx context.Context) error {
	s := l.s

	s.mu.Lock()
	if s.state == Dead {
		s.mu.Unlock()
		return wrapErr(s.cred.String(), "loop run", ErrLoopAborted)
	}
	s.loops = append(s.loops, l)
	s.mu.Unlock()

	// Flush the suspended request's response before giving up the
	// lock, otherwise the client waits on a reply that never comes.
	if l.h.onSuspend != nil {
		l.h.onSuspend()
	}

	s.mu.Lock()
	s.locked = false
	s.cond.Broadcast()
	s.mu.Unlock()

	select {
	case <-l.done:
	case <-ctx.Done():
		l.remove()
		l.reacquire()
		return ctx.Err()
	}
	if l.aborted {
		return wrapErr(s.cred.String(), "loop run", ErrLoopAborted)
	}
	if err := l.reacquire(); err != nil {
		return err
	}
	return nil
}

// Quit wakes the suspended handler. Safe to call from any event
// handler; repeated calls are no-ops.
func (l *modalLoop) Quit() {
	l.remove()
	l.once.Do(func() { close(l.done) })
}

// abort wakes the loop with failure. Called with the loop already
// removed from the session's list.
func (l *modalLoop) abort() {
	l.aborted = true
	l.once.Do(func() { close(l.done) })
}

func (l *modalLoop) remove() {
	s := l.s
	s.mu.Lock()
	for i, other := range s.loops {
		if other == l {
			s.loops = append(s.loops[:i], s.loops[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

func (l *modalLoop) reacquire() error {
	s := l.s
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.locked && s.state != Dead {
		s.cond.Wait()
	}
	if s.state == Dead {
		return wrapErr(s.cred.String(), "loop resume", ErrLoopAborted)
	}
	s.locked = true
	return nil
}
