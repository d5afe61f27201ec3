package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound means no live session matches the credential.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrSessionDead means the session exists only as a tombstone.
	ErrSessionDead = errors.New("session: dead")

	// ErrForbidden means the credential or origin check failed.
	ErrForbidden = errors.New("session: forbidden")

	// ErrBadAck means the acknowledged update id is outside the
	// accepted window.
	ErrBadAck = errors.New("session: ack outside window")

	// ErrTooManySessions means a session limit was hit.
	ErrTooManySessions = errors.New("session: limit exceeded")

	// ErrNoIdleHandler means an internal operation needed the session
	// lock but could not take it without blocking forever.
	ErrNoIdleHandler = errors.New("session: no idle handler available")

	// ErrLoopAborted means a nested event loop was woken because the
	// session died underneath it.
	ErrLoopAborted = errors.New("session: event loop aborted")

	// ErrAppPanic means application code panicked; the session is
	// killed and the panic reported as a server error.
	ErrAppPanic = errors.New("session: application panicked")

	// ErrInvalidTransition means a request arrived that the session
	// state cannot accept.
	ErrInvalidTransition = errors.New("session: invalid state transition")
)

// Error wraps a session-scoped failure with its session id.
type Error struct {
	SessionID string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(sessionID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{SessionID: sessionID, Op: op, Err: err}
}
