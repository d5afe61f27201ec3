// Package app defines what an application built on the framework
// implements: a factory producing one Application per session, an
// Environment describing the client, and an event registry binding
// widget events to handlers.
package app

import (
	"context"

	"github.com/loomdev/loom/pkg/dom"
	"github.com/loomdev/loom/pkg/httpx"
)

// Application is one user session's application instance. Init builds
// the initial widget tree; Destroy releases application resources when
// the session dies.
type Application interface {
	Init(ctx *Context) error
	Destroy()
}

// Factory creates the Application for a new session.
type Factory func(env *Environment) (Application, error)

// Environment describes the client at session creation time. It is
// immutable once the application has started.
type Environment struct {
	UserAgent string
	ClientIP  string
	Locale    string
	// Ajax reports whether the client runs the script bootstrap. It is
	// settled by the request that starts the application: true for the
	// script path, false for the plain-HTML fallback, which re-renders
	// the full page on every event.
	Ajax bool
	// Params are the parameters of the bootstrap request.
	Params httpx.Params
	// InternalPath is the application path after the deployment
	// prefix.
	InternalPath string
}

// ModalLoop runs a nested event loop. Run blocks the calling handler
// until Quit is called from a later event, or returns an error when
// the session dies underneath it.
type ModalLoop interface {
	Run(ctx context.Context) error
	Quit()
}

// Context is the application's view of its session, valid only while
// a handler holds the session.
type Context struct {
	Env  *Environment
	Tree *dom.Tree
	Reg  *Registry

	// NewLoop creates a modal loop bound to the session.
	NewLoop func() ModalLoop

	// DeferRendering postpones outbound updates until the matching
	// ResumeRendering; pairs nest. Used around multi-step mutations
	// that must not be observed half done, for example while an
	// outbound fetch is pending.
	DeferRendering  func()
	ResumeRendering func()
}

// Exec runs fn and then blocks in a nested event loop until the loop
// is quit. Events keep being dispatched while blocked.
func (c *Context) Exec(ctx context.Context, fn func(loop ModalLoop)) error {
	loop := c.NewLoop()
	fn(loop)
	return loop.Run(ctx)
}
