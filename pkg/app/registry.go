package app

import (
	"github.com/loomdev/loom/pkg/dom"
	"github.com/loomdev/loom/pkg/httpx"
)

// Event is one client event delivered to a handler.
type Event struct {
	// Type is the event type, e.g. "clicked" or "changed".
	Type string
	// Sender is the widget the event fired on.
	Sender dom.Handle
	// Params is the event payload the client serialized.
	Params httpx.Params
}

// EventHandler consumes one event while its handler holds the session.
type EventHandler func(ev Event)

// StatelessSpec describes a connection whose visible effect does not
// depend on application state. The framework invokes the pair once to
// learn the JavaScript the effect produces, undoes it, and serves the
// cached script to the client so future events apply instantly without
// a round trip.
type StatelessSpec struct {
	// Invoke applies the effect.
	Invoke func()
	// Undo restores the prior state exactly.
	Undo func()
}

type binding struct {
	handler   EventHandler
	stateless *StatelessSpec
	// changed marks value-propagation connections that must run
	// before action connections within one event batch.
	changed bool
}

// Registry maps element-id/event-type pairs to handlers. Not safe for
// concurrent use; the session handler lock serializes access.
type Registry struct {
	bindings map[string]*binding
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]*binding)}
}

func key(id, eventType string) string { return id + "." + eventType }

// Connect binds fn to an event on w, exposing the event type on the
// widget. A second Connect for the same pair replaces the first.
func (r *Registry) Connect(w *dom.Widget, eventType string, fn EventHandler) {
	w.ExposeEvent(eventType)
	r.bindings[key(w.ID, eventType)] = &binding{handler: fn}
}

// ConnectChanged binds a value-propagation handler. Within one event
// batch all changed handlers run before any plain handlers, so action
// handlers observe up-to-date values.
func (r *Registry) ConnectChanged(w *dom.Widget, eventType string, fn EventHandler) {
	w.ExposeEvent(eventType)
	r.bindings[key(w.ID, eventType)] = &binding{handler: fn, changed: true}
}

// ConnectStateless binds a learnable connection. The handler runs
// server side only during learning; afterwards the cached script is
// the client-side behavior.
func (r *Registry) ConnectStateless(w *dom.Widget, eventType string, spec StatelessSpec) {
	w.ExposeEvent(eventType)
	r.bindings[key(w.ID, eventType)] = &binding{stateless: &spec}
}

// Disconnect removes the binding for the pair, if any.
func (r *Registry) Disconnect(id, eventType string) {
	delete(r.bindings, key(id, eventType))
}

// Lookup returns the handler bound to the pair. For stateless
// connections the handler is nil and spec is set.
func (r *Registry) Lookup(id, eventType string) (fn EventHandler, spec *StatelessSpec, changed, ok bool) {
	b, ok := r.bindings[key(id, eventType)]
	if !ok {
		return nil, nil, false, false
	}
	return b.handler, b.stateless, b.changed, true
}

// Len returns the number of bindings.
func (r *Registry) Len() int { return len(r.bindings) }
