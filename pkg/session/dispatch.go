package session

import (
	"context"
	"runtime/debug"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loomdev/loom/pkg/app"
	"github.com/loomdev/loom/pkg/dom"
	"github.com/loomdev/loom/pkg/httpx"
	"github.com/loomdev/loom/pkg/protocol"
)

// Invocation is one decoded client signal, ready for dispatch.
type Invocation struct {
	Target    string
	EventType string
	Params    httpx.Params
}

// DecodeSignal splits an encoded signal value into element id and
// event type. ok is false for values without a separator.
func DecodeSignal(encoded string) (id, eventType string, ok bool) {
	i := strings.LastIndexByte(encoded, '.')
	if i <= 0 || i == len(encoded)-1 {
		return "", "", false
	}
	return encoded[:i], encoded[i+1:], true
}

// Keyword signal values that do not name a widget handler.
const (
	// SignalPoll asks only for pending updates.
	SignalPoll = "poll"
	// SignalNone is an explicit client no-op.
	SignalNone = "none"
	// SignalHash reports an internal path change; the new path rides
	// the "_" parameter.
	SignalHash = "hash"
	// SignalUser marks a user-triggered refresh carrying no handler.
	SignalUser = "user"
)

// InvocationsFromParams decodes a request's signal parameters into
// dispatch order: numbered signals first, then plain ones. Keyword
// signals that merely solicit an update produce no invocation;
// malformed values are skipped.
func InvocationsFromParams(p httpx.Params) []Invocation {
	var out []Invocation
	for _, enc := range p.Signals() {
		switch enc {
		case SignalPoll, SignalNone, SignalUser:
			continue
		case SignalHash:
			out = append(out, Invocation{EventType: SignalHash, Params: p})
			continue
		}
		id, et, ok := DecodeSignal(enc)
		if !ok {
			continue
		}
		out = append(out, Invocation{Target: id, EventType: et, Params: p})
	}
	return out
}

// InvocationFromFrame decodes a live-transport signal frame.
func InvocationFromFrame(si *protocol.SignalInvocation) (Invocation, bool) {
	id, et, ok := DecodeSignal(si.Signal)
	if !ok {
		return Invocation{}, false
	}
	p := make(httpx.Params, len(si.Params))
	for _, kv := range si.Params {
		p.Add(kv.Key, kv.Value)
	}
	return Invocation{Target: id, EventType: et, Params: p}, true
}

// Dispatch delivers a batch of invocations to the application. Value
// propagation runs first across the whole batch, so action handlers
// observe current values regardless of arrival order. Stateless
// connections contribute their learned script instead of running a
// handler; the caller appends the returned script to the update so a
// first-time client learns the behavior.
//
// A panic in an application handler does not escape: it is logged with
// its stack, the session is killed, and ErrAppPanic is returned so the
// transport can serve a server error.
//
// The caller must hold the Handler for this session.
func (s *Session) Dispatch(ctx context.Context, invs []Invocation) (learnedJS string, err error) {
	_, span := otel.Tracer("loom/session").Start(ctx, "session.Dispatch",
		trace.WithAttributes(
			attribute.String("session.id", s.cred.String()),
			attribute.Int("session.events", len(invs)),
		))
	defer span.End()
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("panic in event handler",
				"panic", rec, "stack", string(debug.Stack()))
			span.RecordError(ErrAppPanic)
			s.Kill(KillAppPanic)
			learnedJS = ""
			err = wrapErr(s.cred.String(), "dispatch", ErrAppPanic)
		}
	}()

	var ordered []Invocation
	for _, inv := range invs {
		if _, _, changed, ok := s.registry.Lookup(inv.Target, inv.EventType); ok && changed {
			ordered = append(ordered, inv)
		}
	}
	for _, inv := range invs {
		if _, _, changed, ok := s.registry.Lookup(inv.Target, inv.EventType); !ok || !changed {
			ordered = append(ordered, inv)
		}
	}

	metricEventsDispatched.Add(float64(len(invs)))

	var learned strings.Builder
	for _, inv := range ordered {
		if inv.Target == "" && inv.EventType == SignalHash {
			s.env.InternalPath = inv.Params.Get("_")
			continue
		}
		fn, spec, _, ok := s.registry.Lookup(inv.Target, inv.EventType)
		if !ok {
			// The widget may have been removed since the client
			// serialized the event.
			s.log.Debug("dropping event for unknown target",
				"target", inv.Target, "event", inv.EventType)
			continue
		}
		if spec != nil {
			js, lerr := s.slots.Learn(s.renderer, inv.Target, inv.EventType, spec)
			if lerr != nil {
				span.RecordError(lerr)
				return "", wrapErr(s.cred.String(), "learn slot", lerr)
			}
			learned.WriteString(js)
			continue
		}
		if fn != nil {
			fn(app.Event{
				Type:   inv.EventType,
				Sender: s.widgetHandle(inv.Target),
				Params: inv.Params,
			})
		}
		if s.Dead() {
			// A handler killed the session; stop delivering.
			break
		}
	}
	return learned.String(), nil
}

// widgetHandle finds the handle for an element id. Linear in tree
// size; events are rare relative to renders.
func (s *Session) widgetHandle(id string) dom.Handle {
	var found dom.Handle
	search := func(root dom.Handle) {
		s.tree.Walk(root, func(h dom.Handle, w *dom.Widget) {
			if w.ID == id {
				found = h
			}
		})
	}
	search(s.tree.Root())
	if found.IsNil() {
		search(s.tree.Overlay())
	}
	return found
}
