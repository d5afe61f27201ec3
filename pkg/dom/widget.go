package dom

// Widget is one server-side DOM element. Mutations are recorded as
// pending operations; the renderer drains them into the next update
// batch. A widget the client has never seen renders as HTML instead.
type Widget struct {
	// ID is the DOM element id, unique per session.
	ID  string
	Tag string

	text  string
	attrs map[string]string

	parent   Handle
	children []Handle
	self     Handle

	// events lists the event types exposed to the client, in the
	// order they were connected.
	events []string

	rendered bool // client has the element
	pending  []Op // recorded since last flush
}

// NewWidget creates a widget with the given element id and tag.
func NewWidget(id, tag string) *Widget {
	return &Widget{ID: id, Tag: tag, attrs: make(map[string]string)}
}

// Self returns the widget's own handle.
func (w *Widget) Self() Handle { return w.self }

// Parent returns the parent handle, or the zero handle when detached.
func (w *Widget) Parent() Handle { return w.parent }

// Children returns the child handles in document order.
func (w *Widget) Children() []Handle { return w.children }

// Text returns the widget's text content.
func (w *Widget) Text() string { return w.text }

// Attr returns the attribute value and whether it is set.
func (w *Widget) Attr(key string) (string, bool) {
	v, ok := w.attrs[key]
	return v, ok
}

// Events returns the event types the widget exposes.
func (w *Widget) Events() []string { return w.events }

// ExposeEvent marks an event type as client-visible. Repeated calls
// for the same type are idempotent.
func (w *Widget) ExposeEvent(eventType string) {
	for _, e := range w.events {
		if e == eventType {
			return
		}
	}
	w.events = append(w.events, eventType)
}

// SetText replaces the text content, recording the change.
func (w *Widget) SetText(s string) {
	if w.text == s {
		return
	}
	w.text = s
	w.record(Op{Kind: OpSetText, Target: w.ID, Value: s})
}

// SetAttr sets an attribute, recording the change.
func (w *Widget) SetAttr(key, value string) {
	if v, ok := w.attrs[key]; ok && v == value {
		return
	}
	w.attrs[key] = value
	w.record(Op{Kind: OpSetAttr, Target: w.ID, Key: key, Value: value})
}

// RemoveAttr unsets an attribute, recording the change.
func (w *Widget) RemoveAttr(key string) {
	if _, ok := w.attrs[key]; !ok {
		return
	}
	delete(w.attrs, key)
	w.record(Op{Kind: OpRemoveAttr, Target: w.ID, Key: key})
}

// Eval records a raw script tied to this widget's next update.
func (w *Widget) Eval(js string) {
	w.record(Op{Kind: OpEvalJS, Value: js})
}

func (w *Widget) record(op Op) {
	if !w.rendered {
		// The element will be rendered from current state anyway.
		return
	}
	w.pending = append(w.pending, op)
}

// HasPending reports whether the widget recorded changes since the
// last flush.
func (w *Widget) HasPending() bool { return len(w.pending) > 0 }

// TakePending returns and clears the recorded operations.
func (w *Widget) TakePending() []Op {
	ops := w.pending
	w.pending = nil
	return ops
}

// DiscardPending drops recorded operations without emitting them.
func (w *Widget) DiscardPending() { w.pending = nil }

// RestorePending puts previously taken operations back ahead of any
// recorded since.
func (w *Widget) RestorePending(ops []Op) {
	if len(ops) == 0 {
		return
	}
	w.pending = append(append([]Op(nil), ops...), w.pending...)
}

// Rendered reports whether the client has the element.
func (w *Widget) Rendered() bool { return w.rendered }

// MarkRendered records that the client now has the element.
func (w *Widget) MarkRendered() { w.rendered = true }

// MarkUnrendered records that the client no longer has the element,
// dropping any pending operations.
func (w *Widget) MarkUnrendered() {
	w.rendered = false
	w.pending = nil
}
