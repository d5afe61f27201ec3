package session

import (
	"sort"
	"strings"

	"github.com/loomdev/loom/pkg/dom"
	"github.com/loomdev/loom/pkg/protocol"
)

// Renderer turns widget mutations into update batches. Each batch is
// a single script with a sequence id; the client applies it atomically
// and acknowledges the id. Not safe for concurrent use; the handler
// lock serializes access.
type Renderer struct {
	tree  *dom.Tree
	dirty map[dom.Handle]struct{}

	ackWindow  uint64
	lastIssued uint64
	lastAcked  uint64
	history    []*protocol.Update

	// deferred suppresses update collection while positive, so a
	// multi-step mutation is never observed half done.
	deferred int
}

func newRenderer(tree *dom.Tree, ackWindow uint64) *Renderer {
	return &Renderer{
		tree:      tree,
		dirty:     make(map[dom.Handle]struct{}),
		ackWindow: ackWindow,
	}
}

// MarkDirty schedules a widget for the next update batch.
func (r *Renderer) MarkDirty(h dom.Handle) {
	r.dirty[h] = struct{}{}
}

// DirtyCount returns the number of scheduled widgets.
func (r *Renderer) DirtyCount() int { return len(r.dirty) }

// DeferRendering suppresses update collection until a matching
// ResumeRendering. Calls nest.
func (r *Renderer) DeferRendering() { r.deferred++ }

// ResumeRendering undoes one DeferRendering.
func (r *Renderer) ResumeRendering() {
	if r.deferred > 0 {
		r.deferred--
	}
}

// Deferred reports whether update collection is suppressed.
func (r *Renderer) Deferred() bool { return r.deferred > 0 }

// LastIssued returns the id of the most recent update batch.
func (r *Renderer) LastIssued() uint64 { return r.lastIssued }

// Ack validates and applies a client acknowledgment. The id must fall
// inside the tolerated window behind the last issued update; anything
// else is a forged or hopelessly stale client and yields ErrBadAck.
func (r *Renderer) Ack(ackID uint64) error {
	if ackID > r.lastIssued {
		metricBadAcks.Inc()
		return ErrBadAck
	}
	if r.lastIssued-ackID > r.ackWindow {
		metricBadAcks.Inc()
		return ErrBadAck
	}
	if ackID > r.lastAcked {
		r.lastAcked = ackID
	}
	// Drop history the client has confirmed.
	for len(r.history) > 0 && r.history[0].ID <= ackID {
		r.history = r.history[1:]
	}
	return nil
}

// Redeliver returns the already-issued updates after ackID, oldest
// first, for a client that missed replies.
func (r *Renderer) Redeliver(ackID uint64) []*protocol.Update {
	var out []*protocol.Update
	for _, u := range r.history {
		if u.ID > ackID {
			out = append(out, u)
		}
	}
	return out
}

// CollectUpdate drains the dirty set into one update batch. Returns
// nil when nothing is pending or rendering is deferred. Widgets are
// processed parents first; a widget that is no longer attached has its
// recorded operations discarded instead of emitted.
func (r *Renderer) CollectUpdate() *protocol.Update {
	if r.deferred > 0 || len(r.dirty) == 0 {
		return nil
	}

	var b strings.Builder
	r.drain(&b)
	if b.Len() == 0 {
		return nil
	}
	return r.issue(b.String())
}

// IssueScript wraps js in an update batch with a freshly issued id,
// recorded in redelivery history like any collected update. Used when
// a reply carries only learned-slot script and no tree changes.
func (r *Renderer) IssueScript(js string) *protocol.Update {
	if js == "" {
		return nil
	}
	return r.issue(js)
}

func (r *Renderer) issue(script string) *protocol.Update {
	r.lastIssued++
	metricUpdatesIssued.Inc()
	u := &protocol.Update{ID: r.lastIssued, Script: script}
	r.history = append(r.history, u)
	// Bound history to the ack window plus the one in flight.
	for uint64(len(r.history)) > r.ackWindow+1 {
		r.history = r.history[1:]
	}
	return u
}

// drain empties the dirty set into b, parents first. Detached widgets
// have their operations discarded.
func (r *Renderer) drain(b *strings.Builder) {
	type entry struct {
		h     dom.Handle
		depth int
	}
	entries := make([]entry, 0, len(r.dirty))
	for h := range r.dirty {
		entries = append(entries, entry{h: h, depth: r.tree.Depth(h)})
	}
	r.dirty = make(map[dom.Handle]struct{})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].depth < entries[j].depth
	})
	for _, e := range entries {
		w := r.tree.Get(e.h)
		if w == nil {
			continue
		}
		if e.depth == 0 {
			w.DiscardPending()
			continue
		}
		r.flushWidget(b, w)
	}
}

func (r *Renderer) flushWidget(b *strings.Builder, w *dom.Widget) {
	if !w.Rendered() {
		// Will be rendered as HTML by a parent insert or the next
		// full page render.
		w.DiscardPending()
		return
	}
	for _, op := range w.TakePending() {
		op.JS(b)
	}
	for i, c := range w.Children() {
		cw := r.tree.Get(c)
		if cw != nil && !cw.Rendered() {
			html := r.tree.RenderHTML(c)
			dom.Op{Kind: dom.OpInsertNode, Parent: w.ID, Index: i, Value: html}.JS(b)
		}
	}
}

// Capture runs fn and returns the script its mutations would produce,
// without issuing an update. Used to learn stateless slots. Mutations
// recorded before fn stay out of the captured script and are preserved
// for the next real batch, even on the widgets fn touches.
func (r *Renderer) Capture(fn func()) string {
	saved, stash := r.setAside()
	fn()

	var b strings.Builder
	r.drain(&b)
	r.restore(saved, stash)
	return b.String()
}

// DiscardOps runs fn and throws away the operations it records. Used
// to undo a learned invocation without echoing the undo to the client.
func (r *Renderer) DiscardOps(fn func()) {
	saved, stash := r.setAside()
	fn()
	for h := range r.dirty {
		if w := r.tree.Get(h); w != nil {
			w.DiscardPending()
		}
	}
	r.restore(saved, stash)
}

// setAside removes the current dirty set and the pending operations of
// its widgets, so a captured run starts from a clean slate.
func (r *Renderer) setAside() (map[dom.Handle]struct{}, map[dom.Handle][]dom.Op) {
	saved := r.dirty
	stash := make(map[dom.Handle][]dom.Op, len(saved))
	for h := range saved {
		if w := r.tree.Get(h); w != nil && w.HasPending() {
			stash[h] = w.TakePending()
		}
	}
	r.dirty = make(map[dom.Handle]struct{})
	return saved, stash
}

func (r *Renderer) restore(saved map[dom.Handle]struct{}, stash map[dom.Handle][]dom.Op) {
	r.dirty = saved
	for h, ops := range stash {
		if w := r.tree.Get(h); w != nil {
			w.RestorePending(ops)
		}
	}
}

// RenderPage renders the full document and resets update accounting.
// After a page render the client starts acking from zero again.
func (r *Renderer) RenderPage() string {
	r.dirty = make(map[dom.Handle]struct{})
	r.history = nil
	r.lastIssued = 0
	r.lastAcked = 0
	var b strings.Builder
	b.WriteString(r.tree.RenderHTML(r.tree.Root()))
	b.WriteString(r.tree.RenderHTML(r.tree.Overlay()))
	return b.String()
}
