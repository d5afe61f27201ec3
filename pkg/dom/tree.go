package dom

import "fmt"

// Tree is the session's widget tree. It holds two roots: the main
// document root and an overlay root for modal content layered above
// the page. A widget reachable from neither root is detached.
type Tree struct {
	arena   *Arena
	root    Handle
	overlay Handle

	// OnDirty, if set, is called whenever structure changes or a
	// widget records a mutation through the tree.
	OnDirty func(Handle)

	nextID uint64
}

// NewTree creates a tree with fresh main and overlay roots.
func NewTree() *Tree {
	t := &Tree{arena: NewArena()}
	t.root = t.arena.Alloc(NewWidget("loom-root", "div"))
	t.overlay = t.arena.Alloc(NewWidget("loom-overlay", "div"))
	return t
}

// Root returns the main root handle.
func (t *Tree) Root() Handle { return t.root }

// Overlay returns the overlay root handle.
func (t *Tree) Overlay() Handle { return t.overlay }

// Get resolves a handle. Stale handles resolve to nil.
func (t *Tree) Get(h Handle) *Widget { return t.arena.Get(h) }

// NewElementID returns a fresh DOM id, unique within the tree.
func (t *Tree) NewElementID() string {
	t.nextID++
	return fmt.Sprintf("o%d", t.nextID)
}

// Create allocates a detached widget with a fresh id.
func (t *Tree) Create(tag string) Handle {
	return t.arena.Alloc(NewWidget(t.NewElementID(), tag))
}

// Append attaches child as the last child of parent. Attaching an
// already-attached widget moves it.
func (t *Tree) Append(parent, child Handle) error {
	p := t.arena.Get(parent)
	c := t.arena.Get(child)
	if p == nil || c == nil {
		return fmt.Errorf("dom: append through stale handle")
	}
	if t.isAncestor(child, parent) {
		return fmt.Errorf("dom: append would create a cycle at %s", c.ID)
	}
	t.unlink(c)
	c.parent = parent
	p.children = append(p.children, child)
	t.markDirty(parent)
	return nil
}

// Remove detaches the subtree at h and frees it. The client-side
// element is removed on the next flush via the parent's pending ops.
func (t *Tree) Remove(h Handle) {
	w := t.arena.Get(h)
	if w == nil {
		return
	}
	parent := w.parent
	if p := t.arena.Get(parent); p != nil && p.rendered && w.rendered {
		p.pending = append(p.pending, Op{Kind: OpRemoveNode, Target: w.ID})
	}
	t.unlink(w)
	t.freeSubtree(h)
	if !parent.IsNil() {
		t.markDirty(parent)
	}
}

// Detach unlinks the subtree at h without freeing it, so it can be
// re-attached later.
func (t *Tree) Detach(h Handle) {
	w := t.arena.Get(h)
	if w == nil {
		return
	}
	parent := w.parent
	if p := t.arena.Get(parent); p != nil && p.rendered && w.rendered {
		p.pending = append(p.pending, Op{Kind: OpRemoveNode, Target: w.ID})
	}
	t.unlink(w)
	t.markUnrenderedSubtree(h)
	if !parent.IsNil() {
		t.markDirty(parent)
	}
}

// Depth returns the distance from h to its root. Both roots are at
// depth 1; a detached or stale widget reports 0.
func (t *Tree) Depth(h Handle) int {
	depth := 0
	for !h.IsNil() {
		w := t.arena.Get(h)
		if w == nil {
			return 0
		}
		depth++
		if h == t.root || h == t.overlay {
			return depth
		}
		h = w.parent
	}
	return 0
}

// Attached reports whether h is reachable from either root.
func (t *Tree) Attached(h Handle) bool { return t.Depth(h) > 0 }

// MarkDirty notifies the dirty hook for h.
func (t *Tree) MarkDirty(h Handle) { t.markDirty(h) }

// SetText mutates through the tree so the widget is scheduled for the
// next update. Stale handles are safe no-ops.
func (t *Tree) SetText(h Handle, s string) {
	if w := t.arena.Get(h); w != nil {
		w.SetText(s)
		t.markDirty(h)
	}
}

// SetAttr mutates through the tree. Stale handles are safe no-ops.
func (t *Tree) SetAttr(h Handle, key, value string) {
	if w := t.arena.Get(h); w != nil {
		w.SetAttr(key, value)
		t.markDirty(h)
	}
}

// RemoveAttr mutates through the tree. Stale handles are safe no-ops.
func (t *Tree) RemoveAttr(h Handle, key string) {
	if w := t.arena.Get(h); w != nil {
		w.RemoveAttr(key)
		t.markDirty(h)
	}
}

// Eval schedules a raw script with the widget's next update. Stale
// handles are safe no-ops.
func (t *Tree) Eval(h Handle, js string) {
	if w := t.arena.Get(h); w != nil {
		w.Eval(js)
		t.markDirty(h)
	}
}

func (t *Tree) markDirty(h Handle) {
	if t.OnDirty != nil {
		t.OnDirty(h)
	}
}

func (t *Tree) isAncestor(candidate, of Handle) bool {
	for h := of; !h.IsNil(); {
		if h == candidate {
			return true
		}
		w := t.arena.Get(h)
		if w == nil {
			return false
		}
		h = w.parent
	}
	return false
}

func (t *Tree) unlink(c *Widget) {
	p := t.arena.Get(c.parent)
	if p == nil {
		c.parent = NilHandle
		return
	}
	for i, h := range p.children {
		if h == c.self {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	c.parent = NilHandle
}

func (t *Tree) freeSubtree(h Handle) {
	w := t.arena.Get(h)
	if w == nil {
		return
	}
	for _, c := range w.children {
		t.freeSubtree(c)
	}
	t.arena.Free(h)
}

func (t *Tree) markUnrenderedSubtree(h Handle) {
	w := t.arena.Get(h)
	if w == nil {
		return
	}
	w.MarkUnrendered()
	for _, c := range w.children {
		t.markUnrenderedSubtree(c)
	}
}

// Walk visits the subtree at h in document order.
func (t *Tree) Walk(h Handle, fn func(Handle, *Widget)) {
	w := t.arena.Get(h)
	if w == nil {
		return
	}
	fn(h, w)
	for _, c := range w.children {
		t.Walk(c, fn)
	}
}
