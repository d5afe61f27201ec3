package dom

// Handle addresses a widget slot in an arena. The generation is bumped
// every time a slot is freed, so a handle held across removal resolves
// to nothing instead of to whatever widget reused the slot.
type Handle struct {
	index      uint32
	generation uint32
}

// NilHandle is the zero handle. It never resolves.
var NilHandle = Handle{}

// IsNil reports whether h is the zero handle.
func (h Handle) IsNil() bool { return h == NilHandle }

type slot struct {
	widget     *Widget
	generation uint32
}

// Arena owns widget storage. Not safe for concurrent use; the session
// handler lock serializes access.
type Arena struct {
	slots []slot
	free  []uint32
}

// NewArena creates an empty arena. Slot 0 is reserved so the zero
// Handle stays invalid.
func NewArena() *Arena {
	return &Arena{slots: make([]slot, 1)}
}

// Alloc stores w and returns its handle.
func (a *Arena) Alloc(w *Widget) Handle {
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.widget = w
	h := Handle{index: idx, generation: s.generation}
	w.self = h
	return h
}

// Get resolves h, returning nil for the zero handle, a freed slot, or
// a stale generation.
func (a *Arena) Get(h Handle) *Widget {
	if h.index == 0 || int(h.index) >= len(a.slots) {
		return nil
	}
	s := &a.slots[h.index]
	if s.generation != h.generation {
		return nil
	}
	return s.widget
}

// Free releases the slot behind h. Freeing an already-stale handle is
// a no-op.
func (a *Arena) Free(h Handle) {
	if h.index == 0 || int(h.index) >= len(a.slots) {
		return
	}
	s := &a.slots[h.index]
	if s.generation != h.generation || s.widget == nil {
		return
	}
	s.widget = nil
	s.generation++
	a.free = append(a.free, h.index)
}

// Len returns the number of live widgets.
func (a *Arena) Len() int {
	n := 0
	for i := 1; i < len(a.slots); i++ {
		if a.slots[i].widget != nil {
			n++
		}
	}
	return n
}
