package session

import (
	"fmt"

	"github.com/loomdev/loom/pkg/app"
)

// slotCache holds learned stateless slot scripts, keyed by element id
// and event type.
type slotCache struct {
	learned map[string]string
}

func newSlotCache() *slotCache {
	return &slotCache{learned: make(map[string]string)}
}

func slotKey(id, eventType string) string { return id + "." + eventType }

// Learn returns the script for a stateless connection, learning it on
// first use: the invoke side runs and its mutations are captured, then
// the undo side runs with its mutations discarded, restoring state.
// Repeated calls return the cached script without running anything.
func (c *slotCache) Learn(r *Renderer, id, eventType string, spec *app.StatelessSpec) (string, error) {
	key := slotKey(id, eventType)
	if js, ok := c.learned[key]; ok {
		return js, nil
	}
	if spec.Invoke == nil || spec.Undo == nil {
		return "", fmt.Errorf("session: stateless connection %s lacks invoke or undo", key)
	}
	js := r.Capture(spec.Invoke)
	r.DiscardOps(spec.Undo)
	c.learned[key] = js
	metricSlotsLearned.Inc()
	return js, nil
}

// Invalidate drops a learned script so the next event relearns it.
// Called when the widget state feeding the effect changes.
func (c *slotCache) Invalidate(id, eventType string) {
	delete(c.learned, slotKey(id, eventType))
}

// InvalidateWidget drops every learned script for an element.
func (c *slotCache) InvalidateWidget(id string) {
	prefix := id + "."
	for k := range c.learned {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			delete(c.learned, k)
		}
	}
}

// Len returns the number of learned scripts.
func (c *slotCache) Len() int { return len(c.learned) }
