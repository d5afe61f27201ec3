package dom

import (
	"sort"
	"strings"
)

// voidTags have no closing tag and no children.
var voidTags = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// RenderHTML renders the subtree at h as escaped HTML and marks every
// visited widget as rendered.
func (t *Tree) RenderHTML(h Handle) string {
	var b strings.Builder
	t.renderHTML(&b, h)
	return b.String()
}

func (t *Tree) renderHTML(b *strings.Builder, h Handle) {
	w := t.arena.Get(h)
	if w == nil {
		return
	}
	b.WriteByte('<')
	b.WriteString(w.Tag)
	b.WriteString(` id="`)
	escapeHTML(b, w.ID)
	b.WriteByte('"')

	// Deterministic attribute order keeps rendered output stable.
	keys := make([]string, 0, len(w.attrs))
	for k := range w.attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		escapeHTML(b, w.attrs[k])
		b.WriteByte('"')
	}
	if len(w.events) > 0 {
		b.WriteString(` data-loom-on="`)
		escapeHTML(b, strings.Join(w.events, " "))
		b.WriteByte('"')
	}
	if voidTags[w.Tag] {
		b.WriteString("/>")
		w.MarkRendered()
		w.DiscardPending()
		return
	}
	b.WriteByte('>')
	escapeHTML(b, w.text)
	for _, c := range w.children {
		t.renderHTML(b, c)
	}
	b.WriteString("</")
	b.WriteString(w.Tag)
	b.WriteByte('>')
	w.MarkRendered()
	w.DiscardPending()
}

func escapeHTML(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&#34;")
		case '\'':
			b.WriteString("&#39;")
		default:
			b.WriteRune(r)
		}
	}
}
