package dom

import (
	"strconv"
	"strings"
)

// OpKind is the DOM operation discriminator.
type OpKind uint8

const (
	OpSetText     OpKind = 0x01 // Replace text content
	OpSetAttr     OpKind = 0x02 // Set or update attribute
	OpRemoveAttr  OpKind = 0x03 // Remove attribute
	OpInsertNode  OpKind = 0x04 // Insert rendered HTML
	OpRemoveNode  OpKind = 0x05 // Remove element
	OpReplaceNode OpKind = 0x06 // Replace element with HTML
	OpMoveNode    OpKind = 0x07 // Move element under new parent
	OpEvalJS      OpKind = 0x08 // Run a raw script
)

// String returns the string representation of the OpKind.
func (k OpKind) String() string {
	switch k {
	case OpSetText:
		return "SetText"
	case OpSetAttr:
		return "SetAttr"
	case OpRemoveAttr:
		return "RemoveAttr"
	case OpInsertNode:
		return "InsertNode"
	case OpRemoveNode:
		return "RemoveNode"
	case OpReplaceNode:
		return "ReplaceNode"
	case OpMoveNode:
		return "MoveNode"
	case OpEvalJS:
		return "EvalJS"
	default:
		return "Unknown"
	}
}

// Op is a single DOM operation destined for the client runtime.
type Op struct {
	Kind   OpKind
	Target string // element id
	Key    string // attribute key
	Value  string // text, attribute value, HTML, or script
	Parent string // parent element id for InsertNode/MoveNode
	Index  int    // insert position, -1 appends
}

// JS writes the operation as a call into the client runtime.
func (op Op) JS(b *strings.Builder) {
	switch op.Kind {
	case OpSetText:
		b.WriteString("Loom.setText(")
		writeJSString(b, op.Target)
		b.WriteByte(',')
		writeJSString(b, op.Value)
		b.WriteString(");")
	case OpSetAttr:
		b.WriteString("Loom.setAttr(")
		writeJSString(b, op.Target)
		b.WriteByte(',')
		writeJSString(b, op.Key)
		b.WriteByte(',')
		writeJSString(b, op.Value)
		b.WriteString(");")
	case OpRemoveAttr:
		b.WriteString("Loom.removeAttr(")
		writeJSString(b, op.Target)
		b.WriteByte(',')
		writeJSString(b, op.Key)
		b.WriteString(");")
	case OpInsertNode:
		b.WriteString("Loom.insert(")
		writeJSString(b, op.Parent)
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(op.Index))
		b.WriteByte(',')
		writeJSString(b, op.Value)
		b.WriteString(");")
	case OpRemoveNode:
		b.WriteString("Loom.remove(")
		writeJSString(b, op.Target)
		b.WriteString(");")
	case OpReplaceNode:
		b.WriteString("Loom.replace(")
		writeJSString(b, op.Target)
		b.WriteByte(',')
		writeJSString(b, op.Value)
		b.WriteString(");")
	case OpMoveNode:
		b.WriteString("Loom.move(")
		writeJSString(b, op.Target)
		b.WriteByte(',')
		writeJSString(b, op.Parent)
		b.WriteByte(',')
		b.WriteString(strconv.Itoa(op.Index))
		b.WriteString(");")
	case OpEvalJS:
		b.WriteString(op.Value)
		if !strings.HasSuffix(op.Value, ";") {
			b.WriteByte(';')
		}
	}
}

// JSString returns s as a single-quoted JavaScript string literal.
func JSString(s string) string {
	var b strings.Builder
	writeJSString(&b, s)
	return b.String()
}

// writeJSString writes s as a single-quoted JavaScript string literal.
func writeJSString(b *strings.Builder, s string) {
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\'':
			b.WriteString(`\'`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '<':
			// Breaks "</script>" inside inline script blocks.
			b.WriteString(`\x3c`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
}
