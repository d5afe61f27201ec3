// Package httpx parses the parameter-driven request surface shared by
// the bootstrap page, AJAX updates, and plain-HTML fallback, and
// provides buffered responses and resource continuations.
package httpx

import "strconv"

// Reserved parameter names.
const (
	ParamSessionID = "wtd"
	ParamRequest   = "request"
	ParamSignal    = "signal"
	ParamAckID     = "ackId"
	ParamResource  = "resource"
	ParamJSError   = "error"
)

// Request kinds carried in the "request" parameter. An absent
// parameter means a full page request.
const (
	RequestPage     = "page"
	RequestScript   = "script"
	RequestStyle    = "style"
	RequestUpdate   = "jsupdate"
	RequestJSError  = "jserror"
	RequestResource = "resource"
)

// Params is a parsed parameter multimap. Keys may repeat; order of
// repeated values is preserved.
type Params map[string][]string

// Get returns the first value for key, or "".
func (p Params) Get(key string) string {
	if vs := p[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// All returns every value for key.
func (p Params) All(key string) []string { return p[key] }

// Has reports whether key is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// Add appends a value for key.
func (p Params) Add(key, value string) {
	p[key] = append(p[key], value)
}

// SessionID returns the wtd credential, or "".
func (p Params) SessionID() string { return p.Get(ParamSessionID) }

// RequestKind returns the request parameter, defaulting to a page
// request when absent.
func (p Params) RequestKind() string {
	if v := p.Get(ParamRequest); v != "" {
		return v
	}
	return RequestPage
}

// AckID parses the ackId parameter. ok is false when the parameter is
// absent or malformed.
func (p Params) AckID() (uint64, bool) {
	v := p.Get(ParamAckID)
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Signals returns the encoded signal values in dispatch order: the
// numbered e1signal, e2signal, ... values first, then the plain
// signal values.
func (p Params) Signals() []string {
	var out []string
	for i := 1; ; i++ {
		key := "e" + strconv.Itoa(i) + ParamSignal
		vs, ok := p[key]
		if !ok {
			break
		}
		out = append(out, vs...)
	}
	out = append(out, p[ParamSignal]...)
	return out
}
