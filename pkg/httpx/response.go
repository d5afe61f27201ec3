package httpx

import (
	"bytes"
	"net/http"
	"sync"
)

// Response buffers a reply so the session can build it incrementally
// and flush it exactly once. A second flush is a programming error and
// is ignored after being recorded.
type Response struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	buf     bytes.Buffer
	status  int
	flushed bool
}

// NewResponse wraps w with status 200 pre-set.
func NewResponse(w http.ResponseWriter) *Response {
	return &Response{w: w, status: http.StatusOK}
}

// SetStatus sets the status code sent on flush.
func (r *Response) SetStatus(code int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = code
}

// SetHeader sets a response header. No effect after flush.
func (r *Response) SetHeader(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.flushed {
		r.w.Header().Set(key, value)
	}
}

// Write appends to the buffered body.
func (r *Response) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// WriteString appends a string to the buffered body.
func (r *Response) WriteString(s string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.WriteString(s)
}

// Len returns the number of buffered bytes.
func (r *Response) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len()
}

// Flushed reports whether the response has been sent.
func (r *Response) Flushed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flushed
}

// Flush sends status and body. Only the first call sends anything;
// subsequent calls report false.
func (r *Response) Flush() (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.flushed {
		return false, nil
	}
	r.flushed = true
	r.w.WriteHeader(r.status)
	_, err := r.w.Write(r.buf.Bytes())
	return true, err
}
