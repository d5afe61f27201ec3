// Package resource serves per-session dynamic content: files, images,
// generated documents. A resource that cannot finish in one response
// returns continuation state; the client fetches the rest chunk by
// chunk under the session's resource URL.
package resource

import (
	"context"
	"strconv"

	"github.com/loomdev/loom/pkg/httpx"
)

// DefaultChunkSize is how much a chunked resource writes per response.
const DefaultChunkSize = 256 * 1024

// Request is one resource fetch.
type Request struct {
	Params httpx.Params
	// Continuation is the state returned by the previous Serve call,
	// nil on the first request.
	Continuation any
}

// Resource produces response content. Serve writes one chunk to resp;
// a non-nil return value means more data remains and becomes the next
// request's Continuation.
type Resource interface {
	Serve(ctx context.Context, req *Request, resp *httpx.Response) (any, error)
}

// Registry maps resource ids to resources for one session. Not safe
// for concurrent use; the session handler lock serializes access.
type Registry struct {
	resources map[string]Resource
	nextID    uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{resources: make(map[string]Resource)}
}

// Add registers r and returns its id.
func (g *Registry) Add(r Resource) string {
	g.nextID++
	id := resourceID(g.nextID)
	g.resources[id] = r
	return id
}

// Get returns the resource for id, or nil.
func (g *Registry) Get(id string) Resource { return g.resources[id] }

// Remove unregisters id.
func (g *Registry) Remove(id string) { delete(g.resources, id) }

// Len returns the number of registered resources.
func (g *Registry) Len() int { return len(g.resources) }

func resourceID(n uint64) string {
	return "r" + strconv.FormatUint(n, 16)
}
