package resource

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/loomdev/loom/pkg/httpx"
)

// DiskResource streams a file from the local filesystem in chunks.
type DiskResource struct {
	Path        string
	ContentType string
	ChunkSize   int64
}

// NewDiskResource creates a disk resource with the default chunk size.
func NewDiskResource(path, contentType string) *DiskResource {
	return &DiskResource{Path: path, ContentType: contentType, ChunkSize: DefaultChunkSize}
}

// diskPos is the continuation state: the next byte offset.
type diskPos struct {
	Offset int64
}

// Serve writes the next chunk. The first request may carry a Range
// parameter to start mid-file.
func (d *DiskResource) Serve(ctx context.Context, req *Request, resp *httpx.Response) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, fmt.Errorf("resource: open %s: %w", d.Path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := info.Size()

	var offset int64
	switch {
	case req.Continuation != nil:
		offset = req.Continuation.(*diskPos).Offset
	case req.Params.Has("range"):
		offset, err = strconv.ParseInt(req.Params.Get("range"), 10, 64)
		if err != nil || offset < 0 || offset > size {
			return nil, fmt.Errorf("resource: bad range %q", req.Params.Get("range"))
		}
	}

	chunk := d.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	if req.Continuation == nil {
		resp.SetHeader("Content-Type", d.ContentType)
		resp.SetHeader("Content-Length", strconv.FormatInt(size-offset, 10))
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	n, err := io.CopyN(resp, f, chunk)
	offset += n
	if err != nil && err != io.EOF {
		return nil, err
	}
	if offset < size {
		return &diskPos{Offset: offset}, nil
	}
	return nil, nil
}
