package resource

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/loomdev/loom/pkg/httpx"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "blob")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDiskResourceSingleChunk(t *testing.T) {
	path := writeTempFile(t, []byte("hello world"))
	r := NewDiskResource(path, "text/plain")

	rec := httptest.NewRecorder()
	resp := httpx.NewResponse(rec)
	more, err := r.Serve(context.Background(), &Request{Params: make(httpx.Params)}, resp)
	if err != nil {
		t.Fatalf("Serve: %v", err)
	}
	if more != nil {
		t.Fatal("single-chunk file returned a continuation")
	}
	resp.Flush()
	if got := rec.Body.String(); got != "hello world" {
		t.Errorf("body = %q", got)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/plain" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestDiskResourceChunked(t *testing.T) {
	data := make([]byte, 10)
	for i := range data {
		data[i] = byte('a' + i)
	}
	r := NewDiskResource(writeTempFile(t, data), "application/octet-stream")
	r.ChunkSize = 4

	var got []byte
	req := &Request{Params: make(httpx.Params)}
	for i := 0; ; i++ {
		if i > 10 {
			t.Fatal("continuation never finished")
		}
		rec := httptest.NewRecorder()
		resp := httpx.NewResponse(rec)
		more, err := r.Serve(context.Background(), req, resp)
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		resp.Flush()
		got = append(got, rec.Body.Bytes()...)
		if more == nil {
			break
		}
		req = &Request{Params: make(httpx.Params), Continuation: more}
	}
	if string(got) != string(data) {
		t.Errorf("reassembled %q, want %q", got, data)
	}
}

func TestDiskResourceBadRange(t *testing.T) {
	r := NewDiskResource(writeTempFile(t, []byte("x")), "text/plain")
	p := make(httpx.Params)
	p.Add("range", "notanumber")
	resp := httpx.NewResponse(httptest.NewRecorder())
	if _, err := r.Serve(context.Background(), &Request{Params: p}, resp); err == nil {
		t.Fatal("bad range accepted")
	}
}

func TestRegistryLifecycle(t *testing.T) {
	g := NewRegistry()
	r := NewDiskResource("/nonexistent", "text/plain")
	id := g.Add(r)
	if id == "" || g.Get(id) != Resource(r) {
		t.Fatalf("Add/Get mismatch for id %q", id)
	}
	id2 := g.Add(NewDiskResource("/other", "text/plain"))
	if id2 == id {
		t.Fatal("duplicate resource id")
	}
	g.Remove(id)
	if g.Get(id) != nil {
		t.Fatal("removed resource still resolves")
	}
	if g.Len() != 1 {
		t.Fatalf("Len = %d, want 1", g.Len())
	}
}
