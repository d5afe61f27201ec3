package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomdev/loom/pkg/protocol"
)

const wsTestAgent = "test-agent"

// liveBootstrap drives a client through bootstrap and the script
// request over a real listener, so a socket can attach afterwards. The
// user agent is pinned because the session is.
func liveBootstrap(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	get := func(url string) string {
		req, err := http.NewRequest("GET", url, nil)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("User-Agent", wsTestAgent)
		resp, err := ts.Client().Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, body)
		}
		return string(body)
	}
	page := get(ts.URL + "/app")
	m := wtdPattern.FindStringSubmatch(page)
	if m == nil {
		t.Fatalf("no session id in bootstrap page: %s", page)
	}
	sid := m[1]
	get(ts.URL + "/app?wtd=" + sid + "&request=script")
	return sid
}

func dialSession(t *testing.T, ts *httptest.Server, sid string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/app/ws?wtd=" + sid
	hdr := http.Header{}
	hdr.Set("User-Agent", wsTestAgent)
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		t.Fatal(err)
	}
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, ft protocol.FrameType, payload []byte) {
	t.Helper()
	f, err := protocol.NewFrame(ft, 0, payload)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, f.Encode()); err != nil {
		t.Fatal(err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) *protocol.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	f, err := protocol.DecodeFrame(data)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestWebSocketResyncRedelivers(t *testing.T) {
	srv := testServer(t)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	sid := liveBootstrap(t, ts)

	// Issue an update while no socket is attached; the client never
	// sees it.
	sess, err := srv.controller.Lookup(sid)
	if err != nil {
		t.Fatal(err)
	}
	h, err := sess.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	tr := sess.Tree()
	a := tr.Create("div")
	if err := tr.Append(tr.Root(), a); err != nil {
		t.Fatal(err)
	}
	missed := sess.Renderer().CollectUpdate()
	h.Release()
	if missed == nil {
		t.Fatal("no update issued")
	}

	conn := dialSession(t, ts, sid)
	defer conn.Close()

	// Hello claims the update was applied, so nothing is replayed at
	// handshake and history still holds it.
	e := protocol.NewEncoder()
	(&protocol.ClientHello{
		Version:   protocol.ProtocolVersion,
		SessionID: sid,
		AckID:     missed.ID,
		UserAgent: wsTestAgent,
	}).Encode(e)
	sendFrame(t, conn, protocol.FrameHandshake, e.Bytes())

	f := readFrame(t, conn)
	if f.Type != protocol.FrameHandshake {
		t.Fatalf("first frame type = %d", f.Type)
	}
	hello, err := protocol.DecodeServerHello(protocol.NewDecoder(f.Payload))
	if err != nil {
		t.Fatal(err)
	}
	if hello.Status != protocol.HandshakeOK {
		t.Fatalf("handshake status = %d", hello.Status)
	}

	// Now the client reports it only trusts its state up to id 0; the
	// server must replay everything after that.
	ce := protocol.NewEncoder()
	(&protocol.Control{Kind: protocol.ControlResync, Seq: 0}).Encode(ce)
	sendFrame(t, conn, protocol.FrameControl, ce.Bytes())

	uf := readFrame(t, conn)
	if uf.Type != protocol.FrameUpdate {
		t.Fatalf("resync reply frame type = %d", uf.Type)
	}
	got, err := protocol.DecodeUpdate(protocol.NewDecoder(uf.Payload))
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != missed.ID || !strings.Contains(got.Script, "Loom.insert(") {
		t.Fatalf("redelivered update = %+v", got)
	}
}
