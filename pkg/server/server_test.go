package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"

	"github.com/loomdev/loom/pkg/app"
	"github.com/loomdev/loom/pkg/dom"
	"github.com/loomdev/loom/pkg/session"
)

// counterApp is a button that increments a label, the smallest
// application with a full event round trip.
type counterApp struct {
	clicks int
}

func (a *counterApp) Init(ctx *app.Context) error {
	tr := ctx.Tree
	label := tr.Create("span")
	tr.SetText(label, "0")
	button := tr.Create("button")
	tr.SetText(button, "add")
	if err := tr.Append(tr.Root(), label); err != nil {
		return err
	}
	if err := tr.Append(tr.Root(), button); err != nil {
		return err
	}
	ctx.Reg.Connect(tr.Get(button), "clicked", func(ev app.Event) {
		a.clicks++
		tr.SetText(label, "clicked")
	})
	return nil
}

func (a *counterApp) Destroy() {}

func testServer(t *testing.T) *Server {
	t.Helper()
	factory := func(env *app.Environment) (app.Application, error) {
		return &counterApp{}, nil
	}
	srv := New(DefaultConfig(), session.DefaultConfig(), factory, nil)
	t.Cleanup(func() {
		srv.controller.Shutdown(context.Background())
	})
	return srv
}

var wtdPattern = regexp.MustCompile(`wtd=([0-9a-f]{32})`)

// bootstrapSession walks a client through bootstrap and returns its
// session id, leaving the session in ExpectLoad.
func bootstrapSession(t *testing.T, srv *Server) string {
	t.Helper()
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/app", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("bootstrap status %d", rec.Code)
	}
	m := wtdPattern.FindStringSubmatch(rec.Body.String())
	if m == nil {
		t.Fatalf("no session id in bootstrap page: %s", rec.Body.String())
	}
	sid := m[1]

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest("GET", "/app?wtd="+sid+"&request=script", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("script status %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Loom.setPage(") {
		t.Fatalf("script response missing page render: %s", rec.Body.String())
	}
	return sid
}

func postUpdate(srv *Server, sid string, form url.Values) *httptest.ResponseRecorder {
	form.Set("wtd", sid)
	form.Set("request", "jsupdate")
	r := httptest.NewRequest("POST", "/app", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)
	return rec
}

func TestBootstrapSetsCookie(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/app", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	cookie := rec.Header().Get("Set-Cookie")
	if !strings.Contains(cookie, "loomsid=") || !strings.Contains(cookie, "HttpOnly") {
		t.Errorf("cookie = %q", cookie)
	}
	if cc := rec.Header().Get("Cache-Control"); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}
}

func TestFullEventRoundTrip(t *testing.T) {
	srv := testServer(t)
	sid := bootstrapSession(t, srv)

	// Load confirmation.
	rec := postUpdate(srv, sid, url.Values{"ackId": {"0"}, "signal": {"app.load"}})
	if rec.Code != http.StatusOK {
		t.Fatalf("load status %d: %s", rec.Code, rec.Body.String())
	}
	sess, err := srv.controller.Lookup(sid)
	if err != nil {
		t.Fatal(err)
	}
	if sess.State() != session.Loaded {
		t.Fatalf("state after load = %v", sess.State())
	}

	// Find the button id from the session tree.
	var buttonID string
	tr := sess.Tree()
	tr.Walk(tr.Root(), func(h dom.Handle, w *dom.Widget) {
		if w.Tag == "button" {
			buttonID = w.ID
		}
	})
	if buttonID == "" {
		t.Fatal("no button in tree")
	}

	rec = postUpdate(srv, sid, url.Values{
		"ackId":  {"0"},
		"signal": {buttonID + ".clicked"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("click status %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Loom.setText(") || !strings.Contains(body, "clicked") {
		t.Fatalf("no update script in reply: %s", body)
	}
	if !strings.Contains(body, "Loom.ackTo(1);") {
		t.Fatalf("missing ack counter: %s", body)
	}
}

func TestUpdateRequiresAckID(t *testing.T) {
	srv := testServer(t)
	sid := bootstrapSession(t, srv)
	rec := postUpdate(srv, sid, url.Values{"signal": {"app.load"}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestForgedSessionID(t *testing.T) {
	srv := testServer(t)
	bootstrapSession(t, srv)
	rec := postUpdate(srv, strings.Repeat("ab", 16), url.Values{"ackId": {"0"}})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestFutureAckRejected(t *testing.T) {
	srv := testServer(t)
	sid := bootstrapSession(t, srv)
	rec := postUpdate(srv, sid, url.Values{"ackId": {"99"}})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestHijackKillsSession(t *testing.T) {
	srv := testServer(t)
	sid := bootstrapSession(t, srv)

	r := httptest.NewRequest("POST", "/app",
		strings.NewReader("wtd="+sid+"&request=jsupdate&ackId=0"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("User-Agent", "different-browser")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("hijack status = %d, want 403", rec.Code)
	}

	// The killed session now answers with a reload page.
	rec = postUpdate(srv, sid, url.Values{"ackId": {"0"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "refresh") {
		t.Fatalf("tombstone reply: %d %s", rec.Code, rec.Body.String())
	}
}

func TestMethodGate(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("DELETE", "/app", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestUnknownRequestKind(t *testing.T) {
	srv := testServer(t)
	sid := bootstrapSession(t, srv)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest("GET", "/app?wtd="+sid+"&request=bogus", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSessionBoundKindWithoutCredential(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest("GET", "/app?request=jsupdate", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestResourceNotFound(t *testing.T) {
	srv := testServer(t)
	sid := bootstrapSession(t, srv)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec,
		httptest.NewRequest("GET", "/app/resources/r1?wtd="+sid, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestRuntimeServed(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/app/loom.js", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "window.Loom") {
		t.Fatalf("runtime: %d", rec.Code)
	}
}

func TestPlainHTMLFallback(t *testing.T) {
	srv := testServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/app", nil))
	sid := wtdPattern.FindStringSubmatch(rec.Body.String())[1]

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/app?wtd="+sid, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fallback status %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<button") || !strings.Contains(body, "add") {
		t.Fatalf("fallback page missing widgets: %s", body)
	}
}

func TestClientIPSpoofingIgnoredWithoutTrustedProxy(t *testing.T) {
	srv := testServer(t)
	sid := bootstrapSession(t, srv)

	// Spoofed header from an untrusted peer must not change the
	// observed client address, so the session survives.
	r := httptest.NewRequest("POST", "/app",
		strings.NewReader("wtd="+sid+"&request=jsupdate&ackId=0"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Forwarded-For", "203.0.113.9")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestForgedCredentialWithCookie(t *testing.T) {
	srv := testServer(t)
	sid := bootstrapSession(t, srv)

	// The cookie routes the request to its session; a wtd that does
	// not match that session's credential is forbidden, not unknown.
	r := httptest.NewRequest("POST", "/app",
		strings.NewReader("wtd="+strings.Repeat("ab", 16)+"&request=jsupdate&ackId=0"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.AddCookie(&http.Cookie{Name: sessionCookieName, Value: sid})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}

	// A rejected credential does not damage the session.
	sess, err := srv.controller.Lookup(sid)
	if err != nil || sess.Dead() {
		t.Fatalf("session gone after forged request: %v", err)
	}
}

func TestPreflightCreatesNoSession(t *testing.T) {
	srv := testServer(t)
	r := httptest.NewRequest("OPTIONS", "/app", nil)
	r.Header.Set("Origin", "http://"+r.Host)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if srv.controller.Len() != 0 {
		t.Fatal("preflight created a session")
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatal("preflight missing CORS method grant")
	}
}

func TestCORSHeadersOnlyForAllowedOrigins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"https://app.example.net"}
	factory := func(env *app.Environment) (app.Application, error) {
		return &counterApp{}, nil
	}
	srv := New(cfg, session.DefaultConfig(), factory, nil)
	defer srv.controller.Shutdown(context.Background())

	r := httptest.NewRequest("GET", "/app", nil)
	r.Header.Set("Origin", "https://app.example.net")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.net" {
		t.Fatalf("Access-Control-Allow-Origin = %q", got)
	}

	r = httptest.NewRequest("GET", "/app", nil)
	r.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, r)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unlisted origin granted CORS: %q", got)
	}
}

func TestAjaxFollowsBootstrapPath(t *testing.T) {
	srv := testServer(t)

	// Script path.
	sid := bootstrapSession(t, srv)
	sess, err := srv.controller.Lookup(sid)
	if err != nil {
		t.Fatal(err)
	}
	if !sess.Env().Ajax {
		t.Fatal("script-bootstrapped session not marked ajax")
	}

	// Plain-HTML fallback.
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/app", nil))
	sid2 := wtdPattern.FindStringSubmatch(rec.Body.String())[1]
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/app?wtd="+sid2, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("fallback status %d", rec.Code)
	}
	sess2, err := srv.controller.Lookup(sid2)
	if err != nil {
		t.Fatal(err)
	}
	if sess2.Env().Ajax {
		t.Fatal("plain-HTML session marked ajax")
	}
}

// bombApp panics in its click handler.
type bombApp struct{}

func (a *bombApp) Init(ctx *app.Context) error {
	tr := ctx.Tree
	b := tr.Create("button")
	if err := tr.Append(tr.Root(), b); err != nil {
		return err
	}
	ctx.Reg.Connect(tr.Get(b), "clicked", func(ev app.Event) {
		panic("kaboom")
	})
	return nil
}

func (a *bombApp) Destroy() {}

func TestHandlerPanicYieldsServerError(t *testing.T) {
	factory := func(env *app.Environment) (app.Application, error) {
		return &bombApp{}, nil
	}
	srv := New(DefaultConfig(), session.DefaultConfig(), factory, nil)
	defer srv.controller.Shutdown(context.Background())
	sid := bootstrapSession(t, srv)

	sess, err := srv.controller.Lookup(sid)
	if err != nil {
		t.Fatal(err)
	}
	var buttonID string
	tr := sess.Tree()
	tr.Walk(tr.Root(), func(h dom.Handle, w *dom.Widget) {
		if w.Tag == "button" {
			buttonID = w.ID
		}
	})

	rec := postUpdate(srv, sid, url.Values{
		"ackId":  {"0"},
		"signal": {buttonID + ".clicked"},
	})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !sess.Dead() || sess.KilledBecause() != session.KillAppPanic {
		t.Fatalf("state = %v, reason = %v", sess.State(), sess.KilledBecause())
	}

	// The next request from that tab gets a reload page.
	rec = postUpdate(srv, sid, url.Values{"ackId": {"0"}})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "refresh") {
		t.Fatalf("tombstone reply: %d %s", rec.Code, rec.Body.String())
	}
}
