package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/loomdev/loom/pkg/app"
	"github.com/loomdev/loom/pkg/dom"
	"github.com/loomdev/loom/pkg/httpx"
	"github.com/loomdev/loom/pkg/protocol"
	"github.com/loomdev/loom/pkg/resource"
	"github.com/loomdev/loom/pkg/session"
)

// loadSignal is the synthetic signal the runtime sends once the
// bootstrap script has run.
const loadSignal = "app.load"

// sessionCookieName is the tracking cookie routing requests to their
// session. The cookie routes; the wtd parameter authorizes.
const sessionCookieName = "loomsid"

// updateHoldTimeout bounds how long a poll reply is held open while
// the application has rendering deferred.
const updateHoldTimeout = 20 * time.Second

func (s *Server) handleApp(w http.ResponseWriter, r *http.Request) {
	resp := httpx.NewResponse(w)
	params, _, err := httpx.ParseParams(r)
	if err != nil {
		s.fail(resp, http.StatusBadRequest, "malformed request")
		return
	}

	wtd := params.SessionID()
	if wtd == "" {
		if params.RequestKind() != httpx.RequestPage {
			// Session-bound request kinds need a credential.
			s.fail(resp, http.StatusNotFound, "no session")
			return
		}
		s.bootstrap(resp, r, params)
		return
	}

	sess, _ := s.lookup(resp, r, wtd)
	if sess == nil {
		return
	}
	sess.Touch()

	h, err := sess.Acquire(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrSessionDead) {
			s.serveReload(resp)
			return
		}
		s.fail(resp, http.StatusInternalServerError, "session busy")
		return
	}
	defer h.Release()

	switch params.RequestKind() {
	case httpx.RequestScript:
		s.serveScript(h, resp)
	case httpx.RequestUpdate:
		s.serveUpdate(r, h, params, resp)
	case httpx.RequestJSError:
		s.log.Warn("client script error",
			"session_id", wtd, "error", params.Get(httpx.ParamJSError))
		resp.Flush()
	case httpx.RequestStyle:
		resp.SetHeader("Content-Type", "text/css; charset=utf-8")
		resp.WriteString(".loom-hidden{display:none}\n")
		resp.Flush()
	case httpx.RequestPage:
		s.servePlainPage(r, h, params, resp)
	default:
		s.fail(resp, http.StatusBadRequest, "unknown request kind")
	}
}

// lookup resolves and authorizes the session, writing the error
// response itself on failure.
func (s *Server) lookup(resp *httpx.Response, r *http.Request, wtd string) (*session.Session, error) {
	sess, err := s.resolve(r, wtd)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionDead):
			s.serveReload(resp)
		case errors.Is(err, session.ErrForbidden):
			s.fail(resp, http.StatusForbidden, "forbidden")
		default:
			s.fail(resp, http.StatusNotFound, "unknown session")
		}
		return nil, err
	}
	if err := sess.CheckClient(r.UserAgent(), s.clientIP(r)); err != nil {
		s.fail(resp, http.StatusForbidden, "forbidden")
		return nil, err
	}
	return sess, nil
}

// resolve routes a request to its session: the tracking cookie first,
// the wtd parameter as fallback. A session reached through the cookie
// still demands a matching wtd credential, so a forged or stale wtd on
// a cookie-bearing request is forbidden rather than unknown.
func (s *Server) resolve(r *http.Request, wtd string) (*session.Session, error) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		if sess, err := s.controller.Lookup(c.Value); err == nil {
			if err := sess.Authorize(session.CredentialFromString(wtd)); err != nil {
				return nil, err
			}
			return sess, nil
		}
	}
	return s.controller.Lookup(wtd)
}

// bootstrap creates a session and serves the HTML shell.
func (s *Server) bootstrap(resp *httpx.Response, r *http.Request, params httpx.Params) {
	// Ajax stays unset until the request that starts the application
	// reveals whether the client ran the bootstrap script.
	env := &app.Environment{
		UserAgent:    r.UserAgent(),
		ClientIP:     s.clientIP(r),
		Locale:       r.Header.Get("Accept-Language"),
		Params:       params,
		InternalPath: strings.TrimPrefix(r.URL.Path, s.cfg.BasePath),
	}
	sess, err := s.controller.Create(env)
	if err != nil {
		if errors.Is(err, session.ErrTooManySessions) {
			s.fail(resp, http.StatusServiceUnavailable, "too many sessions")
			return
		}
		s.fail(resp, http.StatusInternalServerError, "cannot create session")
		return
	}

	sid := sess.Credential().String()
	noscript := fmt.Sprintf(`<a href="%s?wtd=%s">Continue without JavaScript</a>`,
		s.cfg.BasePath, sid)
	s.setSessionCookie(resp, sid)
	resp.SetHeader("Content-Type", "text/html; charset=utf-8")
	resp.SetHeader("Cache-Control", "no-store")
	resp.WriteString(bootstrapPage(s.cfg.BasePath, sid, noscript))
	resp.Flush()
}

// serveScript performs the script bootstrap: the application is
// created, the page rendered, and everything shipped as one script.
// Re-requests re-render the current page so a reloading tab recovers.
func (s *Server) serveScript(h *session.Handler, resp *httpx.Response) {
	sess := h.Session()
	if sess.State() == session.JustCreated {
		// Reaching the script request proves the client runs script.
		sess.Env().Ajax = true
		if err := h.InitApp(s.factory); err != nil {
			s.log.Error("application init failed",
				"session_id", sess.Credential().String(), "error", err)
			sess.Kill(session.KillBootstrapFailed)
			s.fail(resp, http.StatusInternalServerError, "application failed")
			return
		}
		if err := h.ServeScript(); err != nil {
			s.fail(resp, http.StatusForbidden, "forbidden")
			return
		}
	}

	html := sess.Renderer().RenderPage()
	resp.SetHeader("Content-Type", "text/javascript; charset=utf-8")
	resp.SetHeader("Cache-Control", "no-store")
	fmt.Fprintf(resp, "Loom.sid=%s;Loom.base=%s;Loom.ackTo(0);Loom.setPage(%s);",
		dom.JSString(sess.Credential().String()),
		dom.JSString(s.cfg.BasePath),
		dom.JSString(html))
	fmt.Fprintf(resp, "Loom.post([{s:%s}]);", dom.JSString(loadSignal))
	resp.Flush()
}

// serveUpdate handles one event batch from a script session and
// replies with the next update script.
func (s *Server) serveUpdate(r *http.Request, h *session.Handler, params httpx.Params, resp *httpx.Response) {
	sess := h.Session()
	rend := sess.Renderer()

	ackID, ok := params.AckID()
	if !ok {
		s.fail(resp, http.StatusBadRequest, "missing ackId")
		return
	}
	if err := rend.Ack(ackID); err != nil {
		s.log.Warn("rejected ack",
			"session_id", sess.Credential().String(), "ack_id", ackID)
		s.fail(resp, http.StatusForbidden, "forbidden")
		return
	}
	redeliver := rend.Redeliver(ackID)

	var invs []session.Invocation
	for _, inv := range session.InvocationsFromParams(params) {
		if inv.Target+"."+inv.EventType == loadSignal {
			if sess.State() == session.ExpectLoad {
				if err := h.ConfirmLoad(); err != nil {
					s.fail(resp, http.StatusForbidden, "forbidden")
					return
				}
			}
			continue
		}
		invs = append(invs, inv)
	}

	resp.SetHeader("Content-Type", "text/javascript; charset=utf-8")
	resp.SetHeader("Cache-Control", "no-store")

	// A handler may open a modal loop; the reply then goes out before
	// dispatch finishes and later mutations ride the next poll.
	h.OnSuspend(func() {
		s.writeUpdate(resp, rend, nil, "")
	})

	learned, err := sess.Dispatch(r.Context(), invs)
	if err != nil {
		if !resp.Flushed() {
			s.fail(resp, http.StatusInternalServerError, "dispatch failed")
		}
		return
	}
	if resp.Flushed() {
		return
	}

	if rend.Deferred() {
		// The application deferred rendering past this request. Hold
		// the reply open until the outermost resume so the client
		// never observes the half-built state.
		holdCtx, cancel := context.WithTimeout(r.Context(), updateHoldTimeout)
		err := h.AwaitResume(holdCtx)
		cancel()
		if err != nil {
			s.serveReload(resp)
			return
		}
	}
	s.writeUpdate(resp, rend, redeliver, learned)
}

func (s *Server) writeUpdate(resp *httpx.Response, rend *session.Renderer,
	redeliver []*protocol.Update, learned string) {
	for _, u := range redeliver {
		resp.WriteString(u.Script)
	}
	if u := rend.CollectUpdate(); u != nil {
		// The learned script rides the collected batch, sharing its id
		// for redelivery.
		if learned != "" {
			u.Script = learned + u.Script
		}
		resp.WriteString(u.Script)
	} else if learned != "" {
		resp.WriteString(rend.IssueScript(learned).Script)
	}
	fmt.Fprintf(resp, "Loom.ackTo(%d);", rend.LastIssued())
	resp.Flush()
}

// servePlainPage is the no-script fallback: dispatch any form events,
// then render the whole page again.
func (s *Server) servePlainPage(r *http.Request, h *session.Handler, params httpx.Params, resp *httpx.Response) {
	sess := h.Session()
	if sess.State() == session.JustCreated {
		if err := h.InitApp(s.factory); err != nil {
			sess.Kill(session.KillBootstrapFailed)
			s.fail(resp, http.StatusInternalServerError, "application failed")
			return
		}
		// Plain sessions have no load round trip; they are live at
		// once.
		h.ServeScript()
		h.ConfirmLoad()
	}

	if invs := session.InvocationsFromParams(params); len(invs) > 0 {
		if _, err := sess.Dispatch(r.Context(), invs); err != nil {
			s.fail(resp, http.StatusInternalServerError, "dispatch failed")
			return
		}
	}

	html := sess.Renderer().RenderPage()
	resp.SetHeader("Content-Type", "text/html; charset=utf-8")
	resp.SetHeader("Cache-Control", "no-store")
	fmt.Fprintf(resp, "<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"></head><body>%s</body></html>", html)
	resp.Flush()
}

// handleResource streams one chunk of a session resource.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	resp := httpx.NewResponse(w)
	params, _, err := httpx.ParseParams(r)
	if err != nil {
		s.fail(resp, http.StatusBadRequest, "malformed request")
		return
	}
	wtd := params.SessionID()
	if wtd == "" {
		s.fail(resp, http.StatusNotFound, "no session")
		return
	}
	sess, _ := s.lookup(resp, r, wtd)
	if sess == nil {
		return
	}
	sess.Touch()

	h, err := sess.Acquire(r.Context())
	if err != nil {
		s.fail(resp, http.StatusNotFound, "session gone")
		return
	}
	defer h.Release()

	rid := chi.URLParam(r, "rid")
	res := sess.Resources().Get(rid)
	if res == nil {
		s.fail(resp, http.StatusNotFound, "no such resource")
		return
	}

	req := &resource.Request{Params: params}
	if token := params.Get("cont"); token != "" {
		c := sess.Continuations().Take(token)
		if c == nil {
			s.fail(resp, http.StatusNotFound, "stale continuation")
			return
		}
		req.Continuation = c.Data
	}

	more, err := res.Serve(r.Context(), req, resp)
	if err != nil {
		s.log.Error("resource failed", "session_id", wtd, "resource", rid, "error", err)
		if !resp.Flushed() {
			s.fail(resp, http.StatusInternalServerError, "resource failed")
		}
		return
	}
	if more != nil {
		c := sess.Continuations().Create(more)
		resp.SetHeader("X-Loom-Continuation", c.Token)
	}
	resp.Flush()
}

func (s *Server) serveReload(resp *httpx.Response) {
	resp.SetHeader("Content-Type", "text/html; charset=utf-8")
	resp.SetHeader("Cache-Control", "no-store")
	resp.WriteString(reloadPage(s.cfg.BasePath))
	resp.Flush()
}

func (s *Server) setSessionCookie(resp *httpx.Response, sid string) {
	cookie := &http.Cookie{
		Name:     sessionCookieName,
		Value:    sid,
		Path:     s.cfg.BasePath,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	resp.SetHeader("Set-Cookie", cookie.String())
}

func (s *Server) fail(resp *httpx.Response, status int, msg string) {
	resp.SetStatus(status)
	resp.SetHeader("Content-Type", "text/plain; charset=utf-8")
	resp.WriteString(msg)
	resp.Flush()
}
