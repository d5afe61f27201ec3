package server

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/loomdev/loom/pkg/protocol"
	"github.com/loomdev/loom/pkg/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPongTimeout  = 60 * time.Second
	wsPingInterval = 25 * time.Second
)

// wsConn serializes frame writes to one WebSocket connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeFrame(f *protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, f.Encode())
}

func (c *wsConn) writeControl(kind, reason byte) {
	e := protocol.NewEncoder()
	(&protocol.Control{Kind: kind, Reason: reason}).Encode(e)
	if f, err := protocol.NewFrame(protocol.FrameControl, 0, e.Bytes()); err == nil {
		c.writeFrame(f)
	}
}

// handleWebSocket upgrades to the live transport. Only bootstrapped
// sessions may upgrade; a tab that never ran the script has no
// business holding a socket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wtd := r.URL.Query().Get("wtd")
	if wtd == "" {
		http.Error(w, "no session", http.StatusNotFound)
		return
	}
	sess, err := s.controller.Lookup(wtd)
	if err != nil {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	if err := sess.CheckClient(r.UserAgent(), s.clientIP(r)); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	if sess.State() == session.JustCreated {
		http.Error(w, "session not bootstrapped", http.StatusForbidden)
		return
	}

	raw, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", "session_id", wtd, "error", err)
		return
	}
	conn := &wsConn{conn: raw}
	defer raw.Close()

	if !s.wsHandshake(conn, sess) {
		return
	}
	// While the socket is open, updates that become collectable outside
	// a client request (deferred rendering resuming) are pushed here.
	sess.SetPush(func() {
		if u := sess.Renderer().CollectUpdate(); u != nil {
			s.writeUpdateFrame(conn, u)
		}
	})
	defer sess.SetPush(nil)
	s.wsReadLoop(r, conn, sess)
}

// wsHandshake consumes the ClientHello and answers it. Reports
// whether the connection may proceed.
func (s *Server) wsHandshake(conn *wsConn, sess *session.Session) bool {
	conn.conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
	_, data, err := conn.conn.ReadMessage()
	if err != nil {
		return false
	}
	f, err := protocol.DecodeFrame(data)
	if err != nil || f.Type != protocol.FrameHandshake {
		conn.writeControl(protocol.ControlClose, protocol.CloseProtocol)
		return false
	}
	hello, err := protocol.DecodeClientHello(protocol.NewDecoder(f.Payload))
	if err != nil {
		conn.writeControl(protocol.ControlClose, protocol.CloseProtocol)
		return false
	}
	if err := sess.Authorize(session.CredentialFromString(hello.SessionID)); err != nil {
		s.writeServerHello(conn, protocol.HandshakeForbidden, sess, 0)
		return false
	}
	if sess.Dead() {
		s.writeServerHello(conn, protocol.HandshakeSessionDead, sess, 0)
		return false
	}

	h, err := sess.Acquire(context.Background())
	if err != nil {
		s.writeServerHello(conn, protocol.HandshakeSessionDead, sess, 0)
		return false
	}
	next := sess.Renderer().LastIssued() + 1
	missed := sess.Renderer().Redeliver(hello.AckID)
	h.Release()

	s.writeServerHello(conn, protocol.HandshakeOK, sess, next)
	// Resume: replay whatever the client missed while offline.
	for _, u := range missed {
		s.writeUpdateFrame(conn, u)
	}
	return true
}

func (s *Server) writeServerHello(conn *wsConn, status byte, sess *session.Session, next uint64) {
	e := protocol.NewEncoder()
	(&protocol.ServerHello{
		Status:       status,
		SessionID:    sess.Credential().String(),
		NextUpdateID: next,
		ServerTime:   uint64(time.Now().Unix()),
	}).Encode(e)
	if f, err := protocol.NewFrame(protocol.FrameHandshake, 0, e.Bytes()); err == nil {
		conn.writeFrame(f)
	}
}

func (s *Server) writeUpdateFrame(conn *wsConn, u *protocol.Update) {
	e := protocol.NewEncoder()
	u.Encode(e)
	// Oversized batches fall back to chunked frames with the final
	// flag closing the sequence.
	if e.Len() <= protocol.MaxPayloadSize {
		if f, err := protocol.NewFrame(protocol.FrameUpdate, protocol.FlagFinal, e.Bytes()); err == nil {
			conn.writeFrame(f)
		}
		return
	}
	payload := e.Bytes()
	for len(payload) > 0 {
		n := len(payload)
		var flags protocol.FrameFlags
		if n > protocol.MaxPayloadSize {
			n = protocol.MaxPayloadSize
		} else {
			flags = protocol.FlagFinal
		}
		f, err := protocol.NewFrame(protocol.FrameUpdate, flags, payload[:n])
		if err != nil {
			return
		}
		if err := conn.writeFrame(f); err != nil {
			return
		}
		payload = payload[n:]
	}
}

func (s *Server) wsReadLoop(r *http.Request, conn *wsConn, sess *session.Session) {
	raw := conn.conn
	raw.SetReadDeadline(time.Now().Add(wsPongTimeout))

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				conn.writeControl(protocol.ControlPing, 0)
			}
		}
	}()

	var partial bytes.Buffer
	for {
		if sess.Dead() {
			conn.writeControl(protocol.ControlClose, protocol.CloseSessionDead)
			return
		}
		_, data, err := raw.ReadMessage()
		if err != nil {
			return
		}
		raw.SetReadDeadline(time.Now().Add(wsPongTimeout))

		f, err := protocol.DecodeFrame(data)
		if err != nil {
			conn.writeControl(protocol.ControlClose, protocol.CloseProtocol)
			return
		}

		switch f.Type {
		case protocol.FrameSignal:
			// Signal payloads may span frames; only a final flag
			// completes one.
			partial.Write(f.Payload)
			if !f.Flags.Has(protocol.FlagFinal) {
				continue
			}
			payload := append([]byte(nil), partial.Bytes()...)
			partial.Reset()
			if !s.wsDispatch(r, conn, sess, payload) {
				return
			}
		case protocol.FrameAck:
			ack, err := protocol.DecodeAck(protocol.NewDecoder(f.Payload))
			if err != nil {
				continue
			}
			h, err := sess.Acquire(r.Context())
			if err != nil {
				conn.writeControl(protocol.ControlClose, protocol.CloseSessionDead)
				return
			}
			badAck := sess.Renderer().Ack(ack.ID) != nil
			h.Release()
			if badAck {
				conn.writeControl(protocol.ControlClose, protocol.CloseProtocol)
				return
			}
		case protocol.FrameControl:
			ctl, err := protocol.DecodeControl(protocol.NewDecoder(f.Payload))
			if err != nil {
				continue
			}
			switch ctl.Kind {
			case protocol.ControlPing:
				conn.writeControl(protocol.ControlPong, 0)
			case protocol.ControlResync:
				// The client lost track of applied updates; Seq is the
				// last id it is sure about.
				h, err := sess.Acquire(r.Context())
				if err != nil {
					conn.writeControl(protocol.ControlClose, protocol.CloseSessionDead)
					return
				}
				missed := sess.Renderer().Redeliver(ctl.Seq)
				h.Release()
				for _, u := range missed {
					s.writeUpdateFrame(conn, u)
				}
			case protocol.ControlClose:
				return
			}
		default:
			conn.writeControl(protocol.ControlClose, protocol.CloseProtocol)
			return
		}
	}
}

// wsDispatch delivers one signal invocation and pushes the resulting
// update. Reports whether the connection should stay open.
func (s *Server) wsDispatch(r *http.Request, conn *wsConn, sess *session.Session, payload []byte) bool {
	si, err := protocol.DecodeSignalInvocation(protocol.NewDecoder(payload))
	if err != nil {
		conn.writeControl(protocol.ControlClose, protocol.CloseProtocol)
		return false
	}
	inv, ok := session.InvocationFromFrame(si)
	if !ok {
		return true
	}

	sess.Touch()
	h, err := sess.Acquire(r.Context())
	if err != nil {
		conn.writeControl(protocol.ControlClose, protocol.CloseSessionDead)
		return false
	}
	defer h.Release()

	rend := sess.Renderer()
	if err := rend.Ack(si.AckID); err != nil {
		s.log.Warn("rejected ack on live transport",
			"session_id", sess.Credential().String(), "ack_id", si.AckID)
		conn.writeControl(protocol.ControlClose, protocol.CloseProtocol)
		return false
	}

	learned, err := sess.Dispatch(r.Context(), []session.Invocation{inv})
	if err != nil {
		s.log.Error("dispatch failed",
			"session_id", sess.Credential().String(), "error", err)
		if sess.Dead() {
			conn.writeControl(protocol.ControlClose, protocol.CloseSessionDead)
			return false
		}
		return true
	}

	u := rend.CollectUpdate()
	if u != nil {
		// The learned script rides the collected batch, sharing its id
		// for redelivery.
		if learned != "" {
			u.Script = learned + u.Script
		}
	} else if learned != "" {
		u = rend.IssueScript(learned)
	}
	if u != nil {
		s.writeUpdateFrame(conn, u)
	}
	return true
}
