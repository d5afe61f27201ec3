package protocol

import "errors"

// ProtocolVersion is the wire version negotiated during handshake.
const ProtocolVersion = 1

// Handshake status codes returned in a ServerHello.
const (
	HandshakeOK            byte = 0x00
	HandshakeNewSession    byte = 0x01
	HandshakeSessionDead   byte = 0x02
	HandshakeVersionError  byte = 0x03
	HandshakeForbidden     byte = 0x04
	HandshakeLimitExceeded byte = 0x05
)

var ErrVersionMismatch = errors.New("protocol: version mismatch")

// ClientHello is the first frame a client sends on the live transport.
// SessionID carries the session credential; AckID is the last update
// the client has applied, so a reconnecting client can resume.
type ClientHello struct {
	Version   uint8
	SessionID string
	AckID     uint64
	UserAgent string
}

// Encode serializes the hello into a handshake frame payload.
func (h *ClientHello) Encode(e *Encoder) {
	e.Byte(h.Version)
	e.String(h.SessionID)
	e.Uvarint(h.AckID)
	e.String(h.UserAgent)
}

// DecodeClientHello parses a handshake frame payload.
func DecodeClientHello(d *Decoder) (*ClientHello, error) {
	v, err := d.Byte()
	if err != nil {
		return nil, err
	}
	if v != ProtocolVersion {
		return nil, ErrVersionMismatch
	}
	sid, err := d.String()
	if err != nil {
		return nil, err
	}
	ack, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	ua, err := d.String()
	if err != nil {
		return nil, err
	}
	return &ClientHello{Version: v, SessionID: sid, AckID: ack, UserAgent: ua}, nil
}

// ServerHello is the server's handshake response. NextUpdateID tells
// the client which update sequence number to expect next.
type ServerHello struct {
	Status       byte
	SessionID    string
	NextUpdateID uint64
	ServerTime   uint64
}

// Encode serializes the hello into a handshake frame payload.
func (h *ServerHello) Encode(e *Encoder) {
	e.Byte(h.Status)
	e.String(h.SessionID)
	e.Uvarint(h.NextUpdateID)
	e.Uint64(h.ServerTime)
}

// DecodeServerHello parses a handshake frame payload.
func DecodeServerHello(d *Decoder) (*ServerHello, error) {
	st, err := d.Byte()
	if err != nil {
		return nil, err
	}
	sid, err := d.String()
	if err != nil {
		return nil, err
	}
	next, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	ts, err := d.Uint64()
	if err != nil {
		return nil, err
	}
	return &ServerHello{Status: st, SessionID: sid, NextUpdateID: next, ServerTime: ts}, nil
}
