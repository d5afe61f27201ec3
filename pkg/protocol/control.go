package protocol

import "fmt"

// Control message types carried in a control frame.
const (
	ControlPing   byte = 0x01
	ControlPong   byte = 0x02
	ControlResync byte = 0x03
	ControlClose  byte = 0x04
)

// Close reasons.
const (
	CloseNormal      byte = 0x00
	CloseSessionDead byte = 0x01
	CloseProtocol    byte = 0x02
	CloseHijack      byte = 0x03
	CloseServerDown  byte = 0x04
)

// Control is a transport-level control message. Seq is used by
// ping/pong for round-trip matching; Reason only applies to close.
type Control struct {
	Kind   byte
	Seq    uint64
	Reason byte
}

// Encode serializes the control message into a control frame payload.
func (c *Control) Encode(e *Encoder) {
	e.Byte(c.Kind)
	e.Uvarint(c.Seq)
	e.Byte(c.Reason)
}

// DecodeControl parses a control frame payload.
func DecodeControl(d *Decoder) (*Control, error) {
	kind, err := d.Byte()
	if err != nil {
		return nil, err
	}
	switch kind {
	case ControlPing, ControlPong, ControlResync, ControlClose:
	default:
		return nil, fmt.Errorf("protocol: unknown control kind 0x%02x", kind)
	}
	seq, err := d.Uvarint()
	if err != nil {
		return nil, err
	}
	reason, err := d.Byte()
	if err != nil {
		return nil, err
	}
	return &Control{Kind: kind, Seq: seq, Reason: reason}, nil
}
