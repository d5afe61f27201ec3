package protocol

import (
	"errors"
	"io"
)

const (
	// FrameHeaderSize is the size of the fixed frame header in bytes.
	FrameHeaderSize = 4

	// MaxPayloadSize is the largest payload a frame can carry (2^16 - 1).
	MaxPayloadSize = 65535
)

// FrameType identifies the kind of message a frame carries.
type FrameType uint8

const (
	FrameHandshake FrameType = 0x00 // Connection setup
	FrameSignal    FrameType = 0x01 // Client -> server signal invocations
	FrameUpdate    FrameType = 0x02 // Server -> client update batch
	FrameControl   FrameType = 0x03 // Ping, resync, close
	FrameAck       FrameType = 0x04 // Client update acknowledgement
	FrameError     FrameType = 0x05 // Error report
)

// String returns the frame type name.
func (ft FrameType) String() string {
	switch ft {
	case FrameHandshake:
		return "Handshake"
	case FrameSignal:
		return "Signal"
	case FrameUpdate:
		return "Update"
	case FrameControl:
		return "Control"
	case FrameAck:
		return "Ack"
	case FrameError:
		return "Error"
	default:
		return "Unknown"
	}
}

// FrameFlags carry optional per-frame processing hints.
type FrameFlags uint8

const (
	FlagFinal    FrameFlags = 0x01 // Last frame of a batch
	FlagPriority FrameFlags = 0x02 // Skip queued work, process immediately
)

// Has reports whether flag is set.
func (ff FrameFlags) Has(flag FrameFlags) bool {
	return ff&flag != 0
}

var (
	ErrFrameTooLarge    = errors.New("protocol: frame payload too large")
	ErrInvalidFrameType = errors.New("protocol: invalid frame type")
)

// Frame is one protocol message: header plus payload.
type Frame struct {
	Type    FrameType
	Flags   FrameFlags
	Payload []byte
}

// NewFrame creates a frame, rejecting oversized payloads up front.
func NewFrame(ft FrameType, flags FrameFlags, payload []byte) (*Frame, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	if !validFrameType(ft) {
		return nil, ErrInvalidFrameType
	}
	return &Frame{Type: ft, Flags: flags, Payload: payload}, nil
}

func validFrameType(ft FrameType) bool {
	return ft <= FrameError
}

// Encode serializes the frame including its header.
func (f *Frame) Encode() []byte {
	n := len(f.Payload)
	buf := make([]byte, FrameHeaderSize+n)
	buf[0] = byte(f.Type)
	buf[1] = byte(f.Flags)
	buf[2] = byte(n >> 8)
	buf[3] = byte(n)
	copy(buf[FrameHeaderSize:], f.Payload)
	return buf
}

// DecodeFrame parses a frame from data. The input must contain the full
// header and payload.
func DecodeFrame(data []byte) (*Frame, error) {
	if len(data) < FrameHeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	if !validFrameType(FrameType(data[0])) {
		return nil, ErrInvalidFrameType
	}
	n := int(data[2])<<8 | int(data[3])
	if len(data) < FrameHeaderSize+n {
		return nil, io.ErrUnexpectedEOF
	}
	payload := make([]byte, n)
	copy(payload, data[FrameHeaderSize:FrameHeaderSize+n])
	return &Frame{
		Type:    FrameType(data[0]),
		Flags:   FrameFlags(data[1]),
		Payload: payload,
	}, nil
}

// ReadFrame reads one complete frame from r.
func ReadFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, FrameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if !validFrameType(FrameType(header[0])) {
		return nil, ErrInvalidFrameType
	}
	n := int(header[2])<<8 | int(header[3])
	if n > MaxPayloadSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return &Frame{
		Type:    FrameType(header[0]),
		Flags:   FrameFlags(header[1]),
		Payload: payload,
	}, nil
}

// WriteFrame writes f to w, rejecting oversized payloads.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxPayloadSize {
		return ErrFrameTooLarge
	}
	_, err := w.Write(f.Encode())
	return err
}
