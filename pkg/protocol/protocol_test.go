package protocol

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		typ     FrameType
		flags   FrameFlags
		payload []byte
	}{
		{"empty control", FrameControl, 0, nil},
		{"signal with payload", FrameSignal, FlagFinal, []byte("click.b7")},
		{"update priority", FrameUpdate, FlagPriority, bytes.Repeat([]byte{0xab}, 1024)},
		{"max payload", FrameAck, 0, make([]byte, MaxPayloadSize)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewFrame(tt.typ, tt.flags, tt.payload)
			if err != nil {
				t.Fatalf("NewFrame: %v", err)
			}
			var buf bytes.Buffer
			if err := WriteFrame(&buf, f); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}
			got, err := ReadFrame(&buf)
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if got.Type != tt.typ || got.Flags != tt.flags {
				t.Errorf("header mismatch: got type=%v flags=%v", got.Type, got.Flags)
			}
			if !bytes.Equal(got.Payload, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got.Payload), len(tt.payload))
			}
		})
	}
}

func TestFrameTooLarge(t *testing.T) {
	_, err := NewFrame(FrameUpdate, 0, make([]byte, MaxPayloadSize+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestReadFrameTruncated(t *testing.T) {
	// Header claims an 8-byte payload but only 3 bytes follow.
	data := []byte{byte(FrameSignal), 0, 0, 8, 1, 2, 3}
	_, err := ReadFrame(bytes.NewReader(data))
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestDecodeFrameInvalidType(t *testing.T) {
	data := []byte{0x7f, 0, 0, 0}
	if _, err := DecodeFrame(data); !errors.Is(err, ErrInvalidFrameType) {
		t.Fatalf("got %v, want ErrInvalidFrameType", err)
	}
}

func TestClientHelloRoundTrip(t *testing.T) {
	in := &ClientHello{
		Version:   ProtocolVersion,
		SessionID: "f00dfeedf00dfeedf00dfeedf00dfeed",
		AckID:     42,
		UserAgent: "Mozilla/5.0",
	}
	e := NewEncoder()
	in.Encode(e)
	out, err := DecodeClientHello(NewDecoder(e.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestClientHelloVersionMismatch(t *testing.T) {
	e := NewEncoder()
	(&ClientHello{Version: 99, SessionID: "x"}).Encode(e)
	if _, err := DecodeClientHello(NewDecoder(e.Bytes())); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("got %v, want ErrVersionMismatch", err)
	}
}

func TestServerHelloRoundTrip(t *testing.T) {
	in := &ServerHello{Status: HandshakeOK, SessionID: "abc", NextUpdateID: 7, ServerTime: 1724800000}
	e := NewEncoder()
	in.Encode(e)
	out, err := DecodeServerHello(NewDecoder(e.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestSignalInvocationRoundTrip(t *testing.T) {
	in := &SignalInvocation{
		Signal: "b42.clicked",
		AckID:  5,
		Params: []Param{
			{Key: "e1", Value: "mouse"},
			{Key: "x", Value: "120"},
			{Key: "x", Value: "121"},
		},
	}
	e := NewEncoder()
	in.Encode(e)
	out, err := DecodeSignalInvocation(NewDecoder(e.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Signal != in.Signal || out.AckID != in.AckID {
		t.Errorf("header mismatch: got %+v", out)
	}
	if len(out.Params) != len(in.Params) {
		t.Fatalf("param count: got %d, want %d", len(out.Params), len(in.Params))
	}
	for i, p := range in.Params {
		if out.Params[i] != p {
			t.Errorf("param %d: got %+v, want %+v", i, out.Params[i], p)
		}
	}
}

func TestSignalInvocationHostileCount(t *testing.T) {
	// A hand-built payload claiming an absurd param count must be
	// rejected before any allocation happens.
	e := NewEncoder()
	e.String("b1.clicked")
	e.Uvarint(0)
	e.Uvarint(MaxCollectionCount + 1)
	_, err := DecodeSignalInvocation(NewDecoder(e.Bytes()))
	if !errors.Is(err, ErrCollectionTooLarge) {
		t.Fatalf("got %v, want ErrCollectionTooLarge", err)
	}
}

func TestDecoderHostileStringLength(t *testing.T) {
	// Length prefix larger than the remaining buffer.
	e := NewEncoder()
	e.Uvarint(1 << 30)
	e.Raw([]byte("short"))
	if _, err := NewDecoder(e.Bytes()).String(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	in := &Update{ID: 9, Script: strings.Repeat("Loom.setText('o1','x');", 64)}
	e := NewEncoder()
	in.Encode(e)
	out, err := DecodeUpdate(NewDecoder(e.Bytes()))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch")
	}
}

func TestControlRoundTrip(t *testing.T) {
	tests := []Control{
		{Kind: ControlPing, Seq: 1},
		{Kind: ControlPong, Seq: 1},
		{Kind: ControlResync, Seq: 0},
		{Kind: ControlClose, Reason: CloseSessionDead},
	}
	for _, in := range tests {
		e := NewEncoder()
		in.Encode(e)
		out, err := DecodeControl(NewDecoder(e.Bytes()))
		if err != nil {
			t.Fatalf("decode kind 0x%02x: %v", in.Kind, err)
		}
		if *out != in {
			t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
		}
	}
}

func TestControlUnknownKind(t *testing.T) {
	e := NewEncoder()
	e.Byte(0x7e)
	e.Uvarint(0)
	e.Byte(0)
	if _, err := DecodeControl(NewDecoder(e.Bytes())); err == nil {
		t.Fatal("expected error for unknown control kind")
	}
}
