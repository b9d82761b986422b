package msgnet

import (
	"testing"

	"github.com/ugorji/go/codec"
)

type testGreeting struct {
	Msg string
}

func TestEncodeDecodeEnvelopeRoundTrip(t *testing.T) {
	info := PacketInfo{ID: 42, ReqID: 7, IsResp: true}
	msg := testGreeting{Msg: "hello"}

	buf, err := encodeEnvelope(info, msg)
	if err != nil {
		t.Fatalf("encodeEnvelope: %v", err)
	}

	dec := codec.NewDecoderBytes(buf, mh)
	gotInfo, raw, ok, err := decodeEnvelope(dec)
	if err != nil {
		t.Fatalf("decodeEnvelope: %v", err)
	}
	if !ok {
		t.Fatal("decodeEnvelope: expected ok=true for a well-formed envelope")
	}
	if gotInfo != info {
		t.Fatalf("PacketInfo round-trip mismatch: got %+v, want %+v", gotInfo, info)
	}

	gotMsg, err := decodePayload[testGreeting](raw)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if gotMsg != msg {
		t.Fatalf("payload round-trip mismatch: got %+v, want %+v", gotMsg, msg)
	}
}

func TestDecodeEnvelopeRejectsWrongArity(t *testing.T) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, mh)
	if err := enc.Encode([]any{PacketInfo{ID: 1}, testGreeting{Msg: "x"}, "unexpected third element"}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	dec := codec.NewDecoderBytes(buf, mh)
	_, _, ok, err := decodeEnvelope(dec)
	if err != nil {
		t.Fatalf("decodeEnvelope returned an error instead of ok=false: %v", err)
	}
	if ok {
		t.Fatal("decodeEnvelope: expected ok=false for a 3-element frame")
	}
}

func TestDecodePayloadTypeMismatch(t *testing.T) {
	type other struct {
		X int
		Y int
		Z int
	}
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, mh)
	if err := enc.Encode(other{X: 1, Y: 2, Z: 3}); err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Decoding an array of 3 ints into a single-field struct is exactly the
	// kind of shape mismatch AddHandler's trampoline must turn into
	// UnpackError rather than a panic.
	if _, err := decodePayload[testGreeting](buf); err == nil {
		t.Fatal("expected decodePayload to fail on a shape mismatch")
	}
}
