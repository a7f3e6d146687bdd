package protocol

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/voicegate/voicegate/internal/fault"
)

func TestParseControlEndStream(t *testing.T) {
	msg, err := ParseControl([]byte(`{"type":"end_stream"}`))
	if err != nil {
		t.Fatalf("ParseControl() error = %v", err)
	}
	if msg.Type != ActionEndStream {
		t.Fatalf("Type = %q, want %q", msg.Type, ActionEndStream)
	}
}

func TestParseControlMalformedJSONIsProtocolViolation(t *testing.T) {
	_, err := ParseControl([]byte(`{"type":`))
	if err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
	if !fault.Has(err, fault.KindProtocolViolation) {
		t.Fatalf("kind = %q, want protocol violation", fault.KindOf(err))
	}
}

func TestParseControlRejectsUnknownType(t *testing.T) {
	_, err := ParseControl([]byte(`{"type":"begin_stream"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
	if !fault.Has(err, fault.KindProtocolViolation) {
		t.Fatalf("unknown types must classify as protocol violations")
	}
}

func TestValidateAudioFrame(t *testing.T) {
	if err := ValidateAudioFrame([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("ValidateAudioFrame() error = %v", err)
	}
	if err := ValidateAudioFrame(nil); err == nil {
		t.Fatalf("empty frames must be rejected")
	}
}

func TestServerEventWireShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  any
		want string
	}{
		{"ready", NewReady("abc-123"), `{"type":"ready","sessionId":"abc-123"}`},
		{"partial", NewPartial("hel"), `{"type":"partial","text":"hel"}`},
		{"final", NewFinal("hello world"), `{"type":"final","text":"hello world"}`},
		{"error", NewError("boom"), `{"type":"error","message":"boom"}`},
		{"empty partial", NewPartial(""), `{"type":"partial","text":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := json.Marshal(tt.msg)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(raw) != tt.want {
				t.Fatalf("wire shape = %s, want %s", raw, tt.want)
			}
		})
	}
}

func TestTypeOf(t *testing.T) {
	if typ, ok := TypeOf(NewFinal("x")); !ok || typ != TypeFinal {
		t.Fatalf("TypeOf(final) = %q, %v", typ, ok)
	}
	if _, ok := TypeOf(42); ok {
		t.Fatalf("TypeOf should reject non-protocol values")
	}
}
