package bridge

import (
	"bytes"
	"testing"
)

func TestEnvelopeEncodeDecodeRoundTrip(t *testing.T) {
	in := Envelope{
		SourceTag:       SourceSBS,
		TimestampMicros: 1700000000123456,
		Payload:         []byte("MSG,3,1,1,AB1234,1,,,,,,35000,,,37.7749,-122.4194,,,,,,0"),
	}

	out, err := Decode(Encode(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SourceTag != in.SourceTag {
		t.Errorf("source tag = %d, want %d", out.SourceTag, in.SourceTag)
	}
	if out.TimestampMicros != in.TimestampMicros {
		t.Errorf("timestamp = %d, want %d", out.TimestampMicros, in.TimestampMicros)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Errorf("payload = %q, want %q", out.Payload, in.Payload)
	}
}

func TestDecodeRejectsShortAndWrongVersion(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated envelope")
	}

	raw := Encode(Envelope{SourceTag: SourceOGN, TimestampMicros: 1})
	raw[0] = 99
	if _, err := Decode(raw); err == nil {
		t.Error("expected error for unsupported envelope version")
	}
}

func TestEncodeEmptyPayload(t *testing.T) {
	out, err := Decode(Encode(Envelope{SourceTag: SourceBeast, TimestampMicros: 42}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(out.Payload))
	}
}
