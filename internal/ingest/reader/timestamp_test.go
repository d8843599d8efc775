package reader

import "testing"

func TestEncodeDecodeTimestampedRoundTrip(t *testing.T) {
	payload := []byte("FLRDDA5BA>APRS,qAS,LFMX:/120000h/0000/000000")
	encoded := EncodeTimestamped(1700000000123456, payload)

	micros, decoded, err := DecodeTimestamped(encoded)
	if err != nil {
		t.Fatalf("DecodeTimestamped: %v", err)
	}
	if micros != 1700000000123456 {
		t.Errorf("expected micros 1700000000123456, got %d", micros)
	}
	if string(decoded) != string(payload) {
		t.Errorf("expected payload %q, got %q", payload, decoded)
	}
}

func TestDecodeTimestampedRejectsShortInput(t *testing.T) {
	if _, _, err := DecodeTimestamped([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short input")
	}
}

func TestEncodeTimestampedEmptyPayload(t *testing.T) {
	encoded := EncodeTimestamped(42, nil)
	micros, payload, err := DecodeTimestamped(encoded)
	if err != nil {
		t.Fatalf("DecodeTimestamped: %v", err)
	}
	if micros != 42 {
		t.Errorf("expected micros 42, got %d", micros)
	}
	if len(payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(payload))
	}
}
