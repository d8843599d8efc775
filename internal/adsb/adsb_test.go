package adsb

import (
	"testing"

	"github.com/hut8/soar/internal/model"
)

func TestGroundCapability(t *testing.T) {
	cases := []struct {
		ca   byte
		want model.OnGround
	}{
		{ca: 4, want: model.OnGroundTrue},
		{ca: 5, want: model.OnGroundFalse},
		{ca: 0, want: model.OnGroundUnknown},
		{ca: 6, want: model.OnGroundUnknown},
	}
	for _, tc := range cases {
		if got := groundCapability(tc.ca); got != tc.want {
			t.Errorf("groundCapability(%d) = %v, want %v", tc.ca, got, tc.want)
		}
	}
}

func TestTrimTrailingFiller(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ABCD??  ", "ABCD"},
		{"N628SA  ", "N628SA"},
		{"????????", ""},
		{"ABCDEFGH", "ABCDEFGH"},
	}
	for _, tc := range cases {
		if got := trimTrailingFiller(tc.in); got != tc.want {
			t.Errorf("trimTrailingFiller(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecodeAC12(t *testing.T) {
	// Q bit (bit 4, 0x10) unset: Gillham-coded, not decoded by this system.
	if _, ok := decodeAC12(0x0000); ok {
		t.Fatal("decodeAC12(0) should report no altitude")
	}
	if _, ok := decodeAC12(0x0005); ok {
		t.Fatal("decodeAC12 with Q bit unset should report no altitude")
	}

	// Q bit set (0x10): altitude = N*25 - 1000 where N packs the
	// remaining 11 bits around the Q bit.
	ft, ok := decodeAC12(0x10) // N=0 -> -1000ft
	if !ok || ft != -1000 {
		t.Fatalf("decodeAC12(0x10) = (%d, %v), want (-1000, true)", ft, ok)
	}
}

// packCallsignChars packs 8 six-bit charset indices into the 6-byte ME
// payload layout decodeCallsign expects at me[1..6], MSB-first.
func packCallsignChars(indices [8]byte) []byte {
	var bits []byte
	for _, v := range indices {
		for shift := 5; shift >= 0; shift-- {
			bits = append(bits, (v>>uint(shift))&1)
		}
	}
	me := make([]byte, 7)
	for i := 1; i <= 6; i++ {
		var b byte
		for j := 0; j < 8; j++ {
			b = b<<1 | bits[(i-1)*8+j]
		}
		me[i] = b
	}
	return me
}

func TestDecodeCallsign(t *testing.T) {
	// charset = "?ABCDEFGHIJKLMNOPQRSTUVWXYZ????? ???????????????0123456789??????"
	// index 1 = 'A' .. index 8 = 'H'.
	me := packCallsignChars([8]byte{1, 2, 3, 4, 5, 6, 7, 8})
	if got, want := decodeCallsign(me), "ABCDEFGH"; got != want {
		t.Errorf("decodeCallsign = %q, want %q", got, want)
	}

	// Trailing filler (space = index 32) is trimmed.
	me = packCallsignChars([8]byte{14, 1, 7, 20, 32, 32, 32, 32})
	if got, want := decodeCallsign(me), "NAGT"; got != want {
		t.Errorf("decodeCallsign = %q, want %q", got, want)
	}
}
