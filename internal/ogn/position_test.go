package ogn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func intPtr(v int) *int         { return &v }
func f32Ptr(v float32) *float32 { return &v }

func TestParsePosition(t *testing.T) {
	cases := []struct {
		name string
		body string
		want Position
		ok   bool
	}{
		{
			name: "uncompressed no timestamp",
			body: "!5111.32N/00112.05E'123/045/A=001234 id3ED1A123 +010fpm",
			want: Position{
				Latitude:  51 + 11.32/60,
				Longitude: 1 + 12.05/60,
				Comment:   "123/045/A=001234 id3ED1A123 +010fpm",
			},
			ok: true,
		},
		{
			name: "southern/western hemisphere",
			body: "!3723.45S/12200.00W'000/000/A=000500",
			want: Position{
				Latitude:  -(37 + 23.45/60),
				Longitude: -(122 + 0.0/60),
				Comment:   "000/000/A=000500",
			},
			ok: true,
		},
		{
			name: "too short",
			body: "!511",
			ok:   false,
		},
		{
			name: "unrecognized packet type",
			body: "$GPGGA,stuff",
			ok:   false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ParsePosition(tc.body)
			if ok != tc.ok {
				t.Fatalf("ParsePosition(%q) ok = %v, want %v", tc.body, ok, tc.ok)
			}
			if !tc.ok {
				return
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("ParsePosition(%q) mismatch (-want +got):\n%s", tc.body, diff)
			}
		})
	}
}

func TestParseComment(t *testing.T) {
	raw := "123/045/A=001234 id3ED1A123 +010fpm sq7000"
	want := Comment{
		CourseDegrees: intPtr(123),
		SpeedKnots:    f32Ptr(45),
		AltitudeFeet:  intPtr(1234),
		ClimbFpm:      intPtr(10),
		DeviceID:      "D1A123",
		Squawk:        "7000",
	}

	got := ParseComment(raw)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseComment(%q) mismatch (-want +got):\n%s", raw, diff)
	}
}

func TestParseCommentIgnoresUnrecognizedTokens(t *testing.T) {
	got := ParseComment("this has no recognizable fields at all")
	want := Comment{}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseComment mismatch (-want +got):\n%s", diff)
	}
}
