// Package ogn parses OGN/APRS aircraft position reports: the uncompressed
// lat/lon position format and the OGN comment-field extension (course,
// speed, altitude, climb rate, device id, squawk) that rides in the same
// line. aircraftpool turns each parsed report into an accumulator
// Observation, so OGN positions pass through the same per-aircraft fusion
// as ADS-B/SBS.
package ogn

import (
	"strconv"
	"strings"
)

// Position is a decoded APRS position report body (the part after the
// leading packet-type character and optional timestamp).
type Position struct {
	Latitude  float64
	Longitude float64
	Comment   string
}

// ParsePosition decodes an uncompressed APRS position report body of the
// form "DDMM.mmN<sym>DDDMM.mmE<sym>comment", optionally preceded by a
// 7-character timestamp (the "/"/"@" packet types per APRS101).
func ParsePosition(body string) (Position, bool) {
	if len(body) == 0 {
		return Position{}, false
	}

	rest := body
	switch body[0] {
	case '!', '=':
		rest = body[1:]
	case '/', '@':
		if len(body) < 8 {
			return Position{}, false
		}
		rest = body[8:]
	default:
		return Position{}, false
	}

	if len(rest) < 19 {
		return Position{}, false
	}

	latStr := rest[0:8] // DDMM.mmN
	// rest[8] is the symbol table id
	lonStr := rest[9:18] // DDDMM.mmE
	// rest[18] is the symbol code
	comment := ""
	if len(rest) > 19 {
		comment = rest[19:]
	}

	lat, ok := parseLat(latStr)
	if !ok {
		return Position{}, false
	}
	lon, ok := parseLon(lonStr)
	if !ok {
		return Position{}, false
	}

	return Position{Latitude: lat, Longitude: lon, Comment: comment}, true
}

func parseLat(s string) (float64, bool) {
	if len(s) != 8 {
		return 0, false
	}
	hemi := s[7]
	deg, err1 := strconv.Atoi(s[0:2])
	min, err2 := strconv.ParseFloat(s[2:7], 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	v := float64(deg) + min/60
	if hemi == 'S' {
		v = -v
	} else if hemi != 'N' {
		return 0, false
	}
	return v, true
}

func parseLon(s string) (float64, bool) {
	if len(s) != 9 {
		return 0, false
	}
	hemi := s[8]
	deg, err1 := strconv.Atoi(s[0:3])
	min, err2 := strconv.ParseFloat(s[3:8], 64)
	if err1 != nil || err2 != nil {
		return 0, false
	}
	v := float64(deg) + min/60
	if hemi == 'W' {
		v = -v
	} else if hemi != 'E' {
		return 0, false
	}
	return v, true
}

// Comment is the subset of OGN's comment-field extension this pipeline
// consumes: course/speed, pressure altitude, climb rate, and the device
// id the "idXXYYYYYY" token carries.
type Comment struct {
	CourseDegrees *int
	SpeedKnots    *float32
	AltitudeFeet  *int
	ClimbFpm      *int
	DeviceID      string
	Squawk        string
}

// ParseComment extracts the fields ParsePosition leaves in Position.Comment.
// Unrecognized tokens are ignored; OGN comments are a loose space/slash
// delimited grab-bag and this system only needs a handful of fields out of
// it.
func ParseComment(raw string) Comment {
	var c Comment

	if len(raw) >= 7 && raw[3] == '/' {
		if course, err := strconv.Atoi(raw[0:3]); err == nil {
			if speedKts, err := strconv.Atoi(raw[4:7]); err == nil {
				cd := course
				c.CourseDegrees = &cd
				sp := float32(speedKts)
				c.SpeedKnots = &sp
			}
		}
	}

	// The altitude token rides attached to the course/speed block
	// ("322/103/A=003054"), so it is located by substring rather than by
	// field splitting.
	if i := strings.Index(raw, "/A="); i >= 0 && len(raw) >= i+9 {
		if ft, err := strconv.Atoi(raw[i+3 : i+9]); err == nil {
			v := ft
			c.AltitudeFeet = &v
		}
	}

	for _, field := range strings.Fields(raw) {
		switch {
		case strings.HasPrefix(field, "id") && len(field) >= 10:
			// idSTxxxxxx: S=stealth/notrack/addrtype nibble, T=aircraft
			// type nibble, xxxxxx = 24-bit device address in hex.
			c.DeviceID = strings.ToUpper(field[4:10])
		case strings.HasSuffix(field, "fpm"):
			v := strings.TrimSuffix(field, "fpm")
			v = strings.TrimPrefix(v, "+")
			if fpm, err := strconv.Atoi(v); err == nil {
				c.ClimbFpm = &fpm
			}
		case strings.HasPrefix(field, "sq"):
			c.Squawk = strings.TrimPrefix(field, "sq")
		}
	}

	return c
}
