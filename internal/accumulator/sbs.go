package accumulator

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hut8/soar/internal/model"
)

// SBSMessage is one parsed BaseStation-format CSV line. Fields the wire
// message left blank stay nil; MSG,1 through MSG,8 each populate a
// different subset.
type SBSMessage struct {
	Type         int
	HexIdent     string
	Callsign     *string
	AltitudeFeet *int
	GroundSpeed  *float32
	Track        *float32
	Latitude     *float64
	Longitude    *float64
	VerticalRate *int
	Squawk       *string
	OnGround     *bool
}

// ParseSBS parses one BaseStation "MSG,..." CSV line.
func ParseSBS(line string) (*SBSMessage, error) {
	fields := strings.Split(strings.TrimRight(line, "\r\n"), ",")
	if len(fields) < 22 || fields[0] != "MSG" {
		return nil, fmt.Errorf("accumulator: not a MSG line: %q", line)
	}

	msgType, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("accumulator: bad MSG type: %w", err)
	}

	m := &SBSMessage{Type: msgType, HexIdent: strings.ToUpper(strings.TrimSpace(fields[4]))}

	if cs := strings.TrimSpace(fields[10]); cs != "" {
		m.Callsign = &cs
	}
	if alt, ok := parseInt(fields[11]); ok {
		m.AltitudeFeet = &alt
	}
	if gs, ok := parseFloat32(fields[12]); ok {
		m.GroundSpeed = &gs
	}
	if trk, ok := parseFloat32(fields[13]); ok {
		m.Track = &trk
	}
	if lat, ok := parseFloat64(fields[14]); ok {
		m.Latitude = &lat
	}
	if lon, ok := parseFloat64(fields[15]); ok {
		m.Longitude = &lon
	}
	if vr, ok := parseInt(fields[16]); ok {
		m.VerticalRate = &vr
	}
	if sq := strings.TrimSpace(fields[17]); sq != "" {
		m.Squawk = &sq
	}
	if og := strings.TrimSpace(fields[21]); og == "-1" || og == "1" {
		g := true
		m.OnGround = &g
	} else if og == "0" {
		g := false
		m.OnGround = &g
	}

	return m, nil
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseFloat32(s string) (float32, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 32)
	if err != nil {
		return 0, false
	}
	return float32(v), true
}

func parseFloat64(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ExtractSBS builds an Observation from a parsed SBS message, following the
// BaseStation MSG-type field mapping: MSG1 carries only a callsign, MSG2 is
// a surface position report (and therefore forces on-ground true), MSG3 is
// an airborne position optionally paired with velocity, MSG4 is velocity
// only, MSG5/MSG7 carry altitude without a position, MSG6 carries a squawk,
// and MSG8 carries nothing usable. On-ground status, when present, is
// applied regardless of message type.
func ExtractSBS(m *SBSMessage, now time.Time) Observation {
	obs := Observation{ReceivedAt: now, OnGround: model.OnGroundUnknown}

	if m.OnGround != nil {
		if *m.OnGround {
			obs.OnGround = model.OnGroundTrue
		} else {
			obs.OnGround = model.OnGroundFalse
		}
	}

	switch m.Type {
	case 1:
		if m.Callsign != nil {
			obs.Callsign = m.Callsign
		}
	case 2:
		if m.Latitude != nil && m.Longitude != nil {
			obs.Position = &PositionData{
				Latitude: *m.Latitude, Longitude: *m.Longitude,
				AltitudeFeet: m.AltitudeFeet, Timestamp: now,
			}
		}
		obs.OnGround = model.OnGroundTrue
	case 3:
		if m.Latitude != nil && m.Longitude != nil {
			obs.Position = &PositionData{
				Latitude: *m.Latitude, Longitude: *m.Longitude,
				AltitudeFeet: m.AltitudeFeet, Timestamp: now,
			}
		}
		if m.GroundSpeed != nil || m.Track != nil {
			obs.Velocity = &VelocityData{GroundSpeedKts: m.GroundSpeed, TrackDegrees: m.Track, Timestamp: now}
		}
	case 4:
		if m.GroundSpeed != nil || m.Track != nil || m.VerticalRate != nil {
			obs.Velocity = &VelocityData{
				GroundSpeedKts: m.GroundSpeed, TrackDegrees: m.Track,
				VerticalRateFpm: m.VerticalRate, Timestamp: now,
			}
		}
	case 5, 7:
		if m.AltitudeFeet != nil {
			obs.AltitudeFeetOnly = m.AltitudeFeet
		}
	case 6:
		if m.Squawk != nil {
			obs.Squawk = m.Squawk
		}
	case 8:
		// No usable fields.
	}

	return obs
}
