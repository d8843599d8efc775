// Package adsb extracts the accumulator-relevant fields of DF17
// extended-squitter messages (identification, CPR position, velocity, and
// on-ground capability) out of decoded Beast frames, producing the same
// accumulator.Observation the SBS parser builds, so both sources feed one
// fusion path.
package adsb

import (
	"fmt"
	"math"
	"time"

	"github.com/hut8/soar/internal/accumulator"
	"github.com/hut8/soar/internal/cpr"
	"github.com/hut8/soar/internal/ingest/reader"
	"github.com/hut8/soar/internal/model"
)

// callsignCharset is the 6-bit character set used by TC1-4 identification
// messages, indexed by the raw 6-bit value.
const callsignCharset = "?ABCDEFGHIJKLMNOPQRSTUVWXYZ????? ???????????????0123456789??????"

// Extractor turns DF17 Beast frames into Observations, keeping the CPR
// pairing state an ICAO address needs across even/odd frames.
type Extractor struct {
	cpr *cpr.Decoder
}

// NewExtractor constructs an Extractor with a fresh CPR decoder.
func NewExtractor() *Extractor {
	return &Extractor{cpr: cpr.NewDecoder()}
}

// Expire evicts CPR pairing state untouched for longer than the pairing
// window; call periodically the way the accumulator expires its own state.
func (e *Extractor) Expire(now time.Time) { e.cpr.Expire(now) }

// Extract decodes one de-escaped Beast frame. It returns ok=false for
// non-DF17 frames (Mode-AC, short Mode-S acquisition squitters, and DF18
// TIS-B). For ME type codes this system does not model, and for position
// messages whose CPR decode yields no position, it returns ok=true with an
// on-ground-only Observation when the CA field is authoritative, and
// ok=false otherwise.
func (e *Extractor) Extract(raw []byte, receivedAt time.Time) (icaoHex string, obs accumulator.Observation, ok bool) {
	frame, err := reader.ParseBeastFrame(raw)
	if err != nil || frame.Type != 3 || len(frame.Payload) < 14 {
		return "", accumulator.Observation{}, false
	}

	df := frame.Payload[0] >> 3
	if df != 17 {
		return "", accumulator.Observation{}, false
	}
	ca := frame.Payload[0] & 0x07
	icao := uint32(frame.Payload[1])<<16 | uint32(frame.Payload[2])<<8 | uint32(frame.Payload[3])
	icaoHex = fmt.Sprintf("%06X", icao)
	me := frame.Payload[4:11]
	tc := me[0] >> 3

	obs = accumulator.Observation{
		ReceivedAt: receivedAt,
		OnGround:   groundCapability(ca),
	}

	switch {
	case tc >= 1 && tc <= 4:
		cs := decodeCallsign(me)
		obs.Callsign = &cs
	case tc >= 9 && tc <= 18:
		pos, decOK := e.decodePosition(icao, me, receivedAt)
		if !decOK {
			return icaoHex, obs, obs.OnGround.Known()
		}
		obs.Position = pos
	case tc == 19:
		vel, decOK := decodeVelocity(me, receivedAt)
		if decOK {
			obs.Velocity = vel
		}
	default:
		if !obs.OnGround.Known() {
			return "", accumulator.Observation{}, false
		}
	}

	return icaoHex, obs, true
}

// groundCapability maps the DF17 CA field to the tri-state on-ground
// indicator: only CA=4 (on ground) and CA=5 (airborne) are
// authoritative; every other value (reserved, "either", DR) stays unknown.
func groundCapability(ca byte) model.OnGround {
	switch ca {
	case 4:
		return model.OnGroundTrue
	case 5:
		return model.OnGroundFalse
	default:
		return model.OnGroundUnknown
	}
}

func decodeCallsign(me []byte) string {
	// 8 six-bit characters packed across the 48 bits of me[1..6] (me[0]
	// holds the 5-bit TC and 3-bit emitter-category field, not character
	// data).
	bits := make([]byte, 0, 48)
	for i := 1; i < 7; i++ {
		b := me[i]
		for shift := 7; shift >= 0; shift-- {
			bits = append(bits, (b>>uint(shift))&1)
		}
	}
	var out [8]byte
	for i := 0; i < 8; i++ {
		var v byte
		for j := 0; j < 6; j++ {
			v = v<<1 | bits[i*6+j]
		}
		out[i] = callsignCharset[v]
	}
	return trimTrailingFiller(string(out[:]))
}

func trimTrailingFiller(s string) string {
	end := len(s)
	for end > 0 && (s[end-1] == ' ' || s[end-1] == '?') {
		end--
	}
	return s[:end]
}

// decodePosition extracts the 12-bit Q-coded altitude and the 17-bit CPR
// lat/lon halves from a TC9-18 ME field, then feeds the frame to the CPR
// decoder to attempt the even/odd pairing.
func (e *Extractor) decodePosition(icao uint32, me []byte, receivedAt time.Time) (*accumulator.PositionData, bool) {
	ac12 := uint16(me[1])<<4 | uint16(me[2]>>4)
	altFt, haveAlt := decodeAC12(ac12)

	odd := me[2]&0x04 != 0
	latCPR := (uint32(me[2]&0x03)<<15 | uint32(me[3])<<7 | uint32(me[4])>>1)
	lonCPR := (uint32(me[4]&0x01)<<16 | uint32(me[5])<<8 | uint32(me[6]))

	frame := cpr.Frame{
		LatCPR:    float64(latCPR) / 131072.0,
		LonCPR:    float64(lonCPR) / 131072.0,
		Odd:       odd,
		Timestamp: receivedAt,
	}
	if haveAlt {
		a := altFt
		frame.Altitude = &a
	}

	pos, err := e.cpr.Decode(icao, frame)
	if err != nil || pos == nil {
		return nil, false
	}
	return &accumulator.PositionData{
		Latitude:     pos.Latitude,
		Longitude:    pos.Longitude,
		AltitudeFeet: pos.Altitude,
		Timestamp:    receivedAt,
	}, true
}

// decodeAC12 decodes a 12-bit Q-coded altitude field. Gillham/Mode-C coded
// altitudes (Q bit unset) are not decoded; this system only trusts the
// 25ft-resolution Q-coded form.
func decodeAC12(ac12 uint16) (int, bool) {
	if ac12 == 0 {
		return 0, false
	}
	q := ac12&0x10 != 0
	if !q {
		return 0, false
	}
	n := ((ac12 & 0x0fe0) >> 1) | (ac12 & 0x0f)
	return int(n)*25 - 1000, true
}

// decodeVelocity decodes TC19 subtype 1/2 (ground-speed) messages per the
// standard ADS-B velocity encoding. Subtype 3/4 (airspeed/heading) frames
// are not decoded.
func decodeVelocity(me []byte, receivedAt time.Time) (*accumulator.VelocityData, bool) {
	subtype := me[0] & 0x07
	if subtype != 1 && subtype != 2 {
		return nil, false
	}

	ewSign := me[1]&0x04 != 0
	ewVel := int(me[1]&0x03)<<8 | int(me[2])
	nsSign := me[3]&0x80 != 0
	nsVel := int(me[3]&0x7f)<<3 | int(me[4]&0xe0)>>5
	vrSign := me[4]&0x08 != 0
	vr := int(me[4]&0x07)<<6 | int(me[5]&0xfc)>>2

	if ewVel == 0 || nsVel == 0 {
		return nil, false
	}
	ewVel--
	nsVel--
	if subtype == 2 {
		ewVel *= 4
		nsVel *= 4
	}
	if ewSign {
		ewVel = -ewVel
	}
	if nsSign {
		nsVel = -nsVel
	}

	speed := float32(math.Hypot(float64(ewVel), float64(nsVel)))
	heading := float32(math.Atan2(float64(ewVel), float64(nsVel)) * 180 / math.Pi)
	if heading < 0 {
		heading += 360
	}

	var vrFpm *int
	if vr != 0 {
		v := (vr - 1) * 64
		if vrSign {
			v = -v
		}
		vrFpm = &v
	}

	return &accumulator.VelocityData{
		GroundSpeedKts:  &speed,
		TrackDegrees:    &heading,
		VerticalRateFpm: vrFpm,
		Timestamp:       receivedAt,
	}, true
}
