// Package model defines the shared data types that flow through the
// ingest, accumulate, and flight-tracking pipeline. Types here are plain
// data: owning packages (accumulator, flighttracker, geofence, store) hold
// the behavior.
package model

import "time"

// Source identifies which wire protocol produced a message.
type Source string

const (
	SourceOGN   Source = "ogn"
	SourceBeast Source = "beast"
	SourceSBS   Source = "sbs"
)

// OnGround is a tri-state air/ground indicator. The zero value is Unknown,
// matching the wire reality that most messages never mention it.
type OnGround int

const (
	OnGroundUnknown OnGround = iota
	OnGroundTrue
	OnGroundFalse
)

// Known reports whether the transponder has authoritatively reported
// air/ground status.
func (g OnGround) Known() bool { return g != OnGroundUnknown }

// Bool returns the ground/airborne value. Only valid when Known() is true.
func (g OnGround) Bool() bool { return g == OnGroundTrue }

// Fix is an immutable, validated observation of one aircraft at one instant.
// A Fix is never constructed unless it already satisfies the emission
// invariants (valid coordinates, known on-ground state, fresh position) —
// see the accumulator's tryEmit.
type Fix struct {
	ICAOHex         string // 24-bit ICAO address as 6 hex digits, e.g. "AB1234"
	DeviceID        string // OGN device id, when the source is OGN rather than Mode-S
	Latitude        float64
	Longitude       float64
	AltitudeFeet    *int
	GroundSpeedKts  *float32
	TrackDegrees    *float32
	VerticalRateFpm *int
	Callsign        string
	Squawk          string
	OnGround        bool
	ReceivedAt      time.Time
	PositionAgeMs   int64
	RawMessageRef   string
	ReceiverRef     string
}

// FlightState is the lifecycle of a Flight record.
type FlightState string

const (
	FlightOpenAirborne FlightState = "open_airborne"
	FlightOpenGround   FlightState = "open_ground"
	FlightClosed       FlightState = "closed"
)

// Flight is a contiguous ground-to-ground envelope bracketing an airborne
// segment for a single aircraft.
type Flight struct {
	ID              string
	AircraftID      string
	DeviceID        string
	State           FlightState
	TakeoffTime     *time.Time
	LandingTime     *time.Time
	StartTime       time.Time
	EndTime         *time.Time
	TakeoffLocID    *string
	LandingLocID    *string
	StartLocation   *string
	EndLocation     *string
	TowedBy         *string
	ClubID          *string
	TotalDistanceM  *float64
	MaxAltitudeFeet *int
	AvgAltitudeFeet *float64
}

// Receiver is an OGN/APRS ground station identified by callsign.
type Receiver struct {
	ID        string
	Callsign  string
	Latitude  *float64
	Longitude *float64
	AltitudeM *float64
	Status    string
	UpdatedAt time.Time
}

// GeofenceLayer is a single concentric cylinder within a Geofence.
type GeofenceLayer struct {
	FloorFt   int
	CeilingFt int
	RadiusNM  float64
}

// Geofence is a set of concentric cylinders centered on one point, owned by
// a user and optionally shared with a club.
type Geofence struct {
	ID              string
	OwnerUserID     string
	ClubID          *string
	CenterLat       float64
	CenterLon       float64
	Layers          []GeofenceLayer
	MaxRadiusMeters float64
}

// GeofenceExitEvent records an aircraft leaving a geofence layer.
type GeofenceExitEvent struct {
	ID                  string
	GeofenceID          string
	AircraftID          string
	FlightID            string
	ExitTime            time.Time
	ExitLatitude        float64
	ExitLongitude       float64
	ExitAltitudeFeet    int
	LayerFloorFt        int
	LayerCeilingFt      int
	LayerRadiusNM       float64
	SubscribersNotified int
}
