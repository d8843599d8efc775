// Package accumulator merges a stream of partial per-aircraft observations
// (position-only, velocity-only, callsign-only, ...) into complete Fix
// records, following the field-priority and expiry rules used by the
// original OGN/Mode-S accumulator this system replaces.
package accumulator

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hut8/soar/internal/model"
)

// stateExpiry is how long a position or velocity observation stays valid
// once no fresher one has arrived.
const stateExpiry = 10 * time.Second

// cleanupInterval is how many processed messages elapse between sweeps
// that evict expired per-aircraft state.
const cleanupInterval = 1000

// noFixWarningThreshold is the number of consecutive processed messages for
// an aircraft that fail to produce a Fix before a warning is logged once.
const noFixWarningThreshold = 10

const shardCount = 32

// FixTrigger identifies which kind of observation caused a Fix to be
// (re)evaluated.
type FixTrigger int

const (
	TriggerPosition FixTrigger = iota
	TriggerVelocity
	TriggerCallsign
	TriggerSquawk
	TriggerAltitude
)

func (t FixTrigger) String() string {
	switch t {
	case TriggerPosition:
		return "position"
	case TriggerVelocity:
		return "velocity"
	case TriggerCallsign:
		return "callsign"
	case TriggerSquawk:
		return "squawk"
	case TriggerAltitude:
		return "altitude"
	default:
		return "unknown"
	}
}

// PositionData is a decoded, timestamped position observation.
type PositionData struct {
	Latitude     float64
	Longitude    float64
	AltitudeFeet *int
	Timestamp    time.Time
}

func (p *PositionData) isValidCoordinates() bool {
	// Receivers occasionally emit an exact (0,0) as a sentinel for "no fix
	// yet"; treat anything within a thousandth of a degree of the origin
	// as invalid rather than a real position off the coast of Africa.
	if absf(p.Latitude) < 0.001 && absf(p.Longitude) < 0.001 {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

func (p *PositionData) isExpired(now time.Time) bool {
	return now.Sub(p.Timestamp) > stateExpiry
}

func (p *PositionData) isValid(now time.Time) bool {
	return p != nil && p.isValidCoordinates() && !p.isExpired(now)
}

// VelocityData is a decoded, timestamped velocity observation.
type VelocityData struct {
	GroundSpeedKts  *float32
	TrackDegrees    *float32
	VerticalRateFpm *int
	Timestamp       time.Time
}

func (v *VelocityData) isExpired(now time.Time) bool {
	return now.Sub(v.Timestamp) > stateExpiry
}

func (v *VelocityData) isValid(now time.Time) bool {
	return v != nil && !v.isExpired(now)
}

// Observation is one partial piece of information extracted from a raw
// message. Exactly the fields that message carried are set; the rest are
// nil/zero.
type Observation struct {
	Position         *PositionData
	Velocity         *VelocityData
	Callsign         *string
	Squawk           *string
	AltitudeFeetOnly *int // altitude seen without an accompanying position (e.g. MSG5/MSG7)
	OnGround         model.OnGround
	ReceivedAt       time.Time
	RawMessageRef    string
	ReceiverRef      string
	DeviceID         string
}

// aircraftState is the accumulated knowledge about one aircraft across
// however many partial observations have arrived.
type aircraftState struct {
	position *PositionData
	velocity *VelocityData
	callsign string
	squawk   string
	onGround model.OnGround

	lastUpdate       time.Time
	consecutiveNoFix int
	warnedNoFix      bool
}

type shard struct {
	mu     sync.Mutex
	states map[string]*aircraftState
}

// Accumulator merges partial observations into Fix records, sharded by
// ICAO/device key so that no single mutex serializes the whole aircraft
// population under load.
type Accumulator struct {
	shards       [shardCount]*shard
	messageCount atomic.Uint64

	onNoFixWarning         func(key string, consecutive int)
	onFixSkippedNoOnGround func(key string)
}

// New returns an empty Accumulator.
func New() *Accumulator {
	a := &Accumulator{}
	for i := range a.shards {
		a.shards[i] = &shard{states: make(map[string]*aircraftState)}
	}
	return a
}

// OnNoFixWarning installs a callback invoked the first time an aircraft
// crosses noFixWarningThreshold consecutive no-fix updates. It is reset
// whenever that aircraft successfully emits a Fix again.
func (a *Accumulator) OnNoFixWarning(fn func(key string, consecutive int)) {
	a.onNoFixWarning = fn
}

// OnFixSkippedNoOnGround installs a callback invoked every time an
// otherwise-valid position is dropped because on-ground status is still
// unknown for that aircraft (the fix_skipped_no_on_ground counter).
func (a *Accumulator) OnFixSkippedNoOnGround(fn func(key string)) {
	a.onFixSkippedNoOnGround = fn
}

func (a *Accumulator) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return a.shards[h.Sum32()%shardCount]
}

// Process merges obs into the accumulated state for key (typically the
// ICAO hex address or OGN device id) and returns a Fix if, and only if,
// the merged state now satisfies the emission invariants: a non-expired
// valid position and a known on-ground status.
func (a *Accumulator) Process(key string, obs Observation) (*model.Fix, FixTrigger, bool) {
	now := obs.ReceivedAt
	if now.IsZero() {
		now = time.Now()
	}

	s := a.shardFor(key)
	s.mu.Lock()

	st, ok := s.states[key]
	if !ok {
		st = &aircraftState{}
		s.states[key] = st
	}

	trigger := applyObservation(st, obs)
	st.lastUpdate = now

	fix, emitted, skippedNoOnGround := tryEmit(key, st, obs, now)
	if skippedNoOnGround && a.onFixSkippedNoOnGround != nil {
		a.onFixSkippedNoOnGround(key)
	}
	a.trackNoFix(key, st, emitted)

	s.mu.Unlock()

	// The sweep runs outside the shard lock so it can visit every shard,
	// not just the one this message happened to land in.
	if count := a.messageCount.Add(1); count%cleanupInterval == 0 {
		a.CleanupExpired(now)
	}

	return fix, trigger, emitted
}

// applyObservation overwrites whichever fields obs carries and returns the
// highest-priority trigger represented by this observation, following
// position > velocity > callsign > squawk > altitude-only.
func applyObservation(st *aircraftState, obs Observation) FixTrigger {
	trigger := TriggerAltitude
	set := false

	if obs.Position != nil {
		st.position = obs.Position
		trigger = TriggerPosition
		set = true
	}
	if obs.Velocity != nil {
		st.velocity = obs.Velocity
		if !set {
			trigger = TriggerVelocity
			set = true
		}
	}
	if obs.Callsign != nil {
		st.callsign = *obs.Callsign
		if !set {
			trigger = TriggerCallsign
			set = true
		}
	}
	if obs.Squawk != nil {
		st.squawk = *obs.Squawk
		if !set {
			trigger = TriggerSquawk
			set = true
		}
	}
	if obs.AltitudeFeetOnly != nil {
		// Altitude-only updates refresh the altitude in place without
		// disturbing the position timestamp, since no new lat/lon arrived.
		if st.position != nil {
			alt := *obs.AltitudeFeetOnly
			st.position.AltitudeFeet = &alt
		}
		if !set {
			trigger = TriggerAltitude
			set = true
		}
	}
	if obs.OnGround.Known() {
		st.onGround = obs.OnGround
	}

	return trigger
}

// tryEmit returns a Fix if the accumulated state satisfies the emission
// invariants. A valid position is required; on-ground status must also be
// known, since downstream flight-state logic cannot function without it.
// The third return value reports specifically the "position valid but
// on-ground still unknown" case, which callers count separately.
func tryEmit(key string, st *aircraftState, obs Observation, now time.Time) (*model.Fix, bool, bool) {
	if !st.position.isValid(now) {
		return nil, false, false
	}
	if !st.onGround.Known() {
		return nil, false, true
	}

	fix := &model.Fix{
		ICAOHex:       key,
		DeviceID:      obs.DeviceID,
		Latitude:      st.position.Latitude,
		Longitude:     st.position.Longitude,
		AltitudeFeet:  st.position.AltitudeFeet,
		Callsign:      st.callsign,
		Squawk:        st.squawk,
		OnGround:      st.onGround.Bool(),
		ReceivedAt:    now,
		PositionAgeMs: now.Sub(st.position.Timestamp).Milliseconds(),
		RawMessageRef: obs.RawMessageRef,
		ReceiverRef:   obs.ReceiverRef,
	}

	if st.velocity.isValid(now) {
		fix.GroundSpeedKts = st.velocity.GroundSpeedKts
		fix.TrackDegrees = st.velocity.TrackDegrees
		fix.VerticalRateFpm = st.velocity.VerticalRateFpm
	}

	return fix, true, false
}

func (a *Accumulator) trackNoFix(key string, st *aircraftState, emitted bool) {
	if emitted {
		st.consecutiveNoFix = 0
		st.warnedNoFix = false
		return
	}

	st.consecutiveNoFix++
	if st.consecutiveNoFix >= noFixWarningThreshold && !st.warnedNoFix {
		st.warnedNoFix = true
		if a.onNoFixWarning != nil {
			a.onNoFixWarning(key, st.consecutiveNoFix)
		}
	}
}

// cleanupExpiredLocked drops aircraft whose position and velocity are both
// expired, keeping memory bounded for a shard with many transient
// aircraft. Caller must hold s.mu.
func (a *Accumulator) cleanupExpiredLocked(s *shard, now time.Time) int {
	removed := 0
	for key, st := range s.states {
		posGone := st.position == nil || st.position.isExpired(now)
		velGone := st.velocity == nil || st.velocity.isExpired(now)
		if posGone && velGone && now.Sub(st.lastUpdate) > stateExpiry {
			delete(s.states, key)
			removed++
		}
	}
	return removed
}

// CleanupExpired sweeps every shard for stale aircraft outside of the
// periodic in-band sweep, e.g. from a maintenance goroutine.
func (a *Accumulator) CleanupExpired(now time.Time) int {
	total := 0
	for _, s := range a.shards {
		s.mu.Lock()
		total += a.cleanupExpiredLocked(s, now)
		s.mu.Unlock()
	}
	return total
}

// Len returns the number of aircraft currently tracked, for metrics.
func (a *Accumulator) Len() int {
	n := 0
	for _, s := range a.shards {
		s.mu.Lock()
		n += len(s.states)
		s.mu.Unlock()
	}
	return n
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
