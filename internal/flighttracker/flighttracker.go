// Package flighttracker runs the ground/airborne state machine that turns
// a stream of per-aircraft Fixes into opened, updated, and closed Flight
// records.
package flighttracker

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"path/filepath"
	"sync"
	"time"

	"github.com/hut8/soar/internal/fsutil"
	"github.com/hut8/soar/internal/model"
	"github.com/hut8/soar/internal/pubsub"
	"github.com/hut8/soar/internal/units"
	"gonum.org/v1/gonum/stat"
)

// Counter counts an event. Whatever metrics backend the process runs
// supplies the implementation at startup; the tracker itself only ever
// increments.
type Counter interface {
	Inc()
}

// Counters holds the tracker's optional event counters. Zero-value fields
// are simply not incremented.
type Counters struct {
	FlightsOpened Counter
	FlightsClosed Counter
}

// TaxiThresholdKts is the ground speed below which an airborne-to-ground
// transition is treated as a landing rather than a momentary glitch.
const TaxiThresholdKts = 5.0

const (
	defaultTimeout         = time.Hour
	timeoutCheckInterval   = 60 * time.Second
	checkpointInterval     = 30 * time.Second
	checkpointStalenessMax = 24 * time.Hour
	towWindow              = 120 * time.Second
	towRadiusMeters        = 100.0
)

const shardCount = 32

// Mode is the tracker's current air/ground belief about one aircraft.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeGround
	ModeAirborne
)

// FlightStore persists Flight lifecycle transitions.
type FlightStore interface {
	OpenFlight(ctx context.Context, f *model.Flight) (id string, err error)
	UpdateFlight(ctx context.Context, f *model.Flight) error
	CloseFlight(ctx context.Context, id string, landingTime, endTime time.Time, landingLocID *string) error
}

// LocationResolver maps coordinates to a known airport or, failing that,
// a reverse-geocoded place, for takeoff/landing location resolution.
type LocationResolver interface {
	NearestAirport(lat, lon float64) (locationID string, ok bool)
	ReverseGeocode(ctx context.Context, lat, lon float64) (locationID string, err error)
}

type trackSample struct {
	lat, lon float64
	altFeet  int
	t        time.Time
}

type deviceState struct {
	mode            Mode
	currentFlightID string
	flightState     model.FlightState
	aircraftID      string
	lastFix         model.Fix
	lastFixTime     time.Time
	takeoffTime     time.Time
	takeoffLat      float64
	takeoffLon      float64
	samples         []trackSample
	maxAltitude     int
}

type shard struct {
	mu     sync.Mutex
	states map[string]*deviceState
}

// Tracker owns per-device flight state, keyed by device id, sharded the
// same way the accumulator shards per-aircraft state.
type Tracker struct {
	shards [shardCount]*shard

	flights   FlightStore
	locations LocationResolver
	fs        fsutil.FileSystem
	events    *pubsub.Publisher
	counters  Counters

	timeout        time.Duration
	checkpointPath string

	recentTakeoffsMu sync.Mutex
	recentTakeoffs   []towCandidate
}

type towCandidate struct {
	flightID   string
	aircraftID string
	lat, lon   float64
	at         time.Time
}

// Config configures a Tracker.
type Config struct {
	Timeout        time.Duration
	CheckpointPath string
}

// New constructs a Tracker. fs defaults to the real filesystem. events may
// be nil, equivalent to pubsub.Disabled(). counters may be the zero value
// to skip counting (e.g. in tests).
func New(cfg Config, flights FlightStore, locations LocationResolver, fs fsutil.FileSystem, events *pubsub.Publisher, counters Counters) *Tracker {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	t := &Tracker{
		flights:        flights,
		locations:      locations,
		fs:             fs,
		events:         events,
		counters:       counters,
		timeout:        cfg.Timeout,
		checkpointPath: cfg.CheckpointPath,
	}
	for i := range t.shards {
		t.shards[i] = &shard{states: make(map[string]*deviceState)}
	}
	return t
}

// CurrentFlightID returns the open flight id for deviceID, if any.
func (t *Tracker) CurrentFlightID(deviceID string) (string, bool) {
	s := t.shardFor(deviceID)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[deviceID]
	if !ok || st.currentFlightID == "" {
		return "", false
	}
	return st.currentFlightID, true
}

func (t *Tracker) shardFor(deviceID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return t.shards[h.Sum32()%shardCount]
}

// ProcessFix applies the ground/airborne transition table to fix.
func (t *Tracker) ProcessFix(ctx context.Context, fix model.Fix) error {
	deviceID := fix.DeviceID
	if deviceID == "" {
		deviceID = fix.ICAOHex
	}

	s := t.shardFor(deviceID)
	s.mu.Lock()
	st, ok := s.states[deviceID]
	if !ok {
		st = &deviceState{mode: ModeUnknown, aircraftID: deviceID}
		s.states[deviceID] = st
	}
	defer s.mu.Unlock()

	st.lastFix = fix
	st.lastFixTime = fix.ReceivedAt

	speed := float32(0)
	if fix.GroundSpeedKts != nil {
		speed = *fix.GroundSpeedKts
	}

	switch {
	case st.mode == ModeUnknown && fix.OnGround:
		st.mode = ModeGround

	case st.mode == ModeUnknown && !fix.OnGround:
		return t.openFlight(ctx, st, fix, nil)

	case st.mode == ModeGround && !fix.OnGround:
		takeoff := fix.ReceivedAt
		return t.openFlight(ctx, st, fix, &takeoff)

	case st.mode == ModeAirborne && fix.OnGround && speed < TaxiThresholdKts:
		return t.closeFlight(ctx, st, fix)

	case st.mode == ModeAirborne && fix.OnGround:
		// Rolling faster than the taxi threshold: a landing rollout or the
		// ground run of a touch-and-go. The flight stays open but its
		// persisted state reflects that the aircraft is on the ground.
		t.accumulateTrack(st, fix)
		t.markFlightState(ctx, st, model.FlightOpenGround)

	case st.mode == ModeAirborne && !fix.OnGround && st.flightState == model.FlightOpenGround:
		// Airborne again without ever having slowed below taxi speed: a
		// touch-and-go continues the same flight.
		t.accumulateTrack(st, fix)
		t.markFlightState(ctx, st, model.FlightOpenAirborne)

	default:
		t.accumulateTrack(st, fix)
	}
	return nil
}

// markFlightState persists a transition between the two open flight states,
// doing nothing when the state is already current.
func (t *Tracker) markFlightState(ctx context.Context, st *deviceState, state model.FlightState) {
	if st.currentFlightID == "" || st.flightState == state {
		return
	}
	st.flightState = state
	_ = t.flights.UpdateFlight(ctx, &model.Flight{
		ID:         st.currentFlightID,
		AircraftID: st.aircraftID,
		State:      state,
	})
}

func (t *Tracker) openFlight(ctx context.Context, st *deviceState, fix model.Fix, takeoffTime *time.Time) error {
	f := &model.Flight{
		AircraftID: st.aircraftID,
		DeviceID:   fix.DeviceID,
		State:      model.FlightOpenAirborne,
		StartTime:  fix.ReceivedAt,
	}
	if takeoffTime != nil {
		f.TakeoffTime = takeoffTime
		st.takeoffTime = *takeoffTime
	} else {
		st.takeoffTime = fix.ReceivedAt
	}
	st.takeoffLat, st.takeoffLon = fix.Latitude, fix.Longitude
	st.samples = nil
	st.maxAltitude = 0

	id, err := t.flights.OpenFlight(ctx, f)
	if err != nil {
		return fmt.Errorf("flighttracker: open flight: %w", err)
	}
	f.ID = id
	st.mode = ModeAirborne
	st.currentFlightID = id
	st.flightState = model.FlightOpenAirborne
	if t.counters.FlightsOpened != nil {
		t.counters.FlightsOpened.Inc()
	}

	t.recordTakeoffForTowDetection(id, st.aircraftID, fix.Latitude, fix.Longitude, fix.ReceivedAt)
	if towedBy := t.detectTow(id, st.aircraftID, fix.Latitude, fix.Longitude, fix.ReceivedAt); towedBy != "" {
		towed := towedBy
		f.TowedBy = &towed
		_ = t.flights.UpdateFlight(ctx, f)
	}

	t.events.PublishFlightOpened(*f)

	t.accumulateTrack(st, fix)
	return nil
}

func (t *Tracker) closeFlight(ctx context.Context, st *deviceState, fix model.Fix) error {
	t.accumulateTrack(st, fix)

	landingLocID := t.resolveLocation(ctx, fix.Latitude, fix.Longitude)

	if err := t.flights.CloseFlight(ctx, st.currentFlightID, fix.ReceivedAt, fix.ReceivedAt, landingLocID); err != nil {
		return fmt.Errorf("flighttracker: close flight: %w", err)
	}
	if t.counters.FlightsClosed != nil {
		t.counters.FlightsClosed.Inc()
	}

	closed := &model.Flight{
		ID:           st.currentFlightID,
		AircraftID:   st.aircraftID,
		State:        model.FlightClosed,
		LandingTime:  &fix.ReceivedAt,
		EndTime:      &fix.ReceivedAt,
		LandingLocID: landingLocID,
		TakeoffLocID: t.resolveLocation(ctx, st.takeoffLat, st.takeoffLon),
	}
	if len(st.samples) > 1 {
		dist, avgAlt := trackSummary(st.samples)
		closed.TotalDistanceM = &dist
		closed.MaxAltitudeFeet = &st.maxAltitude
		closed.AvgAltitudeFeet = &avgAlt
	}
	if closed.TakeoffLocID != nil || closed.TotalDistanceM != nil {
		_ = t.flights.UpdateFlight(ctx, closed)
	}

	t.events.PublishFlightClosed(*closed)

	st.mode = ModeGround
	st.currentFlightID = ""
	st.flightState = ""
	return nil
}

func (t *Tracker) accumulateTrack(st *deviceState, fix model.Fix) {
	altFeet := 0
	if fix.AltitudeFeet != nil {
		altFeet = *fix.AltitudeFeet
		if altFeet > st.maxAltitude {
			st.maxAltitude = altFeet
		}
	}
	st.samples = append(st.samples, trackSample{lat: fix.Latitude, lon: fix.Longitude, altFeet: altFeet, t: fix.ReceivedAt})
}

// trackSummary computes total great-circle distance and mean altitude
// across a flight's accumulated samples, using gonum/stat for the mean.
func trackSummary(samples []trackSample) (distanceM float64, avgAltitudeFeet float64) {
	alts := make([]float64, len(samples))
	for i, s := range samples {
		alts[i] = float64(s.altFeet)
	}
	avgAltitudeFeet = stat.Mean(alts, nil)

	var total float64
	for i := 1; i < len(samples); i++ {
		total += haversineMeters(samples[i-1].lat, samples[i-1].lon, samples[i].lat, samples[i].lon)
	}
	return total, avgAltitudeFeet
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return units.EarthRadiusMeters * c
}

func (t *Tracker) resolveLocation(ctx context.Context, lat, lon float64) *string {
	if t.locations == nil {
		return nil
	}
	if id, ok := t.locations.NearestAirport(lat, lon); ok {
		return &id
	}
	id, err := t.locations.ReverseGeocode(ctx, lat, lon)
	if err != nil || id == "" {
		return nil
	}
	return &id
}

func (t *Tracker) recordTakeoffForTowDetection(flightID, aircraftID string, lat, lon float64, at time.Time) {
	t.recentTakeoffsMu.Lock()
	defer t.recentTakeoffsMu.Unlock()

	cutoff := at.Add(-towWindow)
	kept := t.recentTakeoffs[:0]
	for _, c := range t.recentTakeoffs {
		if c.at.After(cutoff) {
			kept = append(kept, c)
		}
	}
	t.recentTakeoffs = append(kept, towCandidate{flightID: flightID, aircraftID: aircraftID, lat: lat, lon: lon, at: at})
}

// detectTow returns the aircraft id of an older flight this one was towed
// by, if one opened within towWindow and towRadiusMeters of this takeoff.
func (t *Tracker) detectTow(flightID, aircraftID string, lat, lon float64, at time.Time) string {
	t.recentTakeoffsMu.Lock()
	defer t.recentTakeoffsMu.Unlock()

	for _, c := range t.recentTakeoffs {
		if c.flightID == flightID || c.aircraftID == aircraftID {
			continue
		}
		if at.Sub(c.at) > towWindow {
			continue
		}
		if haversineMeters(c.lat, c.lon, lat, lon) <= towRadiusMeters {
			return c.aircraftID
		}
	}
	return ""
}

// RunTimeoutChecker periodically forces closed any flight whose aircraft
// has gone silent for longer than the configured timeout. Intended to run
// as its own goroutine for the Tracker's lifetime.
func (t *Tracker) RunTimeoutChecker(ctx context.Context) {
	ticker := time.NewTicker(timeoutCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.checkTimeouts(ctx, time.Now())
		}
	}
}

func (t *Tracker) checkTimeouts(ctx context.Context, now time.Time) {
	for _, s := range t.shards {
		s.mu.Lock()
		for _, st := range s.states {
			if st.mode == ModeAirborne && now.Sub(st.lastFixTime) > t.timeout {
				locID := "timeout"
				_ = t.flights.CloseFlight(ctx, st.currentFlightID, st.lastFixTime, st.lastFixTime, &locID)
				if t.counters.FlightsClosed != nil {
					t.counters.FlightsClosed.Inc()
				}
				endTime := st.lastFixTime
				t.events.PublishFlightClosed(model.Flight{
					ID:         st.currentFlightID,
					AircraftID: st.aircraftID,
					State:      model.FlightClosed,
					EndTime:    &endTime,
				})
				st.mode = ModeGround
				st.currentFlightID = ""
				st.flightState = ""
			}
		}
		s.mu.Unlock()
	}
}

// RunCheckpointer periodically serializes tracker state to disk and, on
// first call, attempts to reload a recent checkpoint before running the
// timeout checker once to drain anything that went stale while the
// process was down.
func (t *Tracker) RunCheckpointer(ctx context.Context) {
	if t.checkpointPath != "" {
		if err := t.loadCheckpoint(); err == nil {
			t.checkTimeouts(ctx, time.Now())
		}
	}

	ticker := time.NewTicker(checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = t.saveCheckpoint()
			return
		case <-ticker.C:
			_ = t.saveCheckpoint()
		}
	}
}

// checkpointVersion tags the snapshot schema; a snapshot written by an
// incompatible build is ignored rather than misread.
const checkpointVersion = 1

type checkpointEntry struct {
	DeviceID        string            `json:"device_id"`
	Mode            Mode              `json:"mode"`
	CurrentFlightID string            `json:"current_flight_id,omitempty"`
	FlightState     model.FlightState `json:"flight_state,omitempty"`
	LastFixTime     time.Time         `json:"last_fix_time"`
	TakeoffTime     time.Time         `json:"takeoff_time,omitempty"`
}

type checkpointFile struct {
	Version   int               `json:"version"`
	WrittenAt time.Time         `json:"written_at"`
	Entries   []checkpointEntry `json:"entries"`
}

func (t *Tracker) saveCheckpoint() error {
	if t.checkpointPath == "" {
		return nil
	}
	snapshot := checkpointFile{Version: checkpointVersion, WrittenAt: time.Now().UTC()}
	for _, s := range t.shards {
		s.mu.Lock()
		for id, st := range s.states {
			snapshot.Entries = append(snapshot.Entries, checkpointEntry{
				DeviceID:        id,
				Mode:            st.mode,
				CurrentFlightID: st.currentFlightID,
				FlightState:     st.flightState,
				LastFixTime:     st.lastFixTime,
				TakeoffTime:     st.takeoffTime,
			})
		}
		s.mu.Unlock()
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	tmp := t.checkpointPath + ".tmp"
	if err := t.fs.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return t.fs.Rename(tmp, t.checkpointPath)
}

func (t *Tracker) loadCheckpoint() error {
	data, err := t.fs.ReadFile(t.checkpointPath)
	if err != nil {
		return err
	}

	var snapshot checkpointFile
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return err
	}
	if snapshot.Version != checkpointVersion {
		return fmt.Errorf("flighttracker: checkpoint %s has version %d, want %d", filepath.Base(t.checkpointPath), snapshot.Version, checkpointVersion)
	}
	if time.Since(snapshot.WrittenAt) > checkpointStalenessMax {
		return fmt.Errorf("flighttracker: checkpoint %s too stale to reload", filepath.Base(t.checkpointPath))
	}

	for _, e := range snapshot.Entries {
		s := t.shardFor(e.DeviceID)
		s.mu.Lock()
		s.states[e.DeviceID] = &deviceState{
			mode:            e.Mode,
			aircraftID:      e.DeviceID,
			currentFlightID: e.CurrentFlightID,
			flightState:     e.FlightState,
			lastFixTime:     e.LastFixTime,
			takeoffTime:     e.TakeoffTime,
		}
		s.mu.Unlock()
	}
	return nil
}
