// Package geofence evaluates incoming Fixes against each aircraft's
// subscribed geofences and emits exit events when an aircraft crosses a
// layer boundary outward.
package geofence

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/hut8/soar/internal/model"
	"github.com/hut8/soar/internal/pubsub"
	"github.com/hut8/soar/internal/units"
)

// Counter counts an event. Whatever metrics backend the process runs
// supplies the implementation at startup; the engine itself only ever
// increments.
type Counter interface {
	Inc()
}

// geofenceCacheTTL bounds how long a per-aircraft geofence list is reused
// before being refetched.
const geofenceCacheTTL = 60 * time.Second

// GeofenceSource supplies the geofences that apply to an aircraft.
type GeofenceSource interface {
	GeofencesForAircraft(ctx context.Context, aircraftID string) ([]model.Geofence, error)
}

// EventSink persists a geofence exit event and reports how many
// subscribers were notified, which is recorded on the event itself.
type EventSink interface {
	RecordExitEvent(ctx context.Context, ev model.GeofenceExitEvent) (subscribersNotified int, err error)
}

type cacheEntry struct {
	geofences []model.Geofence
	fetchedAt time.Time
}

// Engine tracks, per (flight, geofence) pair, the innermost layer an
// aircraft last occupied, and emits an exit event when it moves to a
// strictly outer layer or leaves the geofence entirely.
type Engine struct {
	source GeofenceSource
	sink   EventSink
	events *pubsub.Publisher
	exits  Counter

	cacheMu sync.Mutex
	cache   map[string]cacheEntry // aircraftID -> geofences

	layerMu sync.Mutex
	layer   map[string]int // flightID+"/"+geofenceID -> last layer index (-1 = outside)
}

// New constructs a geofence Engine. events may be nil, equivalent to
// pubsub.Disabled(); exits may be nil to skip counting (e.g. in tests).
func New(source GeofenceSource, sink EventSink, events *pubsub.Publisher, exits Counter) *Engine {
	return &Engine{
		source: source,
		sink:   sink,
		events: events,
		exits:  exits,
		cache:  make(map[string]cacheEntry),
		layer:  make(map[string]int),
	}
}

// ProcessFix evaluates fix against every geofence applying to aircraftID,
// emitting an exit event for any layer the aircraft has moved outward of.
func (e *Engine) ProcessFix(ctx context.Context, aircraftID, flightID string, fix model.Fix) error {
	geofences, err := e.geofencesFor(ctx, aircraftID, fix.ReceivedAt)
	if err != nil {
		return err
	}

	altitude := 0
	if fix.AltitudeFeet != nil {
		altitude = *fix.AltitudeFeet
	}

	for _, g := range geofences {
		sorted := sortedLayers(g.Layers)
		distM := haversineMeters(fix.Latitude, fix.Longitude, g.CenterLat, g.CenterLon)
		newLayer := innermostLayer(sorted, distM, altitude)

		key := flightID + "/" + g.ID
		e.layerMu.Lock()
		lastLayer, seen := e.layer[key]
		if !seen {
			lastLayer = -1
		}
		e.layer[key] = newLayer
		e.layerMu.Unlock()

		// Layers are sorted innermost-first, so a strictly larger index (or
		// leaving the geofence entirely, newLayer == -1) is an outward move.
		movedOutward := lastLayer >= 0 && (newLayer == -1 || newLayer > lastLayer)
		if movedOutward {
			ev := model.GeofenceExitEvent{
				GeofenceID:       g.ID,
				AircraftID:       aircraftID,
				FlightID:         flightID,
				ExitTime:         fix.ReceivedAt,
				ExitLatitude:     fix.Latitude,
				ExitLongitude:    fix.Longitude,
				ExitAltitudeFeet: altitude,
				LayerFloorFt:     sorted[lastLayer].FloorFt,
				LayerCeilingFt:   sorted[lastLayer].CeilingFt,
				LayerRadiusNM:    sorted[lastLayer].RadiusNM,
			}
			notified, err := e.sink.RecordExitEvent(ctx, ev)
			if err != nil {
				return err
			}
			ev.SubscribersNotified = notified
			e.events.PublishGeofenceExit(ev)
			if e.exits != nil {
				e.exits.Inc()
			}
		}
	}
	return nil
}

// sortedLayers returns a copy of layers ordered innermost (smallest
// radius) first, so layer index can double as a nesting rank.
func sortedLayers(layers []model.GeofenceLayer) []model.GeofenceLayer {
	out := make([]model.GeofenceLayer, len(layers))
	copy(out, layers)
	sort.Slice(out, func(i, j int) bool { return out[i].RadiusNM < out[j].RadiusNM })
	return out
}

func (e *Engine) geofencesFor(ctx context.Context, aircraftID string, now time.Time) ([]model.Geofence, error) {
	e.cacheMu.Lock()
	entry, ok := e.cache[aircraftID]
	e.cacheMu.Unlock()
	if ok && now.Sub(entry.fetchedAt) < geofenceCacheTTL {
		return entry.geofences, nil
	}

	geofences, err := e.source.GeofencesForAircraft(ctx, aircraftID)
	if err != nil {
		return nil, err
	}

	e.cacheMu.Lock()
	e.cache[aircraftID] = cacheEntry{geofences: geofences, fetchedAt: now}
	e.cacheMu.Unlock()

	return geofences, nil
}

// innermostLayer returns the index, within a slice already sorted
// innermost-first, of the innermost layer whose radius covers distM and
// whose [floor, ceiling] contains altitudeFeet, or -1 if the aircraft is
// outside every layer.
func innermostLayer(layers []model.GeofenceLayer, distM float64, altitudeFeet int) int {
	best := -1
	bestRadius := math.MaxFloat64

	for i, l := range layers {
		radiusM := units.NMToMeters(l.RadiusNM)
		if distM > radiusM {
			continue
		}
		if altitudeFeet < l.FloorFt || altitudeFeet > l.CeilingFt {
			continue
		}
		if radiusM < bestRadius {
			bestRadius = radiusM
			best = i
		}
	}
	return best
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
