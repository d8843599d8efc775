// Package fixproc wires the accumulator's emitted Fixes into the
// downstream consumers: persistence, the flight tracker, the geofence
// engine, and the AGL elevation stage.
package fixproc

import (
	"context"

	"github.com/hut8/soar/internal/accumulator"
	"github.com/hut8/soar/internal/agl"
	"github.com/hut8/soar/internal/model"
	"github.com/hut8/soar/internal/monitoring"
	"github.com/hut8/soar/internal/pubsub"
)

// Counter counts an event. Whatever metrics backend the process runs
// supplies the implementation at startup; the pipeline itself only ever
// increments.
type Counter interface {
	Inc()
}

// FixSink persists an emitted Fix and returns its durable id.
type FixSink interface {
	InsertFix(ctx context.Context, fix model.Fix) (fixID string, err error)
}

// FlightConsumer receives Fixes in per-device order.
type FlightConsumer interface {
	ProcessFix(ctx context.Context, fix model.Fix) error
}

// GeofenceConsumer receives Fixes together with the flight they belong to.
// aircraftID/flightID resolution is the caller's responsibility; fixproc
// does not track current-flight-id itself.
type GeofenceConsumer interface {
	ProcessFix(ctx context.Context, aircraftID, flightID string, fix model.Fix) error
}

// CurrentFlight resolves the currently open flight id for a device, so the
// geofence engine can tag exit events correctly. The flight tracker is the
// natural implementer.
type CurrentFlight interface {
	CurrentFlightID(deviceID string) (flightID string, ok bool)
}

// Processor is the emission-core-to-downstream glue: one instance per
// accumulator, feeding every Fix it emits to persistence and the two
// per-aircraft consumers, then enqueuing an elevation lookup.
type Processor struct {
	sink      FixSink
	flights   FlightConsumer
	geofences GeofenceConsumer
	current   CurrentFlight

	elevation    chan<- agl.ElevationRequest
	events       *pubsub.Publisher
	fixesEmitted Counter
}

// New constructs a Processor. elevation may be nil to skip AGL enqueueing
// (e.g. in deployments without DEM tiles configured). events may be nil,
// equivalent to pubsub.Disabled(). fixesEmitted may be nil to skip
// counting (e.g. in tests).
func New(sink FixSink, flights FlightConsumer, geofences GeofenceConsumer, current CurrentFlight, elevation chan<- agl.ElevationRequest, events *pubsub.Publisher, fixesEmitted Counter) *Processor {
	return &Processor{sink: sink, flights: flights, geofences: geofences, current: current, elevation: elevation, events: events, fixesEmitted: fixesEmitted}
}

// HandleFix is called once per Fix the accumulator emits.
func (p *Processor) HandleFix(ctx context.Context, fix model.Fix) {
	fixID, err := p.sink.InsertFix(ctx, fix)
	if err != nil {
		monitoring.Logf("fixproc: persist fix for %s: %v", fix.ICAOHex, err)
		return
	}
	if p.fixesEmitted != nil {
		p.fixesEmitted.Inc()
	}

	p.events.PublishFix(fix)

	if err := p.flights.ProcessFix(ctx, fix); err != nil {
		monitoring.Logf("fixproc: flight tracker for %s: %v", fix.ICAOHex, err)
	}

	if p.geofences != nil && p.current != nil {
		deviceID := fix.DeviceID
		if deviceID == "" {
			deviceID = fix.ICAOHex
		}
		if flightID, ok := p.current.CurrentFlightID(deviceID); ok {
			if err := p.geofences.ProcessFix(ctx, deviceID, flightID, fix); err != nil {
				monitoring.Logf("fixproc: geofence engine for %s: %v", fix.ICAOHex, err)
			}
		}
	}

	if p.elevation != nil && fix.AltitudeFeet != nil {
		req := agl.ElevationRequest{FixID: fixID, Latitude: fix.Latitude, Longitude: fix.Longitude, AltitudeMSLFt: *fix.AltitudeFeet}
		// A full elevation channel blocks here: backpressure, not an error.
		select {
		case p.elevation <- req:
		case <-ctx.Done():
		}
	}
}

// AccumulatorSink adapts an *accumulator.Accumulator's Process output
// directly into a Processor, so a reader goroutine can call one function
// per incoming observation.
func AccumulatorSink(ctx context.Context, acc *accumulator.Accumulator, p *Processor, key string, obs accumulator.Observation) {
	fix, _, emitted := acc.Process(key, obs)
	if !emitted {
		return
	}
	p.HandleFix(ctx, *fix)
}
