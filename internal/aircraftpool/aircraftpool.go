// Package aircraftpool is the aircraft-position worker pool: it drains the router's aircraft-position channel, decodes
// each OGN/APRS position report into an accumulator Observation, and
// invokes the Fix Processor for whatever Fix falls out.
package aircraftpool

import (
	"context"
	"time"

	"github.com/hut8/soar/internal/accumulator"
	"github.com/hut8/soar/internal/fixproc"
	"github.com/hut8/soar/internal/model"
	"github.com/hut8/soar/internal/ogn"
	"github.com/hut8/soar/internal/router"
	"github.com/hut8/soar/internal/workerpool"
)

// TaxiThresholdKts mirrors flighttracker.TaxiThresholdKts: OGN position
// reports carry no transponder ground/air capability bit, so on-ground is
// inferred from reported ground speed the same way a glider pilot's FLARM
// unit would be read by a human — stopped is ground, moving is air.
const TaxiThresholdKts = 5.0

// Pool owns the worker goroutines that turn ClassifiedPackets of kind
// KindAircraftPosition into Fixes.
type Pool struct {
	acc  *accumulator.Accumulator
	proc *fixproc.Processor
	pool *workerpool.Pool[router.ClassifiedPacket]
}

// New constructs a Pool with workers workers parsing and accumulating
// concurrently; a given aircraft's packets still serialize inside the
// accumulator's per-key shard lock.
func New(workers int, acc *accumulator.Accumulator, proc *fixproc.Processor) *Pool {
	p := &Pool{acc: acc, proc: proc}
	p.pool = workerpool.New(workers, p.handle)
	return p
}

// Run drains in until it closes or ctx is cancelled.
func (p *Pool) Run(ctx context.Context, in <-chan router.ClassifiedPacket) {
	p.pool.Run(ctx, in)
}

func (p *Pool) handle(ctx context.Context, cp router.ClassifiedPacket) {
	obs, deviceID, ok := decode(cp)
	if !ok {
		return
	}
	obs.RawMessageRef = cp.Context.AprsMessageID
	obs.ReceiverRef = cp.Context.ReceiverID
	obs.DeviceID = deviceID

	fixproc.AccumulatorSink(ctx, p.acc, p.proc, deviceID, obs)
}

func decode(cp router.ClassifiedPacket) (accumulator.Observation, string, bool) {
	parsed, ok := router.ParseAPRSLine(cp.Raw.Text)
	if !ok {
		return accumulator.Observation{}, "", false
	}
	pos, ok := ogn.ParsePosition(parsed.Body)
	if !ok {
		return accumulator.Observation{}, "", false
	}
	cm := ogn.ParseComment(pos.Comment)

	deviceID := cm.DeviceID
	if deviceID == "" {
		deviceID = parsed.From
	}

	receivedAt := cp.Raw.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	speed := float32(0)
	if cm.SpeedKnots != nil {
		speed = *cm.SpeedKnots
	}
	onGround := model.OnGroundFalse
	if speed < TaxiThresholdKts {
		onGround = model.OnGroundTrue
	}

	obs := accumulator.Observation{
		Position: &accumulator.PositionData{
			Latitude:     pos.Latitude,
			Longitude:    pos.Longitude,
			AltitudeFeet: cm.AltitudeFeet,
			Timestamp:    receivedAt,
		},
		OnGround:   onGround,
		ReceivedAt: receivedAt,
	}
	if cm.CourseDegrees != nil || cm.SpeedKnots != nil || cm.ClimbFpm != nil {
		course := float32(0)
		if cm.CourseDegrees != nil {
			course = float32(*cm.CourseDegrees)
		}
		obs.Velocity = &accumulator.VelocityData{
			GroundSpeedKts:  cm.SpeedKnots,
			TrackDegrees:    &course,
			VerticalRateFpm: cm.ClimbFpm,
			Timestamp:       receivedAt,
		}
	}
	if cm.Squawk != "" {
		obs.Squawk = &cm.Squawk
	}

	return obs, deviceID, true
}
