package geofence

import (
	"context"
	"testing"
	"time"

	"github.com/hut8/soar/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeSource struct{ geofences []model.Geofence }

func (f *fakeSource) GeofencesForAircraft(ctx context.Context, aircraftID string) ([]model.Geofence, error) {
	return f.geofences, nil
}

type fakeSink struct{ events []model.GeofenceExitEvent }

func (f *fakeSink) RecordExitEvent(ctx context.Context, ev model.GeofenceExitEvent) (int, error) {
	f.events = append(f.events, ev)
	return 3, nil
}

func testGeofence() model.Geofence {
	return model.Geofence{
		ID:        "gf1",
		CenterLat: 45.0,
		CenterLon: -122.0,
		Layers: []model.GeofenceLayer{
			{FloorFt: 0, CeilingFt: 10000, RadiusNM: 5},
			{FloorFt: 0, CeilingFt: 10000, RadiusNM: 1},
		},
	}
}

func nearFix(offsetDeg float64, alt int, at time.Time) model.Fix {
	a := alt
	return model.Fix{Latitude: 45.0 + offsetDeg, Longitude: -122.0, AltitudeFeet: &a, ReceivedAt: at}
}

func TestProcessFixEmitsNoEventOnFirstObservation(t *testing.T) {
	sink := &fakeSink{}
	e := New(&fakeSource{geofences: []model.Geofence{testGeofence()}}, sink, nil, nil)

	err := e.ProcessFix(context.Background(), "AC1", "FL1", nearFix(0.001, 1000, time.Now()))
	require.NoError(t, err)
	require.Empty(t, sink.events, "first observation establishes baseline, it cannot be an exit")
}

func TestProcessFixEmitsExitWhenMovingToOuterLayer(t *testing.T) {
	sink := &fakeSink{}
	e := New(&fakeSource{geofences: []model.Geofence{testGeofence()}}, sink, nil, nil)
	now := time.Now()

	// 0.001 deg lat ~ 111m, inside the 1 NM (1852m) inner layer.
	require.NoError(t, e.ProcessFix(context.Background(), "AC1", "FL1", nearFix(0.001, 1000, now)))
	// ~4 NM out: inside the 5 NM outer layer but outside the 1 NM inner one.
	require.NoError(t, e.ProcessFix(context.Background(), "AC1", "FL1", nearFix(0.06, 1000, now.Add(time.Second))))

	require.Len(t, sink.events, 1)
	require.Equal(t, 1.0, sink.events[0].LayerRadiusNM)
}

func TestProcessFixEmitsExitWhenLeavingGeofenceEntirely(t *testing.T) {
	sink := &fakeSink{}
	e := New(&fakeSource{geofences: []model.Geofence{testGeofence()}}, sink, nil, nil)
	now := time.Now()

	require.NoError(t, e.ProcessFix(context.Background(), "AC1", "FL1", nearFix(0.001, 1000, now)))
	require.NoError(t, e.ProcessFix(context.Background(), "AC1", "FL1", nearFix(1.0, 1000, now.Add(time.Second))))

	require.Len(t, sink.events, 1)
	require.Equal(t, 1.0, sink.events[0].LayerRadiusNM, "the exit event reports the last layer occupied before leaving, not the geofence's outer bound")
}

func TestProcessFixDoesNotEmitWhenMovingInward(t *testing.T) {
	sink := &fakeSink{}
	e := New(&fakeSource{geofences: []model.Geofence{testGeofence()}}, sink, nil, nil)
	now := time.Now()

	require.NoError(t, e.ProcessFix(context.Background(), "AC1", "FL1", nearFix(0.06, 1000, now)))
	require.NoError(t, e.ProcessFix(context.Background(), "AC1", "FL1", nearFix(0.001, 1000, now.Add(time.Second))))

	require.Empty(t, sink.events)
}
