package fixproc

import (
	"context"
	"testing"
	"time"

	"github.com/hut8/soar/internal/agl"
	"github.com/hut8/soar/internal/model"
	"github.com/stretchr/testify/require"
)

type fakeSink struct{ inserted []model.Fix }

func (f *fakeSink) InsertFix(ctx context.Context, fix model.Fix) (string, error) {
	f.inserted = append(f.inserted, fix)
	return "fix-1", nil
}

type fakeFlights struct{ processed []model.Fix }

func (f *fakeFlights) ProcessFix(ctx context.Context, fix model.Fix) error {
	f.processed = append(f.processed, fix)
	return nil
}

type fakeGeofences struct{ calls int }

func (f *fakeGeofences) ProcessFix(ctx context.Context, aircraftID, flightID string, fix model.Fix) error {
	f.calls++
	return nil
}

type fakeCurrent struct{ flightID string; ok bool }

func (f fakeCurrent) CurrentFlightID(deviceID string) (string, bool) { return f.flightID, f.ok }

func TestHandleFixPersistsAndForwardsToFlightTracker(t *testing.T) {
	sink := &fakeSink{}
	flights := &fakeFlights{}
	p := New(sink, flights, nil, nil, nil, nil, nil)

	p.HandleFix(context.Background(), model.Fix{ICAOHex: "ABC123", ReceivedAt: time.Now()})

	require.Len(t, sink.inserted, 1)
	require.Len(t, flights.processed, 1)
}

func TestHandleFixSkipsGeofenceWhenNoOpenFlight(t *testing.T) {
	sink := &fakeSink{}
	flights := &fakeFlights{}
	gf := &fakeGeofences{}
	p := New(sink, flights, gf, fakeCurrent{ok: false}, nil, nil, nil)

	p.HandleFix(context.Background(), model.Fix{ICAOHex: "ABC123", ReceivedAt: time.Now()})

	require.Equal(t, 0, gf.calls)
}

func TestHandleFixInvokesGeofenceWhenFlightOpen(t *testing.T) {
	sink := &fakeSink{}
	flights := &fakeFlights{}
	gf := &fakeGeofences{}
	p := New(sink, flights, gf, fakeCurrent{flightID: "fl-1", ok: true}, nil, nil, nil)

	p.HandleFix(context.Background(), model.Fix{ICAOHex: "ABC123", ReceivedAt: time.Now()})

	require.Equal(t, 1, gf.calls)
}

func TestHandleFixEnqueuesElevationWhenAltitudeKnown(t *testing.T) {
	sink := &fakeSink{}
	flights := &fakeFlights{}
	elevCh := make(chan agl.ElevationRequest, 1)
	p := New(sink, flights, nil, nil, elevCh, nil, nil)

	alt := 3000
	p.HandleFix(context.Background(), model.Fix{ICAOHex: "ABC123", AltitudeFeet: &alt, ReceivedAt: time.Now()})

	select {
	case req := <-elevCh:
		require.Equal(t, "fix-1", req.FixID)
	default:
		t.Fatal("expected an elevation request to be enqueued")
	}
}
