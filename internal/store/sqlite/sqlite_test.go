package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/hut8/soar/internal/model"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEnsureReceiverIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id1, err := db.EnsureReceiver(ctx, "ReceiverA")
	require.NoError(t, err)

	id2, err := db.EnsureReceiver(ctx, "ReceiverA")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestInsertAprsMessageReferencesReceiver(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	receiverID, err := db.EnsureReceiver(ctx, "ReceiverB")
	require.NoError(t, err)

	msgID, err := db.InsertAprsMessage(ctx, receiverID, "raw aprs text", "")
	require.NoError(t, err)
	require.NotEmpty(t, msgID)
}

func TestInsertFixResolvesAircraft(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	alt := 3500
	fixID, err := db.InsertFix(ctx, model.Fix{
		ICAOHex:      "ABC123",
		Latitude:     45.5,
		Longitude:    -122.5,
		AltitudeFeet: &alt,
		OnGround:     false,
		ReceivedAt:   time.Now(),
	})
	require.NoError(t, err)
	require.NotEmpty(t, fixID)

	aircraftID, err := db.EnsureAircraft(ctx, "ABC123", "")
	require.NoError(t, err)
	require.NotEmpty(t, aircraftID)
}

func TestFlightLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	flightID, err := db.OpenFlight(ctx, &model.Flight{
		AircraftID: "N12345",
		DeviceID:   "N12345",
		StartTime:  now,
	})
	require.NoError(t, err)
	require.NotEmpty(t, flightID)

	dist := 1500.0
	maxAlt := 4500
	err = db.UpdateFlight(ctx, &model.Flight{ID: flightID, TotalDistanceM: &dist, MaxAltitudeFeet: &maxAlt})
	require.NoError(t, err)

	err = db.CloseFlight(ctx, flightID, now.Add(time.Hour), now.Add(time.Hour), nil)
	require.NoError(t, err)

	var state string
	err = db.QueryRowContext(ctx, `SELECT state FROM flights WHERE id = ?`, flightID).Scan(&state)
	require.NoError(t, err)
	require.Equal(t, string(model.FlightClosed), state)
}

func TestGeofenceRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	aircraftID, err := db.EnsureAircraft(ctx, "GEOAC01", "")
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO geofences (id, owner_user_id, center_lat, center_lon, max_radius_meters) VALUES (?, ?, ?, ?, ?)`,
		"gf-1", "user-1", 45.0, -122.0, 9260)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO geofence_layers (geofence_id, floor_ft, ceiling_ft, radius_nm) VALUES (?, ?, ?, ?)`,
		"gf-1", 0, 10000, 5)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO geofence_aircraft (geofence_id, aircraft_id) VALUES (?, ?)`, "gf-1", aircraftID)
	require.NoError(t, err)

	geofences, err := db.GeofencesForAircraft(ctx, aircraftID)
	require.NoError(t, err)
	require.Len(t, geofences, 1)
	require.Len(t, geofences[0].Layers, 1)

	flightID, err := db.OpenFlight(ctx, &model.Flight{AircraftID: "GEOAC01", StartTime: time.Now()})
	require.NoError(t, err)

	notified, err := db.RecordExitEvent(ctx, model.GeofenceExitEvent{
		GeofenceID: "gf-1", AircraftID: aircraftID, FlightID: flightID,
		ExitTime: time.Now(), ExitLatitude: 45.1, ExitLongitude: -122.1, ExitAltitudeFeet: 3000,
		LayerFloorFt: 0, LayerCeilingFt: 10000, LayerRadiusNM: 5,
	})
	require.NoError(t, err)
	require.Equal(t, 0, notified)
}

func TestNearestAirportWithinRadius(t *testing.T) {
	db := openTestDB(t)

	_, err := db.Exec(`INSERT INTO airports (id, ident, name, latitude, longitude) VALUES (?, ?, ?, ?, ?)`,
		"apt-1", "KPDX", "Portland Intl", 45.5898, -122.5951)
	require.NoError(t, err)

	id, ok := db.NearestAirport(45.5899, -122.5952)
	require.True(t, ok)
	require.Equal(t, "apt-1", id)

	_, ok = db.NearestAirport(10.0, 10.0)
	require.False(t, ok)
}
