package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hut8/soar/internal/model"
)

// GeofencesForAircraft implements geofence.GeofenceSource.
func (db *DB) GeofencesForAircraft(ctx context.Context, aircraftID string) ([]model.Geofence, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT g.id, g.owner_user_id, g.club_id, g.center_lat, g.center_lon, g.max_radius_meters
		FROM geofences g
		JOIN geofence_aircraft ga ON ga.geofence_id = g.id
		WHERE ga.aircraft_id = ?`, aircraftID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list geofences for aircraft: %w", err)
	}
	defer rows.Close()

	var geofences []model.Geofence
	for rows.Next() {
		var g model.Geofence
		var clubID *string
		if err := rows.Scan(&g.ID, &g.OwnerUserID, &clubID, &g.CenterLat, &g.CenterLon, &g.MaxRadiusMeters); err != nil {
			return nil, fmt.Errorf("sqlite: scan geofence: %w", err)
		}
		g.ClubID = clubID
		geofences = append(geofences, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range geofences {
		layers, err := db.layersFor(ctx, geofences[i].ID)
		if err != nil {
			return nil, err
		}
		geofences[i].Layers = layers
	}
	return geofences, nil
}

func (db *DB) layersFor(ctx context.Context, geofenceID string) ([]model.GeofenceLayer, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT floor_ft, ceiling_ft, radius_nm FROM geofence_layers WHERE geofence_id = ?`, geofenceID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list geofence layers: %w", err)
	}
	defer rows.Close()

	var layers []model.GeofenceLayer
	for rows.Next() {
		var l model.GeofenceLayer
		if err := rows.Scan(&l.FloorFt, &l.CeilingFt, &l.RadiusNM); err != nil {
			return nil, fmt.Errorf("sqlite: scan geofence layer: %w", err)
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

// RecordExitEvent implements geofence.EventSink. The subscriber count is
// resolved from geofence_subscribers; downstream email delivery is out of
// this repository's scope.
func (db *DB) RecordExitEvent(ctx context.Context, ev model.GeofenceExitEvent) (int, error) {
	var subscriberCount int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM geofence_subscribers WHERE geofence_id = ?`, ev.GeofenceID,
	).Scan(&subscriberCount); err != nil {
		return 0, fmt.Errorf("sqlite: count geofence subscribers: %w", err)
	}

	id := uuid.NewString()
	_, err := db.ExecContext(ctx, `
		INSERT INTO geofence_exit_events (
			id, geofence_id, aircraft_id, flight_id, exit_time, exit_latitude, exit_longitude,
			exit_altitude_feet, layer_floor_ft, layer_ceiling_ft, layer_radius_nm, subscribers_notified
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, ev.GeofenceID, ev.AircraftID, ev.FlightID, ev.ExitTime, ev.ExitLatitude, ev.ExitLongitude,
		ev.ExitAltitudeFeet, ev.LayerFloorFt, ev.LayerCeilingFt, ev.LayerRadiusNM, subscriberCount,
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert geofence exit event: %w", err)
	}
	return subscriberCount, nil
}
