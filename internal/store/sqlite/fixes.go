package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hut8/soar/internal/model"
)

// InsertFix persists a Fix, resolving its owning aircraft row first, and
// returns the new fix id.
func (db *DB) InsertFix(ctx context.Context, fix model.Fix) (string, error) {
	aircraftID, err := db.EnsureAircraft(ctx, fix.ICAOHex, fix.DeviceID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO fixes (
			id, aircraft_id, icao_hex, device_id, latitude, longitude, altitude_feet,
			ground_speed_kts, track_degrees, vertical_rate_fpm, callsign, squawk,
			on_ground, received_at, position_age_ms, raw_message_id, receiver_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		id, aircraftID, fix.ICAOHex, fix.DeviceID, fix.Latitude, fix.Longitude, fix.AltitudeFeet,
		fix.GroundSpeedKts, fix.TrackDegrees, fix.VerticalRateFpm, fix.Callsign, fix.Squawk,
		fix.OnGround, fix.ReceivedAt, fix.PositionAgeMs, fix.RawMessageRef, fix.ReceiverRef,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: insert fix: %w", err)
	}
	return id, nil
}

// UpdateFixAGL records the AGL worker pool's computed altitude-above-ground
// for a previously inserted fix.
func (db *DB) UpdateFixAGL(ctx context.Context, fixID string, altitudeAGLFeet int) error {
	_, err := db.ExecContext(ctx, `UPDATE fixes SET altitude_agl_feet = ? WHERE id = ?`, altitudeAGLFeet, fixID)
	return err
}
