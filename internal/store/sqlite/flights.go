package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hut8/soar/internal/model"
)

// OpenFlight implements flighttracker.FlightStore. f.AircraftID is treated
// as the tracker's device/ICAO key, not a store row id; the backing
// aircraft row is resolved (or created) here.
func (db *DB) OpenFlight(ctx context.Context, f *model.Flight) (string, error) {
	aircraftID, err := db.EnsureAircraft(ctx, f.AircraftID, f.DeviceID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	_, err = db.ExecContext(ctx, `
		INSERT INTO flights (id, aircraft_id, device_id, state, takeoff_time, start_time)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, aircraftID, f.DeviceID, model.FlightOpenAirborne, f.TakeoffTime, f.StartTime,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: open flight: %w", err)
	}
	return id, nil
}

// UpdateFlight applies whichever non-zero fields f carries: an open-state
// transition, TowedBy, TakeoffLocID, and the track summary (TotalDistanceM,
// MaxAltitudeFeet, AvgAltitudeFeet), independently of each other, since
// the tracker calls this at different points in a flight's lifecycle.
// Closing a flight goes through CloseFlight, not here.
func (db *DB) UpdateFlight(ctx context.Context, f *model.Flight) error {
	if f.State == model.FlightOpenAirborne || f.State == model.FlightOpenGround {
		if _, err := db.ExecContext(ctx, `UPDATE flights SET state = ? WHERE id = ?`, f.State, f.ID); err != nil {
			return fmt.Errorf("sqlite: update flight state: %w", err)
		}
	}
	if f.TowedBy != nil {
		if _, err := db.ExecContext(ctx, `UPDATE flights SET towed_by = ? WHERE id = ?`, *f.TowedBy, f.ID); err != nil {
			return fmt.Errorf("sqlite: update flight towed_by: %w", err)
		}
	}
	if f.TakeoffLocID != nil {
		if _, err := db.ExecContext(ctx, `UPDATE flights SET takeoff_location_id = ? WHERE id = ?`, *f.TakeoffLocID, f.ID); err != nil {
			return fmt.Errorf("sqlite: update flight takeoff location: %w", err)
		}
	}
	if f.TotalDistanceM != nil || f.MaxAltitudeFeet != nil || f.AvgAltitudeFeet != nil {
		_, err := db.ExecContext(ctx,
			`UPDATE flights SET total_distance_m = ?, max_altitude_feet = ?, avg_altitude_feet = ? WHERE id = ?`,
			f.TotalDistanceM, f.MaxAltitudeFeet, f.AvgAltitudeFeet, f.ID)
		if err != nil {
			return fmt.Errorf("sqlite: update flight summary: %w", err)
		}
	}
	return nil
}

// CloseFlight implements flighttracker.FlightStore.
func (db *DB) CloseFlight(ctx context.Context, id string, landingTime, endTime time.Time, landingLocID *string) error {
	var locID interface{}
	if landingLocID != nil {
		locID = *landingLocID
	}
	_, err := db.ExecContext(ctx, `
		UPDATE flights SET state = ?, landing_time = ?, end_time = ?, landing_location_id = ?
		WHERE id = ?`,
		model.FlightClosed, landingTime, endTime, locID, id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: close flight: %w", err)
	}
	return nil
}
