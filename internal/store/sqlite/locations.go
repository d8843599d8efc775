package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
)

const nearestAirportRadiusMeters = 2000.0

// NearestAirport implements flighttracker.LocationResolver: it returns the
// id of an airport within nearestAirportRadiusMeters of (lat, lon), if
// any. Airport tables are small enough that a full scan with a haversine
// filter is acceptable; this is not a hot path.
func (db *DB) NearestAirport(lat, lon float64) (string, bool) {
	rows, err := db.Query(`SELECT id, latitude, longitude FROM airports`)
	if err != nil {
		return "", false
	}
	defer rows.Close()

	best := ""
	bestDist := math.MaxFloat64
	for rows.Next() {
		var id string
		var aLat, aLon float64
		if err := rows.Scan(&id, &aLat, &aLon); err != nil {
			continue
		}
		d := haversineMeters(lat, lon, aLat, aLon)
		if d <= nearestAirportRadiusMeters && d < bestDist {
			best, bestDist = id, d
		}
	}
	return best, best != ""
}

// ReverseGeocode implements flighttracker.LocationResolver by recording a
// minimal location row for the coordinate and returning its id. Production
// deployments may instead front this with an external geocoding service;
// this repository only guarantees the coordinate is durably referenceable.
func (db *DB) ReverseGeocode(ctx context.Context, lat, lon float64) (string, error) {
	var id string
	err := db.QueryRowContext(ctx,
		`SELECT id FROM locations WHERE latitude = ? AND longitude = ?`, lat, lon).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("sqlite: lookup location: %w", err)
	}

	id = newLocationID(lat, lon)
	_, err = db.ExecContext(ctx, `INSERT INTO locations (id, latitude, longitude) VALUES (?, ?, ?)`, id, lat, lon)
	if err != nil {
		return "", fmt.Errorf("sqlite: insert location: %w", err)
	}
	return id, nil
}

func newLocationID(lat, lon float64) string {
	return fmt.Sprintf("loc-%.6f-%.6f", lat, lon)
}

func haversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusM = 6371000.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}
