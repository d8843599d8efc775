package adminhttp

import (
	"context"
	"database/sql"
)

// dailyFixCounts buckets received_at by calendar day over the last 30
// days of fixes, oldest first.
func dailyFixCounts(ctx context.Context, db *sql.DB) ([]DailyCount, error) {
	const query = `
		SELECT date(received_at) AS day, COUNT(*)
		FROM fixes
		WHERE received_at >= datetime('now', '-30 days')
		GROUP BY day
		ORDER BY day ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}

// dailyGeofenceExitCounts mirrors dailyFixCounts over geofence_exit_events.
func dailyGeofenceExitCounts(ctx context.Context, db *sql.DB) ([]DailyCount, error) {
	const query = `
		SELECT date(exit_time) AS day, COUNT(*)
		FROM geofence_exit_events
		WHERE exit_time >= datetime('now', '-30 days')
		GROUP BY day
		ORDER BY day ASC`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DailyCount
	for rows.Next() {
		var dc DailyCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, err
		}
		out = append(out, dc)
	}
	return out, rows.Err()
}
