// Package adminhttp wires operator-facing debug routes onto a process's
// metrics mux: a live SQL console against the store, a JSON table-size
// report, and three chart endpoints over daily volume: an interactive HTML
// dashboard and a static PNG trend of fix volume, and a static PNG of
// geofence-exit volume.
package adminhttp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// TableStats reports one table's row count, used by the db-stats route.
type TableStats struct {
	Name     string `json:"name"`
	RowCount int    `json:"row_count"`
}

// DailyCount is one bucket of the fix-volume/geofence-exit-volume series.
type DailyCount struct {
	Day   string
	Count int
}

// Attach mounts the admin debug routes onto mux: a tailsql live console
// against db, a table-size report, and the fix-volume and geofence-exit
// charts. label
// identifies the database in the tailsql picker (e.g. "soar-processor").
func Attach(mux *http.ServeMux, db *sql.DB, label string) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("adminhttp: create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://soar.db", db, &tailsql.DBOptions{Label: label})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Row counts for core tables (JSON)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := tableStats(r.Context(), db)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(stats)
	}))

	debug.Handle("fix-volume", "Daily fix volume (interactive chart)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counts, err := dailyFixCounts(r.Context(), db)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := renderFixVolumeChart(w, counts); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))

	debug.Handle("fix-volume.png", "Daily fix volume (static PNG)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counts, err := dailyFixCounts(r.Context(), db)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := renderFixVolumePNG(w, counts); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))

	debug.Handle("geofence-exits.png", "Daily geofence exit volume (static PNG)", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		counts, err := dailyGeofenceExitCounts(r.Context(), db)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if err := renderDailyCountPNG(w, counts, "Geofence Exits", "Exits/day"); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}))

	return nil
}

func tableStats(ctx context.Context, db *sql.DB) ([]TableStats, error) {
	tables := []string{"fixes", "aircraft", "receivers", "flights", "geofence_exit_events", "aprs_messages"}
	stats := make([]TableStats, 0, len(tables))
	for _, name := range tables {
		var count int
		// Table names here are a fixed, trusted list above, not user input.
		query := fmt.Sprintf("SELECT COUNT(*) FROM %q", name)
		if err := db.QueryRowContext(ctx, query).Scan(&count); err != nil {
			count = 0
		}
		stats = append(stats, TableStats{Name: name, RowCount: count})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].RowCount > stats[j].RowCount })
	return stats, nil
}
