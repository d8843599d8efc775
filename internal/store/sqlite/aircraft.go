package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnsureAircraft returns the id of the aircraft row identified by icaoHex
// and/or deviceID (at least one must be non-empty), inserting a minimal
// row if neither is already known.
func (db *DB) EnsureAircraft(ctx context.Context, icaoHex, deviceID string) (string, error) {
	var id string
	var err error
	switch {
	case icaoHex != "":
		err = db.QueryRowContext(ctx, `SELECT id FROM aircraft WHERE icao_hex = ?`, icaoHex).Scan(&id)
	case deviceID != "":
		err = db.QueryRowContext(ctx, `SELECT id FROM aircraft WHERE device_id = ?`, deviceID).Scan(&id)
	default:
		return "", fmt.Errorf("sqlite: ensure aircraft: both icao hex and device id are empty")
	}
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sqlite: lookup aircraft: %w", err)
	}

	id = uuid.NewString()
	_, err = db.ExecContext(ctx, `INSERT INTO aircraft (id, icao_hex, device_id) VALUES (?, NULLIF(?, ''), NULLIF(?, ''))`,
		id, icaoHex, deviceID)
	if err != nil {
		return "", fmt.Errorf("sqlite: insert aircraft: %w", err)
	}
	return id, nil
}
