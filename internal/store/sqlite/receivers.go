package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnsureReceiver implements router.ReceiverStore: it returns the id of the
// receiver identified by callsign, inserting a minimal row if one does not
// already exist.
func (db *DB) EnsureReceiver(ctx context.Context, callsign string) (string, error) {
	var id string
	err := db.QueryRowContext(ctx, `SELECT id FROM receivers WHERE callsign = ?`, callsign).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("sqlite: lookup receiver %s: %w", callsign, err)
	}

	id = uuid.NewString()
	_, err = db.ExecContext(ctx, `INSERT INTO receivers (id, callsign, status) VALUES (?, ?, 'unknown')`, id, callsign)
	if err != nil {
		// Another router worker may have inserted the same receiver
		// concurrently; fall back to re-reading rather than erroring.
		var existing string
		if lookupErr := db.QueryRowContext(ctx, `SELECT id FROM receivers WHERE callsign = ?`, callsign).Scan(&existing); lookupErr == nil {
			return existing, nil
		}
		return "", fmt.Errorf("sqlite: insert receiver %s: %w", callsign, err)
	}
	return id, nil
}

// UpdateReceiverPosition records a receiver's self-reported position.
func (db *DB) UpdateReceiverPosition(ctx context.Context, receiverID string, lat, lon, altM float64) error {
	_, err := db.ExecContext(ctx,
		`UPDATE receivers SET latitude = ?, longitude = ?, altitude_m = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		lat, lon, altM, receiverID)
	return err
}

// UpdateReceiverStatus records a receiver's self-reported status line.
func (db *DB) UpdateReceiverStatus(ctx context.Context, receiverID, status string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE receivers SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, status, receiverID)
	return err
}
