package sqlite

import (
	"context"
	"fmt"

	"github.com/hut8/soar/internal/agl"
)

// WriteBatch implements agl.BatchWriter: every update in the batch is
// applied inside one transaction, since the AGL stage already coalesces
// updates precisely so storage doesn't pay a round trip per fix.
func (db *DB) WriteBatch(ctx context.Context, updates []agl.ElevationUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin AGL batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE fixes SET altitude_agl_feet = ? WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare AGL batch update: %w", err)
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, u.AltitudeAGLFt, u.FixID); err != nil {
			return fmt.Errorf("sqlite: apply AGL update for fix %s: %w", u.FixID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit AGL batch: %w", err)
	}
	return nil
}
