package sqlite

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// InsertAprsMessage implements router.MessageStore.
func (db *DB) InsertAprsMessage(ctx context.Context, receiverID, rawText, residue string) (string, error) {
	id := uuid.NewString()
	_, err := db.ExecContext(ctx,
		`INSERT INTO aprs_messages (id, receiver_id, raw_text, residue) VALUES (?, ?, ?, ?)`,
		id, receiverID, rawText, residue)
	if err != nil {
		return "", fmt.Errorf("sqlite: insert aprs message: %w", err)
	}
	return id, nil
}
