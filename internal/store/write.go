package store

import (
	"context"
	"fmt"

	"github.com/roach88/skinscan/internal/scan"
)

// Append inserts a scan record and returns its ID.
//
// The store assigns both the ID (UUIDv7) and the insertion sequence. The
// record is validated first; a rejected record never touches the database.
// There is no update or delete counterpart.
func (s *Store) Append(ctx context.Context, rec scan.Record) (string, error) {
	if err := validateRecord(rec); err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}

	id, err := newRecordID()
	if err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scan_records
		(id, user_id, timestamp, label, confidence, image)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		id,
		rec.UserID,
		rec.Timestamp.UTC().UnixNano(),
		rec.Label,
		rec.Confidence,
		rec.Image,
	)
	if err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}

	return id, nil
}
