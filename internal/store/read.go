package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/skinscan/internal/scan"
)

// FindByUser returns all records for a user, newest first.
// Ties on timestamp are broken by seq DESC so the order is repeatable.
//
// Returns empty slice (not nil) if the user has no records.
func (s *Store) FindByUser(ctx context.Context, userID string) ([]scan.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, user_id, timestamp, label, confidence, image
		FROM scan_records
		WHERE user_id = ?
		ORDER BY timestamp DESC, seq DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// FindPage returns up to limit records for a user starting at offset skip,
// using the same ordering as FindByUser.
func (s *Store) FindPage(ctx context.Context, userID string, skip, limit int) ([]scan.Record, error) {
	if err := checkWindow(skip, limit); err != nil {
		return nil, fmt.Errorf("query page: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, user_id, timestamp, label, confidence, image
		FROM scan_records
		WHERE user_id = ?
		ORDER BY timestamp DESC, seq DESC
		LIMIT ? OFFSET ?
	`, userID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("query page: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// CountByUser returns the number of records for a user.
func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scan_records WHERE user_id = ?
	`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// scanRecords drains rows into a slice of records.
func scanRecords(rows *sql.Rows) ([]scan.Record, error) {
	records := []scan.Record{}
	for rows.Next() {
		var rec scan.Record
		var nanos int64
		if err := rows.Scan(
			&rec.Seq, &rec.ID, &rec.UserID, &nanos,
			&rec.Label, &rec.Confidence, &rec.Image,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Timestamp = time.Unix(0, nanos).UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return records, nil
}
