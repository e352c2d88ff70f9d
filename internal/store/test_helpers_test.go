package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/skinscan/internal/scan"
)

// createTestStore creates a new SQLite store in a temp dir for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// baseTime is a fixed Wednesday used by the record builders.
var baseTime = time.Date(2024, time.March, 6, 9, 30, 0, 0, time.UTC)

// createTestRecord creates a record with minimal required fields.
func createTestRecord(userID, label string, confidence float64, at time.Time) scan.Record {
	return scan.Record{
		UserID:     userID,
		Timestamp:  at,
		Label:      label,
		Confidence: confidence,
		Image:      []byte{0x89, 'P', 'N', 'G'},
	}
}
