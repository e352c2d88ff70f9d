package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/skinscan/internal/scan"
)

// Memory is a process-local RecordStore.
//
// It keeps records in insertion order and sorts on read, mirroring the
// SQLite ordering exactly. Used by tests and by `--store memory` for demos;
// nothing survives a restart.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	records []scan.Record
	seq     int64
	closed  bool
}

var _ RecordStore = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make([]scan.Record, 0, 64)}
}

// Append inserts rec and returns its ID.
func (m *Memory) Append(ctx context.Context, rec scan.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}
	if err := validateRecord(rec); err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}

	id, err := newRecordID()
	if err != nil {
		return "", fmt.Errorf("append record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return "", fmt.Errorf("append record: store closed")
	}

	m.seq++
	rec.ID = id
	rec.Seq = m.seq
	rec.Timestamp = rec.Timestamp.UTC()
	rec.Image = slices.Clone(rec.Image)
	m.records = append(m.records, rec)

	return id, nil
}

// FindByUser returns all records for userID, newest first.
func (m *Memory) FindByUser(ctx context.Context, userID string) ([]scan.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("query records: store closed")
	}

	out := []scan.Record{}
	for _, rec := range m.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, newestFirst)
	return out, nil
}

// FindPage returns a window of userID's records, newest first.
func (m *Memory) FindPage(ctx context.Context, userID string, skip, limit int) ([]scan.Record, error) {
	if err := checkWindow(skip, limit); err != nil {
		return nil, fmt.Errorf("query page: %w", err)
	}

	all, err := m.FindByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if skip >= len(all) {
		return []scan.Record{}, nil
	}
	end := min(skip+limit, len(all))
	return all[skip:end], nil
}

// CountByUser returns the number of records for userID.
func (m *Memory) CountByUser(ctx context.Context, userID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return 0, fmt.Errorf("count records: store closed")
	}

	n := 0
	for _, rec := range m.records {
		if rec.UserID == userID {
			n++
		}
	}
	return n, nil
}

// Close marks the store closed. Subsequent calls fail.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// newestFirst orders by timestamp DESC, seq DESC.
func newestFirst(a, b scan.Record) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.Seq > b.Seq:
		return -1
	case a.Seq < b.Seq:
		return 1
	}
	return 0
}
