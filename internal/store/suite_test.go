package store

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/skinscan/internal/scan"
)

// runRecordStoreSuite exercises the RecordStore contract against any backend.
func runRecordStoreSuite(t *testing.T, newStore func(t *testing.T) RecordStore) {
	t.Run("AppendAssignsIDAndSeq", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		id1, err := s.Append(ctx, createTestRecord("u1", "Acne", 0.9, baseTime))
		require.NoError(t, err)
		id2, err := s.Append(ctx, createTestRecord("u1", "Acne", 0.9, baseTime))
		require.NoError(t, err)

		assert.NotEmpty(t, id1)
		assert.NotEqual(t, id1, id2)

		recs, err := s.FindByUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Greater(t, recs[0].Seq, recs[1].Seq)
	})

	t.Run("UnknownUserIsEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		recs, err := s.FindByUser(ctx, "nobody")
		require.NoError(t, err)
		assert.NotNil(t, recs)
		assert.Empty(t, recs)

		n, err := s.CountByUser(ctx, "nobody")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("NewestFirstWithSeqTieBreak", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		// Inserted out of timestamp order; two share a timestamp.
		_, err := s.Append(ctx, createTestRecord("u1", "Acne", 0.1, baseTime.Add(time.Hour)))
		require.NoError(t, err)
		idTieFirst, err := s.Append(ctx, createTestRecord("u1", "Rosacea", 0.2, baseTime))
		require.NoError(t, err)
		idTieSecond, err := s.Append(ctx, createTestRecord("u1", "Eczemaa", 0.3, baseTime))
		require.NoError(t, err)
		_, err = s.Append(ctx, createTestRecord("u1", "Acne", 0.4, baseTime.Add(-time.Hour)))
		require.NoError(t, err)

		recs, err := s.FindByUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, recs, 4)

		assert.Equal(t, 0.1, recs[0].Confidence)
		assert.Equal(t, idTieSecond, recs[1].ID, "later insert first among equal timestamps")
		assert.Equal(t, idTieFirst, recs[2].ID)
		assert.Equal(t, 0.4, recs[3].Confidence)

		again, err := s.FindByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, recs, again, "ordering must be repeatable")
	})

	t.Run("FieldsRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		in := createTestRecord("u1", "Basal Cell Carcinoma", 0.75, baseTime.Add(123*time.Millisecond))
		id, err := s.Append(ctx, in)
		require.NoError(t, err)

		recs, err := s.FindByUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, recs, 1)

		got := recs[0]
		assert.Equal(t, id, got.ID)
		assert.Equal(t, in.UserID, got.UserID)
		assert.Equal(t, in.Label, got.Label)
		assert.Equal(t, in.Confidence, got.Confidence)
		assert.Equal(t, in.Image, got.Image)
		assert.True(t, in.Timestamp.Equal(got.Timestamp))
	})

	t.Run("UsersAreIsolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, err := s.Append(ctx, createTestRecord("alice", "Acne", 0.5, baseTime))
			require.NoError(t, err)
		}
		_, err := s.Append(ctx, createTestRecord("bob", "Acne", 0.5, baseTime))
		require.NoError(t, err)

		n, err := s.CountByUser(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		recs, err := s.FindByUser(ctx, "bob")
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "bob", recs[0].UserID)
	})

	t.Run("FindPageWindows", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 7; i++ {
			_, err := s.Append(ctx, createTestRecord("u1", "Acne", 0.5, baseTime.Add(time.Duration(i)*time.Minute)))
			require.NoError(t, err)
		}
		all, err := s.FindByUser(ctx, "u1")
		require.NoError(t, err)

		page, err := s.FindPage(ctx, "u1", 0, 3)
		require.NoError(t, err)
		assert.Equal(t, all[0:3], page)

		page, err = s.FindPage(ctx, "u1", 6, 3)
		require.NoError(t, err)
		assert.Equal(t, all[6:7], page)

		page, err = s.FindPage(ctx, "u1", 9, 3)
		require.NoError(t, err)
		assert.Empty(t, page)

		_, err = s.FindPage(ctx, "u1", 0, 0)
		require.Error(t, err)
		_, err = s.FindPage(ctx, "u1", -1, 3)
		require.Error(t, err)
	})

	t.Run("RejectsInvalidRecords", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cases := map[string]func(r *scan.Record){
			"empty user":        func(r *scan.Record) { r.UserID = "" },
			"empty label":       func(r *scan.Record) { r.Label = "" },
			"zero timestamp":    func(r *scan.Record) { r.Timestamp = time.Time{} },
			"confidence high":   func(r *scan.Record) { r.Confidence = 1.01 },
			"confidence low":    func(r *scan.Record) { r.Confidence = -0.01 },
			"confidence is NaN": func(r *scan.Record) { r.Confidence = math.NaN() },
		}
		for name, mutate := range cases {
			rec := createTestRecord("u1", "Acne", 0.5, baseTime)
			mutate(&rec)
			_, err := s.Append(ctx, rec)
			assert.Error(t, err, name)
		}

		n, err := s.CountByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 0, n, "rejected records must not be persisted")
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const writers = 8
		errs := make(chan error, writers)
		for i := 0; i < writers; i++ {
			go func(i int) {
				_, err := s.Append(ctx, createTestRecord("u1", "Acne", 0.5, baseTime.Add(time.Duration(i)*time.Second)))
				errs <- err
			}(i)
		}
		for i := 0; i < writers; i++ {
			require.NoError(t, <-errs, fmt.Sprintf("writer %d", i))
		}

		n, err := s.CountByUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, writers, n)
	})
}
