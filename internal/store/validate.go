package store

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/roach88/skinscan/internal/scan"
)

var (
	recordValidate     *validator.Validate
	recordValidateOnce sync.Once
)

// validateRecord rejects records that would break the data model before they
// reach a backend. Uses the validate tags on scan.Record.
func validateRecord(rec scan.Record) error {
	recordValidateOnce.Do(func() {
		recordValidate = validator.New(validator.WithRequiredStructEnabled())
	})
	if err := recordValidate.Struct(rec); err != nil {
		return fmt.Errorf("invalid record: %w", err)
	}
	// validator treats NaN as passing gte/lte
	if !scan.ValidConfidence(rec.Confidence) {
		return fmt.Errorf("invalid record: confidence %v outside [0, 1]", rec.Confidence)
	}
	return nil
}

// newRecordID returns a time-sortable UUIDv7 string.
func newRecordID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	return id.String(), nil
}

// checkWindow validates pagination arguments shared by every backend.
func checkWindow(skip, limit int) error {
	if skip < 0 {
		return fmt.Errorf("skip must be >= 0, got %d", skip)
	}
	if limit <= 0 {
		return fmt.Errorf("limit must be > 0, got %d", limit)
	}
	return nil
}
