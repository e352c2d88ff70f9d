package scan

import "time"

// TimestampPrecision is the resolution of Record.Timestamp. It matches BSON
// datetimes, the coarsest store backend.
const TimestampPrecision = time.Millisecond

// Record is one persisted classification event for a user.
//
// JSON field names follow the wire format the mobile client already consumes
// (snake_case, "result" for the label, base64 image payload).
type Record struct {
	ID         string    `json:"_id"`
	UserID     string    `json:"user_id" validate:"required"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	Label      string    `json:"result" validate:"required"`
	Confidence float64   `json:"confidence" validate:"gte=0,lte=1"`
	Image      []byte    `json:"image_base64"`

	// Seq is the store-assigned insertion sequence. It breaks timestamp ties
	// so that history ordering is repeatable. Not part of the wire format.
	Seq int64 `json:"-"`
}

// Prediction is the classifier's output for a single image.
type Prediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// ValidConfidence reports whether c lies within [0.0, 1.0].
// NaN is never valid.
func ValidConfidence(c float64) bool {
	return c >= 0.0 && c <= 1.0
}
