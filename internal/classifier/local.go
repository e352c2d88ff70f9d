package classifier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"image"
	"time"

	// Register decoders for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/roach88/skinscan/internal/scan"
)

// Local classifies without a model.
//
// The same bytes always produce the same prediction, which makes it useful
// for demos, offline CLI runs and tests. Payloads that do not decode as
// PNG, JPEG or GIF fail the way an unreadable image fails in a real model.
//
// Thread-safety: Local is immutable and safe for concurrent use.
type Local struct {
	labels *scan.LabelSet
	delay  time.Duration
}

// NewLocal creates a Local classifier over labels. delay simulates model
// latency and is not interruptible.
func NewLocal(labels *scan.LabelSet, delay time.Duration) *Local {
	return &Local{labels: labels, delay: delay}
}

// Classify decodes the image header and returns a payload-derived prediction.
func (l *Local) Classify(_ context.Context, img []byte) (scan.Prediction, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return scan.Prediction{}, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return scan.Prediction{}, fmt.Errorf("decode image: empty %s image", format)
	}

	if l.delay > 0 {
		time.Sleep(l.delay)
	}

	sum := sha256.Sum256(img)
	names := l.labels.Names()
	label := names[int(sum[0])%len(names)]
	confidence := float64(binary.BigEndian.Uint16(sum[1:3])) / float64(^uint16(0))

	return scan.Prediction{Label: label, Confidence: confidence}, nil
}
