package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/skinscan/internal/scan"
)

// Step is one scripted classifier response.
type Step struct {
	Prediction scan.Prediction
	Err        error
	Panic      any
}

// ScriptedClassifier replays a fixed list of responses.
//
// Call i gets steps[i]; calls past the end repeat the last step. Gate, when
// set, holds every call until the channel is closed (or receives), ignoring
// ctx, which mirrors a model that cannot be interrupted.
//
// Thread-safety: Classify is safe for concurrent use. Set Gate, Delay and
// Probe before the first call.
type ScriptedClassifier struct {
	Gate  chan struct{}
	Delay time.Duration
	Probe *ConcurrencyProbe

	mu       sync.Mutex
	steps    []Step
	images   [][]byte
	finished atomic.Int64
}

// NewScriptedClassifier creates a classifier that replays steps.
func NewScriptedClassifier(steps ...Step) *ScriptedClassifier {
	if len(steps) == 0 {
		steps = []Step{{Prediction: scan.Prediction{Label: "Acne", Confidence: 0.9}}}
	}
	return &ScriptedClassifier{steps: steps}
}

// Classify returns the next scripted response.
func (c *ScriptedClassifier) Classify(_ context.Context, image []byte) (scan.Prediction, error) {
	c.Probe.Enter()
	defer c.Probe.Exit()
	defer c.finished.Add(1)

	c.mu.Lock()
	i := len(c.images)
	c.images = append(c.images, append([]byte(nil), image...))
	step := c.steps[min(i, len(c.steps)-1)]
	c.mu.Unlock()

	if c.Gate != nil {
		<-c.Gate
	}
	if c.Delay > 0 {
		time.Sleep(c.Delay)
	}
	if step.Panic != nil {
		panic(step.Panic)
	}
	return step.Prediction, step.Err
}

// Calls returns how many times Classify has been entered.
func (c *ScriptedClassifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.images)
}

// Finished returns how many calls have returned (or panicked).
func (c *ScriptedClassifier) Finished() int {
	return int(c.finished.Load())
}

// Images returns the payloads seen so far, in call order.
func (c *ScriptedClassifier) Images() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.images))
	copy(out, c.images)
	return out
}

// ConcurrencyProbe tracks how many goroutines are inside a section at once.
// A nil probe ignores Enter and Exit.
type ConcurrencyProbe struct {
	current atomic.Int64
	peak    atomic.Int64
}

// Enter marks one goroutine entering the section.
func (p *ConcurrencyProbe) Enter() {
	if p == nil {
		return
	}
	n := p.current.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

// Exit marks one goroutine leaving the section.
func (p *ConcurrencyProbe) Exit() {
	if p == nil {
		return
	}
	p.current.Add(-1)
}

// Current returns the number of goroutines inside the section now.
func (p *ConcurrencyProbe) Current() int {
	return int(p.current.Load())
}

// Peak returns the highest concurrent count observed.
func (p *ConcurrencyProbe) Peak() int {
	return int(p.peak.Load())
}
