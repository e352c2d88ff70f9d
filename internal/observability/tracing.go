package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation scope for skinscan spans.
const TracerName = "github.com/roach88/skinscan"

// Tracer returns the skinscan tracer from the global provider.
// Without a configured provider this is a no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
