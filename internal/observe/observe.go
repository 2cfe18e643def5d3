// Package observe provides the logging and tracing surface shared by every
// component of the memory engine. Components receive an *Observer at
// construction; there are no package-level loggers.
package observe

import (
	"context"
	"io"

	"github.com/felixgeelhaar/bolt/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("recall")

// Observer handles structured logging and span creation.
type Observer struct {
	log *bolt.Logger
}

// New creates an Observer with human-readable console output.
// If verbose is false, only warnings and errors are shown.
func New(out io.Writer, verbose bool) *Observer {
	handler := bolt.NewConsoleHandler(out)
	l := bolt.New(handler)

	if !verbose {
		l.SetLevel(bolt.WARN)
	}

	return &Observer{
		log: l,
	}
}

// NewJSON creates an Observer with JSON output for non-interactive hosts.
// If verbose is false, only warnings and errors are shown.
func NewJSON(out io.Writer, verbose bool) *Observer {
	handler := bolt.NewJSONHandler(out)
	l := bolt.New(handler)

	if !verbose {
		l.SetLevel(bolt.WARN)
	}

	return &Observer{
		log: l,
	}
}

// Nop returns an Observer that discards everything. Used by tests and as the
// fallback when a component is constructed without one.
func Nop() *Observer {
	return New(io.Discard, false)
}

// Log returns the underlying logger.
func (o *Observer) Log() *bolt.Logger {
	return o.log
}

// StartSpan starts an OTel span for one of the engine's tracked operations
// (store init, remember, search, catalog build, dispatch).
func (o *Observer) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

// Close flushes any buffered output (placeholder; bolt writes synchronously).
func (o *Observer) Close() error {
	return nil
}
