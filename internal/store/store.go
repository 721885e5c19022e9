// Package store defines the read interface the analysis engine consumes and
// the adapters that implement it.
//
// A Session is scoped to one query: callers open it, read from it, and close
// it on every exit path. Sessions are never shared across goroutines.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mrzor/xfertrace/internal/trace"
)

// ErrUnavailable wraps every failure to open or read the underlying store.
var ErrUnavailable = errors.New("event store unavailable")

// Opener opens read sessions against an event store.
type Opener interface {
	Open(ctx context.Context) (Session, error)
}

// Session reads raw events from one snapshot of a trace.
type Session interface {
	// Origin returns the absolute timestamp every relative time is measured
	// from. It is computed on first call and stable for the session.
	Origin(ctx context.Context) (int64, error)
	// SessionStart returns the wall-clock time of absolute timestamp zero,
	// or the zero time when the trace does not record it.
	SessionStart(ctx context.Context) (time.Time, error)
	// Events returns events of kind overlapping the absolute window. Events
	// are not clipped to the window.
	Events(ctx context.Context, kind trace.Kind, window trace.Window) (Batch, error)
	Close() error
}

// Batch is the result of one Events read.
type Batch struct {
	Events []trace.Event
	// Malformed counts rows that failed event validation and were skipped.
	Malformed int
}
