package timesync

import (
	"time"

	"github.com/mrzor/xfertrace/internal/trace"
)

// Converter handles conversion between absolute profiler timestamps and
// timestamps relative to a session origin.
type Converter struct {
	origin       int64
	sessionStart time.Time
}

// NewConverter creates a converter for a session whose earliest timestamp is
// origin. sessionStart is the wall-clock time of absolute timestamp zero; when
// unknown (zero value) wall-clock conversions are anchored at the Unix epoch.
func NewConverter(origin int64, sessionStart time.Time) *Converter {
	if sessionStart.IsZero() {
		sessionStart = time.Unix(0, 0)
	}
	return &Converter{
		origin:       origin,
		sessionStart: sessionStart,
	}
}

// Origin returns the absolute timestamp that relative time zero maps to.
func (c *Converter) Origin() int64 {
	return c.origin
}

// ToAbsolute converts a window relative to the origin into absolute bounds.
func (c *Converter) ToAbsolute(w trace.Window) trace.Window {
	return w.Shift(c.origin)
}

// Normalize returns the events shifted so that the origin becomes zero.
// The input slice is left untouched.
func (c *Converter) Normalize(events []trace.Event) []trace.Event {
	out := make([]trace.Event, len(events))
	for i, e := range events {
		out[i] = e.Shift(-c.origin)
	}
	return out
}

// WallClock converts a relative timestamp to wall-clock time.
func (c *Converter) WallClock(relativeNanos int64) time.Time {
	return c.sessionStart.Add(time.Duration(c.origin + relativeNanos))
}

// SessionStart returns the wall-clock anchor used for conversions.
func (c *Converter) SessionStart() time.Time {
	return c.sessionStart
}
