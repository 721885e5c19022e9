package trace

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmptyWindow is returned when a window's end is not after its start.
var ErrEmptyWindow = errors.New("window end must be after start")

// ErrNonFiniteBound is returned for NaN or infinite millisecond bounds.
var ErrNonFiniteBound = errors.New("window bound must be finite")

// Window is a half-open [Start, End) range in nanoseconds relative to a
// session origin.
type Window struct {
	Start int64
	End   int64
}

// NewWindow validates and returns a window.
func NewWindow(start, end int64) (Window, error) {
	if end <= start {
		return Window{}, fmt.Errorf("%w: [%d, %d)", ErrEmptyWindow, start, end)
	}
	return Window{Start: start, End: end}, nil
}

// WindowFromMillis converts millisecond offsets from the origin into a window.
// A nil end means "until the end of the trace".
func WindowFromMillis(startMs float64, endMs *float64) (Window, error) {
	if !finite(startMs) {
		return Window{}, fmt.Errorf("%w: start=%g", ErrNonFiniteBound, startMs)
	}
	end := int64(math.MaxInt64)
	if endMs != nil {
		if !finite(*endMs) {
			return Window{}, fmt.Errorf("%w: end=%g", ErrNonFiniteBound, *endMs)
		}
		end = int64(*endMs * 1e6)
	}
	return NewWindow(int64(startMs*1e6), end)
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Overlaps reports whether e intersects the window. Both are half-open, so an
// event ending exactly at Start belongs to the previous window. A zero-length
// event sitting on Start is included so that it is not lost.
func (w Window) Overlaps(e Event) bool {
	if e.Start() >= w.End {
		return false
	}
	return e.End() > w.Start || (e.Start() == e.End() && e.Start() == w.Start)
}

// Filter returns the events overlapping w, preserving order.
func (w Window) Filter(events []Event) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if w.Overlaps(e) {
			out = append(out, e)
		}
	}
	return out
}

// Shift moves both bounds by delta, saturating at the int64 limits.
func (w Window) Shift(delta int64) Window {
	return Window{Start: satAdd(w.Start, delta), End: satAdd(w.End, delta)}
}

func satAdd(a, b int64) int64 {
	s := a + b
	if b > 0 && s < a {
		return math.MaxInt64
	}
	if b < 0 && s > a {
		return math.MinInt64
	}
	return s
}

func (w Window) String() string {
	return fmt.Sprintf("[%d, %d)", w.Start, w.End)
}

// OfKind returns the events of kind k, preserving order.
func OfKind(events []Event, k Kind) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if e.Kind() == k {
			out = append(out, e)
		}
	}
	return out
}
