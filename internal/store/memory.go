package store

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/mrzor/xfertrace/internal/trace"
)

// Memory is an Opener over a fixed slice of events with absolute timestamps.
// It backs tests and callers that already hold decoded events.
type Memory struct {
	events       []trace.Event
	sessionStart time.Time

	// OpenErr, when set, is returned (wrapped in ErrUnavailable) by Open.
	OpenErr error
	// ReadErr, when set, is returned (wrapped in ErrUnavailable) by Events.
	ReadErr error

	opened atomic.Int64
	closed atomic.Int64
}

// NewMemory returns a Memory store holding events.
func NewMemory(events ...trace.Event) *Memory {
	return &Memory{events: events}
}

// WithSessionStart sets the wall-clock anchor reported by sessions.
func (m *Memory) WithSessionStart(t time.Time) *Memory {
	m.sessionStart = t
	return m
}

// Open implements Opener.
func (m *Memory) Open(_ context.Context) (Session, error) {
	if m.OpenErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, m.OpenErr)
	}
	m.opened.Add(1)
	return &memorySession{store: m}, nil
}

// OpenSessions returns the number of sessions opened and not yet closed.
func (m *Memory) OpenSessions() int64 {
	return m.opened.Load() - m.closed.Load()
}

type memorySession struct {
	store  *Memory
	origin *int64
	closed bool
}

func (s *memorySession) Origin(_ context.Context) (int64, error) {
	if s.origin != nil {
		return *s.origin, nil
	}
	origin := minStart(s.store.events, trace.KindKernel)
	if origin == math.MaxInt64 {
		origin = minStart(s.store.events, trace.KindTransfer)
	}
	if origin == math.MaxInt64 {
		origin = 0
	}
	s.origin = &origin
	return origin, nil
}

func minStart(events []trace.Event, kind trace.Kind) int64 {
	lowest := int64(math.MaxInt64)
	for _, e := range events {
		if e.Kind() == kind && e.Start() < lowest {
			lowest = e.Start()
		}
	}
	return lowest
}

func (s *memorySession) SessionStart(_ context.Context) (time.Time, error) {
	return s.store.sessionStart, nil
}

func (s *memorySession) Events(_ context.Context, kind trace.Kind, window trace.Window) (Batch, error) {
	if s.store.ReadErr != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrUnavailable, s.store.ReadErr)
	}
	return Batch{Events: window.Filter(trace.OfKind(s.store.events, kind))}, nil
}

func (s *memorySession) Close() error {
	if !s.closed {
		s.closed = true
		s.store.closed.Add(1)
	}
	return nil
}
