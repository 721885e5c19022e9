package timesync

import (
	"testing"
	"time"

	"github.com/mrzor/xfertrace/internal/trace"
	"github.com/mrzor/xfertrace/internal/trace/tracetest"
)

func TestConverter_WallClock(t *testing.T) {
	sessionStart := time.Unix(1000000000, 0) // 2001-09-09 01:46:40 UTC
	converter := NewConverter(5_000_000_000, sessionStart)

	tests := []struct {
		name     string
		relative int64
		want     time.Time
	}{
		{
			name:     "origin",
			relative: 0,
			want:     sessionStart.Add(5 * time.Second),
		},
		{
			name:     "one second after origin",
			relative: 1_000_000_000,
			want:     sessionStart.Add(6 * time.Second),
		},
		{
			name:     "mixed time",
			relative: 123_456_789,
			want:     sessionStart.Add(5*time.Second + 123*time.Millisecond + 456*time.Microsecond + 789*time.Nanosecond),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := converter.WallClock(tt.relative)
			if !got.Equal(tt.want) {
				t.Errorf("WallClock() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConverter_ZeroSessionStart(t *testing.T) {
	converter := NewConverter(0, time.Time{})

	if !converter.SessionStart().Equal(time.Unix(0, 0)) {
		t.Errorf("SessionStart() = %v, want Unix epoch", converter.SessionStart())
	}
}

func TestConverter_ToAbsolute(t *testing.T) {
	converter := NewConverter(1_000, time.Time{})

	got := converter.ToAbsolute(trace.Window{Start: 0, End: 100})
	want := trace.Window{Start: 1_000, End: 1_100}
	if got != want {
		t.Errorf("ToAbsolute() = %v, want %v", got, want)
	}
}

func TestConverter_Normalize(t *testing.T) {
	converter := NewConverter(1_000, time.Time{})
	events := []trace.Event{
		tracetest.Kernel(1, 1_000, 1_010, "k"),
		tracetest.Transfer(1, 1_020, 1_030, 7, 64, trace.DirHtoD),
	}

	got := converter.Normalize(events)

	if got[0].Start() != 0 || got[0].End() != 10 {
		t.Errorf("kernel normalized to [%d,%d), want [0,10)", got[0].Start(), got[0].End())
	}
	if got[1].Start() != 20 || got[1].Bytes() != 64 {
		t.Errorf("transfer normalized to start=%d bytes=%d", got[1].Start(), got[1].Bytes())
	}
	if events[0].Start() != 1_000 {
		t.Error("Normalize must not modify its input")
	}
}
