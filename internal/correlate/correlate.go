// Package correlate joins CPU-side runtime API calls with the device-side
// transfers they triggered and derives end-to-end timings.
//
//	api.start ──► xfer.start ──► xfer.end ──► api.end
//	│← launch overhead →│← device active →│← sync wait →│
//	│←────────────────── cpu wall ─────────────────────→│
package correlate

import (
	"sort"

	"github.com/mrzor/xfertrace/internal/trace"
)

// CorrelatedTransfer is one transfer joined with the API call that issued it.
// All durations are in nanoseconds.
type CorrelatedTransfer struct {
	CorrelationID uint64
	APICall       trace.Event
	Transfer      trace.Event

	CPUWall        int64
	DeviceActive   int64
	LaunchOverhead int64
	SyncWait       int64
	EndToEnd       int64

	// RawLaunchOffset is xfer.start - api.start and RawSyncOffset is
	// api.end - xfer.end, both unclamped. A negative launch offset means the
	// two clocks disagree; a negative sync offset means the call returned
	// before the copy finished.
	RawLaunchOffset int64
	RawSyncOffset   int64
}

// Bandwidth returns bytes per second of device activity, or 0 when the
// transfer has no measurable duration.
func (c CorrelatedTransfer) Bandwidth() float64 {
	return Bandwidth(c.Transfer.Bytes(), c.DeviceActive)
}

// Bandwidth returns bytes / (activeNanos / 1e9), and exactly 0 when either
// input is not positive.
func Bandwidth(bytes, activeNanos int64) float64 {
	if activeNanos <= 0 || bytes <= 0 {
		return 0
	}
	return float64(bytes) / (float64(activeNanos) / 1e9)
}

// Diagnostics counts per-event anomalies. None of them abort a batch.
type Diagnostics struct {
	// Unmatched transfers had no API call with their correlation id.
	Unmatched int
	// MultipleMatches transfers had more than one candidate API call; the
	// earliest-starting one was used.
	MultipleMatches int
	// NegativeIntervals counts records whose device activity starts before the
	// API call was entered. A negative sync offset is not counted: it is the
	// normal shape of an asynchronous copy.
	NegativeIntervals int
}

// Result is the output of Correlate.
type Result struct {
	Transfers   []CorrelatedTransfer
	Diagnostics Diagnostics
}

// Correlate joins each transfer overlapping window with at most one API call
// sharing its correlation id. Events of the wrong kind in either input are
// ignored. API calls are not restricted to the window: a call may start well
// before the transfer it issued.
//
// When several API calls share a correlation id, the one with the earliest
// start is chosen (then earliest end, then label, then input order).
func Correlate(window trace.Window, apiCalls, transfers []trace.Event) Result {
	calls := indexCalls(apiCalls)

	var res Result
	for _, xfer := range transfers {
		if xfer.Kind() != trace.KindTransfer || !window.Overlaps(xfer) {
			continue
		}
		id, _ := xfer.CorrelationID()
		candidates := calls[id]
		switch len(candidates) {
		case 0:
			res.Diagnostics.Unmatched++
			continue
		case 1:
		default:
			res.Diagnostics.MultipleMatches++
		}

		rec := derive(id, candidates[0], xfer)
		if rec.RawLaunchOffset < 0 {
			res.Diagnostics.NegativeIntervals++
		}
		res.Transfers = append(res.Transfers, rec)
	}

	sort.SliceStable(res.Transfers, func(i, j int) bool {
		a, b := res.Transfers[i], res.Transfers[j]
		if a.Transfer.Start() != b.Transfer.Start() {
			return a.Transfer.Start() < b.Transfer.Start()
		}
		return a.CorrelationID < b.CorrelationID
	})
	return res
}

// indexCalls groups API calls by correlation id, each group sorted so that
// the preferred match comes first.
func indexCalls(apiCalls []trace.Event) map[uint64][]trace.Event {
	calls := make(map[uint64][]trace.Event)
	for _, c := range apiCalls {
		if c.Kind() != trace.KindAPICall {
			continue
		}
		id, _ := c.CorrelationID()
		calls[id] = append(calls[id], c)
	}
	for _, group := range calls {
		if len(group) > 1 {
			sort.SliceStable(group, func(i, j int) bool { return trace.Less(group[i], group[j]) })
		}
	}
	return calls
}

func derive(id uint64, api, xfer trace.Event) CorrelatedTransfer {
	rec := CorrelatedTransfer{
		CorrelationID:   id,
		APICall:         api,
		Transfer:        xfer,
		CPUWall:         api.Duration(),
		DeviceActive:    xfer.Duration(),
		RawLaunchOffset: xfer.Start() - api.Start(),
		RawSyncOffset:   api.End() - xfer.End(),
	}
	rec.LaunchOverhead = max(0, rec.RawLaunchOffset)
	rec.SyncWait = max(0, rec.RawSyncOffset)
	// The device record can only start before the call on skewed clocks; the
	// floor at DeviceActive keeps end-to-end covering the device interval then.
	rec.EndToEnd = max(rec.CPUWall, xfer.End()-api.Start(), rec.DeviceActive)
	return rec
}

// TopByEndToEnd returns the n slowest records by end-to-end time, ties in
// input order. The input is not modified.
func TopByEndToEnd(records []CorrelatedTransfer, n int) []CorrelatedTransfer {
	out := make([]CorrelatedTransfer, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndToEnd > out[j].EndToEnd })
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}
