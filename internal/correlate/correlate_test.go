package correlate

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/xfertrace/internal/trace"
	"github.com/mrzor/xfertrace/internal/trace/tracetest"
)

var everything = trace.Window{Start: 0, End: 1 << 62}

func TestCorrelate_Scenario(t *testing.T) {
	window := trace.Window{Start: 0, End: 100}
	api := tracetest.APICall(15, 35, 1, "cudaMemcpyAsync")
	xfer := tracetest.Transfer(1, 20, 30, 1, 1024, trace.DirHtoD)

	res := Correlate(window, []trace.Event{api}, []trace.Event{xfer})

	require.Len(t, res.Transfers, 1)
	got := res.Transfers[0]
	assert.Equal(t, int64(10), got.DeviceActive)
	assert.Equal(t, int64(20), got.CPUWall)
	assert.Equal(t, int64(5), got.LaunchOverhead)
	assert.Equal(t, int64(5), got.SyncWait)
	assert.Equal(t, int64(20), got.EndToEnd)
	assert.Equal(t, Diagnostics{}, res.Diagnostics)
}

func TestCorrelate_AsyncCallReturnsEarly(t *testing.T) {
	// cudaMemcpyAsync returns long before the copy finishes.
	api := tracetest.APICall(0, 5, 1, "cudaMemcpyAsync")
	xfer := tracetest.Transfer(1, 40, 90, 1, 1<<20, trace.DirHtoD)

	res := Correlate(everything, []trace.Event{api}, []trace.Event{xfer})

	require.Len(t, res.Transfers, 1)
	got := res.Transfers[0]
	assert.Equal(t, int64(5), got.CPUWall)
	assert.Equal(t, int64(40), got.LaunchOverhead)
	assert.Equal(t, int64(0), got.SyncWait)
	assert.Equal(t, int64(-85), got.RawSyncOffset)
	assert.Equal(t, int64(90), got.EndToEnd)
	assert.Zero(t, res.Diagnostics.NegativeIntervals)
}

func TestCorrelate_UnmatchedIsIsolated(t *testing.T) {
	api := tracetest.APICall(15, 35, 1, "cudaMemcpyAsync")
	matched := tracetest.Transfer(1, 20, 30, 1, 1024, trace.DirHtoD)
	orphan := tracetest.Transfer(1, 40, 45, 777, 64, trace.DirDtoH)

	alone := Correlate(everything, []trace.Event{api}, []trace.Event{matched})
	mixed := Correlate(everything, []trace.Event{api}, []trace.Event{matched, orphan})

	assert.Equal(t, 1, mixed.Diagnostics.Unmatched)
	assert.Equal(t, alone.Transfers, mixed.Transfers)
}

func TestCorrelate_MultipleMatchesPicksEarliest(t *testing.T) {
	late := tracetest.APICall(12, 40, 9, "late")
	early := tracetest.APICall(10, 40, 9, "early")
	xfer := tracetest.Transfer(1, 20, 30, 9, 8, trace.DirHtoD)

	res := Correlate(everything, []trace.Event{late, early}, []trace.Event{xfer})

	require.Len(t, res.Transfers, 1)
	assert.Equal(t, "early", res.Transfers[0].APICall.Label())
	assert.Equal(t, 1, res.Diagnostics.MultipleMatches)
}

func TestCorrelate_SkewedClocksKeepInvariants(t *testing.T) {
	// Device record begins before the API call was entered.
	api := tracetest.APICall(50, 55, 3, "cudaMemcpy")
	xfer := tracetest.Transfer(1, 20, 60, 3, 8, trace.DirHtoD)

	res := Correlate(everything, []trace.Event{api}, []trace.Event{xfer})

	require.Len(t, res.Transfers, 1)
	got := res.Transfers[0]
	assert.Equal(t, int64(-30), got.RawLaunchOffset)
	assert.Zero(t, got.LaunchOverhead)
	assert.GreaterOrEqual(t, got.EndToEnd, got.DeviceActive)
	assert.Equal(t, 1, res.Diagnostics.NegativeIntervals)
}

func TestCorrelate_WindowAndKindFiltering(t *testing.T) {
	api := tracetest.APICall(0, 300, 1, "cudaMemcpy")
	inside := tracetest.Transfer(1, 20, 30, 1, 8, trace.DirHtoD)
	outside := tracetest.Transfer(1, 200, 210, 1, 8, trace.DirHtoD)
	kernel := tracetest.Kernel(1, 0, 10, "k")

	res := Correlate(trace.Window{Start: 0, End: 100}, []trace.Event{api, kernel}, []trace.Event{inside, outside, kernel})

	require.Len(t, res.Transfers, 1)
	assert.Equal(t, int64(20), res.Transfers[0].Transfer.Start())
}

func TestCorrelate_Empty(t *testing.T) {
	res := Correlate(everything, nil, nil)
	assert.Empty(t, res.Transfers)
	assert.Equal(t, Diagnostics{}, res.Diagnostics)
}

func TestCorrelate_PropertiesHoldOnRandomInput(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var calls, xfers []trace.Event
	for i := 0; i < 500; i++ {
		id := uint64(rng.Intn(400))
		cs := rng.Int63n(1_000_000)
		calls = append(calls, tracetest.APICall(cs, cs+rng.Int63n(5_000), id, "cudaMemcpyAsync"))
		xs := rng.Int63n(1_000_000)
		xfers = append(xfers, tracetest.Transfer(uint32(rng.Intn(4)), xs, xs+rng.Int63n(5_000), uint64(rng.Intn(500)), rng.Int63n(1<<20), trace.DirHtoD))
	}

	res := Correlate(everything, calls, xfers)

	require.NotEmpty(t, res.Transfers)
	assert.Equal(t, len(xfers), len(res.Transfers)+res.Diagnostics.Unmatched)
	for _, r := range res.Transfers {
		assert.GreaterOrEqual(t, r.EndToEnd, r.DeviceActive)
		assert.GreaterOrEqual(t, r.EndToEnd, r.CPUWall)
		assert.GreaterOrEqual(t, r.LaunchOverhead, int64(0))
		assert.GreaterOrEqual(t, r.SyncWait, int64(0))
	}
}

func TestBandwidth(t *testing.T) {
	assert.Equal(t, 0.0, Bandwidth(1024, 0))
	assert.Equal(t, 0.0, Bandwidth(0, 100))
	assert.InDelta(t, 1e9, Bandwidth(1000, 1000), 1e-6)
}

func TestTopByEndToEnd(t *testing.T) {
	records := []CorrelatedTransfer{
		{CorrelationID: 1, EndToEnd: 10},
		{CorrelationID: 2, EndToEnd: 30},
		{CorrelationID: 3, EndToEnd: 20},
	}

	top := TopByEndToEnd(records, 2)

	require.Len(t, top, 2)
	assert.Equal(t, uint64(2), top[0].CorrelationID)
	assert.Equal(t, uint64(3), top[1].CorrelationID)
	assert.Equal(t, uint64(1), records[0].CorrelationID, "input order preserved")
	assert.Len(t, TopByEndToEnd(records, 10), 3)
}

func TestCorrelate_AdjacentWindowsCountOnce(t *testing.T) {
	calls := []trace.Event{tracetest.APICall(0, 12, 1, "cudaMemcpy")}
	transfers := []trace.Event{
		tracetest.Transfer(1, 2, 10, 1, 256, trace.DirHtoD),
	}

	left := Correlate(trace.Window{Start: 0, End: 10}, calls, transfers)
	right := Correlate(trace.Window{Start: 10, End: 20}, calls, transfers)

	assert.Len(t, left.Transfers, 1)
	assert.Empty(t, right.Transfers, "a transfer ending at the boundary belongs to the earlier window")
	assert.Zero(t, right.Diagnostics.Unmatched)
}
