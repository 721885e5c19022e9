package analyzer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/xfertrace/internal/aggregator"
	"github.com/mrzor/xfertrace/internal/store"
	"github.com/mrzor/xfertrace/internal/summary"
	"github.com/mrzor/xfertrace/internal/trace"
	"github.com/mrzor/xfertrace/internal/trace/tracetest"
)

const origin = 1_000

// fixture holds absolute timestamps; the earliest kernel starts at origin.
func fixture() *store.Memory {
	return store.NewMemory(
		tracetest.Kernel(1, origin, origin+10, "before"),
		tracetest.APICall(origin+10, origin+30, 1, "cudaMemcpy"),
		tracetest.Transfer(1, origin+20, origin+25, 1, 500, trace.DirHtoD),
		tracetest.Kernel(1, origin+50, origin+60, "after"),
		tracetest.Transfer(1, origin+70, origin+80, 99, 100, trace.DirDtoH),
	).WithSessionStart(time.Unix(1_700_000_000, 0))
}

func TestAnalyze_EndToEnd(t *testing.T) {
	mem := fixture()
	a, err := New(mem, Options{BinWidth: 100, TopN: 5, GroupBy: "stream"})
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), trace.Window{Start: 0, End: 100})
	require.NoError(t, err)

	assert.Equal(t, int64(origin), res.Clock.Origin())
	assert.Zero(t, mem.OpenSessions())

	require.Len(t, res.Transfers, 1)
	x := res.Transfers[0]
	assert.Equal(t, int64(20), x.Transfer.Start(), "events are normalized to the origin")
	assert.Equal(t, int64(20), x.CPUWall)
	assert.Equal(t, int64(5), x.DeviceActive)
	assert.Equal(t, int64(10), x.LaunchOverhead)
	assert.Equal(t, int64(5), x.SyncWait)
	assert.Equal(t, int64(20), x.EndToEnd)
	assert.Len(t, res.Top, 1)

	require.Len(t, res.Pairs, 2)
	first := res.Pairs[0]
	require.NotNil(t, first.Prev)
	require.NotNil(t, first.Next)
	assert.Equal(t, "before", first.Prev.Label())
	assert.Equal(t, int64(10), *first.GapBefore)
	assert.Equal(t, "after", first.Next.Label())
	assert.Equal(t, int64(25), *first.GapAfter)

	require.Len(t, res.Bins, 1)
	assert.Equal(t, 2, res.Bins[0].Count)

	require.Len(t, res.ByDirection, 1)
	assert.Equal(t, "HtoD", res.ByDirection[0].Key)
	require.Len(t, res.ByMemory, 1)
	require.Len(t, res.ByGroup, 1)
	assert.Equal(t, "1", res.ByGroup[0].Key)
	assert.Len(t, res.Raw, 2, "raw summary includes the unmatched transfer")

	assert.Equal(t, 1, res.Diagnostics.Unmatched)
	assert.True(t, res.Diagnostics.Any())
}

func TestAnalyze_LaunchLookback(t *testing.T) {
	mem := store.NewMemory(
		tracetest.Kernel(0, 0, 1, "k"),
		tracetest.APICall(0, 5, 7, "cudaMemcpyAsync"),
		tracetest.Transfer(0, 20, 25, 7, 64, trace.DirHtoD),
	)
	window := trace.Window{Start: 10, End: 100}

	tests := []struct {
		name          string
		lookback      int64
		wantMatched   int
		wantUnmatched int
	}{
		{"call outside window without lookback", 0, 0, 1},
		{"lookback reaches the call", 100, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(mem, Options{LaunchLookback: tt.lookback})
			require.NoError(t, err)

			res, err := a.Analyze(context.Background(), window)
			require.NoError(t, err)
			assert.Len(t, res.Transfers, tt.wantMatched)
			assert.Equal(t, tt.wantUnmatched, res.Diagnostics.Unmatched)
		})
	}
}

func TestAnalyze_EmptyWindow(t *testing.T) {
	a, err := New(fixture(), Options{BinWidth: 10})
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), trace.Window{Start: 10_000, End: 20_000})
	require.NoError(t, err)
	assert.Empty(t, res.Transfers)
	assert.Empty(t, res.Pairs)
	assert.Empty(t, res.Bins)
	assert.False(t, res.Diagnostics.Any())
}

func TestAnalyze_StoreUnavailable(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		mem := fixture()
		mem.OpenErr = errors.New("disk gone")
		a, err := New(mem, Options{})
		require.NoError(t, err)

		_, err = a.Analyze(context.Background(), trace.Window{Start: 0, End: 100})
		assert.ErrorIs(t, err, store.ErrUnavailable)
		assert.Zero(t, mem.OpenSessions())
	})

	t.Run("read", func(t *testing.T) {
		mem := fixture()
		mem.ReadErr = errors.New("timeout")
		a, err := New(mem, Options{})
		require.NoError(t, err)

		_, err = a.Analyze(context.Background(), trace.Window{Start: 0, End: 100})
		assert.ErrorIs(t, err, store.ErrUnavailable)
		assert.Zero(t, mem.OpenSessions(), "session must be closed on the error path")
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New(fixture(), Options{BinWidth: -1})
	assert.ErrorIs(t, err, aggregator.ErrInvalidWidth)

	_, err = New(fixture(), Options{LaunchLookback: -1})
	assert.Error(t, err)

	_, err = New(fixture(), Options{GroupBy: "no such ( key"})
	assert.Error(t, err)
}

type recorder struct {
	mu    sync.Mutex
	calls int
	errs  int
}

func (r *recorder) QueryFinished(_ *Result, _ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if err != nil {
		r.errs++
	}
}

type handler struct {
	got []*Result
	err error
}

func (h *handler) HandleResult(_ context.Context, res *Result) error {
	h.got = append(h.got, res)
	return h.err
}

func TestAnalyze_HandlersAndRecorder(t *testing.T) {
	rec := &recorder{}
	h := &handler{}
	a, err := New(fixture(), Options{}, WithRecorder(rec), WithHandlers(h))
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), trace.Window{Start: 0, End: 100})
	require.NoError(t, err)
	require.Len(t, h.got, 1)
	assert.Same(t, res, h.got[0])
	assert.Equal(t, 1, rec.calls)
	assert.Zero(t, rec.errs)
}

func TestAnalyze_HandlerError(t *testing.T) {
	rec := &recorder{}
	sinkErr := errors.New("sink full")
	a, err := New(fixture(), Options{}, WithRecorder(rec), WithHandlers(&handler{err: sinkErr}))
	require.NoError(t, err)

	_, err = a.Analyze(context.Background(), trace.Window{Start: 0, End: 100})
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 1, rec.errs)
}

func TestAnalyzeWindows(t *testing.T) {
	mem := fixture()
	rec := &recorder{}
	a, err := New(mem, Options{}, WithRecorder(rec))
	require.NoError(t, err)

	windows := []trace.Window{{Start: 0, End: 50}, {Start: 50, End: 100}, {Start: 0, End: 100}}
	results, err := a.AnalyzeWindows(context.Background(), windows)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, res := range results {
		assert.Equal(t, windows[i], res.Window)
	}
	assert.Len(t, results[0].Transfers, 1)
	assert.Empty(t, results[1].Transfers)
	assert.Equal(t, 1, results[1].Diagnostics.Unmatched)
	assert.Equal(t, 3, rec.calls)
	assert.Zero(t, mem.OpenSessions())
}

func TestAnalyzeWindows_Failure(t *testing.T) {
	mem := fixture()
	mem.ReadErr = errors.New("boom")
	a, err := New(mem, Options{})
	require.NoError(t, err)

	_, err = a.AnalyzeWindows(context.Background(), []trace.Window{{Start: 0, End: 1}, {Start: 1, End: 2}})
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.Zero(t, mem.OpenSessions())
}

func TestAnalyzeWindows_AdjacentWindowsDoNotDoubleCount(t *testing.T) {
	mem := store.NewMemory(
		tracetest.Kernel(1, 0, 50, "edge"),
		tracetest.APICall(10, 55, 1, "cudaMemcpy"),
		tracetest.Transfer(1, 20, 50, 1, 4096, trace.DirHtoD),
	)
	a, err := New(mem, Options{BinWidth: 10})
	require.NoError(t, err)

	results, err := a.AnalyzeWindows(context.Background(), []trace.Window{{Start: 0, End: 50}, {Start: 50, End: 100}})
	require.NoError(t, err)

	var transfers, bins int
	var bytes int64
	for _, res := range results {
		transfers += len(res.Transfers)
		bins += len(res.Bins)
		for _, c := range res.Raw {
			bytes += c.Bytes
		}
	}
	assert.Equal(t, 1, transfers)
	assert.Equal(t, 1, bins)
	assert.Equal(t, int64(4096), bytes)
	assert.Empty(t, results[1].Kernels)
	assert.Empty(t, results[1].RawTransfers)
}

func TestAnalyze_GroupKeyFailureDoesNotAbort(t *testing.T) {
	mem := store.NewMemory(
		tracetest.Kernel(0, 0, 1, "k"),
		tracetest.APICall(0, 10, 1, "cudaMemcpy"),
		tracetest.Transfer(0, 2, 4, 1, 0, trace.DirHtoD),
		tracetest.APICall(20, 30, 2, "cudaMemcpy"),
		tracetest.Transfer(0, 22, 24, 2, 64, trace.DirHtoD),
	)
	a, err := New(mem, Options{GroupBy: `100 % bytes`})
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), trace.Window{Start: 0, End: 100})
	require.NoError(t, err)
	assert.Len(t, res.Transfers, 2)
	assert.Equal(t, 1, res.Diagnostics.GroupErrors)
	assert.True(t, res.Diagnostics.Any())

	keys := map[string]int{}
	for _, c := range res.ByGroup {
		keys[c.Key] = c.Count
	}
	assert.Equal(t, map[string]int{"36": 1, summary.ErrorKey: 1}, keys)
}

func TestAnalyze_KeepsWindowEvents(t *testing.T) {
	a, err := New(fixture(), Options{})
	require.NoError(t, err)

	res, err := a.Analyze(context.Background(), trace.Window{Start: 0, End: 100})
	require.NoError(t, err)
	require.Len(t, res.Kernels, 2)
	assert.Equal(t, "before", res.Kernels[0].Label())
	assert.Equal(t, "after", res.Kernels[1].Label())
	require.Len(t, res.RawTransfers, 2)
	assert.Equal(t, int64(20), res.RawTransfers[0].Start())
}
