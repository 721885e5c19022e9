package aggregator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrzor/xfertrace/internal/trace"
	"github.com/mrzor/xfertrace/internal/trace/tracetest"
)

func TestBins_GroupsByStreamAndSlot(t *testing.T) {
	events := []trace.Event{
		tracetest.Kernel(2, 5, 15, "gemm"),
		tracetest.Kernel(2, 8, 18, "gemm"),
	}

	bins, err := Bins(events, 10)
	require.NoError(t, err)
	require.Len(t, bins, 1)

	b := bins[0]
	assert.Equal(t, uint32(2), b.Stream)
	assert.Equal(t, int64(0), b.Index)
	assert.Equal(t, int64(5), b.Start)
	assert.Equal(t, int64(18), b.End)
	assert.Equal(t, 2, b.Count)
	assert.Equal(t, int64(20), b.TotalActive)
	assert.Equal(t, "gemm", b.Label)
	assert.Equal(t, "gemm (+1)", b.DisplayName())
}

func TestBins_Ordering(t *testing.T) {
	events := []trace.Event{
		tracetest.Kernel(3, 25, 26, "c"),
		tracetest.Kernel(1, 35, 36, "b"),
		tracetest.Kernel(1, 1, 2, "a"),
		tracetest.Kernel(3, 0, 1, "d"),
	}

	bins, err := Bins(events, 10)
	require.NoError(t, err)

	type pos struct {
		stream uint32
		index  int64
	}
	var got []pos
	for _, b := range bins {
		got = append(got, pos{b.Stream, b.Index})
	}
	assert.Equal(t, []pos{{1, 0}, {1, 3}, {3, 0}, {3, 2}}, got)
}

func TestBins_LabelMode(t *testing.T) {
	tests := []struct {
		name   string
		labels []string
		want   string
	}{
		{"majority", []string{"a", "b", "b"}, "b"},
		{"tie goes to first seen", []string{"a", "b", "b", "a"}, "a"},
		{"single", []string{"x"}, "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var events []trace.Event
			for i, l := range tt.labels {
				events = append(events, tracetest.Kernel(0, int64(i), int64(i)+1, l))
			}
			bins, err := Bins(events, 100)
			require.NoError(t, err)
			require.Len(t, bins, 1)
			assert.Equal(t, tt.want, bins[0].Label)
		})
	}
}

func TestBins_IgnoresTransfers(t *testing.T) {
	events := []trace.Event{
		tracetest.Transfer(0, 0, 5, 1, 64, trace.DirHtoD),
		tracetest.Kernel(0, 1, 2, "k"),
	}

	bins, err := Bins(events, 10)
	require.NoError(t, err)
	require.Len(t, bins, 1)
	assert.Equal(t, 1, bins[0].Count)
}

func TestBins_Errors(t *testing.T) {
	_, err := Bins(nil, 0)
	assert.ErrorIs(t, err, ErrInvalidWidth)

	_, err = Bins(nil, -5)
	assert.ErrorIs(t, err, ErrInvalidWidth)

	_, err = Bins([]trace.Event{tracetest.Kernel(0, -1, 3, "early")}, 10)
	assert.ErrorIs(t, err, ErrNegativeStart)
}

func TestBins_Empty(t *testing.T) {
	bins, err := Bins(nil, 10)
	require.NoError(t, err)
	assert.Empty(t, bins)
}

func TestBins_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	labels := []string{"gemm", "relu", "softmax"}
	var events []trace.Event
	for i := 0; i < 500; i++ {
		start := rng.Int63n(100_000)
		events = append(events, tracetest.Kernel(uint32(rng.Intn(3)), start, start+rng.Int63n(300), labels[rng.Intn(len(labels))]))
	}

	want, err := Bins(events, 1_000)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		shuffled := append([]trace.Event(nil), events...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := Bins(shuffled, 1_000)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestBin_Utilization(t *testing.T) {
	assert.InDelta(t, 0.5, Bin{Start: 0, End: 10, TotalActive: 5}.Utilization(), 1e-9)
	assert.Zero(t, Bin{Start: 3, End: 3}.Utilization())
}

func TestBin_DisplayNameSingle(t *testing.T) {
	assert.Equal(t, "relu", Bin{Label: "relu", Count: 1}.DisplayName())
}
