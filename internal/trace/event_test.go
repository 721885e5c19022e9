package trace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKernel_Accessors(t *testing.T) {
	e, err := NewKernel(Span{Start: 10, End: 20, Stream: 7, Device: 1}, KernelData{
		FullName: "void at::native::vectorized_elementwise_kernel<4, float>(int, float)",
	})
	require.NoError(t, err)

	assert.Equal(t, KindKernel, e.Kind())
	assert.Equal(t, int64(10), e.Duration())
	assert.Equal(t, "native::vectorized_elementwise_kernel", e.Label())
	assert.NotNil(t, e.Kernel())
	assert.Nil(t, e.Transfer())
	assert.Nil(t, e.APICall())

	_, ok := e.CorrelationID()
	assert.False(t, ok)
	assert.Zero(t, e.Bytes())
}

func TestNewTransfer_Accessors(t *testing.T) {
	e, err := NewTransfer(Span{Start: 0, End: 5, Stream: 3}, TransferData{
		CorrelationID: 42,
		Bytes:         4096,
		Direction:     DirDtoH,
		Src:           MemDevice,
		Dst:           MemPageable,
	})
	require.NoError(t, err)

	assert.Equal(t, "DtoH", e.Label())
	assert.Nil(t, e.Kernel())
	require.NotNil(t, e.Transfer())
	assert.Equal(t, MemPageable, e.Transfer().Dst)

	id, ok := e.CorrelationID()
	assert.True(t, ok)
	assert.Equal(t, uint64(42), id)
	assert.Equal(t, int64(4096), e.Bytes())
}

func TestConstructors_RejectInvalid(t *testing.T) {
	_, err := NewKernel(Span{Start: 10, End: 9}, KernelData{})
	assert.ErrorIs(t, err, ErrNegativeDuration)

	_, err = NewAPICall(Span{Start: 10, End: 9}, APICallData{})
	assert.ErrorIs(t, err, ErrNegativeDuration)

	_, err = NewTransfer(Span{Start: 0, End: 1}, TransferData{Bytes: -1})
	assert.ErrorIs(t, err, ErrNegativeBytes)
}

func TestAccessorsReturnCopies(t *testing.T) {
	e, err := NewTransfer(Span{Start: 0, End: 1}, TransferData{Bytes: 8})
	require.NoError(t, err)

	e.Transfer().Bytes = 1000
	assert.Equal(t, int64(8), e.Bytes())
}

func TestShift(t *testing.T) {
	e, err := NewAPICall(Span{Start: 100, End: 150, Label: "cudaMemcpyAsync"}, APICallData{CorrelationID: 1})
	require.NoError(t, err)

	shifted := e.Shift(-100)
	assert.Equal(t, int64(0), shifted.Start())
	assert.Equal(t, int64(50), shifted.End())
	assert.Equal(t, int64(100), e.Start(), "original must be untouched")
}

func TestShortKernelName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "unknown"},
		{"plain", "gemm_kernel", "gemm_kernel"},
		{"qualified", "a::b::c::kernel(int)", "c::kernel"},
		{"templated", "void at::native::elementwise<4>(float*)", "native::elementwise"},
		{"single namespace", "cutlass::Kernel<Params>", "cutlass::Kernel"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShortKernelName(tt.in))
		})
	}
}

func TestCodeNames(t *testing.T) {
	assert.Equal(t, "HtoD", DirHtoD.String())
	assert.Equal(t, "Peer", DirPeer.String())
	assert.Equal(t, "5", Direction(5).String())
	assert.Equal(t, "Managed", MemManaged.String())
	assert.Equal(t, "transfer", KindTransfer.String())
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "4.0 KiB", FormatBytes(4096))
	assert.Equal(t, "1.5 MiB", FormatBytes(3<<19))
	assert.Equal(t, "2.00 GiB", FormatBytes(2<<30))
}
