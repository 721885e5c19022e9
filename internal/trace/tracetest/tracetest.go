// Package tracetest builds trace events for tests.
package tracetest

import "github.com/mrzor/xfertrace/internal/trace"

// Kernel returns a kernel on stream with the given bounds. It panics on invalid input.
func Kernel(stream uint32, start, end int64, label string) trace.Event {
	e, err := trace.NewKernel(trace.Span{Start: start, End: end, Stream: stream, Label: label}, trace.KernelData{FullName: label})
	if err != nil {
		panic(err)
	}
	return e
}

// Transfer returns a transfer with the given correlation id and size.
func Transfer(stream uint32, start, end int64, corr uint64, bytes int64, dir trace.Direction) trace.Event {
	e, err := trace.NewTransfer(trace.Span{Start: start, End: end, Stream: stream}, trace.TransferData{
		CorrelationID: corr,
		Bytes:         bytes,
		Direction:     dir,
		Src:           trace.MemPageable,
		Dst:           trace.MemDevice,
	})
	if err != nil {
		panic(err)
	}
	return e
}

// TransferWith returns a transfer with full control over the payload.
func TransferWith(stream uint32, start, end int64, data trace.TransferData) trace.Event {
	e, err := trace.NewTransfer(trace.Span{Start: start, End: end, Stream: stream}, data)
	if err != nil {
		panic(err)
	}
	return e
}

// APICall returns a runtime API call with the given correlation id.
func APICall(start, end int64, corr uint64, name string) trace.Event {
	e, err := trace.NewAPICall(trace.Span{Start: start, End: end, Label: name}, trace.APICallData{CorrelationID: corr})
	if err != nil {
		panic(err)
	}
	return e
}
