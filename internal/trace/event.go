// Package trace defines the raw profiler records consumed by the analysis engine.
package trace

import (
	"errors"
	"fmt"
)

// Kind discriminates the payload carried by an Event.
type Kind uint8

// Event kinds. The zero value is invalid so that an uninitialized Event is never
// mistaken for a kernel.
const (
	KindKernel Kind = iota + 1
	KindTransfer
	KindAPICall
)

func (k Kind) String() string {
	switch k {
	case KindKernel:
		return "kernel"
	case KindTransfer:
		return "transfer"
	case KindAPICall:
		return "api_call"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	// ErrNegativeDuration is returned when an event ends before it starts.
	ErrNegativeDuration = errors.New("event ends before it starts")
	// ErrNegativeBytes is returned for transfers with a negative byte count.
	ErrNegativeBytes = errors.New("transfer byte size is negative")
)

// Event is a single profiler record. The payload is selected by Kind and read
// through the per-kind accessors, which return nil for any other kind.
//
// Events are values: nothing in the engine mutates one after construction.
type Event struct {
	kind     Kind
	start    int64
	end      int64
	stream   uint32
	device   uint32
	label    string
	kernel   *KernelData
	transfer *TransferData
	apiCall  *APICallData
}

// KernelData is the compute-specific part of a kernel event.
type KernelData struct {
	FullName string
	Grid     [3]uint32
	Block    [3]uint32
}

// TransferData is the copy-specific part of a transfer event.
type TransferData struct {
	CorrelationID uint64
	Bytes         int64
	Direction     Direction
	Src           MemoryKind
	Dst           MemoryKind
}

// APICallData is the CPU-side part of a runtime API call.
type APICallData struct {
	CorrelationID uint64
}

// Span is the common header shared by every constructor.
type Span struct {
	Start  int64
	End    int64
	Stream uint32
	Device uint32
	Label  string
}

func (s Span) validate() error {
	if s.End < s.Start {
		return fmt.Errorf("%w: start=%d end=%d", ErrNegativeDuration, s.Start, s.End)
	}
	return nil
}

// NewKernel builds a kernel event. An empty label is derived from the full name.
func NewKernel(s Span, data KernelData) (Event, error) {
	if err := s.validate(); err != nil {
		return Event{}, err
	}
	if s.Label == "" {
		s.Label = ShortKernelName(data.FullName)
	}
	return Event{
		kind:   KindKernel,
		start:  s.Start,
		end:    s.End,
		stream: s.Stream,
		device: s.Device,
		label:  s.Label,
		kernel: &data,
	}, nil
}

// NewTransfer builds a transfer event. An empty label is derived from the direction.
func NewTransfer(s Span, data TransferData) (Event, error) {
	if err := s.validate(); err != nil {
		return Event{}, err
	}
	if data.Bytes < 0 {
		return Event{}, fmt.Errorf("%w: %d", ErrNegativeBytes, data.Bytes)
	}
	if s.Label == "" {
		s.Label = data.Direction.String()
	}
	return Event{
		kind:     KindTransfer,
		start:    s.Start,
		end:      s.End,
		stream:   s.Stream,
		device:   s.Device,
		label:    s.Label,
		transfer: &data,
	}, nil
}

// NewAPICall builds a runtime API call event. Label holds the API name.
func NewAPICall(s Span, data APICallData) (Event, error) {
	if err := s.validate(); err != nil {
		return Event{}, err
	}
	return Event{
		kind:    KindAPICall,
		start:   s.Start,
		end:     s.End,
		stream:  s.Stream,
		device:  s.Device,
		label:   s.Label,
		apiCall: &data,
	}, nil
}

func (e Event) Kind() Kind      { return e.kind }
func (e Event) Start() int64    { return e.start }
func (e Event) End() int64      { return e.end }
func (e Event) Stream() uint32  { return e.stream }
func (e Event) Device() uint32  { return e.device }
func (e Event) Label() string   { return e.label }
func (e Event) Duration() int64 { return e.end - e.start }

// Kernel returns the kernel payload, or nil if e is not a kernel.
func (e Event) Kernel() *KernelData {
	if e.kind != KindKernel {
		return nil
	}
	d := *e.kernel
	return &d
}

// Transfer returns the transfer payload, or nil if e is not a transfer.
func (e Event) Transfer() *TransferData {
	if e.kind != KindTransfer {
		return nil
	}
	d := *e.transfer
	return &d
}

// APICall returns the API call payload, or nil if e is not an API call.
func (e Event) APICall() *APICallData {
	if e.kind != KindAPICall {
		return nil
	}
	d := *e.apiCall
	return &d
}

// CorrelationID returns the correlation id of a transfer or API call.
// The boolean is false for kernels.
func (e Event) CorrelationID() (uint64, bool) {
	switch e.kind {
	case KindTransfer:
		return e.transfer.CorrelationID, true
	case KindAPICall:
		return e.apiCall.CorrelationID, true
	default:
		return 0, false
	}
}

// Bytes returns the transfer size, zero for other kinds.
func (e Event) Bytes() int64 {
	if e.kind != KindTransfer {
		return 0
	}
	return e.transfer.Bytes
}

// Shift returns a copy of e moved by delta nanoseconds. Payloads are shared,
// which is safe since they are never written after construction.
func (e Event) Shift(delta int64) Event {
	e.start += delta
	e.end += delta
	return e
}

// Less orders events by start, then end, then label. It is the canonical
// chronological order used wherever a deterministic order is needed.
func Less(a, b Event) bool {
	if a.start != b.start {
		return a.start < b.start
	}
	if a.end != b.end {
		return a.end < b.end
	}
	return a.label < b.label
}

func (e Event) String() string {
	return fmt.Sprintf("%s %q [%d,%d) stream=%d device=%d", e.kind, e.label, e.start, e.end, e.stream, e.device)
}
