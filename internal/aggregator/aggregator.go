// Package aggregator groups compute events into fixed-width time bins per
// stream so that dense kernel traces stay readable.
package aggregator

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mrzor/xfertrace/internal/trace"
)

var (
	// ErrInvalidWidth is returned for a bin width that is not positive.
	ErrInvalidWidth = errors.New("bin width must be positive")
	// ErrNegativeStart is returned when a compute event starts before the
	// origin; binning is only defined on normalized timestamps.
	ErrNegativeStart = errors.New("compute event starts before origin")
)

// Bin is a group of compute events on one stream whose starts fall in the
// same width-sized slot.
type Bin struct {
	Stream      uint32
	Device      uint32
	Index       int64
	Start       int64
	End         int64
	Count       int
	TotalActive int64
	// Label is the most frequent label; ties go to the label seen first in
	// chronological order.
	Label string
}

// Width returns the wall span of the bin, which can exceed the bin width
// when its last event runs past the slot.
func (b Bin) Width() int64 { return b.End - b.Start }

// Utilization is the fraction of the bin span during which the stream was
// busy. Zero-width bins report zero.
func (b Bin) Utilization() float64 {
	if b.Width() <= 0 {
		return 0
	}
	return float64(b.TotalActive) / float64(b.Width())
}

// DisplayName renders the label, followed by "(+N)" for the other events
// folded into the bin.
func (b Bin) DisplayName() string {
	if b.Count > 1 {
		return fmt.Sprintf("%s (+%d)", b.Label, b.Count-1)
	}
	return b.Label
}

type key struct {
	stream uint32
	index  int64
}

type accumulator struct {
	bin    Bin
	labels []string
	counts map[string]int
}

// Bins groups the compute events in events by (stream, start/width). Other
// kinds are ignored. The result is ordered by stream then bin index and does
// not depend on the order of events.
func Bins(events []trace.Event, width int64) ([]Bin, error) {
	if width <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWidth, width)
	}

	kernels := trace.OfKind(events, trace.KindKernel)
	sort.SliceStable(kernels, func(i, j int) bool { return trace.Less(kernels[i], kernels[j]) })

	acc := make(map[key]*accumulator)
	for _, k := range kernels {
		if k.Start() < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNegativeStart, k)
		}
		id := key{stream: k.Stream(), index: k.Start() / width}
		a, ok := acc[id]
		if !ok {
			a = &accumulator{
				bin: Bin{
					Stream: id.stream,
					Device: k.Device(),
					Index:  id.index,
					Start:  k.Start(),
					End:    k.End(),
				},
				counts: make(map[string]int),
			}
			acc[id] = a
		}
		a.add(k)
	}

	bins := make([]Bin, 0, len(acc))
	for _, a := range acc {
		a.bin.Label = a.mode()
		bins = append(bins, a.bin)
	}
	sort.Slice(bins, func(i, j int) bool {
		if bins[i].Stream != bins[j].Stream {
			return bins[i].Stream < bins[j].Stream
		}
		return bins[i].Index < bins[j].Index
	})
	return bins, nil
}

func (a *accumulator) add(k trace.Event) {
	b := &a.bin
	b.Start = min(b.Start, k.Start())
	b.End = max(b.End, k.End())
	b.Count++
	b.TotalActive += k.Duration()

	if _, seen := a.counts[k.Label()]; !seen {
		a.labels = append(a.labels, k.Label())
	}
	a.counts[k.Label()]++
}

// mode returns the most frequent label. labels is in first-seen order, so
// keeping the first maximum resolves ties chronologically.
func (a *accumulator) mode() string {
	best, label := 0, ""
	for _, l := range a.labels {
		if n := a.counts[l]; n > best {
			best, label = n, l
		}
	}
	return label
}
