// Package pairing places each transfer between the compute events that run
// before and after it on the same stream.
//
// A stream is a serial queue: compute events on one stream never overlap, so
// ordering them by start time gives the execution order. Index keeps one
// sorted slice per stream and answers neighbour queries by binary search.
package pairing

import (
	"sort"

	"github.com/mrzor/xfertrace/internal/trace"
)

// Index is a per-stream ordered index of compute events.
type Index struct {
	streams map[uint32][]trace.Event
}

// NewIndex indexes the kernel events in events. Other kinds are ignored.
func NewIndex(events []trace.Event) *Index {
	ix := &Index{streams: make(map[uint32][]trace.Event)}
	for _, e := range events {
		if e.Kind() == trace.KindKernel {
			ix.streams[e.Stream()] = append(ix.streams[e.Stream()], e)
		}
	}
	for _, s := range ix.streams {
		sort.SliceStable(s, func(i, j int) bool { return trace.Less(s[i], s[j]) })
	}
	return ix
}

// Len returns the number of compute events indexed on stream.
func (ix *Index) Len(stream uint32) int {
	return len(ix.streams[stream])
}

// upper returns the position of the first compute event on s starting after ts.
func upper(s []trace.Event, ts int64) int {
	return sort.Search(len(s), func(i int) bool { return s[i].Start() > ts })
}

// Before returns the last compute event on stream starting at or before ts.
func (ix *Index) Before(stream uint32, ts int64) (trace.Event, bool) {
	s := ix.streams[stream]
	i := upper(s, ts)
	if i == 0 {
		return trace.Event{}, false
	}
	return s[i-1], true
}

// After returns the first compute event on stream starting after ts.
func (ix *Index) After(stream uint32, ts int64) (trace.Event, bool) {
	s := ix.streams[stream]
	i := upper(s, ts)
	if i == len(s) {
		return trace.Event{}, false
	}
	return s[i], true
}

// Prev returns the compute event preceding e on its stream. For a compute
// event that is its predecessor in execution order; for any other kind it is
// the same as Before(e.Stream(), e.Start()).
func (ix *Index) Prev(e trace.Event) (trace.Event, bool) {
	if e.Kind() != trace.KindKernel {
		return ix.Before(e.Stream(), e.Start())
	}
	s := ix.streams[e.Stream()]
	i, ok := locate(s, e)
	if !ok || i == 0 {
		return trace.Event{}, false
	}
	return s[i-1], true
}

// Next returns the compute event following e on its stream. For a non-compute
// event it is the same as After(e.Stream(), e.Start()).
func (ix *Index) Next(e trace.Event) (trace.Event, bool) {
	if e.Kind() != trace.KindKernel {
		return ix.After(e.Stream(), e.Start())
	}
	s := ix.streams[e.Stream()]
	i, ok := locate(s, e)
	if !ok || i+1 >= len(s) {
		return trace.Event{}, false
	}
	return s[i+1], true
}

// locate finds e in the canonically ordered slice s. Events equal in start,
// end and label are indistinguishable and resolve to the first of them.
func locate(s []trace.Event, e trace.Event) (int, bool) {
	i := sort.Search(len(s), func(i int) bool { return !trace.Less(s[i], e) })
	if i < len(s) && !trace.Less(e, s[i]) {
		return i, true
	}
	return 0, false
}
