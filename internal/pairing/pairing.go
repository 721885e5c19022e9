package pairing

import (
	"sort"

	"github.com/mrzor/xfertrace/internal/trace"
)

// PairedEvent is a transfer with its neighbouring compute events on the same
// stream. Absent neighbours and their gaps are nil.
type PairedEvent struct {
	Transfer trace.Event
	Prev     *trace.Event
	Next     *trace.Event
	// GapBefore is Transfer.Start - Prev.End, GapAfter is Next.Start -
	// Transfer.End. Negative gaps are kept: they only occur on inconsistent
	// timestamps and callers use them to detect that.
	GapBefore *int64
	GapAfter  *int64
}

// Pair restricts events to window and pairs every transfer in it with its
// nearest compute neighbours on the same stream. Neighbours outside the
// window are not considered. The result is ordered by transfer start.
func Pair(window trace.Window, events []trace.Event) []PairedEvent {
	inWindow := window.Filter(events)
	ix := NewIndex(inWindow)

	transfers := trace.OfKind(inWindow, trace.KindTransfer)
	sort.SliceStable(transfers, func(i, j int) bool { return trace.Less(transfers[i], transfers[j]) })

	out := make([]PairedEvent, 0, len(transfers))
	for _, xfer := range transfers {
		out = append(out, ix.pair(xfer))
	}
	return out
}

func (ix *Index) pair(xfer trace.Event) PairedEvent {
	p := PairedEvent{Transfer: xfer}
	if prev, ok := ix.Before(xfer.Stream(), xfer.Start()); ok {
		gap := xfer.Start() - prev.End()
		p.Prev, p.GapBefore = &prev, &gap
	}
	if next, ok := ix.After(xfer.Stream(), xfer.Start()); ok {
		gap := next.Start() - xfer.End()
		p.Next, p.GapAfter = &next, &gap
	}
	return p
}
