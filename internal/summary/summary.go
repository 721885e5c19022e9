// Package summary rolls transfers up into per-category totals.
package summary

import (
	"sort"

	"github.com/mrzor/xfertrace/internal/attributes"
	"github.com/mrzor/xfertrace/internal/correlate"
	"github.com/mrzor/xfertrace/internal/trace"
)

// CategorySummary holds the totals of one category. The CPU-side metrics are
// only populated when the summary was built from correlated transfers.
type CategorySummary struct {
	Key            string
	Count          int
	Bytes          int64
	DeviceActive   int64
	CPUWall        int64
	LaunchOverhead int64
	SyncWait       int64
	EndToEnd       int64
	Correlated     bool
}

// Bandwidth is total bytes over total device-active seconds, or 0 when the
// device was never active.
func (c CategorySummary) Bandwidth() float64 {
	return correlate.Bandwidth(c.Bytes, c.DeviceActive)
}

// MeanEndToEnd is the average end-to-end time per transfer.
func (c CategorySummary) MeanEndToEnd() float64 {
	if c.Count == 0 {
		return 0
	}
	return float64(c.EndToEnd) / float64(c.Count)
}

// Correlated summarizes correlated transfers grouped by g. Records whose key
// fails to evaluate are summarized under ErrorKey; failed counts them.
func Correlated(records []correlate.CorrelatedTransfer, g Grouper) (_ []CategorySummary, failed int) {
	groups := make(map[string]*CategorySummary)
	for _, rec := range records {
		key, err := g.Group(attributes.NewRecord(rec.Transfer, rec.APICall.Label()))
		if err != nil {
			key = ErrorKey
			failed++
		}
		c := category(groups, key)
		c.Correlated = true
		c.Count++
		c.Bytes += rec.Transfer.Bytes()
		c.DeviceActive += rec.DeviceActive
		c.CPUWall += rec.CPUWall
		c.LaunchOverhead += rec.LaunchOverhead
		c.SyncWait += rec.SyncWait
		c.EndToEnd += rec.EndToEnd
	}
	return sorted(groups), failed
}

// Raw summarizes transfer events grouped by g. Only device-side metrics are
// available; other kinds are ignored. Key failures are handled as in
// Correlated.
func Raw(events []trace.Event, g Grouper) (_ []CategorySummary, failed int) {
	groups := make(map[string]*CategorySummary)
	for _, e := range events {
		if e.Kind() != trace.KindTransfer {
			continue
		}
		key, err := g.Group(attributes.NewRecord(e, ""))
		if err != nil {
			key = ErrorKey
			failed++
		}
		c := category(groups, key)
		c.Count++
		c.Bytes += e.Bytes()
		c.DeviceActive += e.Duration()
	}
	return sorted(groups), failed
}

func category(groups map[string]*CategorySummary, key string) *CategorySummary {
	c, ok := groups[key]
	if !ok {
		c = &CategorySummary{Key: key}
		groups[key] = c
	}
	return c
}

// sorted orders by total bytes descending, then key.
func sorted(groups map[string]*CategorySummary) []CategorySummary {
	out := make([]CategorySummary, 0, len(groups))
	for _, c := range groups {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Bytes != out[j].Bytes {
			return out[i].Bytes > out[j].Bytes
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Totals folds summaries into a single row keyed "total".
func Totals(summaries []CategorySummary) CategorySummary {
	t := CategorySummary{Key: "total"}
	for _, c := range summaries {
		t.Count += c.Count
		t.Bytes += c.Bytes
		t.DeviceActive += c.DeviceActive
		t.CPUWall += c.CPUWall
		t.LaunchOverhead += c.LaunchOverhead
		t.SyncWait += c.SyncWait
		t.EndToEnd += c.EndToEnd
		t.Correlated = t.Correlated || c.Correlated
	}
	return t
}
