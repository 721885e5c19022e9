package api

import (
	"github.com/mrzor/xfertrace/internal/aggregator"
	"github.com/mrzor/xfertrace/internal/analyzer"
	"github.com/mrzor/xfertrace/internal/correlate"
	"github.com/mrzor/xfertrace/internal/pairing"
	"github.com/mrzor/xfertrace/internal/summary"
)

// AnalysisResponse is the response for GET /v1/analysis. Times are
// nanoseconds relative to OriginNs unless the field name says otherwise.
type AnalysisResponse struct {
	QueryID     string         `json:"query_id"`
	OriginNs    int64          `json:"origin_ns"`
	Window      WindowJSON     `json:"window"`
	Transfers   []TransferJSON `json:"transfers"`
	Top         []TransferJSON `json:"top"`
	Pairs       []PairJSON     `json:"pairs"`
	Bins        []BinJSON      `json:"bins"`
	Summaries   SummariesJSON  `json:"summaries"`
	Diagnostics DiagnosticJSON `json:"diagnostics"`
}

type WindowJSON struct {
	StartNs int64 `json:"start_ns"`
	// EndNs is omitted for a window open to the end of the trace.
	EndNs *int64 `json:"end_ns,omitempty"`
}

type TransferJSON struct {
	CorrelationID    uint64  `json:"correlation_id"`
	APIName          string  `json:"api_name"`
	Direction        string  `json:"direction"`
	SrcMem           string  `json:"src_mem"`
	DstMem           string  `json:"dst_mem"`
	Bytes            int64   `json:"bytes"`
	StreamID         uint32  `json:"stream_id"`
	DeviceID         uint32  `json:"device_id"`
	APIStartNs       int64   `json:"api_start_ns"`
	APIEndNs         int64   `json:"api_end_ns"`
	CopyStartNs      int64   `json:"copy_start_ns"`
	CopyEndNs        int64   `json:"copy_end_ns"`
	CPUWallNs        int64   `json:"cpu_wall_ns"`
	DeviceActiveNs   int64   `json:"device_active_ns"`
	LaunchOverheadNs int64   `json:"launch_overhead_ns"`
	SyncWaitNs       int64   `json:"sync_wait_ns"`
	EndToEndNs       int64   `json:"end_to_end_ns"`
	RawLaunchOffset  int64   `json:"raw_launch_offset_ns"`
	RawSyncOffset    int64   `json:"raw_sync_offset_ns"`
	BandwidthBps     float64 `json:"bandwidth_bytes_per_second"`
}

type NeighbourJSON struct {
	Name    string `json:"name"`
	StartNs int64  `json:"start_ns"`
	EndNs   int64  `json:"end_ns"`
}

type PairJSON struct {
	Direction   string         `json:"direction"`
	Bytes       int64          `json:"bytes"`
	StreamID    uint32         `json:"stream_id"`
	StartNs     int64          `json:"start_ns"`
	EndNs       int64          `json:"end_ns"`
	Prev        *NeighbourJSON `json:"prev"`
	Next        *NeighbourJSON `json:"next"`
	GapBeforeNs *int64         `json:"gap_before_ns"`
	GapAfterNs  *int64         `json:"gap_after_ns"`
}

type BinJSON struct {
	StreamID      uint32  `json:"stream_id"`
	DeviceID      uint32  `json:"device_id"`
	Index         int64   `json:"index"`
	StartNs       int64   `json:"start_ns"`
	EndNs         int64   `json:"end_ns"`
	Count         int     `json:"count"`
	TotalActiveNs int64   `json:"total_active_ns"`
	Utilization   float64 `json:"utilization"`
	Label         string  `json:"label"`
	DisplayName   string  `json:"display_name"`
}

type SummaryJSON struct {
	Key              string  `json:"key"`
	Count            int     `json:"count"`
	Bytes            int64   `json:"bytes"`
	DeviceActiveNs   int64   `json:"device_active_ns"`
	CPUWallNs        int64   `json:"cpu_wall_ns"`
	LaunchOverheadNs int64   `json:"launch_overhead_ns"`
	SyncWaitNs       int64   `json:"sync_wait_ns"`
	EndToEndNs       int64   `json:"end_to_end_ns"`
	MeanEndToEndNs   float64 `json:"mean_end_to_end_ns"`
	BandwidthBps     float64 `json:"bandwidth_bytes_per_second"`
	Correlated       bool    `json:"correlated"`
}

type SummariesJSON struct {
	ByDirection []SummaryJSON `json:"by_direction"`
	ByMemory    []SummaryJSON `json:"by_memory"`
	ByGroup     []SummaryJSON `json:"by_group,omitempty"`
	Raw         []SummaryJSON `json:"raw"`
}

type DiagnosticJSON struct {
	Unmatched         int `json:"unmatched"`
	MultipleMatches   int `json:"multiple_matches"`
	NegativeIntervals int `json:"negative_intervals"`
	Malformed         int `json:"malformed"`
	GroupErrors       int `json:"group_errors"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func newAnalysisResponse(res *analyzer.Result, openEnd bool) AnalysisResponse {
	out := AnalysisResponse{
		QueryID:   res.QueryID.String(),
		OriginNs:  res.Clock.Origin(),
		Window:    WindowJSON{StartNs: res.Window.Start},
		Transfers: transfersJSON(res.Transfers),
		Top:       transfersJSON(res.Top),
		Pairs:     make([]PairJSON, len(res.Pairs)),
		Bins:      make([]BinJSON, len(res.Bins)),
		Summaries: SummariesJSON{
			ByDirection: summariesJSON(res.ByDirection),
			ByMemory:    summariesJSON(res.ByMemory),
			Raw:         summariesJSON(res.Raw),
		},
		Diagnostics: DiagnosticJSON{
			Unmatched:         res.Diagnostics.Unmatched,
			MultipleMatches:   res.Diagnostics.MultipleMatches,
			NegativeIntervals: res.Diagnostics.NegativeIntervals,
			Malformed:         res.Diagnostics.Malformed,
			GroupErrors:       res.Diagnostics.GroupErrors,
		},
	}
	if !openEnd {
		end := res.Window.End
		out.Window.EndNs = &end
	}
	if res.ByGroup != nil {
		out.Summaries.ByGroup = summariesJSON(res.ByGroup)
	}
	for i, p := range res.Pairs {
		out.Pairs[i] = pairJSON(p)
	}
	for i, b := range res.Bins {
		out.Bins[i] = binJSON(b)
	}
	return out
}

func transfersJSON(records []correlate.CorrelatedTransfer) []TransferJSON {
	out := make([]TransferJSON, len(records))
	for i, r := range records {
		x := r.Transfer.Transfer()
		out[i] = TransferJSON{
			CorrelationID:    r.CorrelationID,
			APIName:          r.APICall.Label(),
			Direction:        x.Direction.String(),
			SrcMem:           x.Src.String(),
			DstMem:           x.Dst.String(),
			Bytes:            x.Bytes,
			StreamID:         r.Transfer.Stream(),
			DeviceID:         r.Transfer.Device(),
			APIStartNs:       r.APICall.Start(),
			APIEndNs:         r.APICall.End(),
			CopyStartNs:      r.Transfer.Start(),
			CopyEndNs:        r.Transfer.End(),
			CPUWallNs:        r.CPUWall,
			DeviceActiveNs:   r.DeviceActive,
			LaunchOverheadNs: r.LaunchOverhead,
			SyncWaitNs:       r.SyncWait,
			EndToEndNs:       r.EndToEnd,
			RawLaunchOffset:  r.RawLaunchOffset,
			RawSyncOffset:    r.RawSyncOffset,
			BandwidthBps:     r.Bandwidth(),
		}
	}
	return out
}

func pairJSON(p pairing.PairedEvent) PairJSON {
	out := PairJSON{
		Direction:   p.Transfer.Transfer().Direction.String(),
		Bytes:       p.Transfer.Bytes(),
		StreamID:    p.Transfer.Stream(),
		StartNs:     p.Transfer.Start(),
		EndNs:       p.Transfer.End(),
		GapBeforeNs: p.GapBefore,
		GapAfterNs:  p.GapAfter,
	}
	if p.Prev != nil {
		out.Prev = &NeighbourJSON{Name: p.Prev.Label(), StartNs: p.Prev.Start(), EndNs: p.Prev.End()}
	}
	if p.Next != nil {
		out.Next = &NeighbourJSON{Name: p.Next.Label(), StartNs: p.Next.Start(), EndNs: p.Next.End()}
	}
	return out
}

func binJSON(b aggregator.Bin) BinJSON {
	return BinJSON{
		StreamID:      b.Stream,
		DeviceID:      b.Device,
		Index:         b.Index,
		StartNs:       b.Start,
		EndNs:         b.End,
		Count:         b.Count,
		TotalActiveNs: b.TotalActive,
		Utilization:   b.Utilization(),
		Label:         b.Label,
		DisplayName:   b.DisplayName(),
	}
}

func summariesJSON(rows []summary.CategorySummary) []SummaryJSON {
	out := make([]SummaryJSON, len(rows))
	for i, c := range rows {
		out[i] = SummaryJSON{
			Key:              c.Key,
			Count:            c.Count,
			Bytes:            c.Bytes,
			DeviceActiveNs:   c.DeviceActive,
			CPUWallNs:        c.CPUWall,
			LaunchOverheadNs: c.LaunchOverhead,
			SyncWaitNs:       c.SyncWait,
			EndToEndNs:       c.EndToEnd,
			MeanEndToEndNs:   c.MeanEndToEnd(),
			BandwidthBps:     c.Bandwidth(),
			Correlated:       c.Correlated,
		}
	}
	return out
}
