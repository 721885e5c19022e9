package output

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mrzor/xfertrace/internal/analyzer"
	"github.com/mrzor/xfertrace/internal/attributes"
	"github.com/mrzor/xfertrace/internal/correlate"
	"github.com/mrzor/xfertrace/internal/otel"
	"github.com/mrzor/xfertrace/internal/timesync"
)

// SpanExporter emits each result as a span tree:
//
//	xfertrace.query
//	├── <api name>         CPU side of one correlated transfer
//	│   └── <direction>    device side
//	└── <bin name>         one per kernel bin
type SpanExporter struct {
	tracer    trace.Tracer
	attrs     *attributes.Evaluator
	traceIDs  *attributes.TraceIDEvaluator
	parentIDs *attributes.ParentIDEvaluator
	environ   map[string]string
}

// NewSpanExporter creates an exporter. attrs, traceIDs and parentIDs may be
// nil. environ is exposed to id expressions as env.
func NewSpanExporter(
	tracer trace.Tracer,
	attrs *attributes.Evaluator,
	traceIDs *attributes.TraceIDEvaluator,
	parentIDs *attributes.ParentIDEvaluator,
	environ map[string]string,
) *SpanExporter {
	return &SpanExporter{
		tracer:    tracer,
		attrs:     attrs,
		traceIDs:  traceIDs,
		parentIDs: parentIDs,
		environ:   environ,
	}
}

// HandleResult implements analyzer.Handler.
func (e *SpanExporter) HandleResult(ctx context.Context, res *analyzer.Result) error {
	env := attributes.RunEnv{Env: e.environ, QueryID: res.QueryID.String(), Origin: res.Clock.Origin()}

	traceID, warnings, err := e.traceIDs.EvaluateAndValidate(env)
	if err != nil {
		return err
	}
	if !traceID.IsValid() {
		traceID = trace.TraceID(res.QueryID)
	}
	parentID, parentWarnings, err := e.parentIDs.EvaluateAndValidate(env)
	if err != nil {
		return err
	}
	warnings = append(warnings, parentWarnings...)

	if parentID.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     parentID,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		}))
	} else {
		ctx = otel.WithTraceID(ctx, traceID)
	}

	clock := res.Clock
	start, end := extent(res)

	d := res.Diagnostics
	ctx, root := e.tracer.Start(ctx, "xfertrace.query",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithTimestamp(clock.WallClock(start)),
		trace.WithAttributes(
			attribute.String("xfertrace.query_id", res.QueryID.String()),
			attribute.String("xfertrace.window", res.Window.String()),
			attribute.Int64("xfertrace.origin_ns", clock.Origin()),
			attribute.Int("xfertrace.transfers", len(res.Transfers)),
			attribute.Int("xfertrace.bins", len(res.Bins)),
			attribute.Int("xfertrace.unmatched", d.Unmatched),
			attribute.Int("xfertrace.multiple_matches", d.MultipleMatches),
			attribute.Int("xfertrace.negative_intervals", d.NegativeIntervals),
			attribute.Int("xfertrace.malformed_rows", d.Malformed),
			attribute.Int("xfertrace.group_errors", d.GroupErrors),
		),
	)
	if len(warnings) > 0 {
		root.SetAttributes(warnings...)
	}

	for _, rec := range res.Transfers {
		e.exportTransfer(ctx, clock, rec)
	}
	for _, b := range res.Bins {
		_, span := e.tracer.Start(ctx, b.DisplayName(),
			trace.WithTimestamp(clock.WallClock(b.Start)),
			trace.WithAttributes(
				attribute.Int("gpu.stream_id", int(b.Stream)),
				attribute.Int("gpu.device_id", int(b.Device)),
				attribute.Int("xfertrace.bin.count", b.Count),
				attribute.Int64("xfertrace.bin.active_ns", b.TotalActive),
				attribute.Float64("xfertrace.bin.utilization", b.Utilization()),
			),
		)
		span.End(trace.WithTimestamp(clock.WallClock(b.End)))
	}

	root.End(trace.WithTimestamp(clock.WallClock(end)))
	return nil
}

func (e *SpanExporter) exportTransfer(ctx context.Context, clock *timesync.Converter, rec correlate.CorrelatedTransfer) {
	x := rec.Transfer.Transfer()
	ctx, call := e.tracer.Start(ctx, rec.APICall.Label(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithTimestamp(clock.WallClock(rec.APICall.Start())),
		trace.WithAttributes(
			attribute.Int64("gpu.correlation_id", int64(rec.CorrelationID)),
			attribute.Int64("xfertrace.cpu_wall_ns", rec.CPUWall),
			attribute.Int64("xfertrace.launch_overhead_ns", rec.LaunchOverhead),
			attribute.Int64("xfertrace.sync_wait_ns", rec.SyncWait),
			attribute.Int64("xfertrace.end_to_end_ns", rec.EndToEnd),
		),
	)
	if extra := e.attrs.Evaluate(attributes.NewRecord(rec.Transfer, rec.APICall.Label())); len(extra) > 0 {
		call.SetAttributes(extra...)
	}
	if rec.RawLaunchOffset < 0 {
		call.SetStatus(codes.Error, fmt.Sprintf("device copy started %dns before the API call", -rec.RawLaunchOffset))
	}

	_, copySpan := e.tracer.Start(ctx, x.Direction.String(),
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(clock.WallClock(rec.Transfer.Start())),
		trace.WithAttributes(
			attribute.Int64("gpu.copy.bytes", x.Bytes),
			attribute.String("gpu.copy.src_mem", x.Src.String()),
			attribute.String("gpu.copy.dst_mem", x.Dst.String()),
			attribute.Int("gpu.stream_id", int(rec.Transfer.Stream())),
			attribute.Int("gpu.device_id", int(rec.Transfer.Device())),
			attribute.Float64("gpu.copy.bandwidth_bytes_per_second", rec.Bandwidth()),
		),
	)
	copySpan.End(trace.WithTimestamp(clock.WallClock(rec.Transfer.End())))
	call.End(trace.WithTimestamp(clock.WallClock(rec.APICall.End())))
}

// extent returns the relative time range covered by res: its exported spans
// when there are any, otherwise the window clamped to its start.
func extent(res *analyzer.Result) (int64, int64) {
	lo, hi := int64(math.MaxInt64), int64(math.MinInt64)
	widen := func(s, e int64) {
		lo, hi = min(lo, s), max(hi, e)
	}
	for _, r := range res.Transfers {
		widen(r.APICall.Start(), r.APICall.End())
		widen(r.Transfer.Start(), r.Transfer.End())
	}
	for _, b := range res.Bins {
		widen(b.Start, b.End)
	}
	if lo > hi {
		end := res.Window.End
		if end == math.MaxInt64 {
			end = res.Window.Start
		}
		return res.Window.Start, end
	}
	return lo, hi
}
