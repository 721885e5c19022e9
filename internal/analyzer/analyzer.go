package analyzer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrzor/xfertrace/internal/aggregator"
	"github.com/mrzor/xfertrace/internal/correlate"
	"github.com/mrzor/xfertrace/internal/pairing"
	"github.com/mrzor/xfertrace/internal/store"
	"github.com/mrzor/xfertrace/internal/summary"
	"github.com/mrzor/xfertrace/internal/timesync"
	"github.com/mrzor/xfertrace/internal/trace"
	"github.com/mrzor/xfertrace/pkg/logutil"
)

// Options tune a query. Durations are in nanoseconds.
type Options struct {
	// BinWidth is the aggregator bin width. Zero disables binning.
	BinWidth int64
	// GroupBy is an extra summary key: a built-in name or an expression.
	// Empty disables the extra summary.
	GroupBy string
	// LaunchLookback widens the API call read before the window start so
	// that calls issuing early transfers in the window are still found.
	LaunchLookback int64
	// TopN is how many transfers to keep ranked by end-to-end time.
	TopN int
}

// Handler receives every successful Result.
type Handler interface {
	HandleResult(ctx context.Context, res *Result) error
}

// Recorder observes finished queries.
type Recorder interface {
	QueryFinished(res *Result, elapsed time.Duration, err error)
}

// Diagnostics are the anomaly counters of one query.
type Diagnostics struct {
	correlate.Diagnostics
	// Malformed rows were skipped by the store adapter.
	Malformed int
	// GroupErrors transfers had a group key expression fail; they are
	// summarized under summary.ErrorKey.
	GroupErrors int
}

// Any reports whether any counter is non-zero.
func (d Diagnostics) Any() bool {
	return d.Unmatched > 0 || d.MultipleMatches > 0 || d.NegativeIntervals > 0 ||
		d.Malformed > 0 || d.GroupErrors > 0
}

// Result is everything one query produced. Times are relative to Clock's
// origin.
type Result struct {
	QueryID uuid.UUID
	Window  trace.Window
	Clock   *timesync.Converter

	// Kernels and RawTransfers are the events overlapping Window, in
	// canonical order.
	Kernels      []trace.Event
	RawTransfers []trace.Event

	Transfers []correlate.CorrelatedTransfer
	Top       []correlate.CorrelatedTransfer
	Pairs     []pairing.PairedEvent
	Bins      []aggregator.Bin

	ByDirection []summary.CategorySummary
	ByMemory    []summary.CategorySummary
	ByGroup     []summary.CategorySummary
	// Raw summarizes every transfer by direction, correlated or not.
	Raw []summary.CategorySummary

	Diagnostics Diagnostics
}

// Analyzer runs queries against one store.
type Analyzer struct {
	opener   store.Opener
	opts     Options
	group    summary.Grouper
	recorder Recorder
	handlers []Handler
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithRecorder reports every finished query to r.
func WithRecorder(r Recorder) Option {
	return func(a *Analyzer) { a.recorder = r }
}

// WithHandlers hands every successful Result to h in order.
func WithHandlers(h ...Handler) Option {
	return func(a *Analyzer) { a.handlers = append(a.handlers, h...) }
}

// New validates opts and returns an Analyzer.
func New(opener store.Opener, opts Options, options ...Option) (*Analyzer, error) {
	if opts.BinWidth < 0 {
		return nil, fmt.Errorf("%w: %d", aggregator.ErrInvalidWidth, opts.BinWidth)
	}
	if opts.LaunchLookback < 0 {
		return nil, fmt.Errorf("launch lookback must not be negative: %d", opts.LaunchLookback)
	}

	a := &Analyzer{opener: opener, opts: opts}
	if opts.GroupBy != "" {
		g, err := summary.ParseGrouper(opts.GroupBy)
		if err != nil {
			return nil, err
		}
		a.group = g
	}
	for _, o := range options {
		o(a)
	}
	return a, nil
}

// Analyze runs one query over window, which is relative to the session
// origin. The read session is closed before Analyze returns.
func (a *Analyzer) Analyze(ctx context.Context, window trace.Window) (*Result, error) {
	started := time.Now()
	queryID := uuid.New()
	log := logutil.GetLogger().With(
		zap.String("query_id", queryID.String()),
		zap.Stringer("window", window),
	)

	res, err := a.run(ctx, queryID, window)
	if err == nil {
		for _, h := range a.handlers {
			if herr := h.HandleResult(ctx, res); herr != nil {
				err = multierr.Append(err, herr)
			}
		}
	}

	elapsed := time.Since(started)
	if a.recorder != nil {
		a.recorder.QueryFinished(res, elapsed, err)
	}
	if err != nil {
		log.Error("analysis failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, err
	}

	log.Info("analysis complete",
		zap.Duration("elapsed", elapsed),
		zap.Int("transfers", len(res.Transfers)),
		zap.Int("pairs", len(res.Pairs)),
		zap.Int("bins", len(res.Bins)),
	)
	if d := res.Diagnostics; d.Any() {
		log.Warn("analysis anomalies",
			zap.Int("unmatched", d.Unmatched),
			zap.Int("multiple_matches", d.MultipleMatches),
			zap.Int("negative_intervals", d.NegativeIntervals),
			zap.Int("malformed", d.Malformed),
			zap.Int("group_errors", d.GroupErrors),
		)
	}
	return res, nil
}

// AnalyzeWindows runs one query per window concurrently, each on its own
// session. Results are in window order; the first failure cancels the rest.
func (a *Analyzer) AnalyzeWindows(ctx context.Context, windows []trace.Window) ([]*Result, error) {
	results := make([]*Result, len(windows))
	g, ctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		i, w := i, w
		g.Go(func() error {
			res, err := a.Analyze(ctx, w)
			if err != nil {
				return fmt.Errorf("window %s: %w", w, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *Analyzer) run(ctx context.Context, queryID uuid.UUID, window trace.Window) (_ *Result, err error) {
	sess, err := a.opener.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, sess.Close())
	}()

	origin, err := sess.Origin(ctx)
	if err != nil {
		return nil, fmt.Errorf("read origin: %w", err)
	}
	sessionStart, err := sess.SessionStart(ctx)
	if err != nil {
		return nil, fmt.Errorf("read session start: %w", err)
	}
	clock := timesync.NewConverter(origin, sessionStart)

	res := &Result{QueryID: queryID, Window: window, Clock: clock}

	abs := clock.ToAbsolute(window)
	callWindow := trace.Window{Start: abs.Shift(-a.opts.LaunchLookback).Start, End: abs.End}

	read := func(kind trace.Kind, w trace.Window) ([]trace.Event, error) {
		batch, err := sess.Events(ctx, kind, w)
		if err != nil {
			return nil, fmt.Errorf("read %s events: %w", kind, err)
		}
		res.Diagnostics.Malformed += batch.Malformed
		return clock.Normalize(batch.Events), nil
	}

	kernels, err := read(trace.KindKernel, abs)
	if err != nil {
		return nil, err
	}
	transfers, err := read(trace.KindTransfer, abs)
	if err != nil {
		return nil, err
	}
	calls, err := read(trace.KindAPICall, callWindow)
	if err != nil {
		return nil, err
	}

	if err := a.derive(res, kernels, transfers, calls); err != nil {
		return nil, err
	}
	return res, nil
}

// derive fills res from normalized events. It performs no I/O.
func (a *Analyzer) derive(res *Result, kernels, transfers, calls []trace.Event) error {
	window := res.Window
	res.Kernels = sortedEvents(window.Filter(kernels))
	res.RawTransfers = sortedEvents(window.Filter(transfers))

	corr := correlate.Correlate(window, calls, transfers)
	res.Transfers = corr.Transfers
	res.Diagnostics.Diagnostics = corr.Diagnostics
	if a.opts.TopN > 0 {
		res.Top = correlate.TopByEndToEnd(corr.Transfers, a.opts.TopN)
	}

	all := make([]trace.Event, 0, len(kernels)+len(transfers))
	all = append(append(all, kernels...), transfers...)
	res.Pairs = pairing.Pair(window, all)

	if a.opts.BinWidth > 0 {
		bins, err := aggregator.Bins(res.Kernels, a.opts.BinWidth)
		if err != nil {
			return fmt.Errorf("bin kernels: %w", err)
		}
		res.Bins = bins
	}

	// Built-in groupers never fail.
	res.ByDirection, _ = summary.Correlated(corr.Transfers, summary.GroupDirection)
	res.ByMemory, _ = summary.Correlated(corr.Transfers, summary.GroupMemory)
	res.Raw, _ = summary.Raw(res.RawTransfers, summary.GroupDirection)
	if a.group != nil {
		res.ByGroup, res.Diagnostics.GroupErrors = summary.Correlated(corr.Transfers, a.group)
	}
	return nil
}

func sortedEvents(events []trace.Event) []trace.Event {
	sort.SliceStable(events, func(i, j int) bool { return trace.Less(events[i], events[j]) })
	return events
}
