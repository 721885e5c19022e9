package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mrzor/xfertrace/internal/analyzer"
	"github.com/mrzor/xfertrace/internal/summary"
	"github.com/mrzor/xfertrace/internal/trace"
)

func ms(ns int64) string {
	return fmt.Sprintf("%.3f", float64(ns)/1e6)
}

// printReport writes a human-readable digest of res.
func printReport(out io.Writer, res *analyzer.Result) {
	fmt.Fprintf(out, "\n== window %s (origin %d, query %s)\n", res.Window, res.Clock.Origin(), res.QueryID)
	fmt.Fprintf(out, "correlated transfers: %d, paired: %d, kernel bins: %d\n",
		len(res.Transfers), len(res.Pairs), len(res.Bins))

	d := res.Diagnostics
	if d.Any() {
		fmt.Fprintf(out, "anomalies: unmatched=%d multiple_matches=%d negative_intervals=%d malformed=%d group_errors=%d\n",
			d.Unmatched, d.MultipleMatches, d.NegativeIntervals, d.Malformed, d.GroupErrors)
	}

	printSummaries(out, "by direction", res.ByDirection)
	printSummaries(out, "by memory", res.ByMemory)
	if res.ByGroup != nil {
		printSummaries(out, "by group", res.ByGroup)
	}

	if len(res.Top) == 0 {
		return
	}
	fmt.Fprintf(out, "\ntop %d by end-to-end\n", len(res.Top))
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "api\tdirection\tsize\tstream\te2e ms\tlaunch ms\tdma ms\tsync ms\tGB/s")
	for _, r := range res.Top {
		x := r.Transfer.Transfer()
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\t%.2f\n",
			r.APICall.Label(), x.Direction, trace.FormatBytes(x.Bytes), r.Transfer.Stream(),
			ms(r.EndToEnd), ms(r.LaunchOverhead), ms(r.DeviceActive), ms(r.SyncWait), r.Bandwidth()/1e9)
	}
	_ = tw.Flush()
}

func printSummaries(out io.Writer, title string, rows []summary.CategorySummary) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s\n", title)
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "key\tcount\tbytes\tdma ms\te2e ms\tmean e2e ms\tGB/s")
	for _, c := range rows {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%.2f\n",
			c.Key, c.Count, trace.FormatBytes(c.Bytes), ms(c.DeviceActive), ms(c.EndToEnd),
			ms(int64(c.MeanEndToEnd())), c.Bandwidth()/1e9)
	}
	_ = tw.Flush()
}
