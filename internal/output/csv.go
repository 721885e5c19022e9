package output

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/mrzor/xfertrace/internal/aggregator"
	"github.com/mrzor/xfertrace/internal/analyzer"
	"github.com/mrzor/xfertrace/internal/correlate"
	"github.com/mrzor/xfertrace/internal/pairing"
	"github.com/mrzor/xfertrace/internal/summary"
	"github.com/mrzor/xfertrace/internal/trace"
	"github.com/mrzor/xfertrace/pkg/logutil"
)

// CSVWriter writes the reports of every result into a directory.
type CSVWriter struct {
	dir string
}

// NewCSVWriter creates dir if needed.
func NewCSVWriter(dir string) (*CSVWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv directory: %w", err)
	}
	return &CSVWriter{dir: dir}, nil
}

// HandleResult implements analyzer.Handler. Files are named after the window
// so that several windows can share a directory.
func (w *CSVWriter) HandleResult(_ context.Context, res *analyzer.Result) error {
	tag := windowTag(res.Window)
	origin := res.Clock.Origin()

	reports := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"kernels", func(out io.Writer) error { return WriteKernels(out, res.Kernels) }},
		{"memcpy", func(out io.Writer) error { return WriteRawTransfers(out, res.RawTransfers) }},
		{"transfers", func(out io.Writer) error { return WriteTransfers(out, res.Transfers, origin) }},
		{"pairs", func(out io.Writer) error { return WritePairs(out, res.Pairs) }},
		{"bins", func(out io.Writer) error { return WriteBins(out, res.Bins) }},
		{"summary", func(out io.Writer) error { return WriteSummaries(out, res) }},
	}

	for _, r := range reports {
		path := filepath.Join(w.dir, fmt.Sprintf("%s_%s.csv", r.name, tag))
		if err := writeFile(path, r.write); err != nil {
			return err
		}
		logutil.GetLogger().Debug("wrote csv report", zap.String("path", path))
	}
	return nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		err = multierr.Append(err, f.Close())
	}()
	if err := write(f); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func windowTag(w trace.Window) string {
	start := strconv.FormatInt(w.Start/1_000_000, 10)
	if w.End == math.MaxInt64 {
		return start + "ms-end"
	}
	return start + "-" + strconv.FormatInt(w.End/1_000_000, 10) + "ms"
}

// WriteKernels dumps the kernels of a window. Times are milliseconds from the
// origin. Events that are not kernels are skipped.
func WriteKernels(out io.Writer, kernels []trace.Event) error {
	cw := csv.NewWriter(out)
	_ = cw.Write([]string{
		"start_ms", "end_ms", "dur_ms", "stream_id", "device_id",
		"grid_x", "grid_y", "grid_z", "block_x", "block_y", "block_z",
		"op_name", "full_name",
	})
	for _, e := range kernels {
		k := e.Kernel()
		if k == nil {
			continue
		}
		_ = cw.Write([]string{
			ms(e.Start()), ms(e.End()), ms(e.Duration()), u32(e.Stream()), u32(e.Device()),
			u32(k.Grid[0]), u32(k.Grid[1]), u32(k.Grid[2]), u32(k.Block[0]), u32(k.Block[1]), u32(k.Block[2]),
			e.Label(), k.FullName,
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteRawTransfers dumps every transfer of a window, correlated or not.
func WriteRawTransfers(out io.Writer, transfers []trace.Event) error {
	cw := csv.NewWriter(out)
	_ = cw.Write([]string{
		"start_ms", "end_ms", "dur_ms", "stream_id", "device_id", "correlation_id",
		"bytes", "size_human", "direction", "src_mem", "dst_mem", "dma_bw_gbps",
	})
	for _, e := range transfers {
		x := e.Transfer()
		if x == nil {
			continue
		}
		_ = cw.Write([]string{
			ms(e.Start()), ms(e.End()), ms(e.Duration()), u32(e.Stream()), u32(e.Device()), u64(x.CorrelationID),
			i64(x.Bytes), trace.FormatBytes(x.Bytes), x.Direction.String(), x.Src.String(), x.Dst.String(),
			gbps(correlate.Bandwidth(x.Bytes, e.Duration())),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteTransfers writes one row per correlated transfer. Timestamps are
// absolute profiler nanoseconds.
func WriteTransfers(out io.Writer, records []correlate.CorrelatedTransfer, origin int64) error {
	cw := csv.NewWriter(out)
	_ = cw.Write([]string{
		"correlation_id", "copy_kind", "src_mem", "dst_mem", "bytes",
		"cpu_start_ns", "cpu_end_ns", "cpu_wall_ns",
		"gpu_start_ns", "gpu_end_ns", "gpu_dma_ns",
		"launch_overhead_ns", "sync_wait_ns", "e2e_ns",
		"raw_launch_offset_ns", "raw_sync_offset_ns",
		"dma_bw_gbps", "api_name", "stream_id", "device_id",
	})
	for _, r := range records {
		x := r.Transfer.Transfer()
		_ = cw.Write([]string{
			u64(r.CorrelationID), x.Direction.String(), x.Src.String(), x.Dst.String(), i64(x.Bytes),
			i64(r.APICall.Start() + origin), i64(r.APICall.End() + origin), i64(r.CPUWall),
			i64(r.Transfer.Start() + origin), i64(r.Transfer.End() + origin), i64(r.DeviceActive),
			i64(r.LaunchOverhead), i64(r.SyncWait), i64(r.EndToEnd),
			i64(r.RawLaunchOffset), i64(r.RawSyncOffset),
			gbps(r.Bandwidth()), r.APICall.Label(), u32(r.Transfer.Stream()), u32(r.Transfer.Device()),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WritePairs writes one row per paired transfer. Times are milliseconds from
// the origin; absent neighbours leave their columns empty.
func WritePairs(out io.Writer, pairs []pairing.PairedEvent) error {
	cw := csv.NewWriter(out)
	_ = cw.Write([]string{
		"memcpy_start_ms", "memcpy_end_ms", "memcpy_dur_ms",
		"size_bytes", "size_human", "direction", "src_mem", "dst_mem",
		"gap_before_ms", "gap_after_ms",
		"stream_id", "dma_bw_gbps",
		"prev_kernel_name", "prev_kernel_end_ms",
		"next_kernel_name", "next_kernel_start_ms",
	})
	for _, p := range pairs {
		x := p.Transfer.Transfer()
		row := []string{
			ms(p.Transfer.Start()), ms(p.Transfer.End()), ms(p.Transfer.Duration()),
			i64(x.Bytes), trace.FormatBytes(x.Bytes), x.Direction.String(), x.Src.String(), x.Dst.String(),
			optMs(p.GapBefore), optMs(p.GapAfter),
			u32(p.Transfer.Stream()), gbps(correlate.Bandwidth(x.Bytes, p.Transfer.Duration())),
			"", "", "", "",
		}
		if p.Prev != nil {
			row[12], row[13] = p.Prev.Label(), ms(p.Prev.End())
		}
		if p.Next != nil {
			row[14], row[15] = p.Next.Label(), ms(p.Next.Start())
		}
		_ = cw.Write(row)
	}
	cw.Flush()
	return cw.Error()
}

// WriteBins writes one row per kernel bin.
func WriteBins(out io.Writer, bins []aggregator.Bin) error {
	cw := csv.NewWriter(out)
	_ = cw.Write([]string{
		"stream_id", "device_id", "bin", "start_ms", "end_ms",
		"count", "active_ms", "utilization", "name",
	})
	for _, b := range bins {
		_ = cw.Write([]string{
			u32(b.Stream), u32(b.Device), i64(b.Index), ms(b.Start), ms(b.End),
			strconv.Itoa(b.Count), ms(b.TotalActive), strconv.FormatFloat(b.Utilization(), 'f', 3, 64), b.DisplayName(),
		})
	}
	cw.Flush()
	return cw.Error()
}

// WriteSummaries writes every summary table of res, tagged by grouping.
func WriteSummaries(out io.Writer, res *analyzer.Result) error {
	cw := csv.NewWriter(out)
	_ = cw.Write([]string{
		"grouping", "key", "count", "bytes", "size_human",
		"device_active_ns", "cpu_wall_ns", "launch_overhead_ns", "sync_wait_ns", "e2e_ns",
		"mean_e2e_ns", "dma_bw_gbps", "correlated",
	})
	tables := []struct {
		name string
		rows []summary.CategorySummary
	}{
		{"direction", res.ByDirection},
		{"memory", res.ByMemory},
		{"group", res.ByGroup},
		{"raw_direction", res.Raw},
	}
	for _, t := range tables {
		for _, c := range t.rows {
			_ = cw.Write([]string{
				t.name, c.Key, strconv.Itoa(c.Count), i64(c.Bytes), trace.FormatBytes(c.Bytes),
				i64(c.DeviceActive), i64(c.CPUWall), i64(c.LaunchOverhead), i64(c.SyncWait), i64(c.EndToEnd),
				strconv.FormatFloat(c.MeanEndToEnd(), 'f', 1, 64), gbps(c.Bandwidth()), strconv.FormatBool(c.Correlated),
			})
		}
	}
	cw.Flush()
	return cw.Error()
}

func i64(v int64) string  { return strconv.FormatInt(v, 10) }
func u64(v uint64) string { return strconv.FormatUint(v, 10) }
func u32(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

func ms(ns int64) string {
	return strconv.FormatFloat(float64(ns)/1e6, 'f', 4, 64)
}

func optMs(ns *int64) string {
	if ns == nil {
		return ""
	}
	return ms(*ns)
}

func gbps(bytesPerSecond float64) string {
	return strconv.FormatFloat(bytesPerSecond/1e9, 'f', 2, 64)
}
