// xfertrace correlates CPU-side CUDA API calls with the device copies they
// issue in an Nsight Systems trace and reports transfer latencies, stream
// neighbours and kernel activity.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mrzor/xfertrace/internal/analyzer"
	"github.com/mrzor/xfertrace/internal/api"
	"github.com/mrzor/xfertrace/internal/attributes"
	"github.com/mrzor/xfertrace/internal/config"
	"github.com/mrzor/xfertrace/internal/metrics"
	"github.com/mrzor/xfertrace/internal/otel"
	"github.com/mrzor/xfertrace/internal/output"
	"github.com/mrzor/xfertrace/internal/store"
	xtrace "github.com/mrzor/xfertrace/internal/trace"
	"github.com/mrzor/xfertrace/pkg/logutil"
)

// Version information injected at build time.
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

// setupOTEL initializes the OTEL provider and returns a tracer and cleanup function.
func setupOTEL(ctx context.Context) (trace.Tracer, func(), error) {
	otelCfg, err := config.ParseOTELConfig()
	if err != nil {
		return nil, nil, err
	}

	tp, err := otel.InitProvider(ctx, otelCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize OTEL provider: %w", err)
	}

	cleanup := func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otel.ShutdownProvider(shutdownCtx, tp); err != nil {
			logutil.GetLogger().Error("shutting down OTEL provider", zap.Error(err))
		}
	}

	return tp.Tracer("xfertrace"), cleanup, nil
}

// setupHandlers builds the result sinks requested by cfg.
func setupHandlers(ctx context.Context, cfg *config.Config) ([]analyzer.Handler, func(), error) {
	var handlers []analyzer.Handler
	cleanup := func() {}

	if cfg.CSVDir != "" {
		w, err := output.NewCSVWriter(cfg.CSVDir)
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, w)
	}

	if cfg.ExportSpans {
		attrs, err := attributes.NewEvaluator(cfg.CustomAttributes)
		if err != nil {
			return nil, nil, err
		}
		traceIDs, err := attributes.NewTraceIDEvaluator(cfg.TraceID)
		if err != nil {
			return nil, nil, err
		}
		parentIDs, err := attributes.NewParentIDEvaluator(cfg.ParentID)
		if err != nil {
			return nil, nil, err
		}

		tracer, shutdown, err := setupOTEL(ctx)
		if err != nil {
			return nil, nil, err
		}
		cleanup = shutdown
		handlers = append(handlers, output.NewSpanExporter(tracer, attrs, traceIDs, parentIDs, environ()))
	}

	return handlers, cleanup, nil
}

func environ() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}

func openStore(cfg *config.Config) (*store.SQL, error) {
	dsn := cfg.DSN
	if dsn == "" {
		if _, err := os.Stat(cfg.TracePath); err != nil {
			return nil, fmt.Errorf("trace file: %w", err)
		}
		dsn = store.SQLiteDSN(cfg.TracePath)
	}
	return store.NewSQL(cfg.Driver, dsn, cfg.QueryTimeout)
}

func analyzerOptions(cfg *config.Config) analyzer.Options {
	return analyzer.Options{
		BinWidth:       cfg.BinWidth.Nanoseconds(),
		GroupBy:        cfg.GroupBy,
		LaunchLookback: cfg.LaunchLookback.Nanoseconds(),
		TopN:           cfg.TopN,
	}
}

func run() error {
	cfg, err := config.ParseArgs(os.Args)
	if err != nil {
		return err
	}

	if err := logutil.InitLogger(cfg.LogLevel, cfg.LogConsole); err != nil {
		return err
	}
	logger := logutil.GetLogger()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting xfertrace",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("command", cfg.Command),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opener, err := openStore(cfg)
	if err != nil {
		return err
	}

	handlers, cleanup, err := setupHandlers(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	m := metrics.New()
	options := []analyzer.Option{analyzer.WithRecorder(m), analyzer.WithHandlers(handlers...)}

	switch cfg.Command {
	case config.CommandServe:
		return serve(ctx, cfg, opener, m, options)
	default:
		return analyze(ctx, cfg, opener, options)
	}
}

func analyze(ctx context.Context, cfg *config.Config, opener store.Opener, options []analyzer.Option) error {
	a, err := analyzer.New(opener, analyzerOptions(cfg), options...)
	if err != nil {
		return err
	}

	windows := make([]xtrace.Window, len(cfg.Windows))
	for i, ws := range cfg.Windows {
		w, err := xtrace.WindowFromMillis(ws.StartMs, ws.EndMs)
		if err != nil {
			return err
		}
		windows[i] = w
	}

	results, err := a.AnalyzeWindows(ctx, windows)
	if err != nil {
		return err
	}
	for _, res := range results {
		printReport(os.Stdout, res)
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config, opener store.Opener, m *metrics.Metrics, options []analyzer.Option) error {
	logger := logutil.GetLogger()
	srv := api.NewServer(opener, analyzerOptions(cfg), m.Handler(), cfg.QueryTimeout, options...)

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", httpSrv.Addr))
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
