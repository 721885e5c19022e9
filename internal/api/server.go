// Package api serves analysis queries over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mrzor/xfertrace/internal/analyzer"
	"github.com/mrzor/xfertrace/internal/store"
	"github.com/mrzor/xfertrace/internal/trace"
	"github.com/mrzor/xfertrace/pkg/logutil"
)

// Server answers analysis queries against one trace.
type Server struct {
	opener   store.Opener
	defaults analyzer.Options
	options  []analyzer.Option
	metrics  http.Handler
	timeout  time.Duration
}

// NewServer creates a Server. defaults apply when a request does not override
// them; options are passed to every per-request analyzer. metrics may be nil.
func NewServer(opener store.Opener, defaults analyzer.Options, metrics http.Handler, timeout time.Duration, options ...analyzer.Option) *Server {
	return &Server{
		opener:   opener,
		defaults: defaults,
		options:  options,
		metrics:  metrics,
		timeout:  timeout,
	}
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}
	r.Get("/v1/analysis", s.GetAnalysis)
	return r
}

// GetAnalysis runs one query. Query parameters:
//
//	start_ms  window start relative to the origin (default 0)
//	end_ms    window end (default: end of trace)
//	bin_ms    kernel bin width (default: server setting, 0 disables bins)
//	group     summary key: a built-in name or an expression
func (s *Server) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	log := logutil.GetLogger().With(zap.String("request_id", middleware.GetReqID(r.Context())))

	window, openEnd, opts, err := s.parseQuery(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := analyzer.New(s.opener, opts, s.options...)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := a.Analyze(r.Context(), window)
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			log.Error("trace store unavailable", zap.Error(err))
			writeErr(w, http.StatusServiceUnavailable, "trace store unavailable")
			return
		}
		log.Error("analysis failed", zap.Error(err))
		writeErr(w, http.StatusInternalServerError, "analysis failed")
		return
	}

	writeJSON(w, http.StatusOK, newAnalysisResponse(res, openEnd))
}

func (s *Server) parseQuery(r *http.Request) (trace.Window, bool, analyzer.Options, error) {
	q := r.URL.Query()
	opts := s.defaults

	startMs, err := floatParam(q.Get("start_ms"), 0)
	if err != nil {
		return trace.Window{}, false, opts, fmt.Errorf("invalid start_ms: %w", err)
	}
	var endMs *float64
	if v := q.Get("end_ms"); v != "" {
		end, err := floatParam(v, 0)
		if err != nil {
			return trace.Window{}, false, opts, fmt.Errorf("invalid end_ms: %w", err)
		}
		endMs = &end
	}
	window, err := trace.WindowFromMillis(startMs, endMs)
	if err != nil {
		return trace.Window{}, false, opts, err
	}

	if v := q.Get("bin_ms"); v != "" {
		binMs, err := floatParam(v, 0)
		if err != nil || binMs < 0 {
			return trace.Window{}, false, opts, fmt.Errorf("invalid bin_ms: %q", v)
		}
		opts.BinWidth = int64(binMs * 1e6)
	}
	if v := q.Get("group"); v != "" {
		opts.GroupBy = v
	}
	return window, endMs == nil, opts, nil
}

// floatParam parses a finite number. Empty yields def.
func floatParam(v string, def float64) (float64, error) {
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%q is not a finite number", v)
	}
	return f, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
