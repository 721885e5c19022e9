// Package config builds the run configuration from environment variables and
// command-line flags. Flags override the environment.
package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Commands.
const (
	CommandAnalyze = "analyze"
	CommandServe   = "serve"
)

// CustomAttribute is a NAME=EXPR pair attached to exported spans.
type CustomAttribute struct {
	Name       string
	Expression string
}

// WindowSpec is a query window in milliseconds from the session origin.
// A nil EndMs means "until the end of the trace".
type WindowSpec struct {
	StartMs float64
	EndMs   *float64
}

// EnvConfig holds the settings read from XFERTRACE_* variables.
type EnvConfig struct {
	Driver         string        `env:"XFERTRACE_DRIVER" envDefault:"sqlite"`
	DSN            string        `env:"XFERTRACE_DSN"`
	QueryTimeout   time.Duration `env:"XFERTRACE_QUERY_TIMEOUT" envDefault:"30s"`
	BinWidth       time.Duration `env:"XFERTRACE_BIN_WIDTH" envDefault:"1ms"`
	GroupBy        string        `env:"XFERTRACE_GROUP_BY"`
	LaunchLookback time.Duration `env:"XFERTRACE_LAUNCH_LOOKBACK" envDefault:"1s"`
	TopN           int           `env:"XFERTRACE_TOP_N" envDefault:"15"`
	Listen         string        `env:"XFERTRACE_LISTEN" envDefault:":8080"`
	LogLevel       string        `env:"XFERTRACE_LOG_LEVEL" envDefault:"info"`
	LogConsole     bool          `env:"XFERTRACE_LOG_CONSOLE"`
	CSVDir         string        `env:"XFERTRACE_CSV_DIR"`
	ExportSpans    bool          `env:"XFERTRACE_EXPORT_SPANS"`
	TraceID        string        `env:"XFERTRACE_TRACE_ID"`
	ParentID       string        `env:"XFERTRACE_PARENT_ID"`
	Attributes     string        `env:"XFERTRACE_ATTRIBUTES"`
}

// ParseEnvConfig parses XFERTRACE_* environment variables.
func ParseEnvConfig() (*EnvConfig, error) {
	var cfg EnvConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment config: %w", err)
	}
	return &cfg, nil
}

// Config is the resolved run configuration.
type Config struct {
	Command string
	// TracePath is an nsys SQLite export. It is only used when DSN is empty.
	TracePath    string
	Driver       string
	DSN          string
	QueryTimeout time.Duration

	Windows        []WindowSpec
	BinWidth       time.Duration
	GroupBy        string
	LaunchLookback time.Duration
	TopN           int

	Listen      string
	LogLevel    string
	LogConsole  bool
	CSVDir      string
	ExportSpans bool

	// TraceID and ParentID are expressions evaluated per run.
	TraceID          string
	ParentID         string
	CustomAttributes []CustomAttribute
}

const usage = `Usage: %[1]s [flags] analyze <trace.sqlite>
       %[1]s [flags] serve [<trace.sqlite>]

Flags:
  -w, --window START:END   window in ms from the trace origin, repeatable; END may be empty
  -b, --bin-ms MS          kernel bin width in ms (0 disables binning)
  -g, --group KEY          extra summary key: direction, memory, stream, device, api or an expression
      --top N              transfers to rank by end-to-end time
      --lookback-ms MS     API call lookback before the window start
      --driver NAME        sqlite or pgx
      --dsn DSN            database DSN, overrides <trace.sqlite>
      --csv DIR            write CSV reports to DIR
      --spans              export OpenTelemetry spans
  -t, --trace-id EXPR      trace id expression for exported spans
  -p, --parent-id EXPR     parent span id expression for exported spans
  -a, --attribute N=EXPR   custom span attribute, repeatable
      --listen ADDR        serve listen address
      --log-level LEVEL    debug, info, warn or error
`

// Usage returns the help text for programName.
func Usage(programName string) string {
	return fmt.Sprintf(usage, programName)
}

// ParseArgs resolves the configuration from the environment and args, where
// args[0] is the program name.
func ParseArgs(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}
	programName := args[0]

	envCfg, err := ParseEnvConfig()
	if err != nil {
		return nil, err
	}
	envAttrs, err := ParseAttributeString(envCfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("XFERTRACE_ATTRIBUTES: %w", err)
	}

	cfg := &Config{
		Driver:           envCfg.Driver,
		DSN:              envCfg.DSN,
		QueryTimeout:     envCfg.QueryTimeout,
		BinWidth:         envCfg.BinWidth,
		GroupBy:          envCfg.GroupBy,
		LaunchLookback:   envCfg.LaunchLookback,
		TopN:             envCfg.TopN,
		Listen:           envCfg.Listen,
		LogLevel:         envCfg.LogLevel,
		LogConsole:       envCfg.LogConsole,
		CSVDir:           envCfg.CSVDir,
		ExportSpans:      envCfg.ExportSpans,
		TraceID:          envCfg.TraceID,
		ParentID:         envCfg.ParentID,
		CustomAttributes: envAttrs,
	}

	var positional []string
	for i := 1; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") || arg == "-" {
			positional = append(positional, arg)
			continue
		}

		// Every flag except --spans takes a value.
		if arg == "--spans" {
			cfg.ExportSpans = true
			continue
		}
		if i+1 >= len(args) {
			return nil, fmt.Errorf("%s requires a value", arg)
		}
		value := args[i+1]
		i++

		switch arg {
		case "-w", "--window":
			w, err := ParseWindow(value)
			if err != nil {
				return nil, err
			}
			cfg.Windows = append(cfg.Windows, w)
		case "-b", "--bin-ms":
			d, err := parseMillis(arg, value)
			if err != nil {
				return nil, err
			}
			cfg.BinWidth = d
		case "--lookback-ms":
			d, err := parseMillis(arg, value)
			if err != nil {
				return nil, err
			}
			cfg.LaunchLookback = d
		case "-g", "--group":
			cfg.GroupBy = value
		case "--top":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("--top must be a non-negative integer, got %q", value)
			}
			cfg.TopN = n
		case "--driver":
			cfg.Driver = value
		case "--dsn":
			cfg.DSN = value
		case "--csv":
			cfg.CSVDir = value
		case "-t", "--trace-id":
			cfg.TraceID = value
		case "-p", "--parent-id":
			cfg.ParentID = value
		case "-a", "--attribute":
			attr, err := parseAttribute(value)
			if err != nil {
				return nil, err
			}
			cfg.CustomAttributes = append(cfg.CustomAttributes, attr)
		case "--listen":
			cfg.Listen = value
		case "--log-level":
			cfg.LogLevel = value
		default:
			return nil, fmt.Errorf("unknown flag %s\n%s", arg, Usage(programName))
		}
	}

	if len(positional) == 0 {
		return nil, fmt.Errorf("no command specified\n%s", Usage(programName))
	}
	cfg.Command = positional[0]
	if cfg.Command != CommandAnalyze && cfg.Command != CommandServe {
		return nil, fmt.Errorf("unknown command %q\n%s", cfg.Command, Usage(programName))
	}
	switch len(positional) {
	case 1:
	case 2:
		cfg.TracePath = positional[1]
	default:
		return nil, fmt.Errorf("unexpected arguments: %v", positional[2:])
	}

	if cfg.TracePath == "" && cfg.DSN == "" {
		return nil, fmt.Errorf("no trace specified: pass <trace.sqlite> or set --dsn\n%s", Usage(programName))
	}
	if len(cfg.Windows) == 0 {
		cfg.Windows = []WindowSpec{{}}
	}
	return cfg, nil
}

// ParseWindow parses "START:END" in milliseconds. END may be empty.
func ParseWindow(s string) (WindowSpec, error) {
	startStr, endStr, ok := strings.Cut(s, ":")
	if !ok {
		return WindowSpec{}, fmt.Errorf("invalid window %q (expected START:END)", s)
	}
	var w WindowSpec
	if startStr != "" {
		start, err := parseFinite(startStr)
		if err != nil {
			return WindowSpec{}, fmt.Errorf("invalid window start %q: %w", startStr, err)
		}
		w.StartMs = start
	}
	if endStr != "" {
		end, err := parseFinite(endStr)
		if err != nil {
			return WindowSpec{}, fmt.Errorf("invalid window end %q: %w", endStr, err)
		}
		if end <= w.StartMs {
			return WindowSpec{}, fmt.Errorf("window end %g must be after start %g", end, w.StartMs)
		}
		w.EndMs = &end
	}
	return w, nil
}

func parseMillis(flag, value string) (time.Duration, error) {
	ms, err := parseFinite(value)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number of milliseconds, got %q", flag, value)
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}

func parseFinite(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}

// ParseAttributeString parses "NAME=EXPR;NAME=EXPR" as used by
// XFERTRACE_ATTRIBUTES. An empty string yields no attributes.
func ParseAttributeString(s string) ([]CustomAttribute, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var attrs []CustomAttribute
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		attr, err := parseAttribute(part)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func parseAttribute(s string) (CustomAttribute, error) {
	name, expression, ok := strings.Cut(s, "=")
	if !ok {
		return CustomAttribute{}, fmt.Errorf("invalid attribute format %q (expected NAME=EXPR)", s)
	}
	name = strings.TrimSpace(name)
	expression = strings.TrimSpace(expression)
	if name == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: name cannot be empty", s)
	}
	if expression == "" {
		return CustomAttribute{}, fmt.Errorf("invalid attribute %q: expression cannot be empty", s)
	}
	return CustomAttribute{Name: name, Expression: expression}, nil
}
