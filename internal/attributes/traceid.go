package attributes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RunEnv is the expression environment for run-level ids.
type RunEnv struct {
	Env     map[string]string `expr:"env"`
	QueryID string            `expr:"query_id"`
	Origin  int64             `expr:"origin"`
}

func compileRunExpr(kind, source string) (*vm.Program, error) {
	if source == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(RunEnv{}))
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s expression: %w", kind, err)
	}
	return program, nil
}

// TraceIDEvaluator handles evaluation and validation of trace ID expressions.
type TraceIDEvaluator struct {
	program *vm.Program
}

// NewTraceIDEvaluator creates a new trace ID evaluator.
// If source is empty, the evaluator returns zero trace IDs.
func NewTraceIDEvaluator(source string) (*TraceIDEvaluator, error) {
	program, err := compileRunExpr("trace-id", source)
	if err != nil {
		return nil, err
	}
	return &TraceIDEvaluator{program: program}, nil
}

// EvaluateAndValidate evaluates the trace-id expression and validates the result.
// Returns the trace ID and any warnings to attach to the root span.
// If no expression is configured, returns a zero trace ID (caller should generate one).
func (e *TraceIDEvaluator) EvaluateAndValidate(env RunEnv) (trace.TraceID, []attribute.KeyValue, error) {
	if e == nil || e.program == nil {
		return trace.TraceID{}, nil, nil
	}

	output, err := expr.Run(e.program, env)
	if err != nil {
		return trace.TraceID{}, nil, fmt.Errorf("failed to evaluate trace-id expression: %w", err)
	}

	resultStr := fmt.Sprint(output)
	if len(resultStr) == 32 {
		if traceID, err := trace.TraceIDFromHex(resultStr); err == nil {
			return traceID, nil, nil
		}
	}

	// Not a 32 hex char id: use the first 16 bytes of its SHA-256.
	hash := sha256.Sum256([]byte(resultStr))
	traceID, err := trace.TraceIDFromHex(hex.EncodeToString(hash[:16]))
	if err != nil {
		return trace.TraceID{}, nil, fmt.Errorf("failed to create trace ID from hash: %w", err)
	}

	warnings := []attribute.KeyValue{
		attribute.String("_trace_id_expr_result", resultStr),
		attribute.String("_trace_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 32-char hex trace ID, used SHA-256 hash instead", resultStr)),
	}
	return traceID, warnings, nil
}

// ParentIDEvaluator handles evaluation and validation of parent span ID expressions.
type ParentIDEvaluator struct {
	program *vm.Program
}

// NewParentIDEvaluator creates a new parent ID evaluator.
// If source is empty, the evaluator returns no parent (zero span ID).
func NewParentIDEvaluator(source string) (*ParentIDEvaluator, error) {
	program, err := compileRunExpr("parent-id", source)
	if err != nil {
		return nil, err
	}
	return &ParentIDEvaluator{program: program}, nil
}

// EvaluateAndValidate evaluates the parent-id expression and validates the result.
// An invalid result yields a zero span ID plus warnings.
func (e *ParentIDEvaluator) EvaluateAndValidate(env RunEnv) (trace.SpanID, []attribute.KeyValue, error) {
	if e == nil || e.program == nil {
		return trace.SpanID{}, nil, nil
	}

	output, err := expr.Run(e.program, env)
	if err != nil {
		return trace.SpanID{}, nil, fmt.Errorf("failed to evaluate parent-id expression: %w", err)
	}

	resultStr := fmt.Sprint(output)
	if len(resultStr) == 16 {
		if spanID, err := trace.SpanIDFromHex(resultStr); err == nil {
			return spanID, nil, nil
		}
	}

	warnings := []attribute.KeyValue{
		attribute.String("_parent_id_expr_result", resultStr),
		attribute.String("_parent_id_invalid_warning", fmt.Sprintf("Expression result %q is not a valid 16-char hex span ID, using null parent ID instead", resultStr)),
	}
	return trace.SpanID{}, warnings, nil
}
