// Package attributes evaluates user expressions against analysis records.
//
// Expressions use the expr language and are compiled once, then run per record.
//
// Three evaluators:
//   - KeyEvaluator: computes a summary grouping key for a transfer record
//   - Evaluator: computes custom span attributes for a transfer record
//   - TraceIDEvaluator / ParentIDEvaluator: compute the trace and parent span
//     ids of an exported run from its environment
//
// Invalid trace IDs are hashed with SHA-256 to produce valid IDs.
// Invalid parent IDs result in a null parent (zero span ID).
package attributes
