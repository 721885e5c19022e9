// Package output writes analysis results to external sinks.
//
// Both sinks implement analyzer.Handler and are pure formatting layers:
//   - CSVWriter writes one set of CSV reports per query window
//   - SpanExporter emits OpenTelemetry spans with explicit timestamps
//
// They do NOT:
//   - Read from the event store
//   - Correlate, pair or bin events
//
// Relative timestamps are converted with the query's timesync.Converter, and
// custom span attributes are evaluated by the attributes package.
package output
