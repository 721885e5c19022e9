// Package timesync maps profiler timestamps onto a per-session time origin.
//
// Raw profiler timestamps are large absolute nanosecond counters. Every query
// works in nanoseconds relative to an origin (the earliest kernel start, or the
// earliest transfer start when no kernel exists) which the store session
// computes once. The Converter carries that origin explicitly; there is no
// process-wide trace start.
package timesync
