// Package analyzer runs one analysis query over an event store.
//
// Architecture:
//
//	┌─────────────────────────────────────────┐
//	│      store.Session (one per query)      │
//	└─────────────────┬───────────────────────┘
//	                  │ kernels, transfers, api calls
//	                  ▼
//	┌─────────────────────────────────────────┐
//	│   timesync.Converter                    │  ← origin captured once
//	│   - Absolute window bounds              │
//	│   - Normalizes events to the origin     │
//	└─────────┬───────────────────────────────┘
//	          │
//	          ├──→ api calls + transfers ──→ correlate
//	          │                              - Joins on correlation id
//	          │                              - Derives end-to-end timings
//	          │
//	          ├──→ kernels + transfers ────→ pairing
//	          │                              - Prev/next compute per stream
//	          │
//	          ├──→ kernels ────────────────→ aggregator
//	          │                              - Fixed-width bins per stream
//	          │
//	          └──→ correlated + raw ───────→ summary
//	                                         - Per-category totals
//
// The session is closed on every exit path. A Result is handed to the
// configured Handler implementations, typically the output sinks.
package analyzer
