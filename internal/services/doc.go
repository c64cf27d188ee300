// Package services defines shared utilities consumed by the timeline engine
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp project IDs, segment IDs, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that classify failures
//     (generation failures, invalid timings, order conflicts) consistently.
//
// Use these helpers when wiring new engine logic so operational behaviour
// (error handling, observability, retries) stays uniform.
package services
