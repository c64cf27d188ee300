// Package api defines wire-format types and converters for the HTTP API and
// the CLI's --json output. It translates projects, engine status, caption
// frames, and regeneration results into transport-friendly DTOs so clients do
// not couple to internal types.
//
// # Key Types
//
// ProjectSummary: stored project row with denormalized sync summary.
//
// ProjectDocument: full snapshot of a project (segments and timeline state).
//
// StatusResponse: sync status, segments needing voice, drift, in-flight ids.
//
// RegenerateRequest/RegenerateResponse: regeneration trigger and the ids that
// were started, joined, or skipped.
//
// # Design Notes
//
// DTOs use snake_case JSON tags matching the stored snapshot document, so the
// caption query endpoint returns segment_id, caption_chunks and word_timings
// exactly as persisted. Timestamps use RFC3339 with milliseconds.
//
// Request bodies are decoded into typed structs and validated here; handlers
// never see untyped payloads.
package api
