// Package segments owns the ordered collection of script segments that make
// up a project timeline.
//
// The Store is the single source of truth for segment text, duration, caption
// style, and voice asset state. Every mutation (insert, delete, reorder, text
// edit, regeneration start/finish) goes through it so the order invariant and
// the needs-voice cache stay consistent. Voice transitions follow the sync
// rules: editing text invalidates a ready asset without discarding its
// timings, regeneration moves a segment through generating to ready or
// failed, and stale or duplicate completions are ignored.
//
// The Store is not safe for concurrent use; the timeline engine serializes
// access.
package segments
