// Package timeline hosts the per-project synchronization engine.
//
// An Engine owns one project's segment store, regeneration orchestrator,
// caption resolver and playback clock. Every mutation and every
// regeneration completion is serialized through the engine mutex and then
// flushed as a snapshot to the configured Persister. The Manager keeps one
// engine per open project and rehydrates engines from the project store.
//
// Lock order: the engine mutex is never held while calling into the
// orchestrator, because orchestrator completions re-enter the engine.
package timeline
