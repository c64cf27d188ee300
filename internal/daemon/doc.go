// Package daemon coordinates the long-running narrasync process.
//
// It wires configuration, the project store, and the timeline manager into a
// single lifecycle with flock-based locking so only one editor process
// mutates projects at a time. The daemon serves the HTTP API: project and
// segment editing, sync status, the caption query endpoint, per-frame
// resolution, and regeneration triggers.
//
// Keep orchestration logic here: synchronization rules live in the timeline,
// segments, and regen packages while the daemon focuses on startup,
// shutdown, and transport.
package daemon
