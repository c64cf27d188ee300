// Package main hosts the narrasync CLI entrypoint and command graph.
//
// The Cobra-based command tree edits projects directly against the project
// database (holding the single-editor lock while it mutates), reports sync
// status and drift, triggers voice regeneration, prints the caption query
// projection, resolves captions for a point in time, and runs the HTTP daemon
// in the foreground.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main
