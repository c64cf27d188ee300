// Package notifications pushes editing events to ntfy.
//
// A configured topic receives a message when voice generation fails for a
// segment and when a project reaches the synced state. Without a topic the
// service is a no-op, so callers never need to check configuration first.
package notifications
