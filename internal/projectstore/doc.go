// Package projectstore persists project snapshots in SQLite.
//
// Each project is one row holding the serialized timeline snapshot plus a few
// summary columns (segment count, sync status, duration) so listings do not
// need to decode every document. Snapshots are opaque JSON here; the
// timeline package owns their shape and validates them on load.
package projectstore
