package projectstore

import "time"

// Summary is the denormalized view of a snapshot kept alongside it.
type Summary struct {
	SegmentCount    int
	SyncStatus      string
	DurationSeconds float64
}

// Project is one stored project document.
type Project struct {
	ID       string
	Title    string
	Snapshot []byte
	// Revision increments on every save.
	Revision  int64
	Summary   Summary
	CreatedAt time.Time
	UpdatedAt time.Time
}
