package api

import (
	"narrasync/internal/captions"
	"narrasync/internal/segments"
	"narrasync/internal/syncstate"
	"narrasync/internal/timeline"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// ProjectSummary describes a stored project in a transport-friendly format.
type ProjectSummary struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Revision        int64   `json:"revision"`
	SegmentCount    int     `json:"segment_count"`
	SyncStatus      string  `json:"sync_status"`
	DurationSeconds float64 `json:"duration_seconds"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

// ProjectListResponse wraps a collection of projects.
type ProjectListResponse struct {
	Projects []ProjectSummary `json:"projects"`
}

// ProjectDocument is the full snapshot of one project.
type ProjectDocument struct {
	ID       string             `json:"id"`
	Title    string             `json:"title"`
	Revision int64              `json:"revision"`
	Segments []segments.Segment `json:"segments"`
	Timeline timeline.State     `json:"timeline"`
}

// StatusResponse is the sync overview of a project.
type StatusResponse struct {
	ProjectID            string           `json:"project_id"`
	SyncStatus           syncstate.Status `json:"sync_status"`
	SegmentsNeedingVoice []string         `json:"segments_needing_voice"`
	InFlight             []string         `json:"in_flight"`
	Counts               StatusCounts     `json:"counts"`
	DurationSeconds      float64          `json:"duration_seconds"`
	Drift                DriftResponse    `json:"drift"`
	CurrentTime          float64          `json:"current_time"`
	IsPlaying            bool             `json:"is_playing"`
	LastPersistError     string           `json:"last_persist_error,omitempty"`
}

// StatusCounts breaks segments down by voice status.
type StatusCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Generating int `json:"generating"`
	Ready      int `json:"ready"`
	Failed     int `json:"failed"`
	Stale      int `json:"stale"`
}

// DriftResponse reports segments whose stored start differs from the sum of
// preceding durations.
type DriftResponse struct {
	ThresholdMs int64          `json:"threshold_ms"`
	NeedsResync bool           `json:"needs_resync"`
	MaxDeltaMs  int64          `json:"max_delta_ms"`
	Segments    []DriftSegment `json:"segments"`
}

// DriftSegment is one drifted segment.
type DriftSegment struct {
	SegmentID  string `json:"segment_id"`
	ExpectedMs int64  `json:"expected_ms"`
	ActualMs   int64  `json:"actual_ms"`
	DeltaMs    int64  `json:"delta_ms"`
}

// CaptionsResponse is the caption query projection.
type CaptionsResponse struct {
	ProjectID string                     `json:"project_id"`
	Captions  []captions.SegmentCaptions `json:"captions"`
}

// ResolveResponse is the caption frame at a point in time.
type ResolveResponse struct {
	TimeMs int64          `json:"time_ms"`
	Frame  captions.Frame `json:"frame"`
}

// RegenerateRequest optionally names the segments to regenerate; an empty
// list means every segment needing voice.
type RegenerateRequest struct {
	SegmentIDs []string `json:"segment_ids"`
}

// RegenerateResponse lists what a regeneration call did.
type RegenerateResponse struct {
	Started []string         `json:"started"`
	Joined  []string         `json:"joined"`
	Skipped []SkippedSegment `json:"skipped"`
}

// SkippedSegment is a segment that could not be started.
type SkippedSegment struct {
	SegmentID string `json:"segment_id"`
	Reason    string `json:"reason"`
	Kind      string `json:"kind"`
}

// CreateProjectRequest creates a project, optionally seeded with segments.
type CreateProjectRequest struct {
	Title    string   `json:"title"`
	Segments []string `json:"segments"`
}

// InsertSegmentRequest adds a segment. A nil Order appends.
type InsertSegmentRequest struct {
	Text  string `json:"text"`
	Order *int   `json:"order,omitempty"`
}

// UpdateSegmentRequest patches a segment. Nil fields are left unchanged.
type UpdateSegmentRequest struct {
	Text         *string                `json:"text,omitempty"`
	Order        *int                   `json:"order,omitempty"`
	CaptionStyle *segments.CaptionStyle `json:"caption_style,omitempty"`
	ClearStyle   bool                   `json:"clear_caption_style,omitempty"`
	Duration     *float64               `json:"duration,omitempty"`
}

// ReorderRequest lists every segment id in its new order.
type ReorderRequest struct {
	SegmentIDs []string `json:"segment_ids"`
}

// DaemonStatus aggregates daemon runtime information.
type DaemonStatus struct {
	Running       bool           `json:"running"`
	PID           int            `json:"pid"`
	ProjectDBPath string         `json:"project_db_path"`
	LockFilePath  string         `json:"lock_file_path"`
	Projects      map[string]int `json:"projects"`
	VoiceBaseURL  string         `json:"voice_base_url"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}
