package api

import (
	"errors"
	"net/http"

	"narrasync/internal/projectstore"
	"narrasync/internal/regen"
	"narrasync/internal/services"
	"narrasync/internal/syncstate"
	"narrasync/internal/timeline"
)

// FromProject converts a stored project to its API representation.
func FromProject(project *projectstore.Project) ProjectSummary {
	if project == nil {
		return ProjectSummary{}
	}
	dto := ProjectSummary{
		ID:              project.ID,
		Title:           project.Title,
		Revision:        project.Revision,
		SegmentCount:    project.Summary.SegmentCount,
		SyncStatus:      project.Summary.SyncStatus,
		DurationSeconds: project.Summary.DurationSeconds,
	}
	if !project.CreatedAt.IsZero() {
		dto.CreatedAt = project.CreatedAt.UTC().Format(dateTimeFormat)
	}
	if !project.UpdatedAt.IsZero() {
		dto.UpdatedAt = project.UpdatedAt.UTC().Format(dateTimeFormat)
	}
	return dto
}

// FromProjects converts a project list, never returning nil.
func FromProjects(projects []*projectstore.Project) []ProjectSummary {
	out := make([]ProjectSummary, 0, len(projects))
	for _, project := range projects {
		out = append(out, FromProject(project))
	}
	return out
}

// FromEngine builds the full project document.
func FromEngine(engine *timeline.Engine) ProjectDocument {
	snap := engine.Snapshot()
	return ProjectDocument{
		ID:       engine.ID(),
		Title:    snap.Title,
		Revision: engine.Revision(),
		Segments: snap.Segments,
		Timeline: snap.Timeline,
	}
}

// FromStatus converts an engine status.
func FromStatus(status timeline.Status) StatusResponse {
	summary := status.Summary
	return StatusResponse{
		ProjectID:            status.ProjectID,
		SyncStatus:           summary.Status,
		SegmentsNeedingVoice: nonNil(summary.NeedingVoice),
		InFlight:             nonNil(status.InFlight),
		Counts: StatusCounts{
			Total:      summary.Total,
			Pending:    summary.Pending,
			Generating: summary.Generating,
			Ready:      summary.Ready,
			Failed:     summary.Failed,
			Stale:      summary.Stale,
		},
		DurationSeconds: summary.DurationSeconds,
		Drift:           FromDrift(status.Drift),
		CurrentTime:     status.CurrentTime,
		IsPlaying:       status.IsPlaying,
	}
}

// FromEngineStatus is FromStatus plus the engine's last persistence failure.
func FromEngineStatus(engine *timeline.Engine) StatusResponse {
	resp := FromStatus(engine.Status())
	if err := engine.LastPersistError(); err != nil {
		resp.LastPersistError = err.Error()
	}
	return resp
}

// FromDrift converts a drift report.
func FromDrift(report syncstate.DriftReport) DriftResponse {
	resp := DriftResponse{
		ThresholdMs: report.ThresholdMs,
		NeedsResync: report.NeedsResync(),
		MaxDeltaMs:  report.MaxDeltaMs,
		Segments:    make([]DriftSegment, 0, len(report.Drifted)),
	}
	for _, d := range report.Drifted {
		resp.Segments = append(resp.Segments, DriftSegment{
			SegmentID:  d.SegmentID,
			ExpectedMs: d.ExpectedMs,
			ActualMs:   d.ActualMs,
			DeltaMs:    d.DeltaMs(),
		})
	}
	return resp
}

// FromRegenerate converts a regeneration result.
func FromRegenerate(result regen.Result) RegenerateResponse {
	resp := RegenerateResponse{
		Started: nonNil(result.Started),
		Joined:  nonNil(result.Joined),
		Skipped: make([]SkippedSegment, 0, len(result.Skipped)),
	}
	for _, skipped := range result.Skipped {
		entry := SkippedSegment{SegmentID: skipped.SegmentID}
		if skipped.Err != nil {
			entry.Reason = skipped.Err.Error()
			entry.Kind = services.ErrorKind(skipped.Err)
		}
		resp.Skipped = append(resp.Skipped, entry)
	}
	return resp
}

// Validate rejects an update that changes nothing or carries a bad duration.
func (r UpdateSegmentRequest) Validate() error {
	if r.Text == nil && r.Order == nil && r.CaptionStyle == nil && !r.ClearStyle && r.Duration == nil {
		return services.Wrap(services.ErrValidation, "api", "update segment", "no fields to update", nil)
	}
	if r.Duration != nil && *r.Duration <= 0 {
		return services.Wrap(services.ErrValidation, "api", "update segment", "duration must be positive", nil)
	}
	return nil
}

// FromError converts an error to the error body and its HTTP status.
func FromError(err error) (int, ErrorResponse) {
	kind := services.ErrorKind(err)
	return StatusCode(err), ErrorResponse{Error: err.Error(), Kind: kind}
}

// StatusCode maps a classified error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrInvalidTiming):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrOrderConflict):
		return http.StatusConflict
	case errors.Is(err, services.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrConfiguration):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
