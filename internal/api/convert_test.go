package api_test

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"narrasync/internal/api"
	"narrasync/internal/projectstore"
	"narrasync/internal/regen"
	"narrasync/internal/services"
	"narrasync/internal/syncstate"
)

func TestFromProject(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dto := api.FromProject(&projectstore.Project{
		ID:        "p1",
		Title:     "Demo",
		Revision:  4,
		Summary:   projectstore.Summary{SegmentCount: 3, SyncStatus: "out_of_sync", DurationSeconds: 9.5},
		CreatedAt: created,
	})
	if dto.ID != "p1" || dto.Revision != 4 || dto.SegmentCount != 3 || dto.SyncStatus != "out_of_sync" {
		t.Fatalf("unexpected dto: %+v", dto)
	}
	if dto.CreatedAt != "2026-03-01T12:00:00.000Z" {
		t.Fatalf("unexpected created_at: %q", dto.CreatedAt)
	}
	if dto.UpdatedAt != "" {
		t.Fatalf("expected empty updated_at for zero time, got %q", dto.UpdatedAt)
	}
	if got := api.FromProject(nil); got.ID != "" {
		t.Fatalf("expected zero dto for nil project")
	}
	if got := api.FromProjects(nil); got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", got)
	}
}

func TestFromDrift(t *testing.T) {
	resp := api.FromDrift(syncstate.DriftReport{
		ThresholdMs: 500,
		MaxDeltaMs:  1500,
		Drifted:     []syncstate.DriftedSegment{{SegmentID: "b", ExpectedMs: 3500, ActualMs: 2000}},
	})
	if !resp.NeedsResync || len(resp.Segments) != 1 {
		t.Fatalf("unexpected drift response: %+v", resp)
	}
	if resp.Segments[0].DeltaMs != -1500 {
		t.Fatalf("expected delta -1500, got %d", resp.Segments[0].DeltaMs)
	}
	if empty := api.FromDrift(syncstate.DriftReport{}); empty.Segments == nil || empty.NeedsResync {
		t.Fatalf("expected empty non-nil drift list, got %+v", empty)
	}
}

func TestFromRegenerate(t *testing.T) {
	resp := api.FromRegenerate(regen.Result{
		Started: []string{"a"},
		Skipped: []regen.Skipped{{SegmentID: "x", Err: services.Wrap(services.ErrNotFound, "segments", "begin", "segment x", nil)}},
	})
	if len(resp.Started) != 1 || resp.Joined == nil || len(resp.Joined) != 0 {
		t.Fatalf("unexpected started/joined: %+v", resp)
	}
	if len(resp.Skipped) != 1 || resp.Skipped[0].Kind != "not_found" {
		t.Fatalf("unexpected skipped: %+v", resp.Skipped)
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{services.ErrNotFound, http.StatusNotFound},
		{services.Wrap(services.ErrValidation, "api", "decode", "bad body", nil), http.StatusBadRequest},
		{services.Wrap(services.ErrOrderConflict, "segments", "reorder", "dup", nil), http.StatusConflict},
		{services.ErrGenerationFailed, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := api.StatusCode(tt.err); got != tt.want {
			t.Fatalf("StatusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestUpdateSegmentRequestValidate(t *testing.T) {
	if err := (api.UpdateSegmentRequest{}).Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for empty update, got %v", err)
	}
	bad := -1.0
	if err := (api.UpdateSegmentRequest{Duration: &bad}).Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for negative duration, got %v", err)
	}
	text := "New text."
	if err := (api.UpdateSegmentRequest{Text: &text}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
