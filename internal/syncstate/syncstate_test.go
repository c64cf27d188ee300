package syncstate_test

import (
	"errors"
	"testing"

	"narrasync/internal/segments"
	"narrasync/internal/syncstate"
	"narrasync/internal/timing"
)

func readyStore(t *testing.T, texts ...string) *segments.Store {
	t.Helper()
	store := segments.NewStore(timing.NewEstimator(0))
	for _, text := range texts {
		seg := store.Append(text)
		if err := store.MarkGenerating(seg.ID, "r-"+seg.ID); err != nil {
			t.Fatalf("MarkGenerating: %v", err)
		}
		if _, err := store.CompleteVoice(seg.ID, "r-"+seg.ID, segments.GeneratedVoice{
			WordTimings: []segments.WordTiming{{Word: text, Start: 0, End: 1000}},
			DurationMs:  2000,
		}); err != nil {
			t.Fatalf("CompleteVoice: %v", err)
		}
	}
	store.Ripple()
	return store
}

func TestDerivePriority(t *testing.T) {
	store := readyStore(t, "one", "two", "three")
	if got := syncstate.Derive(store.Segments()); got != syncstate.StatusSynced {
		t.Fatalf("expected synced, got %s", got)
	}

	segs := store.Segments()
	if _, err := store.EditText(segs[0].ID, "edited"); err != nil {
		t.Fatalf("EditText: %v", err)
	}
	if got := syncstate.Derive(store.Segments()); got != syncstate.StatusOutOfSync {
		t.Fatalf("expected out_of_sync after edit, got %s", got)
	}

	if err := store.MarkGenerating(segs[1].ID, "again"); err != nil {
		t.Fatalf("MarkGenerating: %v", err)
	}
	if got := syncstate.Derive(store.Segments()); got != syncstate.StatusRegenerating {
		t.Fatalf("expected regenerating, got %s", got)
	}
}

func TestFailedRegenerationIsOutOfSync(t *testing.T) {
	store := segments.NewStore(timing.NewEstimator(0))
	seg := store.Append("hello world")
	_ = store.MarkGenerating(seg.ID, "r")
	store.FailVoice(seg.ID, "r", errors.New("boom"))

	segs := store.Segments()
	if got := syncstate.Derive(segs); got != syncstate.StatusOutOfSync {
		t.Fatalf("expected out_of_sync, got %s", got)
	}
	needing := syncstate.SegmentsNeedingVoice(segs)
	if len(needing) != 1 || needing[0] != seg.ID {
		t.Fatalf("expected %s needing voice, got %v", seg.ID, needing)
	}
}

func TestNeedingVoiceMatchesStoreCache(t *testing.T) {
	store := readyStore(t, "a", "b", "c")
	segs := store.Segments()
	_, _ = store.EditText(segs[2].ID, "c changed")
	store.Append("d")

	derived := syncstate.SegmentsNeedingVoice(store.Segments())
	cached := store.SegmentsNeedingVoice()
	if len(derived) != len(cached) {
		t.Fatalf("derived %v != cached %v", derived, cached)
	}
	for i := range derived {
		if derived[i] != cached[i] {
			t.Fatalf("derived %v != cached %v", derived, cached)
		}
	}
}

func TestSummarizeCounts(t *testing.T) {
	store := readyStore(t, "a", "b")
	segs := store.Segments()
	_, _ = store.EditText(segs[0].ID, "a changed")
	store.Append("c")

	summary := syncstate.Summarize(store.Segments())
	if summary.Total != 3 || summary.Ready != 1 || summary.Pending != 2 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if summary.Status != syncstate.StatusOutOfSync || len(summary.NeedingVoice) != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestDetectDriftFlagsUnrippledCorrection(t *testing.T) {
	store := readyStore(t, "a", "b", "c")
	segs := store.Segments()
	if err := store.SetDuration(segs[0].ID, 3.2); err != nil {
		t.Fatalf("SetDuration: %v", err)
	}

	report := syncstate.DetectDrift(store.Segments(), 500)
	if !report.NeedsResync() {
		t.Fatal("expected drift to be detected")
	}
	if len(report.Drifted) != 2 || report.Drifted[0].SegmentID != segs[1].ID {
		t.Fatalf("unexpected drift report %+v", report)
	}
	if report.Drifted[0].ExpectedMs != 3200 || report.Drifted[0].ActualMs != 2000 {
		t.Fatalf("unexpected offsets %+v", report.Drifted[0])
	}

	store.Ripple()
	if report := syncstate.DetectDrift(store.Segments(), 500); report.NeedsResync() {
		t.Fatalf("expected no drift after ripple, got %+v", report)
	}
}

func TestDetectDriftHonoursThreshold(t *testing.T) {
	store := readyStore(t, "a", "b")
	segs := store.Segments()
	_ = store.SetDuration(segs[0].ID, 2.4)
	if report := syncstate.DetectDrift(store.Segments(), 500); report.NeedsResync() {
		t.Fatalf("400ms drift should be tolerated, got %+v", report)
	}
	if report := syncstate.DetectDrift(store.Segments(), 100); !report.NeedsResync() {
		t.Fatal("400ms drift should exceed a 100ms threshold")
	}
}
