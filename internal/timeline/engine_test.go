package timeline_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"narrasync/internal/captions"
	"narrasync/internal/regen"
	"narrasync/internal/script"
	"narrasync/internal/segments"
	"narrasync/internal/services"
	"narrasync/internal/syncstate"
	"narrasync/internal/testsupport"
	"narrasync/internal/timeline"
)

func newManager(t *testing.T, gen *testsupport.FakeGenerator) *timeline.Manager {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	mgr := timeline.NewManager(context.Background(), cfg, store, gen, nil)
	t.Cleanup(mgr.Close)
	return mgr
}

func breakdown(texts ...string) *script.Breakdown {
	b := &script.Breakdown{Title: "Demo"}
	for _, text := range texts {
		b.Segments = append(b.Segments, script.Entry{Text: text})
	}
	return b
}

func waitIdle(t *testing.T, engine *timeline.Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := engine.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
}

func TestRegenerateAllSyncsAndRipples(t *testing.T) {
	gen := testsupport.NewFakeGenerator()
	mgr := newManager(t, gen)
	ctx := context.Background()

	engine, err := mgr.Create(ctx, "", breakdown("Hello world.", "Second line here."))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := engine.SyncStatus(); got != syncstate.StatusOutOfSync {
		t.Fatalf("expected out_of_sync before generation, got %s", got)
	}
	if got := len(engine.SegmentsNeedingVoice()); got != 2 {
		t.Fatalf("expected 2 segments needing voice, got %d", got)
	}

	result, err := engine.Regenerate(ctx)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(result.Started) != 2 {
		t.Fatalf("expected 2 started requests, got %v", result.Started)
	}
	waitIdle(t, engine)

	if got := engine.SyncStatus(); got != syncstate.StatusSynced {
		t.Fatalf("expected synced, got %s", got)
	}
	segs := engine.Segments()
	if segs[0].Duration != 0.8 {
		t.Fatalf("expected authoritative duration 0.8s, got %v", segs[0].Duration)
	}
	if segs[1].StartTime != segs[0].Duration {
		t.Fatalf("expected second start %v after ripple, got %v", segs[0].Duration, segs[1].StartTime)
	}
	if engine.Drift().NeedsResync() {
		t.Fatalf("expected no drift after completion ripple")
	}
}

func TestEditAfterGenerationIsOutOfSync(t *testing.T) {
	gen := testsupport.NewFakeGenerator()
	mgr := newManager(t, gen)
	ctx := context.Background()

	engine, err := mgr.Create(ctx, "Edit", breakdown("One two three."))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Regenerate(ctx); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	waitIdle(t, engine)
	id := engine.Segments()[0].ID

	changed, err := engine.EditText(ctx, id, "One two four.")
	if err != nil || !changed {
		t.Fatalf("edit: changed=%v err=%v", changed, err)
	}
	if got := engine.SyncStatus(); got != syncstate.StatusOutOfSync {
		t.Fatalf("expected out_of_sync after edit, got %s", got)
	}
	needing := engine.SegmentsNeedingVoice()
	if len(needing) != 1 || needing[0] != id {
		t.Fatalf("expected %s needing voice, got %v", id, needing)
	}
	if seg := engine.Segments()[0]; !seg.Voice.HasTimings() {
		t.Fatalf("expected prior timings kept for playback after edit")
	}

	changed, err = engine.EditText(ctx, id, "  One two four.  ")
	if err != nil {
		t.Fatalf("edit no-op: %v", err)
	}
	if changed {
		t.Fatalf("expected whitespace-only edit to be a no-op")
	}
}

func TestFailedRegenerationIsOutOfSync(t *testing.T) {
	gen := testsupport.NewFakeGenerator()
	gen.FailOn("Broken line.", errors.New("voice backend down"))
	mgr := newManager(t, gen)
	ctx := context.Background()

	engine, err := mgr.Create(ctx, "Fail", breakdown("Broken line."))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := engine.Segments()[0].ID

	result, err := engine.Regenerate(ctx, id)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	outcomes, err := result.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(outcomes) != 1 || !errors.Is(outcomes[0].Err, services.ErrGenerationFailed) {
		t.Fatalf("expected generation failure outcome, got %+v", outcomes)
	}

	seg := engine.Segments()[0]
	if seg.Voice.Status != segments.VoiceFailed {
		t.Fatalf("expected failed status, got %s", seg.Voice.Status)
	}
	if got := engine.SyncStatus(); got != syncstate.StatusOutOfSync {
		t.Fatalf("expected out_of_sync, got %s", got)
	}
	needing := engine.SegmentsNeedingVoice()
	if len(needing) != 1 || needing[0] != id {
		t.Fatalf("expected failed segment to still need voice, got %v", needing)
	}
}

func TestRegeneratingWhileHeld(t *testing.T) {
	gen := testsupport.NewFakeGenerator()
	gen.Hold()
	mgr := newManager(t, gen)
	ctx := context.Background()

	engine, err := mgr.Create(ctx, "Held", breakdown("Wait for it."))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Regenerate(ctx); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if got := engine.SyncStatus(); got != syncstate.StatusRegenerating {
		t.Fatalf("expected regenerating, got %s", got)
	}
	second, err := engine.Regenerate(ctx)
	if err != nil {
		t.Fatalf("second regenerate: %v", err)
	}
	if len(second.Started) != 0 {
		t.Fatalf("expected no new request while generating, got %v", second.Started)
	}
	if status := engine.Status(); len(status.InFlight) != 1 {
		t.Fatalf("expected 1 in-flight request, got %v", status.InFlight)
	}

	gen.Release()
	waitIdle(t, engine)
	if calls := gen.Calls("Wait for it."); calls != 1 {
		t.Fatalf("expected exactly one generator call, got %d", calls)
	}
}

func resolveFixture() timeline.Snapshot {
	return timeline.Snapshot{
		Title: "Resolve",
		Segments: []segments.Segment{
			{
				ID: "intro", Order: 0, Text: "Welcome back everyone.", Duration: 2, StartTime: 0,
				Voice: segments.VoiceAsset{
					Status:      segments.VoiceReady,
					WordTimings: []segments.WordTiming{{Word: "Welcome", Start: 0, End: 600}},
					TextHash:    segments.TextFingerprint("Welcome back everyone."),
				},
			},
			{
				ID: "hi", Order: 1, Text: "Hi", Duration: 1, StartTime: 2,
				Voice: segments.VoiceAsset{
					Status:      segments.VoiceReady,
					WordTimings: []segments.WordTiming{{Word: "Hi", Start: 0, End: 500}},
					TextHash:    segments.TextFingerprint("Hi"),
				},
			},
		},
	}
}

func TestResolveWordStates(t *testing.T) {
	engine := timeline.New(context.Background(), "p1", "Resolve", testsupport.NewFakeGenerator())
	t.Cleanup(engine.Close)
	if err := engine.Restore(resolveFixture()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	tests := []struct {
		name    string
		ms      int64
		segment string
		state   captions.WordState
	}{
		{name: "active", ms: 2300, segment: "hi", state: captions.WordActive},
		{name: "appeared", ms: 2600, segment: "hi", state: captions.WordAppeared},
		{name: "first segment", ms: 100, segment: "intro", state: captions.WordActive},
		{name: "past end", ms: 3500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := engine.Resolve(tt.ms)
			if frame.SegmentID != tt.segment {
				t.Fatalf("expected segment %q, got %q", tt.segment, frame.SegmentID)
			}
			if tt.segment == "" {
				if frame.Active() {
					t.Fatalf("expected no active caption")
				}
				return
			}
			if len(frame.Words) != 1 || frame.Words[0].State != tt.state {
				t.Fatalf("expected single word in state %s, got %+v", tt.state, frame.Words)
			}
		})
	}

	frame := engine.ResolveFrame(69, 30)
	if frame.SegmentID != "hi" || frame.Words[0].State != captions.WordActive {
		t.Fatalf("frame 69 at 30fps: got %+v", frame)
	}
}

func TestAdvanceStopsAtEnd(t *testing.T) {
	engine := timeline.New(context.Background(), "p1", "Playback", testsupport.NewFakeGenerator())
	t.Cleanup(engine.Close)
	if err := engine.Restore(resolveFixture()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	engine.Seek(2.2)
	engine.Play()
	frame := engine.Advance(100 * time.Millisecond)
	if frame.SegmentID != "hi" || frame.Words[0].State != captions.WordActive {
		t.Fatalf("expected hi active at 2.3s, got %+v", frame)
	}
	engine.Advance(5 * time.Second)
	if engine.Playing() {
		t.Fatalf("expected playback to stop at the end")
	}
	if got := engine.CurrentTime(); got != 3 {
		t.Fatalf("expected clock clamped to 3s, got %v", got)
	}

	engine.Pause()
	engine.Seek(0)
	if frame := engine.Advance(time.Second); frame.SegmentID != "intro" {
		t.Fatalf("expected paused clock to stay on intro, got %q", frame.SegmentID)
	}
}

func TestDriftAndResync(t *testing.T) {
	engine := timeline.New(context.Background(), "p1", "Drift", testsupport.NewFakeGenerator())
	t.Cleanup(engine.Close)
	if err := engine.Restore(resolveFixture()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	ctx := context.Background()

	if err := engine.CorrectDuration(ctx, "intro", 3.5); err != nil {
		t.Fatalf("correct duration: %v", err)
	}
	report := engine.Drift()
	if !report.NeedsResync() || report.Drifted[0].SegmentID != "hi" {
		t.Fatalf("expected hi to drift, got %+v", report)
	}
	if report.Drifted[0].DeltaMs() != -1500 {
		t.Fatalf("expected -1500ms delta, got %d", report.Drifted[0].DeltaMs())
	}

	corrected, err := engine.Resync(ctx)
	if err != nil {
		t.Fatalf("resync: %v", err)
	}
	if !corrected.NeedsResync() {
		t.Fatalf("expected resync to report the corrected drift")
	}
	if engine.Drift().NeedsResync() {
		t.Fatalf("expected no drift after resync")
	}
	if got := engine.Segments()[1].StartTime; got != 3.5 {
		t.Fatalf("expected rippled start 3.5, got %v", got)
	}
}

func TestCorrectDurationOverlapResolvesFirstInOrder(t *testing.T) {
	engine := timeline.New(context.Background(), "p1", "Overlap", testsupport.NewFakeGenerator())
	t.Cleanup(engine.Close)
	if err := engine.Restore(resolveFixture()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	ctx := context.Background()

	if frame := engine.Resolve(2600); frame.SegmentID != "hi" {
		t.Fatalf("expected hi before correction, got %q", frame.SegmentID)
	}
	if err := engine.CorrectDuration(ctx, "intro", 3.5); err != nil {
		t.Fatalf("correct duration: %v", err)
	}
	frame := engine.Resolve(2600)
	if frame.SegmentID != "intro" {
		t.Fatalf("expected intro to win the overlap, got %q", frame.SegmentID)
	}
	if want := captions.Resolve(2600, engine.Segments()); want.SegmentID != frame.SegmentID {
		t.Fatalf("engine resolved %q, full scan %q", frame.SegmentID, want.SegmentID)
	}
}

func TestRegenerateAfterEditDuringGeneration(t *testing.T) {
	gen := testsupport.NewFakeGenerator()
	gen.Hold()
	mgr := newManager(t, gen)
	ctx := context.Background()

	engine, err := mgr.Create(ctx, "Rewrite", breakdown("First draft."))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Regenerate(ctx); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	id := engine.Segments()[0].ID
	if _, err := engine.EditText(ctx, id, "Final wording."); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := engine.SyncStatus(); got != syncstate.StatusOutOfSync {
		t.Fatalf("expected out_of_sync after edit, got %s", got)
	}

	result, err := engine.Regenerate(ctx, id)
	if err != nil {
		t.Fatalf("regenerate after edit: %v", err)
	}
	if len(result.Started) != 1 || len(result.Joined) != 0 {
		t.Fatalf("expected a new request for the edited text, got %+v", result)
	}
	if status := engine.Status(); len(status.InFlight) != 1 {
		t.Fatalf("expected exactly one live request, got %v", status.InFlight)
	}

	gen.Release()
	waitIdle(t, engine)
	if got := engine.SyncStatus(); got != syncstate.StatusSynced {
		t.Fatalf("expected synced, got %s", got)
	}
	if calls := gen.Calls("Final wording."); calls != 1 {
		t.Fatalf("expected one request for the edited text, got %d", calls)
	}
	seg, _ := engine.Segment(id)
	if seg.Voice.Status != segments.VoiceReady || seg.NeedsVoice() {
		t.Fatalf("expected ready voice, got %+v", seg.Voice)
	}
}

func TestZeroThresholdFromSnapshotSettings(t *testing.T) {
	engine := timeline.New(context.Background(), "p1", "Strict", testsupport.NewFakeGenerator(),
		timeline.WithManualResync())
	t.Cleanup(engine.Close)
	snap := resolveFixture()
	snap.Timeline.Settings.ResyncThresholdMs = timeline.Threshold(0)
	if err := engine.Restore(snap); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := engine.Settings().ThresholdMs(); got != 0 {
		t.Fatalf("expected zero threshold to survive merge, got %d", got)
	}
	if err := engine.CorrectDuration(context.Background(), "intro", 2.1); err != nil {
		t.Fatalf("correct duration: %v", err)
	}
	report := engine.Drift()
	if !report.NeedsResync() || report.Drifted[0].DeltaMs() != -100 {
		t.Fatalf("expected 100ms drift flagged at zero threshold, got %+v", report)
	}

	unset := timeline.Settings{}.Merge(timeline.Settings{ResyncThresholdMs: timeline.Threshold(750)})
	if got := unset.ThresholdMs(); got != 750 {
		t.Fatalf("expected fallback threshold 750, got %d", got)
	}
}

func TestStructuralEdits(t *testing.T) {
	ids := 0
	engine := timeline.New(context.Background(), "p1", "Edits", testsupport.NewFakeGenerator(),
		timeline.WithSegmentIDs(func() string {
			ids++
			return fmt.Sprintf("seg-%d", ids)
		}),
	)
	t.Cleanup(engine.Close)
	ctx := context.Background()

	if _, err := engine.ImportScript(ctx, *breakdown("First.", "Second.", "Third.")); err != nil {
		t.Fatalf("import: %v", err)
	}
	if _, err := engine.Insert(ctx, -1, "Fourth."); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := engine.Insert(ctx, 9, "Nowhere."); !errors.Is(err, services.ErrOrderConflict) {
		t.Fatalf("expected order conflict, got %v", err)
	}
	if err := engine.Reorder(ctx, []string{"seg-4", "seg-3", "seg-2", "seg-1"}); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if err := engine.Delete(ctx, "seg-3"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := engine.Delete(ctx, "seg-3"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	segs := engine.Segments()
	want := []string{"seg-4", "seg-2", "seg-1"}
	for i, seg := range segs {
		if seg.ID != want[i] || seg.Order != i {
			t.Fatalf("position %d: got id=%s order=%d", i, seg.ID, seg.Order)
		}
	}
	if segs[1].StartTime != segs[0].Duration {
		t.Fatalf("expected start times rippled after structural edits")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	gen := testsupport.NewFakeGenerator()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()

	first := timeline.NewManager(ctx, cfg, store, gen, nil)
	engine, err := first.Create(ctx, "Persisted", breakdown("Alpha beta.", "Gamma delta."))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Regenerate(ctx); err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	waitIdle(t, engine)
	style := &segments.CaptionStyle{ActiveColor: "#ffcc00"}
	id := engine.Segments()[1].ID
	if err := engine.SetCaptionStyle(ctx, id, style); err != nil {
		t.Fatalf("caption style: %v", err)
	}
	before := engine.Segments()
	projectID := engine.ID()
	first.Close()

	second := timeline.NewManager(ctx, cfg, store, gen, nil)
	t.Cleanup(second.Close)
	reloaded, err := second.Open(ctx, projectID)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	after := reloaded.Segments()
	if len(after) != len(before) {
		t.Fatalf("expected %d segments, got %d", len(before), len(after))
	}
	for i := range before {
		if after[i].ID != before[i].ID || after[i].Text != before[i].Text || after[i].Voice.Status != before[i].Voice.Status {
			t.Fatalf("segment %d changed across reload: %+v vs %+v", i, after[i], before[i])
		}
	}
	if after[1].CaptionStyle == nil || after[1].CaptionStyle.ActiveColor != "#ffcc00" {
		t.Fatalf("expected caption style to survive reload, got %+v", after[1].CaptionStyle)
	}
	if reloaded.SyncStatus() != syncstate.StatusSynced {
		t.Fatalf("expected synced after reload, got %s", reloaded.SyncStatus())
	}
	if reloaded.Revision() < 2 {
		t.Fatalf("expected persisted revisions, got %d", reloaded.Revision())
	}

	if _, err := second.Open(ctx, "missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := second.Delete(ctx, projectID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	projects, err := second.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(projects) != 0 {
		t.Fatalf("expected no projects after delete, got %d", len(projects))
	}
}

func TestCaptionsProjection(t *testing.T) {
	engine := timeline.New(context.Background(), "p1", "Captions", testsupport.NewFakeGenerator())
	t.Cleanup(engine.Close)
	if err := engine.Restore(resolveFixture()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	projected := engine.Captions()
	if len(projected) != 2 {
		t.Fatalf("expected 2 caption entries, got %d", len(projected))
	}
	if projected[1].SegmentID != "hi" || len(projected[1].WordTimings) != 1 {
		t.Fatalf("unexpected projection: %+v", projected[1])
	}
	if len(projected[1].CaptionChunks) != 1 || projected[1].CaptionChunks[0].Text != "Hi" {
		t.Fatalf("unexpected chunks: %+v", projected[1].CaptionChunks)
	}
}

func TestManagerHooksSeeEveryOutcome(t *testing.T) {
	gen := testsupport.NewFakeGenerator()
	gen.FailOn("Broken line.", errors.New("provider unavailable"))
	mgr := newManager(t, gen)

	seen := make(chan string, 4)
	mgr.OnRegenerated(func(engine *timeline.Engine, outcome regen.Outcome) {
		seen <- fmt.Sprintf("%s:%s:%s", engine.Title(), outcome.SegmentID, outcome.Status)
	})

	engine, err := mgr.Create(context.Background(), "Hooked", breakdown("Fine line.", "Broken line."))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Regenerate(context.Background()); err != nil {
		t.Fatalf("regenerate: %v", err)
	}

	got := map[string]bool{}
	for range 2 {
		select {
		case entry := <-seen:
			got[entry] = true
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for hook, got %v", got)
		}
	}
	segs := engine.Segments()
	want := []string{
		"Hooked:" + segs[0].ID + ":ready",
		"Hooked:" + segs[1].ID + ":failed",
	}
	for _, entry := range want {
		if !got[entry] {
			t.Fatalf("missing hook entry %q in %v", entry, got)
		}
	}
}
