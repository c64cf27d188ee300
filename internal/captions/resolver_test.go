package captions_test

import (
	"testing"

	"narrasync/internal/captions"
	"narrasync/internal/segments"
)

func timeline() []segments.Segment {
	return []segments.Segment{
		{
			ID: "intro", Order: 0, Text: "Welcome", StartTime: 0, Duration: 2,
			Voice: segments.VoiceAsset{Status: segments.VoiceReady, WordTimings: []segments.WordTiming{{Word: "Welcome", Start: 0, End: 800}}},
		},
		{
			ID: "hi", Order: 1, Text: "Hi", StartTime: 2, Duration: 1,
			Voice: segments.VoiceAsset{Status: segments.VoiceReady, WordTimings: []segments.WordTiming{{Word: "Hi", Start: 0, End: 500}}},
		},
		{ID: "plain", Order: 2, Text: "No timings yet", StartTime: 4, Duration: 3},
	}
}

func TestResolveHighlightsRelativeToSegmentStart(t *testing.T) {
	resolver := captions.NewResolver()
	segs := timeline()

	frame := resolver.Resolve(2300, segs)
	if frame.SegmentID != "hi" {
		t.Fatalf("expected segment hi, got %q", frame.SegmentID)
	}
	if len(frame.Words) != 1 || frame.Words[0].State != captions.WordActive {
		t.Fatalf("expected Hi active, got %+v", frame.Words)
	}

	frame = resolver.Resolve(2600, segs)
	if frame.SegmentID != "hi" || frame.Words[0].State != captions.WordAppeared {
		t.Fatalf("expected Hi appeared, got %+v", frame)
	}
}

func TestResolveWordBoundaries(t *testing.T) {
	words := []segments.WordTiming{
		{Word: "one", Start: 0, End: 100},
		{Word: "two", Start: 100, End: 200},
		{Word: "three", Start: 200, End: 300},
	}
	got := captions.Classify(100, words)
	want := []captions.WordState{captions.WordAppeared, captions.WordActive, captions.WordUpcoming}
	for i := range want {
		if got[i].State != want[i] {
			t.Fatalf("word %d: expected %s, got %s", i, want[i], got[i].State)
		}
	}
}

func TestResolveGapsReturnNoCaption(t *testing.T) {
	resolver := captions.NewResolver()
	segs := timeline()
	for _, ms := range []int64{-5, 3000, 3500, 7000, 90000} {
		if frame := resolver.Resolve(ms, segs); frame.Active() {
			t.Fatalf("t=%d: expected no caption, got %+v", ms, frame)
		}
		if frame := captions.Resolve(ms, segs); frame.Active() {
			t.Fatalf("t=%d: stateless resolve returned %+v", ms, frame)
		}
	}
	if frame := resolver.Resolve(100, nil); frame.Active() {
		t.Fatal("expected no caption for empty timeline")
	}
}

func TestResolveFallsBackToPlainText(t *testing.T) {
	frame := captions.Resolve(5000, timeline())
	if frame.SegmentID != "plain" || !frame.Plain || frame.Text != "No timings yet" {
		t.Fatalf("expected plain caption, got %+v", frame)
	}
	if len(frame.Words) != 0 {
		t.Fatalf("expected no words, got %+v", frame.Words)
	}
}

func TestResolveSkipsInvalidWords(t *testing.T) {
	segs := []segments.Segment{{
		ID: "x", Text: "good bad", Duration: 2,
		Voice: segments.VoiceAsset{Status: segments.VoiceReady, WordTimings: []segments.WordTiming{
			{Word: "good", Start: 0, End: 400},
			{Word: "bad", Start: 900, End: 500},
		}},
	}}
	frame := captions.Resolve(450, segs)
	if len(frame.Words) != 1 || frame.Words[0].Text != "good" {
		t.Fatalf("expected only the valid word, got %+v", frame.Words)
	}
}

func TestResolveOverlapTakesFirstInOrder(t *testing.T) {
	segs := []segments.Segment{
		{ID: "first", Text: "a", StartTime: 0, Duration: 5},
		{ID: "second", Text: "b", StartTime: 2, Duration: 5},
	}
	resolver := captions.NewResolver()
	if frame := resolver.Resolve(3000, segs); frame.SegmentID != "first" {
		t.Fatalf("expected first, got %q", frame.SegmentID)
	}
	if frame := resolver.Resolve(6000, segs); frame.SegmentID != "second" {
		t.Fatalf("expected second, got %q", frame.SegmentID)
	}
	if frame := resolver.Resolve(3000, segs); frame.SegmentID != "first" {
		t.Fatalf("expected first after moving back, got %q", frame.SegmentID)
	}
}

func TestResolverAgreesWithFullScanAcrossSeeks(t *testing.T) {
	segs := timeline()
	resolver := captions.NewResolver()
	sequence := []int64{0, 500, 1999, 2000, 2999, 3000, 4000, 6999, 100, 5000, 2100, 0}
	for _, ms := range sequence {
		if ms == 100 || ms == 2100 {
			resolver.Seek()
		}
		cached := resolver.Resolve(ms, segs)
		scanned := captions.Resolve(ms, segs)
		if cached.SegmentID != scanned.SegmentID {
			t.Fatalf("t=%d: cached %q, scan %q", ms, cached.SegmentID, scanned.SegmentID)
		}
	}
}

func TestResolverNoticesChangedWindowsWithoutSeek(t *testing.T) {
	resolver := captions.NewResolver()
	segs := timeline()
	if frame := resolver.Resolve(2300, segs); frame.SegmentID != "hi" {
		t.Fatalf("expected hi, got %q", frame.SegmentID)
	}

	// Same segment count, but intro now runs into hi's window.
	segs[0].Duration = 3.5
	frame := resolver.Resolve(2300, segs)
	if frame.SegmentID != "intro" {
		t.Fatalf("expected first match intro after windows changed, got %q", frame.SegmentID)
	}
	if want := captions.Resolve(2300, segs); frame.SegmentID != want.SegmentID {
		t.Fatalf("cached resolver %q disagrees with full scan %q", frame.SegmentID, want.SegmentID)
	}
}

func TestFrameTimeTruncates(t *testing.T) {
	cases := []struct {
		frame int64
		fps   float64
		want  int64
	}{
		{frame: 0, fps: 30, want: 0},
		{frame: 1, fps: 30, want: 33},
		{frame: 2, fps: 30, want: 66},
		{frame: 69, fps: 30, want: 2300},
		{frame: 1, fps: 29.97, want: 33},
	}
	for _, tc := range cases {
		got, ok := captions.FrameTimeMs(tc.frame, tc.fps)
		if !ok || got != tc.want {
			t.Fatalf("frame %d @ %v fps: expected %d, got %d (ok=%v)", tc.frame, tc.fps, tc.want, got, ok)
		}
	}
	if _, ok := captions.FrameTimeMs(10, 0); ok {
		t.Fatal("expected zero fps to be rejected")
	}
	frame := captions.NewResolver().ResolveFrame(69, 30, timeline())
	if frame.SegmentID != "hi" || frame.Words[0].State != captions.WordActive {
		t.Fatalf("unexpected frame %+v", frame)
	}
}
