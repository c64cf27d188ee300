package captions

import (
	"math"

	"narrasync/internal/segments"
)

// WordState classifies a word at a point in playback.
type WordState string

const (
	WordUpcoming WordState = "upcoming"
	WordActive   WordState = "active"
	WordAppeared WordState = "appeared"
)

// Word is one highlighted word of the active caption.
type Word struct {
	Text  string    `json:"word"`
	Start int64     `json:"start"`
	End   int64     `json:"end"`
	State WordState `json:"state"`
}

// Frame is the caption state for one rendered frame.
type Frame struct {
	// SegmentID is empty when no segment covers the current time.
	SegmentID string `json:"active_segment_id,omitempty"`
	Text      string `json:"text,omitempty"`
	// Plain is set when the segment has no word timings and the full text is
	// shown unstyled.
	Plain bool                   `json:"plain,omitempty"`
	Words []Word                 `json:"words,omitempty"`
	Style *segments.CaptionStyle `json:"style,omitempty"`
}

// Active reports whether a caption is visible.
func (f Frame) Active() bool {
	return f.SegmentID != ""
}

// Resolver maps playback time to caption frames. It remembers the last
// active segment index and probes around it, which keeps monotonic playback
// cheap. The cache is keyed on the layout of the segment windows, so a
// changed list falls back to a full scan; callers still call Seek after a
// playback seek or a mutation.
//
// A Resolver is not safe for concurrent use.
type Resolver struct {
	last     int
	cached   bool
	layout   uint64
	disjoint bool
}

// NewResolver returns a Resolver with an empty cache.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Seek invalidates the cached index.
func (r *Resolver) Seek() {
	r.cached = false
}

// Resolve returns the caption frame for currentTimeMs. It never panics;
// malformed input degrades to no caption or a plain text caption.
func (r *Resolver) Resolve(currentTimeMs int64, segs []segments.Segment) Frame {
	if len(segs) == 0 || currentTimeMs < 0 {
		return Frame{}
	}
	if key := layoutKey(segs); !r.cached || r.layout != key {
		r.layout = key
		r.disjoint = disjoint(segs)
		r.cached = true
		r.last = 0
	}
	var idx int
	if r.disjoint {
		idx = r.probe(currentTimeMs, segs)
	} else {
		idx = firstMatch(currentTimeMs, segs)
	}
	if idx < 0 {
		return Frame{}
	}
	r.last = idx
	return buildFrame(currentTimeMs, segs[idx])
}

// ResolveFrame converts a host frame index to milliseconds and resolves it.
func (r *Resolver) ResolveFrame(frame int64, fps float64, segs []segments.Segment) Frame {
	ms, ok := FrameTimeMs(frame, fps)
	if !ok {
		return Frame{}
	}
	return r.Resolve(ms, segs)
}

// Resolve is the stateless form: a full scan in order taking the first
// segment whose window contains currentTimeMs.
func Resolve(currentTimeMs int64, segs []segments.Segment) Frame {
	if currentTimeMs < 0 {
		return Frame{}
	}
	idx := firstMatch(currentTimeMs, segs)
	if idx < 0 {
		return Frame{}
	}
	return buildFrame(currentTimeMs, segs[idx])
}

// FrameTimeMs returns frame*1000/fps truncated toward zero, so a highlight
// never starts a frame early. ok is false for a negative frame or a
// non-positive fps.
func FrameTimeMs(frame int64, fps float64) (int64, bool) {
	if frame < 0 || fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0, false
	}
	return int64(math.Trunc(float64(frame) * 1000 / fps)), true
}

// probe walks outward from the cached index. Only used when windows are
// sorted and disjoint, where the first match is the only match.
func (r *Resolver) probe(t int64, segs []segments.Segment) int {
	start := r.last
	if start >= len(segs) {
		start = len(segs) - 1
	}
	if contains(segs[start], t) {
		return start
	}
	if t >= segs[start].EndMs() {
		for i := start + 1; i < len(segs); i++ {
			if contains(segs[i], t) {
				return i
			}
			if segs[i].StartMs() > t {
				return -1
			}
		}
		return -1
	}
	for i := start - 1; i >= 0; i-- {
		if contains(segs[i], t) {
			return i
		}
		if segs[i].EndMs() <= t {
			return -1
		}
	}
	return -1
}

func firstMatch(t int64, segs []segments.Segment) int {
	for i := range segs {
		if contains(segs[i], t) {
			return i
		}
	}
	return -1
}

func contains(seg segments.Segment, t int64) bool {
	return seg.StartMs() <= t && t < seg.EndMs()
}

// disjoint reports whether windows are in ascending order without overlap.
func disjoint(segs []segments.Segment) bool {
	for i := 1; i < len(segs); i++ {
		if segs[i].StartMs() < segs[i-1].EndMs() {
			return false
		}
	}
	return true
}

// layoutKey fingerprints segment count and windows (FNV-1a over the
// millisecond bounds).
func layoutKey(segs []segments.Segment) uint64 {
	const prime = 1099511628211
	h := uint64(14695981039346656037)
	mix := func(v int64) {
		h ^= uint64(v)
		h *= prime
	}
	mix(int64(len(segs)))
	for i := range segs {
		mix(segs[i].StartMs())
		mix(segs[i].EndMs())
	}
	return h
}

func buildFrame(t int64, seg segments.Segment) Frame {
	frame := Frame{
		SegmentID: seg.ID,
		Text:      seg.Text,
		Style:     seg.CaptionStyle,
	}
	if !seg.Voice.HasTimings() {
		frame.Plain = true
		return frame
	}
	frame.Words = Classify(t-seg.StartMs(), seg.Voice.WordTimings)
	if len(frame.Words) == 0 {
		frame.Plain = true
	}
	return frame
}

// Classify tags each valid word relative to the segment-relative time rel.
// Words violating start <= end are skipped.
func Classify(rel int64, timings []segments.WordTiming) []Word {
	words := make([]Word, 0, len(timings))
	for _, w := range timings {
		if !w.Valid() {
			continue
		}
		words = append(words, Word{Text: w.Word, Start: w.Start, End: w.End, State: stateAt(rel, w)})
	}
	return words
}

func stateAt(rel int64, w segments.WordTiming) WordState {
	switch {
	case rel >= w.End:
		return WordAppeared
	case rel >= w.Start:
		return WordActive
	default:
		return WordUpcoming
	}
}
