package captions

import (
	"strings"

	"narrasync/internal/segments"
)

// DefaultMaxWordsPerChunk is the chunk size used when none is configured.
const DefaultMaxWordsPerChunk = 4

// Window is a segment's absolute playback interval.
type Window struct {
	SegmentID string `json:"segment_id"`
	StartMs   int64  `json:"start_ms"`
	EndMs     int64  `json:"end_ms"`
}

// Windows lists every segment's window in order.
func Windows(segs []segments.Segment) []Window {
	out := make([]Window, 0, len(segs))
	for _, seg := range segs {
		out = append(out, Window{SegmentID: seg.ID, StartMs: seg.StartMs(), EndMs: seg.EndMs()})
	}
	return out
}

// Chunk is a short run of words displayed together.
type Chunk struct {
	Text    string `json:"text"`
	StartMs int64  `json:"start_ms"`
	EndMs   int64  `json:"end_ms"`
	// Estimated is set when the chunk times are spread over the segment
	// duration because no word timings exist.
	Estimated bool `json:"estimated,omitempty"`
}

// Chunks groups valid word timings into runs of at most maxWords. Times are
// segment-relative.
func Chunks(words []segments.WordTiming, maxWords int) []Chunk {
	if maxWords <= 0 {
		maxWords = DefaultMaxWordsPerChunk
	}
	valid := make([]segments.WordTiming, 0, len(words))
	for _, w := range words {
		if w.Valid() {
			valid = append(valid, w)
		}
	}
	var out []Chunk
	for i := 0; i < len(valid); i += maxWords {
		end := min(i+maxWords, len(valid))
		group := valid[i:end]
		texts := make([]string, len(group))
		chunk := Chunk{StartMs: group[0].Start, EndMs: group[0].End}
		for j, w := range group {
			texts[j] = w.Word
			chunk.EndMs = max(chunk.EndMs, w.End)
		}
		chunk.Text = strings.Join(texts, " ")
		out = append(out, chunk)
	}
	return out
}

// EstimatedChunks splits plain text into runs of at most maxWords spread
// evenly across durationMs.
func EstimatedChunks(text string, durationMs int64, maxWords int) []Chunk {
	if maxWords <= 0 {
		maxWords = DefaultMaxWordsPerChunk
	}
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	var out []Chunk
	total := int64(len(fields))
	for i := 0; i < len(fields); i += maxWords {
		end := min(i+maxWords, len(fields))
		out = append(out, Chunk{
			Text:      strings.Join(fields[i:end], " "),
			StartMs:   durationMs * int64(i) / total,
			EndMs:     durationMs * int64(end) / total,
			Estimated: true,
		})
	}
	return out
}

// SegmentCaptions is the caption projection of one segment.
type SegmentCaptions struct {
	SegmentID     string                `json:"segment_id"`
	CaptionChunks []Chunk               `json:"caption_chunks"`
	WordTimings   []segments.WordTiming `json:"word_timings"`
}

// Project builds the caption projection for every segment in order.
// Segments without timings get estimated chunks and an empty timing list.
func Project(segs []segments.Segment, maxWords int) []SegmentCaptions {
	out := make([]SegmentCaptions, 0, len(segs))
	for _, seg := range segs {
		entry := SegmentCaptions{SegmentID: seg.ID, WordTimings: []segments.WordTiming{}}
		if seg.Voice.HasTimings() {
			entry.CaptionChunks = Chunks(seg.Voice.WordTimings, maxWords)
			for _, w := range seg.Voice.WordTimings {
				if w.Valid() {
					entry.WordTimings = append(entry.WordTimings, w)
				}
			}
		}
		if len(entry.CaptionChunks) == 0 {
			entry.CaptionChunks = EstimatedChunks(seg.Text, seg.DurationMs(), maxWords)
		}
		if entry.CaptionChunks == nil {
			entry.CaptionChunks = []Chunk{}
		}
		out = append(out, entry)
	}
	return out
}
