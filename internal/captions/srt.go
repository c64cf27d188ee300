package captions

import (
	"bufio"
	"fmt"
	"io"

	"narrasync/internal/segments"
)

// Cue is one SubRip entry on the absolute timeline.
type Cue struct {
	Index   int
	StartMs int64
	EndMs   int64
	Text    string
}

// Cues places every caption chunk on the timeline, offsetting it by its
// segment's stored start and clamping it to the segment window. Chunks that
// end up empty are dropped.
func Cues(segs []segments.Segment, maxWords int) []Cue {
	projection := Project(segs, maxWords)
	var out []Cue
	for i, entry := range projection {
		seg := segs[i]
		start, end := seg.StartMs(), seg.EndMs()
		for _, chunk := range entry.CaptionChunks {
			cue := Cue{
				StartMs: min(start+chunk.StartMs, end),
				EndMs:   min(start+chunk.EndMs, end),
				Text:    chunk.Text,
			}
			if cue.EndMs <= cue.StartMs || cue.Text == "" {
				continue
			}
			cue.Index = len(out) + 1
			out = append(out, cue)
		}
	}
	return out
}

// WriteSRT encodes cues in SubRip format.
func WriteSRT(w io.Writer, cues []Cue) error {
	bw := bufio.NewWriter(w)
	for i, cue := range cues {
		if i > 0 {
			bw.WriteString("\n")
		}
		fmt.Fprintf(bw, "%d\n", cue.Index)
		fmt.Fprintf(bw, "%s --> %s\n", FormatSRTTimestamp(cue.StartMs), FormatSRTTimestamp(cue.EndMs))
		bw.WriteString(cue.Text)
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// FormatSRTTimestamp renders ms as HH:MM:SS,mmm. Negative values clamp to zero.
func FormatSRTTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	ms -= hours * 3_600_000
	minutes := ms / 60_000
	ms -= minutes * 60_000
	secs := ms / 1000
	millis := ms - secs*1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, secs, millis)
}
